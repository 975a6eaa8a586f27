package control

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/harun/steerd/pkg/frame"
	"github.com/harun/steerd/pkg/oracle"
	"github.com/harun/steerd/pkg/recorder"
)

type emission struct {
	event string
	data  interface{}
	skip  string
}

type fakeEmitter struct {
	mu       sync.Mutex
	emitted  []emission
	sessions int
	err      error
}

func (f *fakeEmitter) Emit(event string, data interface{}, skip string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitted = append(f.emitted, emission{event: event, data: data, skip: skip})
	n := f.sessions
	if skip != "" && n > 0 {
		n--
	}
	return n, f.err
}

func (f *fakeEmitter) events() []emission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emission(nil), f.emitted...)
}

type fakeSink struct {
	mu      sync.Mutex
	entries []recorder.Entry
	err     error
}

func (f *fakeSink) Record(_ context.Context, e recorder.Entry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.entries = append(f.entries, e)
	return fmt.Sprintf("frame_%d.jpg", len(f.entries)), nil
}

// countingOracle returns a fixed steering angle and counts calls.
type countingOracle struct {
	value float64
	err   error
	calls atomic.Int64
}

func (o *countingOracle) Predict(context.Context, frame.Tensor) (float64, error) {
	o.calls.Add(1)
	return o.value, o.err
}

func encodedFrame(t *testing.T) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 60), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func telemetryPayload(t *testing.T, speed string, image string) json.RawMessage {
	t.Helper()

	raw, err := json.Marshal(map[string]string{
		"steering_angle": "0.05",
		"throttle":       "0.3",
		"speed":          speed,
		"image":          image,
	})
	require.NoError(t, err)
	return raw
}

type harness struct {
	emitter    *fakeEmitter
	sink       *fakeSink
	oracle     *countingOracle
	governors  *GovernorSet
	controller *Controller
}

func newHarness(t *testing.T, o oracle.Oracle) *harness {
	t.Helper()

	pre, err := frame.NewPreprocessor(frame.PreprocessConfig{CropTop: 1, CropBottom: 1, Width: 4, Height: 2, ColorSpace: frame.ColorYUV})
	require.NoError(t, err)
	governors, err := NewGovernorSet(ScopeShared, DefaultMaxSpeed, DefaultMinSpeed)
	require.NoError(t, err)

	h := &harness{
		emitter:   &fakeEmitter{sessions: 2},
		sink:      &fakeSink{},
		governors: governors,
	}
	if o == nil {
		h.oracle = &countingOracle{value: -0.2}
		o = h.oracle
	}

	h.controller, err = NewController(ControllerConfig{
		Preprocessor: pre,
		Oracle:       o,
		Governors:    governors,
		Emitter:      h.emitter,
		Sink:         h.sink,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	return h
}
