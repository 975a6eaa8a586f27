package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/steerd/pkg/frame"
)

const tinyArtifact = `{
  "format": "steerd.dense/v1",
  "input": {"height": 1, "width": 2, "channels": 1, "scale": 1, "offset": 0},
  "layers": [
    {"in": 2, "out": 2, "weights": [1, 0, 0, -1], "bias": [0, 0], "activation": "elu"},
    {"in": 2, "out": 1, "weights": [1, 1], "bias": [0.5], "activation": "linear"}
  ]
}`

func tinyTensor(a, b float64) frame.Tensor {
	return frame.Tensor{Height: 1, Width: 2, Channels: 1, Data: []float64{a, b}}
}

func TestParseDense(t *testing.T) {
	t.Run("evaluates layers", func(t *testing.T) {
		m, err := ParseDense([]byte(tinyArtifact))
		require.NoError(t, err)

		// elu(1) = 1, elu(-2) = e^-2 - 1
		v, err := m.Predict(context.Background(), tinyTensor(1, 2))
		require.NoError(t, err)
		assert.InDelta(t, 1+math.Expm1(-2)+0.5, v, 1e-9)
	})

	t.Run("normalizes input", func(t *testing.T) {
		artifact := strings.Replace(tinyArtifact, `"scale": 1, "offset": 0`, `"scale": 0.5, "offset": -1`, 1)
		m, err := ParseDense([]byte(artifact))
		require.NoError(t, err)

		// (4*0.5-1, 2*0.5-1) = (1, 0)
		v, err := m.Predict(context.Background(), tinyTensor(4, 2))
		require.NoError(t, err)
		assert.InDelta(t, 1.5, v, 1e-9)
	})

	t.Run("rejects shape mismatch", func(t *testing.T) {
		m, err := ParseDense([]byte(tinyArtifact))
		require.NoError(t, err)

		_, err = m.Predict(context.Background(), frame.Tensor{Height: 2, Width: 2, Channels: 1, Data: make([]float64, 4)})
		var inferErr *InferenceError
		assert.True(t, errors.As(err, &inferErr))
	})

	invalid := map[string]string{
		"wrong format":       strings.Replace(tinyArtifact, "steerd.dense/v1", "keras/h5", 1),
		"missing layers":     `{"format": "steerd.dense/v1", "input": {"height": 1, "width": 1, "channels": 1, "scale": 1, "offset": 0}}`,
		"unknown activation": strings.Replace(tinyArtifact, `"elu"`, `"softmax"`, 1),
		"broken chain":       strings.Replace(tinyArtifact, `{"in": 2, "out": 1`, `{"in": 3, "out": 1`, 1),
		"weight count":       strings.Replace(tinyArtifact, `[1, 0, 0, -1]`, `[1, 0, 0]`, 1),
		"two outputs": `{"format": "steerd.dense/v1", "input": {"height": 1, "width": 1, "channels": 1, "scale": 1, "offset": 0},
			"layers": [{"in": 1, "out": 2, "weights": [1, 1], "bias": [0, 0]}]}`,
		"not json": `{`,
	}
	for name, artifact := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDense([]byte(artifact))
			assert.Error(t, err)
		})
	}
}

func TestGuard(t *testing.T) {
	t.Run("wraps plain errors", func(t *testing.T) {
		o := Guard(Func(func(context.Context, frame.Tensor) (float64, error) {
			return 0, errors.New("boom")
		}))

		_, err := o.Predict(context.Background(), frame.Tensor{})
		var inferErr *InferenceError
		require.True(t, errors.As(err, &inferErr))
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("rejects non-finite values", func(t *testing.T) {
		for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
			o := Guard(Func(func(context.Context, frame.Tensor) (float64, error) { return v, nil }))

			_, err := o.Predict(context.Background(), frame.Tensor{})
			assert.ErrorIs(t, err, ErrInvalidPrediction)
		}
	})

	t.Run("passes finite values", func(t *testing.T) {
		o := Guard(Func(func(context.Context, frame.Tensor) (float64, error) { return -0.25, nil }))

		v, err := o.Predict(context.Background(), frame.Tensor{})
		require.NoError(t, err)
		assert.Equal(t, -0.25, v)
	})
}

func TestDeadline(t *testing.T) {
	slow := Func(func(ctx context.Context, _ frame.Tensor) (float64, error) {
		select {
		case <-time.After(2 * time.Second):
			return 1, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	})

	t.Run("cuts off slow predictions", func(t *testing.T) {
		d := NewDeadline(slow, 20*time.Millisecond)

		start := time.Now()
		_, err := d.Predict(context.Background(), frame.Tensor{})
		require.Error(t, err)
		assert.Less(t, time.Since(start), time.Second)

		var inferErr *InferenceError
		require.True(t, errors.As(err, &inferErr))
		assert.True(t, inferErr.Timeout())
	})

	t.Run("returns fast predictions", func(t *testing.T) {
		d := NewDeadline(Func(func(context.Context, frame.Tensor) (float64, error) { return 0.1, nil }), time.Second)

		v, err := d.Predict(context.Background(), frame.Tensor{})
		require.NoError(t, err)
		assert.Equal(t, 0.1, v)
	})

	t.Run("timeout can be changed", func(t *testing.T) {
		d := NewDeadline(slow, time.Hour)
		d.SetTimeout(10 * time.Millisecond)
		assert.Equal(t, 10*time.Millisecond, d.Timeout())

		_, err := d.Predict(context.Background(), frame.Tensor{})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func newModelServer(t *testing.T, prediction string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/models/steering":
			_, _ = w.Write([]byte(`{"model_version_status":[{"state":"AVAILABLE"}]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/models/steering:predict":
			var req predictRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Instances) != 1 {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"bad instances"}`))
				return
			}
			_, _ = w.Write([]byte(`{"predictions":[` + prediction + `]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}`))
		}
	}))
}

func TestRemoteModel(t *testing.T) {
	t.Run("nested prediction", func(t *testing.T) {
		srv := newModelServer(t, "[-0.125]")
		defer srv.Close()

		m, err := NewRemoteModel(context.Background(), srv.URL, "steering", srv.Client())
		require.NoError(t, err)

		v, err := m.Predict(context.Background(), tinyTensor(1, 2))
		require.NoError(t, err)
		assert.Equal(t, -0.125, v)
	})

	t.Run("scalar prediction", func(t *testing.T) {
		srv := newModelServer(t, "0.5")
		defer srv.Close()

		m, err := NewRemoteModel(context.Background(), srv.URL+"/", "steering", srv.Client())
		require.NoError(t, err)

		v, err := m.Predict(context.Background(), tinyTensor(1, 2))
		require.NoError(t, err)
		assert.Equal(t, 0.5, v)
	})

	t.Run("unknown model fails at startup", func(t *testing.T) {
		srv := newModelServer(t, "0")
		defer srv.Close()

		_, err := NewRemoteModel(context.Background(), srv.URL, "throttle", srv.Client())
		assert.Error(t, err)
	})
}

type fakeS3 struct {
	objects map[string]string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestOpen(t *testing.T) {
	t.Run("local file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "model.json")
		require.NoError(t, os.WriteFile(path, []byte(tinyArtifact), 0644))

		o, err := Open(context.Background(), OpenConfig{Path: path, Height: 1, Width: 2, Channels: 1})
		require.NoError(t, err)
		assert.IsType(t, &DenseModel{}, o)
	})

	t.Run("shape mismatch", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "model.json")
		require.NoError(t, os.WriteFile(path, []byte(tinyArtifact), 0644))

		_, err := Open(context.Background(), OpenConfig{Path: path, Height: 66, Width: 200, Channels: 3})
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Open(context.Background(), OpenConfig{Path: filepath.Join(t.TempDir(), "nope.json")})
		assert.Error(t, err)
	})

	t.Run("s3 uri", func(t *testing.T) {
		client := &fakeS3{objects: map[string]string{"models/steering/v1.json": tinyArtifact}}

		o, err := Open(context.Background(), OpenConfig{Path: "s3://models/steering/v1.json", S3Client: client})
		require.NoError(t, err)
		assert.IsType(t, &DenseModel{}, o)

		_, err = Open(context.Background(), OpenConfig{Path: "s3://models/missing.json", S3Client: client})
		assert.Error(t, err)

		_, err = Open(context.Background(), OpenConfig{Path: "s3://models", S3Client: client})
		assert.Error(t, err)
	})

	t.Run("model server", func(t *testing.T) {
		srv := newModelServer(t, "[0]")
		defer srv.Close()

		o, err := Open(context.Background(), OpenConfig{Path: srv.URL, Name: "steering", HTTPClient: srv.Client()})
		require.NoError(t, err)
		assert.IsType(t, &RemoteModel{}, o)
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := Open(context.Background(), OpenConfig{})
		assert.Error(t, err)
	})
}
