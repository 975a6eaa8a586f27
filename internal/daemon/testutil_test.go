package daemon

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harun/steerd/internal/config"
	"github.com/harun/steerd/internal/logger"
)

// writeModel writes a dense artifact for a 2x4 RGB input that always
// predicts steering.
func writeModel(t *testing.T, dir string, steering float64) string {
	t.Helper()

	weights := strings.TrimSuffix(strings.Repeat("0,", 24), ",")
	artifact := fmt.Sprintf(`{
  "format": "steerd.dense/v1",
  "input": {"height": 2, "width": 4, "channels": 3, "scale": 1, "offset": 0},
  "layers": [
    {"in": 24, "out": 1, "weights": [%s], "bias": [%g], "activation": "linear"}
  ]
}`, weights, steering)

	path := filepath.Join(dir, "model.json")
	require.NoError(t, os.WriteFile(path, []byte(artifact), 0644))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	tmpDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Model.Path = writeModel(t, tmpDir, -0.2)
	cfg.Preprocess = config.PreprocessConfig{
		CropTop:    1,
		CropBottom: 1,
		Width:      4,
		Height:     2,
		ColorSpace: "rgb",
	}
	cfg.StatsIntervalMs = 0
	return cfg
}

func testLogger(t *testing.T, out *bytes.Buffer) *logger.Logger {
	t.Helper()

	cfg := logger.Config{Level: "debug"}
	if out != nil {
		cfg.Console = true
		cfg.Output = out
	} else {
		cfg.Output = &bytes.Buffer{}
	}
	log, err := logger.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func createTestDaemon(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()

	d, err := New(cfg, testLogger(t, nil))
	require.NoError(t, err)
	return d
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
