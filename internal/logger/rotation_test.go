package logger

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter(t *testing.T) {
	t.Run("create rotating writer", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "test.log")

		rw, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		defer rw.Close()

		_, err = os.Stat(logFile)
		assert.NoError(t, err)
		assert.Equal(t, int64(10*1024*1024), rw.maxSize)
	})

	t.Run("create directory if not exists", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "subdir", "test.log")

		rw, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		defer rw.Close()

		_, err = os.Stat(filepath.Dir(logFile))
		assert.NoError(t, err)
	})

	t.Run("zero size disables rotation", func(t *testing.T) {
		rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "test.log"), 0, 0, false)
		require.NoError(t, err)
		defer rw.Close()
		assert.Zero(t, rw.maxSize)
	})
}

func TestRotatingWriterWrite(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")

	rw, err := NewRotatingWriter(logFile, 1, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	data := []byte("test log message\n")
	n, err := rw.Write(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "test log message")
}

func TestRotatingWriterRotation(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "test.log")

	rw, err := NewRotatingWriter(logFile, 1, 7, false)
	require.NoError(t, err)
	defer rw.Close()
	rw.maxSize = 100

	first := []byte(strings.Repeat("a", 80) + "\n")
	second := []byte(strings.Repeat("b", 80) + "\n")

	_, err = rw.Write(first)
	require.NoError(t, err)
	_, err = rw.Write(second)
	require.NoError(t, err)

	rotated, err := filepath.Glob(filepath.Join(tmpDir, "test.log.*"))
	require.NoError(t, err)
	require.Len(t, rotated, 1)

	old, err := os.ReadFile(rotated[0])
	require.NoError(t, err)
	assert.Equal(t, string(first), string(old))

	current, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, string(second), string(current))
}

func TestRotatingWriterCompressesRotated(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "test.log")

	rw, err := NewRotatingWriter(logFile, 1, 7, true)
	require.NoError(t, err)
	rw.maxSize = 50

	_, err = rw.Write([]byte(strings.Repeat("x", 40)))
	require.NoError(t, err)
	_, err = rw.Write([]byte(strings.Repeat("y", 40)))
	require.NoError(t, err)

	// Close waits for compression
	require.NoError(t, rw.Close())

	gz, err := filepath.Glob(filepath.Join(tmpDir, "test.log.*.gz"))
	require.NoError(t, err)
	require.Len(t, gz, 1)

	f, err := os.Open(gz[0])
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	content, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 40), string(content))
}

func TestRotatingWriterConcurrentWrites(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "test.log")

	rw, err := NewRotatingWriter(logFile, 1, 7, false)
	require.NoError(t, err)
	rw.maxSize = 256

	line := []byte(strings.Repeat("z", 31) + "\n")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, err := rw.Write(line)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, rw.Close())

	files, err := filepath.Glob(filepath.Join(tmpDir, "test.log*"))
	require.NoError(t, err)

	var total int
	for _, f := range files {
		content, err := os.ReadFile(f)
		require.NoError(t, err)
		total += len(content)
	}
	assert.Equal(t, 8*20*len(line), total)
}

func TestRotatingWriterSameMillisecondRotations(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "compressed"
		}
		t.Run(name, func(t *testing.T) {
			tmpDir := t.TempDir()
			logFile := filepath.Join(tmpDir, "test.log")

			rw, err := NewRotatingWriter(logFile, 1, 0, compress)
			require.NoError(t, err)
			rw.maxSize = 16
			frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			rw.now = func() time.Time { return frozen }

			for i := 0; i < 4; i++ {
				_, err := rw.Write([]byte("0123456789abcde\n"))
				require.NoError(t, err)
			}
			require.NoError(t, rw.Close())

			rotated, err := filepath.Glob(filepath.Join(tmpDir, "test.log.*"))
			require.NoError(t, err)
			assert.Len(t, rotated, 3, "each rotation keeps its own file: %v", rotated)

			var total int
			for _, f := range append(rotated, logFile) {
				total += len(readLog(t, f))
			}
			assert.Equal(t, 4*16, total)
		})
	}
}

func readLog(t *testing.T, path string) []byte {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		require.NoError(t, err)
		defer gz.Close()
		r = gz
	}
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

func TestRotatingWriterClose(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "test.log"), 10, 7, false)
	require.NoError(t, err)

	assert.NoError(t, rw.Close())
	assert.NoError(t, rw.Close())

	_, err = rw.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestCompressFile(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "test.txt")
	require.NoError(t, os.WriteFile(testFile, []byte("test content"), 0644))

	rw := &RotatingWriter{compress: true}
	require.NoError(t, rw.compressFile(testFile))

	_, err := os.Stat(testFile + ".gz")
	assert.NoError(t, err)

	_, err = os.Stat(testFile)
	assert.True(t, os.IsNotExist(err))
}

func TestCleanup(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "test.log")

	oldFile := logFile + ".20200101-120000.000"
	require.NoError(t, os.WriteFile(oldFile, []byte("old log"), 0644))

	oldTime := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))

	freshFile := logFile + ".20990101-120000.000"
	require.NoError(t, os.WriteFile(freshFile, []byte("fresh log"), 0644))

	rw, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	rw.cleanup()

	_, err = os.Stat(oldFile)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(freshFile)
	assert.NoError(t, err)
}
