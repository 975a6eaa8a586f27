package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/steerd/pkg/frame"
)

// DefaultJPEGQuality is used when Config.Quality is zero.
const DefaultJPEGQuality = 90

// timestampLayout renders YYYY_MM_DD_HH_MM_SS.ffffff; the dot is swapped for
// an underscore by FileName.
const timestampLayout = "2006_01_02_15_04_05.000000"

// IOError reports a failed write to the recording directory or journal.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("recording %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Entry is one recorded tick.
type Entry struct {
	SessionID string
	Frame     *frame.PixelBuffer

	// Values reported by the simulator.
	SteeringAngle float64
	Throttle      float64
	Speed         float64

	// Values sent back.
	CommandSteering float64
	CommandThrottle float64
	SpeedLimit      float64
}

// Config configures a Recorder.
type Config struct {
	Directory string
	// Journal enables the driving_log.db index next to the images.
	Journal bool
	Quality int
	Logger  zerolog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Recorder writes frames as JPEG files named by capture time.
type Recorder struct {
	mu      sync.Mutex
	dir     string
	quality int
	now     func() time.Time
	last    time.Time
	journal *Journal
	logger  zerolog.Logger
}

// Prepare removes dir and everything in it, then recreates it empty.
func Prepare(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return &IOError{Op: "prepare", Path: dir, Err: errors.New("directory is required")}
	}
	if err := os.RemoveAll(dir); err != nil {
		return &IOError{Op: "prepare", Path: dir, Err: err}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &IOError{Op: "prepare", Path: dir, Err: err}
	}
	return nil
}

// New opens a recorder over an existing directory.
func New(cfg Config) (*Recorder, error) {
	info, err := os.Stat(cfg.Directory)
	if err != nil {
		return nil, &IOError{Op: "open", Path: cfg.Directory, Err: err}
	}
	if !info.IsDir() {
		return nil, &IOError{Op: "open", Path: cfg.Directory, Err: errors.New("not a directory")}
	}

	r := &Recorder{
		dir:     cfg.Directory,
		quality: cfg.Quality,
		now:     cfg.Now,
		logger:  cfg.Logger.With().Str("component", "recorder").Logger(),
	}
	if r.quality == 0 {
		r.quality = DefaultJPEGQuality
	}
	if r.now == nil {
		r.now = time.Now
	}

	if cfg.Journal {
		j, err := OpenJournal(filepath.Join(cfg.Directory, JournalFile))
		if err != nil {
			return nil, err
		}
		r.journal = j
	}

	return r, nil
}

// Dir returns the recording directory.
func (r *Recorder) Dir() string {
	return r.dir
}

// FileName formats t, in UTC, as a recording file name.
func FileName(t time.Time) string {
	return strings.Replace(t.UTC().Format(timestampLayout), ".", "_", 1) + ".jpg"
}

// nextStampLocked returns a capture time strictly after the previous one at
// microsecond resolution.
func (r *Recorder) nextStampLocked() time.Time {
	ts := r.now().Truncate(time.Microsecond)
	if !r.last.IsZero() && !ts.After(r.last) {
		ts = r.last.Add(time.Microsecond)
	}
	r.last = ts
	return ts
}

// Record writes e.Frame and, when the journal is enabled, its row. It
// returns the file name relative to the recording directory.
func (r *Recorder) Record(ctx context.Context, e Entry) (string, error) {
	if e.Frame == nil {
		return "", &IOError{Op: "write", Path: r.dir, Err: errors.New("no frame to record")}
	}
	if err := ctx.Err(); err != nil {
		return "", &IOError{Op: "write", Path: r.dir, Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.nextStampLocked()
	name := FileName(ts)
	path := filepath.Join(r.dir, name)

	if err := writeJPEG(path, e.Frame, r.quality); err != nil {
		return "", &IOError{Op: "write", Path: path, Err: err}
	}

	if r.journal != nil {
		if err := r.journal.Append(ctx, ts, name, e); err != nil {
			return name, err
		}
	}

	r.logger.Debug().Str("file", name).Str("session", e.SessionID).Msg("Frame recorded")
	return name, nil
}

func writeJPEG(path string, buf *frame.PixelBuffer, quality int) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if err := frame.EncodeJPEG(f, buf, quality); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

// Close releases the journal.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.journal == nil {
		return nil
	}
	err := r.journal.Close()
	r.journal = nil
	return err
}
