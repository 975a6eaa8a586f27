package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultReloadDebounce coalesces bursts of editor writes
const DefaultReloadDebounce = 500 * time.Millisecond

// ReloadFunc receives a freshly loaded and validated config
type ReloadFunc func(cfg *Config)

// Watcher reloads the config file when it changes on disk
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	onReload ReloadFunc
	debounce time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	stopCh chan struct{}
	once   sync.Once
}

// NewWatcher watches the directory holding path so atomic renames are seen
func NewWatcher(path string, logger zerolog.Logger, onReload ReloadFunc) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	w := &Watcher{
		path:     abs,
		watcher:  fsw,
		logger:   logger.With().Str("component", "config_watcher").Logger(),
		onReload: onReload,
		debounce: DefaultReloadDebounce,
		stopCh:   make(chan struct{}),
	}

	go w.run()

	return w, nil
}

// SetDebounce changes the quiet period before a reload
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	w.debounce = d
	w.mu.Unlock()
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	var err error
	w.once.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != w.path {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Config change detected")

				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Config watcher error")

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.stopCh:
		return
	default:
	}

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Config reload failed, keeping current settings")
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn().Err(err).Msg("Reloaded config is invalid, keeping current settings")
		return
	}

	w.logger.Info().
		Float64("max_speed", cfg.Control.MaxSpeed).
		Float64("min_speed", cfg.Control.MinSpeed).
		Int("timeout_ms", cfg.Model.TimeoutMs).
		Msg("Config reloaded")

	if w.onReload != nil {
		w.onReload(cfg)
	}
}
