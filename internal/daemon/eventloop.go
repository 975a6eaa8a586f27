package daemon

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/steerd/pkg/control"
)

// EventLoop periodically logs driving statistics
type EventLoop struct {
	daemon *Daemon
	logger zerolog.Logger
	last   control.LoopStats
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{
		daemon: d,
		logger: d.component("stats"),
	}
}

// Run logs stats every stats interval until ctx is done. A zero interval
// disables the loop.
func (e *EventLoop) Run(ctx context.Context) {
	interval := e.daemon.config.StatsInterval()
	if interval <= 0 {
		<-ctx.Done()
		return
	}

	e.logger.Info().Dur("interval", interval).Msg("Event loop started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Event loop stopping")
			return

		case <-ticker.C:
			e.processTasks()
		}
	}
}

// processTasks logs per-interval deltas and the governor state
func (e *EventLoop) processTasks() {
	stats := e.daemon.loop.Stats()
	prev := e.last
	e.last = stats

	ev := e.logger.Info()
	if stats.Sessions == 0 && stats.Ticks == prev.Ticks {
		ev = e.logger.Debug()
	}

	maxSpeed, minSpeed := e.daemon.governors.Limits()
	ev = ev.
		Int("sessions", stats.Sessions).
		Uint64("ticks", stats.Ticks-prev.Ticks).
		Uint64("commanded", stats.Commanded-prev.Commanded).
		Uint64("manual", stats.Manual-prev.Manual).
		Uint64("decode_failed", stats.DecodeFailed-prev.DecodeFailed).
		Uint64("inference_failed", stats.InferenceFailed-prev.InferenceFailed).
		Uint64("dropped", stats.Dropped-prev.Dropped).
		Float64("max_speed", maxSpeed).
		Float64("min_speed", minSpeed).
		Str("governor_scope", string(e.daemon.governors.Scope()))

	if e.daemon.governors.Scope() == control.ScopeShared {
		state, limit := e.daemon.governors.For("").State()
		ev = ev.Str("governor_state", state.String()).Float64("speed_limit", limit)
	}

	ev.Msg("Driving stats")
}
