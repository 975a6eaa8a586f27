package control

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/steerd/internal/metrics"
	"github.com/harun/steerd/internal/tracing"
)

// ErrLoopClosed is returned for sessions that connect after Close.
var ErrLoopClosed = errors.New("control loop closed")

// LoopConfig configures a Loop.
type LoopConfig struct {
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	// OnResult, if set, observes every tick result from the worker goroutine
	// that produced it.
	OnResult func(TickResult)
}

// LoopStats is a snapshot of loop counters.
type LoopStats struct {
	Sessions        int
	Ticks           uint64
	Commanded       uint64
	Manual          uint64
	DecodeFailed    uint64
	InferenceFailed uint64
	Dropped         uint64
}

type sessionWorker struct {
	id     string
	box    *mailbox
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Loop turns session events into controller calls. Each session gets a
// latest-wins mailbox and one worker goroutine, so the transport reader never
// waits on inference. Connect and manual override are handled on the
// caller's goroutine.
type Loop struct {
	controller *Controller
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	onResult   func(TickResult)

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*sessionWorker
	closed   bool
	wg       sync.WaitGroup

	ticks           atomic.Uint64
	commanded       atomic.Uint64
	manual          atomic.Uint64
	decodeFailed    atomic.Uint64
	inferenceFailed atomic.Uint64
	dropped         atomic.Uint64
}

// NewLoop creates a loop over controller.
func NewLoop(controller *Controller, cfg LoopConfig) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		controller: controller,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.With().Str("component", "control_loop").Logger(),
		onResult:   cfg.OnResult,
		baseCtx:    ctx,
		cancel:     cancel,
		sessions:   make(map[string]*sessionWorker),
	}
}

// HandleConnect starts the session's worker and sends the neutral command.
// It returns before the transport delivers any telemetry of the session.
func (l *Loop) HandleConnect(ctx context.Context, sessionID string) error {
	if _, ok := l.worker(sessionID, true); !ok {
		return ErrLoopClosed
	}
	l.metrics.SessionOpened()

	ctx = tracing.NewTickContext(ctx, sessionID, "connect")
	return l.controller.Connect(ctx, sessionID)
}

// HandleEvent routes one inbound event. Unknown events are ignored.
func (l *Loop) HandleEvent(ctx context.Context, sessionID, event string, data json.RawMessage) error {
	if event != EventTelemetry {
		l.logger.Debug().Str("session_key", sessionID).Str("event", event).Msg("Ignoring event")
		return nil
	}

	w, ok := l.worker(sessionID, false)
	if !ok {
		l.logger.Warn().Str("session_key", sessionID).Msg("Telemetry for unknown session")
		return nil
	}

	if IsManual(data) {
		w.box.clear()
		res := l.controller.Manual(tracing.NewTickContext(ctx, sessionID, EventManual), sessionID)
		l.observe(res)
		return nil
	}

	if w.box.put(&pending{raw: data, receivedAt: time.Now()}) {
		l.dropped.Add(1)
		l.metrics.FrameDropped()
	}
	return nil
}

// HandleDisconnect stops the session's worker, cancelling any tick in flight.
func (l *Loop) HandleDisconnect(ctx context.Context, sessionID string) {
	l.mu.Lock()
	w, ok := l.sessions[sessionID]
	if ok {
		delete(l.sessions, sessionID)
	}
	l.mu.Unlock()
	if !ok {
		return
	}

	w.cancel()
	w.box.close()
	<-w.done

	l.controller.Governors().Release(sessionID)
	l.metrics.SessionClosed()
	l.logger.Info().Str("session_key", sessionID).Uint64("dropped", w.box.dropCount()).Msg("Session worker stopped")
}

// worker returns the session's worker, creating it when create is set.
func (l *Loop) worker(sessionID string, create bool) (*sessionWorker, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if w, ok := l.sessions[sessionID]; ok {
		return w, true
	}
	if !create || l.closed {
		return nil, false
	}

	ctx, cancel := context.WithCancel(l.baseCtx)
	w := &sessionWorker{
		id:     sessionID,
		box:    newMailbox(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	l.sessions[sessionID] = w

	l.wg.Add(1)
	go l.run(w)
	return w, true
}

func (l *Loop) run(w *sessionWorker) {
	defer l.wg.Done()
	defer close(w.done)

	for {
		p := w.box.take()
		if p == nil {
			return
		}
		wait := time.Since(p.receivedAt)
		ctx := tracing.NewTickContext(w.ctx, w.id, EventTelemetry)
		res := l.controller.Handle(ctx, w.id, p.raw)
		res.Wait = wait
		l.observe(res)
	}
}

func (l *Loop) observe(res TickResult) {
	l.ticks.Add(1)
	switch res.Outcome {
	case OutcomeCommanded:
		l.commanded.Add(1)
	case OutcomeManual:
		l.manual.Add(1)
	case OutcomeDecodeFailed:
		l.decodeFailed.Add(1)
	case OutcomeInferenceFailed:
		l.inferenceFailed.Add(1)
	}
	if l.onResult != nil {
		l.onResult(res)
	}
}

// Stats returns the current counters.
func (l *Loop) Stats() LoopStats {
	l.mu.Lock()
	sessions := len(l.sessions)
	l.mu.Unlock()

	return LoopStats{
		Sessions:        sessions,
		Ticks:           l.ticks.Load(),
		Commanded:       l.commanded.Load(),
		Manual:          l.manual.Load(),
		DecodeFailed:    l.decodeFailed.Load(),
		InferenceFailed: l.inferenceFailed.Load(),
		Dropped:         l.dropped.Load(),
	}
}

// Close stops every worker and waits for in-flight ticks to finish.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	workers := make([]*sessionWorker, 0, len(l.sessions))
	for id, w := range l.sessions {
		workers = append(workers, w)
		delete(l.sessions, id)
	}
	l.mu.Unlock()

	l.cancel()
	for _, w := range workers {
		w.box.close()
	}
	l.wg.Wait()
}
