package gateway

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// EventBroadcaster writes Socket.IO events to active sessions
type EventBroadcaster struct {
	sessions *SessionRegistry
	logger   zerolog.Logger
	seq      uint64
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster(sessions *SessionRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		sessions: sessions,
		logger:   logger,
	}
}

// Emit encodes the event once and writes it to every active session except
// skipSessionID; an empty skipSessionID skips nobody. It returns how many
// sessions received the event. Per-session write failures are joined into
// the returned error and do not stop delivery to the others.
func (b *EventBroadcaster) Emit(event string, data interface{}, skipSessionID string) (int, error) {
	seq := b.nextSeq()

	frame, err := encodeEvent(event, data)
	if err != nil {
		b.logger.Error().
			Err(err).
			Str("event", event).
			Uint64("seq", seq).
			Msg("Failed to encode event")
		return 0, fmt.Errorf("failed to encode event %s: %w", event, err)
	}

	sessions := b.sessions.GetActive()
	if len(sessions) == 0 {
		b.logger.Debug().
			Str("event", event).
			Uint64("seq", seq).
			Msg("No active sessions to emit to")
		return 0, nil
	}

	successCount := 0
	var errs []error

	for _, session := range sessions {
		if session.ID == skipSessionID {
			continue
		}
		if err := session.WriteText(frame); err != nil {
			b.logger.Warn().
				Err(err).
				Str("session_key", session.ID).
				Str("event", event).
				Uint64("seq", seq).
				Msg("Failed to emit to session")
			errs = append(errs, fmt.Errorf("session %s: %w", session.ID, err))
			continue
		}
		successCount++
	}

	b.logger.Debug().
		Str("event", event).
		Str("skip", skipSessionID).
		Uint64("seq", seq).
		Int("success", successCount).
		Int("failed", len(errs)).
		Msg("Event emitted")

	return successCount, errors.Join(errs...)
}

func (b *EventBroadcaster) nextSeq() uint64 {
	return atomic.AddUint64(&b.seq, 1)
}
