package control

import (
	"time"
)

// Outcome classifies how a tick ended.
type Outcome string

const (
	OutcomeCommanded       Outcome = "commanded"
	OutcomeManual          Outcome = "manual"
	OutcomeDecodeFailed    Outcome = "decode_failed"
	OutcomeInferenceFailed Outcome = "inference_failed"
	OutcomeCanceled        Outcome = "canceled"
)

// TickResult is the explicit result of one telemetry tick. Command and Limit
// are only meaningful when Outcome is OutcomeCommanded.
type TickResult struct {
	SessionID string
	TraceID   string
	Outcome   Outcome
	Command   Command
	Limit     float64
	// Governor is the transition applied by this tick, if it got that far.
	Governor *Transition

	// Delivered counts sessions that received the emitted event.
	Delivered int
	// Err is the stage failure that ended the tick.
	Err error
	// EmitErr reports sessions the command could not reach.
	EmitErr error
	// RecordErr reports a failed recording; the command was still sent.
	RecordErr error
	// RecordedAs is the frame's file name when recording succeeded.
	RecordedAs string

	Duration time.Duration
	// Wait is how long the payload sat in the session mailbox.
	Wait time.Duration
}

// OK reports whether the tick produced a command.
func (r TickResult) OK() bool {
	return r.Outcome == OutcomeCommanded
}
