// Package oracle wraps the steering model behind a single synchronous call.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/harun/steerd/pkg/frame"
)

// Oracle predicts a steering angle from a canonical input tensor.
type Oracle interface {
	Predict(ctx context.Context, t frame.Tensor) (float64, error)
}

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, t frame.Tensor) (float64, error)

// Predict calls f.
func (f Func) Predict(ctx context.Context, t frame.Tensor) (float64, error) {
	return f(ctx, t)
}

// InferenceError reports a failed or invalid prediction.
type InferenceError struct {
	Op  string
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference %s: %v", e.Op, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the prediction was cut off by its deadline.
func (e *InferenceError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// ErrInvalidPrediction is wrapped when the model returns NaN or an infinity.
var ErrInvalidPrediction = errors.New("prediction is not a finite number")

type guarded struct {
	next Oracle
}

// Guard converts every failure of next into an *InferenceError and rejects
// non-finite predictions.
func Guard(next Oracle) Oracle {
	return &guarded{next: next}
}

func (g *guarded) Predict(ctx context.Context, t frame.Tensor) (float64, error) {
	v, err := g.next.Predict(ctx, t)
	if err != nil {
		var inferErr *InferenceError
		if errors.As(err, &inferErr) {
			return 0, err
		}
		return 0, &InferenceError{Op: "predict", Err: err}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &InferenceError{Op: "predict", Err: fmt.Errorf("%w: %v", ErrInvalidPrediction, v)}
	}
	return v, nil
}

// Deadline bounds every prediction with a timeout. A call that overruns is
// abandoned and finishes in the background; its result is discarded.
type Deadline struct {
	next    Oracle
	timeout atomic.Int64
}

// NewDeadline wraps next. A timeout of zero or less disables the bound.
func NewDeadline(next Oracle, timeout time.Duration) *Deadline {
	d := &Deadline{next: next}
	d.timeout.Store(int64(timeout))
	return d
}

// SetTimeout changes the bound for subsequent calls.
func (d *Deadline) SetTimeout(timeout time.Duration) {
	d.timeout.Store(int64(timeout))
}

// Timeout returns the current bound.
func (d *Deadline) Timeout() time.Duration {
	return time.Duration(d.timeout.Load())
}

type prediction struct {
	value float64
	err   error
}

// Predict runs the wrapped oracle under the configured deadline.
func (d *Deadline) Predict(ctx context.Context, t frame.Tensor) (float64, error) {
	timeout := d.Timeout()
	if timeout <= 0 {
		return d.next.Predict(ctx, t)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan prediction, 1)
	go func() {
		v, err := d.next.Predict(ctx, t)
		done <- prediction{value: v, err: err}
	}()

	select {
	case p := <-done:
		if p.err != nil && ctx.Err() != nil {
			return 0, &InferenceError{Op: "predict", Err: ctx.Err()}
		}
		return p.value, p.err
	case <-ctx.Done():
		return 0, &InferenceError{Op: "predict", Err: ctx.Err()}
	}
}
