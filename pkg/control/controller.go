package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/steerd/internal/metrics"
	"github.com/harun/steerd/internal/tracing"
	"github.com/harun/steerd/pkg/frame"
	"github.com/harun/steerd/pkg/oracle"
	"github.com/harun/steerd/pkg/recorder"
)

// Emitter broadcasts an event to every active session except skipSessionID.
// An empty skipSessionID excludes nobody.
type Emitter interface {
	Emit(event string, data interface{}, skipSessionID string) (int, error)
}

// Sink persists frames of commanded ticks.
type Sink interface {
	Record(ctx context.Context, e recorder.Entry) (string, error)
}

// ControllerConfig wires a Controller.
type ControllerConfig struct {
	Preprocessor *frame.Preprocessor
	Oracle       oracle.Oracle
	Governors    *GovernorSet
	Emitter      Emitter
	// Sink is optional; nil disables recording.
	Sink    Sink
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Controller runs the per-tick pipeline:
// decode, preprocess, predict, governor, throttle, emit, record.
// A failing stage ends the tick and later stages do not run.
type Controller struct {
	pre       *frame.Preprocessor
	oracle    oracle.Oracle
	governors *GovernorSet
	emitter   Emitter
	sink      Sink
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewController validates cfg and builds a Controller.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Preprocessor == nil {
		return nil, errors.New("preprocessor is required")
	}
	if cfg.Oracle == nil {
		return nil, errors.New("oracle is required")
	}
	if cfg.Governors == nil {
		return nil, errors.New("governor set is required")
	}
	if cfg.Emitter == nil {
		return nil, errors.New("emitter is required")
	}

	return &Controller{
		pre:       cfg.Preprocessor,
		oracle:    oracle.Guard(cfg.Oracle),
		governors: cfg.Governors,
		emitter:   cfg.Emitter,
		sink:      cfg.Sink,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With().Str("component", "controller").Logger(),
	}, nil
}

// Governors returns the governor set used by the controller.
func (c *Controller) Governors() *GovernorSet {
	return c.governors
}

// Connect sends the neutral command to every session.
func (c *Controller) Connect(ctx context.Context, sessionID string) error {
	n, err := c.emitter.Emit(EventSteer, NeutralCommand().Payload(), "")
	c.metrics.Emitted(EventSteer, err)

	log := tracing.LoggerFromContext(ctx, c.logger)
	log.Info().
		Int("delivered", n).
		Msg("Session connected, neutral command sent")

	if err != nil {
		return fmt.Errorf("failed to send neutral command: %w", err)
	}
	return nil
}

// Manual relays a manual-override marker to every session but the origin.
// No inference runs and the governor is not touched.
func (c *Controller) Manual(ctx context.Context, sessionID string) TickResult {
	ctx = tracing.EnsureTraceID(ctx)
	start := time.Now()
	n, err := c.emitter.Emit(EventManual, struct{}{}, sessionID)
	c.metrics.Emitted(EventManual, err)

	res := TickResult{
		SessionID: sessionID,
		TraceID:   tracing.GetTraceID(ctx),
		Outcome:   OutcomeManual,
		Delivered: n,
		EmitErr:   err,
		Duration:  time.Since(start),
	}
	c.metrics.ObserveTick(string(res.Outcome), res.Duration)
	c.logResult(ctx, res)
	return res
}

// Handle parses a raw telemetry payload and runs one tick on it. Empty
// payloads become a manual override.
func (c *Controller) Handle(ctx context.Context, sessionID string, raw json.RawMessage) TickResult {
	ctx = tracing.EnsureTraceID(ctx)
	if IsManual(raw) {
		return c.Manual(ctx, sessionID)
	}

	t, err := ParseTelemetry(raw)
	if err != nil {
		res := TickResult{
			SessionID: sessionID,
			TraceID:   tracing.GetTraceID(ctx),
			Outcome:   OutcomeDecodeFailed,
			Err:       err,
		}
		c.metrics.ObserveTick(string(res.Outcome), 0)
		c.logResult(ctx, res)
		return res
	}
	return c.Tick(ctx, sessionID, t)
}

// Tick runs the pipeline for one telemetry sample.
func (c *Controller) Tick(ctx context.Context, sessionID string, t Telemetry) TickResult {
	ctx = tracing.EnsureTraceID(ctx)
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "control.tick",
		attribute.Float64("steerd.speed", t.Speed),
	)
	defer span.End()

	res := c.tick(ctx, sessionID, t)
	res.SessionID = sessionID
	res.TraceID = tracing.GetTraceID(ctx)
	res.Duration = time.Since(start)

	span.SetAttributes(attribute.String("steerd.outcome", string(res.Outcome)))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(res.Outcome))
	}

	c.metrics.ObserveTick(string(res.Outcome), res.Duration)
	c.logResult(ctx, res)
	return res
}

func (c *Controller) tick(ctx context.Context, sessionID string, t Telemetry) TickResult {
	if err := ctx.Err(); err != nil {
		return TickResult{Outcome: OutcomeCanceled, Err: err}
	}

	buf, err := frame.Decode(t.Image)
	if err != nil {
		return TickResult{Outcome: OutcomeDecodeFailed, Err: err}
	}
	tensor, err := c.pre.Apply(buf)
	if err != nil {
		return TickResult{Outcome: OutcomeDecodeFailed, Err: err}
	}

	steering, err := c.predict(ctx, tensor)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return TickResult{Outcome: OutcomeCanceled, Err: err}
		}
		return TickResult{Outcome: OutcomeInferenceFailed, Err: err}
	}

	tr := c.governors.For(sessionID).Step(t.Speed)
	c.metrics.ObserveGovernor(tr.Limit, tr.Changed(), tr.To.String())

	cmd := Command{
		SteeringAngle: steering,
		Throttle:      Throttle(steering, t.Speed, tr.Limit),
	}

	res := TickResult{
		Outcome:  OutcomeCommanded,
		Command:  cmd,
		Limit:    tr.Limit,
		Governor: &tr,
	}

	res.Delivered, res.EmitErr = c.emitter.Emit(EventSteer, cmd.Payload(), "")
	c.metrics.Emitted(EventSteer, res.EmitErr)

	if c.sink != nil {
		res.RecordedAs, res.RecordErr = c.sink.Record(ctx, recorder.Entry{
			SessionID:       sessionID,
			Frame:           buf,
			SteeringAngle:   t.SteeringAngle,
			Throttle:        t.Throttle,
			Speed:           t.Speed,
			CommandSteering: cmd.SteeringAngle,
			CommandThrottle: cmd.Throttle,
			SpeedLimit:      tr.Limit,
		})
		c.metrics.Recorded(res.RecordErr)
	}

	return res
}

func (c *Controller) predict(ctx context.Context, t frame.Tensor) (float64, error) {
	ctx, span := tracing.StartSpan(ctx, "oracle.predict")
	defer span.End()

	start := time.Now()
	v, err := c.oracle.Predict(ctx, t)
	c.metrics.ObserveInference(time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prediction failed")
	}
	return v, err
}

func (c *Controller) logResult(ctx context.Context, res TickResult) {
	log := tracing.LoggerFromContext(ctx, c.logger)

	switch res.Outcome {
	case OutcomeCommanded:
		ev := log.Debug()
		if res.EmitErr != nil || res.RecordErr != nil {
			ev = log.Warn()
		}
		ev.Float64("steering_angle", res.Command.SteeringAngle).
			Float64("throttle", res.Command.Throttle).
			Float64("limit", res.Limit).
			Int("delivered", res.Delivered).
			AnErr("emit_error", res.EmitErr).
			AnErr("record_error", res.RecordErr).
			Dur("duration", res.Duration).
			Msg("Command sent")
	case OutcomeManual:
		log.Info().Int("delivered", res.Delivered).AnErr("emit_error", res.EmitErr).Msg("Manual override relayed")
	case OutcomeCanceled:
		log.Debug().Err(res.Err).Msg("Tick canceled")
	default:
		log.Warn().Str("outcome", string(res.Outcome)).Err(res.Err).Dur("duration", res.Duration).Msg("Tick skipped")
	}
}
