package observability

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/harun/steerd/internal/tracing"
)

// Audit event types
const (
	AuditLifecycle = "lifecycle"
	AuditConfig    = "config"
)

// AuditEvent is one line of the audit log
type AuditEvent struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor,omitempty"`
	Action    string                 `json:"action"` // e.g. "start", "reload"
	Status    string                 `json:"status"` // "success", "failure"
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// AuditLogger appends operator-visible events (starts, stops, config
// changes) as JSON lines, separate from the diagnostic log.
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	closer io.Closer
}

// NewAuditLogger writes audit events to w
func NewAuditLogger(w io.Writer) *AuditLogger {
	return &AuditLogger{
		logger: zerolog.New(w),
	}
}

// OpenAuditLog appends audit events to the file at path
func OpenAuditLog(path string) (*AuditLogger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	a := NewAuditLogger(file)
	a.closer = file
	return a, nil
}

// Record writes event, stamping it with the trace of ctx. A recording span
// also receives the event.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if a == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
		))
	} else if event.TraceID == "" {
		event.TraceID = tracing.GetTraceID(ctx)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Time("timestamp", event.Timestamp).
		Str("type", event.Type).
		Str("action", event.Action).
		Str("status", event.Status)

	if event.Actor != "" {
		entry.Str("actor", event.Actor)
	}
	if event.TraceID != "" {
		entry.Str("trace_id", event.TraceID)
	}
	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}

	entry.Msg("")
}

// Close closes the underlying file, if any
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer != nil {
		err := a.closer.Close()
		a.closer = nil
		return err
	}
	return nil
}

// RecordLifecycle records a daemon start or stop
func (a *AuditLogger) RecordLifecycle(ctx context.Context, action string, metadata map[string]interface{}) {
	a.Record(ctx, AuditEvent{
		Type:     AuditLifecycle,
		Actor:    "steerd",
		Action:   action,
		Status:   "success",
		Metadata: metadata,
	})
}

// RecordConfig records a configuration change and whether it was applied
func (a *AuditLogger) RecordConfig(ctx context.Context, action string, err error, metadata map[string]interface{}) {
	status := "success"
	if err != nil {
		status = "failure"
		if metadata == nil {
			metadata = map[string]interface{}{}
		}
		metadata["error"] = err.Error()
	}

	a.Record(ctx, AuditEvent{
		Type:     AuditConfig,
		Actor:    "config",
		Action:   action,
		Status:   status,
		Metadata: metadata,
	})
}
