package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// SessionKeyKey is the context key for the simulator session ID
	SessionKeyKey ContextKey = "session_key"
	// EventKey is the context key for the inbound event name
	EventKey ContextKey = "event"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID    string
	SessionKey string
	Event      string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// EnsureTraceID returns ctx unchanged when it already carries a trace ID,
// otherwise a child context with a new one.
func EnsureTraceID(ctx context.Context) context.Context {
	if GetTraceID(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, NewTraceID())
}

// WithSessionKey adds a session key to the context
func WithSessionKey(ctx context.Context, sessionKey string) context.Context {
	return context.WithValue(ctx, SessionKeyKey, sessionKey)
}

// WithEvent adds the inbound event name to the context
func WithEvent(ctx context.Context, event string) context.Context {
	return context.WithValue(ctx, EventKey, event)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetSessionKey retrieves the session key from the context
func GetSessionKey(ctx context.Context) string {
	if sessionKey, ok := ctx.Value(SessionKeyKey).(string); ok {
		return sessionKey
	}
	return ""
}

// GetEvent retrieves the event name from the context
func GetEvent(ctx context.Context) string {
	if event, ok := ctx.Value(EventKey).(string); ok {
		return event
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:    GetTraceID(ctx),
		SessionKey: GetSessionKey(ctx),
		Event:      GetEvent(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.SessionKey != "" {
		ctx = WithSessionKey(ctx, tc.SessionKey)
	}
	if tc.Event != "" {
		ctx = WithEvent(ctx, tc.Event)
	}
	return ctx
}

// NewTickContext starts a fresh trace for one event of a session.
func NewTickContext(ctx context.Context, sessionKey, event string) context.Context {
	return NewContext(ctx, &TraceContext{
		TraceID:    NewTraceID(),
		SessionKey: sessionKey,
		Event:      event,
	})
}

// LoggerFromContext adds the tracing fields found in ctx to baseLogger.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	lc := baseLogger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.SessionKey != "" {
		lc = lc.Str("session_key", tc.SessionKey)
	}
	if tc.Event != "" {
		lc = lc.Str("event", tc.Event)
	}
	return lc.Logger()
}
