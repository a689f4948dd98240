// Package fetchlog attaches a request-scoped trace id to the slog records
// emitted while a streaming fill is in flight, so concurrent fills on
// different hashes can be told apart in the node's logs.
package fetchlog

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type traceIDKey struct{}

// NewTraceID mints a fresh trace id for a single fetch.
func NewTraceID() string {
	return uuid.NewString()
}

// With returns a context carrying traceID, and a logger with it attached
// as a "trace_id" field.
func With(ctx context.Context, log *slog.Logger, traceID string) (context.Context, *slog.Logger) {
	ctx = context.WithValue(ctx, traceIDKey{}, traceID)
	return ctx, log.With("trace_id", traceID)
}

// TraceID extracts the trace id stashed by With, or "" if none is present.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}
