// Package platformlog provides the structured logger shared by every
// component. It wraps zerolog so log lines carry a correlation id without
// every call site having to remember to attach one.
package platformlog

import (
	"context"
	"os"

	"github.com/rs/zerolog"
)

type correlationIDKey struct{}

// Logger is the process-wide structured logger.
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// WithCorrelationID attaches a correlation id to ctx for later retrieval by
// FromContext.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

// CorrelationID returns the correlation id stored in ctx, or "" if none.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// FromContext returns a logger enriched with the request's correlation id,
// if one is present in ctx.
func FromContext(ctx context.Context) *zerolog.Logger {
	if id := CorrelationID(ctx); id != "" {
		l := Logger.With().Str("correlation_id", id).Logger()
		return &l
	}
	return &Logger
}
