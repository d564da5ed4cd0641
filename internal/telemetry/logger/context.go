package logger

import "context"

type contextKey string

const (
	loggerKey    contextKey = "tokvault.logger"
	requestIDKey contextKey = "tokvault.request_id"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext extracts the logger from context, falling back to Default.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey).(Logger); ok {
		return l
	}
	return Default()
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// L returns the context logger enriched with the request ID.
func L(ctx context.Context) Logger {
	l := FromContext(ctx)
	if id := RequestIDFromContext(ctx); id != "" {
		l = l.With("request_id", id)
	}
	return l
}
