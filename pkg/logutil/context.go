package logutil

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Context keys for logging
type contextKey string

const (
	loggerKey    contextKey = "logger"
	requestIDKey contextKey = "request_id"
	userIDKey    contextKey = "user_id"
	traceIDKey   contextKey = "trace_id"
)

// WithLogger adds logger to context
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves logger from context
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	// Return default logger if none in context
	return zap.L()
}

// WithRequestID adds request ID to context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	ctx = context.WithValue(ctx, requestIDKey, requestID)

	// Also add to logger if present
	if logger := FromContext(ctx); logger != nil {
		logger = logger.With(zap.String("request_id", requestID))
		ctx = WithLogger(ctx, logger)
	}

	return ctx
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// GenerateRequestID generates a new request ID
func GenerateRequestID() string {
	return uuid.New().String()
}

// WithTraceID adds trace ID to context for distributed tracing
func WithTraceID(ctx context.Context, traceID string) context.Context {
	ctx = context.WithValue(ctx, traceIDKey, traceID)

	// Also add to logger if present
	if logger := FromContext(ctx); logger != nil {
		logger = logger.With(zap.String("trace_id", traceID))
		ctx = WithLogger(ctx, logger)
	}

	return ctx
}

// GetTraceID retrieves trace ID from context
func GetTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// WithUserID adds user ID to context
func WithUserID(ctx context.Context, userID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)

	// Also add to logger if present
	if logger := FromContext(ctx); logger != nil {
		logger = logger.With(zap.String("user_id", userID))
		ctx = WithLogger(ctx, logger)
	}

	return ctx
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextFields extracts all logging fields from context
func ContextFields(ctx context.Context) []zap.Field {
	fields := []zap.Field{}

	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	if traceID := GetTraceID(ctx); traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}

	if userID := GetUserID(ctx); userID != "" {
		fields = append(fields, zap.String("user_id", userID))
	}

	return fields
}

// StartOperation starts a new operation with logging, generating a request
// ID if the context does not already carry one.
func StartOperation(ctx context.Context, operation string) (context.Context, func()) {
	logger := FromContext(ctx).Named(operation)

	if GetRequestID(ctx) == "" {
		ctx = WithRequestID(ctx, GenerateRequestID())
	}

	fields := append([]zap.Field{zap.String("operation", operation)}, ContextFields(ctx)...)
	logger = logger.With(fields...)

	ctx = WithLogger(ctx, logger)

	logger.Debug("operation started")

	return ctx, func() {
		logger.Debug("operation completed")
	}
}
