package logutil

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// UseCaseLogger creates a logger for a specific use case
func UseCaseLogger(ctx context.Context, useCase, operation string) *zap.Logger {
	logger := FromContext(ctx).Named(fmt.Sprintf("%s_usecase", useCase))

	logger = logger.With(
		zap.String("use_case", useCase),
		zap.String("operation", operation),
	)

	// Add request ID if available
	if requestID := GetRequestID(ctx); requestID != "" {
		logger = logger.With(zap.String("request_id", requestID))
	}

	// Add member ID if available
	if memberID, ok := ctx.Value("member_id").(string); ok && memberID != "" {
		logger = logger.With(zap.String("member_id", memberID))
	}

	return logger
}

// RepositoryLogger creates a logger for repository operations
func RepositoryLogger(ctx context.Context, repository, operation string) *zap.Logger {
	logger := FromContext(ctx).Named(fmt.Sprintf("%s_repository", repository))

	logger = logger.With(
		zap.String("repository", repository),
		zap.String("operation", operation),
		zap.String("layer", "repository"),
	)

	// Add request ID if available
	if requestID := GetRequestID(ctx); requestID != "" {
		logger = logger.With(zap.String("request_id", requestID))
	}

	return logger
}

// ServiceLogger creates a logger for domain service operations
func ServiceLogger(ctx context.Context, service, operation string) *zap.Logger {
	logger := FromContext(ctx).Named(fmt.Sprintf("%s_service", service))

	logger = logger.With(
		zap.String("service", service),
		zap.String("operation", operation),
		zap.String("layer", "domain"),
	)

	// Add request ID if available
	if requestID := GetRequestID(ctx); requestID != "" {
		logger = logger.With(zap.String("request_id", requestID))
	}

	return logger
}
