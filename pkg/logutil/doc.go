// Package logutil provides logging utilities and helper functions.
//
// This package simplifies common logging patterns throughout the application
// by providing standardized logger initialization functions for different
// architectural layers.
//
// # Key Features
//
//   - Consistent logger naming across use cases, domain services, and repositories
//   - Automatic context extraction with FromContext
//   - Layer-specific field conventions
//   - Reduced boilerplate for logger initialization
//
// # Usage Patterns
//
// Use Case Layer:
//
//	logger := logutil.UseCaseLogger(ctx, "billing", "prepare_subscription")
//
// Repository Layer:
//
//	logger := logutil.RepositoryLogger(ctx, "mongo", "update_subscription")
//
// Domain Service Layer:
//
//	logger := logutil.ServiceLogger(ctx, "reconcile", "check_transactions")
//
// # Benefits
//
//   - 3-line logger initialization reduced to 1 line
//   - Consistent naming conventions (e.g., "billing_usecase")
//   - Automatic context propagation
//
// # Design Philosophy
//
// This package follows the principle of "convention over configuration"
// by encoding logging best practices into simple, reusable functions.
package logutil
