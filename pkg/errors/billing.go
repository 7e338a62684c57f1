package errors

import "net/http"

// Billing engine errors.
//
// These mirror the abstract error kinds of the payments orchestration core:
// unknown-product, duplicate-aggregate, conflict, conflicting-terminal-transition,
// callback-rejected, unrecognized-event, provider-failure, canceled.
var (
	ErrUnknownProduct = &Error{
		Code:       "UNKNOWN_PRODUCT",
		Message:    "Product could not be resolved by the provider",
		HTTPStatus: http.StatusNotFound,
	}

	ErrDuplicateAggregate = &Error{
		Code:       "DUPLICATE_AGGREGATE",
		Message:    "A transaction or subscription with this identity already exists",
		HTTPStatus: http.StatusConflict,
	}

	ErrConflict = &Error{
		Code:       "CONFLICT",
		Message:    "Optimistic concurrency conflict: the aggregate was modified concurrently",
		HTTPStatus: http.StatusConflict,
	}

	ErrConflictingTerminalTransition = &Error{
		Code:       "CONFLICTING_TERMINAL_TRANSITION",
		Message:    "The aggregate is already in a terminal state incompatible with this transition",
		HTTPStatus: http.StatusConflict,
	}

	ErrCallbackRejected = &Error{
		Code:       "CALLBACK_REJECTED",
		Message:    "Callback would re-apply a terminal transition",
		HTTPStatus: http.StatusConflict,
	}

	ErrUnrecognizedEvent = &Error{
		Code:       "UNRECOGNIZED_EVENT",
		Message:    "Provider callback carried an event type the engine does not recognize",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrProviderFailure = &Error{
		Code:       "PROVIDER_FAILURE",
		Message:    "The provider adapter returned an error",
		HTTPStatus: http.StatusBadGateway,
	}

	ErrCanceled = &Error{
		Code:       "CANCELED",
		Message:    "Operation canceled by caller",
		HTTPStatus: http.StatusRequestTimeout,
	}

	ErrCapabilityUnsupported = &Error{
		Code:       "CAPABILITY_UNSUPPORTED",
		Message:    "The provider adapter does not support a required capability",
		HTTPStatus: http.StatusNotImplemented,
	}

	ErrSubscriptionNotFound = &Error{
		Code:       "BILLING_SUBSCRIPTION_NOT_FOUND",
		Message:    "Subscription not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrTransactionNotFound = &Error{
		Code:       "BILLING_TRANSACTION_NOT_FOUND",
		Message:    "Transaction not found",
		HTTPStatus: http.StatusNotFound,
	}
)
