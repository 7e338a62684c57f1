// Package adapter defines the provider adapter contract (§6): the boundary
// between the engine's core state machines and a specific payment
// back-end. The engine never trusts a provider to be well-behaved; every
// adapter call can fail, and optional capabilities are advertised rather
// than silently skipped.
package adapter

import (
	"context"
	"time"

	"payments-engine/internal/billing/domain"
)

// PreparePurchaseParams is passed to PreparePurchaseData.
type PreparePurchaseParams struct {
	ProductID        string
	PaymentExpiresAt time.Time
	UserID           string
}

// PreparePurchaseResult is returned by PreparePurchaseData.
type PreparePurchaseResult struct {
	// Response is an opaque payload the caller forwards to the provider
	// client (e.g. a checkout URL or SDK token); the engine never
	// interprets it.
	Response      interface{}
	TransactionID string
	Product       domain.Product
}

// PrepareSubscriptionParams is passed to PrepareSubscriptionData.
type PrepareSubscriptionParams struct {
	StartsAt         time.Time
	Product          domain.Product
	PaymentExpiresAt time.Time
	UserID           string
}

// PrepareSubscriptionResult is returned by PrepareSubscriptionData.
type PrepareSubscriptionResult struct {
	Response              interface{}
	TransactionID         string
	OriginalTransactionID string
	Duration              time.Duration
}

// EventType discriminates the events an adapter's ParseCallback can produce.
type EventType string

const (
	EventPaymentConfirmed     EventType = "payment-confirmed"
	EventSubscribed           EventType = "subscribed"
	EventSubscriptionRenewal  EventType = "subscription-renewal"
	EventSubscriptionCanceled EventType = "subscription-canceled"
	EventPaymentCanceled      EventType = "payment-canceled"
)

// Event is the discriminated union an adapter's ParseCallback returns.
// Only the fields relevant to Type are populated.
type Event struct {
	Type EventType

	TransactionID         string
	OriginalTransactionID string

	PurchasedAt time.Time
	CanceledAt  time.Time
	SubscribedAt time.Time

	// Duration is populated for subscription-renewal events.
	Duration time.Duration

	Reason string
}

// QueryResultType discriminates the outcomes of QueryTransactionStatus and
// QuerySubscriptionStatus.
type QueryResultType string

const (
	QuerySuccess    QueryResultType = "success"
	QuerySubscribed QueryResultType = "subscribed"
	QueryCanceled   QueryResultType = "canceled"
)

// TransactionQueryResult is returned by QueryTransactionStatus.
type TransactionQueryResult struct {
	Type        QueryResultType // QuerySuccess or QueryCanceled
	PurchasedAt time.Time
	CanceledAt  time.Time
}

// SubscriptionQueryResult is returned by QuerySubscriptionStatus.
type SubscriptionQueryResult struct {
	Type                  QueryResultType // QuerySubscribed or QueryCanceled
	SubscribedAt          time.Time
	OriginalTransactionID string
	CanceledAt            time.Time
}

// RechargeOutcomeType discriminates the outcomes of RechargeSubscription.
type RechargeOutcomeType string

const (
	RechargeRenewed   RechargeOutcomeType = "subscription-renewal"
	RechargeFailed    RechargeOutcomeType = "recharge-failed"
	RechargeCanceled  RechargeOutcomeType = "subscription-canceled"
)

// RechargeOutcome is returned by RechargeSubscription.
type RechargeOutcome struct {
	Type RechargeOutcomeType

	// Populated when Type == RechargeRenewed.
	TransactionID string
	PurchasedAt   time.Time
	Duration      time.Duration

	// Populated when Type == RechargeFailed.
	FailedAt time.Time
	Reason   string

	// Populated when Type == RechargeCanceled.
	CanceledAt time.Time
}

// OriginalTxContext carries everything a recharge or cancel call against an
// existing subscription needs to identify it at the provider.
type OriginalTxContext struct {
	OriginalTransactionID string
	UserID                string
	ProductID             string
}

// Capability names an optional adapter operation. Adapters that do not
// support one must advertise its absence via Capabilities rather than
// having the operation silently no-op.
type Capability string

const (
	CapabilityCancelSubscription Capability = "cancel-subscription"
	CapabilitySubscribedEvent    Capability = "subscribed-event"
)

// Adapter is the engine-facing wrapper around a specific payment back-end.
// Every operation may fail; callers are expected to propagate provider
// errors as provider-failure.
type Adapter interface {
	// Name identifies this adapter for registry lookups and reconciliation
	// lease keys.
	Name() string

	// Capabilities reports which optional operations this adapter
	// supports. Without CapabilityCancelSubscription the direct cancel
	// operation fails with capability-unsupported, while a plan change
	// completes without a provider-side cancel; without
	// CapabilitySubscribedEvent the uncompleted-subscription pass does
	// nothing.
	Capabilities() map[Capability]bool

	RequireProduct(ctx context.Context, productID string) (domain.Product, error)

	PreparePurchaseData(ctx context.Context, params PreparePurchaseParams) (PreparePurchaseResult, error)
	PrepareSubscriptionData(ctx context.Context, params PrepareSubscriptionParams) (PrepareSubscriptionResult, error)

	ParseCallback(ctx context.Context, payload []byte) (Event, error)

	QueryTransactionStatus(ctx context.Context, transactionID string) (TransactionQueryResult, error)
	QuerySubscriptionStatus(ctx context.Context, originalTransactionID string) (SubscriptionQueryResult, error)

	RechargeSubscription(ctx context.Context, txCtx OriginalTxContext, attemptIndex int) (RechargeOutcome, error)

	// CancelSubscription returns false if the provider reports nothing to
	// cancel. It is only called when CapabilityCancelSubscription is set.
	CancelSubscription(ctx context.Context, txCtx OriginalTxContext) (bool, error)
}
