// Package repository defines the durable storage contract (C2) for
// transactions, subscriptions, and users. Concrete backends live in the
// memory and mongo subpackages.
package repository

import (
	"context"
	"time"

	"payments-engine/internal/billing/domain"
)

// ErrorSink receives per-item errors from batch operations so a single
// failure does not abort the rest of the batch (§7 propagation policy).
type ErrorSink func(item string, err error)

// TransactionPatch describes a partial update to a Transaction. Only
// non-nil fields are applied.
type TransactionPatch struct {
	PurchasedAt *time.Time
	CompletedAt *time.Time
	CanceledAt  *time.Time
	Duration    *time.Duration
}

// SubscriptionPatch describes a partial update to a Subscription.
type SubscriptionPatch struct {
	Transactions   []domain.SubscriptionTransactionRef
	StartsAt       *time.Time
	ExpiresAt      *time.Time
	CanceledAt     *time.Time
	RenewalEnabled *bool
	LastFailedAt    *time.Time
	RenewalAttempts *int
	Superseded      *bool
}

// Repository is the durable storage contract required by the engine's
// state machines (§4.2). Every mutation is atomic per-aggregate; there is
// no cross-aggregate transaction (§5) — multi-aggregate operations are
// expressed as a forward-recoverable sequence of per-aggregate calls by
// the caller.
type Repository interface {
	FindTransaction(ctx context.Context, id domain.TransactionIdentity) (*domain.Transaction, error)
	FindSubscription(ctx context.Context, id domain.SubscriptionIdentity) (*domain.Subscription, error)

	// InsertTransaction fails with duplicate-aggregate if the identity
	// already exists.
	InsertTransaction(ctx context.Context, tx *domain.Transaction) error
	// InsertSubscription fails with duplicate-aggregate if the identity
	// already exists.
	InsertSubscription(ctx context.Context, sub *domain.Subscription) error

	// UpdateTransaction applies patch under optimistic concurrency: it
	// fails with conflict if the stored version does not match
	// expectedVersion.
	UpdateTransaction(ctx context.Context, id domain.TransactionIdentity, patch TransactionPatch, expectedVersion int64) (*domain.Transaction, error)
	// UpdateSubscription applies patch under optimistic concurrency.
	UpdateSubscription(ctx context.Context, id domain.SubscriptionIdentity, patch SubscriptionPatch, expectedVersion int64) (*domain.Subscription, error)

	// ListPendingTransactions returns every pending transaction for
	// provider. If expiredOnly is true only transactions whose
	// paymentExpiresAt has passed now are returned.
	ListPendingTransactions(ctx context.Context, provider string, now time.Time, expiredOnly bool) ([]domain.Transaction, error)

	// ListSubscriptionsDueForRenewal returns active, renewal-enabled
	// subscriptions with expiresAt - now <= renewalBefore. It does not
	// track or exclude renewals already in flight.
	ListSubscriptionsDueForRenewal(ctx context.Context, provider string, now time.Time, renewalBefore time.Duration) ([]domain.Subscription, error)

	// ListUncompletedSubscriptions returns subscriptions whose initiating
	// transaction is confirmed but whose subscribed linkage was never
	// received (renewalEnabled is still false).
	ListUncompletedSubscriptions(ctx context.Context, provider string, now time.Time) ([]domain.Subscription, error)

	// ListSubscriptionsActiveForUserGroup returns the user's active or
	// not-start subscriptions in the given product group (used on plan
	// change).
	ListSubscriptionsActiveForUserGroup(ctx context.Context, userID, group string, now time.Time) ([]domain.Subscription, error)

	// ListUserPurchases returns the user's completed purchase
	// transactions (used by the user view, C7).
	ListUserPurchases(ctx context.Context, userID string) ([]domain.Transaction, error)

	// ListUserSubscriptions returns every non-canceled subscription for
	// the user (used by the user view, C7).
	ListUserSubscriptions(ctx context.Context, userID string, now time.Time) ([]domain.Subscription, error)
}
