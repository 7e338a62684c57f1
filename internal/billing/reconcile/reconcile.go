// Package reconcile implements the reconciliation loops (C6): batch
// operations that poll providers to advance stuck or expiring state.
// Errors for a single item are reported through the caller-supplied error
// sink and do not abort the rest of the batch (§4.6/§7).
package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"payments-engine/internal/billing/actionqueue"
	"payments-engine/internal/billing/adapter"
	"payments-engine/internal/billing/domain"
	"payments-engine/internal/billing/registry"
	"payments-engine/internal/billing/repository"
	billingerrors "payments-engine/pkg/errors"
)

const leaseTimeout = 2 * time.Minute

// Reconciler drives the three reconciliation passes over a single
// provider's pending transactions and subscriptions.
type Reconciler struct {
	Repo     repository.Repository
	Registry *registry.Registry
	Clock    domain.Clock
	Lease    Lease
	Actions  actionqueue.Queue
	Logger   *zap.Logger

	// RenewalBefore is how far ahead of expiresAt a subscription becomes
	// due for renewal (§4.4/§4.6 point 2). A subscription is picked up once
	// its remaining time-to-expiry falls to or below this window.
	RenewalBefore time.Duration

	// CascadeTransactionExpiryToSubscription mirrors the engine's resolved
	// open question (§9.1): when a subscription's initiating transaction
	// expires unconfirmed, cancel the subscription too rather than
	// leaving it pending indefinitely.
	CascadeTransactionExpiryToSubscription bool
}

func (r *Reconciler) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}

func (r *Reconciler) withLease(ctx context.Context, provider, loop string, fn func(context.Context) error) error {
	ok, err := r.Lease.Acquire(ctx, provider, loop, leaseTimeout)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	defer r.Lease.Release(ctx, provider, loop)
	return fn(ctx)
}

// CheckTransactions polls the provider for every pending transaction whose
// payment window has expired and applies the result (§4.6 point 1).
func (r *Reconciler) CheckTransactions(ctx context.Context, provider string, sink repository.ErrorSink) error {
	return r.withLease(ctx, provider, "check-transactions", func(ctx context.Context) error {
		a, err := r.Registry.Adapter(provider)
		if err != nil {
			return err
		}

		now := r.Clock.Now()
		pending, err := r.Repo.ListPendingTransactions(ctx, provider, now, true)
		if err != nil {
			return err
		}

		for i := range pending {
			tx := pending[i]
			if err := r.applyTransactionQuery(ctx, a, &tx); err != nil {
				sink(tx.TransactionID, err)
			}
		}
		return nil
	})
}

func (r *Reconciler) applyTransactionQuery(ctx context.Context, a adapter.Adapter, tx *domain.Transaction) error {
	result, err := a.QueryTransactionStatus(ctx, tx.TransactionID)
	if err != nil {
		return billingerrors.ErrProviderFailure.Wrap(err)
	}

	patch := repository.TransactionPatch{}
	var newStatus domain.TransactionStatus
	switch result.Type {
	case adapter.QuerySuccess:
		patch.PurchasedAt = &result.PurchasedAt
		completedAt := r.Clock.Now()
		patch.CompletedAt = &completedAt
		newStatus = domain.TransactionCompleted
	case adapter.QueryCanceled:
		canceledAt := result.CanceledAt
		if canceledAt.IsZero() {
			canceledAt = r.Clock.Now()
		}
		patch.CanceledAt = &canceledAt
		newStatus = domain.TransactionCanceled
	default:
		return nil
	}

	if err := domain.ValidateTransactionTransition(tx.Status(), newStatus); err != nil {
		return err
	}

	updated, err := r.Repo.UpdateTransaction(ctx, tx.Identity(), patch, tx.Version)
	if err != nil {
		return err
	}

	if updated.IsSubscriptionTransaction() {
		if err := r.syncSubscriptionTransaction(ctx, updated); err != nil {
			return err
		}
		if newStatus == domain.TransactionCanceled && r.CascadeTransactionExpiryToSubscription {
			r.logger().Info("cascading transaction expiry to subscription",
				zap.String("provider", updated.Provider),
				zap.String("originalTransactionId", updated.OriginalTransactionID))
			if err := r.Actions.Enqueue(ctx, actionqueue.Action{
				Type:                  actionqueue.TypeCascadeCancelSubscription,
				Provider:              updated.Provider,
				OriginalTransactionID: updated.OriginalTransactionID,
				EnqueuedAt:            r.Clock.Now(),
			}); err != nil {
				return err
			}
		}
	}

	return nil
}

// syncSubscriptionTransaction updates the denormalized transaction
// reference on the subscription that owns tx, re-reading and retrying on an
// optimistic conflict for up to three attempts in all (additive write,
// per §5).
func (r *Reconciler) syncSubscriptionTransaction(ctx context.Context, tx *domain.Transaction) error {
	subID := domain.SubscriptionIdentity{Provider: tx.Provider, OriginalTransactionID: tx.OriginalTransactionID}
	sub, err := r.Repo.FindSubscription(ctx, subID)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}

	for attempt := 0; attempt < 3; attempt++ {
		working := *sub
		if !working.UpdateTransactionStatus(tx.Identity(), tx.Status(), tx.Duration) {
			return nil
		}
		_, err := r.Repo.UpdateSubscription(ctx, subID, repository.SubscriptionPatch{
			Transactions: working.Transactions,
		}, sub.Version)
		if err == nil {
			return nil
		}
		if err != billingerrors.ErrConflict {
			return err
		}
		sub, err = r.Repo.FindSubscription(ctx, subID)
		if err != nil {
			return err
		}
	}
	return billingerrors.ErrConflict
}

// CheckSubscriptionRenewal performs one renewal attempt for every
// subscription in its renewal window (§4.4/§4.6 point 2).
func (r *Reconciler) CheckSubscriptionRenewal(ctx context.Context, provider string, sink repository.ErrorSink) error {
	return r.withLease(ctx, provider, "check-subscription-renewal", func(ctx context.Context) error {
		a, err := r.Registry.Adapter(provider)
		if err != nil {
			return err
		}

		now := r.Clock.Now()
		due, err := r.Repo.ListSubscriptionsDueForRenewal(ctx, provider, now, r.RenewalBefore)
		if err != nil {
			return err
		}

		for i := range due {
			sub := due[i]
			if err := r.applyRenewal(ctx, a, &sub); err != nil {
				sink(sub.OriginalTransactionID, err)
			}
		}
		return nil
	})
}

func (r *Reconciler) applyRenewal(ctx context.Context, a adapter.Adapter, sub *domain.Subscription) error {
	if err := domain.ValidateSubscriptionRenewal(sub); err != nil {
		return err
	}

	txCtx := adapter.OriginalTxContext{
		OriginalTransactionID: sub.OriginalTransactionID,
		UserID:                sub.UserID,
		ProductID:             sub.ProductID,
	}
	attemptIndex := sub.RenewalAttempts + 1

	outcome, err := a.RechargeSubscription(ctx, txCtx, attemptIndex)
	if err != nil {
		return billingerrors.ErrProviderFailure.Wrap(err)
	}

	switch outcome.Type {
	case adapter.RechargeRenewed:
		renewalTx := domain.Transaction{
			Provider:              sub.Provider,
			TransactionID:         outcome.TransactionID,
			UserID:                sub.UserID,
			ProductID:             sub.ProductID,
			Type:                  domain.ProductTypeSubscription,
			CreatedAt:             r.Clock.Now(),
			StartsAt:              sub.ExpiresAt,
			PaymentExpiresAt:      r.Clock.Now(),
			Duration:              outcome.Duration,
			OriginalTransactionID: sub.OriginalTransactionID,
		}
		renewalTx.MarkCompleted(outcome.PurchasedAt, outcome.PurchasedAt)
		if err := r.Repo.InsertTransaction(ctx, &renewalTx); err != nil {
			return err
		}

		working := *sub
		working.AppendTransaction(domain.SubscriptionTransactionRef{
			Identity: renewalTx.Identity(),
			Status:   domain.TransactionCompleted,
			Duration: outcome.Duration,
			StartsAt: renewalTx.StartsAt,
		})
		resetAttempts := 0
		_, err := r.Repo.UpdateSubscription(ctx, sub.Identity(), repository.SubscriptionPatch{
			Transactions:    working.Transactions,
			StartsAt:        &working.StartsAt,
			ExpiresAt:       &working.ExpiresAt,
			RenewalAttempts: &resetAttempts,
		}, sub.Version)
		return err

	case adapter.RechargeFailed:
		failedAt := outcome.FailedAt
		if failedAt.IsZero() {
			failedAt = r.Clock.Now()
		}
		nextAttempts := attemptIndex
		_, err := r.Repo.UpdateSubscription(ctx, sub.Identity(), repository.SubscriptionPatch{
			LastFailedAt:    &failedAt,
			RenewalAttempts: &nextAttempts,
		}, sub.Version)
		return err

	case adapter.RechargeCanceled:
		canceledAt := outcome.CanceledAt
		if canceledAt.IsZero() {
			canceledAt = r.Clock.Now()
		}
		renewalDisabled := false
		_, err := r.Repo.UpdateSubscription(ctx, sub.Identity(), repository.SubscriptionPatch{
			CanceledAt:     &canceledAt,
			RenewalEnabled: &renewalDisabled,
		}, sub.Version)
		return err
	}

	return nil
}

// CheckUncompletedSubscription finds subscriptions whose initiating
// transaction is confirmed but whose subscribed linkage was never received,
// and applies the provider's current view (§4.6 point 3).
func (r *Reconciler) CheckUncompletedSubscription(ctx context.Context, provider string, sink repository.ErrorSink) error {
	return r.withLease(ctx, provider, "check-uncompleted-subscription", func(ctx context.Context) error {
		a, err := r.Registry.Adapter(provider)
		if err != nil {
			return err
		}
		if !a.Capabilities()[adapter.CapabilitySubscribedEvent] {
			return nil
		}

		now := r.Clock.Now()
		uncompleted, err := r.Repo.ListUncompletedSubscriptions(ctx, provider, now)
		if err != nil {
			return err
		}

		for i := range uncompleted {
			sub := uncompleted[i]
			if err := r.applySubscriptionQuery(ctx, a, &sub); err != nil {
				sink(sub.OriginalTransactionID, err)
			}
		}
		return nil
	})
}

func (r *Reconciler) applySubscriptionQuery(ctx context.Context, a adapter.Adapter, sub *domain.Subscription) error {
	result, err := a.QuerySubscriptionStatus(ctx, sub.OriginalTransactionID)
	if err != nil {
		return billingerrors.ErrProviderFailure.Wrap(err)
	}

	switch result.Type {
	case adapter.QuerySubscribed:
		enabled := true
		_, err := r.Repo.UpdateSubscription(ctx, sub.Identity(), repository.SubscriptionPatch{
			RenewalEnabled: &enabled,
		}, sub.Version)
		return err
	case adapter.QueryCanceled:
		if err := domain.ValidateSubscriptionCancel(sub); err != nil {
			return err
		}
		canceledAt := result.CanceledAt
		if canceledAt.IsZero() {
			canceledAt = r.Clock.Now()
		}
		disabled := false
		_, err := r.Repo.UpdateSubscription(ctx, sub.Identity(), repository.SubscriptionPatch{
			CanceledAt:     &canceledAt,
			RenewalEnabled: &disabled,
		}, sub.Version)
		return err
	}
	return nil
}
