package billingops

import (
	"context"

	"go.uber.org/zap"

	"payments-engine/internal/billing/actionqueue"
	"payments-engine/internal/billing/adapter"
	"payments-engine/internal/billing/domain"
	"payments-engine/internal/billing/repository"
	billingerrors "payments-engine/pkg/errors"
	"payments-engine/pkg/logutil"
)

// HandleCallback implements the callback dispatcher (C5): parse the
// provider's payload, locate the target aggregate, and apply the
// transition defined in §4.3/§4.4 under the aggregate's optimistic lock.
//
// A callback that would re-apply a terminal transition fails loudly with
// callback-rejected (§4.5 point 4, §9 "idempotence vs. loud rejection") —
// it is never swallowed as a no-op, because that is exactly how provider
// double-delivery and operator mistakes are supposed to surface.
func (o *Ops) HandleCallback(ctx context.Context, provider string, payload []byte) error {
	logger := logutil.UseCaseLogger(ctx, "billing", "handle_callback")

	select {
	case <-ctx.Done():
		return errCanceled()
	default:
	}

	a, err := o.Registry.Adapter(provider)
	if err != nil {
		return err
	}

	event, err := a.ParseCallback(ctx, payload)
	if err != nil {
		return billingerrors.ErrUnrecognizedEvent.Wrap(err)
	}

	logger = logger.With(
		zap.String("provider", provider),
		zap.String("eventType", string(event.Type)),
		zap.String("transactionId", event.TransactionID),
		zap.String("originalTransactionId", event.OriginalTransactionID),
	)

	switch event.Type {
	case adapter.EventPaymentConfirmed:
		err = o.applyPaymentConfirmed(ctx, provider, event)
	case adapter.EventPaymentCanceled:
		err = o.applyPaymentCanceled(ctx, provider, event)
	case adapter.EventSubscribed:
		err = o.applySubscribed(ctx, provider, event)
	case adapter.EventSubscriptionRenewal:
		err = o.applySubscriptionRenewal(ctx, provider, event)
	case adapter.EventSubscriptionCanceled:
		err = o.applySubscriptionCanceled(ctx, provider, event)
	default:
		logger.Warn("unrecognized event type")
		return billingerrors.ErrUnrecognizedEvent
	}

	if err == billingerrors.ErrConflictingTerminalTransition {
		logger.Warn("callback rejected: terminal transition already applied")
		return billingerrors.ErrCallbackRejected
	}
	if err != nil {
		logger.Error("callback application failed", zap.Error(err))
		return err
	}

	logger.Info("callback applied")
	return nil
}

func (o *Ops) applyPaymentConfirmed(ctx context.Context, provider string, event adapter.Event) error {
	id := domain.TransactionIdentity{Provider: provider, TransactionID: event.TransactionID}

	purchasedAt := event.PurchasedAt
	completedAt := o.Clock.Now()
	if purchasedAt.IsZero() {
		purchasedAt = completedAt
	}

	var updated *domain.Transaction
	err := withConflictRetry(func() error {
		tx, err := o.Repo.FindTransaction(ctx, id)
		if err != nil {
			return err
		}
		if tx == nil {
			return billingerrors.ErrTransactionNotFound
		}
		if err := domain.ValidateTransactionTransition(tx.Status(), domain.TransactionCompleted); err != nil {
			return err
		}

		updated, err = o.Repo.UpdateTransaction(ctx, id, repository.TransactionPatch{
			PurchasedAt: &purchasedAt,
			CompletedAt: &completedAt,
		}, tx.Version)
		return err
	})
	if err != nil {
		return err
	}

	if updated.IsSubscriptionTransaction() {
		return o.syncSubscriptionOnConfirm(ctx, updated)
	}
	return nil
}

func (o *Ops) applyPaymentCanceled(ctx context.Context, provider string, event adapter.Event) error {
	id := domain.TransactionIdentity{Provider: provider, TransactionID: event.TransactionID}

	canceledAt := event.CanceledAt
	if canceledAt.IsZero() {
		canceledAt = o.Clock.Now()
	}

	var updated *domain.Transaction
	err := withConflictRetry(func() error {
		tx, err := o.Repo.FindTransaction(ctx, id)
		if err != nil {
			return err
		}
		if tx == nil {
			return billingerrors.ErrTransactionNotFound
		}
		if err := domain.ValidateTransactionTransition(tx.Status(), domain.TransactionCanceled); err != nil {
			return err
		}

		updated, err = o.Repo.UpdateTransaction(ctx, id, repository.TransactionPatch{
			CanceledAt: &canceledAt,
		}, tx.Version)
		return err
	})
	if err != nil {
		return err
	}

	if updated.IsSubscriptionTransaction() {
		return o.syncSubscriptionTransactionStatus(ctx, updated)
	}
	return nil
}

// applySubscribed binds renewalEnabled = true on the out-of-band linkage
// event (§4.4 "Subscribed linkage"). Its absence never blocks active
// status; payment-confirmed alone is sufficient. A replayed subscribed
// event, once the binding is already in place, is a re-applied terminal
// transition like any other (§4.5 point 4, §8 scenario 1) and is rejected
// rather than silently absorbed.
func (o *Ops) applySubscribed(ctx context.Context, provider string, event adapter.Event) error {
	subID := domain.SubscriptionIdentity{Provider: provider, OriginalTransactionID: event.OriginalTransactionID}

	var wasActive bool
	enabled := true
	err := withConflictRetry(func() error {
		sub, err := o.Repo.FindSubscription(ctx, subID)
		if err != nil {
			return err
		}
		if sub == nil {
			return billingerrors.ErrSubscriptionNotFound
		}
		if sub.RenewalEnabled {
			return billingerrors.ErrConflictingTerminalTransition
		}

		wasActive = sub.Status(o.Clock.Now()) == domain.SubscriptionActive
		_, err = o.Repo.UpdateSubscription(ctx, subID, repository.SubscriptionPatch{
			RenewalEnabled: &enabled,
		}, sub.Version)
		return err
	})
	if err != nil {
		return err
	}

	if !wasActive {
		return o.enqueueActivatedIfNowActive(ctx, subID)
	}
	return nil
}

func (o *Ops) applySubscriptionRenewal(ctx context.Context, provider string, event adapter.Event) error {
	subID := domain.SubscriptionIdentity{Provider: provider, OriginalTransactionID: event.OriginalTransactionID}
	sub, err := o.Repo.FindSubscription(ctx, subID)
	if err != nil {
		return err
	}
	if sub == nil {
		return billingerrors.ErrSubscriptionNotFound
	}
	if err := domain.ValidateSubscriptionRenewal(sub); err != nil {
		return err
	}

	renewalTx := domain.Transaction{
		Provider:              provider,
		TransactionID:         event.TransactionID,
		UserID:                sub.UserID,
		ProductID:             sub.ProductID,
		Type:                  domain.ProductTypeSubscription,
		CreatedAt:             o.Clock.Now(),
		StartsAt:              sub.ExpiresAt,
		PaymentExpiresAt:      o.Clock.Now(),
		Duration:              event.Duration,
		OriginalTransactionID: sub.OriginalTransactionID,
	}
	purchasedAt := event.PurchasedAt
	if purchasedAt.IsZero() {
		purchasedAt = o.Clock.Now()
	}
	renewalTx.MarkCompleted(purchasedAt, purchasedAt)

	if err := o.Repo.InsertTransaction(ctx, &renewalTx); err != nil {
		return err
	}

	working := *sub
	working.AppendTransaction(domain.SubscriptionTransactionRef{
		Identity: renewalTx.Identity(),
		Status:   domain.TransactionCompleted,
		Duration: event.Duration,
		StartsAt: renewalTx.StartsAt,
	})
	patch := repository.SubscriptionPatch{
		Transactions: working.Transactions,
		StartsAt:     &working.StartsAt,
		ExpiresAt:    &working.ExpiresAt,
	}
	return withConflictRetry(func() error {
		current, err := o.Repo.FindSubscription(ctx, subID)
		if err != nil {
			return err
		}
		if current == nil {
			return billingerrors.ErrSubscriptionNotFound
		}
		_, err = o.Repo.UpdateSubscription(ctx, subID, patch, current.Version)
		return err
	})
}

func (o *Ops) applySubscriptionCanceled(ctx context.Context, provider string, event adapter.Event) error {
	subID := domain.SubscriptionIdentity{Provider: provider, OriginalTransactionID: event.OriginalTransactionID}

	canceledAt := event.CanceledAt
	if canceledAt.IsZero() {
		canceledAt = o.Clock.Now()
	}
	disabled := false

	return withConflictRetry(func() error {
		sub, err := o.Repo.FindSubscription(ctx, subID)
		if err != nil {
			return err
		}
		if sub == nil {
			return billingerrors.ErrSubscriptionNotFound
		}
		if err := domain.ValidateSubscriptionCancel(sub); err != nil {
			return err
		}

		_, err = o.Repo.UpdateSubscription(ctx, subID, repository.SubscriptionPatch{
			CanceledAt:     &canceledAt,
			RenewalEnabled: &disabled,
		}, sub.Version)
		return err
	})
}

// syncSubscriptionOnConfirm updates the denormalized transaction reference
// on the owning subscription when its initiating or renewal transaction is
// confirmed, and enqueues a subscription-activated notification (C8) the
// first time the subscription crosses into active.
func (o *Ops) syncSubscriptionOnConfirm(ctx context.Context, tx *domain.Transaction) error {
	subID := domain.SubscriptionIdentity{Provider: tx.Provider, OriginalTransactionID: tx.OriginalTransactionID}

	var wasActive, patched bool
	err := withConflictRetry(func() error {
		sub, err := o.Repo.FindSubscription(ctx, subID)
		if err != nil {
			return err
		}
		if sub == nil {
			return nil
		}

		wasActive = sub.Status(o.Clock.Now()) == domain.SubscriptionActive
		patched = false

		working := *sub
		if !working.UpdateTransactionStatus(tx.Identity(), tx.Status(), tx.Duration) {
			return nil
		}
		_, err = o.Repo.UpdateSubscription(ctx, subID, repository.SubscriptionPatch{
			Transactions: working.Transactions,
			StartsAt:     &working.StartsAt,
			ExpiresAt:    &working.ExpiresAt,
		}, sub.Version)
		patched = err == nil
		return err
	})
	if err != nil {
		return err
	}

	if patched && !wasActive {
		return o.enqueueActivatedIfNowActive(ctx, subID)
	}
	return nil
}

// syncSubscriptionTransactionStatus updates the denormalized transaction
// status on the owning subscription without touching RenewalEnabled (used
// when a transaction is canceled rather than confirmed).
func (o *Ops) syncSubscriptionTransactionStatus(ctx context.Context, tx *domain.Transaction) error {
	subID := domain.SubscriptionIdentity{Provider: tx.Provider, OriginalTransactionID: tx.OriginalTransactionID}

	var priorTxCount int
	var patched bool
	err := withConflictRetry(func() error {
		sub, err := o.Repo.FindSubscription(ctx, subID)
		if err != nil {
			return err
		}
		if sub == nil {
			return nil
		}

		priorTxCount = len(sub.Transactions)
		patched = false

		working := *sub
		if !working.UpdateTransactionStatus(tx.Identity(), tx.Status(), tx.Duration) {
			return nil
		}
		_, err = o.Repo.UpdateSubscription(ctx, subID, repository.SubscriptionPatch{
			Transactions: working.Transactions,
		}, sub.Version)
		patched = err == nil
		return err
	})
	if err != nil {
		return err
	}

	if patched && tx.IsTerminal() && tx.Status() == domain.TransactionCanceled && priorTxCount == 1 && o.CascadeTransactionExpiryToSubscription {
		// The subscription's only (initiating) transaction was canceled:
		// cascade per §9.1's resolved open question.
		return o.Actions.Enqueue(ctx, actionqueue.Action{
			Type:                  actionqueue.TypeCascadeCancelSubscription,
			Provider:              tx.Provider,
			OriginalTransactionID: tx.OriginalTransactionID,
			EnqueuedAt:            o.Clock.Now(),
		})
	}
	return nil
}

func (o *Ops) enqueueActivatedIfNowActive(ctx context.Context, subID domain.SubscriptionIdentity) error {
	sub, err := o.Repo.FindSubscription(ctx, subID)
	if err != nil {
		return err
	}
	if sub == nil || sub.Status(o.Clock.Now()) != domain.SubscriptionActive {
		return nil
	}
	return o.Actions.Enqueue(ctx, actionqueue.Action{
		Type:                  actionqueue.TypeSubscriptionActivated,
		Provider:              sub.Provider,
		OriginalTransactionID: sub.OriginalTransactionID,
		EnqueuedAt:            o.Clock.Now(),
	})
}
