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

// ActionHandler returns the actionqueue.Handler that drains every action
// type this engine enqueues. Handlers are idempotent: replaying an action
// whose target aggregate is already in the intended terminal state is a
// no-op rather than an error, since at-least-once delivery (§4.8) means
// the same action may be redriven after a crash.
func (o *Ops) ActionHandler() actionqueue.Handler {
	return func(ctx context.Context, action actionqueue.Action) error {
		switch action.Type {
		case actionqueue.TypeCascadeCancelSubscription:
			return o.handleCascadeCancelSubscription(ctx, action)
		case actionqueue.TypeCancelSubscriptionAtProvider:
			return o.handleCancelSubscriptionAtProvider(ctx, action)
		case actionqueue.TypeSubscriptionActivated:
			return o.handleSubscriptionActivated(ctx, action)
		default:
			return nil
		}
	}
}

func (o *Ops) handleCascadeCancelSubscription(ctx context.Context, action actionqueue.Action) error {
	logger := logutil.UseCaseLogger(ctx, "billing", "action_cascade_cancel")

	subID := domain.SubscriptionIdentity{Provider: action.Provider, OriginalTransactionID: action.OriginalTransactionID}
	sub, err := o.Repo.FindSubscription(ctx, subID)
	if err != nil {
		return err
	}
	if sub == nil {
		// Orphaned-pending cleanup for a subscription insert that never
		// landed: nothing to cascade.
		return nil
	}
	if sub.CanceledAt != nil || sub.Superseded {
		return nil
	}
	for _, tx := range sub.Transactions {
		if tx.Status == domain.TransactionCompleted {
			// A later transaction already confirmed entitlement; cascade
			// only applies to an initiating transaction that expired with
			// no other confirmed coverage (§9.1).
			return nil
		}
	}

	canceledAt := o.Clock.Now()
	_, err = o.Repo.UpdateSubscription(ctx, subID, repository.SubscriptionPatch{
		CanceledAt:     &canceledAt,
		RenewalEnabled: boolPtr(false),
	}, sub.Version)
	if err != nil && err != billingerrors.ErrConflict {
		logger.Error("cascade cancel failed", zap.Error(err))
		return err
	}
	return nil
}

func (o *Ops) handleCancelSubscriptionAtProvider(ctx context.Context, action actionqueue.Action) error {
	logger := logutil.UseCaseLogger(ctx, "billing", "action_cancel_at_provider")

	a, err := o.Registry.Adapter(action.Provider)
	if err != nil {
		return err
	}
	if !a.Capabilities()[adapter.CapabilityCancelSubscription] {
		logger.Warn("adapter advertises no cancel-subscription capability; leaving for operator follow-up")
		return nil
	}

	_, err = a.CancelSubscription(ctx, adapter.OriginalTxContext{
		OriginalTransactionID: action.OriginalTransactionID,
	})
	if err != nil {
		return providerFailure(err)
	}
	return nil
}

func (o *Ops) handleSubscriptionActivated(ctx context.Context, action actionqueue.Action) error {
	logutil.UseCaseLogger(ctx, "billing", "action_subscription_activated").Info("subscription activated",
		zap.String("provider", action.Provider),
		zap.String("originalTransactionId", action.OriginalTransactionID),
	)
	return nil
}

func boolPtr(b bool) *bool { return &b }
