package billingops

import (
	"context"

	"payments-engine/internal/billing/adapter"
	"payments-engine/internal/billing/domain"
	"payments-engine/internal/billing/repository"
	billingerrors "payments-engine/pkg/errors"
	"payments-engine/pkg/logutil"
)

// CancelSubscriptionRequest identifies the subscription an operator wants
// to cancel directly, outside of any provider callback.
type CancelSubscriptionRequest struct {
	Provider              string
	OriginalTransactionID string
}

// CancelSubscription implements the "cancel op" edge of §4.4's active →
// canceled transition: an operator-initiated cancellation, as distinct
// from a provider-delivered cancel event (applySubscriptionCanceled).
//
// Unlike the plan-change cascade (which falls back to an action-queue
// entry when the adapter lacks cancel-subscription support, because the
// old subscription is already being superseded regardless), a direct
// operator cancel has no fallback path to complete silently: a missing
// capability fails loudly per §9's adapter-polymorphism rule rather than
// reporting success without ever calling the provider.
func (o *Ops) CancelSubscription(ctx context.Context, req CancelSubscriptionRequest) error {
	logger := logutil.UseCaseLogger(ctx, "billing", "cancel_subscription")

	select {
	case <-ctx.Done():
		return errCanceled()
	default:
	}

	subID := domain.SubscriptionIdentity{Provider: req.Provider, OriginalTransactionID: req.OriginalTransactionID}
	sub, err := o.Repo.FindSubscription(ctx, subID)
	if err != nil {
		logger.Error("failed to load subscription")
		return err
	}
	if sub == nil {
		return billingerrors.ErrSubscriptionNotFound
	}
	if err := domain.ValidateSubscriptionCancel(sub); err != nil {
		return err
	}

	a, err := o.Registry.Adapter(req.Provider)
	if err != nil {
		return err
	}
	if !a.Capabilities()[adapter.CapabilityCancelSubscription] {
		return billingerrors.ErrCapabilityUnsupported
	}

	txCtx := adapter.OriginalTxContext{
		OriginalTransactionID: sub.OriginalTransactionID,
		UserID:                sub.UserID,
		ProductID:             sub.ProductID,
	}
	if _, err := a.CancelSubscription(ctx, txCtx); err != nil {
		logger.Error("provider rejected cancel-subscription call")
		return providerFailure(err)
	}

	canceledAt := o.Clock.Now()
	disabled := false
	version := sub.Version
	attempted := false
	return withConflictRetry(func() error {
		if attempted {
			current, err := o.Repo.FindSubscription(ctx, subID)
			if err != nil {
				return err
			}
			if current == nil {
				return billingerrors.ErrSubscriptionNotFound
			}
			version = current.Version
		}
		attempted = true
		_, err := o.Repo.UpdateSubscription(ctx, subID, repository.SubscriptionPatch{
			CanceledAt:     &canceledAt,
			RenewalEnabled: &disabled,
		}, version)
		return err
	})
}
