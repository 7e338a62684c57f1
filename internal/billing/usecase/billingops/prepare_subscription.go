package billingops

import (
	"context"

	"go.uber.org/zap"

	"payments-engine/internal/billing/actionqueue"
	"payments-engine/internal/billing/adapter"
	"payments-engine/internal/billing/domain"
	billingerrors "payments-engine/pkg/errors"
	"payments-engine/pkg/logutil"
)

// PrepareSubscriptionRequest is the input to PrepareSubscription.
type PrepareSubscriptionRequest struct {
	Provider  string
	ProductID string
	UserID    string
}

// PrepareSubscriptionResponse is the output of PrepareSubscription.
type PrepareSubscriptionResponse struct {
	// Response is nil when an existing same-plan subscription's handle is
	// returned idempotently (no new provider round-trip was made).
	Response interface{}
	Identity domain.SubscriptionIdentity
}

// PrepareSubscription implements §4.4's "Preparation" procedure, including
// the idempotent same-plan case and the plan-change case.
func (o *Ops) PrepareSubscription(ctx context.Context, req PrepareSubscriptionRequest) (PrepareSubscriptionResponse, error) {
	logger := logutil.UseCaseLogger(ctx, "billing", "prepare_subscription")

	select {
	case <-ctx.Done():
		return PrepareSubscriptionResponse{}, errCanceled()
	default:
	}

	a, err := o.Registry.Adapter(req.Provider)
	if err != nil {
		return PrepareSubscriptionResponse{}, err
	}

	product, err := o.Registry.RequireProduct(ctx, req.Provider, req.ProductID)
	if err != nil {
		return PrepareSubscriptionResponse{}, err
	}
	if !product.IsSubscription() {
		return PrepareSubscriptionResponse{}, billingerrors.ErrUnknownProduct.Wrap(
			errorf("product %q is not a subscription product", product.ID))
	}

	now := o.Clock.Now()

	existing, err := o.Repo.ListSubscriptionsActiveForUserGroup(ctx, req.UserID, product.Group, now)
	if err != nil {
		return PrepareSubscriptionResponse{}, err
	}

	var prior *domain.Subscription
	for i := range existing {
		if existing[i].ProductID == product.ID {
			// Idempotent same-plan prepare: return the existing handle.
			id := existing[i].Identity()
			return PrepareSubscriptionResponse{Identity: id}, nil
		}
		prior = &existing[i]
	}

	startsAt := now
	if prior != nil {
		startsAt = prior.ExpiresAt
	}

	paymentExpiresAt := now.Add(o.PurchaseExpiresAfter)
	result, err := a.PrepareSubscriptionData(ctx, adapter.PrepareSubscriptionParams{
		StartsAt:         startsAt,
		Product:          product,
		PaymentExpiresAt: paymentExpiresAt,
		UserID:           req.UserID,
	})
	if err != nil {
		logger.Error("adapter failed to prepare subscription", zap.Error(err))
		return PrepareSubscriptionResponse{}, providerFailure(err)
	}

	initialTx := domain.Transaction{
		Provider:              req.Provider,
		TransactionID:         result.TransactionID,
		UserID:                req.UserID,
		ProductID:             product.ID,
		Type:                  domain.ProductTypeSubscription,
		CreatedAt:             now,
		StartsAt:              startsAt,
		PaymentExpiresAt:      paymentExpiresAt,
		Duration:              result.Duration,
		OriginalTransactionID: result.OriginalTransactionID,
	}

	sub := domain.Subscription{
		Provider:              req.Provider,
		OriginalTransactionID: result.OriginalTransactionID,
		UserID:                req.UserID,
		ProductGroup:          product.Group,
		ProductID:             product.ID,
		StartsAt:              startsAt,
		Transactions: []domain.SubscriptionTransactionRef{{
			Identity: initialTx.Identity(),
			Status:   domain.TransactionPending,
			Duration: result.Duration,
			StartsAt: startsAt,
		}},
	}

	// Forward-recoverable two-phase write (§4.2/§5): the new aggregate's
	// pending record is written first.
	if err := o.Repo.InsertTransaction(ctx, &initialTx); err != nil {
		return PrepareSubscriptionResponse{}, err
	}
	if err := o.Repo.InsertSubscription(ctx, &sub); err != nil {
		return PrepareSubscriptionResponse{}, err
	}

	if prior != nil {
		if err := o.cancelPriorSubscription(ctx, a, prior); err != nil {
			logger.Error("failed to cancel prior subscription on plan change", zap.Error(err))
			return PrepareSubscriptionResponse{}, err
		}
	}

	logger.Info("subscription prepared",
		zap.String("provider", req.Provider),
		zap.String("originalTransactionId", sub.OriginalTransactionID),
		zap.Bool("planChange", prior != nil),
	)

	return PrepareSubscriptionResponse{Response: result.Response, Identity: sub.Identity()}, nil
}

// cancelPriorSubscription flips the superseded subscription to canceled,
// the second phase of the plan-change write. If the adapter supports
// cancel-subscription, the provider call is made synchronously here;
// otherwise a cancel-subscription-at-provider action is queued and the
// plan change completes. The handler of that action checks the same
// capability and, finding it absent, only logs a warning, so no
// cancellation reaches such a provider.
func (o *Ops) cancelPriorSubscription(ctx context.Context, a adapter.Adapter, prior *domain.Subscription) error {
	if a.Capabilities()[adapter.CapabilityCancelSubscription] {
		txCtx := adapter.OriginalTxContext{
			OriginalTransactionID: prior.OriginalTransactionID,
			UserID:                prior.UserID,
			ProductID:             prior.ProductID,
		}
		if _, err := a.CancelSubscription(ctx, txCtx); err != nil {
			return providerFailure(err)
		}
	} else {
		if err := o.Actions.Enqueue(ctx, actionqueue.Action{
			Type:                  actionqueue.TypeCancelSubscriptionAtProvider,
			Provider:              prior.Provider,
			OriginalTransactionID: prior.OriginalTransactionID,
			EnqueuedAt:            o.Clock.Now(),
		}); err != nil {
			return err
		}
	}

	id := prior.Identity()
	version := prior.Version
	attempted := false
	return withConflictRetry(func() error {
		if attempted {
			current, err := o.Repo.FindSubscription(ctx, id)
			if err != nil {
				return err
			}
			if current == nil {
				return billingerrors.ErrSubscriptionNotFound
			}
			version = current.Version
		}
		attempted = true
		_, err := o.Repo.UpdateSubscription(ctx, id, supersededPatch(o.Clock.Now()), version)
		return err
	})
}
