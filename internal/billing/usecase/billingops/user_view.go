package billingops

import (
	"context"

	"payments-engine/internal/billing/domain"
	"payments-engine/pkg/logutil"
)

// PurchaseReceipt pairs a completed purchase transaction with its
// provider-resolved product's formatted price, for display by callers of
// the user view that don't want to re-resolve the product themselves.
type PurchaseReceipt struct {
	Transaction     domain.Transaction
	FormattedAmount string
}

// Receipts resolves the formatted price for each of v's purchase
// transactions via the registry's cached product descriptors. A product
// that fails to resolve (provider outage, deleted product) yields an
// empty FormattedAmount rather than failing the whole view.
func (o *Ops) Receipts(ctx context.Context, v *domain.User) []PurchaseReceipt {
	receipts := make([]PurchaseReceipt, len(v.PurchaseTransactions))
	for i, tx := range v.PurchaseTransactions {
		receipts[i] = PurchaseReceipt{Transaction: tx}
		product, err := o.Registry.RequireProduct(ctx, tx.Provider, tx.ProductID)
		if err != nil {
			continue
		}
		receipts[i].FormattedAmount = product.FormatAmount()
	}
	return receipts
}

// UserView implements the user view (C7): a pure, read-only projection
// over completed purchases and non-canceled subscriptions for a userId.
func (o *Ops) UserView(ctx context.Context, userID string) (*domain.User, error) {
	logger := logutil.UseCaseLogger(ctx, "billing", "user_view")

	select {
	case <-ctx.Done():
		return nil, errCanceled()
	default:
	}

	now := o.Clock.Now()

	purchases, err := o.Repo.ListUserPurchases(ctx, userID)
	if err != nil {
		logger.Error("failed to list user purchases")
		return nil, err
	}

	subs, err := o.Repo.ListUserSubscriptions(ctx, userID, now)
	if err != nil {
		logger.Error("failed to list user subscriptions")
		return nil, err
	}

	return &domain.User{
		UserID:               userID,
		PurchaseTransactions: purchases,
		Subscriptions:        subs,
	}, nil
}
