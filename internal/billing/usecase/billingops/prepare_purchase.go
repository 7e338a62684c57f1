package billingops

import (
	"context"

	"go.uber.org/zap"

	"payments-engine/internal/billing/adapter"
	"payments-engine/internal/billing/domain"
	"payments-engine/pkg/logutil"
)

// PreparePurchaseRequest is the input to PreparePurchase.
type PreparePurchaseRequest struct {
	Provider  string
	ProductID string
	UserID    string
}

// PreparePurchaseResponse is the output of PreparePurchase: the opaque
// provider payload the caller forwards to its client, plus the pending
// transaction's identity.
type PreparePurchaseResponse struct {
	Response interface{}
	Identity domain.TransactionIdentity
}

// PreparePurchase creates a pending purchase transaction (§4.3 creation).
func (o *Ops) PreparePurchase(ctx context.Context, req PreparePurchaseRequest) (PreparePurchaseResponse, error) {
	logger := logutil.UseCaseLogger(ctx, "billing", "prepare_purchase")

	select {
	case <-ctx.Done():
		return PreparePurchaseResponse{}, errCanceled()
	default:
	}

	a, err := o.Registry.Adapter(req.Provider)
	if err != nil {
		return PreparePurchaseResponse{}, err
	}

	product, err := o.Registry.RequireProduct(ctx, req.Provider, req.ProductID)
	if err != nil {
		logger.Warn("unknown product", zap.String("productId", req.ProductID), zap.Error(err))
		return PreparePurchaseResponse{}, err
	}

	now := o.Clock.Now()
	paymentExpiresAt := now.Add(o.PurchaseExpiresAfter)

	result, err := a.PreparePurchaseData(ctx, adapter.PreparePurchaseParams{
		ProductID:        product.ID,
		PaymentExpiresAt: paymentExpiresAt,
		UserID:           req.UserID,
	})
	if err != nil {
		logger.Error("adapter failed to prepare purchase", zap.Error(err))
		return PreparePurchaseResponse{}, providerFailure(err)
	}

	tx := domain.Transaction{
		Provider:         req.Provider,
		TransactionID:    result.TransactionID,
		UserID:           req.UserID,
		ProductID:        product.ID,
		Type:             domain.ProductTypePurchase,
		CreatedAt:        now,
		StartsAt:         now,
		PaymentExpiresAt: paymentExpiresAt,
	}

	if err := o.Repo.InsertTransaction(ctx, &tx); err != nil {
		return PreparePurchaseResponse{}, err
	}

	logger.Info("purchase prepared",
		zap.String("provider", req.Provider),
		zap.String("transactionId", tx.TransactionID),
		zap.String("userId", req.UserID),
	)

	return PreparePurchaseResponse{Response: result.Response, Identity: tx.Identity()}, nil
}
