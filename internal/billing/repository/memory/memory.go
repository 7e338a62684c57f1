// Package memory is an in-memory Repository implementation used by unit
// tests and as a default store for small deployments. It mirrors the
// locking and not-found conventions of the teacher's in-memory payment
// repository, adapted to the engine's three collections.
package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"payments-engine/internal/billing/domain"
	"payments-engine/internal/billing/repository"
	billingerrors "payments-engine/pkg/errors"
	"payments-engine/pkg/logutil"
)

const repositoryName = "memory"

// Repository is a sync.RWMutex-guarded, map-backed Repository.
type Repository struct {
	mu sync.RWMutex

	transactions  map[domain.TransactionIdentity]*domain.Transaction
	subscriptions map[domain.SubscriptionIdentity]*domain.Subscription
}

var _ repository.Repository = (*Repository)(nil)

// New returns an empty in-memory Repository.
func New() *Repository {
	return &Repository{
		transactions:  make(map[domain.TransactionIdentity]*domain.Transaction),
		subscriptions: make(map[domain.SubscriptionIdentity]*domain.Subscription),
	}
}

func cloneTransaction(tx *domain.Transaction) *domain.Transaction {
	c := *tx
	if tx.PurchasedAt != nil {
		t := *tx.PurchasedAt
		c.PurchasedAt = &t
	}
	if tx.CompletedAt != nil {
		t := *tx.CompletedAt
		c.CompletedAt = &t
	}
	if tx.CanceledAt != nil {
		t := *tx.CanceledAt
		c.CanceledAt = &t
	}
	return &c
}

func cloneSubscription(sub *domain.Subscription) *domain.Subscription {
	c := *sub
	c.Transactions = append([]domain.SubscriptionTransactionRef(nil), sub.Transactions...)
	if sub.CanceledAt != nil {
		t := *sub.CanceledAt
		c.CanceledAt = &t
	}
	if sub.LastFailedAt != nil {
		t := *sub.LastFailedAt
		c.LastFailedAt = &t
	}
	return &c
}

// FindTransaction implements repository.Repository.
func (r *Repository) FindTransaction(_ context.Context, id domain.TransactionIdentity) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx, ok := r.transactions[id]
	if !ok {
		return nil, nil
	}
	return cloneTransaction(tx), nil
}

// FindSubscription implements repository.Repository.
func (r *Repository) FindSubscription(_ context.Context, id domain.SubscriptionIdentity) (*domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subscriptions[id]
	if !ok {
		return nil, nil
	}
	return cloneSubscription(sub), nil
}

// InsertTransaction implements repository.Repository.
func (r *Repository) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	logger := logutil.RepositoryLogger(ctx, repositoryName, "insert_transaction")

	r.mu.Lock()
	defer r.mu.Unlock()
	id := tx.Identity()
	if _, ok := r.transactions[id]; ok {
		logger.Warn("duplicate transaction", zap.String("transactionId", id.TransactionID))
		return billingerrors.ErrDuplicateAggregate
	}
	stored := cloneTransaction(tx)
	stored.Version = 1
	r.transactions[id] = stored
	logger.Debug("transaction inserted", zap.String("transactionId", id.TransactionID))
	return nil
}

// InsertSubscription implements repository.Repository.
func (r *Repository) InsertSubscription(ctx context.Context, sub *domain.Subscription) error {
	logger := logutil.RepositoryLogger(ctx, repositoryName, "insert_subscription")

	r.mu.Lock()
	defer r.mu.Unlock()
	id := sub.Identity()
	if _, ok := r.subscriptions[id]; ok {
		logger.Warn("duplicate subscription", zap.String("originalTransactionId", id.OriginalTransactionID))
		return billingerrors.ErrDuplicateAggregate
	}
	stored := cloneSubscription(sub)
	stored.Version = 1
	r.subscriptions[id] = stored
	logger.Debug("subscription inserted", zap.String("originalTransactionId", id.OriginalTransactionID))
	return nil
}

// UpdateTransaction implements repository.Repository.
func (r *Repository) UpdateTransaction(ctx context.Context, id domain.TransactionIdentity, patch repository.TransactionPatch, expectedVersion int64) (*domain.Transaction, error) {
	logger := logutil.RepositoryLogger(ctx, repositoryName, "update_transaction")

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.transactions[id]
	if !ok {
		return nil, billingerrors.ErrTransactionNotFound
	}
	if tx.Version != expectedVersion {
		logger.Warn("optimistic conflict",
			zap.String("transactionId", id.TransactionID),
			zap.Int64("expectedVersion", expectedVersion),
			zap.Int64("actualVersion", tx.Version),
		)
		return nil, billingerrors.ErrConflict
	}

	if patch.PurchasedAt != nil {
		tx.PurchasedAt = patch.PurchasedAt
	}
	if patch.CompletedAt != nil {
		tx.CompletedAt = patch.CompletedAt
	}
	if patch.CanceledAt != nil {
		tx.CanceledAt = patch.CanceledAt
	}
	if patch.Duration != nil {
		tx.Duration = *patch.Duration
	}
	tx.Version++

	return cloneTransaction(tx), nil
}

// UpdateSubscription implements repository.Repository.
func (r *Repository) UpdateSubscription(ctx context.Context, id domain.SubscriptionIdentity, patch repository.SubscriptionPatch, expectedVersion int64) (*domain.Subscription, error) {
	logger := logutil.RepositoryLogger(ctx, repositoryName, "update_subscription")

	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subscriptions[id]
	if !ok {
		return nil, billingerrors.ErrSubscriptionNotFound
	}
	if sub.Version != expectedVersion {
		logger.Warn("optimistic conflict",
			zap.String("originalTransactionId", id.OriginalTransactionID),
			zap.Int64("expectedVersion", expectedVersion),
			zap.Int64("actualVersion", sub.Version),
		)
		return nil, billingerrors.ErrConflict
	}

	if patch.Transactions != nil {
		sub.Transactions = patch.Transactions
	}
	if patch.CanceledAt != nil {
		sub.CanceledAt = patch.CanceledAt
	}
	if patch.RenewalEnabled != nil {
		sub.RenewalEnabled = *patch.RenewalEnabled
	}
	if patch.LastFailedAt != nil {
		sub.LastFailedAt = patch.LastFailedAt
	}
	if patch.RenewalAttempts != nil {
		sub.RenewalAttempts = *patch.RenewalAttempts
	}
	if patch.Superseded != nil {
		sub.Superseded = *patch.Superseded
	}
	if patch.StartsAt != nil && patch.ExpiresAt != nil {
		sub.StartsAt = *patch.StartsAt
		sub.ExpiresAt = *patch.ExpiresAt
	} else {
		sub.Recompute()
	}
	sub.Version++

	return cloneSubscription(sub), nil
}

// ListPendingTransactions implements repository.Repository.
func (r *Repository) ListPendingTransactions(_ context.Context, provider string, now time.Time, expiredOnly bool) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Transaction
	for _, tx := range r.transactions {
		if tx.Provider != provider || tx.Status() != domain.TransactionPending {
			continue
		}
		if expiredOnly && tx.PaymentExpiresAt.After(now) {
			continue
		}
		out = append(out, *cloneTransaction(tx))
	}
	return out, nil
}

// ListSubscriptionsDueForRenewal implements repository.Repository.
func (r *Repository) ListSubscriptionsDueForRenewal(_ context.Context, provider string, now time.Time, renewalBefore time.Duration) ([]domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Subscription
	for _, sub := range r.subscriptions {
		if sub.Provider != provider || !sub.RenewalEnabled {
			continue
		}
		if sub.Status(now) != domain.SubscriptionActive {
			continue
		}
		if sub.ExpiresAt.Sub(now) > renewalBefore {
			continue
		}
		out = append(out, *cloneSubscription(sub))
	}
	return out, nil
}

// ListUncompletedSubscriptions implements repository.Repository.
func (r *Repository) ListUncompletedSubscriptions(_ context.Context, provider string, now time.Time) ([]domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Subscription
	for _, sub := range r.subscriptions {
		if sub.Provider != provider || sub.RenewalEnabled {
			continue
		}
		status := sub.Status(now)
		if status != domain.SubscriptionNotStart && status != domain.SubscriptionActive {
			continue
		}
		out = append(out, *cloneSubscription(sub))
	}
	return out, nil
}

// ListSubscriptionsActiveForUserGroup implements repository.Repository.
func (r *Repository) ListSubscriptionsActiveForUserGroup(_ context.Context, userID, group string, now time.Time) ([]domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Subscription
	for _, sub := range r.subscriptions {
		if sub.UserID != userID || sub.ProductGroup != group {
			continue
		}
		status := sub.Status(now)
		if status != domain.SubscriptionActive && status != domain.SubscriptionNotStart {
			continue
		}
		out = append(out, *cloneSubscription(sub))
	}
	return out, nil
}

// ListUserPurchases implements repository.Repository.
func (r *Repository) ListUserPurchases(_ context.Context, userID string) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Transaction
	for _, tx := range r.transactions {
		if tx.UserID != userID || tx.Type != domain.ProductTypePurchase {
			continue
		}
		if tx.Status() != domain.TransactionCompleted {
			continue
		}
		out = append(out, *cloneTransaction(tx))
	}
	return out, nil
}

// ListUserSubscriptions implements repository.Repository.
func (r *Repository) ListUserSubscriptions(_ context.Context, userID string, now time.Time) ([]domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Subscription
	for _, sub := range r.subscriptions {
		if sub.UserID != userID {
			continue
		}
		if sub.Status(now) == domain.SubscriptionCanceled {
			continue
		}
		out = append(out, *cloneSubscription(sub))
	}
	return out, nil
}
