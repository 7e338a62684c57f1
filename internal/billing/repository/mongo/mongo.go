// Package mongo is a MongoDB-backed Repository implementation, literalizing
// §6's "a document store is assumed". It follows the collection-wrapper and
// bson.M update conventions of the teacher's other Mongo repositories,
// extended with a version field driving optimistic concurrency (§4.2/§5).
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"payments-engine/internal/billing/domain"
	"payments-engine/internal/billing/repository"
	billingerrors "payments-engine/pkg/errors"
	"payments-engine/pkg/logutil"
)

const schemaVersion = 1
const repositoryName = "mongo"

// transactionDoc and subscriptionDoc mirror domain.Transaction/Subscription
// but use a composite "_id" so the identity doubles as the Mongo primary
// key, matching the persisted layout §6 describes.
type transactionID struct {
	Provider      string `bson:"provider"`
	TransactionID string `bson:"transactionId"`
}

type subscriptionID struct {
	Provider              string `bson:"provider"`
	OriginalTransactionID string `bson:"originalTransactionId"`
}

type transactionDoc struct {
	ID transactionID `bson:"_id"`
	domain.Transaction `bson:",inline"`
}

type subscriptionDoc struct {
	ID subscriptionID `bson:"_id"`
	domain.Subscription `bson:",inline"`
}

// Repository is a MongoDB-backed repository.Repository.
type Repository struct {
	transactions  *mongo.Collection
	subscriptions *mongo.Collection
}

var _ repository.Repository = (*Repository)(nil)

// New wraps the given database's "transactions" and "subscriptions"
// collections.
func New(db *mongo.Database) *Repository {
	return &Repository{
		transactions:  db.Collection("transactions"),
		subscriptions: db.Collection("subscriptions"),
	}
}

func txID(id domain.TransactionIdentity) transactionID {
	return transactionID{Provider: id.Provider, TransactionID: id.TransactionID}
}

func subID(id domain.SubscriptionIdentity) subscriptionID {
	return subscriptionID{Provider: id.Provider, OriginalTransactionID: id.OriginalTransactionID}
}

// FindTransaction implements repository.Repository.
func (r *Repository) FindTransaction(ctx context.Context, id domain.TransactionIdentity) (*domain.Transaction, error) {
	var doc transactionDoc
	err := r.transactions.FindOne(ctx, bson.M{"_id": txID(id)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc.Transaction, nil
}

// FindSubscription implements repository.Repository.
func (r *Repository) FindSubscription(ctx context.Context, id domain.SubscriptionIdentity) (*domain.Subscription, error) {
	var doc subscriptionDoc
	err := r.subscriptions.FindOne(ctx, bson.M{"_id": subID(id)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc.Subscription, nil
}

// InsertTransaction implements repository.Repository.
func (r *Repository) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	logger := logutil.RepositoryLogger(ctx, repositoryName, "insert_transaction")

	stored := *tx
	stored.Version = 1
	stored.SchemaVersion = schemaVersion
	doc := transactionDoc{ID: txID(tx.Identity()), Transaction: stored}

	_, err := r.transactions.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		logger.Warn("duplicate transaction", zap.String("transactionId", tx.TransactionID))
		return billingerrors.ErrDuplicateAggregate
	}
	if err != nil {
		logger.Error("insert failed", zap.Error(err))
	}
	return err
}

// InsertSubscription implements repository.Repository.
func (r *Repository) InsertSubscription(ctx context.Context, sub *domain.Subscription) error {
	logger := logutil.RepositoryLogger(ctx, repositoryName, "insert_subscription")

	stored := *sub
	stored.Version = 1
	stored.SchemaVersion = schemaVersion
	doc := subscriptionDoc{ID: subID(sub.Identity()), Subscription: stored}

	_, err := r.subscriptions.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		logger.Warn("duplicate subscription", zap.String("originalTransactionId", sub.OriginalTransactionID))
		return billingerrors.ErrDuplicateAggregate
	}
	if err != nil {
		logger.Error("insert failed", zap.Error(err))
	}
	return err
}

// UpdateTransaction implements repository.Repository.
func (r *Repository) UpdateTransaction(ctx context.Context, id domain.TransactionIdentity, patch repository.TransactionPatch, expectedVersion int64) (*domain.Transaction, error) {
	logger := logutil.RepositoryLogger(ctx, repositoryName, "update_transaction")

	set := bson.M{}
	if patch.PurchasedAt != nil {
		set["purchasedAt"] = *patch.PurchasedAt
	}
	if patch.CompletedAt != nil {
		set["completedAt"] = *patch.CompletedAt
	}
	if patch.CanceledAt != nil {
		set["canceledAt"] = *patch.CanceledAt
	}
	if patch.Duration != nil {
		set["duration"] = *patch.Duration
	}
	set["version"] = expectedVersion + 1

	filter := bson.M{"_id": txID(id), "version": expectedVersion}
	after := options.After
	var doc transactionDoc
	err := r.transactions.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, &options.FindOneAndUpdateOptions{ReturnDocument: &after}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		existing, findErr := r.FindTransaction(ctx, id)
		if findErr == nil && existing == nil {
			return nil, billingerrors.ErrTransactionNotFound
		}
		logger.Warn("optimistic conflict",
			zap.String("transactionId", id.TransactionID),
			zap.Int64("expectedVersion", expectedVersion),
		)
		return nil, billingerrors.ErrConflict
	}
	if err != nil {
		logger.Error("update failed", zap.Error(err))
		return nil, err
	}
	return &doc.Transaction, nil
}

// UpdateSubscription implements repository.Repository.
func (r *Repository) UpdateSubscription(ctx context.Context, id domain.SubscriptionIdentity, patch repository.SubscriptionPatch, expectedVersion int64) (*domain.Subscription, error) {
	logger := logutil.RepositoryLogger(ctx, repositoryName, "update_subscription")

	set := bson.M{}
	if patch.Transactions != nil {
		set["transactions"] = patch.Transactions
	}
	if patch.StartsAt != nil {
		set["startsAt"] = *patch.StartsAt
	}
	if patch.ExpiresAt != nil {
		set["expiresAt"] = *patch.ExpiresAt
	}
	if patch.CanceledAt != nil {
		set["canceledAt"] = *patch.CanceledAt
	}
	if patch.RenewalEnabled != nil {
		set["renewalEnabled"] = *patch.RenewalEnabled
	}
	if patch.LastFailedAt != nil {
		set["lastFailedAt"] = *patch.LastFailedAt
	}
	if patch.RenewalAttempts != nil {
		set["renewalAttempts"] = *patch.RenewalAttempts
	}
	if patch.Superseded != nil {
		set["superseded"] = *patch.Superseded
	}
	set["version"] = expectedVersion + 1

	filter := bson.M{"_id": subID(id), "version": expectedVersion}
	after := options.After
	var doc subscriptionDoc
	err := r.subscriptions.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, &options.FindOneAndUpdateOptions{ReturnDocument: &after}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		existing, findErr := r.FindSubscription(ctx, id)
		if findErr == nil && existing == nil {
			return nil, billingerrors.ErrSubscriptionNotFound
		}
		logger.Warn("optimistic conflict",
			zap.String("originalTransactionId", id.OriginalTransactionID),
			zap.Int64("expectedVersion", expectedVersion),
		)
		return nil, billingerrors.ErrConflict
	}
	if err != nil {
		logger.Error("update failed", zap.Error(err))
		return nil, err
	}
	if patch.StartsAt == nil || patch.ExpiresAt == nil {
		doc.Subscription.Recompute()
	}
	return &doc.Subscription, nil
}

// ListPendingTransactions implements repository.Repository.
func (r *Repository) ListPendingTransactions(ctx context.Context, provider string, now time.Time, expiredOnly bool) ([]domain.Transaction, error) {
	filter := bson.M{
		"provider":    provider,
		"completedAt": bson.M{"$exists": false},
		"canceledAt":  bson.M{"$exists": false},
	}
	if expiredOnly {
		filter["paymentExpiresAt"] = bson.M{"$lte": now}
	}
	return r.queryTransactions(ctx, filter)
}

// ListSubscriptionsDueForRenewal implements repository.Repository.
func (r *Repository) ListSubscriptionsDueForRenewal(ctx context.Context, provider string, now time.Time, renewalBefore time.Duration) ([]domain.Subscription, error) {
	filter := bson.M{
		"provider":       provider,
		"renewalEnabled": true,
		"canceledAt":     bson.M{"$exists": false},
		"superseded":     bson.M{"$ne": true},
		"startsAt":       bson.M{"$lte": now},
		"expiresAt":      bson.M{"$gt": now, "$lte": now.Add(renewalBefore)},
	}
	return r.querySubscriptions(ctx, filter)
}

// ListUncompletedSubscriptions implements repository.Repository.
//
// "Uncompleted" means a transaction is confirmed (some transaction
// reference has status completed) but the subscribed linkage event never
// arrived (renewalEnabled still false); it must match both the not-start
// and active derived states, so no comparison against now is made here.
// A still-pending subscription is ruled out by the transaction status, not
// by startsAt, which PrepareSubscription already sets on insert.
func (r *Repository) ListUncompletedSubscriptions(ctx context.Context, provider string, now time.Time) ([]domain.Subscription, error) {
	_ = now
	filter := bson.M{
		"provider":            provider,
		"renewalEnabled":      false,
		"canceledAt":          bson.M{"$exists": false},
		"superseded":          bson.M{"$ne": true},
		"transactions.status": domain.TransactionCompleted,
	}
	return r.querySubscriptions(ctx, filter)
}

// ListSubscriptionsActiveForUserGroup implements repository.Repository.
func (r *Repository) ListSubscriptionsActiveForUserGroup(ctx context.Context, userID, group string, now time.Time) ([]domain.Subscription, error) {
	filter := bson.M{
		"userId":       userID,
		"productGroup": group,
		"canceledAt":   bson.M{"$exists": false},
		"superseded":   bson.M{"$ne": true},
		"expiresAt":    bson.M{"$gt": now},
	}
	return r.querySubscriptions(ctx, filter)
}

// ListUserPurchases implements repository.Repository.
func (r *Repository) ListUserPurchases(ctx context.Context, userID string) ([]domain.Transaction, error) {
	filter := bson.M{
		"userId":      userID,
		"type":        domain.ProductTypePurchase,
		"completedAt": bson.M{"$exists": true},
	}
	return r.queryTransactions(ctx, filter)
}

// ListUserSubscriptions implements repository.Repository.
//
// This only pushes the two permanent cancellation signals (explicit
// canceledAt, plan-change supersession) down into the query; it does not
// replicate domain.Subscription.Status's "confirmed, started, but past
// expiresAt with no cancellation recorded yet" fallback, since that derived
// case depends on comparing two document fields against each other rather
// than against a query parameter. A subscription in that state surfaces
// here until the reconciliation loop (C6) catches up and sets canceledAt;
// callers deriving Status() from the returned records still see it as
// canceled.
func (r *Repository) ListUserSubscriptions(ctx context.Context, userID string, now time.Time) ([]domain.Subscription, error) {
	_ = now
	filter := bson.M{
		"userId":     userID,
		"canceledAt": bson.M{"$exists": false},
		"superseded": bson.M{"$ne": true},
	}
	return r.querySubscriptions(ctx, filter)
}

func (r *Repository) queryTransactions(ctx context.Context, filter bson.M) ([]domain.Transaction, error) {
	cur, err := r.transactions.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []transactionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.Transaction, len(docs))
	for i, d := range docs {
		out[i] = d.Transaction
	}
	return out, nil
}

func (r *Repository) querySubscriptions(ctx context.Context, filter bson.M) ([]domain.Subscription, error) {
	cur, err := r.subscriptions.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []subscriptionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.Subscription, len(docs))
	for i, d := range docs {
		out[i] = d.Subscription
	}
	return out, nil
}
