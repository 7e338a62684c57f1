package domain

import "time"

// TransactionStatus is the derived lifecycle state of a Transaction.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionCanceled  TransactionStatus = "canceled"
)

// TransactionIdentity is the natural key of a Transaction: unique per provider.
type TransactionIdentity struct {
	Provider      string `bson:"provider" json:"provider"`
	TransactionID string `bson:"transactionId" json:"transactionId"`
}

// Transaction is a single payment attempt, purchase or subscription-initiating
// or -renewing.
type Transaction struct {
	Provider      string `bson:"provider" json:"provider"`
	TransactionID string `bson:"transactionId" json:"transactionId"`

	UserID    string      `bson:"userId" json:"userId"`
	ProductID string      `bson:"productId" json:"productId"`
	Type      ProductType `bson:"type" json:"type"`

	CreatedAt        time.Time  `bson:"createdAt" json:"createdAt"`
	StartsAt         time.Time  `bson:"startsAt" json:"startsAt"`
	PaymentExpiresAt time.Time  `bson:"paymentExpiresAt" json:"paymentExpiresAt"`
	PurchasedAt      *time.Time `bson:"purchasedAt,omitempty" json:"purchasedAt,omitempty"`
	CompletedAt      *time.Time `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	CanceledAt       *time.Time `bson:"canceledAt,omitempty" json:"canceledAt,omitempty"`

	// Duration is set for subscription-initiating and renewal transactions.
	Duration time.Duration `bson:"duration,omitempty" json:"duration,omitempty"`

	// OriginalTransactionID links a renewal (or the initiating transaction
	// itself) to the subscription it belongs to. Empty for purchases.
	OriginalTransactionID string `bson:"originalTransactionId,omitempty" json:"originalTransactionId,omitempty"`

	// Raw is the opaque provider response blob, kept for audit/debugging.
	Raw map[string]interface{} `bson:"raw,omitempty" json:"raw,omitempty"`

	Version       int64 `bson:"version" json:"version"`
	SchemaVersion int   `bson:"schemaVersion" json:"schemaVersion"`
}

// Identity returns the natural key of this transaction.
func (t *Transaction) Identity() TransactionIdentity {
	return TransactionIdentity{Provider: t.Provider, TransactionID: t.TransactionID}
}

// Status derives the lifecycle state from the terminal timestamps.
// CompletedAt and CanceledAt are mutually exclusive by construction
// (see MarkCompleted/MarkCanceled); if neither is set the transaction
// is still pending.
func (t *Transaction) Status() TransactionStatus {
	switch {
	case t.CompletedAt != nil:
		return TransactionCompleted
	case t.CanceledAt != nil:
		return TransactionCanceled
	default:
		return TransactionPending
	}
}

// IsTerminal reports whether the transaction has reached completed or canceled.
func (t *Transaction) IsTerminal() bool {
	return t.Status() != TransactionPending
}

// IsExpired reports whether the payment window has closed while the
// transaction is still pending.
func (t *Transaction) IsExpired(now time.Time) bool {
	return t.Status() == TransactionPending && !t.PaymentExpiresAt.After(now)
}

// MarkCompleted sets the terminal completed timestamps. The caller must
// already have verified the transaction is pending (ValidateTransactionTransition).
func (t *Transaction) MarkCompleted(purchasedAt, completedAt time.Time) {
	t.PurchasedAt = &purchasedAt
	t.CompletedAt = &completedAt
}

// MarkCanceled sets the terminal canceled timestamp.
func (t *Transaction) MarkCanceled(canceledAt time.Time) {
	t.CanceledAt = &canceledAt
}

// IsSubscriptionTransaction reports whether this transaction belongs to a
// subscription (initiating or renewal) rather than being a bare purchase.
func (t *Transaction) IsSubscriptionTransaction() bool {
	return t.OriginalTransactionID != ""
}
