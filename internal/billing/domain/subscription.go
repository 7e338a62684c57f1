package domain

import "time"

// SubscriptionStatus is the derived lifecycle state of a Subscription.
type SubscriptionStatus string

const (
	SubscriptionPending  SubscriptionStatus = "pending"
	SubscriptionNotStart SubscriptionStatus = "not-start"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// SubscriptionIdentity is the natural key of a Subscription.
type SubscriptionIdentity struct {
	Provider              string `bson:"provider" json:"provider"`
	OriginalTransactionID string `bson:"originalTransactionId" json:"originalTransactionId"`
}

// SubscriptionTransactionRef is a denormalized reference to one of a
// subscription's transactions (the initiating one or a renewal). The
// subscription keeps its own copy of status/duration so expiresAt can be
// recomputed without a join back to the transactions collection.
type SubscriptionTransactionRef struct {
	Identity TransactionIdentity `bson:"identity" json:"identity"`
	Status   TransactionStatus   `bson:"status" json:"status"`
	Duration time.Duration       `bson:"duration,omitempty" json:"duration,omitempty"`
	StartsAt time.Time           `bson:"startsAt" json:"startsAt"`
}

// Subscription is a recurring entitlement, linking its initiating
// transaction and any subsequent renewals.
type Subscription struct {
	Provider              string `bson:"provider" json:"provider"`
	OriginalTransactionID string `bson:"originalTransactionId" json:"originalTransactionId"`

	UserID       string `bson:"userId" json:"userId"`
	ProductGroup string `bson:"productGroup" json:"productGroup"`
	ProductID    string `bson:"productId" json:"productId"`

	// Transactions is ordered: the first entry is the initiating
	// transaction, subsequent entries are renewals.
	Transactions []SubscriptionTransactionRef `bson:"transactions" json:"transactions"`

	StartsAt  time.Time `bson:"startsAt" json:"startsAt"`
	ExpiresAt time.Time `bson:"expiresAt" json:"expiresAt"`

	CanceledAt *time.Time `bson:"canceledAt,omitempty" json:"canceledAt,omitempty"`

	RenewalEnabled bool `bson:"renewalEnabled" json:"renewalEnabled"`

	// LastFailedAt records the timestamp of the last recharge failure
	// against the originating transaction's renewal stream.
	LastFailedAt *time.Time `bson:"lastFailedAt,omitempty" json:"lastFailedAt,omitempty"`

	// RenewalAttempts counts consecutive recharge attempts since the last
	// successful renewal (§4.4 retry policy: "the attempt counter is
	// carried to the next call"). It resets to 0 on a successful renewal.
	RenewalAttempts int `bson:"renewalAttempts,omitempty" json:"renewalAttempts,omitempty"`

	// Superseded marks that a plan change replaced this subscription with
	// a new one; it forces Status() to canceled even if a stray confirmed
	// transaction would otherwise read as active.
	Superseded bool `bson:"superseded,omitempty" json:"superseded,omitempty"`

	Version       int64 `bson:"version" json:"version"`
	SchemaVersion int   `bson:"schemaVersion" json:"schemaVersion"`
}

// Identity returns the natural key of this subscription.
func (s *Subscription) Identity() SubscriptionIdentity {
	return SubscriptionIdentity{Provider: s.Provider, OriginalTransactionID: s.OriginalTransactionID}
}

// hasConfirmedTransaction reports whether any transaction in the list has
// reached completed.
func (s *Subscription) hasConfirmedTransaction() bool {
	for _, tx := range s.Transactions {
		if tx.Status == TransactionCompleted {
			return true
		}
	}
	return false
}

// Recompute derives StartsAt and ExpiresAt from the transaction list. It
// must be called after any write that adds, removes, or changes the status
// of a transaction reference.
//
// startsAt is the startsAt of the first confirmed transaction; expiresAt
// sums the durations of every completed transaction onto startsAt.
func (s *Subscription) Recompute() {
	var startsAt time.Time
	var total time.Duration
	found := false

	for _, tx := range s.Transactions {
		if tx.Status != TransactionCompleted {
			continue
		}
		if !found {
			startsAt = tx.StartsAt
			found = true
		}
		total += tx.Duration
	}

	if !found {
		return
	}
	s.StartsAt = startsAt
	s.ExpiresAt = startsAt.Add(total)
}

// Status derives the subscription's lifecycle state as of now.
func (s *Subscription) Status(now time.Time) SubscriptionStatus {
	if s.CanceledAt != nil || s.Superseded {
		return SubscriptionCanceled
	}
	if !s.hasConfirmedTransaction() {
		return SubscriptionPending
	}
	if s.StartsAt.After(now) {
		return SubscriptionNotStart
	}
	if now.Before(s.ExpiresAt) {
		return SubscriptionActive
	}
	// Confirmed, started, but past expiresAt with no active cancellation
	// recorded yet: reconciliation has not caught up. Treat as canceled
	// rather than falsely reporting active entitlement.
	return SubscriptionCanceled
}

// AppendTransaction adds a transaction reference and recomputes the derived
// temporal view.
func (s *Subscription) AppendTransaction(ref SubscriptionTransactionRef) {
	s.Transactions = append(s.Transactions, ref)
	s.Recompute()
}

// UpdateTransactionStatus updates the denormalized status/duration of an
// existing transaction reference (used when a renewal or the initiating
// transaction transitions) and recomputes the derived temporal view.
func (s *Subscription) UpdateTransactionStatus(id TransactionIdentity, status TransactionStatus, duration time.Duration) bool {
	for i := range s.Transactions {
		if s.Transactions[i].Identity == id {
			s.Transactions[i].Status = status
			if duration > 0 {
				s.Transactions[i].Duration = duration
			}
			s.Recompute()
			return true
		}
	}
	return false
}

// OriginatingTransaction returns the identity of the first transaction
// (the one that names the subscription at the provider).
func (s *Subscription) OriginatingTransaction() TransactionIdentity {
	if len(s.Transactions) == 0 {
		return TransactionIdentity{Provider: s.Provider, TransactionID: s.OriginalTransactionID}
	}
	return s.Transactions[0].Identity
}

// MarkCanceled sets the terminal canceled timestamp and disables renewal.
func (s *Subscription) MarkCanceled(canceledAt time.Time) {
	s.CanceledAt = &canceledAt
	s.RenewalEnabled = false
}
