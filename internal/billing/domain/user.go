package domain

import "time"

// User is a read-only projection: the set of subscriptions and completed
// purchase transactions belonging to a userId. It is assembled by the user
// view (C7) and never persisted on its own.
type User struct {
	UserID               string
	PurchaseTransactions []Transaction
	Subscriptions        []Subscription
}

// GetExpireTime returns the maximum expiresAt across the user's
// subscriptions in the given product group, or the zero time and false if
// the user holds none.
func (u *User) GetExpireTime(group string, now time.Time) (time.Time, bool) {
	var max time.Time
	found := false
	for i := range u.Subscriptions {
		s := &u.Subscriptions[i]
		if s.ProductGroup != group {
			continue
		}
		if s.Status(now) == SubscriptionCanceled {
			continue
		}
		if !found || s.ExpiresAt.After(max) {
			max = s.ExpiresAt
			found = true
		}
	}
	return max, found
}
