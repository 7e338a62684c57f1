package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductType distinguishes recurring entitlements from one-off purchases.
type ProductType string

const (
	ProductTypeSubscription ProductType = "subscription"
	ProductTypePurchase     ProductType = "purchase"
)

// Product is a provider-resolved descriptor for something a user can buy.
// Once cached by the registry (C1) a Product is never mutated.
type Product struct {
	ID   string      `bson:"id" json:"id"`
	Type ProductType `bson:"type" json:"type"`

	// Group names a mutually-exclusive family of products, e.g. "membership".
	// A user may hold at most one active/not-start subscription per group.
	Group string `bson:"group,omitempty" json:"group,omitempty"`

	// Duration is required for subscriptions and absent for purchases.
	Duration time.Duration `bson:"duration,omitempty" json:"duration,omitempty"`

	// AmountMinorUnits is the price in the smallest unit of Currency (e.g.
	// cents), avoiding float rounding error in the provider-resolved
	// descriptor. Presentation formatting happens at the view layer (C7).
	AmountMinorUnits int64  `bson:"amountMinorUnits,omitempty" json:"amountMinorUnits,omitempty"`
	Currency         string `bson:"currency,omitempty" json:"currency,omitempty"`
}

// IsSubscription reports whether the product requires a Duration.
func (p Product) IsSubscription() bool {
	return p.Type == ProductTypeSubscription
}

// FormatAmount renders the product's price as a decimal string (e.g.
// "19.99 USD"), converting from AmountMinorUnits without the rounding
// drift of a float division. Used by the user view (C7) DTOs.
func (p Product) FormatAmount() string {
	if p.Currency == "" {
		return ""
	}
	amount := decimal.New(p.AmountMinorUnits, -2)
	return amount.StringFixed(2) + " " + p.Currency
}
