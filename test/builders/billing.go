package builders

import (
	"time"

	"payments-engine/internal/billing/domain"
)

// ProductBuilder provides a fluent interface for building Product test
// fixtures, mirroring PaymentBuilder's WithX() chain style.
type ProductBuilder struct {
	product domain.Product
}

// NewProduct creates a ProductBuilder with sensible defaults: a monthly
// subscription product in the "membership" group.
func NewProduct() *ProductBuilder {
	return &ProductBuilder{
		product: domain.Product{
			ID:               "monthly",
			Group:            "membership",
			Type:             domain.ProductTypeSubscription,
			Duration:         30 * 24 * time.Hour,
			AmountMinorUnits: 999,
			Currency:         "USD",
		},
	}
}

// WithID sets the product id.
func (b *ProductBuilder) WithID(id string) *ProductBuilder {
	b.product.ID = id
	return b
}

// WithGroup sets the mutually-exclusive product family.
func (b *ProductBuilder) WithGroup(group string) *ProductBuilder {
	b.product.Group = group
	return b
}

// WithType sets the product type.
func (b *ProductBuilder) WithType(t domain.ProductType) *ProductBuilder {
	b.product.Type = t
	return b
}

// WithDuration sets the subscription duration.
func (b *ProductBuilder) WithDuration(d time.Duration) *ProductBuilder {
	b.product.Duration = d
	return b
}

// WithAmount sets the price in the smallest unit of currency.
func (b *ProductBuilder) WithAmount(minorUnits int64, currency string) *ProductBuilder {
	b.product.AmountMinorUnits = minorUnits
	b.product.Currency = currency
	return b
}

// AsPurchase configures the product as a one-off purchase (no group, no
// duration).
func (b *ProductBuilder) AsPurchase() *ProductBuilder {
	b.product.Type = domain.ProductTypePurchase
	b.product.Duration = 0
	b.product.Group = ""
	return b
}

// Build returns the constructed Product.
func (b *ProductBuilder) Build() domain.Product {
	return b.product
}
