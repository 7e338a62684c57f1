/*
Package builders provides test fixture builders for creating domain entities.

The builders implement the Builder pattern to provide a fluent interface for
constructing test data with sensible defaults that can be overridden as needed.

# Benefits

  - Reduces test setup boilerplate
  - Provides consistent test data across test suites
  - Makes test intent clearer by showing only what's relevant to each test
  - Easy to maintain when domain entities change

# Usage

Basic usage with defaults:

	product := builders.NewProduct().Build()
	// Creates a monthly subscription product in the "membership" group

Override specific fields:

	product := builders.NewProduct().
		WithID("yearly").
		WithDuration(365 * 24 * time.Hour).
		Build()

	book := builders.NewProduct().
		WithID("book").
		AsPurchase().
		Build()

# Available Builders

  - ProductBuilder: build domain.Product fixtures (subscriptions and purchases)
*/
package builders
