// Package registry implements the product/provider registry (C1): a
// configuration-time mapping from provider name to adapter, with a
// process-lifetime cache of resolved product descriptors.
package registry

import (
	"context"
	"fmt"
	"sync"

	"payments-engine/internal/billing/adapter"
	"payments-engine/internal/billing/domain"
	billingerrors "payments-engine/pkg/errors"
)

type productKey struct {
	provider  string
	productID string
}

// Registry resolves provider names to adapters and caches product
// descriptors for the lifetime of the engine process. It never mutates a
// cached descriptor.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]adapter.Adapter
	products map[productKey]domain.Product
}

// New builds a Registry over the given named adapters.
func New(adapters map[string]adapter.Adapter) *Registry {
	r := &Registry{
		adapters: make(map[string]adapter.Adapter, len(adapters)),
		products: make(map[productKey]domain.Product),
	}
	for name, a := range adapters {
		r.adapters[name] = a
	}
	return r
}

// Adapter returns the adapter registered under name.
func (r *Registry) Adapter(name string) (adapter.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("billing: no adapter registered for provider %q", name)
	}
	return a, nil
}

// RequireProduct resolves productID via the named provider's adapter,
// caching the descriptor on first success. A provider reporting it cannot
// resolve the product surfaces unknown-product.
func (r *Registry) RequireProduct(ctx context.Context, provider, productID string) (domain.Product, error) {
	key := productKey{provider: provider, productID: productID}

	r.mu.RLock()
	if p, ok := r.products[key]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	r.mu.RUnlock()

	a, err := r.Adapter(provider)
	if err != nil {
		return domain.Product{}, err
	}

	p, err := a.RequireProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, billingerrors.ErrUnknownProduct.Wrap(err)
	}

	r.mu.Lock()
	r.products[key] = p
	r.mu.Unlock()

	return p, nil
}
