package billingops_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"payments-engine/internal/billing/adapter"
	"payments-engine/internal/billing/domain"
)

// fakeAdapter is a scriptable adapter.Adapter used across the seed
// scenario tests (§8): it hands out deterministic transaction ids and lets
// each test script the outcome of QueryTransactionStatus,
// QuerySubscriptionStatus, and RechargeSubscription calls.
type fakeAdapter struct {
	name     string
	products map[string]domain.Product

	counter int64

	capabilities map[adapter.Capability]bool

	queryTransactionResults   map[string]adapter.TransactionQueryResult
	querySubscriptionResults  map[string]adapter.SubscriptionQueryResult
	rechargeOutcomes          map[string][]adapter.RechargeOutcome
	canceledSubscriptions     map[string]bool
}

func newFakeAdapter(name string, products ...domain.Product) *fakeAdapter {
	m := make(map[string]domain.Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return &fakeAdapter{
		name:                     name,
		products:                 m,
		capabilities:             map[adapter.Capability]bool{adapter.CapabilityCancelSubscription: true, adapter.CapabilitySubscribedEvent: true},
		queryTransactionResults:  map[string]adapter.TransactionQueryResult{},
		querySubscriptionResults: map[string]adapter.SubscriptionQueryResult{},
		rechargeOutcomes:         map[string][]adapter.RechargeOutcome{},
		canceledSubscriptions:    map[string]bool{},
	}
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Capabilities() map[adapter.Capability]bool { return a.capabilities }

func (a *fakeAdapter) nextID(prefix string) string {
	n := atomic.AddInt64(&a.counter, 1)
	return fmt.Sprintf("%s-%d", prefix, n)
}

func (a *fakeAdapter) RequireProduct(_ context.Context, productID string) (domain.Product, error) {
	p, ok := a.products[productID]
	if !ok {
		return domain.Product{}, fmt.Errorf("fake adapter: unknown product %q", productID)
	}
	return p, nil
}

func (a *fakeAdapter) PreparePurchaseData(_ context.Context, params adapter.PreparePurchaseParams) (adapter.PreparePurchaseResult, error) {
	txID := a.nextID("purchase-tx")
	return adapter.PreparePurchaseResult{
		Response:      map[string]interface{}{"checkoutUrl": "https://pay.example/" + txID},
		TransactionID: txID,
	}, nil
}

func (a *fakeAdapter) PrepareSubscriptionData(_ context.Context, params adapter.PrepareSubscriptionParams) (adapter.PrepareSubscriptionResult, error) {
	txID := a.nextID("sub-tx")
	return adapter.PrepareSubscriptionResult{
		Response:              map[string]interface{}{"checkoutUrl": "https://pay.example/" + txID},
		TransactionID:         txID,
		OriginalTransactionID: txID,
		Duration:              params.Product.Duration,
	}, nil
}

func (a *fakeAdapter) ParseCallback(_ context.Context, payload []byte) (adapter.Event, error) {
	var evt adapter.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return adapter.Event{}, err
	}
	return evt, nil
}

func (a *fakeAdapter) QueryTransactionStatus(_ context.Context, transactionID string) (adapter.TransactionQueryResult, error) {
	result, ok := a.queryTransactionResults[transactionID]
	if !ok {
		return adapter.TransactionQueryResult{}, fmt.Errorf("fake adapter: no scripted query result for %q", transactionID)
	}
	return result, nil
}

func (a *fakeAdapter) QuerySubscriptionStatus(_ context.Context, originalTransactionID string) (adapter.SubscriptionQueryResult, error) {
	result, ok := a.querySubscriptionResults[originalTransactionID]
	if !ok {
		return adapter.SubscriptionQueryResult{}, fmt.Errorf("fake adapter: no scripted query result for %q", originalTransactionID)
	}
	return result, nil
}

func (a *fakeAdapter) RechargeSubscription(_ context.Context, txCtx adapter.OriginalTxContext, attemptIndex int) (adapter.RechargeOutcome, error) {
	outcomes := a.rechargeOutcomes[txCtx.OriginalTransactionID]
	idx := attemptIndex - 1
	if idx < 0 || idx >= len(outcomes) {
		return adapter.RechargeOutcome{}, fmt.Errorf("fake adapter: no scripted recharge outcome for attempt %d", attemptIndex)
	}
	outcome := outcomes[idx]
	if outcome.Type == adapter.RechargeRenewed {
		// Stamp a fresh transaction id per call so a reused scripted
		// outcome (e.g. the same success replayed across attempts after
		// the counter resets) doesn't collide on insert.
		outcome.TransactionID = a.nextID("renew-tx")
	}
	return outcome, nil
}

func (a *fakeAdapter) CancelSubscription(_ context.Context, txCtx adapter.OriginalTxContext) (bool, error) {
	a.canceledSubscriptions[txCtx.OriginalTransactionID] = true
	return true, nil
}

var _ adapter.Adapter = (*fakeAdapter)(nil)
