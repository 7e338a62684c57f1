package billingops_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"payments-engine/internal/billing/actionqueue"
	"payments-engine/internal/billing/adapter"
	"payments-engine/internal/billing/domain"
	"payments-engine/internal/billing/reconcile"
	"payments-engine/internal/billing/registry"
	memoryrepo "payments-engine/internal/billing/repository/memory"
	"payments-engine/internal/billing/usecase/billingops"
	billingerrors "payments-engine/pkg/errors"
	"payments-engine/test/builders"
)

const testProvider = "testpay"

type harness struct {
	ops    *billingops.Ops
	recon  *reconcile.Reconciler
	clock  *domain.FakeClock
	repo   *memoryrepo.Repository
	a      *fakeAdapter
}

func newHarness(t *testing.T, products ...domain.Product) *harness {
	t.Helper()
	clock := domain.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	repo := memoryrepo.New()
	fa := newFakeAdapter(testProvider, products...)
	reg := registry.New(map[string]adapter.Adapter{testProvider: fa})
	actions := actionqueue.NewInMemoryQueue()

	ops := &billingops.Ops{
		Repo:                                    repo,
		Registry:                                reg,
		Clock:                                    clock,
		Actions:                                  actions,
		PurchaseExpiresAfter:                     30 * time.Minute,
		CascadeTransactionExpiryToSubscription:   true,
	}
	require.NoError(t, actions.Subscribe(context.Background(), ops.ActionHandler()))

	recon := &reconcile.Reconciler{
		Repo:                                    repo,
		Registry:                                reg,
		Clock:                                    clock,
		Lease:                                    reconcile.NewInProcessLease(),
		Actions:                                  actions,
		RenewalBefore:                           365 * 24 * time.Hour,
		CascadeTransactionExpiryToSubscription:  true,
	}

	return &harness{ops: ops, recon: recon, clock: clock, repo: repo, a: fa}
}

func noSinkErrors(t *testing.T) func(item string, err error) {
	t.Helper()
	return func(item string, err error) {
		t.Fatalf("unexpected reconciliation error for %q: %v", item, err)
	}
}

func callbackPayload(t *testing.T, evt adapter.Event) []byte {
	t.Helper()
	data, err := json.Marshal(evt)
	require.NoError(t, err)
	return data
}

// Scenario 1: subscribe happy path (§8.1).
func TestSubscribe_HappyPath(t *testing.T) {
	product := builders.NewProduct().WithID("monthly").WithGroup("membership").WithDuration(30 * 24 * time.Hour).Build()
	h := newHarness(t, product)
	ctx := context.Background()

	resp, err := h.ops.PrepareSubscription(ctx, billingops.PrepareSubscriptionRequest{
		Provider: testProvider, ProductID: "monthly", UserID: "user-1",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Response)

	txID := resp.Identity.OriginalTransactionID

	err = h.ops.HandleCallback(ctx, testProvider, callbackPayload(t, adapter.Event{
		Type: adapter.EventPaymentConfirmed, TransactionID: txID,
	}))
	require.NoError(t, err)

	err = h.ops.HandleCallback(ctx, testProvider, callbackPayload(t, adapter.Event{
		Type: adapter.EventSubscribed, OriginalTransactionID: txID,
	}))
	require.NoError(t, err)

	// Replaying either callback fails loudly (§9 idempotence vs rejection).
	err = h.ops.HandleCallback(ctx, testProvider, callbackPayload(t, adapter.Event{
		Type: adapter.EventPaymentConfirmed, TransactionID: txID,
	}))
	require.Error(t, err)

	err = h.ops.HandleCallback(ctx, testProvider, callbackPayload(t, adapter.Event{
		Type: adapter.EventSubscribed, OriginalTransactionID: txID,
	}))
	require.Error(t, err)

	sub, err := h.repo.FindSubscription(ctx, resp.Identity)
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionActive, sub.Status(h.clock.Now()))
	require.True(t, sub.RenewalEnabled)
	require.Len(t, sub.Transactions, 1)
	require.Equal(t, 30*24*time.Hour, sub.Transactions[0].Duration)
}

// Scenario 2: a prepared transaction whose payment window expires before
// confirmation is canceled by reconciliation (§8.2).
func TestPrepare_ExpiredTransactionCanceledByReconciliation(t *testing.T) {
	product := builders.NewProduct().WithID("monthly").WithGroup("membership").WithDuration(30 * 24 * time.Hour).Build()
	h := newHarness(t, product)
	h.ops.PurchaseExpiresAfter = 2 * time.Second
	ctx := context.Background()

	resp, err := h.ops.PrepareSubscription(ctx, billingops.PrepareSubscriptionRequest{
		Provider: testProvider, ProductID: "monthly", UserID: "user-1",
	})
	require.NoError(t, err)

	txID := resp.Identity.OriginalTransactionID
	h.a.queryTransactionResults[txID] = adapter.TransactionQueryResult{Type: adapter.QueryCanceled}

	h.clock.Advance(3 * time.Second)

	require.NoError(t, h.recon.CheckTransactions(ctx, testProvider, noSinkErrors(t)))

	tx, err := h.repo.FindTransaction(ctx, domain.TransactionIdentity{Provider: testProvider, TransactionID: txID})
	require.NoError(t, err)
	require.Equal(t, domain.TransactionCanceled, tx.Status())
}

// Scenario 3: renewal cascade. One subscription renews repeatedly; a
// second exhausts consecutive recoverable failures and is canceled by the
// provider on the third attempt (§8.3, §4.4 retry policy). Attempt count
// is tracked per subscription via the persisted RenewalAttempts counter,
// not the number of transactions recorded, since a failed attempt never
// appends one — this is what lets the second subscription's attempt index
// advance 1, 2, 3 across calls instead of sticking at 1 forever.
func TestRenewalCascade(t *testing.T) {
	product := builders.NewProduct().WithID("monthly").WithGroup("membership").WithDuration(24 * time.Hour).Build()
	h := newHarness(t, product)
	ctx := context.Background()

	subscribe := func(userID string) (billingops.PrepareSubscriptionResponse, string) {
		resp, err := h.ops.PrepareSubscription(ctx, billingops.PrepareSubscriptionRequest{
			Provider: testProvider, ProductID: "monthly", UserID: userID,
		})
		require.NoError(t, err)
		txID := resp.Identity.OriginalTransactionID
		require.NoError(t, h.ops.HandleCallback(ctx, testProvider, callbackPayload(t, adapter.Event{
			Type: adapter.EventPaymentConfirmed, TransactionID: txID,
		})))
		require.NoError(t, h.ops.HandleCallback(ctx, testProvider, callbackPayload(t, adapter.Event{
			Type: adapter.EventSubscribed, OriginalTransactionID: txID,
		})))
		return resp, txID
	}

	goodResp, goodTxID := subscribe("user-good")
	badResp, badTxID := subscribe("user-bad")

	h.a.rechargeOutcomes[goodTxID] = []adapter.RechargeOutcome{
		{Type: adapter.RechargeRenewed, TransactionID: "renew-1", PurchasedAt: h.clock.Now(), Duration: 24 * time.Hour},
	}
	h.a.rechargeOutcomes[badTxID] = []adapter.RechargeOutcome{
		{Type: adapter.RechargeFailed, Reason: "insufficient-funds"},
		{Type: adapter.RechargeFailed, Reason: "insufficient-funds"},
		{Type: adapter.RechargeCanceled, Reason: "card-declined"},
	}

	goodSub, err := h.repo.FindSubscription(ctx, goodResp.Identity)
	require.NoError(t, err)
	goodStartsAt := goodSub.StartsAt

	// Attempt 1: good renews (its RenewalAttempts counter resets to 0
	// afterwards, so every later pass asks for attempt 1 again and reuses the
	// same scripted outcome); bad fails once. Each renewal adds 24h on top
	// of the initial period.
	require.NoError(t, h.recon.CheckSubscriptionRenewal(ctx, testProvider, noSinkErrors(t)))
	badSub, err := h.repo.FindSubscription(ctx, badResp.Identity)
	require.NoError(t, err)
	require.NotNil(t, badSub.LastFailedAt)
	require.Equal(t, 1, badSub.RenewalAttempts)
	require.Equal(t, domain.SubscriptionActive, badSub.Status(h.clock.Now()))

	goodSub, err = h.repo.FindSubscription(ctx, goodResp.Identity)
	require.NoError(t, err)
	require.Equal(t, goodStartsAt.Add(2*24*time.Hour), goodSub.ExpiresAt)
	require.Equal(t, 0, goodSub.RenewalAttempts)

	// Attempt 2: bad fails again, advancing past the first scripted
	// failure rather than repeating it.
	require.NoError(t, h.recon.CheckSubscriptionRenewal(ctx, testProvider, noSinkErrors(t)))
	badSub, err = h.repo.FindSubscription(ctx, badResp.Identity)
	require.NoError(t, err)
	require.Equal(t, 2, badSub.RenewalAttempts)
	require.Equal(t, domain.SubscriptionActive, badSub.Status(h.clock.Now()))

	// Attempt 3: bad's subscription is canceled by the provider.
	require.NoError(t, h.recon.CheckSubscriptionRenewal(ctx, testProvider, noSinkErrors(t)))
	badSub, err = h.repo.FindSubscription(ctx, badResp.Identity)
	require.NoError(t, err)
	require.False(t, badSub.RenewalEnabled)
	require.NotNil(t, badSub.CanceledAt)

	goodSub, err = h.repo.FindSubscription(ctx, goodResp.Identity)
	require.NoError(t, err)
	require.Equal(t, goodStartsAt.Add(4*24*time.Hour), goodSub.ExpiresAt)
}

// Scenario 4: plan change gives contiguous coverage across subscriptions
// in the same product group (§8.4).
func TestPlanChange(t *testing.T) {
	monthly := builders.NewProduct().WithID("monthly").WithGroup("membership").WithDuration(30 * 24 * time.Hour).Build()
	yearly := builders.NewProduct().WithID("yearly").WithGroup("membership").WithDuration(365 * 24 * time.Hour).Build()
	h := newHarness(t, monthly, yearly)
	ctx := context.Background()

	monthlyResp, err := h.ops.PrepareSubscription(ctx, billingops.PrepareSubscriptionRequest{
		Provider: testProvider, ProductID: "monthly", UserID: "user-1",
	})
	require.NoError(t, err)
	monthlyTxID := monthlyResp.Identity.OriginalTransactionID
	require.NoError(t, h.ops.HandleCallback(ctx, testProvider, callbackPayload(t, adapter.Event{
		Type: adapter.EventPaymentConfirmed, TransactionID: monthlyTxID,
	})))

	monthlySub, err := h.repo.FindSubscription(ctx, monthlyResp.Identity)
	require.NoError(t, err)
	monthlyStartsAt, monthlyExpiresAt := monthlySub.StartsAt, monthlySub.ExpiresAt

	yearlyResp, err := h.ops.PrepareSubscription(ctx, billingops.PrepareSubscriptionRequest{
		Provider: testProvider, ProductID: "yearly", UserID: "user-1",
	})
	require.NoError(t, err)

	monthlySub, err = h.repo.FindSubscription(ctx, monthlyResp.Identity)
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionCanceled, monthlySub.Status(h.clock.Now()))

	yearlyTxID := yearlyResp.Identity.OriginalTransactionID
	require.NoError(t, h.ops.HandleCallback(ctx, testProvider, callbackPayload(t, adapter.Event{
		Type: adapter.EventPaymentConfirmed, TransactionID: yearlyTxID,
	})))

	yearlySub, err := h.repo.FindSubscription(ctx, yearlyResp.Identity)
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionNotStart, yearlySub.Status(h.clock.Now()))
	require.Equal(t, monthlyExpiresAt, yearlySub.StartsAt)
	require.Equal(t, monthlyStartsAt.Add(30*24*time.Hour).Add(365*24*time.Hour), yearlySub.ExpiresAt)

	user, err := h.ops.UserView(ctx, "user-1")
	require.NoError(t, err)
	expireTime, ok := user.GetExpireTime("membership", h.clock.Now())
	require.True(t, ok)
	require.Equal(t, yearlySub.ExpiresAt, expireTime)
}

// Scenario 5: cancellation via callback retains original-period
// entitlement (§8.5).
func TestCancellationViaCallback(t *testing.T) {
	product := builders.NewProduct().WithID("monthly").WithGroup("membership").WithDuration(30 * 24 * time.Hour).Build()
	h := newHarness(t, product)
	ctx := context.Background()

	resp, err := h.ops.PrepareSubscription(ctx, billingops.PrepareSubscriptionRequest{
		Provider: testProvider, ProductID: "monthly", UserID: "user-1",
	})
	require.NoError(t, err)
	txID := resp.Identity.OriginalTransactionID
	require.NoError(t, h.ops.HandleCallback(ctx, testProvider, callbackPayload(t, adapter.Event{
		Type: adapter.EventPaymentConfirmed, TransactionID: txID,
	})))

	sub, err := h.repo.FindSubscription(ctx, resp.Identity)
	require.NoError(t, err)
	startsAt, expiresAt := sub.StartsAt, sub.ExpiresAt

	require.NoError(t, h.ops.HandleCallback(ctx, testProvider, callbackPayload(t, adapter.Event{
		Type: adapter.EventSubscriptionCanceled, OriginalTransactionID: txID,
	})))

	sub, err = h.repo.FindSubscription(ctx, resp.Identity)
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionCanceled, sub.Status(h.clock.Now()))
	require.False(t, sub.RenewalEnabled)
	require.Equal(t, startsAt.Add(30*24*time.Hour), sub.ExpiresAt)
	require.Equal(t, expiresAt, sub.ExpiresAt)
}

// Scenario 6: two purchases confirmed via different paths both land as
// completed (§8.6).
func TestTwoPurchases_DifferentConfirmationPaths(t *testing.T) {
	product := builders.NewProduct().WithID("book").AsPurchase().Build()
	h := newHarness(t, product)
	ctx := context.Background()

	first, err := h.ops.PreparePurchase(ctx, billingops.PreparePurchaseRequest{
		Provider: testProvider, ProductID: "book", UserID: "user-1",
	})
	require.NoError(t, err)
	h.a.queryTransactionResults[first.Identity.TransactionID] = adapter.TransactionQueryResult{
		Type: adapter.QuerySuccess, PurchasedAt: h.clock.Now(),
	}
	// The reconciliation pass only polls transactions whose payment window
	// has already elapsed (§4.6 point 1): advance past it so this pending
	// purchase becomes eligible.
	h.clock.Advance(h.ops.PurchaseExpiresAfter + time.Minute)
	require.NoError(t, h.recon.CheckTransactions(ctx, testProvider, noSinkErrors(t)))

	second, err := h.ops.PreparePurchase(ctx, billingops.PreparePurchaseRequest{
		Provider: testProvider, ProductID: "book", UserID: "user-1",
	})
	require.NoError(t, err)
	require.NoError(t, h.ops.HandleCallback(ctx, testProvider, callbackPayload(t, adapter.Event{
		Type: adapter.EventPaymentConfirmed, TransactionID: second.Identity.TransactionID,
	})))

	firstTx, err := h.repo.FindTransaction(ctx, first.Identity)
	require.NoError(t, err)
	secondTx, err := h.repo.FindTransaction(ctx, second.Identity)
	require.NoError(t, err)
	require.Equal(t, domain.TransactionCompleted, firstTx.Status())
	require.Equal(t, domain.TransactionCompleted, secondTx.Status())

	user, err := h.ops.UserView(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, user.PurchaseTransactions, 2)
}

// Receipts resolves each purchase's formatted price via the registry.
func TestReceipts_FormatsAmountFromProduct(t *testing.T) {
	product := builders.NewProduct().WithID("book").AsPurchase().WithAmount(1999, "USD").Build()
	h := newHarness(t, product)
	ctx := context.Background()

	tx, err := h.ops.PreparePurchase(ctx, billingops.PreparePurchaseRequest{
		Provider: testProvider, ProductID: "book", UserID: "user-1",
	})
	require.NoError(t, err)
	require.NoError(t, h.ops.HandleCallback(ctx, testProvider, callbackPayload(t, adapter.Event{
		Type: adapter.EventPaymentConfirmed, TransactionID: tx.Identity.TransactionID,
	})))

	user, err := h.ops.UserView(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, user.PurchaseTransactions, 1)

	receipts := h.ops.Receipts(ctx, user)
	require.Len(t, receipts, 1)
	require.Equal(t, "19.99 USD", receipts[0].FormattedAmount)
}

// The direct "cancel op" edge (§4.4): an operator cancels an active
// subscription outside of any provider callback, and the provider call is
// made synchronously rather than deferred to the action queue.
func TestCancelSubscription_OperatorInitiated(t *testing.T) {
	product := builders.NewProduct().WithID("monthly").WithGroup("membership").WithDuration(30 * 24 * time.Hour).Build()
	h := newHarness(t, product)
	ctx := context.Background()

	resp, err := h.ops.PrepareSubscription(ctx, billingops.PrepareSubscriptionRequest{
		Provider: testProvider, ProductID: "monthly", UserID: "user-1",
	})
	require.NoError(t, err)
	txID := resp.Identity.OriginalTransactionID
	require.NoError(t, h.ops.HandleCallback(ctx, testProvider, callbackPayload(t, adapter.Event{
		Type: adapter.EventPaymentConfirmed, TransactionID: txID,
	})))

	require.NoError(t, h.ops.CancelSubscription(ctx, billingops.CancelSubscriptionRequest{
		Provider: testProvider, OriginalTransactionID: txID,
	}))
	require.True(t, h.a.canceledSubscriptions[txID])

	sub, err := h.repo.FindSubscription(ctx, resp.Identity)
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionCanceled, sub.Status(h.clock.Now()))
	require.False(t, sub.RenewalEnabled)

	// A second cancel op against the same, now-terminal subscription fails
	// loudly rather than silently no-oping.
	err = h.ops.CancelSubscription(ctx, billingops.CancelSubscriptionRequest{
		Provider: testProvider, OriginalTransactionID: txID,
	})
	require.ErrorIs(t, err, billingerrors.ErrConflictingTerminalTransition)
}

// A provider that does not advertise cancel-subscription fails the cancel
// op explicitly instead of reporting success without ever calling out.
func TestCancelSubscription_CapabilityUnsupported(t *testing.T) {
	product := builders.NewProduct().WithID("monthly").WithGroup("membership").WithDuration(30 * 24 * time.Hour).Build()
	h := newHarness(t, product)
	h.a.capabilities[adapter.CapabilityCancelSubscription] = false
	ctx := context.Background()

	resp, err := h.ops.PrepareSubscription(ctx, billingops.PrepareSubscriptionRequest{
		Provider: testProvider, ProductID: "monthly", UserID: "user-1",
	})
	require.NoError(t, err)
	txID := resp.Identity.OriginalTransactionID
	require.NoError(t, h.ops.HandleCallback(ctx, testProvider, callbackPayload(t, adapter.Event{
		Type: adapter.EventPaymentConfirmed, TransactionID: txID,
	})))

	err = h.ops.CancelSubscription(ctx, billingops.CancelSubscriptionRequest{
		Provider: testProvider, OriginalTransactionID: txID,
	})
	require.ErrorIs(t, err, billingerrors.ErrCapabilityUnsupported)
}
