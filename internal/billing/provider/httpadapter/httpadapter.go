// Package httpadapter is a concrete provider adapter (§6) over a generic
// REST-style payment gateway, the shape of self-hosted providers the
// engine talks to directly rather than through an app-store-style SDK.
// It is grounded on the teacher's epayment gateway client, generalized
// from that single provider's bespoke endpoints to the engine's adapter
// contract.
package httpadapter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-resty/resty/v2"

	"payments-engine/internal/billing/adapter"
	"payments-engine/internal/billing/domain"
	billingerrors "payments-engine/pkg/errors"
)

// Config configures an Adapter instance.
type Config struct {
	// Name identifies the provider for registry lookups.
	Name string
	// BaseURL is the REST gateway's base address.
	BaseURL string
	// Timeout bounds every request. Defaults to 30s.
	Timeout time.Duration
	// SupportsCancelSubscription advertises the cancel-subscription
	// capability (§9 "adapter polymorphism" — missing capabilities must be
	// advertised, never silently skipped).
	SupportsCancelSubscription bool
	// SupportsSubscribedEvent advertises that this provider delivers a
	// distinct subscribed linkage event.
	SupportsSubscribedEvent bool
}

// Adapter implements adapter.Adapter over a generic REST payment gateway.
type Adapter struct {
	cfg    Config
	client *resty.Client
}

var _ adapter.Adapter = (*Adapter)(nil)

// New builds an Adapter from cfg.
func New(cfg Config) *Adapter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Adapter{cfg: cfg, client: client}
}

// Name implements adapter.Adapter.
func (a *Adapter) Name() string { return a.cfg.Name }

// Capabilities implements adapter.Adapter.
func (a *Adapter) Capabilities() map[adapter.Capability]bool {
	return map[adapter.Capability]bool{
		adapter.CapabilityCancelSubscription: a.cfg.SupportsCancelSubscription,
		adapter.CapabilitySubscribedEvent:    a.cfg.SupportsSubscribedEvent,
	}
}

type productResponse struct {
	ID               string `json:"id"`
	Group            string `json:"group"`
	Type             string `json:"type"`
	Duration         string `json:"duration"`
	AmountMinorUnits int64  `json:"amountMinorUnits"`
	Currency         string `json:"currency"`
}

// RequireProduct implements adapter.Adapter.
func (a *Adapter) RequireProduct(ctx context.Context, productID string) (domain.Product, error) {
	var out productResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/products/" + productID)
	if err != nil {
		return domain.Product{}, err
	}
	if resp.IsError() {
		return domain.Product{}, billingerrors.ErrUnknownProduct
	}

	var duration time.Duration
	if out.Duration != "" {
		duration, err = time.ParseDuration(out.Duration)
		if err != nil {
			return domain.Product{}, err
		}
	}

	return domain.Product{
		ID:               out.ID,
		Group:            out.Group,
		Type:             domain.ProductType(out.Type),
		Duration:         duration,
		AmountMinorUnits: out.AmountMinorUnits,
		Currency:         out.Currency,
	}, nil
}

type preparePurchaseRequest struct {
	ProductID        string    `json:"productId"`
	UserID           string    `json:"userId"`
	PaymentExpiresAt time.Time `json:"paymentExpiresAt"`
}

type preparePurchaseResponse struct {
	TransactionID string                 `json:"transactionId"`
	Response      map[string]interface{} `json:"response"`
}

// PreparePurchaseData implements adapter.Adapter.
func (a *Adapter) PreparePurchaseData(ctx context.Context, params adapter.PreparePurchaseParams) (adapter.PreparePurchaseResult, error) {
	var out preparePurchaseResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(preparePurchaseRequest{
			ProductID:        params.ProductID,
			UserID:           params.UserID,
			PaymentExpiresAt: params.PaymentExpiresAt,
		}).
		SetResult(&out).
		Post("/purchases")
	if err != nil {
		return adapter.PreparePurchaseResult{}, err
	}
	if resp.IsError() {
		return adapter.PreparePurchaseResult{}, billingerrors.ErrProviderFailure
	}

	return adapter.PreparePurchaseResult{
		Response:      out.Response,
		TransactionID: out.TransactionID,
	}, nil
}

type prepareSubscriptionRequest struct {
	ProductID        string    `json:"productId"`
	UserID           string    `json:"userId"`
	StartsAt         time.Time `json:"startsAt"`
	PaymentExpiresAt time.Time `json:"paymentExpiresAt"`
}

type prepareSubscriptionResponse struct {
	TransactionID         string                 `json:"transactionId"`
	OriginalTransactionID string                 `json:"originalTransactionId"`
	Duration              string                 `json:"duration"`
	Response              map[string]interface{} `json:"response"`
}

// PrepareSubscriptionData implements adapter.Adapter.
func (a *Adapter) PrepareSubscriptionData(ctx context.Context, params adapter.PrepareSubscriptionParams) (adapter.PrepareSubscriptionResult, error) {
	var out prepareSubscriptionResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(prepareSubscriptionRequest{
			ProductID:        params.Product.ID,
			UserID:           params.UserID,
			StartsAt:         params.StartsAt,
			PaymentExpiresAt: params.PaymentExpiresAt,
		}).
		SetResult(&out).
		Post("/subscriptions")
	if err != nil {
		return adapter.PrepareSubscriptionResult{}, err
	}
	if resp.IsError() {
		return adapter.PrepareSubscriptionResult{}, billingerrors.ErrProviderFailure
	}

	duration, err := time.ParseDuration(out.Duration)
	if err != nil {
		duration = params.Product.Duration
	}

	return adapter.PrepareSubscriptionResult{
		Response:              out.Response,
		TransactionID:         out.TransactionID,
		OriginalTransactionID: out.OriginalTransactionID,
		Duration:              duration,
	}, nil
}

type callbackPayload struct {
	Type                  string    `json:"type"`
	TransactionID         string    `json:"transactionId"`
	OriginalTransactionID string    `json:"originalTransactionId"`
	PurchasedAt           time.Time `json:"purchasedAt"`
	CanceledAt            time.Time `json:"canceledAt"`
	SubscribedAt          time.Time `json:"subscribedAt"`
	Duration              string    `json:"duration"`
	Reason                string    `json:"reason"`
}

// ParseCallback implements adapter.Adapter. The REST gateway POSTs a
// self-describing JSON payload directly, so no network round-trip is
// needed here.
func (a *Adapter) ParseCallback(_ context.Context, payload []byte) (adapter.Event, error) {
	var cb callbackPayload
	if err := json.Unmarshal(payload, &cb); err != nil {
		return adapter.Event{}, err
	}

	var duration time.Duration
	if cb.Duration != "" {
		d, err := time.ParseDuration(cb.Duration)
		if err != nil {
			return adapter.Event{}, err
		}
		duration = d
	}

	return adapter.Event{
		Type:                  adapter.EventType(cb.Type),
		TransactionID:         cb.TransactionID,
		OriginalTransactionID: cb.OriginalTransactionID,
		PurchasedAt:           cb.PurchasedAt,
		CanceledAt:            cb.CanceledAt,
		SubscribedAt:          cb.SubscribedAt,
		Duration:              duration,
		Reason:                cb.Reason,
	}, nil
}

type queryTransactionResponse struct {
	Status      string    `json:"status"`
	PurchasedAt time.Time `json:"purchasedAt"`
	CanceledAt  time.Time `json:"canceledAt"`
}

// QueryTransactionStatus implements adapter.Adapter.
func (a *Adapter) QueryTransactionStatus(ctx context.Context, transactionID string) (adapter.TransactionQueryResult, error) {
	var out queryTransactionResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/transactions/" + transactionID + "/status")
	if err != nil {
		return adapter.TransactionQueryResult{}, err
	}
	if resp.IsError() {
		return adapter.TransactionQueryResult{}, billingerrors.ErrProviderFailure
	}

	if out.Status == "canceled" {
		return adapter.TransactionQueryResult{Type: adapter.QueryCanceled, CanceledAt: out.CanceledAt}, nil
	}
	return adapter.TransactionQueryResult{Type: adapter.QuerySuccess, PurchasedAt: out.PurchasedAt}, nil
}

type querySubscriptionResponse struct {
	Status                string    `json:"status"`
	SubscribedAt          time.Time `json:"subscribedAt"`
	OriginalTransactionID string    `json:"originalTransactionId"`
	CanceledAt            time.Time `json:"canceledAt"`
}

// QuerySubscriptionStatus implements adapter.Adapter.
func (a *Adapter) QuerySubscriptionStatus(ctx context.Context, originalTransactionID string) (adapter.SubscriptionQueryResult, error) {
	var out querySubscriptionResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/subscriptions/" + originalTransactionID + "/status")
	if err != nil {
		return adapter.SubscriptionQueryResult{}, err
	}
	if resp.IsError() {
		return adapter.SubscriptionQueryResult{}, billingerrors.ErrProviderFailure
	}

	if out.Status == "canceled" {
		return adapter.SubscriptionQueryResult{Type: adapter.QueryCanceled, CanceledAt: out.CanceledAt}, nil
	}
	return adapter.SubscriptionQueryResult{
		Type:                  adapter.QuerySubscribed,
		SubscribedAt:          out.SubscribedAt,
		OriginalTransactionID: out.OriginalTransactionID,
	}, nil
}

type rechargeRequest struct {
	OriginalTransactionID string `json:"originalTransactionId"`
	AttemptIndex          int    `json:"attemptIndex"`
}

type rechargeResponse struct {
	Outcome       string    `json:"outcome"`
	TransactionID string    `json:"transactionId"`
	PurchasedAt   time.Time `json:"purchasedAt"`
	Duration      string    `json:"duration"`
	FailedAt      time.Time `json:"failedAt"`
	CanceledAt    time.Time `json:"canceledAt"`
	Reason        string    `json:"reason"`
}

// RechargeSubscription implements adapter.Adapter.
func (a *Adapter) RechargeSubscription(ctx context.Context, txCtx adapter.OriginalTxContext, attemptIndex int) (adapter.RechargeOutcome, error) {
	var out rechargeResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(rechargeRequest{OriginalTransactionID: txCtx.OriginalTransactionID, AttemptIndex: attemptIndex}).
		SetResult(&out).
		Post("/subscriptions/" + txCtx.OriginalTransactionID + "/recharge")
	if err != nil {
		return adapter.RechargeOutcome{}, err
	}
	if resp.IsError() {
		return adapter.RechargeOutcome{}, billingerrors.ErrProviderFailure
	}

	switch out.Outcome {
	case string(adapter.RechargeRenewed):
		duration, derr := time.ParseDuration(out.Duration)
		if derr != nil {
			return adapter.RechargeOutcome{}, derr
		}
		return adapter.RechargeOutcome{
			Type:          adapter.RechargeRenewed,
			TransactionID: out.TransactionID,
			PurchasedAt:   out.PurchasedAt,
			Duration:      duration,
		}, nil
	case string(adapter.RechargeCanceled):
		return adapter.RechargeOutcome{Type: adapter.RechargeCanceled, CanceledAt: out.CanceledAt, Reason: out.Reason}, nil
	default:
		return adapter.RechargeOutcome{Type: adapter.RechargeFailed, FailedAt: out.FailedAt, Reason: out.Reason}, nil
	}
}

// CancelSubscription implements adapter.Adapter.
func (a *Adapter) CancelSubscription(ctx context.Context, txCtx adapter.OriginalTxContext) (bool, error) {
	if !a.cfg.SupportsCancelSubscription {
		return false, billingerrors.ErrCapabilityUnsupported
	}
	resp, err := a.client.R().
		SetContext(ctx).
		Delete("/subscriptions/" + txCtx.OriginalTransactionID)
	if err != nil {
		return false, err
	}
	if resp.IsError() {
		return false, billingerrors.ErrProviderFailure
	}
	return true, nil
}
