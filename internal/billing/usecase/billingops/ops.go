// Package billingops is the orchestration layer tying the registry (C1),
// repository (C2), transaction/subscription state machines (C3/C4), the
// callback dispatcher (C5), and the user view (C7) together behind a small
// set of public operations. It follows the teacher's use-case convention:
// a struct holding its collaborators, one method per operation, and a
// named logger per call via logutil.
package billingops

import (
	"time"

	"go.uber.org/zap"

	"payments-engine/internal/billing/actionqueue"
	"payments-engine/internal/billing/domain"
	"payments-engine/internal/billing/registry"
	"payments-engine/internal/billing/repository"
)

// Ops bundles the collaborators every billing operation needs.
type Ops struct {
	Repo     repository.Repository
	Registry *registry.Registry
	Clock    domain.Clock
	Actions  actionqueue.Queue

	// PurchaseExpiresAfter is the default payment window for new
	// transactions (§6).
	PurchaseExpiresAfter time.Duration

	// CascadeTransactionExpiryToSubscription resolves §9's open question
	// (decision recorded in DESIGN.md / SPEC_FULL.md §9.1): when true, a
	// subscription whose sole initiating transaction expires unconfirmed
	// is cascaded to canceled rather than left pending.
	CascadeTransactionExpiryToSubscription bool

	Logger *zap.Logger
}

func (o *Ops) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop()
}
