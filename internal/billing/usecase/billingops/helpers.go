package billingops

import (
	"fmt"
	"time"

	"payments-engine/internal/billing/repository"
)

func errorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

// supersededPatch builds the update applied to a subscription replaced by
// a plan change: canceled, with renewal disabled, and flagged as
// superseded so the reason is distinguishable from an explicit cancel or a
// terminal recharge failure, even though all three read as
// domain.SubscriptionCanceled.
func supersededPatch(canceledAt time.Time) repository.SubscriptionPatch {
	superseded := true
	disabled := false
	return repository.SubscriptionPatch{
		CanceledAt:     &canceledAt,
		RenewalEnabled: &disabled,
		Superseded:     &superseded,
	}
}
