package billingops

import billingerrors "payments-engine/pkg/errors"

// maxConflictRetries bounds how many times in all a single-aggregate CAS
// write is attempted while it hits optimistic-lock conflicts, before the
// conflict is surfaced to the caller (§7: "conflict is retried internally a bounded
// number of times before surfacing", distinct from
// conflicting-terminal-transition, which is never retried).
const maxConflictRetries = 3

// withConflictRetry runs fn up to maxConflictRetries times, retrying only
// while it reports billingerrors.ErrConflict. fn is expected to re-read the
// current aggregate on each call, the same read-validate-write shape
// reconcile.go's syncSubscriptionTransaction uses for the analogous
// reconciliation-side write.
func withConflictRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = fn()
		if err != billingerrors.ErrConflict {
			return err
		}
	}
	return err
}
