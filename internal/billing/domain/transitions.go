package domain

import billingerrors "payments-engine/pkg/errors"

// transactionTransitions enumerates the transaction state machine's
// allowed outgoing edges (§4.3). Only pending has outgoing edges; once a
// transaction reaches completed or canceled it is terminal.
var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionPending: {TransactionCompleted, TransactionCanceled},
}

// ValidateTransactionTransition checks whether moving a transaction from
// current to target is legal.
//
// Per the design note on idempotence vs. loud rejection, re-applying a
// terminal transition is NEVER treated as a silent no-op — even a replay
// of the exact same confirmation event is rejected, so provider
// double-delivery and operator mistakes surface rather than vanish.
func ValidateTransactionTransition(current, target TransactionStatus) error {
	if current != TransactionPending {
		return billingerrors.ErrConflictingTerminalTransition
	}
	for _, allowed := range transactionTransitions[current] {
		if allowed == target {
			return nil
		}
	}
	return billingerrors.ErrConflictingTerminalTransition
}

// ValidateSubscriptionCancel checks whether a subscription may be moved to
// canceled. A subscription already terminal (CanceledAt set, or superseded
// by a plan change) rejects a further cancel attempt loudly.
func ValidateSubscriptionCancel(sub *Subscription) error {
	if sub.CanceledAt != nil || sub.Superseded {
		return billingerrors.ErrConflictingTerminalTransition
	}
	return nil
}

// ValidateSubscriptionRenewal checks whether a recharge attempt may be
// applied to a subscription. Only a subscription that has not already been
// canceled is eligible; renewal against a canceled subscription is a
// provider/operator mistake surfaced loudly rather than swallowed.
func ValidateSubscriptionRenewal(sub *Subscription) error {
	if sub.CanceledAt != nil || sub.Superseded {
		return billingerrors.ErrConflictingTerminalTransition
	}
	if !sub.RenewalEnabled {
		return billingerrors.ErrConflictingTerminalTransition
	}
	return nil
}
