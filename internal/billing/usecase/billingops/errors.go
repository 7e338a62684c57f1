package billingops

import billingerrors "payments-engine/pkg/errors"

func errCanceled() error {
	return billingerrors.ErrCanceled
}

func providerFailure(cause error) error {
	return billingerrors.ErrProviderFailure.Wrap(cause)
}
