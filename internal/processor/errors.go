package processor

import (
	pkgerrors "github.com/bountyhub/escrow/pkg/errors"
)

// Classify maps a processor failure onto the API error taxonomy. Definite
// refusals surface as validation errors carrying rejectedMsg; everything else
// is a retryable dependency failure.
func Classify(err error, rejectedMsg string) error {
	if err == nil {
		return nil
	}
	if IsRejected(err) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, rejectedMsg)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment processor unavailable")
}
