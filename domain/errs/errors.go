// Package errs holds the error taxonomy shared by the engine and its
// transports.
//
//   - ValidationError: caller input was rejected before any side effect.
//   - ErrNotFound: a lookup missed. Read paths turn it into an empty result.
//   - ErrStaleStatus: an order was not in the state a transition expected.
//     Fill paths treat it as a lost race and no-op.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicate      = errors.New("already exists")
	ErrStaleStatus    = errors.New("order status changed")
	ErrAlreadyRunning = errors.New("already running")
)

// ValidationError rejects a request synchronously. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
