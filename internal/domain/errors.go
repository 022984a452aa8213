package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy. Validation failures are never retried; everything else
// that reaches the caller is a dependency failure and is safe to retry
// because every apply path is idempotent.
var (
	ErrValidation = errors.New("validation failed")
	ErrDependency = errors.New("dependency unavailable")
)

// Validationf builds a rejection error for a malformed trigger payload.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Dependencyf wraps a store or collaborator failure so the transport can
// retry per its own delivery policy. The cause stays in the chain.
func Dependencyf(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDependency, op, err)
}

// IsValidation reports whether err is a rejection rather than a retryable
// failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
