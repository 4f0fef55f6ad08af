// Package intake holds the pieces shared by every public form endpoint:
// markup stripping, field validation, batch decoding and the JSON error
// responses.
package intake

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPersistence marks a failed write to the backing store. Handlers log
// the wrapped cause and answer with a generic 500.
var ErrPersistence = errors.New("persistence failure")

// Persistence wraps err as an ErrPersistence.
func Persistence(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

// ValidationError carries one message per rejected field or batch item.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Details, "; ")
}

// Invalid returns a ValidationError with the given details.
func Invalid(details ...string) *ValidationError {
	return &ValidationError{Details: details}
}
