package invoice

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("invoice: not found")
	ErrValidation         = errors.New("invoice: validation failed")
	ErrInvalidState       = errors.New("invoice: invalid state transition")
	ErrArtifactExists     = errors.New("invoice: artifact already recorded")
	ErrDocumentGeneration = errors.New("invoice: document generation failed")
	ErrSequenceExhausted  = errors.New("invoice: sequential numbers exhausted")
)

// StateError describes a refused transition.
type StateError struct {
	ID      string
	Current Status
	Allowed []Status
	Target  Status
}

func (e *StateError) Error() string {
	allowed := make([]string, 0, len(e.Allowed))
	for _, s := range e.Allowed {
		allowed = append(allowed, string(s))
	}
	return fmt.Sprintf("invoice %s: cannot move to %s from %s (allowed from %s)", e.ID, e.Target, e.Current, strings.Join(allowed, ", "))
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
