package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every engine. Callers match with errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrStateConflict     = errors.New("state conflict")
	ErrUnauthorized      = errors.New("not permitted")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotFound          = errors.New("not found")
)

func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStateConflict, fmt.Sprintf(format, args...))
}

func Forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, fmt.Sprintf(format, args...))
}

func Missing(kind string, id fmt.Stringer) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}
