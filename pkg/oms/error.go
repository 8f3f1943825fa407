package oms

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("invalid order request")
	ErrNotFound           = errors.New("order not found")
	ErrInvalidState       = errors.New("invalid order status")
	ErrInvariantViolation = errors.New("order invariant violated")
)

// ValidationError names the request field that failed validation.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
