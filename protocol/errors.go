package protocol

import (
	"errors"
	"fmt"
)

// ErrPayloadValidation is wrapped by every decode and validation failure.
var ErrPayloadValidation = errors.New("payload validation failed")

// ValidationError identifies the offending field of an invalid message.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrPayloadValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrPayloadValidation
}

func required(field string) error {
	return &ValidationError{Field: field, Reason: "required"}
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
