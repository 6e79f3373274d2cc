package engine

import "errors"

// ErrInvalidInput is the sentinel behind every InputError.
var ErrInvalidInput = errors.New("invalid input")

// InputError rejects a call before any evaluation happens.
type InputError struct {
	Message string
}

func (e *InputError) Error() string { return e.Message }

// Unwrap lets errors.Is match ErrInvalidInput.
func (e *InputError) Unwrap() error { return ErrInvalidInput }

func inputErr(msg string) error { return &InputError{Message: msg} }
