package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks a request whose dimensions fail validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfiguration marks a missing or invalid external credential. Never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrStoreUnavailable wraps cache backend failures.
	ErrStoreUnavailable = errors.New("cache store unavailable")
)

// GenerationError is returned once every generation attempt has failed.
type GenerationError struct {
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("insight generation failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
