package registry

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidFilter       = errors.New("invalid status filter")
	ErrNotFound            = errors.New("task not found")
	ErrInvalidTransition   = errors.New("task already completed")
	ErrDuplicateID         = errors.New("duplicate task id")
	ErrAllocationExhausted = errors.New("unable to allocate unique PID")

	// ErrStaleStatus is returned by a Store when the record changed status
	// between read and write.
	ErrStaleStatus = errors.New("task status changed concurrently")
)

// InputError names the creation field that failed validation.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidInput, e.Field, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }
