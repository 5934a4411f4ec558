package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound: unknown order, account, bid or timer id.
	ErrNotFound = errors.New("not found")
	// ErrConflict: the order is already assigned or terminal. Expected
	// during races, not a failure.
	ErrConflict = errors.New("conflict")
	// ErrInsufficientFunds: the balance gate rejected the actor.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// ValidationError rejects malformed input before the store is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// StoreError wraps a transient persistence failure. Core mutations are
// conditionally guarded, so retrying a StoreError is safe.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
