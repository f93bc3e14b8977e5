package memory

import (
	"errors"
	"fmt"
)

// Sentinel errors for the store's failure taxonomy.
//
// Validation and conflict errors are caller bugs or bad input and must not
// be retried. Internal errors come from the durable backend and may be
// retried by the caller a bounded number of times; the retry policy itself
// lives outside this module.
var (
	// ErrNotFound indicates an update or access referencing an unknown id.
	// Note: Get reports absence as (nil, nil) and Delete as (false, nil);
	// only operations that require the row to exist return this.
	ErrNotFound = errors.New("memory not found")

	// ErrValidation indicates invalid input: importance out of [0,1],
	// a missing owner, or an empty query embedding.
	ErrValidation = errors.New("invalid input")

	// ErrConflict indicates an invariant violation detected at write time,
	// such as saving with an id that already exists or attempting to change
	// a memory's owner on update.
	ErrConflict = errors.New("conflicting write")

	// ErrInternal indicates a storage or serialization failure.
	ErrInternal = errors.New("internal storage error")
)

// StoreError wraps an error with the name of the failing operation, so a
// caller sees "mnemo: SearchSimilar: ..." instead of a bare driver error.
// It unwraps, so errors.Is works against the sentinels above.
type StoreError struct {
	// Op is the operation that failed, e.g. "Save" or "ApplyDecay".
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns "mnemo: <Op>: <Err>".
func (e *StoreError) Error() string {
	return fmt.Sprintf("mnemo: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is / errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError wraps err with operation context; returns nil when err is nil
// so call sites can wrap unconditionally.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// Internalf builds an ErrInternal-classified error with a formatted detail
// message, for storage and serialization failures.
func Internalf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInternal}, args...)...)
}

// Validationf builds an ErrValidation-classified error with detail.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, args...)...)
}
