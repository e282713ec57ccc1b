package store

import (
	"errors"
	"fmt"
)

var (
	// ErrConcurrencyConflict is returned by Append when expectedVersion does
	// not match the aggregate's current version. Callers must reload and
	// re-validate before retrying.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrStorageUnavailable marks a transient infrastructure fault.
	// Retryable with backoff by the caller.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound means no events exist for the requested aggregate. Not
	// necessarily an error to the caller.
	ErrNotFound = errors.New("aggregate not found")
)

func concurrencyConflict(aggregateID string, expected, actual int) error {
	return fmt.Errorf("%w: aggregate %s is at version %d, expected %d",
		ErrConcurrencyConflict, aggregateID, actual, expected)
}

func storageUnavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}

// UnknownEventTypeError signals an event type the aggregate runtime cannot
// apply. It is fatal to the operation in progress: silently skipping the
// event would corrupt derived state invisibly.
type UnknownEventTypeError struct {
	AggregateType string
	EventType     string
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown event type %q for aggregate type %q", e.EventType, e.AggregateType)
}
