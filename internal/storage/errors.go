// Package storage defines the errors shared by the remote-store adapters.
//
// Adapters implement optimistic read-modify-write transactions: the closure
// passed to an Update method sees a private copy of the document, and the
// write is retried automatically when a concurrent writer got there first.
// An error returned by the closure aborts the transaction permanently and
// is returned to the caller unchanged, which is how business-rule failures
// (insufficient funds, item not owned) propagate without being retried.
package storage

import "errors"

var (
	// ErrNotFound is returned when a requested document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrTooMuchContention is returned when an optimistic transaction could
	// not commit within the adapter's retry budget.
	ErrTooMuchContention = errors.New("transaction retry limit exceeded")
)
