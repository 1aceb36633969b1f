// Package store provides durable persistence for customer license records
// with a per-record atomic read-modify-write contract.
//
// Every state-machine transition runs inside an UpdateByID/UpdateByKey call
// so the whole read-decide-write sequence is serialized per record. Updates
// on distinct records proceed in parallel; there is no cross-record
// ordering. A writer that cannot win the record within a bounded time fails
// with license.ErrStoreContention instead of blocking, and a failed
// transition never leaves a partial write behind.
package store

import (
	"context"
	"errors"

	"keygate/internal/license"
)

// ErrDuplicateKey is returned by Insert when a generated license key
// collides with an existing record. Callers regenerate and retry.
var ErrDuplicateKey = errors.New("license key already exists")

// UpdateFunc mutates a record inside an atomic update. Returning a nil
// error commits the mutation. Returning an error aborts it, unless the
// error is wrapped with Persist, in which case the mutation is committed
// and the wrapped error is still surfaced to the caller.
type UpdateFunc func(c *license.Customer) error

// Store is the durable collection of customer records. Implementations must
// honor the package-level consistency contract.
type Store interface {
	// Insert adds a new record, enforcing id and license key uniqueness.
	Insert(ctx context.Context, c *license.Customer) error

	// GetByID returns a snapshot of the record with the given id, or
	// license.ErrNotFound.
	GetByID(ctx context.Context, id string) (*license.Customer, error)

	// GetByKey returns a snapshot of the record with the given license key,
	// or license.ErrInvalidLicense.
	GetByKey(ctx context.Context, key string) (*license.Customer, error)

	// List returns snapshots of all records in creation order.
	List(ctx context.Context) ([]*license.Customer, error)

	// UpdateByID applies fn to the record with the given id under the
	// per-record write guard and returns the post-update snapshot.
	UpdateByID(ctx context.Context, id string, fn UpdateFunc) (*license.Customer, error)

	// UpdateByKey is UpdateByID with a license key lookup; a missing key
	// fails with license.ErrInvalidLicense.
	UpdateByKey(ctx context.Context, key string, fn UpdateFunc) (*license.Customer, error)

	// Close releases any underlying resources.
	Close() error
}

// persistError marks a business failure whose record mutation must still be
// written, e.g. Activate persisting the expired status before rejecting.
type persistError struct {
	err error
}

func (e *persistError) Error() string { return e.err.Error() }

func (e *persistError) Unwrap() error { return e.err }

// Persist wraps a business error so the surrounding update still commits
// the record mutation before surfacing err.
func Persist(err error) error {
	return &persistError{err: err}
}

// shouldPersist reports whether an UpdateFunc error still requires a commit,
// returning the unwrapped business error.
func shouldPersist(err error) (error, bool) {
	var pe *persistError
	if errors.As(err, &pe) {
		return pe.err, true
	}
	return err, false
}
