// Package lease provides keyed mutual exclusion. The engine holds a lease on a
// correlation id for the duration of one dispatch so that two evaluations never
// race on the same subject.
package lease

import (
	"context"
	"errors"
)

// ErrEmptyKey is returned when a lease is requested without a key.
var ErrEmptyKey = errors.New("lease key is empty")

// Release gives a lease back. Calling it more than once is safe.
type Release func()

// Leaser grants exclusive leases by key.
type Leaser interface {
	// Acquire blocks until the lease on key is held or ctx is done.
	Acquire(ctx context.Context, key string) (Release, error)
}
