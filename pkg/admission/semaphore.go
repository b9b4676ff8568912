// Package admission provides the bounded-channel semaphore used to cap
// concurrent commit-time write storms (single-shot uploads and
// chunk-completion assemblies), grounded on the teacher's buffered-channel
// worker-pool pattern rather than golang.org/x/sync/semaphore, which
// nothing in this codebase's lineage imports.
package admission

import "context"

// DefaultCapacity is UPLOAD_CONCURRENCY's default (spec §5).
const DefaultCapacity = 8

// Semaphore bounds concurrent access to capacity permits.
type Semaphore struct {
	slots chan struct{}
}

// NewSemaphore returns a Semaphore with the given capacity.
func NewSemaphore(capacity int) *Semaphore {
	if capacity < 1 {
		capacity = 1
	}
	return &Semaphore{slots: make(chan struct{}, capacity)}
}

// TryAcquire attempts to take a permit without blocking. It reports whether
// a permit was acquired.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Acquire blocks until a permit is available or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a permit to the pool.
func (s *Semaphore) Release() {
	select {
	case <-s.slots:
	default:
	}
}
