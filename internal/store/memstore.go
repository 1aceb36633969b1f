package store

import (
	"context"
	"sync"
	"time"

	"keygate/internal/license"
)

// DefaultLockWait bounds how long an update waits for a record's write
// guard before failing with license.ErrStoreContention.
const DefaultLockWait = 2 * time.Second

// MemStore is an in-memory Store with a per-record lock table. It is the
// reference implementation of the consistency contract and the backend used
// by tests; production deployments use the SQLite store.
type MemStore struct {
	mu       sync.RWMutex
	byID     map[string]*license.Customer
	keyToID  map[string]string
	order    []string
	locks    map[string]chan struct{}
	lockWait time.Duration
}

// NewMemStore creates an empty in-memory store with the default lock wait.
func NewMemStore() *MemStore {
	return NewMemStoreWithLockWait(DefaultLockWait)
}

// NewMemStoreWithLockWait creates an in-memory store with a custom bound on
// write-guard acquisition. Tests use a short wait to exercise contention.
func NewMemStoreWithLockWait(lockWait time.Duration) *MemStore {
	return &MemStore{
		byID:     make(map[string]*license.Customer),
		keyToID:  make(map[string]string),
		locks:    make(map[string]chan struct{}),
		lockWait: lockWait,
	}
}

// Insert adds a new record, enforcing license key uniqueness.
func (s *MemStore) Insert(ctx context.Context, c *license.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keyToID[c.LicenseKey]; exists {
		return ErrDuplicateKey
	}
	if _, exists := s.byID[c.ID]; exists {
		return ErrDuplicateKey
	}

	s.byID[c.ID] = c.Clone()
	s.keyToID[c.LicenseKey] = c.ID
	s.order = append(s.order, c.ID)
	return nil
}

// GetByID returns a snapshot of the record with the given id.
func (s *MemStore) GetByID(ctx context.Context, id string) (*license.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, license.ErrNotFound
	}
	return c.Clone(), nil
}

// GetByKey returns a snapshot of the record with the given license key.
func (s *MemStore) GetByKey(ctx context.Context, key string) (*license.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.keyToID[key]
	if !ok {
		return nil, license.ErrInvalidLicense
	}
	return s.byID[id].Clone(), nil
}

// List returns snapshots of all records in insertion order.
func (s *MemStore) List(ctx context.Context) ([]*license.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*license.Customer, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].Clone())
	}
	return out, nil
}

// UpdateByID applies fn to a record under its write guard.
func (s *MemStore) UpdateByID(ctx context.Context, id string, fn UpdateFunc) (*license.Customer, error) {
	return s.update(ctx, id, license.ErrNotFound, fn)
}

// UpdateByKey applies fn to the record matching a license key.
func (s *MemStore) UpdateByKey(ctx context.Context, key string, fn UpdateFunc) (*license.Customer, error) {
	s.mu.RLock()
	id, ok := s.keyToID[key]
	s.mu.RUnlock()
	if !ok {
		return nil, license.ErrInvalidLicense
	}
	return s.update(ctx, id, license.ErrInvalidLicense, fn)
}

// Close implements Store; a MemStore holds no external resources.
func (s *MemStore) Close() error { return nil }

// update runs fn on a working copy while holding the record's write guard,
// committing the copy back only when fn allows it. Readers are never blocked
// by an in-flight update; they observe the pre-update snapshot until commit.
func (s *MemStore) update(ctx context.Context, id string, missing error, fn UpdateFunc) (*license.Customer, error) {
	release, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.RLock()
	stored, ok := s.byID[id]
	var work *license.Customer
	if ok {
		work = stored.Clone()
	}
	s.mu.RUnlock()
	if !ok {
		return nil, missing
	}

	fnErr := fn(work)
	if fnErr != nil {
		inner, persist := shouldPersist(fnErr)
		if !persist {
			return nil, inner
		}
		s.commit(work)
		return nil, inner
	}

	s.commit(work)
	return work.Clone(), nil
}

func (s *MemStore) commit(c *license.Customer) {
	s.mu.Lock()
	s.byID[c.ID] = c.Clone()
	s.mu.Unlock()
}

// acquire takes the per-record write guard, waiting at most lockWait (or
// until ctx is done) before reporting contention.
func (s *MemStore) acquire(ctx context.Context, id string) (func(), error) {
	s.mu.Lock()
	guard, ok := s.locks[id]
	if !ok {
		guard = make(chan struct{}, 1)
		s.locks[id] = guard
	}
	s.mu.Unlock()

	timer := time.NewTimer(s.lockWait)
	defer timer.Stop()

	select {
	case guard <- struct{}{}:
		return func() { <-guard }, nil
	case <-timer.C:
		return nil, license.ErrStoreContention
	case <-ctx.Done():
		return nil, license.ErrStoreContention
	}
}
