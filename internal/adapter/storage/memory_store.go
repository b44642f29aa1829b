package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/port"
)

const defaultMemoryLockWait = 1 * time.Second

// MemoryStore is an in-process StockStore with the same locking and
// versioning semantics as the MySQL adapter: a per-row exclusive lock with a
// bounded wait, and version-checked conditional writes. The engine runs
// against it in tests and in the contention simulator without code change.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*memoryRecord
	lockWait time.Duration
}

type memoryRecord struct {
	mu   sync.Mutex    // guards rec
	lock chan struct{} // capacity 1; holding the token = holding the row lock
	rec  domain.StockRecord
}

func NewMemoryStore(lockWait time.Duration) *MemoryStore {
	if lockWait <= 0 {
		lockWait = defaultMemoryLockWait
	}
	return &MemoryStore{
		records:  make(map[string]*memoryRecord),
		lockWait: lockWait,
	}
}

// Seed creates or resets a record. Provisioning only, never part of the
// reservation path.
func (s *MemoryStore) Seed(productID string, available int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.records[productID] = &memoryRecord{
		lock: make(chan struct{}, 1),
		rec: domain.StockRecord{
			ProductID: productID,
			Available: available,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

func (s *MemoryStore) Get(ctx context.Context, productID string) (domain.StockRecord, error) {
	r, ok := s.lookup(productID)
	if !ok {
		return domain.StockRecord{}, port.ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec, nil
}

func (s *MemoryStore) ConditionalUpdate(ctx context.Context, productID string, available int, expectedVersion int64) error {
	r, ok := s.lookup(productID)
	if !ok {
		return port.ErrNotFound
	}

	// Take the row lock as well so conditional writes cannot interleave with
	// a pessimistic holder's read-check-write, mirroring how the database
	// engine serializes both paths through row locks.
	if err := s.acquire(ctx, r); err != nil {
		return err
	}
	defer s.release(r)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec.Version != expectedVersion {
		return port.ErrVersionConflict
	}
	r.rec.Available = available
	r.rec.Version++
	r.rec.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) WithLock(ctx context.Context, productID string, fn func(rec domain.StockRecord) (int, bool, error)) error {
	r, ok := s.lookup(productID)
	if !ok {
		return port.ErrNotFound
	}

	if err := s.acquire(ctx, r); err != nil {
		return err
	}
	defer s.release(r)

	r.mu.Lock()
	snapshot := r.rec
	r.mu.Unlock()

	newAvailable, apply, err := fn(snapshot)
	if err != nil {
		return err
	}
	if !apply {
		return nil
	}

	r.mu.Lock()
	r.rec.Available = newAvailable
	r.rec.Version++
	r.rec.UpdatedAt = time.Now()
	r.mu.Unlock()
	return nil
}

func (s *MemoryStore) lookup(productID string) (*memoryRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[productID]
	return r, ok
}

func (s *MemoryStore) acquire(ctx context.Context, r *memoryRecord) error {
	timer := time.NewTimer(s.lockWait)
	defer timer.Stop()

	select {
	case r.lock <- struct{}{}:
		return nil
	case <-timer.C:
		return port.ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MemoryStore) release(r *memoryRecord) {
	<-r.lock
}
