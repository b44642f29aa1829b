package port

import (
	"context"
	"errors"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

var (
	ErrNotFound        = errors.New("stock record not found")
	ErrVersionConflict = errors.New("optimistic lock conflict")
	ErrLockTimeout     = errors.New("lock wait timeout")
)

// StockStore is the durable record store the reservation engine runs against.
// The engine holds no cached record state across calls; all coordination goes
// through these three operations.
type StockStore interface {
	// Get reads the current record without locking.
	Get(ctx context.Context, productID string) (domain.StockRecord, error)

	// ConditionalUpdate sets the available quantity only if the stored version
	// still equals expectedVersion, incrementing the version on success.
	// Returns ErrVersionConflict when another writer won the race.
	ConditionalUpdate(ctx context.Context, productID string, available int, expectedVersion int64) error

	// WithLock runs fn while holding an exclusive lock scoped to the product
	// row. If fn returns apply=true, newAvailable is persisted before the lock
	// is released. Returns ErrLockTimeout when the lock cannot be acquired
	// within the store's configured wait bound, ErrNotFound when the row does
	// not exist.
	WithLock(ctx context.Context, productID string, fn func(rec domain.StockRecord) (newAvailable int, apply bool, err error)) error
}
