package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/port"
)

const (
	defaultMySQLLockWait = 2 * time.Second
	erLockWaitTimeout    = 1205
)

// MySQLStore implements port.StockStore on a stock_records table:
//
//	product_id VARCHAR PRIMARY KEY, available INT, version BIGINT,
//	created_at, updated_at
//
// Pessimistic locking maps to SELECT ... FOR UPDATE inside a transaction,
// optimistic writes to a version-conditioned UPDATE checked via RowsAffected.
type MySQLStore struct {
	db       *sql.DB
	lockWait time.Duration
}

func NewMySQLStore(db *sql.DB, lockWait time.Duration) *MySQLStore {
	if lockWait <= 0 {
		lockWait = defaultMySQLLockWait
	}
	return &MySQLStore{db: db, lockWait: lockWait}
}

func (m *MySQLStore) Get(ctx context.Context, productID string) (domain.StockRecord, error) {
	var rec domain.StockRecord
	err := m.db.QueryRowContext(ctx, `
		SELECT product_id, available, version, created_at, updated_at
		FROM stock_records WHERE product_id = ?`, productID,
	).Scan(&rec.ProductID, &rec.Available, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockRecord{}, port.ErrNotFound
	}
	if err != nil {
		return domain.StockRecord{}, fmt.Errorf("query stock: %w", err)
	}
	return rec, nil
}

func (m *MySQLStore) ConditionalUpdate(ctx context.Context, productID string, available int, expectedVersion int64) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE stock_records
		SET available = ?, version = version + 1, updated_at = NOW()
		WHERE product_id = ? AND version = ?`,
		available, productID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrVersionConflict
	}
	return nil
}

func (m *MySQLStore) WithLock(ctx context.Context, productID string, fn func(rec domain.StockRecord) (int, bool, error)) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Bound the lock wait explicitly instead of relying on the server
	// default, which may be far larger than the caller can tolerate.
	waitSecs := int(m.lockWait / time.Second)
	if waitSecs < 1 {
		waitSecs = 1
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET innodb_lock_wait_timeout = %d", waitSecs)); err != nil {
		return fmt.Errorf("set lock wait timeout: %w", err)
	}

	var rec domain.StockRecord
	err = tx.QueryRowContext(ctx, `
		SELECT product_id, available, version, created_at, updated_at
		FROM stock_records WHERE product_id = ? FOR UPDATE`, productID,
	).Scan(&rec.ProductID, &rec.Available, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return port.ErrNotFound
	}
	if err != nil {
		if isLockWaitTimeout(err) {
			return port.ErrLockTimeout
		}
		return fmt.Errorf("select for update: %w", err)
	}

	newAvailable, apply, err := fn(rec)
	if err != nil {
		return err
	}
	if !apply {
		// Rollback via defer releases the row lock without a write.
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE stock_records
		SET available = ?, version = version + 1, updated_at = NOW()
		WHERE product_id = ?`,
		newAvailable, productID,
	); err != nil {
		return fmt.Errorf("update stock: %w", err)
	}

	return tx.Commit()
}

// Seed provisions or resets a record. Used at bootstrap and by tests, never
// by the reservation path.
func (m *MySQLStore) Seed(ctx context.Context, productID string, available int) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO stock_records (product_id, available, version, created_at, updated_at)
		VALUES (?, ?, 1, NOW(), NOW())
		ON DUPLICATE KEY UPDATE available = VALUES(available), version = version + 1, updated_at = NOW()`,
		productID, available,
	)
	if err != nil {
		return fmt.Errorf("seed stock: %w", err)
	}
	return nil
}

func isLockWaitTimeout(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == erLockWaitTimeout
}
