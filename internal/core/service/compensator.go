package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/port"
)

const compensationKeyPrefix = "compensate:"

// Compensator reverses a previously confirmed reservation by restoring its
// quantity, under the same locking discipline as the reserve path. Idempotent
// per order: the ledger records which orders were already restocked, so a
// redelivered cancellation does not double-credit.
type Compensator struct {
	store    port.StockStore
	ledger   port.IdempotencyLedger
	retrier  *Retrier
	strategy Strategy
}

func NewCompensator(store port.StockStore, ledger port.IdempotencyLedger, retrier *Retrier, strategy Strategy) *Compensator {
	return &Compensator{store: store, ledger: ledger, retrier: retrier, strategy: strategy}
}

// Compensate restocks the order's quantity. A failed restock releases the
// idempotency claim and propagates the error so the messaging layer redelivers;
// a lost compensation corrupts the ledger permanently and must never be
// swallowed.
func (c *Compensator) Compensate(ctx context.Context, req domain.CompensationRequest) error {
	if req.Quantity <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidQuantity, req.Quantity)
	}

	key := compensationKeyPrefix + req.OrderID
	ok, err := c.ledger.Claim(ctx, key)
	if err != nil {
		return fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		log.Info().
			Str("orderId", req.OrderID).
			Str("productId", req.ProductID).
			Msg("order already compensated, skipping restock")
		return nil
	}

	if err := c.restock(ctx, req); err != nil {
		if relErr := c.ledger.Release(ctx, key); relErr != nil {
			log.Error().
				Err(relErr).
				Str("orderId", req.OrderID).
				Msg("CRITICAL: failed to release compensation claim after failed restock")
		}
		return fmt.Errorf("restock %s for order %s: %w", req.ProductID, req.OrderID, err)
	}

	log.Info().
		Str("orderId", req.OrderID).
		Str("productId", req.ProductID).
		Int("quantity", req.Quantity).
		Msg("compensation applied")
	return nil
}

func (c *Compensator) restock(ctx context.Context, req domain.CompensationRequest) error {
	if c.strategy == StrategyPessimistic {
		return c.store.WithLock(ctx, req.ProductID, func(rec domain.StockRecord) (int, bool, error) {
			return rec.Available + req.Quantity, true, nil
		})
	}

	// Addition never fails on insufficient stock, so the only non-confirmed
	// outcome here is conflict exhaustion. That must still surface as an
	// error: restocks cannot be dropped.
	outcome, err := c.retrier.Do(ctx, domain.ReservationRequest{
		OrderID:   req.OrderID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
	}, c.attemptRestock)
	if err != nil {
		return err
	}
	if !outcome.Confirmed {
		return fmt.Errorf("restock conflicts exhausted for product %s", req.ProductID)
	}
	return nil
}

func (c *Compensator) attemptRestock(ctx context.Context, req domain.ReservationRequest) (domain.ReservationOutcome, error) {
	rec, err := c.store.Get(ctx, req.ProductID)
	if err != nil {
		return domain.ReservationOutcome{}, fmt.Errorf("read stock %s: %w", req.ProductID, err)
	}
	if err := c.store.ConditionalUpdate(ctx, req.ProductID, rec.Available+req.Quantity, rec.Version); err != nil {
		return domain.ReservationOutcome{}, fmt.Errorf("conditional update %s: %w", req.ProductID, err)
	}
	return domain.Confirmed(req), nil
}
