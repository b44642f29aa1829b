package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/port"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrUnknownStrategy = errors.New("unknown concurrency strategy")
)

type Strategy string

const (
	StrategyOptimistic  Strategy = "optimistic"
	StrategyPessimistic Strategy = "pessimistic"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyOptimistic, StrategyPessimistic:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// ReservationEngine owns the only mutation path to stock records. A reserve
// call either fully commits its decrement or leaves stock untouched; business
// rejections come back as outcome values, store faults as errors.
type ReservationEngine struct {
	store   port.StockStore
	retrier *Retrier
}

func NewReservationEngine(store port.StockStore, retrier *Retrier) *ReservationEngine {
	return &ReservationEngine{store: store, retrier: retrier}
}

func (e *ReservationEngine) Reserve(ctx context.Context, req domain.ReservationRequest, strategy Strategy) (domain.ReservationOutcome, error) {
	if req.Quantity <= 0 {
		return domain.ReservationOutcome{}, fmt.Errorf("%w: got %d", ErrInvalidQuantity, req.Quantity)
	}

	switch strategy {
	case StrategyPessimistic:
		return e.reservePessimistic(ctx, req)
	case StrategyOptimistic:
		return e.retrier.Do(ctx, req, e.attemptOptimistic)
	}
	return domain.ReservationOutcome{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
}

// reservePessimistic serializes all writers to the product row: read, check
// and write happen under an exclusive lock, with no external calls while held.
func (e *ReservationEngine) reservePessimistic(ctx context.Context, req domain.ReservationRequest) (domain.ReservationOutcome, error) {
	var confirmed bool
	err := e.store.WithLock(ctx, req.ProductID, func(rec domain.StockRecord) (int, bool, error) {
		if rec.Available < req.Quantity {
			return 0, false, nil
		}
		confirmed = true
		return rec.Available - req.Quantity, true, nil
	})

	switch {
	case errors.Is(err, port.ErrNotFound):
		return domain.Rejected(req, domain.ReasonProductNotFound), nil
	case errors.Is(err, port.ErrLockTimeout):
		// Bounded lock wait expired under contention. Surfaced like conflict
		// exhaustion so callers can tell "try again" from "sold out".
		return domain.Rejected(req, domain.ReasonConflictExhausted), nil
	case err != nil:
		return domain.ReservationOutcome{}, fmt.Errorf("pessimistic reserve %s: %w", req.ProductID, err)
	}

	if !confirmed {
		return domain.Rejected(req, domain.ReasonInsufficientStock), nil
	}
	return domain.Confirmed(req), nil
}

// attemptOptimistic is one unlocked read plus conditional write. Stock
// sufficiency is re-checked on every attempt since a competing writer may
// have drained it between read and write. A port.ErrVersionConflict in the
// returned error marks the attempt as retryable.
func (e *ReservationEngine) attemptOptimistic(ctx context.Context, req domain.ReservationRequest) (domain.ReservationOutcome, error) {
	rec, err := e.store.Get(ctx, req.ProductID)
	if errors.Is(err, port.ErrNotFound) {
		return domain.Rejected(req, domain.ReasonProductNotFound), nil
	}
	if err != nil {
		return domain.ReservationOutcome{}, fmt.Errorf("read stock %s: %w", req.ProductID, err)
	}

	if rec.Available < req.Quantity {
		return domain.Rejected(req, domain.ReasonInsufficientStock), nil
	}

	if err := e.store.ConditionalUpdate(ctx, req.ProductID, rec.Available-req.Quantity, rec.Version); err != nil {
		return domain.ReservationOutcome{}, fmt.Errorf("conditional update %s: %w", req.ProductID, err)
	}
	return domain.Confirmed(req), nil
}
