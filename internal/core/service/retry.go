package service

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/port"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 20 * time.Millisecond
)

type attemptFunc func(ctx context.Context, req domain.ReservationRequest) (domain.ReservationOutcome, error)

// Retrier re-runs an optimistic attempt on version conflicts, sleeping a
// jittered backoff between attempts so competing writers desynchronize
// instead of re-colliding. Business rejections and store faults are terminal
// and never retried.
type Retrier struct {
	maxAttempts int
	baseDelay   time.Duration
}

func NewRetrier(maxAttempts int, baseDelay time.Duration) *Retrier {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	return &Retrier{maxAttempts: maxAttempts, baseDelay: baseDelay}
}

func (r *Retrier) Do(ctx context.Context, req domain.ReservationRequest, attempt attemptFunc) (domain.ReservationOutcome, error) {
	for n := 1; n <= r.maxAttempts; n++ {
		outcome, err := attempt(ctx, req)
		if err == nil {
			return outcome, nil
		}
		if !errors.Is(err, port.ErrVersionConflict) {
			return domain.ReservationOutcome{}, err
		}
		if n == r.maxAttempts {
			break
		}

		delay := r.backoff(n)
		log.Debug().
			Str("orderId", req.OrderID).
			Str("productId", req.ProductID).
			Int("attempt", n).
			Dur("backoff", delay).
			Msg("version conflict, backing off before retry")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return domain.ReservationOutcome{}, ctx.Err()
		}
	}

	log.Warn().
		Str("orderId", req.OrderID).
		Str("productId", req.ProductID).
		Int("maxAttempts", r.maxAttempts).
		Msg("optimistic retries exhausted")
	return domain.Rejected(req, domain.ReasonConflictExhausted), nil
}

// backoff grows linearly with the attempt number plus a random jitter of up
// to one base delay.
func (r *Retrier) backoff(attempt int) time.Duration {
	jitter := time.Duration(rand.Int63n(int64(r.baseDelay)))
	return r.baseDelay*time.Duration(attempt) + jitter
}
