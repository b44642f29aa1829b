package port

import "context"

// IdempotencyLedger tracks which order-scoped operations have already been
// applied, so redelivered events do not decrement or restock twice.
type IdempotencyLedger interface {
	// Claim marks key as processed, returns false if it was already claimed.
	Claim(ctx context.Context, key string) (bool, error)

	// Release drops a claim so a failed operation can be retried on redelivery.
	Release(ctx context.Context, key string) error
}
