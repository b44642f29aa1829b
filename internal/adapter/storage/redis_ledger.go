package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ledgerKeyPrefix = "ledger:"
	claimTTL        = 24 * time.Hour
)

// RedisLedger implements port.IdempotencyLedger on a shared Redis so claims
// hold across every consumer process. Claims expire after claimTTL, long
// after the broker has stopped redelivering the originating event.
type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func (r *RedisLedger) Claim(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, ledgerKeyPrefix+key, 1, claimTTL).Result()
}

func (r *RedisLedger) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, ledgerKeyPrefix+key).Err()
}
