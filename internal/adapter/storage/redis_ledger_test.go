package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestRedisLedger_ClaimOnce(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	ledger := NewRedisLedger(client)
	key := fmt.Sprintf("compensate:test-%d", time.Now().UnixNano())

	ok, err := ledger.Claim(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected first claim to succeed")
	}

	ok, err = ledger.Claim(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected second claim to fail")
	}
}

func TestRedisLedger_ReleaseAllowsReclaim(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	ledger := NewRedisLedger(client)
	key := fmt.Sprintf("reserve:test-%d", time.Now().UnixNano())

	if ok, _ := ledger.Claim(ctx, key); !ok {
		t.Fatal("expected first claim to succeed")
	}

	if err := ledger.Release(ctx, key); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	ok, err := ledger.Claim(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected reclaim after release to succeed")
	}
}
