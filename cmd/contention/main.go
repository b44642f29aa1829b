package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rl1809/inventory-ledger/internal/adapter/storage"
	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/core/service"
)

const (
	productID     = "contention-item"
	initialStock  = 100
	totalRequests = 150
)

func main() {
	strategyFlag := flag.String("strategy", "optimistic", "concurrency strategy: optimistic or pessimistic")
	maxAttempts := flag.Int("max-attempts", 10, "optimistic retry bound")
	flag.Parse()

	strategy, err := service.ParseStrategy(*strategyFlag)
	if err != nil {
		log.Fatalf("invalid strategy: %v", err)
	}

	ctx := context.Background()

	store := storage.NewMemoryStore(2 * time.Second)
	store.Seed(productID, initialStock)

	retrier := service.NewRetrier(*maxAttempts, 5*time.Millisecond)
	engine := service.NewReservationEngine(store, retrier)

	var confirmed atomic.Int32
	var insufficient atomic.Int32
	var exhausted atomic.Int32
	var faults atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			req := domain.ReservationRequest{
				OrderID:     fmt.Sprintf("order-%d", id),
				ProductID:   productID,
				Quantity:    1,
				RequestedAt: time.Now(),
			}
			outcome, err := engine.Reserve(ctx, req, strategy)
			switch {
			case err != nil:
				faults.Add(1)
			case outcome.Confirmed:
				confirmed.Add(1)
			case outcome.Reason == domain.ReasonInsufficientStock:
				insufficient.Add(1)
			case outcome.Reason == domain.ReasonConflictExhausted:
				exhausted.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	rec, err := store.Get(ctx, productID)
	if err != nil {
		log.Fatalf("failed to read final stock: %v", err)
	}

	fmt.Println("========== CONTENTION RESULTS ==========")
	fmt.Printf("Strategy:           %s\n", strategy)
	fmt.Printf("Initial Stock:      %d\n", initialStock)
	fmt.Printf("Total Requests:     %d\n", totalRequests)
	fmt.Printf("Confirmed:          %d\n", confirmed.Load())
	fmt.Printf("Insufficient:       %d\n", insufficient.Load())
	fmt.Printf("ConflictExhausted:  %d\n", exhausted.Load())
	fmt.Printf("Faults:             %d\n", faults.Load())
	fmt.Printf("Duration:           %v\n", elapsed)
	fmt.Println("========================================")

	if confirmed.Load() == initialStock && rec.Available == 0 {
		fmt.Println("PASS: stock depleted exactly, no over-subscription")
	} else {
		fmt.Printf("FAIL: expected %d confirmed and 0 remaining, got %d confirmed, %d remaining\n",
			initialStock, confirmed.Load(), rec.Available)
	}
}
