package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/streadway/amqp"

	"github.com/rl1809/inventory-ledger/config"
	"github.com/rl1809/inventory-ledger/internal/adapter/storage"
	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/core/service"
)

// Mock EventPublisher
type mockPublisher struct {
	mu       sync.Mutex
	events   []publishedEvent
	failWith error
}

type publishedEvent struct {
	routingKey string
	payload    interface{}
}

func (m *mockPublisher) Publish(ctx context.Context, routingKey string, payload interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.events = append(m.events, publishedEvent{routingKey: routingKey, payload: payload})
	return nil
}

func (m *mockPublisher) published() []publishedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedEvent(nil), m.events...)
}

// Mock IdempotencyLedger
type mockLedger struct {
	mu      sync.Mutex
	claimed map[string]bool
}

func newMockLedger() *mockLedger {
	return &mockLedger{claimed: make(map[string]bool)}
}

func (m *mockLedger) Claim(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimed[key] {
		return false, nil
	}
	m.claimed[key] = true
	return true, nil
}

func (m *mockLedger) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claimed, key)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		OrderCreatedKey:   "order.created",
		OrderCancelledKey: "order.cancelled",
		ConfirmedKey:      "inventory.confirmed",
		RejectedKey:       "inventory.rejected",
		CompensatedKey:    "inventory.compensated",
	}
}

type testHarness struct {
	store     *storage.MemoryStore
	publisher *mockPublisher
	processor *Processor
}

func newTestHarness() *testHarness {
	store := storage.NewMemoryStore(time.Second)
	ledger := newMockLedger()
	publisher := &mockPublisher{}
	retrier := service.NewRetrier(5, time.Millisecond)
	engine := service.NewReservationEngine(store, retrier)
	compensator := service.NewCompensator(store, ledger, retrier, service.StrategyOptimistic)

	return &testHarness{
		store:     store,
		publisher: publisher,
		processor: NewProcessor(engine, compensator, ledger, publisher, service.StrategyOptimistic, testConfig()),
	}
}

func orderCreatedDelivery(t *testing.T, orderID, productID string, quantity int) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(domain.OrderCreatedEvent{
		EventID:   "evt-" + orderID,
		OrderID:   orderID,
		ProductID: productID,
		Quantity:  quantity,
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return amqp.Delivery{RoutingKey: "order.created", Body: body}
}

func orderCancelledDelivery(t *testing.T, orderID, productID string, quantity int) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(domain.OrderCancelledEvent{
		EventID:   "evt-cancel-" + orderID,
		OrderID:   orderID,
		ProductID: productID,
		Quantity:  quantity,
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return amqp.Delivery{RoutingKey: "order.cancelled", Body: body}
}

func TestHandleMessage_OrderCreated_Confirmed(t *testing.T) {
	h := newTestHarness()
	h.store.Seed("item-1", 10)

	err := h.processor.HandleMessage(context.Background(), orderCreatedDelivery(t, "O1", "item-1", 4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := h.publisher.published()
	if len(events) != 1 || events[0].routingKey != "inventory.confirmed" {
		t.Fatalf("expected one confirmed event, got %+v", events)
	}
	confirmed, ok := events[0].payload.(domain.InventoryConfirmedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", events[0].payload)
	}
	if confirmed.OrderID != "O1" || confirmed.Quantity != 4 || confirmed.CorrelationID != "evt-O1" {
		t.Errorf("unexpected event fields: %+v", confirmed)
	}
	if confirmed.EventID == "" {
		t.Error("expected non-empty event ID")
	}

	rec, _ := h.store.Get(context.Background(), "item-1")
	if rec.Available != 6 {
		t.Errorf("expected stock 6, got %d", rec.Available)
	}
}

func TestHandleMessage_OrderCreated_Rejected(t *testing.T) {
	h := newTestHarness()
	h.store.Seed("item-1", 2)

	err := h.processor.HandleMessage(context.Background(), orderCreatedDelivery(t, "O1", "item-1", 5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := h.publisher.published()
	if len(events) != 1 || events[0].routingKey != "inventory.rejected" {
		t.Fatalf("expected one rejected event, got %+v", events)
	}
	rejected := events[0].payload.(domain.InventoryRejectedEvent)
	if rejected.Reason != domain.ReasonInsufficientStock {
		t.Errorf("expected insufficient_stock reason, got %s", rejected.Reason)
	}

	rec, _ := h.store.Get(context.Background(), "item-1")
	if rec.Available != 2 {
		t.Errorf("rejection mutated stock: %d", rec.Available)
	}
}

func TestHandleMessage_OrderCreated_ProductNotFound(t *testing.T) {
	h := newTestHarness()

	err := h.processor.HandleMessage(context.Background(), orderCreatedDelivery(t, "O1", "ghost", 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := h.publisher.published()
	if len(events) != 1 || events[0].routingKey != "inventory.rejected" {
		t.Fatalf("expected one rejected event, got %+v", events)
	}
	rejected := events[0].payload.(domain.InventoryRejectedEvent)
	if rejected.Reason != domain.ReasonProductNotFound {
		t.Errorf("expected product_not_found reason, got %s", rejected.Reason)
	}
}

// A redelivered OrderCreated must not decrement twice.
func TestHandleMessage_DuplicateOrderCreated(t *testing.T) {
	h := newTestHarness()
	h.store.Seed("item-1", 10)

	delivery := orderCreatedDelivery(t, "O1", "item-1", 4)
	if err := h.processor.HandleMessage(context.Background(), delivery); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if err := h.processor.HandleMessage(context.Background(), delivery); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}

	rec, _ := h.store.Get(context.Background(), "item-1")
	if rec.Available != 6 {
		t.Errorf("duplicate delivery double-decremented: %d", rec.Available)
	}
	if events := h.publisher.published(); len(events) != 1 {
		t.Errorf("expected one published event, got %d", len(events))
	}
}

func TestHandleMessage_Malformed(t *testing.T) {
	h := newTestHarness()

	err := h.processor.HandleMessage(context.Background(), amqp.Delivery{
		RoutingKey: "order.created",
		Body:       []byte("not json"),
	})
	if !errors.Is(err, ErrPermanentFailure) {
		t.Errorf("expected ErrPermanentFailure, got %v", err)
	}
}

func TestHandleMessage_MissingFields(t *testing.T) {
	h := newTestHarness()

	body, _ := json.Marshal(domain.OrderCreatedEvent{OrderID: "O1", ProductID: "item-1"})
	err := h.processor.HandleMessage(context.Background(), amqp.Delivery{
		RoutingKey: "order.created",
		Body:       body,
	})
	if !errors.Is(err, ErrPermanentFailure) {
		t.Errorf("expected ErrPermanentFailure for zero quantity, got %v", err)
	}
}

func TestHandleMessage_UnknownRoutingKey(t *testing.T) {
	h := newTestHarness()

	err := h.processor.HandleMessage(context.Background(), amqp.Delivery{
		RoutingKey: "order.shipped",
		Body:       []byte("{}"),
	})
	if !errors.Is(err, ErrPermanentFailure) {
		t.Errorf("expected ErrPermanentFailure, got %v", err)
	}
}

func TestHandleMessage_OrderCancelled_Restocks(t *testing.T) {
	h := newTestHarness()
	h.store.Seed("item-1", 10)
	ctx := context.Background()

	if err := h.processor.HandleMessage(ctx, orderCreatedDelivery(t, "O1", "item-1", 5)); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := h.processor.HandleMessage(ctx, orderCancelledDelivery(t, "O1", "item-1", 5)); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	rec, _ := h.store.Get(ctx, "item-1")
	if rec.Available != 10 {
		t.Errorf("expected stock back to 10, got %d", rec.Available)
	}

	events := h.publisher.published()
	if len(events) != 2 || events[1].routingKey != "inventory.compensated" {
		t.Fatalf("expected compensated event, got %+v", events)
	}
	compensated := events[1].payload.(domain.InventoryCompensatedEvent)
	if compensated.OrderID != "O1" || compensated.Quantity != 5 {
		t.Errorf("unexpected event fields: %+v", compensated)
	}
}

// A redelivered cancellation restocks once but still republishes the
// compensated event.
func TestHandleMessage_DuplicateOrderCancelled(t *testing.T) {
	h := newTestHarness()
	h.store.Seed("item-1", 10)
	ctx := context.Background()

	if err := h.processor.HandleMessage(ctx, orderCreatedDelivery(t, "O1", "item-1", 5)); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	cancel := orderCancelledDelivery(t, "O1", "item-1", 5)
	if err := h.processor.HandleMessage(ctx, cancel); err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}
	if err := h.processor.HandleMessage(ctx, cancel); err != nil {
		t.Fatalf("redelivered cancel failed: %v", err)
	}

	rec, _ := h.store.Get(ctx, "item-1")
	if rec.Available != 10 {
		t.Errorf("duplicate cancellation double-credited: %d", rec.Available)
	}
}

func TestHandleMessage_PublishFailureIsTransient(t *testing.T) {
	h := newTestHarness()
	h.store.Seed("item-1", 10)
	h.publisher.failWith = errors.New("broker down")

	err := h.processor.HandleMessage(context.Background(), orderCreatedDelivery(t, "O1", "item-1", 1))
	if err == nil {
		t.Fatal("expected an error when publish fails")
	}
	if errors.Is(err, ErrPermanentFailure) {
		t.Error("publish failure must be retryable, not permanent")
	}
}
