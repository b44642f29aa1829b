package domain

import "time"

// --- Incoming Events ---

// OrderCreatedEvent triggers a stock reservation for the order.
type OrderCreatedEvent struct {
	EventID   string    `json:"eventId"`
	OrderID   string    `json:"orderId"`
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCancelledEvent triggers a compensating restock for a previously
// confirmed reservation.
type OrderCancelledEvent struct {
	EventID   string    `json:"eventId"`
	OrderID   string    `json:"orderId"`
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
}

// --- Outgoing Events ---

// InventoryConfirmedEvent is published when stock was reserved for the order.
type InventoryConfirmedEvent struct {
	EventID       string    `json:"eventId"`
	CorrelationID string    `json:"correlationId"` // ID of the original OrderCreatedEvent
	OrderID       string    `json:"orderId"`
	ProductID     string    `json:"productId"`
	Quantity      int       `json:"quantity"`
	Timestamp     time.Time `json:"timestamp"`
}

// InventoryRejectedEvent is published when the reservation did not go through.
type InventoryRejectedEvent struct {
	EventID       string       `json:"eventId"`
	CorrelationID string       `json:"correlationId"`
	OrderID       string       `json:"orderId"`
	ProductID     string       `json:"productId"`
	Quantity      int          `json:"quantity"`
	Reason        RejectReason `json:"reason"`
	Timestamp     time.Time    `json:"timestamp"`
}

// InventoryCompensatedEvent is published after a successful restock.
type InventoryCompensatedEvent struct {
	EventID       string    `json:"eventId"`
	CorrelationID string    `json:"correlationId"`
	OrderID       string    `json:"orderId"`
	ProductID     string    `json:"productId"`
	Quantity      int       `json:"quantity"`
	Timestamp     time.Time `json:"timestamp"`
}
