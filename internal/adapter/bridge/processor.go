package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"

	"github.com/rl1809/inventory-ledger/config"
	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/core/service"
	"github.com/rl1809/inventory-ledger/internal/port"
)

const reservationKeyPrefix = "reserve:"

// Processor glues inbound order events to the reservation engine and the
// compensation handler, and publishes the resulting inventory events.
type Processor struct {
	engine      *service.ReservationEngine
	compensator *service.Compensator
	ledger      port.IdempotencyLedger
	publisher   port.EventPublisher
	strategy    service.Strategy
	cfg         config.Config
}

func NewProcessor(
	engine *service.ReservationEngine,
	compensator *service.Compensator,
	ledger port.IdempotencyLedger,
	publisher port.EventPublisher,
	strategy service.Strategy,
	cfg config.Config,
) *Processor {
	return &Processor{
		engine:      engine,
		compensator: compensator,
		ledger:      ledger,
		publisher:   publisher,
		strategy:    strategy,
		cfg:         cfg,
	}
}

func (p *Processor) HandleMessage(ctx context.Context, delivery amqp.Delivery) error {
	switch delivery.RoutingKey {
	case p.cfg.OrderCreatedKey:
		return p.handleOrderCreated(ctx, delivery.Body)
	case p.cfg.OrderCancelledKey:
		return p.handleOrderCancelled(ctx, delivery.Body)
	}
	log.Warn().Str("routingKey", delivery.RoutingKey).Msg("Unexpected routing key")
	return ErrPermanentFailure
}

func (p *Processor) handleOrderCreated(ctx context.Context, body []byte) error {
	var evt domain.OrderCreatedEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal OrderCreatedEvent")
		return ErrPermanentFailure
	}
	if evt.OrderID == "" || evt.ProductID == "" || evt.Quantity <= 0 {
		log.Error().Str("orderId", evt.OrderID).Msg("OrderCreatedEvent missing required fields")
		return ErrPermanentFailure
	}

	// At-least-once inbound delivery: claim the order before mutating stock
	// so a redelivered event cannot decrement twice.
	claimKey := reservationKeyPrefix + evt.OrderID
	ok, err := p.ledger.Claim(ctx, claimKey)
	if err != nil {
		return fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		log.Info().Str("orderId", evt.OrderID).Msg("Duplicate OrderCreatedEvent, already processed")
		return nil
	}

	req := domain.ReservationRequest{
		OrderID:     evt.OrderID,
		ProductID:   evt.ProductID,
		Quantity:    evt.Quantity,
		RequestedAt: evt.Timestamp,
	}

	outcome, err := p.engine.Reserve(ctx, req, p.strategy)
	if err != nil {
		// Store fault, not a rejection. Release the claim so the redelivered
		// event can retry the reservation.
		if relErr := p.ledger.Release(ctx, claimKey); relErr != nil {
			log.Error().Err(relErr).Str("orderId", evt.OrderID).Msg("CRITICAL: failed to release reservation claim after store fault")
		}
		return fmt.Errorf("reserve for order %s: %w", evt.OrderID, err)
	}

	if outcome.Confirmed {
		out := domain.InventoryConfirmedEvent{
			EventID:       uuid.New().String(),
			CorrelationID: evt.EventID,
			OrderID:       evt.OrderID,
			ProductID:     evt.ProductID,
			Quantity:      evt.Quantity,
			Timestamp:     time.Now(),
		}
		if err := p.publisher.Publish(ctx, p.cfg.ConfirmedKey, out); err != nil {
			return fmt.Errorf("publish confirmed for order %s: %w", evt.OrderID, err)
		}
		log.Info().Str("orderId", evt.OrderID).Str("productId", evt.ProductID).Int("quantity", evt.Quantity).Msg("Reservation confirmed")
		return nil
	}

	out := domain.InventoryRejectedEvent{
		EventID:       uuid.New().String(),
		CorrelationID: evt.EventID,
		OrderID:       evt.OrderID,
		ProductID:     evt.ProductID,
		Quantity:      evt.Quantity,
		Reason:        outcome.Reason,
		Timestamp:     time.Now(),
	}
	if err := p.publisher.Publish(ctx, p.cfg.RejectedKey, out); err != nil {
		return fmt.Errorf("publish rejected for order %s: %w", evt.OrderID, err)
	}
	log.Info().Str("orderId", evt.OrderID).Str("reason", string(outcome.Reason)).Msg("Reservation rejected")
	return nil
}

func (p *Processor) handleOrderCancelled(ctx context.Context, body []byte) error {
	var evt domain.OrderCancelledEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal OrderCancelledEvent")
		return ErrPermanentFailure
	}
	if evt.OrderID == "" || evt.ProductID == "" || evt.Quantity <= 0 {
		log.Error().Str("orderId", evt.OrderID).Msg("OrderCancelledEvent missing required fields")
		return ErrPermanentFailure
	}

	// Compensate is idempotent per order; a redelivered cancellation is a
	// no-op restock but still republishes the compensated event, closing the
	// publish-after-restock gap.
	err := p.compensator.Compensate(ctx, domain.CompensationRequest{
		OrderID:   evt.OrderID,
		ProductID: evt.ProductID,
		Quantity:  evt.Quantity,
	})
	if err != nil {
		return fmt.Errorf("compensate order %s: %w", evt.OrderID, err)
	}

	out := domain.InventoryCompensatedEvent{
		EventID:       uuid.New().String(),
		CorrelationID: evt.EventID,
		OrderID:       evt.OrderID,
		ProductID:     evt.ProductID,
		Quantity:      evt.Quantity,
		Timestamp:     time.Now(),
	}
	if err := p.publisher.Publish(ctx, p.cfg.CompensatedKey, out); err != nil {
		return fmt.Errorf("publish compensated for order %s: %w", evt.OrderID, err)
	}
	return nil
}
