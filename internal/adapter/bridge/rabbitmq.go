package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"

	"github.com/rl1809/inventory-ledger/config"
)

const publishTimeout = 5 * time.Second

// ErrPermanentFailure marks a message that can never be processed; the
// consumer drops it (no requeue) instead of redelivering forever.
var ErrPermanentFailure = errors.New("permanent failure processing message")

type MessageHandler func(ctx context.Context, delivery amqp.Delivery) error

// RabbitMQBridge is the event bridge: it consumes order events and publishes
// inventory outcome events on a confirm-mode channel, so an unconfirmed
// publish surfaces as an error and the inbound message is redelivered.
type RabbitMQBridge struct {
	cfg           config.Config
	connection    *amqp.Connection
	consumerChan  *amqp.Channel
	producerChan  *amqp.Channel
	notifyConfirm chan amqp.Confirmation
}

func NewRabbitMQBridge(cfg config.Config) (*RabbitMQBridge, error) {
	log.Info().Str("url", cfg.AMQPURL).Msg("Connecting to RabbitMQ")
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}

	b := &RabbitMQBridge{cfg: cfg, connection: conn}
	if err := b.setupProducerChannel(); err != nil {
		conn.Close()
		return nil, err
	}
	if err := b.setupConsumerChannelAndTopology(); err != nil {
		conn.Close()
		return nil, err
	}

	log.Info().Msg("RabbitMQ connected and channels initialized")
	return b, nil
}

func (b *RabbitMQBridge) setupProducerChannel() error {
	var err error
	b.producerChan, err = b.connection.Channel()
	if err != nil {
		return fmt.Errorf("failed to open producer channel: %w", err)
	}

	if err := b.producerChan.Confirm(false); err != nil {
		return fmt.Errorf("producer channel could not be put into confirm mode: %w", err)
	}
	b.notifyConfirm = make(chan amqp.Confirmation, 1)
	b.producerChan.NotifyPublish(b.notifyConfirm)

	err = b.producerChan.ExchangeDeclare(
		b.cfg.OutgoingExchangeName, // name
		"topic",                    // type
		true,                       // durable
		false,                      // auto-deleted
		false,                      // internal
		false,                      // no-wait
		nil,                        // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare outgoing exchange %s: %w", b.cfg.OutgoingExchangeName, err)
	}
	return nil
}

func (b *RabbitMQBridge) setupConsumerChannelAndTopology() error {
	var err error
	b.consumerChan, err = b.connection.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}

	if err := b.consumerChan.Qos(b.cfg.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	err = b.consumerChan.ExchangeDeclare(b.cfg.IncomingExchangeName, "topic", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare incoming exchange: %w", err)
	}

	_, err = b.consumerChan.QueueDeclare(b.cfg.IncomingQueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare incoming queue: %w", err)
	}

	for _, key := range []string{b.cfg.OrderCreatedKey, b.cfg.OrderCancelledKey} {
		if err := b.consumerChan.QueueBind(b.cfg.IncomingQueueName, key, b.cfg.IncomingExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue for %s: %w", key, err)
		}
	}

	log.Info().Str("queue", b.cfg.IncomingQueueName).Msg("Consumer topology setup complete.")
	return nil
}

func (b *RabbitMQBridge) Publish(ctx context.Context, routingKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = b.producerChan.Publish(
		b.cfg.OutgoingExchangeName,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	select {
	case confirm := <-b.notifyConfirm:
		if confirm.Ack {
			log.Debug().Str("routingKey", routingKey).Msg("Message published and confirmed")
			return nil
		}
		return errors.New("message published but not confirmed")
	case <-time.After(publishTimeout):
		return errors.New("publish confirmation timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartConsuming delivers each inbound message to handler. A nil return
// acks; ErrPermanentFailure nacks without requeue; any other error nacks
// with requeue so the broker redelivers.
func (b *RabbitMQBridge) StartConsuming(ctx context.Context, handler MessageHandler) error {
	msgs, err := b.consumerChan.Consume(
		b.cfg.IncomingQueueName,
		b.cfg.ConsumerTag,
		false, // auto-ack false
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for delivery := range msgs {
			err := handler(ctx, delivery)
			switch {
			case errors.Is(err, ErrPermanentFailure):
				log.Error().Err(err).Str("routingKey", delivery.RoutingKey).Msg("Dropping unprocessable message")
				delivery.Nack(false, false)
			case err != nil:
				log.Warn().Err(err).Str("routingKey", delivery.RoutingKey).Msg("Processing failed, requeueing for redelivery")
				delivery.Nack(false, true)
			default:
				delivery.Ack(false)
			}
		}
		log.Warn().Msg("Delivery channel closed. Consumer stopping.")
	}()

	log.Info().Str("queue", b.cfg.IncomingQueueName).Msg("Consumer started.")
	return nil
}

func (b *RabbitMQBridge) Close() {
	if b.connection != nil && !b.connection.IsClosed() {
		b.connection.Close()
	}
}
