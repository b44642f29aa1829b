package port

import "context"

// EventPublisher delivers outbound inventory events to the event bridge.
// A returned error means the event was not durably handed off and the whole
// unit of work must be retried.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event interface{}) error
}
