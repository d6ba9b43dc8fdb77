package queue

import "context"

// Queue is a durable, named message queue with at-least-once delivery.
// Publish returns once the broker has taken the message; it never waits for
// consumer acknowledgement.
type Queue interface {
	Publish(ctx context.Context, body []byte) error
	// Consume returns a channel of deliveries. The channel closes when the
	// context is cancelled or the underlying connection drops.
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close() error
}

// Delivery is a single in-flight message. Exactly one of Ack or Nack must be
// called; Nack with requeue returns the message to the queue for redelivery.
type Delivery interface {
	Body() []byte
	Ack() error
	Nack(requeue bool) error
}
