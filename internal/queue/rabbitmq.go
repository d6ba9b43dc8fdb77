package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultQueueName is the durable queue carrying notification jobs.
const DefaultQueueName = "notification_queue"

// RabbitMQConfig captures the connection parameters for the broker.
type RabbitMQConfig struct {
	URL       string
	QueueName string
	// PrefetchCount bounds unacknowledged deliveries per channel. The
	// notification consumer processes sequentially, so 1 is the default.
	PrefetchCount int
}

// RabbitMQQueue implements Queue over a single AMQP connection and channel.
type RabbitMQQueue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	name    string
	mu      sync.Mutex
}

// NewRabbitMQQueue connects to the broker and asserts the durable queue so
// that publishes and consumes observe identical queue properties.
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("queue: rabbitmq url is required")
	}
	name := cfg.QueueName
	if name == "" {
		name = DefaultQueueName
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = 1
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("queue: connect to rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("queue: open channel: %w", err)
	}

	if err := channel.Qos(prefetch, 0, false); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue: set qos: %w", err)
	}

	if _, err := channel.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue: declare queue: %w", err)
	}

	return &RabbitMQQueue{conn: conn, channel: channel, name: name}, nil
}

// Publish sends a persistent message to the queue via the default exchange.
func (q *RabbitMQQueue) Publish(ctx context.Context, body []byte) error {
	err := q.channel.PublishWithContext(
		ctx,
		"",     // default exchange
		q.name, // routing key == queue name
		false,  // mandatory
		false,  // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("queue: publish: %w", err)
	}
	return nil
}

// Consume registers a manual-acknowledgement consumer and adapts broker
// deliveries onto the Delivery interface.
func (q *RabbitMQQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	msgs, err := q.channel.Consume(
		q.name,
		"",    // consumer tag
		false, // auto-ack disabled; handlers ack or nack explicitly
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return nil, fmt.Errorf("queue: register consumer: %w", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- &amqpDelivery{msg: msg}:
				case <-ctx.Done():
					// Undelivered message returns to the queue when the
					// channel closes without an ack.
					_ = msg.Nack(false, true)
					return
				}
			}
		}
	}()

	return out, nil
}

// Close closes the channel and connection.
func (q *RabbitMQQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var errs []error
	if q.channel != nil {
		if err := q.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("queue: close channel: %w", err))
		}
		q.channel = nil
	}
	if q.conn != nil {
		if err := q.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("queue: close connection: %w", err))
		}
		q.conn = nil
	}
	return errors.Join(errs...)
}

type amqpDelivery struct {
	msg amqp.Delivery
}

func (d *amqpDelivery) Body() []byte { return d.msg.Body }

func (d *amqpDelivery) Ack() error { return d.msg.Ack(false) }

func (d *amqpDelivery) Nack(requeue bool) error { return d.msg.Nack(false, requeue) }
