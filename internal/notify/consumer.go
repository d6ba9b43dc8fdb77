package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/rahulnair23/foyer/internal/queue"
	"github.com/rahulnair23/foyer/pkg/logger"
	"github.com/rahulnair23/foyer/pkg/mail"
	"github.com/rahulnair23/foyer/pkg/metrics"
)

// Consumer drains the notification queue and delivers each job through the
// mailer. Messages are acknowledged only after successful delivery; delivery
// failures are requeued without backoff or an attempt limit, so a permanently
// failing address will redeliver until an operator intervenes.
type Consumer struct {
	queue  queue.Queue
	mailer mail.Mailer
	log    *zap.Logger
}

// NewConsumer constructs a Consumer.
func NewConsumer(q queue.Queue, mailer mail.Mailer) (*Consumer, error) {
	if q == nil {
		return nil, errors.New("notify: queue is required")
	}
	if mailer == nil {
		return nil, errors.New("notify: mailer is required")
	}
	return &Consumer{
		queue:  q,
		mailer: mailer,
		log:    logger.WithModule("notify.consumer"),
	}, nil
}

// Run consumes deliveries until the context is cancelled or the delivery
// channel closes. Handlers execute sequentially; there is one consumer per
// process.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.queue.Consume(ctx)
	if err != nil {
		return err
	}

	c.log.Info("waiting for notification jobs")

	for delivery := range deliveries {
		c.handle(ctx, delivery)
	}

	return ctx.Err()
}

func (c *Consumer) handle(ctx context.Context, delivery queue.Delivery) {
	job, err := DecodeJob(delivery.Body())
	if err != nil {
		// A payload that cannot be parsed will never succeed; requeueing it
		// would poison the queue, so it is rejected without redelivery.
		c.log.Error("discarding malformed notification payload", zap.Error(err))
		metrics.NotificationJobs.WithLabelValues("rejected").Inc()
		if nackErr := delivery.Nack(false); nackErr != nil {
			c.log.Error("nack failed", zap.Error(nackErr))
		}
		return
	}

	msg := mail.Message{
		To:       []string{job.To},
		Subject:  job.Subject,
		Body:     job.Content,
		HTMLBody: job.HTML,
	}

	if err := c.mailer.Send(ctx, msg); err != nil {
		c.log.Error("mail delivery failed, requeueing",
			zap.String("to", job.To),
			zap.String("type", job.Type),
			zap.Error(err),
		)
		metrics.NotificationJobs.WithLabelValues("requeued").Inc()
		if nackErr := delivery.Nack(true); nackErr != nil {
			c.log.Error("nack failed", zap.Error(nackErr))
		}
		return
	}

	metrics.NotificationJobs.WithLabelValues("delivered").Inc()
	if ackErr := delivery.Ack(); ackErr != nil {
		c.log.Error("ack failed", zap.Error(ackErr))
	}
}
