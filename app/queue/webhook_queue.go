// Package queue buffers provider webhooks through AMQP so bursts never block the HTTP callback
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/amirphl/yamata-dialer/app/metrics"
	businessflow "github.com/amirphl/yamata-dialer/business_flow"
	"github.com/amirphl/yamata-dialer/config"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

var ErrQueueClosed = errors.New("webhook queue is closed")

// WebhookPublisher accepts raw webhook bodies for later reconciliation
type WebhookPublisher interface {
	Publish(ctx context.Context, body []byte) error
}

// WebhookQueue publishes webhooks to one durable queue and consumes them into the outcome flow
type WebhookQueue struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	name     string
	prefetch int
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Dial connects to the broker and declares the webhook queue
func Dial(cfg config.QueueConfig, logger *zap.Logger) (*WebhookQueue, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		cfg.WebhookQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", cfg.WebhookQueue, err)
	}

	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = 1
	}
	return &WebhookQueue{
		conn:     conn,
		ch:       ch,
		name:     q.Name,
		prefetch: prefetch,
		logger:   logger.Named("webhook_queue"),
	}, nil
}

func (q *WebhookQueue) Publish(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// amqp channels are not safe for concurrent publishing
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	err := q.ch.Publish("", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish webhook: %w", err)
	}
	return nil
}

// Consume reconciles queued webhooks until ctx is done or the broker closes the channel
func (q *WebhookQueue) Consume(ctx context.Context, flow businessflow.CallOutcomeFlow) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(q.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	msgs, err := ch.Consume(
		q.name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	q.logger.Info("webhook consumer started", zap.String("queue", q.name))
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("webhook deliveries channel closed")
			}
			q.handleDelivery(ctx, flow, d)
		}
	}
}

// handleDelivery acks processed and unusable deliveries. A retryable failure is requeued once;
// a second failure drops the delivery and leaves the target to the stale-call sweeper.
func (q *WebhookQueue) handleDelivery(ctx context.Context, flow businessflow.CallOutcomeFlow, d amqp.Delivery) {
	res, err := flow.Reconcile(ctx, d.Body)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			q.logger.Error("failed to ack webhook", zap.Error(ackErr))
		}
		q.logger.Debug("queued webhook reconciled", zap.String("call_id", res.CallID), zap.String("result", res.Result))
	case !businessflow.IsReconcileRetryable(err):
		metrics.QueuedWebhooks.WithLabelValues("dropped").Inc()
		q.logger.Warn("dropping unusable webhook", zap.Error(err))
		_ = d.Ack(false)
	case !d.Redelivered:
		metrics.QueuedWebhooks.WithLabelValues("requeued").Inc()
		q.logger.Warn("requeueing webhook", zap.Error(err))
		_ = d.Nack(false, true)
	default:
		metrics.QueuedWebhooks.WithLabelValues("dropped").Inc()
		q.logger.Error("webhook failed after redelivery", zap.Error(err))
		_ = d.Nack(false, false)
	}
}

func (q *WebhookQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.ch.Close()
	return q.conn.Close()
}
