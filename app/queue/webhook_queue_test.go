package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	businessflow "github.com/amirphl/yamata-dialer/business_flow"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type ackRecorder struct {
	acked   int
	nacked  int
	requeue bool
}

func (a *ackRecorder) Ack(uint64, bool) error { a.acked++; return nil }

func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}

func (a *ackRecorder) Reject(_ uint64, requeue bool) error { return a.Nack(0, false, requeue) }

type stubFlow struct {
	err error
}

func (s stubFlow) Reconcile(context.Context, []byte) (*businessflow.ReconcileResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &businessflow.ReconcileResult{Result: businessflow.ReconcileApplied, CallID: "call-1"}, nil
}

func TestHandleDelivery(t *testing.T) {
	invalid := businessflow.NewBusinessError("INVALID_WEBHOOK_PAYLOAD", "Invalid webhook payload",
		fmt.Errorf("%w: eof", businessflow.ErrInvalidWebhookPayload))
	dbDown := errors.New("database is closed")

	tests := []struct {
		name        string
		err         error
		redelivered bool
		wantAck     int
		wantNack    int
		wantRequeue bool
	}{
		{name: "reconciled", wantAck: 1},
		{name: "invalid payload is dropped", err: invalid, wantAck: 1},
		{name: "transient failure is requeued", err: dbDown, wantNack: 1, wantRequeue: true},
		{name: "second failure is dropped", err: dbDown, redelivered: true, wantNack: 1},
	}

	q := &WebhookQueue{logger: zap.NewNop()}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &ackRecorder{}
			d := amqp.Delivery{Acknowledger: ack, Body: []byte(`{"call_id":"call-1"}`), Redelivered: tt.redelivered}

			q.handleDelivery(context.Background(), stubFlow{err: tt.err}, d)
			assert.Equal(t, tt.wantAck, ack.acked)
			assert.Equal(t, tt.wantNack, ack.nacked)
			assert.Equal(t, tt.wantRequeue, ack.requeue)
		})
	}
}

func TestPublish_Closed(t *testing.T) {
	q := &WebhookQueue{logger: zap.NewNop(), closed: true}
	assert.ErrorIs(t, q.Publish(context.Background(), []byte(`{}`)), ErrQueueClosed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, q.Publish(ctx, []byte(`{}`)), context.Canceled)
}
