package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"storefront/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	msgs      chan kafka.Message
	mu        sync.Mutex
	committed []int64
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestPublishOrderEventKeysByOrderNumber(t *testing.T) {
	w := &fakeWriter{}
	pub := NewEventPublisher(NewProducerWithWriter(w, "order-events"))

	event := &models.OrderEvent{
		BaseEvent:   models.BaseEvent{EventID: "e1", EventType: models.EventTypeOrderPaid},
		OrderID:     3,
		OrderNumber: "20240615100000000001ABCDEF",
		Status:      models.OrderStatusPaid,
		FinalAmount: decimal.RequireFromString("45.00"),
	}
	require.NoError(t, pub.PublishOrderEvent(context.Background(), event))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "20240615100000000001ABCDEF", string(w.msgs[0].Key))
	assert.Equal(t, models.EventTypeOrderPaid, headerValue(w.msgs[0], HeaderEventType))

	decoded, err := DecodeOrderEvent(w.msgs[0].Value)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, decoded.Status)
	assert.True(t, decoded.FinalAmount.Equal(event.FinalAmount))
}

func TestPublishSurfacesWriterErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewProducerWithWriter(w, "order-events")

	err := p.Publish(context.Background(), "k", "TEST", map[string]string{"a": "b"})
	assert.ErrorContains(t, err, "broker down")
}

func TestDecodeOrderEventRejectsGarbage(t *testing.T) {
	_, err := DecodeOrderEvent([]byte("{"))
	assert.Error(t, err)
	_, err = DecodeOrderEvent([]byte(`{"event_id":"x"}`))
	assert.Error(t, err)
}

func TestDispatchRoutesByEventType(t *testing.T) {
	h := NewEventHandler()
	var (
		paid      *models.PaymentConfirmedEvent
		shipped   *models.ShipmentEvent
		delivered *models.ShipmentEvent
	)
	h.OnPaymentConfirmed(func(ctx context.Context, e *models.PaymentConfirmedEvent) error { paid = e; return nil })
	h.OnShipmentDispatched(func(ctx context.Context, e *models.ShipmentEvent) error { shipped = e; return nil })
	h.OnShipmentDelivered(func(ctx context.Context, e *models.ShipmentEvent) error { delivered = e; return nil })
	ctx := context.Background()

	require.NoError(t, h.Dispatch(ctx, []byte(`{"event_id":"p1","event_type":"PAYMENT_CONFIRMED","order_number":"N1","amount":"45.00","provider_tx_id":"tx"}`)))
	require.NotNil(t, paid)
	assert.Equal(t, "N1", paid.OrderNumber)
	assert.Equal(t, "45", paid.Amount.String())

	require.NoError(t, h.Dispatch(ctx, []byte(`{"event_id":"s1","event_type":"SHIPMENT_DISPATCHED","order_number":"N1","shipping_number":"SF1"}`)))
	require.NotNil(t, shipped)
	assert.Equal(t, "SF1", shipped.ShippingNumber)
	assert.Nil(t, delivered)

	require.NoError(t, h.Dispatch(ctx, []byte(`{"event_id":"d1","event_type":"SHIPMENT_DELIVERED","order_number":"N1"}`)))
	require.NotNil(t, delivered)

	err := h.Dispatch(ctx, []byte(`{"event_id":"x","event_type":"REFUND_REQUESTED"}`))
	assert.ErrorIs(t, err, ErrUnhandledEvent)
}

func TestHandleMessageSkipsPoisonMessages(t *testing.T) {
	h := NewEventHandler()
	ctx := context.Background()

	assert.NoError(t, h.HandleMessage(ctx, kafka.Message{Value: []byte("not json")}))
	assert.NoError(t, h.HandleMessage(ctx, kafka.Message{Value: []byte(`{"event_type":"UNKNOWN"}`)}))

	boom := errors.New("storage unavailable")
	h.OnPaymentConfirmed(func(ctx context.Context, e *models.PaymentConfirmedEvent) error { return boom })
	payload, _ := json.Marshal(models.PaymentConfirmedEvent{BaseEvent: models.BaseEvent{EventID: "p", EventType: models.EventTypePaymentConfirmed}})
	assert.ErrorIs(t, h.HandleMessage(ctx, kafka.Message{Value: payload}), boom)
}

func TestConsumeRetriesThenCommits(t *testing.T) {
	reader := newFakeReader(kafka.Message{Offset: 1}, kafka.Message{Offset: 2})
	c := NewConsumerWithReader(reader, "external-events")
	c.SetRetry(3, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		calls = map[int64]int{}
	)
	done := make(chan error, 1)
	go func() {
		done <- c.Consume(ctx, func(ctx context.Context, msg kafka.Message) error {
			mu.Lock()
			defer mu.Unlock()
			calls[msg.Offset]++
			if msg.Offset == 1 && calls[1] < 2 {
				return errors.New("transient")
			}
			if msg.Offset == 2 {
				return errors.New("permanent")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls[2] == 3
	}, time.Second, 5*time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, []int64{1}, reader.commits())
	mu.Lock()
	assert.Equal(t, 2, calls[1])
	mu.Unlock()
}
