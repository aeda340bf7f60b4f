package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrUnhandledEvent is returned by Dispatch for event types nobody registered for
var ErrUnhandledEvent = errors.New("unhandled event type")

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderEvent publishes an order lifecycle event keyed by order number
func (ep *EventPublisher) PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	return ep.producer.Publish(ctx, event.OrderNumber, event.EventType, event)
}

// DecodeOrderEvent parses an order lifecycle message
func DecodeOrderEvent(payload []byte) (*models.OrderEvent, error) {
	var event models.OrderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order event: %w", err)
	}
	if event.OrderNumber == "" {
		return nil, fmt.Errorf("order event %s has no order number", event.EventID)
	}
	return &event, nil
}

// EventHandler routes external provider events
type EventHandler struct {
	onPaymentConfirmed   func(context.Context, *models.PaymentConfirmedEvent) error
	onShipmentDispatched func(context.Context, *models.ShipmentEvent) error
	onShipmentDelivered  func(context.Context, *models.ShipmentEvent) error
	logger               *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPaymentConfirmed registers a handler for PAYMENT_CONFIRMED events
func (eh *EventHandler) OnPaymentConfirmed(handler func(context.Context, *models.PaymentConfirmedEvent) error) {
	eh.onPaymentConfirmed = handler
}

// OnShipmentDispatched registers a handler for SHIPMENT_DISPATCHED events
func (eh *EventHandler) OnShipmentDispatched(handler func(context.Context, *models.ShipmentEvent) error) {
	eh.onShipmentDispatched = handler
}

// OnShipmentDelivered registers a handler for SHIPMENT_DELIVERED events
func (eh *EventHandler) OnShipmentDelivered(handler func(context.Context, *models.ShipmentEvent) error) {
	eh.onShipmentDelivered = handler
}

// HandleMessage routes a Kafka message. Malformed and unknown events are
// logged and skipped so they do not block the partition.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	err := eh.Dispatch(ctx, msg.Value)
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.Is(err, ErrUnhandledEvent):
		eh.logger.Warn("Skipping unhandled event",
			zap.ByteString("key", msg.Key),
			zap.String("type", headerValue(msg, HeaderEventType)),
			zap.Error(err))
		return nil
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		eh.logger.Error("Skipping malformed event", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}
	return err
}

// Dispatch decodes payload by its event_type and calls the registered handler
func (eh *EventHandler) Dispatch(ctx context.Context, payload []byte) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(payload, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Info("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentConfirmed:
		if eh.onPaymentConfirmed != nil {
			var event models.PaymentConfirmedEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentConfirmed event: %w", err)
			}
			return eh.onPaymentConfirmed(ctx, &event)
		}

	case models.EventTypeShipmentDispatched, models.EventTypeShipmentDelivered:
		handler := eh.onShipmentDispatched
		if baseEvent.EventType == models.EventTypeShipmentDelivered {
			handler = eh.onShipmentDelivered
		}
		if handler != nil {
			var event models.ShipmentEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				return fmt.Errorf("failed to unmarshal Shipment event: %w", err)
			}
			return handler(ctx, &event)
		}
	}

	return fmt.Errorf("%w: %q", ErrUnhandledEvent, baseEvent.EventType)
}
