package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated   = "ORDER_CREATED"
	EventTypeOrderPaid      = "ORDER_PAID"
	EventTypeOrderShipped   = "ORDER_SHIPPED"
	EventTypeOrderDelivered = "ORDER_DELIVERED"
	EventTypeOrderCompleted = "ORDER_COMPLETED"
	EventTypeOrderCancelled = "ORDER_CANCELLED"
	EventTypeOrderRefunded  = "ORDER_REFUNDED"

	// Inbound events from external providers
	EventTypePaymentConfirmed   = "PAYMENT_CONFIRMED"
	EventTypeShipmentDispatched = "SHIPMENT_DISPATCHED"
	EventTypeShipmentDelivered  = "SHIPMENT_DELIVERED"
)

// OrderEventType maps a status to the event published when an order enters it
func OrderEventType(status OrderStatus) string {
	switch status {
	case OrderStatusPending:
		return EventTypeOrderCreated
	case OrderStatusPaid:
		return EventTypeOrderPaid
	case OrderStatusShipped:
		return EventTypeOrderShipped
	case OrderStatusDelivered:
		return EventTypeOrderDelivered
	case OrderStatusCompleted:
		return EventTypeOrderCompleted
	case OrderStatusCancelled:
		return EventTypeOrderCancelled
	case OrderStatusRefunded:
		return EventTypeOrderRefunded
	}
	return ""
}

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderEvent is published on every order lifecycle change
type OrderEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	UserID      int64           `json:"user_id"`
	Status      OrderStatus     `json:"status"`
	PrevStatus  OrderStatus     `json:"prev_status,omitempty"`
	FinalAmount decimal.Decimal `json:"final_amount"`
	Items       []OrderItemData `json:"items,omitempty"`
	Reason      string          `json:"reason,omitempty"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// PaymentConfirmedEvent is delivered by the payment provider integration
type PaymentConfirmedEvent struct {
	BaseEvent
	OrderNumber  string          `json:"order_number"`
	UserID       int64           `json:"user_id"`
	Method       string          `json:"method"`
	ProviderTxID string          `json:"provider_tx_id"`
	Amount       decimal.Decimal `json:"amount"`
}

// ShipmentEvent is delivered by the logistics integration
type ShipmentEvent struct {
	BaseEvent
	OrderNumber    string `json:"order_number"`
	ShippingMethod string `json:"shipping_method"`
	ShippingNumber string `json:"shipping_number"`
}
