package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus represents the lifecycle state of an order
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:      {OrderStatusShipped, OrderStatusRefunded, OrderStatusCancelled},
	OrderStatusShipped:   {OrderStatusDelivered, OrderStatusRefunded},
	OrderStatusDelivered: {OrderStatusCompleted, OrderStatusRefunded},
}

// IsValid checks if the status is a known OrderStatus
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusShipped, OrderStatusDelivered,
		OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is permitted
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled || s == OrderStatusRefunded
}

// CanTransitionTo checks the legal transitions table
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// ReleasesReservation reports whether entering s gives reserved stock and coupons back
func (s OrderStatus) ReleasesReservation() bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

// String returns the string representation of OrderStatus
func (s OrderStatus) String() string {
	return string(s)
}

// OrderItem is a snapshot of a product at order time
type OrderItem struct {
	ID             int64           `db:"id" json:"id"`
	OrderID        int64           `db:"order_id" json:"order_id"`
	ProductID      int64           `db:"product_id" json:"product_id"`
	Name           string          `db:"name" json:"name"`
	Price          decimal.Decimal `db:"price" json:"price"`
	PurchasePrice  decimal.Decimal `db:"purchase_price" json:"-"`
	Quantity       int             `db:"quantity" json:"quantity"`
	Specifications Specifications  `db:"specifications" json:"specifications"`
}

// Subtotal is price times quantity
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cost is the unit cost at order time times quantity
func (i OrderItem) Cost() decimal.Decimal {
	return i.PurchasePrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order represents a customer order
type Order struct {
	ID             int64           `db:"id" json:"id"`
	OrderNumber    string          `db:"order_number" json:"order_number"`
	UserID         int64           `db:"user_id" json:"user_id"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	ShippingFee    decimal.Decimal `db:"shipping_fee" json:"shipping_fee"`
	FinalAmount    decimal.Decimal `db:"final_amount" json:"final_amount"`
	Address        Address         `db:"address" json:"address"`
	Status         OrderStatus     `db:"status" json:"status"`
	PaymentMethod  string          `db:"payment_method" json:"payment_method,omitempty"`
	PaymentTime    *time.Time      `db:"payment_time" json:"payment_time,omitempty"`
	ShippingMethod string          `db:"shipping_method" json:"shipping_method,omitempty"`
	ShippingNumber string          `db:"shipping_number" json:"shipping_number,omitempty"`
	ShippingTime   *time.Time      `db:"shipping_time" json:"shipping_time,omitempty"`
	DeliveredTime  *time.Time      `db:"delivered_time" json:"delivered_time,omitempty"`
	CompleteTime   *time.Time      `db:"complete_time" json:"complete_time,omitempty"`
	CancelReason   string          `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CancelTime     *time.Time      `db:"cancel_time" json:"cancel_time,omitempty"`
	RefundReason   string          `db:"refund_reason" json:"refund_reason,omitempty"`
	RefundTime     *time.Time      `db:"refund_time" json:"refund_time,omitempty"`
	Remark         string          `db:"remark" json:"remark,omitempty"`
	CouponID       *int64          `db:"coupon_id" json:"coupon_id,omitempty"`
	UserCouponID   *int64          `db:"user_coupon_id" json:"user_coupon_id,omitempty"`
	IdempotencyKey string          `db:"idempotency_key" json:"-"`
	Version        int             `db:"version" json:"version"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`

	Items []OrderItem `db:"-" json:"items"`
}

// Subtotal sums the line items
func (o *Order) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// Cost sums the line item costs
func (o *Order) Cost() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Cost())
	}
	return total
}

// Profit is what the order earned on goods: the amount paid minus the shipping
// fee passed through and the cost of the goods. A free-shipping coupon lowers it.
func (o *Order) Profit() decimal.Decimal {
	return o.FinalAmount.Sub(o.ShippingFee).Sub(o.Cost())
}

// ReservedQuantities aggregates reserved quantity per product
func (o *Order) ReservedQuantities() map[int64]int {
	out := make(map[int64]int, len(o.Items))
	for _, item := range o.Items {
		out[item.ProductID] += item.Quantity
	}
	return out
}

// Clone returns a deep copy so callers can mutate without touching the original
func (o *Order) Clone() *Order {
	c := *o
	c.Items = make([]OrderItem, len(o.Items))
	for i, item := range o.Items {
		item.Specifications = append(Specifications(nil), item.Specifications...)
		c.Items[i] = item
	}
	return &c
}
