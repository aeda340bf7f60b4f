package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"storefront/internal/errs"
	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const orderColumns = `id, order_number, user_id, total_amount, discount_amount, shipping_fee, final_amount, address,
	status, payment_method, payment_time, shipping_method, shipping_number, shipping_time, delivered_time,
	complete_time, cancel_reason, cancel_time, refund_reason, refund_time, remark, coupon_id, user_coupon_id,
	idempotency_key, version, created_at, updated_at`

const orderItemColumns = `id, order_id, product_id, name, price, purchase_price, quantity, specifications`

// InsertOrder creates an order together with its line items
func (s *Store) InsertOrder(ctx context.Context, o *models.Order) error {
	query := `
		INSERT INTO orders (order_number, user_id, total_amount, discount_amount, shipping_fee, final_amount,
			address, status, remark, coupon_id, user_coupon_id, idempotency_key, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`

	err := sqlx.GetContext(ctx, s.ext, &o.ID, query,
		o.OrderNumber, o.UserID, o.TotalAmount, o.DiscountAmount, o.ShippingFee, o.FinalAmount,
		o.Address, o.Status, o.Remark, o.CouponID, o.UserCouponID, o.IdempotencyKey, o.Version,
		o.CreatedAt, o.UpdatedAt)
	if constraint, ok := isUniqueViolation(err); ok {
		return errs.ConcurrentModification("order conflicts with an existing order (%s)", constraint)
	}
	if err != nil {
		return wrap("insert order", err)
	}

	for i := range o.Items {
		item := &o.Items[i]
		item.OrderID = o.ID
		err := sqlx.GetContext(ctx, s.ext, &item.ID, `
			INSERT INTO order_items (order_id, product_id, name, price, purchase_price, quantity, specifications)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			item.OrderID, item.ProductID, item.Name, item.Price, item.PurchasePrice, item.Quantity, item.Specifications)
		if err != nil {
			return wrap("insert order item", err)
		}
	}
	return nil
}

// GetOrder retrieves an order and its items by ID
func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return s.getOrder(ctx, "id = $1", id, id)
}

// GetOrderByNumber retrieves an order and its items by order number
func (s *Store) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	return s.getOrder(ctx, "order_number = $1", number, number)
}

// GetOrderByIdempotencyKey returns nil, nil when the user has no order for key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, error) {
	order, err := s.getOrder(ctx, "user_id = $1 AND idempotency_key = $2", key, userID, key)
	if errs.KindOf(err) == errs.KindOrderNotFound {
		return nil, nil
	}
	return order, err
}

func (s *Store) getOrder(ctx context.Context, where string, ref any, args ...any) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, s.ext, &order, "SELECT "+orderColumns+" FROM orders WHERE "+where, args...)
	if notFound(err) {
		return nil, errs.OrderNotFound(ref)
	}
	if err != nil {
		return nil, wrap("get order", err)
	}

	orders := []models.Order{order}
	if err := s.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// UpdateOrder persists the mutable lifecycle fields if the stored version still
// equals expectedVersion. On success o.Version is advanced.
func (s *Store) UpdateOrder(ctx context.Context, o *models.Order, expectedVersion int) error {
	query := `
		UPDATE orders SET status = $1, payment_method = $2, payment_time = $3, shipping_method = $4,
			shipping_number = $5, shipping_time = $6, delivered_time = $7, complete_time = $8,
			cancel_reason = $9, cancel_time = $10, refund_reason = $11, refund_time = $12, remark = $13,
			version = version + 1, updated_at = $14
		WHERE id = $15 AND version = $16`

	n, err := s.exec(ctx, "update order", query,
		o.Status, o.PaymentMethod, o.PaymentTime, o.ShippingMethod,
		o.ShippingNumber, o.ShippingTime, o.DeliveredTime, o.CompleteTime,
		o.CancelReason, o.CancelTime, o.RefundReason, o.RefundTime, o.Remark,
		o.UpdatedAt, o.ID, expectedVersion)
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.ConcurrentModification("order %d changed since version %d was read", o.ID, expectedVersion)
	}
	o.Version = expectedVersion + 1
	return nil
}

// ListOrders lists orders newest first
func (s *Store) ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != nil {
		args = append(args, *f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}

	query := "SELECT " + orderColumns + " FROM orders"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC" + pageClause(&args, f.Limit, f.Offset)

	return s.selectOrders(ctx, "list orders", query, args...)
}

// ListPendingBefore returns pending orders created before cutoff, oldest first
func (s *Store) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	return s.selectOrders(ctx, "list pending orders",
		"SELECT "+orderColumns+" FROM orders WHERE status = $1 AND created_at < $2 ORDER BY created_at LIMIT $3",
		models.OrderStatusPending, cutoff, limit)
}

// ListCompletedBetween returns orders completed in [start, end)
func (s *Store) ListCompletedBetween(ctx context.Context, start, end time.Time) ([]models.Order, error) {
	return s.selectOrders(ctx, "list completed orders",
		"SELECT "+orderColumns+" FROM orders WHERE status = $1 AND complete_time >= $2 AND complete_time < $3 ORDER BY complete_time",
		models.OrderStatusCompleted, start, end)
}

func (s *Store) selectOrders(ctx context.Context, op, query string, args ...any) ([]models.Order, error) {
	orders := []models.Order{}
	if err := sqlx.SelectContext(ctx, s.ext, &orders, query, args...); err != nil {
		return nil, wrap(op, err)
	}
	if err := s.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// loadItems fills Items for every order with a single query
func (s *Store) loadItems(ctx context.Context, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
		orders[i].Items = []models.OrderItem{}
	}

	var items []models.OrderItem
	err := sqlx.SelectContext(ctx, s.ext, &items,
		"SELECT "+orderItemColumns+" FROM order_items WHERE order_id = ANY($1) ORDER BY id", pq.Array(ids))
	if err != nil {
		return wrap("load order items", err)
	}

	for _, item := range items {
		i := index[item.OrderID]
		orders[i].Items = append(orders[i].Items, item)
	}
	return nil
}
