package store

import (
	"context"

	"storefront/internal/errs"
	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreatePayment records a payment confirmation
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, status, method, provider_tx_id, amount)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := sqlx.GetContext(ctx, s.ext, payment, query,
		payment.OrderID, payment.Status, payment.Method, payment.ProviderTxID, payment.Amount)
	if _, ok := isUniqueViolation(err); ok {
		return errs.ConcurrentModification("payment %s already recorded", payment.ProviderTxID)
	}
	return wrap("create payment", err)
}

// ListPayments lists payment records for an order, newest first
func (s *Store) ListPayments(ctx context.Context, orderID int64) ([]models.Payment, error) {
	payments := []models.Payment{}
	err := sqlx.SelectContext(ctx, s.ext, &payments,
		"SELECT id, order_id, status, method, provider_tx_id, amount, created_at FROM payments WHERE order_id = $1 ORDER BY created_at DESC, id DESC",
		orderID)
	if err != nil {
		return nil, wrap("list payments", err)
	}
	return payments, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, s.ext, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, wrap("check processed event", err)
}

// MarkEventProcessed marks an event as processed. It reports false when the
// event had already been recorded.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	n, err := s.exec(ctx, "mark processed event",
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return n > 0, err
}
