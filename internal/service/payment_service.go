package service

import (
	"context"

	"storefront/internal/errs"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentConfirmation is what a payment provider reports for a settled order
type PaymentConfirmation struct {
	OrderNumber  string
	Method       string
	ProviderTxID string
	Amount       decimal.Decimal
	// EventID, when set, is recorded in processed_events in the same transaction.
	EventID   string
	EventType string
}

// PaymentService records provider payment outcomes and drives the paid and refunded transitions
type PaymentService struct {
	store  store.Repository
	engine *OrderEngine
	logger *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(repo store.Repository, engine *OrderEngine) *PaymentService {
	return &PaymentService{
		store:  repo,
		engine: engine,
		logger: util.GetLogger(),
	}
}

// ConfirmPayment marks the order paid and stores the payment record atomically
func (ps *PaymentService) ConfirmPayment(ctx context.Context, pc PaymentConfirmation) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ConfirmPayment")
	defer span.End()

	if pc.ProviderTxID == "" {
		return nil, errs.InvalidInput("provider transaction id is required")
	}

	order, err := ps.store.GetOrderByNumber(ctx, pc.OrderNumber)
	if err != nil {
		return nil, err
	}
	if !pc.Amount.Equal(order.FinalAmount) {
		return nil, errs.InvalidInput("paid amount %s does not match order amount %s",
			pc.Amount.StringFixed(2), order.FinalAmount.StringFixed(2))
	}

	ps.logger.Info("Processing payment confirmation",
		zap.Int64("order_id", order.ID),
		zap.String("tx_id", pc.ProviderTxID))

	return ps.engine.Transition(ctx, TransitionInput{
		OrderID:       order.ID,
		Target:        models.OrderStatusPaid,
		Actor:         SystemActor(),
		PaymentMethod: pc.Method,
		Within: func(ctx context.Context, tx store.Repository, o *models.Order) error {
			if err := markProcessed(ctx, tx, pc.EventID, pc.EventType); err != nil {
				return err
			}
			return tx.CreatePayment(ctx, &models.Payment{
				OrderID:      o.ID,
				Status:       models.PaymentStatusSuccess,
				Method:       o.PaymentMethod,
				ProviderTxID: pc.ProviderTxID,
				Amount:       pc.Amount,
			})
		},
	})
}

// Refund moves an order to refunded and records the refund against its payment history
func (ps *PaymentService) Refund(ctx context.Context, actor Actor, orderID int64, reason string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Refund")
	defer span.End()

	if reason == "" {
		return nil, errs.InvalidInput("refund reason is required")
	}

	return ps.engine.Transition(ctx, TransitionInput{
		OrderID: orderID,
		Target:  models.OrderStatusRefunded,
		Actor:   actor,
		Reason:  reason,
		Within: func(ctx context.Context, tx store.Repository, o *models.Order) error {
			return tx.CreatePayment(ctx, &models.Payment{
				OrderID:      o.ID,
				Status:       models.PaymentStatusRefund,
				Method:       o.PaymentMethod,
				ProviderTxID: "refund-" + o.OrderNumber,
				Amount:       o.FinalAmount.Neg(),
			})
		},
	})
}

// GetPayments retrieves payment history for an order
func (ps *PaymentService) GetPayments(ctx context.Context, orderID int64) ([]models.Payment, error) {
	return ps.store.ListPayments(ctx, orderID)
}

// markProcessed records eventID; a second delivery racing the first rolls back as a concurrent modification
func markProcessed(ctx context.Context, tx store.Repository, eventID, eventType string) error {
	if eventID == "" {
		return nil
	}
	inserted, err := tx.MarkEventProcessed(ctx, eventID, eventType)
	if err != nil {
		return err
	}
	if !inserted {
		return errs.ConcurrentModification("event %s was processed concurrently", eventID)
	}
	return nil
}
