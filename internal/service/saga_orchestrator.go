package service

import (
	"context"
	"fmt"

	"storefront/internal/errs"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// SagaOrchestrator translates provider events into order transitions
type SagaOrchestrator struct {
	store          store.Repository
	engine         *OrderEngine
	paymentService *PaymentService
	logger         *zap.Logger
}

// NewSagaOrchestrator creates a new saga orchestrator
func NewSagaOrchestrator(repo store.Repository, engine *OrderEngine, paymentService *PaymentService) *SagaOrchestrator {
	return &SagaOrchestrator{
		store:          repo,
		engine:         engine,
		paymentService: paymentService,
		logger:         util.GetLogger(),
	}
}

// HandlePaymentConfirmed handles a payment provider confirmation
func (so *SagaOrchestrator) HandlePaymentConfirmed(ctx context.Context, event *models.PaymentConfirmedEvent) error {
	ctx, span := util.StartSpan(ctx, "SagaOrchestrator.HandlePaymentConfirmed")
	defer span.End()

	if done, err := so.alreadyProcessed(ctx, event.BaseEvent); done || err != nil {
		return err
	}

	_, err := so.paymentService.ConfirmPayment(ctx, PaymentConfirmation{
		OrderNumber:  event.OrderNumber,
		Method:       event.Method,
		ProviderTxID: event.ProviderTxID,
		Amount:       event.Amount,
		EventID:      event.EventID,
		EventType:    event.EventType,
	})
	return so.finish(ctx, event.BaseEvent, event.OrderNumber, err)
}

// HandleShipmentDispatched handles a logistics dispatch notice
func (so *SagaOrchestrator) HandleShipmentDispatched(ctx context.Context, event *models.ShipmentEvent) error {
	ctx, span := util.StartSpan(ctx, "SagaOrchestrator.HandleShipmentDispatched")
	defer span.End()

	return so.handleShipment(ctx, event, models.OrderStatusShipped)
}

// HandleShipmentDelivered handles a logistics delivery notice
func (so *SagaOrchestrator) HandleShipmentDelivered(ctx context.Context, event *models.ShipmentEvent) error {
	ctx, span := util.StartSpan(ctx, "SagaOrchestrator.HandleShipmentDelivered")
	defer span.End()

	return so.handleShipment(ctx, event, models.OrderStatusDelivered)
}

func (so *SagaOrchestrator) handleShipment(ctx context.Context, event *models.ShipmentEvent, target models.OrderStatus) error {
	if done, err := so.alreadyProcessed(ctx, event.BaseEvent); done || err != nil {
		return err
	}

	order, err := so.store.GetOrderByNumber(ctx, event.OrderNumber)
	if err != nil {
		return so.finish(ctx, event.BaseEvent, event.OrderNumber, err)
	}

	_, err = so.engine.Transition(ctx, TransitionInput{
		OrderID:        order.ID,
		Target:         target,
		Actor:          SystemActor(),
		ShippingMethod: event.ShippingMethod,
		ShippingNumber: event.ShippingNumber,
		Within: func(ctx context.Context, tx store.Repository, _ *models.Order) error {
			return markProcessed(ctx, tx, event.EventID, event.EventType)
		},
	})
	return so.finish(ctx, event.BaseEvent, event.OrderNumber, err)
}

func (so *SagaOrchestrator) alreadyProcessed(ctx context.Context, event models.BaseEvent) (bool, error) {
	if event.EventID == "" {
		return false, errs.InvalidInput("event id is required")
	}
	processed, err := so.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return false, fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		so.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		util.ExternalEventsTotal.WithLabelValues(event.EventType, "duplicate").Inc()
	}
	return processed, nil
}

// finish classifies the outcome. Retryable failures are returned so the
// consumer redelivers; permanent rejections are recorded and dropped.
func (so *SagaOrchestrator) finish(ctx context.Context, event models.BaseEvent, orderNumber string, err error) error {
	if err == nil {
		util.ExternalEventsTotal.WithLabelValues(event.EventType, "applied").Inc()
		return nil
	}
	if errs.Retryable(err) {
		util.ExternalEventsTotal.WithLabelValues(event.EventType, "retry").Inc()
		return err
	}

	util.ExternalEventsTotal.WithLabelValues(event.EventType, "rejected").Inc()
	so.logger.Warn("External event rejected",
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.String("order_number", orderNumber),
		zap.Error(err))

	if _, markErr := so.store.MarkEventProcessed(ctx, event.EventID, event.EventType); markErr != nil {
		so.logger.Error("Failed to mark event processed", zap.Error(markErr))
	}
	return nil
}
