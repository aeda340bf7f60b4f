package worker

import (
	"context"
	"time"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ExternalEventWorker turns payment and shipping provider events into order transitions
type ExternalEventWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewExternalEventWorker creates a new external event worker
func NewExternalEventWorker(consumer *broker.Consumer, eventHandler *broker.EventHandler) *ExternalEventWorker {
	return &ExternalEventWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// NewSagaEventHandler wires the provider event types to the saga
func NewSagaEventHandler(saga *service.SagaOrchestrator) *broker.EventHandler {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnPaymentConfirmed(saga.HandlePaymentConfirmed)
	eventHandler.OnShipmentDispatched(saga.HandleShipmentDispatched)
	eventHandler.OnShipmentDelivered(saga.HandleShipmentDelivered)
	return eventHandler
}

// Start starts the worker
func (w *ExternalEventWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting external event worker")
	return w.consumer.Consume(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *ExternalEventWorker) Stop() error {
	w.logger.Info("Stopping external event worker")
	return w.consumer.Close()
}

// Broadcaster pushes order events to connected clients
type Broadcaster interface {
	Broadcast(event *models.OrderEvent) int
}

// RealtimeWorker forwards committed order events to the WebSocket hub
type RealtimeWorker struct {
	consumer *broker.Consumer
	hub      Broadcaster
	logger   *zap.Logger
}

// NewRealtimeWorker creates a new realtime worker
func NewRealtimeWorker(consumer *broker.Consumer, hub Broadcaster) *RealtimeWorker {
	return &RealtimeWorker{
		consumer: consumer,
		hub:      hub,
		logger:   util.GetLogger(),
	}
}

// Start starts the worker
func (w *RealtimeWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting realtime worker")
	return w.consumer.Consume(ctx, w.handle)
}

// Stop stops the worker
func (w *RealtimeWorker) Stop() error {
	w.logger.Info("Stopping realtime worker")
	return w.consumer.Close()
}

func (w *RealtimeWorker) handle(ctx context.Context, msg kafka.Message) error {
	event, err := broker.DecodeOrderEvent(msg.Value)
	if err != nil {
		w.logger.Warn("Skipping undecodable order event", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}
	n := w.hub.Broadcast(event)
	w.logger.Debug("Order event broadcast",
		zap.String("order_number", event.OrderNumber),
		zap.String("event_type", event.EventType),
		zap.Int("clients", n))
	return nil
}

// Expirer cancels pending orders that were never paid
type Expirer interface {
	ExpireStale(ctx context.Context, now time.Time, timeout time.Duration, batch int) (int, error)
}

// ExpirySweeper periodically cancels pending orders older than the payment timeout
type ExpirySweeper struct {
	expirer  Expirer
	interval time.Duration
	timeout  time.Duration
	batch    int
	clock    func() time.Time
	logger   *zap.Logger
}

// NewExpirySweeper creates a sweeper running every interval
func NewExpirySweeper(expirer Expirer, interval, timeout time.Duration) *ExpirySweeper {
	return &ExpirySweeper{
		expirer:  expirer,
		interval: interval,
		timeout:  timeout,
		batch:    100,
		clock:    time.Now,
		logger:   util.GetLogger(),
	}
}

// Start sweeps until ctx is cancelled
func (s *ExpirySweeper) Start(ctx context.Context) error {
	s.logger.Info("Starting expiry sweeper",
		zap.Duration("interval", s.interval),
		zap.Duration("timeout", s.timeout))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Expiry sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce drains stale orders in batches and returns how many were cancelled
func (s *ExpirySweeper) RunOnce(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := s.expirer.ExpireStale(ctx, s.clock(), s.timeout, s.batch)
		if err != nil {
			s.logger.Error("Expiry sweep failed", zap.Error(err))
			break
		}
		total += n
		if n < s.batch {
			break
		}
	}
	if total > 0 {
		s.logger.Info("Expired stale orders", zap.Int("count", total))
	}
	return total
}
