package service

import (
	"context"
	"time"

	"storefront/config"
	"storefront/internal/errs"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// EventPublisher receives order lifecycle events after they commit
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error
}

// Actor is the caller identity for a transition
type Actor struct {
	UserID int64
	Role   string
}

// SystemActor is used for transitions driven by provider events and background jobs
func SystemActor() Actor {
	return Actor{Role: models.RoleSystem}
}

// LineItem is one requested checkout line
type LineItem struct {
	ProductID      int64                 `json:"product_id" binding:"required"`
	Quantity       int                   `json:"quantity" binding:"required,min=1"`
	Specifications models.Specifications `json:"specifications"`
}

// CreateOrderInput is everything needed to place an order
type CreateOrderInput struct {
	UserID         int64
	Items          []LineItem
	Address        models.Address
	CouponID       *int64
	Remark         string
	IdempotencyKey string
}

// TransitionInput requests a status change
type TransitionInput struct {
	OrderID        int64
	Target         models.OrderStatus
	Actor          Actor
	PaymentMethod  string
	ShippingMethod string
	ShippingNumber string
	Reason         string

	// Within runs inside the transition's transaction after the status write,
	// so audit records commit or roll back together with the transition.
	Within func(ctx context.Context, tx store.Repository, order *models.Order) error
}

// EngineDeps are the collaborators of the OrderEngine
type EngineDeps struct {
	Store     store.Repository
	Inventory *Inventory
	Coupons   *CouponLedger
	Publisher EventPublisher
	Numbers   *OrderNumberGenerator
	Config    config.BusinessConfig
	Clock     func() time.Time
	Logger    *zap.Logger
}

// OrderEngine enforces the order state machine together with stock and coupon consistency
type OrderEngine struct {
	store     store.Repository
	inventory *Inventory
	coupons   *CouponLedger
	publisher EventPublisher
	numbers   *OrderNumberGenerator
	cfg       config.BusinessConfig
	clock     func() time.Time
	logger    *zap.Logger
}

// NewOrderEngine creates the engine, filling defaults for optional collaborators
func NewOrderEngine(d EngineDeps) *OrderEngine {
	if d.Logger == nil {
		d.Logger = util.GetLogger()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Inventory == nil {
		d.Inventory = NewInventory(nil, d.Logger)
	}
	if d.Coupons == nil {
		d.Coupons = NewCouponLedger(d.Logger)
	}
	if d.Numbers == nil {
		d.Numbers = NewOrderNumberGenerator()
	}
	return &OrderEngine{
		store:     d.Store,
		inventory: d.Inventory,
		coupons:   d.Coupons,
		publisher: d.Publisher,
		numbers:   d.Numbers,
		cfg:       d.Config,
		clock:     d.Clock,
		logger:    d.Logger,
	}
}

// CreateOrder reserves stock, redeems the optional coupon and persists a pending
// order in one transaction. Nothing is reserved if any step fails.
func (e *OrderEngine) CreateOrder(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderEngine.CreateOrder",
		attribute.Int64("user_id", in.UserID),
		attribute.Int("lines", len(in.Items)))
	defer span.End()

	if err := validateCreate(in); err != nil {
		util.OrdersFailedTotal.WithLabelValues(string(errs.KindInvalidInput)).Inc()
		return nil, err
	}

	if in.IdempotencyKey != "" {
		existing, err := e.store.GetOrderByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			e.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", in.IdempotencyKey),
				zap.Int64("order_id", existing.ID))
			return existing, nil
		}
	}

	now := e.clock()
	quantities := make(map[int64]int, len(in.Items))
	for _, item := range in.Items {
		quantities[item.ProductID] += item.Quantity
	}

	var (
		order  *models.Order
		levels map[int64]int
	)
	err := e.store.InTx(ctx, func(tx store.Repository) error {
		products, err := tx.GetProductsByIDs(ctx, sortedIDs(quantities))
		if err != nil {
			return err
		}
		byID := make(map[int64]*models.Product, len(products))
		for i := range products {
			byID[products[i].ID] = &products[i]
		}

		items := make([]models.OrderItem, 0, len(in.Items))
		lines := make([]OrderLine, 0, len(in.Items))
		for _, item := range in.Items {
			p, ok := byID[item.ProductID]
			if !ok {
				return errs.ProductNotFound(item.ProductID)
			}
			items = append(items, models.OrderItem{
				ProductID:      p.ID,
				Name:           p.Name,
				Price:          p.EffectivePrice(now),
				PurchasePrice:  p.PurchasePrice,
				Quantity:       item.Quantity,
				Specifications: append(models.Specifications(nil), item.Specifications...),
			})
			lines = append(lines, OrderLine{ProductID: p.ID, CategoryID: p.CategoryID})
		}

		levels, err = e.inventory.ReserveAll(ctx, tx, quantities)
		if err != nil {
			if errs.KindOf(err) == errs.KindInsufficientStock {
				return firstShortLine(in.Items, byID, quantities, err)
			}
			return err
		}

		order = &models.Order{
			OrderNumber:    e.numbers.Next(now),
			UserID:         in.UserID,
			Items:          items,
			ShippingFee:    e.cfg.ShippingFee,
			DiscountAmount: decimal.Zero,
			Address:        in.Address,
			Status:         models.OrderStatusPending,
			Remark:         in.Remark,
			IdempotencyKey: in.IdempotencyKey,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		order.TotalAmount = order.Subtotal().Add(order.ShippingFee)

		if in.CouponID != nil {
			red, err := e.coupons.Redeem(ctx, tx, *in.CouponID, in.UserID, OrderContext{
				Subtotal:    order.Subtotal(),
				ShippingFee: order.ShippingFee,
				Lines:       lines,
				Now:         now,
			})
			if err != nil {
				return err
			}
			order.CouponID = &red.CouponID
			order.UserCouponID = &red.UserCouponID
			order.DiscountAmount = red.Discount
		}
		order.FinalAmount = order.TotalAmount.Sub(order.DiscountAmount)

		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		if order.UserCouponID != nil {
			return tx.AttachUserCouponOrder(ctx, *order.UserCouponID, order.ID)
		}
		return nil
	})
	if err != nil {
		util.FailSpan(span, err, string(errs.KindOf(err)))
		util.OrdersFailedTotal.WithLabelValues(string(errs.KindOf(err))).Inc()
		e.logger.Warn("Order creation rejected",
			zap.Int64("user_id", in.UserID),
			zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.String("order_number", order.OrderNumber))
	util.OrdersCreatedTotal.Inc()
	e.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("final_amount", order.FinalAmount.StringFixed(2)))

	e.inventory.SyncCache(ctx, levels)
	e.publish(ctx, order, "", "")
	return order, nil
}

// Transition moves an order to in.Target. Stock and coupon releases and the
// version-guarded status write share one transaction.
func (e *OrderEngine) Transition(ctx context.Context, in TransitionInput) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderEngine.Transition",
		attribute.Int64("order_id", in.OrderID),
		attribute.String("target", in.Target.String()),
		attribute.String("actor_role", in.Actor.Role))
	defer span.End()

	if !in.Target.IsValid() {
		return nil, errs.InvalidInput("unknown order status %q", in.Target)
	}

	current, err := e.store.GetOrder(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}

	if err := authorize(current, in.Target, in.Actor); err != nil {
		util.OrderTransitionsRejected.WithLabelValues(string(errs.KindPermissionDenied)).Inc()
		return nil, err
	}

	if current.Status == models.OrderStatusCompleted && in.Target == models.OrderStatusCompleted {
		return current, nil
	}

	if !current.Status.CanTransitionTo(in.Target) {
		util.OrderTransitionsRejected.WithLabelValues(string(errs.KindIllegalTransition)).Inc()
		return nil, errs.IllegalTransition(current.Status.String(), in.Target.String())
	}

	now := e.clock()
	next := current.Clone()
	next.Status = in.Target
	next.UpdatedAt = now

	switch in.Target {
	case models.OrderStatusPaid:
		next.PaymentTime = &now
		next.PaymentMethod = in.PaymentMethod
		if next.PaymentMethod == "" {
			next.PaymentMethod = "online"
		}
	case models.OrderStatusShipped:
		if in.ShippingNumber == "" {
			return nil, errs.InvalidInput("shipping number is required to ship order %d", current.ID)
		}
		next.ShippingNumber = in.ShippingNumber
		next.ShippingMethod = in.ShippingMethod
		next.ShippingTime = &now
	case models.OrderStatusDelivered:
		next.DeliveredTime = &now
	case models.OrderStatusCompleted:
		next.CompleteTime = &now
	case models.OrderStatusCancelled:
		next.CancelReason = in.Reason
		next.CancelTime = &now
	case models.OrderStatusRefunded:
		next.RefundReason = in.Reason
		next.RefundTime = &now
	}

	var levels map[int64]int
	err = e.store.InTx(ctx, func(tx store.Repository) error {
		if in.Target.ReleasesReservation() {
			var err error
			levels, err = e.inventory.ReleaseAll(ctx, tx, current.ReservedQuantities())
			if err != nil {
				return err
			}
			if err := e.coupons.Rollback(ctx, tx, current); err != nil {
				return err
			}
		}
		if err := tx.UpdateOrder(ctx, next, current.Version); err != nil {
			return err
		}
		if in.Within != nil {
			return in.Within(ctx, tx, next)
		}
		return nil
	})
	if err != nil {
		util.FailSpan(span, err, string(errs.KindOf(err)))
		util.OrderTransitionsRejected.WithLabelValues(string(errs.KindOf(err))).Inc()
		return nil, err
	}

	util.OrderTransitionsTotal.WithLabelValues(current.Status.String(), in.Target.String()).Inc()
	e.logger.Info("Order transitioned",
		zap.Int64("order_id", next.ID),
		zap.String("from", current.Status.String()),
		zap.String("to", in.Target.String()),
		zap.String("actor_role", in.Actor.Role))

	e.inventory.SyncCache(ctx, levels)
	e.publish(ctx, next, current.Status, in.Reason)
	return next, nil
}

// authorize applies the role rules for each target status
func authorize(o *models.Order, target models.OrderStatus, actor Actor) error {
	switch actor.Role {
	case models.RoleSystem:
		if target == models.OrderStatusRefunded {
			return errs.PermissionDenied("refunds require an administrator")
		}
		return nil
	case models.RoleAdmin, models.RoleSuperAdmin:
		if target == models.OrderStatusPaid {
			return errs.PermissionDenied("payment can only be confirmed by the payment provider")
		}
		return nil
	case models.RoleUser:
		if o.UserID != actor.UserID {
			return errs.PermissionDenied("order %d does not belong to user %d", o.ID, actor.UserID)
		}
		switch target {
		case models.OrderStatusPaid, models.OrderStatusCancelled, models.OrderStatusDelivered, models.OrderStatusCompleted:
			return nil
		}
		return errs.PermissionDenied("customers cannot move orders to %s", target)
	}
	return errs.PermissionDenied("unknown role %q", actor.Role)
}

// firstShortLine names the first requested line the loaded stock cannot cover.
// Reservation runs in product ID order, so the failing product may not be the
// one the customer listed first.
func firstShortLine(items []LineItem, byID map[int64]*models.Product, quantities map[int64]int, reserveErr error) error {
	for _, item := range items {
		if p := byID[item.ProductID]; p != nil && p.Stock < quantities[item.ProductID] {
			return errs.InsufficientStock(item.ProductID, quantities[item.ProductID])
		}
	}
	return reserveErr
}

func validateCreate(in CreateOrderInput) error {
	if in.UserID <= 0 {
		return errs.InvalidInput("user id is required")
	}
	if len(in.Items) == 0 {
		return errs.InvalidInput("order must contain at least one item")
	}
	for _, item := range in.Items {
		if item.ProductID <= 0 {
			return errs.InvalidInput("product id is required")
		}
		if item.Quantity < 1 {
			return errs.InvalidInput("quantity for product %d must be at least 1", item.ProductID)
		}
	}
	if in.Address.Name == "" || in.Address.Phone == "" || in.Address.Detail == "" {
		return errs.InvalidInput("shipping address needs name, phone and detail")
	}
	return nil
}

func (e *OrderEngine) publish(ctx context.Context, o *models.Order, prev models.OrderStatus, reason string) {
	if e.publisher == nil {
		return
	}

	items := make([]models.OrderItemData, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		})
	}

	event := &models.OrderEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.OrderEventType(o.Status),
			Timestamp: e.clock(),
		},
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		Status:      o.Status,
		PrevStatus:  prev,
		FinalAmount: o.FinalAmount,
		Items:       items,
		Reason:      reason,
	}

	if err := e.publisher.PublishOrderEvent(ctx, event); err != nil {
		e.logger.Error("Failed to publish order event",
			zap.String("event_type", event.EventType),
			zap.Int64("order_id", o.ID),
			zap.Error(err))
	}
}
