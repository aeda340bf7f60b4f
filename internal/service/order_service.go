package service

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/errs"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// CheckoutLocker serialises duplicate submissions of the same checkout
type CheckoutLocker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

const checkoutLockTTL = 30 * time.Second

// OrderService handles customer and admin order use cases around the engine
type OrderService struct {
	store  store.Repository
	engine *OrderEngine
	locker CheckoutLocker
	logger *zap.Logger
}

// NewOrderService creates a new order service. locker may be nil.
func NewOrderService(repo store.Repository, engine *OrderEngine, locker CheckoutLocker) *OrderService {
	return &OrderService{
		store:  repo,
		engine: engine,
		locker: locker,
		logger: util.GetLogger(),
	}
}

// CreateOrderRequest represents a checkout request body
type CreateOrderRequest struct {
	Items    []LineItem      `json:"items" binding:"required,min=1,dive"`
	Address  *models.Address `json:"address"`
	CouponID *int64          `json:"coupon_id"`
	Remark   string          `json:"remark"`
}

// PlaceOrder resolves the shipping address and runs checkout through the engine
func (s *OrderService) PlaceOrder(ctx context.Context, userID int64, req *CreateOrderRequest, idempotencyKey string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	address, err := s.resolveAddress(ctx, userID, req.Address)
	if err != nil {
		return nil, err
	}

	if idempotencyKey != "" && s.locker != nil {
		lockKey := fmt.Sprintf("checkout:%d:%s", userID, idempotencyKey)
		token, acquired, err := s.locker.AcquireLock(ctx, lockKey, checkoutLockTTL)
		if err != nil {
			s.logger.Warn("Checkout lock unavailable, relying on idempotency index", zap.Error(err))
		} else if !acquired {
			return nil, errs.ConcurrentModification("checkout %s is already in progress", idempotencyKey)
		} else {
			defer func() {
				if err := s.locker.ReleaseLock(context.Background(), lockKey, token); err != nil {
					s.logger.Warn("Failed to release checkout lock", zap.Error(err))
				}
			}()
		}
	}

	return s.engine.CreateOrder(ctx, CreateOrderInput{
		UserID:         userID,
		Items:          req.Items,
		Address:        address,
		CouponID:       req.CouponID,
		Remark:         req.Remark,
		IdempotencyKey: idempotencyKey,
	})
}

func (s *OrderService) resolveAddress(ctx context.Context, userID int64, given *models.Address) (models.Address, error) {
	if given != nil {
		addr := *given
		addr.IsDefault = false
		return addr, nil
	}

	user, err := s.store.GetUser(ctx, userID)
	if errs.KindOf(err) == errs.KindNotFound {
		return models.Address{}, errs.InvalidInput("a shipping address is required")
	}
	if err != nil {
		return models.Address{}, err
	}

	addr, ok := user.Addresses.Default()
	if !ok {
		return models.Address{}, errs.InvalidInput("a shipping address is required")
	}
	addr.IsDefault = false
	return addr, nil
}

// GetOrder returns an order visible to the actor
func (s *OrderService) GetOrder(ctx context.Context, actor Actor, orderID int64) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleUser && order.UserID != actor.UserID {
		return nil, errs.OrderNotFound(orderID)
	}
	return order, nil
}

// GetOrderByNumber looks an order up by its public number
func (s *OrderService) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	return s.store.GetOrderByNumber(ctx, number)
}

// ListOrders lists orders; customers only ever see their own
func (s *OrderService) ListOrders(ctx context.Context, actor Actor, f store.OrderFilter) ([]models.Order, error) {
	if actor.Role == models.RoleUser {
		f.UserID = &actor.UserID
	}
	if f.Status != "" && !f.Status.IsValid() {
		return nil, errs.InvalidInput("unknown order status %q", f.Status)
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	return s.store.ListOrders(ctx, f)
}

// Cancel cancels an order on behalf of the actor
func (s *OrderService) Cancel(ctx context.Context, actor Actor, orderID int64, reason string) (*models.Order, error) {
	return s.engine.Transition(ctx, TransitionInput{
		OrderID: orderID,
		Target:  models.OrderStatusCancelled,
		Actor:   actor,
		Reason:  reason,
	})
}

// ConfirmReceipt marks a shipped order delivered
func (s *OrderService) ConfirmReceipt(ctx context.Context, actor Actor, orderID int64) (*models.Order, error) {
	return s.engine.Transition(ctx, TransitionInput{
		OrderID: orderID,
		Target:  models.OrderStatusDelivered,
		Actor:   actor,
	})
}

// Complete closes a delivered order. Repeating it is harmless.
func (s *OrderService) Complete(ctx context.Context, actor Actor, orderID int64) (*models.Order, error) {
	return s.engine.Transition(ctx, TransitionInput{
		OrderID: orderID,
		Target:  models.OrderStatusCompleted,
		Actor:   actor,
	})
}

// Transition exposes the engine for administrative status changes
func (s *OrderService) Transition(ctx context.Context, in TransitionInput) (*models.Order, error) {
	return s.engine.Transition(ctx, in)
}

// ExpireStale cancels pending orders older than timeout and expires lapsed
// coupon instances. It returns how many orders were cancelled.
func (s *OrderService) ExpireStale(ctx context.Context, now time.Time, timeout time.Duration, batch int) (int, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ExpireStale")
	defer span.End()

	if n, err := s.store.ExpireUserCoupons(ctx, now); err != nil {
		s.logger.Warn("Failed to expire user coupons", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("User coupons expired", zap.Int64("count", n))
	}

	stale, err := s.store.ListPendingBefore(ctx, now.Add(-timeout), batch)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, order := range stale {
		_, err := s.engine.Transition(ctx, TransitionInput{
			OrderID: order.ID,
			Target:  models.OrderStatusCancelled,
			Actor:   SystemActor(),
			Reason:  "payment timeout",
		})
		switch errs.KindOf(err) {
		case "":
			cancelled++
			util.ExpiredOrdersTotal.Inc()
		case errs.KindIllegalTransition, errs.KindConcurrentModification:
			// paid or cancelled by someone else since the listing
		default:
			s.logger.Error("Failed to expire order",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
		}
	}
	return cancelled, nil
}
