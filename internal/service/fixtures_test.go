package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"storefront/config"
	"storefront/internal/errs"
	"storefront/internal/models"
	"storefront/internal/store/storetest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

var testAddress = models.Address{Name: "Ana", Phone: "555-0100", City: "Lisbon", Detail: "Rua 1"}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.OrderEvent
}

func (p *recordingPublisher) PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

type mapCache struct {
	mu     sync.Mutex
	levels map[int64]int
}

func newMapCache() *mapCache {
	return &mapCache{levels: map[int64]int{}}
}

func (c *mapCache) SetStock(ctx context.Context, productID int64, stock int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.levels[productID] = stock
	return nil
}

func (c *mapCache) GetStock(ctx context.Context, productID int64) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stock, ok := c.levels[productID]
	return stock, ok, nil
}

type fixture struct {
	ctx    context.Context
	store  *storetest.Memory
	engine *OrderEngine
	pub    *recordingPublisher
	cache  *mapCache
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithFee(t, decimal.Zero)
}

func newFixtureWithFee(t *testing.T, fee decimal.Decimal) *fixture {
	t.Helper()
	logger := zap.NewNop()
	f := &fixture{
		ctx:   context.Background(),
		store: storetest.NewMemory(),
		pub:   &recordingPublisher{},
		cache: newMapCache(),
	}
	f.engine = NewOrderEngine(EngineDeps{
		Store:     f.store,
		Inventory: NewInventory(f.cache, logger),
		Coupons:   NewCouponLedger(logger),
		Publisher: f.pub,
		Config:    config.BusinessConfig{ShippingFee: fee},
		Clock:     func() time.Time { return testNow },
		Logger:    logger,
	})
	return f
}

func (f *fixture) product(t *testing.T, name, price string, stock int) *models.Product {
	t.Helper()
	p := &models.Product{Name: name, Price: decimal.RequireFromString(price), Stock: stock}
	require.NoError(t, f.store.CreateProduct(f.ctx, p))
	return p
}

// coupon stores c with an open validity window around testNow unless the caller set one
func (f *fixture) coupon(t *testing.T, c models.Coupon) *models.Coupon {
	t.Helper()
	if c.StartDate.IsZero() {
		c.StartDate = testNow.Add(-24 * time.Hour)
	}
	if c.EndDate.IsZero() {
		c.EndDate = testNow.Add(24 * time.Hour)
	}
	if c.TotalCount == 0 {
		c.TotalCount = 100
	}
	c.IsActive = true
	require.NoError(t, f.store.CreateCoupon(f.ctx, &c))
	return &c
}

func (f *fixture) give(t *testing.T, userID, couponID int64) int64 {
	t.Helper()
	uc := &models.UserCoupon{
		UserID:     userID,
		CouponID:   couponID,
		Status:     models.UserCouponUnused,
		ObtainTime: testNow,
		ExpireTime: testNow.Add(24 * time.Hour),
	}
	require.NoError(t, f.store.ClaimCoupon(f.ctx, uc))
	return uc.ID
}

func (f *fixture) create(userID int64, couponID *int64, lines ...LineItem) (*models.Order, error) {
	return f.engine.CreateOrder(f.ctx, CreateOrderInput{
		UserID:   userID,
		Items:    lines,
		Address:  testAddress,
		CouponID: couponID,
	})
}

func (f *fixture) mustCreate(t *testing.T, userID int64, lines ...LineItem) *models.Order {
	t.Helper()
	o, err := f.create(userID, nil, lines...)
	require.NoError(t, err)
	return o
}

// advance walks an order through targets using the actor each step requires
func (f *fixture) advance(t *testing.T, orderID int64, targets ...models.OrderStatus) *models.Order {
	t.Helper()
	var o *models.Order
	for _, target := range targets {
		in := TransitionInput{OrderID: orderID, Target: target, Actor: Actor{UserID: 900, Role: models.RoleAdmin}}
		switch target {
		case models.OrderStatusPaid:
			in.Actor = SystemActor()
		case models.OrderStatusShipped:
			in.ShippingNumber = "SF123"
		case models.OrderStatusRefunded, models.OrderStatusCancelled:
			in.Reason = "test"
		}
		var err error
		o, err = f.engine.Transition(f.ctx, in)
		require.NoError(t, err, "transition to %s", target)
	}
	return o
}

func line(productID int64, qty int) LineItem {
	return LineItem{ProductID: productID, Quantity: qty}
}

func assertKind(t *testing.T, want errs.Kind, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, errs.KindOf(err), "error: %v", err)
}

func assertCouponReason(t *testing.T, want errs.CouponReason, err error) {
	t.Helper()
	assert.ErrorIs(t, err, &errs.Error{Kind: errs.KindCouponInvalid, Reason: want})
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func ptr[T any](v T) *T {
	return &v
}
