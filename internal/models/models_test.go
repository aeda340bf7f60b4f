package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusTransitions(t *testing.T) {
	legal := map[OrderStatus][]OrderStatus{
		OrderStatusPending:   {OrderStatusPaid, OrderStatusCancelled},
		OrderStatusPaid:      {OrderStatusShipped, OrderStatusRefunded, OrderStatusCancelled},
		OrderStatusShipped:   {OrderStatusDelivered, OrderStatusRefunded},
		OrderStatusDelivered: {OrderStatusCompleted, OrderStatusRefunded},
	}
	all := []OrderStatus{
		OrderStatusPending, OrderStatusPaid, OrderStatusShipped, OrderStatusDelivered,
		OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded,
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, allowed := range legal[from] {
				if allowed == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.True(t, OrderStatusCompleted.IsTerminal())
	assert.True(t, OrderStatusCancelled.IsTerminal())
	assert.True(t, OrderStatusRefunded.IsTerminal())
	assert.False(t, OrderStatusDelivered.IsTerminal())
	assert.False(t, OrderStatus("lost").IsValid())
}

func TestEffectivePriceHonoursPromotionWindow(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 30, 23, 59, 59, 0, time.UTC)
	p := &Product{
		Price:          decimal.NewFromInt(100),
		PromotionPrice: decimal.NewNullDecimal(decimal.NewFromInt(80)),
		PromotionStart: &start,
		PromotionEnd:   &end,
	}

	assert.True(t, p.EffectivePrice(start.Add(-time.Second)).Equal(decimal.NewFromInt(100)))
	assert.True(t, p.EffectivePrice(start).Equal(decimal.NewFromInt(80)))
	assert.True(t, p.EffectivePrice(end).Equal(decimal.NewFromInt(80)))
	assert.True(t, p.EffectivePrice(end.Add(time.Second)).Equal(decimal.NewFromInt(100)))

	p.PromotionPrice = decimal.NullDecimal{}
	assert.True(t, p.EffectivePrice(start).Equal(decimal.NewFromInt(100)))
}

func TestCouponScope(t *testing.T) {
	cat := int64(9)
	other := int64(10)

	open := &Coupon{}
	assert.True(t, open.AppliesTo(1, nil))

	scoped := &Coupon{ApplicableProducts: []int64{1}, ApplicableCategories: []int64{9}}
	assert.True(t, scoped.AppliesTo(1, nil))
	assert.True(t, scoped.AppliesTo(2, &cat))
	assert.False(t, scoped.AppliesTo(2, &other))
	assert.False(t, scoped.AppliesTo(2, nil))
}

func TestCouponUsableWindow(t *testing.T) {
	now := time.Now()
	c := &Coupon{IsActive: true, StartDate: now.Add(-time.Hour), EndDate: now.Add(time.Hour)}
	assert.True(t, c.Usable(now))
	assert.False(t, c.Usable(now.Add(2*time.Hour)))

	c.IsActive = false
	assert.False(t, c.Usable(now))
}

func TestAddressesDefault(t *testing.T) {
	book := Addresses{{Name: "a"}, {Name: "b"}}

	def, ok := book.Default()
	require.True(t, ok)
	assert.Equal(t, "a", def.Name)

	require.NoError(t, book.SetDefault(1))
	def, _ = book.Default()
	assert.Equal(t, "b", def.Name)
	assert.False(t, book[0].IsDefault)

	assert.Error(t, book.SetDefault(5))

	_, ok = Addresses{}.Default()
	assert.False(t, ok)
}

func TestSpecificationsRoundTripThroughScanner(t *testing.T) {
	specs := Specifications{{Name: "color", Value: "red"}, {Name: "size", Value: "L"}}
	raw, err := specs.Value()
	require.NoError(t, err)

	var out Specifications
	require.NoError(t, out.Scan(raw))
	assert.Equal(t, specs, out)
}

func TestOrderCloneIsDeep(t *testing.T) {
	o := &Order{Items: []OrderItem{{ProductID: 1, Quantity: 2, Price: decimal.NewFromInt(5),
		Specifications: Specifications{{Name: "size", Value: "M"}}}}}
	c := o.Clone()
	c.Items[0].Quantity = 9
	c.Items[0].Specifications[0].Value = "XL"

	assert.Equal(t, 2, o.Items[0].Quantity)
	assert.Equal(t, "M", o.Items[0].Specifications[0].Value)
	assert.True(t, o.Subtotal().Equal(decimal.NewFromInt(10)))
}
