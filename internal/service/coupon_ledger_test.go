package service

import (
	"testing"
	"time"

	"storefront/internal/errs"
	"storefront/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDiscount(t *testing.T) {
	d := decimal.RequireFromString
	cases := []struct {
		name   string
		coupon models.Coupon
		goods  string
		fee    string
		want   string
	}{
		{"percentage", models.Coupon{Type: models.CouponTypeDiscount, DiscountRate: d("10")}, "50", "0", "5"},
		{"percentage rounds", models.Coupon{Type: models.CouponTypeDiscount, DiscountRate: d("15")}, "33.33", "0", "5"},
		{"fixed", models.Coupon{Type: models.CouponTypeFixed, DiscountAmount: d("7.5")}, "50", "0", "7.5"},
		{"percentage ignores shipping", models.Coupon{Type: models.CouponTypeDiscount, DiscountRate: d("10")}, "50", "10", "5"},
		{"fixed capped at goods", models.Coupon{Type: models.CouponTypeFixed, DiscountAmount: d("80")}, "50", "10", "50"},
		{"free shipping", models.Coupon{Type: models.CouponTypeFreeShipping}, "50", "8", "8"},
		{"free shipping without fee", models.Coupon{Type: models.CouponTypeFreeShipping}, "50", "0", "0"},
		{"unknown type", models.Coupon{Type: "mystery"}, "50", "0", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Discount(&tc.coupon, d(tc.goods), d(tc.fee))
			assertAmount(t, tc.want, got)
		})
	}
}

func TestFreeShippingCouponCancelsFee(t *testing.T) {
	f := newFixtureWithFee(t, decimal.NewFromInt(8))
	p := f.product(t, "A", "25", 10)
	c := f.coupon(t, models.Coupon{Name: "ship", Type: models.CouponTypeFreeShipping})
	f.give(t, 7, c.ID)

	o, err := f.create(7, &c.ID, line(p.ID, 2))
	require.NoError(t, err)
	assertAmount(t, "58", o.TotalAmount)
	assertAmount(t, "8", o.DiscountAmount)
	assertAmount(t, "50", o.FinalAmount)
}

func TestShippingFeeStaysOutOfCouponMath(t *testing.T) {
	f := newFixtureWithFee(t, decimal.NewFromInt(10))
	p := f.product(t, "A", "25", 10)
	cheap := f.product(t, "B", "15", 10)
	c := f.coupon(t, models.Coupon{
		Name:           "10 off",
		Type:           models.CouponTypeDiscount,
		DiscountRate:   decimal.NewFromInt(10),
		MinOrderAmount: decimal.NewFromInt(20),
	})
	f.give(t, 7, c.ID)

	_, err := f.create(7, &c.ID, line(cheap.ID, 1))
	assertCouponReason(t, errs.CouponBelowMinimum, err)
	assert.Equal(t, 10, f.store.Stock(cheap.ID))
	assert.Zero(t, f.store.UsedCount(c.ID))

	o, err := f.create(7, &c.ID, line(p.ID, 2))
	require.NoError(t, err)
	assertAmount(t, "60", o.TotalAmount)
	assertAmount(t, "5", o.DiscountAmount)
	assertAmount(t, "55", o.FinalAmount)
}

func TestScopedCouponMatchesCategory(t *testing.T) {
	f := newFixture(t)
	drinks := &models.Category{Name: "Drinks", Level: 1, IsActive: true}
	require.NoError(t, f.store.CreateCategory(f.ctx, drinks))
	cat := drinks.ID
	p := &models.Product{Name: "Tea", Price: decimal.NewFromInt(30), Stock: 4, CategoryID: &cat}
	require.NoError(t, f.store.CreateProduct(f.ctx, p))
	c := f.coupon(t, models.Coupon{Name: "tea", Type: models.CouponTypeFixed, DiscountAmount: decimal.NewFromInt(3),
		ApplicableCategories: []int64{cat}})
	f.give(t, 7, c.ID)

	o, err := f.create(7, &c.ID, line(p.ID, 1))
	require.NoError(t, err)
	assertAmount(t, "27", o.FinalAmount)
}

func TestRedeemSkipsExpiredInstances(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "A", "25", 10)
	c := f.coupon(t, models.Coupon{Name: "x", Type: models.CouponTypeFixed, DiscountAmount: decimal.NewFromInt(1)})
	stale := &models.UserCoupon{UserID: 7, CouponID: c.ID, Status: models.UserCouponUnused,
		ObtainTime: testNow.Add(-48 * time.Hour), ExpireTime: testNow.Add(-time.Hour)}
	require.NoError(t, f.store.ClaimCoupon(f.ctx, stale))

	_, err := f.create(7, &c.ID, line(p.ID, 1))
	assertCouponReason(t, errs.CouponNotOwned, err)

	fresh := f.give(t, 7, c.ID)
	o, err := f.create(7, &c.ID, line(p.ID, 1))
	require.NoError(t, err)
	assert.Equal(t, fresh, *o.UserCouponID)
	assert.Equal(t, models.UserCouponUnused, f.store.UserCoupon(stale.ID).Status)
}

func TestRollbackIsNoopWithoutCoupon(t *testing.T) {
	f := newFixture(t)
	ledger := NewCouponLedger(zap.NewNop())
	assert.NoError(t, ledger.Rollback(f.ctx, f.store, &models.Order{ID: 1}))
}

func TestClaimRespectsPerUserLimit(t *testing.T) {
	f := newFixture(t)
	ledger := NewCouponLedger(zap.NewNop())
	c := f.coupon(t, models.Coupon{Name: "once", Type: models.CouponTypeFixed, DiscountAmount: decimal.NewFromInt(1), MaxPerUser: 1})

	uc, err := ledger.Claim(f.ctx, f.store, 7, c.ID, testNow)
	require.NoError(t, err)
	assert.Equal(t, models.UserCouponUnused, uc.Status)
	assert.Equal(t, c.EndDate, uc.ExpireTime)

	_, err = ledger.Claim(f.ctx, f.store, 7, c.ID, testNow)
	assertCouponReason(t, errs.CouponLimitReached, err)

	_, err = ledger.Claim(f.ctx, f.store, 8, c.ID, testNow)
	assert.NoError(t, err)
}

func TestClaimRejectsInactiveOrExhausted(t *testing.T) {
	f := newFixture(t)
	ledger := NewCouponLedger(zap.NewNop())

	late := f.coupon(t, models.Coupon{Name: "late", Type: models.CouponTypeFixed, DiscountAmount: decimal.NewFromInt(1)})
	_, err := ledger.Claim(f.ctx, f.store, 7, late.ID, late.EndDate.Add(time.Second))
	assertCouponReason(t, errs.CouponExpired, err)

	gone := f.coupon(t, models.Coupon{Name: "gone", Type: models.CouponTypeFixed, DiscountAmount: decimal.NewFromInt(1), TotalCount: 1})
	require.NoError(t, f.store.IncrementCouponUsage(f.ctx, gone.ID))
	_, err = ledger.Claim(f.ctx, f.store, 7, gone.ID, testNow)
	assertCouponReason(t, errs.CouponExhausted, err)

	_, err = ledger.Claim(f.ctx, f.store, 7, 4242, testNow)
	assertKind(t, errs.KindNotFound, err)
}
