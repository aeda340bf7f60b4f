package service

import (
	"context"
	"errors"
	"time"

	"storefront/internal/errs"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// CouponStore is the slice of storage the redemption primitive needs
type CouponStore interface {
	GetCoupon(ctx context.Context, id int64) (*models.Coupon, error)
	IncrementCouponUsage(ctx context.Context, couponID int64) error
	DecrementCouponUsage(ctx context.Context, couponID int64) error
	LockUserCoupons(ctx context.Context, userID, couponID int64) ([]models.UserCoupon, error)
	MarkUserCouponUsed(ctx context.Context, userCouponID int64, usedAt time.Time) error
	ReleaseUserCoupon(ctx context.Context, userCouponID int64) error
}

// OrderLine is the part of a line item coupon scope is checked against
type OrderLine struct {
	ProductID  int64
	CategoryID *int64
}

// OrderContext describes the checkout a coupon is applied to. Subtotal is
// the goods total; the shipping fee never counts toward minimums or rates.
type OrderContext struct {
	Subtotal    decimal.Decimal
	ShippingFee decimal.Decimal
	Lines       []OrderLine
	Now         time.Time
}

// Redemption is the outcome of a successful Redeem
type Redemption struct {
	CouponID     int64
	UserCouponID int64
	Discount     decimal.Decimal
}

// CouponLedger is the single path through which coupon usage changes
type CouponLedger struct {
	logger *zap.Logger
}

func NewCouponLedger(logger *zap.Logger) *CouponLedger {
	if logger == nil {
		logger = util.GetLogger()
	}
	return &CouponLedger{logger: logger}
}

// Redeem validates the coupon for this checkout and consumes one use of it
// plus one of the user's unused instances.
func (l *CouponLedger) Redeem(ctx context.Context, tx CouponStore, couponID, userID int64, oc OrderContext) (*Redemption, error) {
	ctx, span := util.StartSpan(ctx, "CouponLedger.Redeem")
	defer span.End()

	red, err := l.redeem(ctx, tx, couponID, userID, oc)
	if err != nil {
		reason := string(errs.KindOf(err))
		var e *errs.Error
		if errors.As(err, &e) && e.Reason != "" {
			reason = string(e.Reason)
		}
		util.CouponRejectionsTotal.WithLabelValues(reason).Inc()
		return nil, err
	}
	util.CouponRedemptionsTotal.Inc()
	return red, nil
}

func (l *CouponLedger) redeem(ctx context.Context, tx CouponStore, couponID, userID int64, oc OrderContext) (*Redemption, error) {
	c, err := tx.GetCoupon(ctx, couponID)
	if err != nil {
		return nil, err
	}

	if !c.Usable(oc.Now) {
		return nil, errs.CouponInvalid(errs.CouponExpired, "coupon %d is not active", c.ID)
	}
	if oc.Subtotal.LessThan(c.MinOrderAmount) {
		return nil, errs.CouponInvalid(errs.CouponBelowMinimum,
			"goods total %s is below the coupon minimum %s", oc.Subtotal.StringFixed(2), c.MinOrderAmount.StringFixed(2))
	}
	if c.UsedCount >= c.TotalCount {
		return nil, errs.CouponInvalid(errs.CouponExhausted, "coupon %d has no remaining uses", c.ID)
	}

	instances, err := tx.LockUserCoupons(ctx, userID, c.ID)
	if err != nil {
		return nil, err
	}
	var (
		used      int
		available *models.UserCoupon
	)
	for i := range instances {
		inst := &instances[i]
		switch {
		case inst.Status == models.UserCouponUsed:
			used++
		case inst.Status == models.UserCouponUnused && inst.ExpireTime.After(oc.Now) && available == nil:
			available = inst
		}
	}
	if c.MaxPerUser > 0 && used >= c.MaxPerUser {
		return nil, errs.CouponInvalid(errs.CouponLimitReached,
			"user %d already redeemed coupon %d %d time(s)", userID, c.ID, used)
	}

	if !inScope(c, oc.Lines) {
		return nil, errs.CouponInvalid(errs.CouponScopeMismatch, "coupon %d does not apply to any ordered product", c.ID)
	}
	if available == nil {
		return nil, errs.CouponInvalid(errs.CouponNotOwned, "user %d holds no usable instance of coupon %d", userID, c.ID)
	}

	// The conditional increment is the authority on exhaustion; the check above only fails fast.
	if err := tx.IncrementCouponUsage(ctx, c.ID); err != nil {
		return nil, err
	}
	if err := tx.MarkUserCouponUsed(ctx, available.ID, oc.Now); err != nil {
		return nil, err
	}

	return &Redemption{
		CouponID:     c.ID,
		UserCouponID: available.ID,
		Discount:     Discount(c, oc.Subtotal, oc.ShippingFee),
	}, nil
}

// Rollback undoes the redemption recorded on an order
func (l *CouponLedger) Rollback(ctx context.Context, tx CouponStore, order *models.Order) error {
	if order.CouponID == nil {
		return nil
	}
	ctx, span := util.StartSpan(ctx, "CouponLedger.Rollback")
	defer span.End()

	if err := tx.DecrementCouponUsage(ctx, *order.CouponID); err != nil {
		return err
	}
	if order.UserCouponID != nil {
		if err := tx.ReleaseUserCoupon(ctx, *order.UserCouponID); err != nil {
			return err
		}
	}

	l.logger.Info("Coupon redemption rolled back",
		zap.Int64("order_id", order.ID),
		zap.Int64("coupon_id", *order.CouponID))
	return nil
}

// Claim puts an instance of the coupon into the user's wallet, respecting MaxPerUser
func (l *CouponLedger) Claim(ctx context.Context, repo store.Repository, userID, couponID int64, now time.Time) (*models.UserCoupon, error) {
	ctx, span := util.StartSpan(ctx, "CouponLedger.Claim")
	defer span.End()

	var claimed *models.UserCoupon
	err := repo.InTx(ctx, func(tx store.Repository) error {
		c, err := tx.GetCoupon(ctx, couponID)
		if err != nil {
			return err
		}
		if !c.Usable(now) {
			return errs.CouponInvalid(errs.CouponExpired, "coupon %d is not active", c.ID)
		}
		if c.UsedCount >= c.TotalCount {
			return errs.CouponInvalid(errs.CouponExhausted, "coupon %d has no remaining uses", c.ID)
		}

		held, err := tx.LockUserCoupons(ctx, userID, c.ID)
		if err != nil {
			return err
		}
		if c.MaxPerUser > 0 && len(held) >= c.MaxPerUser {
			return errs.CouponInvalid(errs.CouponLimitReached, "user %d already holds coupon %d", userID, c.ID)
		}

		claimed = &models.UserCoupon{
			UserID:     userID,
			CouponID:   c.ID,
			Status:     models.UserCouponUnused,
			ObtainTime: now,
			ExpireTime: c.EndDate,
		}
		return tx.ClaimCoupon(ctx, claimed)
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Discount computes what a coupon takes off an order. Percentage and fixed
// coupons apply to the goods subtotal and never exceed it; free shipping
// cancels the fee and nothing else.
func Discount(c *models.Coupon, subtotal, shippingFee decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch c.Type {
	case models.CouponTypeDiscount:
		d = decimal.Min(subtotal.Mul(c.DiscountRate).Div(hundred).Round(2), subtotal)
	case models.CouponTypeFixed:
		d = decimal.Min(c.DiscountAmount, subtotal)
	case models.CouponTypeFreeShipping:
		d = shippingFee
	}
	if d.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(d, subtotal.Add(shippingFee))
}

func inScope(c *models.Coupon, lines []OrderLine) bool {
	if !c.Restricted() {
		return true
	}
	for _, line := range lines {
		if c.AppliesTo(line.ProductID, line.CategoryID) {
			return true
		}
	}
	return false
}
