package store

import (
	"context"
	"time"

	"storefront/internal/errs"
	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

const couponColumns = `id, name, type, discount_rate, discount_amount, min_order_amount, start_date, end_date,
	total_count, used_count, max_per_user, is_active, applicable_products, applicable_categories,
	created_at, updated_at`

const userCouponColumns = `id, user_id, coupon_id, status, order_id, obtain_time, expire_time, used_time`

// CreateCoupon inserts a coupon definition
func (s *Store) CreateCoupon(ctx context.Context, c *models.Coupon) error {
	query := `
		INSERT INTO coupons (name, type, discount_rate, discount_amount, min_order_amount, start_date, end_date,
			total_count, used_count, max_per_user, is_active, applicable_products, applicable_categories)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10, $11, $12)
		RETURNING id, used_count, created_at, updated_at`

	err := sqlx.GetContext(ctx, s.ext, c, query,
		c.Name, c.Type, c.DiscountRate, c.DiscountAmount, c.MinOrderAmount, c.StartDate, c.EndDate,
		c.TotalCount, c.MaxPerUser, c.IsActive, c.ApplicableProducts, c.ApplicableCategories)
	return wrap("create coupon", err)
}

// GetCoupon retrieves a coupon by ID
func (s *Store) GetCoupon(ctx context.Context, id int64) (*models.Coupon, error) {
	var coupon models.Coupon
	err := sqlx.GetContext(ctx, s.ext, &coupon, "SELECT "+couponColumns+" FROM coupons WHERE id = $1", id)
	if notFound(err) {
		return nil, errs.NotFound("coupon %d not found", id)
	}
	if err != nil {
		return nil, wrap("get coupon", err)
	}
	return &coupon, nil
}

// ListCoupons lists coupon definitions
func (s *Store) ListCoupons(ctx context.Context, activeOnly bool) ([]models.Coupon, error) {
	query := "SELECT " + couponColumns + " FROM coupons"
	if activeOnly {
		query += " WHERE is_active"
	}
	query += " ORDER BY id"

	coupons := []models.Coupon{}
	if err := sqlx.SelectContext(ctx, s.ext, &coupons, query); err != nil {
		return nil, wrap("list coupons", err)
	}
	return coupons, nil
}

// IncrementCouponUsage consumes one use if any remain
func (s *Store) IncrementCouponUsage(ctx context.Context, couponID int64) error {
	n, err := s.exec(ctx, "increment coupon usage",
		"UPDATE coupons SET used_count = used_count + 1, updated_at = NOW() WHERE id = $1 AND used_count < total_count",
		couponID)
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.CouponInvalid(errs.CouponExhausted, "coupon %d has no remaining uses", couponID)
	}
	return nil
}

// DecrementCouponUsage gives one use back. It never drives used_count below zero.
func (s *Store) DecrementCouponUsage(ctx context.Context, couponID int64) error {
	_, err := s.exec(ctx, "decrement coupon usage",
		"UPDATE coupons SET used_count = used_count - 1, updated_at = NOW() WHERE id = $1 AND used_count > 0",
		couponID)
	return err
}

// LockUserCoupons returns the user's instances of a coupon, row-locked until the transaction ends
func (s *Store) LockUserCoupons(ctx context.Context, userID, couponID int64) ([]models.UserCoupon, error) {
	instances := []models.UserCoupon{}
	err := sqlx.SelectContext(ctx, s.ext, &instances,
		"SELECT "+userCouponColumns+" FROM user_coupons WHERE user_id = $1 AND coupon_id = $2 ORDER BY id FOR UPDATE",
		userID, couponID)
	if err != nil {
		return nil, wrap("lock user coupons", err)
	}
	return instances, nil
}

// ClaimCoupon puts a coupon instance into the user's wallet
func (s *Store) ClaimCoupon(ctx context.Context, uc *models.UserCoupon) error {
	err := sqlx.GetContext(ctx, s.ext, &uc.ID, `
		INSERT INTO user_coupons (user_id, coupon_id, status, obtain_time, expire_time)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		uc.UserID, uc.CouponID, uc.Status, uc.ObtainTime, uc.ExpireTime)
	return wrap("claim coupon", err)
}

// MarkUserCouponUsed flips an unused instance to used
func (s *Store) MarkUserCouponUsed(ctx context.Context, userCouponID int64, usedAt time.Time) error {
	n, err := s.exec(ctx, "mark user coupon used",
		"UPDATE user_coupons SET status = $1, used_time = $2 WHERE id = $3 AND status = $4",
		models.UserCouponUsed, usedAt, userCouponID, models.UserCouponUnused)
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.CouponInvalid(errs.CouponNotOwned, "coupon instance %d is not available", userCouponID)
	}
	return nil
}

// AttachUserCouponOrder records which order consumed the instance
func (s *Store) AttachUserCouponOrder(ctx context.Context, userCouponID, orderID int64) error {
	_, err := s.exec(ctx, "attach user coupon order",
		"UPDATE user_coupons SET order_id = $1 WHERE id = $2", orderID, userCouponID)
	return err
}

// ReleaseUserCoupon reverts a used instance back to unused
func (s *Store) ReleaseUserCoupon(ctx context.Context, userCouponID int64) error {
	_, err := s.exec(ctx, "release user coupon",
		"UPDATE user_coupons SET status = $1, order_id = NULL, used_time = NULL WHERE id = $2 AND status = $3",
		models.UserCouponUnused, userCouponID, models.UserCouponUsed)
	return err
}

// ListUserCoupons lists a user's wallet, optionally filtered by status
func (s *Store) ListUserCoupons(ctx context.Context, userID int64, status string) ([]models.UserCoupon, error) {
	query := "SELECT " + userCouponColumns + " FROM user_coupons WHERE user_id = $1"
	args := []any{userID}
	if status != "" {
		query += " AND status = $2"
		args = append(args, status)
	}
	query += " ORDER BY obtain_time DESC, id DESC"

	instances := []models.UserCoupon{}
	if err := sqlx.SelectContext(ctx, s.ext, &instances, query, args...); err != nil {
		return nil, wrap("list user coupons", err)
	}
	return instances, nil
}

// ExpireUserCoupons marks unused instances past their expiry and returns how many changed
func (s *Store) ExpireUserCoupons(ctx context.Context, now time.Time) (int64, error) {
	return s.exec(ctx, "expire user coupons",
		"UPDATE user_coupons SET status = $1 WHERE status = $2 AND expire_time < $3",
		models.UserCouponExpired, models.UserCouponUnused, now)
}
