package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Specification is a name/value pair shown on a product and copied onto order lines
type Specification struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Specifications is stored as a JSONB array
type Specifications []Specification

// Value implements driver.Valuer
func (s Specifications) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner
func (s *Specifications) Scan(src any) error {
	return scanJSON(src, s)
}

// Product represents a product in the catalog
type Product struct {
	ID                  int64               `db:"id" json:"id"`
	Name                string              `db:"name" json:"name"`
	CategoryID          *int64              `db:"category_id" json:"category_id,omitempty"`
	Barcode             string              `db:"barcode" json:"barcode,omitempty"`
	Description         string              `db:"description" json:"description,omitempty"`
	Images              pq.StringArray      `db:"images" json:"images"`
	Price               decimal.Decimal     `db:"price" json:"price"`
	PurchasePrice       decimal.Decimal     `db:"purchase_price" json:"purchase_price"`
	MemberPrice         decimal.Decimal     `db:"member_price" json:"member_price"`
	Stock               int                 `db:"stock" json:"stock"`
	StockAlertThreshold int                 `db:"stock_alert_threshold" json:"stock_alert_threshold"`
	IsHot               bool                `db:"is_hot" json:"is_hot"`
	PromotionPrice      decimal.NullDecimal `db:"promotion_price" json:"promotion_price"`
	PromotionStart      *time.Time          `db:"promotion_start" json:"promotion_start,omitempty"`
	PromotionEnd        *time.Time          `db:"promotion_end" json:"promotion_end,omitempty"`
	Specifications      Specifications      `db:"specifications" json:"specifications"`
	CreatedAt           time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time           `db:"updated_at" json:"updated_at"`
}

// OnPromotion reports whether the promotion window covers now
func (p *Product) OnPromotion(now time.Time) bool {
	if !p.PromotionPrice.Valid || p.PromotionStart == nil || p.PromotionEnd == nil {
		return false
	}
	return !now.Before(*p.PromotionStart) && !now.After(*p.PromotionEnd)
}

// EffectivePrice is the unit price a checkout at now would snapshot
func (p *Product) EffectivePrice(now time.Time) decimal.Decimal {
	if p.OnPromotion(now) {
		return p.PromotionPrice.Decimal
	}
	return p.Price
}

// LowStock reports whether the product is at or below its alert threshold
func (p *Product) LowStock() bool {
	return p.Stock <= p.StockAlertThreshold
}

// CouponType enumerates discount kinds
type CouponType string

const (
	CouponTypeDiscount     CouponType = "discount"
	CouponTypeFixed        CouponType = "fixed"
	CouponTypeFreeShipping CouponType = "free_shipping"
)

// IsValid checks if the type is known
func (t CouponType) IsValid() bool {
	switch t {
	case CouponTypeDiscount, CouponTypeFixed, CouponTypeFreeShipping:
		return true
	}
	return false
}

// Coupon is a redeemable discount definition.
// DiscountRate is percent off (10 means 10% off the pre-discount total).
// MaxPerUser of 0 means no per-user limit.
type Coupon struct {
	ID                   int64           `db:"id" json:"id"`
	Name                 string          `db:"name" json:"name"`
	Type                 CouponType      `db:"type" json:"type"`
	DiscountRate         decimal.Decimal `db:"discount_rate" json:"discount_rate"`
	DiscountAmount       decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	MinOrderAmount       decimal.Decimal `db:"min_order_amount" json:"min_order_amount"`
	StartDate            time.Time       `db:"start_date" json:"start_date"`
	EndDate              time.Time       `db:"end_date" json:"end_date"`
	TotalCount           int             `db:"total_count" json:"total_count"`
	UsedCount            int             `db:"used_count" json:"used_count"`
	MaxPerUser           int             `db:"max_per_user" json:"max_per_user"`
	IsActive             bool            `db:"is_active" json:"is_active"`
	ApplicableProducts   pq.Int64Array   `db:"applicable_products" json:"applicable_products"`
	ApplicableCategories pq.Int64Array   `db:"applicable_categories" json:"applicable_categories"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`
}

// Usable reports whether the coupon is active and now is inside its validity window
func (c *Coupon) Usable(now time.Time) bool {
	return c.IsActive && !now.Before(c.StartDate) && !now.After(c.EndDate)
}

// Restricted reports whether the coupon only applies to a subset of the catalog
func (c *Coupon) Restricted() bool {
	return len(c.ApplicableProducts) > 0 || len(c.ApplicableCategories) > 0
}

// AppliesTo reports whether the coupon scope covers the given product
func (c *Coupon) AppliesTo(productID int64, categoryID *int64) bool {
	if !c.Restricted() {
		return true
	}
	for _, id := range c.ApplicableProducts {
		if id == productID {
			return true
		}
	}
	if categoryID != nil {
		for _, id := range c.ApplicableCategories {
			if id == *categoryID {
				return true
			}
		}
	}
	return false
}

// User coupon statuses
const (
	UserCouponUnused  = "unused"
	UserCouponUsed    = "used"
	UserCouponExpired = "expired"
)

// UserCoupon is a coupon instance held by a user
type UserCoupon struct {
	ID         int64      `db:"id" json:"id"`
	UserID     int64      `db:"user_id" json:"user_id"`
	CouponID   int64      `db:"coupon_id" json:"coupon_id"`
	Status     string     `db:"status" json:"status"`
	OrderID    *int64     `db:"order_id" json:"order_id,omitempty"`
	ObtainTime time.Time  `db:"obtain_time" json:"obtain_time"`
	ExpireTime time.Time  `db:"expire_time" json:"expire_time"`
	UsedTime   *time.Time `db:"used_time" json:"used_time,omitempty"`
}

// Roles
const (
	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
	// RoleSystem is used for transitions driven by external events and background jobs.
	RoleSystem = "system"
)

// IsStaff reports whether the role may perform administrative actions
func IsStaff(role string) bool {
	return role == RoleAdmin || role == RoleSuperAdmin
}

// ValidUserRole reports whether role may be stored on a user record
func ValidUserRole(role string) bool {
	return role == RoleUser || role == RoleAdmin || role == RoleSuperAdmin
}

// User represents a storefront account
type User struct {
	ID        int64     `db:"id" json:"id"`
	OpenID    *string   `db:"openid" json:"openid,omitempty"`
	UnionID   string    `db:"unionid" json:"unionid,omitempty"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	Nickname  string    `db:"nickname" json:"nickname"`
	AvatarURL string    `db:"avatar_url" json:"avatar_url"`
	Role      string    `db:"role" json:"role"`
	Addresses Addresses `db:"addresses" json:"addresses"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Address is a shipping address; it is copied onto orders as a snapshot
type Address struct {
	Name      string `json:"name" binding:"required"`
	Phone     string `json:"phone" binding:"required"`
	Province  string `json:"province"`
	City      string `json:"city"`
	District  string `json:"district"`
	Detail    string `json:"detail" binding:"required"`
	IsDefault bool   `json:"is_default,omitempty"`
}

// Value implements driver.Valuer
func (a Address) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner
func (a *Address) Scan(src any) error {
	return scanJSON(src, a)
}

// Addresses is an address book stored as a JSONB array
type Addresses []Address

// Value implements driver.Valuer
func (a Addresses) Value() (driver.Value, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner
func (a *Addresses) Scan(src any) error {
	return scanJSON(src, a)
}

// Default returns the default address, or the first one when none is flagged
func (a Addresses) Default() (Address, bool) {
	for _, addr := range a {
		if addr.IsDefault {
			return addr, true
		}
	}
	if len(a) > 0 {
		return a[0], true
	}
	return Address{}, false
}

// SetDefault flags exactly one address as default
func (a Addresses) SetDefault(idx int) error {
	if idx < 0 || idx >= len(a) {
		return fmt.Errorf("address index %d out of range", idx)
	}
	for i := range a {
		a[i].IsDefault = i == idx
	}
	return nil
}

// Payment records an external payment confirmation
type Payment struct {
	ID           int64           `db:"id" json:"id"`
	OrderID      int64           `db:"order_id" json:"order_id"`
	Status       string          `db:"status" json:"status"`
	Method       string          `db:"method" json:"method"`
	ProviderTxID string          `db:"provider_tx_id" json:"provider_tx_id,omitempty"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// Payment statuses
const (
	PaymentStatusSuccess = "SUCCESS"
	PaymentStatusRefund  = "REFUNDED"
)

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

func scanJSON(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
}
