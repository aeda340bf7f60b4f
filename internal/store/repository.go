package store

import (
	"context"
	"time"

	"storefront/internal/models"
)

// ProductFilter narrows catalog listings
type ProductFilter struct {
	CategoryID *int64
	Keyword    string
	HotOnly    bool
	Limit      int
	Offset     int
}

// OrderFilter narrows order listings
type OrderFilter struct {
	UserID *int64
	Status models.OrderStatus
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// UserFilter narrows the admin user listing
type UserFilter struct {
	Role   string
	Limit  int
	Offset int
}

// Repository is the storage contract used by the service layer.
// Stock and coupon counters are only changed through the conditional
// Decrement/Increment methods, never by writing a value read earlier.
type Repository interface {
	// InTx runs fn inside one transaction. fn receives a Repository bound to
	// the transaction; any error returned rolls everything back.
	InTx(ctx context.Context, fn func(tx Repository) error) error

	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	ListProducts(ctx context.Context, f ProductFilter) ([]models.Product, error)
	ListLowStock(ctx context.Context, limit int) ([]models.Product, error)
	CreateProduct(ctx context.Context, p *models.Product) error
	UpdateProduct(ctx context.Context, p *models.Product) error
	DecrementStock(ctx context.Context, productID int64, qty int) (int, error)
	IncrementStock(ctx context.Context, productID int64, qty int) (int, error)

	GetCategory(ctx context.Context, id int64) (*models.Category, error)
	GetCategoriesByIDs(ctx context.Context, ids []int64) ([]models.Category, error)
	ListCategories(ctx context.Context, activeOnly bool) ([]models.Category, error)
	CountChildCategories(ctx context.Context, id int64) (int, error)
	CreateCategory(ctx context.Context, c *models.Category) error
	UpdateCategory(ctx context.Context, c *models.Category) error

	CreateCoupon(ctx context.Context, c *models.Coupon) error
	GetCoupon(ctx context.Context, id int64) (*models.Coupon, error)
	ListCoupons(ctx context.Context, activeOnly bool) ([]models.Coupon, error)
	IncrementCouponUsage(ctx context.Context, couponID int64) error
	DecrementCouponUsage(ctx context.Context, couponID int64) error
	LockUserCoupons(ctx context.Context, userID, couponID int64) ([]models.UserCoupon, error)
	ClaimCoupon(ctx context.Context, uc *models.UserCoupon) error
	MarkUserCouponUsed(ctx context.Context, userCouponID int64, usedAt time.Time) error
	AttachUserCouponOrder(ctx context.Context, userCouponID, orderID int64) error
	ReleaseUserCoupon(ctx context.Context, userCouponID int64) error
	ListUserCoupons(ctx context.Context, userID int64, status string) ([]models.UserCoupon, error)
	ExpireUserCoupons(ctx context.Context, now time.Time) (int64, error)

	InsertOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, error)
	UpdateOrder(ctx context.Context, o *models.Order, expectedVersion int) error
	ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	ListCompletedBetween(ctx context.Context, start, end time.Time) ([]models.Order, error)

	EnsureUser(ctx context.Context, id int64, role string) (*models.User, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	UpdateProfile(ctx context.Context, u *models.User) error
	UpdateAddresses(ctx context.Context, userID int64, addrs models.Addresses) error
	UpdateUserRole(ctx context.Context, userID int64, role string) error
	ListUsers(ctx context.Context, f UserFilter) ([]models.User, error)

	CreatePayment(ctx context.Context, p *models.Payment) error
	ListPayments(ctx context.Context, orderID int64) ([]models.Payment, error)

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error)
}

var _ Repository = (*Store)(nil)
