package service

import (
	"context"
	"time"

	"storefront/internal/errs"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// UserService handles profiles, address books, coupon wallets and roles
type UserService struct {
	store   store.Repository
	coupons *CouponLedger
	clock   func() time.Time
	logger  *zap.Logger
}

func NewUserService(repo store.Repository, coupons *CouponLedger, clock func() time.Time) *UserService {
	if clock == nil {
		clock = time.Now
	}
	return &UserService{
		store:   repo,
		coupons: coupons,
		clock:   clock,
		logger:  util.GetLogger(),
	}
}

// Profile returns the caller's profile, provisioning it on first use
func (us *UserService) Profile(ctx context.Context, actor Actor) (*models.User, error) {
	return us.store.EnsureUser(ctx, actor.UserID, models.RoleUser)
}

// ProfileUpdate carries the self-service profile fields
type ProfileUpdate struct {
	Nickname  string  `json:"nickname"`
	AvatarURL string  `json:"avatar_url"`
	Phone     *string `json:"phone"`
}

// UpdateProfile updates nickname, avatar and phone
func (us *UserService) UpdateProfile(ctx context.Context, actor Actor, upd ProfileUpdate) (*models.User, error) {
	user, err := us.Profile(ctx, actor)
	if err != nil {
		return nil, err
	}
	user.Nickname = upd.Nickname
	user.AvatarURL = upd.AvatarURL
	user.Phone = upd.Phone
	if err := us.store.UpdateProfile(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// AddAddress appends to the address book. The first address, or one flagged
// default, becomes the only default.
func (us *UserService) AddAddress(ctx context.Context, actor Actor, addr models.Address) (models.Addresses, error) {
	user, err := us.Profile(ctx, actor)
	if err != nil {
		return nil, err
	}

	book := append(models.Addresses{}, user.Addresses...)
	makeDefault := addr.IsDefault || len(book) == 0
	addr.IsDefault = false
	book = append(book, addr)
	if makeDefault {
		if err := book.SetDefault(len(book) - 1); err != nil {
			return nil, err
		}
	}

	if err := us.store.UpdateAddresses(ctx, user.ID, book); err != nil {
		return nil, err
	}
	return book, nil
}

// SetDefaultAddress flags the address at idx as default
func (us *UserService) SetDefaultAddress(ctx context.Context, actor Actor, idx int) (models.Addresses, error) {
	user, err := us.Profile(ctx, actor)
	if err != nil {
		return nil, err
	}
	book := user.Addresses
	if err := book.SetDefault(idx); err != nil {
		return nil, errs.InvalidInput("%v", err)
	}
	if err := us.store.UpdateAddresses(ctx, user.ID, book); err != nil {
		return nil, err
	}
	return book, nil
}

// Coupons lists the caller's coupon wallet
func (us *UserService) Coupons(ctx context.Context, actor Actor, status string) ([]models.UserCoupon, error) {
	switch status {
	case "", models.UserCouponUnused, models.UserCouponUsed, models.UserCouponExpired:
	default:
		return nil, errs.InvalidInput("unknown coupon status %q", status)
	}
	return us.store.ListUserCoupons(ctx, actor.UserID, status)
}

// ClaimCoupon adds an instance of a coupon to the caller's wallet
func (us *UserService) ClaimCoupon(ctx context.Context, actor Actor, couponID int64) (*models.UserCoupon, error) {
	if _, err := us.Profile(ctx, actor); err != nil {
		return nil, err
	}
	return us.coupons.Claim(ctx, us.store, actor.UserID, couponID, us.clock())
}

// ListUsers pages through accounts for the admin console
func (us *UserService) ListUsers(ctx context.Context, actor Actor, f store.UserFilter) ([]models.User, error) {
	if actor.Role != models.RoleAdmin && actor.Role != models.RoleSuperAdmin {
		return nil, errs.PermissionDenied("only admins may list users")
	}
	if f.Role != "" && !models.ValidUserRole(f.Role) {
		return nil, errs.InvalidInput("unknown role %q", f.Role)
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	return us.store.ListUsers(ctx, f)
}

// SetRole changes a user's role. Only a superadmin may do this, and not on themselves.
func (us *UserService) SetRole(ctx context.Context, actor Actor, userID int64, role string) (*models.User, error) {
	if actor.Role != models.RoleSuperAdmin {
		return nil, errs.PermissionDenied("only a superadmin may change roles")
	}
	if !models.ValidUserRole(role) {
		return nil, errs.InvalidInput("unknown role %q", role)
	}
	if actor.UserID == userID {
		return nil, errs.PermissionDenied("superadmins cannot change their own role")
	}

	if err := us.store.UpdateUserRole(ctx, userID, role); err != nil {
		return nil, err
	}
	us.logger.Info("User role changed",
		zap.Int64("user_id", userID),
		zap.String("role", role),
		zap.Int64("changed_by", actor.UserID))
	return us.store.GetUser(ctx, userID)
}
