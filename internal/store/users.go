package store

import (
	"context"

	"storefront/internal/errs"
	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

const userColumns = `id, openid, unionid, phone, nickname, avatar_url, role, addresses, created_at, updated_at`

// EnsureUser provisions a local profile for an identity on first use
func (s *Store) EnsureUser(ctx context.Context, id int64, role string) (*models.User, error) {
	_, err := s.exec(ctx, "ensure user",
		"INSERT INTO users (id, role) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING", id, role)
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := sqlx.GetContext(ctx, s.ext, &user, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
	if notFound(err) {
		return nil, errs.NotFound("user %d not found", id)
	}
	if err != nil {
		return nil, wrap("get user", err)
	}
	return &user, nil
}

// UpdateProfile updates the self-service profile fields
func (s *Store) UpdateProfile(ctx context.Context, u *models.User) error {
	n, err := s.exec(ctx, "update profile",
		"UPDATE users SET nickname = $1, avatar_url = $2, phone = $3, updated_at = NOW() WHERE id = $4",
		u.Nickname, u.AvatarURL, u.Phone, u.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.NotFound("user %d not found", u.ID)
	}
	return nil
}

// UpdateAddresses replaces the address book
func (s *Store) UpdateAddresses(ctx context.Context, userID int64, addrs models.Addresses) error {
	n, err := s.exec(ctx, "update addresses",
		"UPDATE users SET addresses = $1, updated_at = NOW() WHERE id = $2", addrs, userID)
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.NotFound("user %d not found", userID)
	}
	return nil
}

// UpdateUserRole changes a user's role
func (s *Store) UpdateUserRole(ctx context.Context, userID int64, role string) error {
	n, err := s.exec(ctx, "update user role",
		"UPDATE users SET role = $1, updated_at = NOW() WHERE id = $2", role, userID)
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.NotFound("user %d not found", userID)
	}
	return nil
}

// ListUsers pages through accounts, newest first
func (s *Store) ListUsers(ctx context.Context, f UserFilter) ([]models.User, error) {
	var args []any
	query := "SELECT " + userColumns + " FROM users"
	if f.Role != "" {
		args = append(args, f.Role)
		query += " WHERE role = $1"
	}
	query += " ORDER BY id DESC" + pageClause(&args, f.Limit, f.Offset)

	users := []models.User{}
	if err := sqlx.SelectContext(ctx, s.ext, &users, query, args...); err != nil {
		return nil, wrap("list users", err)
	}
	return users, nil
}
