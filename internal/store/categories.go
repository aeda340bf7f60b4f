package store

import (
	"context"

	"storefront/internal/errs"
	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const categoryColumns = `id, name, parent_id, level, is_active, sort_order, icon, image, created_at, updated_at`

// GetCategory retrieves a category by ID
func (s *Store) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	var c models.Category
	err := sqlx.GetContext(ctx, s.ext, &c, "SELECT "+categoryColumns+" FROM categories WHERE id = $1", id)
	if notFound(err) {
		return nil, errs.NotFound("category %d not found", id)
	}
	if err != nil {
		return nil, wrap("get category", err)
	}
	return &c, nil
}

// GetCategoriesByIDs returns the categories that exist among ids
func (s *Store) GetCategoriesByIDs(ctx context.Context, ids []int64) ([]models.Category, error) {
	categories := []models.Category{}
	if len(ids) == 0 {
		return categories, nil
	}
	err := sqlx.SelectContext(ctx, s.ext, &categories,
		"SELECT "+categoryColumns+" FROM categories WHERE id = ANY($1) ORDER BY id", pq.Array(ids))
	if err != nil {
		return nil, wrap("get categories", err)
	}
	return categories, nil
}

// ListCategories returns the tree flattened level by level, in display order
func (s *Store) ListCategories(ctx context.Context, activeOnly bool) ([]models.Category, error) {
	query := "SELECT " + categoryColumns + " FROM categories"
	if activeOnly {
		query += " WHERE is_active"
	}
	query += " ORDER BY level, sort_order, id"

	categories := []models.Category{}
	if err := sqlx.SelectContext(ctx, s.ext, &categories, query); err != nil {
		return nil, wrap("list categories", err)
	}
	return categories, nil
}

// CountChildCategories counts direct children of a category
func (s *Store) CountChildCategories(ctx context.Context, id int64) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, s.ext, &n, "SELECT COUNT(*) FROM categories WHERE parent_id = $1", id)
	return n, wrap("count child categories", err)
}

// CreateCategory inserts a category
func (s *Store) CreateCategory(ctx context.Context, c *models.Category) error {
	err := sqlx.GetContext(ctx, s.ext, c, `
		INSERT INTO categories (name, parent_id, level, is_active, sort_order, icon, image)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		c.Name, c.ParentID, c.Level, c.IsActive, c.SortOrder, c.Icon, c.Image)
	if _, ok := isForeignKeyViolation(err); ok {
		return errs.InvalidInput("parent category %d does not exist", derefID(c.ParentID))
	}
	return wrap("create category", err)
}

// UpdateCategory rewrites every field of a category
func (s *Store) UpdateCategory(ctx context.Context, c *models.Category) error {
	err := sqlx.GetContext(ctx, s.ext, c, `
		UPDATE categories SET name = $1, parent_id = $2, level = $3, is_active = $4, sort_order = $5,
			icon = $6, image = $7, updated_at = NOW()
		WHERE id = $8
		RETURNING created_at, updated_at`,
		c.Name, c.ParentID, c.Level, c.IsActive, c.SortOrder, c.Icon, c.Image, c.ID)
	if notFound(err) {
		return errs.NotFound("category %d not found", c.ID)
	}
	if _, ok := isForeignKeyViolation(err); ok {
		return errs.InvalidInput("parent category %d does not exist", derefID(c.ParentID))
	}
	return wrap("update category", err)
}

func derefID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
