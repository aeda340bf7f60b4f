package store

import (
	"context"
	"fmt"
	"strings"

	"storefront/internal/errs"
	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const productColumns = `id, name, category_id, barcode, description, images, price, purchase_price, member_price,
	stock, stock_alert_threshold, is_hot, promotion_price, promotion_start, promotion_end, specifications,
	created_at, updated_at`

// GetProduct retrieves a product by ID
func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := sqlx.GetContext(ctx, s.ext, &product,
		"SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if notFound(err) {
		return nil, errs.ProductNotFound(id)
	}
	if err != nil {
		return nil, wrap("get product", err)
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs. Missing IDs are simply absent from the result.
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	var products []models.Product
	err := sqlx.SelectContext(ctx, s.ext, &products,
		"SELECT "+productColumns+" FROM products WHERE id = ANY($1) ORDER BY id", pq.Array(ids))
	if err != nil {
		return nil, wrap("get products", err)
	}
	return products, nil
}

// ListProducts lists the catalog
func (s *Store) ListProducts(ctx context.Context, f ProductFilter) ([]models.Product, error) {
	var (
		where []string
		args  []any
	)
	if f.CategoryID != nil {
		args = append(args, *f.CategoryID)
		where = append(where, fmt.Sprintf("category_id = $%d", len(args)))
	}
	if f.Keyword != "" {
		args = append(args, "%"+f.Keyword+"%")
		where = append(where, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if f.HotOnly {
		where = append(where, "is_hot")
	}

	query := "SELECT " + productColumns + " FROM products"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id" + pageClause(&args, f.Limit, f.Offset)

	products := []models.Product{}
	if err := sqlx.SelectContext(ctx, s.ext, &products, query, args...); err != nil {
		return nil, wrap("list products", err)
	}
	return products, nil
}

// ListLowStock lists products at or below their alert threshold, lowest stock first
func (s *Store) ListLowStock(ctx context.Context, limit int) ([]models.Product, error) {
	products := []models.Product{}
	err := sqlx.SelectContext(ctx, s.ext, &products,
		"SELECT "+productColumns+" FROM products WHERE stock <= stock_alert_threshold ORDER BY stock, id LIMIT $1", limit)
	if err != nil {
		return nil, wrap("list low stock", err)
	}
	return products, nil
}

// CreateProduct inserts a product including its opening stock
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (name, category_id, barcode, description, images, price, purchase_price, member_price,
			stock, stock_alert_threshold, is_hot, promotion_price, promotion_start, promotion_end, specifications)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at`

	err := sqlx.GetContext(ctx, s.ext, p, query,
		p.Name, p.CategoryID, p.Barcode, p.Description, p.Images, p.Price, p.PurchasePrice, p.MemberPrice,
		p.Stock, p.StockAlertThreshold, p.IsHot, p.PromotionPrice, p.PromotionStart, p.PromotionEnd, p.Specifications)
	if _, ok := isForeignKeyViolation(err); ok {
		return errs.InvalidInput("category %d does not exist", derefID(p.CategoryID))
	}
	return wrap("create product", err)
}

// UpdateProduct updates catalog fields. Stock is deliberately not written here.
func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	query := `
		UPDATE products SET name = $1, category_id = $2, barcode = $3, description = $4, images = $5,
			price = $6, purchase_price = $7, member_price = $8, stock_alert_threshold = $9, is_hot = $10,
			promotion_price = $11, promotion_start = $12, promotion_end = $13, specifications = $14,
			updated_at = NOW()
		WHERE id = $15
		RETURNING stock, created_at, updated_at`

	err := sqlx.GetContext(ctx, s.ext, p, query,
		p.Name, p.CategoryID, p.Barcode, p.Description, p.Images, p.Price, p.PurchasePrice, p.MemberPrice,
		p.StockAlertThreshold, p.IsHot, p.PromotionPrice, p.PromotionStart, p.PromotionEnd, p.Specifications, p.ID)
	if notFound(err) {
		return errs.ProductNotFound(p.ID)
	}
	if _, ok := isForeignKeyViolation(err); ok {
		return errs.InvalidInput("category %d does not exist", derefID(p.CategoryID))
	}
	return wrap("update product", err)
}

// DecrementStock atomically takes qty units if and only if at least qty are available.
// Returns the stock left after the decrement.
func (s *Store) DecrementStock(ctx context.Context, productID int64, qty int) (int, error) {
	var stock int
	err := sqlx.GetContext(ctx, s.ext, &stock,
		"UPDATE products SET stock = stock - $1, updated_at = NOW() WHERE id = $2 AND stock >= $1 RETURNING stock",
		qty, productID)
	if notFound(err) {
		exists, existsErr := s.productExists(ctx, productID)
		if existsErr != nil {
			return 0, existsErr
		}
		if !exists {
			return 0, errs.ProductNotFound(productID)
		}
		return 0, errs.InsufficientStock(productID, qty)
	}
	if err != nil {
		return 0, wrap("decrement stock", err)
	}
	return stock, nil
}

// IncrementStock returns qty units to the product and reports the new stock
func (s *Store) IncrementStock(ctx context.Context, productID int64, qty int) (int, error) {
	var stock int
	err := sqlx.GetContext(ctx, s.ext, &stock,
		"UPDATE products SET stock = stock + $1, updated_at = NOW() WHERE id = $2 RETURNING stock",
		qty, productID)
	if notFound(err) {
		return 0, errs.ProductNotFound(productID)
	}
	if err != nil {
		return 0, wrap("increment stock", err)
	}
	return stock, nil
}

func (s *Store) productExists(ctx context.Context, productID int64) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, s.ext, &exists,
		"SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)", productID)
	return exists, wrap("check product", err)
}

func pageClause(args *[]any, limit, offset int) string {
	clause := ""
	if limit > 0 {
		*args = append(*args, limit)
		clause += fmt.Sprintf(" LIMIT $%d", len(*args))
	}
	if offset > 0 {
		*args = append(*args, offset)
		clause += fmt.Sprintf(" OFFSET $%d", len(*args))
	}
	return clause
}
