package service

import (
	"context"

	"storefront/internal/errs"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// CatalogService manages products. Stock only ever moves through Inventory.
type CatalogService struct {
	store     store.Repository
	inventory *Inventory
	logger    *zap.Logger
	lowStock  int
}

func NewCatalogService(repo store.Repository, inventory *Inventory, lowStockListSize int) *CatalogService {
	if lowStockListSize <= 0 {
		lowStockListSize = 100
	}
	return &CatalogService{
		store:     repo,
		inventory: inventory,
		logger:    util.GetLogger(),
		lowStock:  lowStockListSize,
	}
}

// CreateProduct inserts the product with zero stock, then books the opening stock through Inventory
func (cs *CatalogService) CreateProduct(ctx context.Context, p *models.Product) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.CreateProduct")
	defer span.End()

	if err := validateProduct(p); err != nil {
		return nil, err
	}
	if p.Stock < 0 {
		return nil, errs.InvalidInput("opening stock must not be negative")
	}

	opening := p.Stock
	var levels map[int64]int
	err := cs.store.InTx(ctx, func(tx store.Repository) error {
		p.Stock = 0
		if err := tx.CreateProduct(ctx, p); err != nil {
			return err
		}
		if opening == 0 {
			return nil
		}
		stock, err := cs.inventory.Adjust(ctx, tx, p.ID, opening)
		if err != nil {
			return err
		}
		p.Stock = stock
		levels = map[int64]int{p.ID: stock}
		return nil
	})
	if err != nil {
		return nil, err
	}

	cs.inventory.SyncCache(ctx, levels)
	cs.logger.Info("Product created", zap.Int64("product_id", p.ID), zap.Int("stock", p.Stock))
	return p, nil
}

// UpdateProduct updates catalog fields; the stored stock is returned untouched
func (cs *CatalogService) UpdateProduct(ctx context.Context, p *models.Product) (*models.Product, error) {
	if err := validateProduct(p); err != nil {
		return nil, err
	}
	if err := cs.store.UpdateProduct(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetProduct retrieves a product by ID
func (cs *CatalogService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	return cs.store.GetProduct(ctx, id)
}

// ListProducts lists the catalog
func (cs *CatalogService) ListProducts(ctx context.Context, f store.ProductFilter) ([]models.Product, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	return cs.store.ListProducts(ctx, f)
}

// Stock returns the current stock level, served from the cache when possible
func (cs *CatalogService) Stock(ctx context.Context, productID int64) (int, error) {
	return cs.inventory.Stock(ctx, cs.store, productID)
}

// AdjustStock applies an administrative correction (positive restocks, negative write-offs)
func (cs *CatalogService) AdjustStock(ctx context.Context, productID int64, delta int) (int, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.AdjustStock")
	defer span.End()

	var stock int
	err := cs.store.InTx(ctx, func(tx store.Repository) error {
		var err error
		stock, err = cs.inventory.Adjust(ctx, tx, productID, delta)
		return err
	})
	if err != nil {
		return 0, err
	}

	cs.inventory.SyncCache(ctx, map[int64]int{productID: stock})
	cs.logger.Info("Stock adjusted",
		zap.Int64("product_id", productID),
		zap.Int("delta", delta),
		zap.Int("stock", stock))
	return stock, nil
}

// LowStock lists products at or below their alert threshold
func (cs *CatalogService) LowStock(ctx context.Context) ([]models.Product, error) {
	return cs.store.ListLowStock(ctx, cs.lowStock)
}

func validateProduct(p *models.Product) error {
	if p.Name == "" {
		return errs.InvalidInput("product name is required")
	}
	if p.Price.IsNegative() || p.PurchasePrice.IsNegative() || p.MemberPrice.IsNegative() {
		return errs.InvalidInput("prices must not be negative")
	}
	if p.StockAlertThreshold < 0 {
		return errs.InvalidInput("stock alert threshold must not be negative")
	}
	if p.PromotionPrice.Valid {
		if p.PromotionStart == nil || p.PromotionEnd == nil {
			return errs.InvalidInput("a promotion price needs a start and end time")
		}
		if p.PromotionEnd.Before(*p.PromotionStart) {
			return errs.InvalidInput("promotion end must not precede its start")
		}
		if p.PromotionPrice.Decimal.IsNegative() {
			return errs.InvalidInput("promotion price must not be negative")
		}
	}
	return nil
}

// CreateCoupon defines a new coupon
func (cs *CatalogService) CreateCoupon(ctx context.Context, c *models.Coupon) (*models.Coupon, error) {
	if err := validateCoupon(c); err != nil {
		return nil, err
	}
	if len(c.ApplicableCategories) > 0 {
		found, err := cs.store.GetCategoriesByIDs(ctx, c.ApplicableCategories)
		if err != nil {
			return nil, err
		}
		if missing := missingCategory(c.ApplicableCategories, found); missing != 0 {
			return nil, errs.InvalidInput("category %d does not exist", missing)
		}
	}
	c.UsedCount = 0
	if err := cs.store.CreateCoupon(ctx, c); err != nil {
		return nil, err
	}
	cs.logger.Info("Coupon created", zap.Int64("coupon_id", c.ID), zap.String("type", string(c.Type)))
	return c, nil
}

// ListCoupons lists coupon definitions
func (cs *CatalogService) ListCoupons(ctx context.Context, activeOnly bool) ([]models.Coupon, error) {
	return cs.store.ListCoupons(ctx, activeOnly)
}

func validateCoupon(c *models.Coupon) error {
	if c.Name == "" {
		return errs.InvalidInput("coupon name is required")
	}
	if !c.Type.IsValid() {
		return errs.InvalidInput("unknown coupon type %q", c.Type)
	}
	switch c.Type {
	case models.CouponTypeDiscount:
		if !c.DiscountRate.IsPositive() || c.DiscountRate.GreaterThan(hundred) {
			return errs.InvalidInput("discount rate must be in (0, 100]")
		}
	case models.CouponTypeFixed:
		if !c.DiscountAmount.IsPositive() {
			return errs.InvalidInput("discount amount must be positive")
		}
	}
	if c.MinOrderAmount.IsNegative() {
		return errs.InvalidInput("minimum order amount must not be negative")
	}
	if c.EndDate.Before(c.StartDate) {
		return errs.InvalidInput("coupon end date must not precede its start")
	}
	if c.TotalCount < 0 || c.MaxPerUser < 0 {
		return errs.InvalidInput("coupon counts must not be negative")
	}
	return nil
}

// ListCategories lists the category tree, roots first
func (cs *CatalogService) ListCategories(ctx context.Context, activeOnly bool) ([]models.Category, error) {
	return cs.store.ListCategories(ctx, activeOnly)
}

func (cs *CatalogService) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	return cs.store.GetCategory(ctx, id)
}

// CreateCategory derives the level from the parent
func (cs *CatalogService) CreateCategory(ctx context.Context, c *models.Category) (*models.Category, error) {
	if c.Name == "" {
		return nil, errs.InvalidInput("category name is required")
	}
	err := cs.store.InTx(ctx, func(tx store.Repository) error {
		level, err := categoryLevel(ctx, tx, c.ParentID)
		if err != nil {
			return err
		}
		c.Level = level
		return tx.CreateCategory(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	cs.logger.Info("Category created", zap.Int64("category_id", c.ID), zap.Int("level", c.Level))
	return c, nil
}

// UpdateCategory rewrites a category. Only leaf categories may move to another parent,
// so the levels below never go stale.
func (cs *CatalogService) UpdateCategory(ctx context.Context, c *models.Category) (*models.Category, error) {
	if c.Name == "" {
		return nil, errs.InvalidInput("category name is required")
	}
	err := cs.store.InTx(ctx, func(tx store.Repository) error {
		cur, err := tx.GetCategory(ctx, c.ID)
		if err != nil {
			return err
		}
		if c.ParentID != nil && *c.ParentID == c.ID {
			return errs.InvalidInput("category %d cannot be its own parent", c.ID)
		}
		if !sameParent(cur.ParentID, c.ParentID) {
			children, err := tx.CountChildCategories(ctx, c.ID)
			if err != nil {
				return err
			}
			if children > 0 {
				return errs.InvalidInput("category %d has %d subcategories and cannot move", c.ID, children)
			}
		}
		level, err := categoryLevel(ctx, tx, c.ParentID)
		if err != nil {
			return err
		}
		c.Level = level
		return tx.UpdateCategory(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func categoryLevel(ctx context.Context, tx store.Repository, parentID *int64) (int, error) {
	if parentID == nil {
		return 1, nil
	}
	parent, err := tx.GetCategory(ctx, *parentID)
	if errs.KindOf(err) == errs.KindNotFound {
		return 0, errs.InvalidInput("parent category %d does not exist", *parentID)
	}
	if err != nil {
		return 0, err
	}
	if parent.Level >= models.MaxCategoryLevel {
		return 0, errs.InvalidInput("categories nest at most %d levels deep", models.MaxCategoryLevel)
	}
	return parent.Level + 1, nil
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func missingCategory(ids []int64, found []models.Category) int64 {
	seen := make(map[int64]bool, len(found))
	for _, c := range found {
		seen[c.ID] = true
	}
	for _, id := range ids {
		if !seen[id] {
			return id
		}
	}
	return 0
}
