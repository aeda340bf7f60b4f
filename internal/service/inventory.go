package service

import (
	"context"
	"sort"
	"time"

	"storefront/internal/errs"
	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// StockStore is the slice of storage the reservation primitive needs
type StockStore interface {
	DecrementStock(ctx context.Context, productID int64, qty int) (int, error)
	IncrementStock(ctx context.Context, productID int64, qty int) (int, error)
}

// StockCache mirrors stock levels for read endpoints
type StockCache interface {
	SetStock(ctx context.Context, productID int64, stock int) error
	GetStock(ctx context.Context, productID int64) (int, bool, error)
}

// Inventory is the single path through which product stock changes
type Inventory struct {
	cache  StockCache
	logger *zap.Logger
}

// NewInventory creates the stock primitive. cache may be nil.
func NewInventory(cache StockCache, logger *zap.Logger) *Inventory {
	if logger == nil {
		logger = util.GetLogger()
	}
	return &Inventory{cache: cache, logger: logger}
}

// Reserve takes qty units of a product and returns the stock left
func (inv *Inventory) Reserve(ctx context.Context, tx StockStore, productID int64, qty int) (int, error) {
	ctx, span := util.StartSpan(ctx, "Inventory.Reserve")
	defer span.End()

	if qty < 1 {
		return 0, errs.InvalidInput("quantity for product %d must be at least 1", productID)
	}

	start := time.Now()
	stock, err := tx.DecrementStock(ctx, productID, qty)
	util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.FailSpan(span, err, string(errs.KindOf(err)))
		util.InventoryReservationsFailed.WithLabelValues(string(errs.KindOf(err))).Inc()
		return 0, err
	}
	return stock, nil
}

// Release gives qty units back and returns the new stock
func (inv *Inventory) Release(ctx context.Context, tx StockStore, productID int64, qty int) (int, error) {
	ctx, span := util.StartSpan(ctx, "Inventory.Release")
	defer span.End()

	if qty < 1 {
		return 0, errs.InvalidInput("quantity for product %d must be at least 1", productID)
	}

	stock, err := tx.IncrementStock(ctx, productID, qty)
	if err != nil {
		return 0, err
	}
	util.InventoryReleasedUnits.Add(float64(qty))
	return stock, nil
}

// ReserveAll reserves every product in ascending ID order so concurrent
// checkouts lock rows in the same order. The first short product aborts.
func (inv *Inventory) ReserveAll(ctx context.Context, tx StockStore, quantities map[int64]int) (map[int64]int, error) {
	levels := make(map[int64]int, len(quantities))
	for _, id := range sortedIDs(quantities) {
		stock, err := inv.Reserve(ctx, tx, id, quantities[id])
		if err != nil {
			return nil, err
		}
		levels[id] = stock
	}
	return levels, nil
}

// ReleaseAll is the exact inverse of ReserveAll
func (inv *Inventory) ReleaseAll(ctx context.Context, tx StockStore, quantities map[int64]int) (map[int64]int, error) {
	levels := make(map[int64]int, len(quantities))
	for _, id := range sortedIDs(quantities) {
		stock, err := inv.Release(ctx, tx, id, quantities[id])
		if err != nil {
			return nil, err
		}
		levels[id] = stock
	}
	return levels, nil
}

// Adjust applies an administrative stock correction through Reserve/Release
func (inv *Inventory) Adjust(ctx context.Context, tx StockStore, productID int64, delta int) (int, error) {
	switch {
	case delta > 0:
		return inv.Release(ctx, tx, productID, delta)
	case delta < 0:
		return inv.Reserve(ctx, tx, productID, -delta)
	}
	return 0, errs.InvalidInput("stock adjustment must be non-zero")
}

// SyncCache publishes committed stock levels to the cache. Failures are logged only;
// the database stays authoritative.
func (inv *Inventory) SyncCache(ctx context.Context, levels map[int64]int) {
	if inv.cache == nil {
		return
	}
	for id, stock := range levels {
		if err := inv.cache.SetStock(ctx, id, stock); err != nil {
			inv.logger.Warn("Failed to refresh stock cache",
				zap.Int64("product_id", id),
				zap.Error(err))
		}
	}
}

// ProductReader loads a product from storage
type ProductReader interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
}

// Stock returns the current stock, preferring the cache and falling back to storage
func (inv *Inventory) Stock(ctx context.Context, reader ProductReader, productID int64) (int, error) {
	if inv.cache != nil {
		stock, ok, err := inv.cache.GetStock(ctx, productID)
		if err != nil {
			inv.logger.Warn("Stock cache read failed, falling back to DB",
				zap.Int64("product_id", productID),
				zap.Error(err))
		} else if ok {
			return stock, nil
		}
	}

	product, err := reader.GetProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	inv.SyncCache(ctx, map[int64]int{productID: product.Stock})
	return product.Stock, nil
}

func sortedIDs(quantities map[int64]int) []int64 {
	ids := make([]int64, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
