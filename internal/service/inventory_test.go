package service

import (
	"math/rand"
	"testing"

	"storefront/internal/errs"
	"storefront/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStockNeverNegativeUnderRandomReservations(t *testing.T) {
	f := newFixture(t)
	inv := NewInventory(nil, zap.NewNop())
	ids := []int64{
		f.product(t, "A", "1", 3).ID,
		f.product(t, "B", "1", 0).ID,
		f.product(t, "C", "1", 10).ID,
	}
	expected := map[int64]int{ids[0]: 3, ids[1]: 0, ids[2]: 10}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		id := ids[rng.Intn(len(ids))]
		qty := rng.Intn(5) + 1

		if rng.Intn(2) == 0 {
			stock, err := inv.Reserve(f.ctx, f.store, id, qty)
			if expected[id] < qty {
				assertKind(t, errs.KindInsufficientStock, err)
				continue
			}
			require.NoError(t, err)
			expected[id] -= qty
			assert.Equal(t, expected[id], stock)
		} else {
			stock, err := inv.Release(f.ctx, f.store, id, qty)
			require.NoError(t, err)
			expected[id] += qty
			assert.Equal(t, expected[id], stock)
		}
		require.GreaterOrEqual(t, f.store.Stock(id), 0)
	}

	for id, want := range expected {
		assert.Equal(t, want, f.store.Stock(id))
	}
}

func TestReserveRejectsNonPositiveQuantity(t *testing.T) {
	f := newFixture(t)
	inv := NewInventory(nil, zap.NewNop())
	p := f.product(t, "A", "1", 3)

	_, err := inv.Reserve(f.ctx, f.store, p.ID, 0)
	assertKind(t, errs.KindInvalidInput, err)
	_, err = inv.Release(f.ctx, f.store, p.ID, -1)
	assertKind(t, errs.KindInvalidInput, err)
	_, err = inv.Adjust(f.ctx, f.store, p.ID, 0)
	assertKind(t, errs.KindInvalidInput, err)
	assert.Equal(t, 3, f.store.Stock(p.ID))
}

func TestReserveAllStopsAtFirstShortProduct(t *testing.T) {
	f := newFixture(t)
	inv := NewInventory(nil, zap.NewNop())
	a := f.product(t, "A", "1", 5)
	b := f.product(t, "B", "1", 1)

	err := f.store.InTx(f.ctx, func(tx store.Repository) error {
		_, err := inv.ReserveAll(f.ctx, tx, map[int64]int{a.ID: 2, b.ID: 2})
		return err
	})
	assertKind(t, errs.KindInsufficientStock, err)
	assert.Equal(t, 5, f.store.Stock(a.ID))
	assert.Equal(t, 1, f.store.Stock(b.ID))
}

func TestStockPrefersCacheAndBackfills(t *testing.T) {
	f := newFixture(t)
	cache := newMapCache()
	inv := NewInventory(cache, zap.NewNop())
	p := f.product(t, "A", "1", 7)

	stock, err := inv.Stock(f.ctx, f.store, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, stock)

	cached, ok, _ := cache.GetStock(f.ctx, p.ID)
	require.True(t, ok)
	assert.Equal(t, 7, cached)

	require.NoError(t, cache.SetStock(f.ctx, p.ID, 4))
	stock, err = inv.Stock(f.ctx, f.store, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stock)

	_, err = inv.Stock(f.ctx, f.store, 9999)
	assertKind(t, errs.KindProductNotFound, err)
}
