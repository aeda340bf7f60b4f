package storetest

import (
	"context"
	"errors"
	"testing"

	"storefront/internal/models"
	"storefront/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateProductRollbackKeepsLaterStockChanges(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p := &models.Product{Name: "Mug", Price: decimal.NewFromInt(10), Stock: 10}
	require.NoError(t, m.CreateProduct(ctx, p))

	boom := errors.New("boom")
	err := m.InTx(ctx, func(tx store.Repository) error {
		edit := *p
		edit.Name = "Mug v2"
		edit.Price = decimal.NewFromInt(12)
		require.NoError(t, tx.UpdateProduct(ctx, &edit))

		// a checkout committed outside this transaction
		left, err := m.DecrementStock(ctx, p.ID, 3)
		require.NoError(t, err)
		assert.Equal(t, 7, left)
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := m.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mug", got.Name)
	assert.True(t, decimal.NewFromInt(10).Equal(got.Price))
	assert.Equal(t, 7, got.Stock)
}

func TestStockUndoSurvivesCatalogEdit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p := &models.Product{Name: "Mug", Price: decimal.NewFromInt(10), Stock: 10}
	require.NoError(t, m.CreateProduct(ctx, p))

	err := m.InTx(ctx, func(tx store.Repository) error {
		if _, err := tx.DecrementStock(ctx, p.ID, 4); err != nil {
			return err
		}
		edit := *p
		edit.Name = "Mug v2"
		require.NoError(t, m.UpdateProduct(ctx, &edit))
		return errors.New("abort")
	})
	require.Error(t, err)

	got, err := m.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Stock)
	assert.Equal(t, "Mug v2", got.Name)
}
