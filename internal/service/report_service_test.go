package service

import (
	"testing"
	"time"

	"storefront/internal/errs"
	"storefront/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completedOrder(at time.Time, total, discount string, items ...models.OrderItem) models.Order {
	t := decimal.RequireFromString(total)
	d := decimal.RequireFromString(discount)
	return models.Order{
		Status:         models.OrderStatusCompleted,
		TotalAmount:    t,
		DiscountAmount: d,
		FinalAmount:    t.Sub(d),
		CompleteTime:   &at,
		Items:          items,
	}
}

func item(productID int64, name, price, cost string, qty int) models.OrderItem {
	return models.OrderItem{
		ProductID:     productID,
		Name:          name,
		Price:         decimal.RequireFromString(price),
		PurchasePrice: decimal.RequireFromString(cost),
		Quantity:      qty,
	}
}

func TestBuildSalesReport(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 3)

	orders := []models.Order{
		completedOrder(start.Add(2*time.Hour), "50", "5", item(1, "Mug", "25", "15", 2)),
		completedOrder(start.Add(26*time.Hour), "30", "0", item(2, "Tea", "10", "4", 3)),
		completedOrder(start.Add(27*time.Hour), "20", "0", item(1, "Mug", "10", "15", 1), item(3, "Pen", "10", "2", 1)),
		{Status: models.OrderStatusCancelled, TotalAmount: decimal.NewFromInt(999)},
	}

	r := BuildSalesReport(orders, start, end, 2)

	assert.Equal(t, 3, r.OrderCount)
	assertAmount(t, "100", r.Gross)
	assertAmount(t, "5", r.Discounts)
	assertAmount(t, "95", r.Net)
	assertAmount(t, "31.67", r.AverageOrderValue)
	// 45-30, 30-12, 20-17
	assertAmount(t, "36", r.Profit)

	require.Len(t, r.Daily, 3)
	assert.Equal(t, "2024-06-01", r.Daily[0].Date)
	assert.Equal(t, 1, r.Daily[0].Orders)
	assert.Equal(t, 2, r.Daily[1].Orders)
	assertAmount(t, "50", r.Daily[1].Net)
	assertAmount(t, "15", r.Daily[0].Profit)
	assertAmount(t, "21", r.Daily[1].Profit)
	assert.Zero(t, r.Daily[2].Orders)

	require.Len(t, r.TopProducts, 2)
	assert.Equal(t, int64(1), r.TopProducts[0].ProductID)
	assertAmount(t, "60", r.TopProducts[0].Revenue)
	assert.Equal(t, 3, r.TopProducts[0].Quantity)
	assertAmount(t, "15", r.TopProducts[0].Profit)
	assert.Equal(t, int64(2), r.TopProducts[1].ProductID)
}

func TestBuildSalesReportEmpty(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	r := BuildSalesReport(nil, start, start.Add(24*time.Hour), 5)

	assert.Zero(t, r.OrderCount)
	assertAmount(t, "0", r.AverageOrderValue)
	assert.Len(t, r.Daily, 1)
	assert.Empty(t, r.TopProducts)
}

func TestSalesReportFromCompletedOrders(t *testing.T) {
	f := newFixtureWithFee(t, decimal.NewFromInt(5))
	p := f.product(t, "Mug", "25", 10)
	p.PurchasePrice = decimal.NewFromInt(15)
	require.NoError(t, f.store.UpdateProduct(f.ctx, p))
	o := f.mustCreate(t, 7, line(p.ID, 2))
	f.advance(t, o.ID, models.OrderStatusPaid, models.OrderStatusShipped, models.OrderStatusDelivered, models.OrderStatusCompleted)
	f.mustCreate(t, 7, line(p.ID, 1))

	rs := NewReportService(f.store)
	r, err := rs.Sales(f.ctx, testNow.Add(-24*time.Hour), testNow.Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, r.OrderCount)
	assertAmount(t, "55", r.Net)
	assertAmount(t, "20", r.Profit)
	require.Len(t, r.TopProducts, 1)
	assertAmount(t, "20", r.TopProducts[0].Profit)

	_, err = rs.Sales(f.ctx, testNow, testNow, 10)
	assertKind(t, errs.KindInvalidInput, err)
	_, err = rs.Sales(f.ctx, testNow, testNow.AddDate(2, 0, 0), 10)
	assertKind(t, errs.KindInvalidInput, err)
}
