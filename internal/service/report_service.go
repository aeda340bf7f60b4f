package service

import (
	"context"
	"sort"
	"time"

	"storefront/internal/errs"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
)

const maxReportDays = 366

// DailySales is one point of the daily series
type DailySales struct {
	Date   string          `json:"date"`
	Orders int             `json:"orders"`
	Net    decimal.Decimal `json:"net"`
	Profit decimal.Decimal `json:"profit"`
}

// ProductSales is one entry of the product ranking
type ProductSales struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Revenue   decimal.Decimal `json:"revenue"`
	Profit    decimal.Decimal `json:"profit"`
}

// SalesReport aggregates completed orders in [Start, End). Order profit is the
// amount paid less shipping and the unit costs snapshotted at checkout; product
// profit is line revenue less cost, before order-level discounts.
type SalesReport struct {
	Start             time.Time       `json:"start"`
	End               time.Time       `json:"end"`
	OrderCount        int             `json:"order_count"`
	Gross             decimal.Decimal `json:"gross"`
	Discounts         decimal.Decimal `json:"discounts"`
	Net               decimal.Decimal `json:"net"`
	Profit            decimal.Decimal `json:"profit"`
	AverageOrderValue decimal.Decimal `json:"average_order_value"`
	Daily             []DailySales    `json:"daily"`
	TopProducts       []ProductSales  `json:"top_products"`
}

// ReportService is the read-only admin reporting view
type ReportService struct {
	store store.Repository
}

func NewReportService(repo store.Repository) *ReportService {
	return &ReportService{store: repo}
}

// Sales builds the sales report for orders completed in [start, end)
func (rs *ReportService) Sales(ctx context.Context, start, end time.Time, topN int) (*SalesReport, error) {
	ctx, span := util.StartSpan(ctx, "ReportService.Sales")
	defer span.End()

	if !start.Before(end) {
		return nil, errs.InvalidInput("report start must precede its end")
	}
	if end.Sub(start) > maxReportDays*24*time.Hour {
		return nil, errs.InvalidInput("report range must not exceed %d days", maxReportDays)
	}

	orders, err := rs.store.ListCompletedBetween(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return BuildSalesReport(orders, start, end, topN), nil
}

// BuildSalesReport aggregates orders. Days are UTC calendar days.
func BuildSalesReport(orders []models.Order, start, end time.Time, topN int) *SalesReport {
	report := &SalesReport{
		Start:             start,
		End:               end,
		Gross:             decimal.Zero,
		Discounts:         decimal.Zero,
		Net:               decimal.Zero,
		Profit:            decimal.Zero,
		AverageOrderValue: decimal.Zero,
		Daily:             []DailySales{},
		TopProducts:       []ProductSales{},
	}

	dayIndex := map[string]int{}
	for d := truncateDay(start); d.Before(end); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		dayIndex[key] = len(report.Daily)
		report.Daily = append(report.Daily, DailySales{Date: key, Net: decimal.Zero, Profit: decimal.Zero})
	}

	products := map[int64]*ProductSales{}
	for _, o := range orders {
		if o.Status != models.OrderStatusCompleted {
			continue
		}
		report.OrderCount++
		report.Gross = report.Gross.Add(o.TotalAmount)
		report.Discounts = report.Discounts.Add(o.DiscountAmount)
		report.Net = report.Net.Add(o.FinalAmount)
		profit := o.Profit()
		report.Profit = report.Profit.Add(profit)

		if o.CompleteTime != nil {
			if i, ok := dayIndex[o.CompleteTime.UTC().Format("2006-01-02")]; ok {
				report.Daily[i].Orders++
				report.Daily[i].Net = report.Daily[i].Net.Add(o.FinalAmount)
				report.Daily[i].Profit = report.Daily[i].Profit.Add(profit)
			}
		}

		for _, item := range o.Items {
			ps, ok := products[item.ProductID]
			if !ok {
				ps = &ProductSales{ProductID: item.ProductID, Name: item.Name, Revenue: decimal.Zero, Profit: decimal.Zero}
				products[item.ProductID] = ps
			}
			ps.Quantity += item.Quantity
			ps.Revenue = ps.Revenue.Add(item.Subtotal())
			ps.Profit = ps.Profit.Add(item.Subtotal().Sub(item.Cost()))
		}
	}

	if report.OrderCount > 0 {
		report.AverageOrderValue = report.Net.Div(decimal.NewFromInt(int64(report.OrderCount))).Round(2)
	}

	for _, ps := range products {
		report.TopProducts = append(report.TopProducts, *ps)
	}
	sort.Slice(report.TopProducts, func(i, j int) bool {
		a, b := report.TopProducts[i], report.TopProducts[j]
		if !a.Revenue.Equal(b.Revenue) {
			return a.Revenue.GreaterThan(b.Revenue)
		}
		if a.Quantity != b.Quantity {
			return a.Quantity > b.Quantity
		}
		return a.ProductID < b.ProductID
	})
	if topN > 0 && len(report.TopProducts) > topN {
		report.TopProducts = report.TopProducts[:topN]
	}
	return report
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
