package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "storefront"

// Checkout and order lifecycle
var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "orders",
		Name:      "created_total",
		Help:      "Orders committed by checkout.",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "orders",
		Name:      "rejected_total",
		Help:      "Checkouts rejected, by error kind.",
	}, []string{"reason"})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "orders",
		Name:      "transitions_total",
		Help:      "Committed status transitions.",
	}, []string{"from", "to"})

	OrderTransitionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "orders",
		Name:      "transitions_rejected_total",
		Help:      "Status transitions refused, by error kind.",
	}, []string{"reason"})

	ExpiredOrdersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "orders",
		Name:      "expired_total",
		Help:      "Pending orders cancelled by the expiry sweeper.",
	})
)

// Stock and coupons
var (
	InventoryReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "inventory",
		Name:      "reserve_duration_seconds",
		Help:      "Time spent reserving stock for one product.",
		Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	InventoryReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "inventory",
		Name:      "reservations_failed_total",
		Help:      "Stock reservations refused, by error kind.",
	}, []string{"reason"})

	InventoryReleasedUnits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "inventory",
		Name:      "released_units_total",
		Help:      "Units returned to stock by cancellations, refunds and adjustments.",
	})

	CouponRedemptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "coupons",
		Name:      "redemptions_total",
		Help:      "Coupons redeemed at checkout.",
	})

	CouponRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "coupons",
		Name:      "rejections_total",
		Help:      "Coupon redemptions refused, by reason.",
	}, []string{"reason"})
)

// Integrations and transport
var (
	ExternalEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "events",
		Name:      "external_total",
		Help:      "Payment and shipment provider events, by type and result.",
	}, []string{"type", "result"})

	RealtimeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "realtime",
		Name:      "connections",
		Help:      "Open WebSocket connections.",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status.",
	}, []string{"method", "path", "status"})
)
