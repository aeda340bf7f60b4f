package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"storefront/config"
	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// Pinger is a dependency pinged by the readiness check
type Pinger interface {
	Ping(ctx context.Context) error
}

// EventDispatcher routes a raw provider event to its handler
type EventDispatcher interface {
	Dispatch(ctx context.Context, payload []byte) error
}

// Deps are the collaborators the HTTP layer calls into
type Deps struct {
	Orders   *service.OrderService
	Payments *service.PaymentService
	Catalog  *service.CatalogService
	Users    *service.UserService
	Reports  *service.ReportService
	Events   EventDispatcher
	Realtime http.Handler
	Limiter  RateLimiter
	Checks   map[string]Pinger
}

// Handler serves the storefront HTTP API
type Handler struct {
	orders   *service.OrderService
	payments *service.PaymentService
	catalog  *service.CatalogService
	users    *service.UserService
	reports  *service.ReportService
	events   EventDispatcher
	realtime http.Handler
	limiter  RateLimiter
	checks   map[string]Pinger

	auth     config.AuthConfig
	business config.BusinessConfig
	logger   *zap.Logger
}

// NewHandler wires the API to its services; nil Limiter disables checkout rate limiting
func NewHandler(d Deps, auth config.AuthConfig, business config.BusinessConfig) *Handler {
	return &Handler{
		orders:   d.Orders,
		payments: d.Payments,
		catalog:  d.Catalog,
		users:    d.Users,
		reports:  d.Reports,
		events:   d.Events,
		realtime: d.Realtime,
		limiter:  d.Limiter,
		checks:   d.Checks,
		auth:     auth,
		business: business,
		logger:   util.GetLogger(),
	}
}

// SetupRoutes registers every route on router
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(util.GinLogger(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if h.realtime != nil {
		router.GET("/ws", gin.WrapH(h.realtime))
	}

	router.POST("/internal/events", webhookAuth(h.auth.WebhookToken), h.receiveEvent)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)
		v1.GET("/products/:id/stock", h.getStock)
		v1.GET("/categories", h.listCategories)
		v1.GET("/categories/:id", h.getCategory)
	}

	authed := v1.Group("", JWTAuth(h.auth.JWTSecret, h.logger))
	{
		placeOrder := []gin.HandlerFunc{h.createOrder}
		if h.limiter != nil {
			placeOrder = append([]gin.HandlerFunc{
				checkoutRateLimit(h.limiter, h.business.CheckoutLimit, h.business.CheckoutWindow, h.logger),
			}, placeOrder...)
		}
		authed.POST("/orders", placeOrder...)
		authed.GET("/orders", h.listMyOrders)
		authed.GET("/orders/:id", h.getOrder)
		authed.GET("/orders/:id/payments", h.getPayments)
		authed.POST("/orders/:id/cancel", h.cancelOrder)
		authed.POST("/orders/:id/confirm", h.confirmReceipt)
		authed.POST("/orders/:id/complete", h.completeOrder)

		authed.GET("/users/me", h.getProfile)
		authed.PUT("/users/me", h.updateProfile)
		authed.POST("/users/me/addresses", h.addAddress)
		authed.PUT("/users/me/addresses/:idx/default", h.setDefaultAddress)
		authed.GET("/users/me/coupons", h.myCoupons)
		authed.POST("/coupons/:id/claim", h.claimCoupon)
	}

	admin := authed.Group("/admin", RequireRole(models.RoleAdmin, models.RoleSuperAdmin))
	{
		admin.POST("/products", h.createProduct)
		admin.PUT("/products/:id", h.updateProduct)
		admin.POST("/products/:id/stock", h.adjustStock)
		admin.GET("/products/stock-alert", h.lowStock)

		admin.GET("/categories", h.listAllCategories)
		admin.POST("/categories", h.createCategory)
		admin.PUT("/categories/:id", h.updateCategory)

		admin.POST("/coupons", h.createCoupon)
		admin.GET("/coupons", h.listCoupons)

		admin.GET("/orders", h.listAllOrders)
		admin.POST("/orders/:id/transition", h.transitionOrder)

		admin.GET("/reports/sales", h.salesReport)

		admin.GET("/users", h.listUsers)
		admin.PUT("/users/:id/role", RequireRole(models.RoleSuperAdmin), h.setRole)
	}
}

// healthCheck reports liveness only; it never touches dependencies
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency and reports the ones that failed
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// receiveEvent accepts a provider callback and runs it through the same
// handlers as the Kafka consumer
func (h *Handler) receiveEvent(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "failed to read body")
		return
	}

	err = h.events.Dispatch(c.Request.Context(), payload)
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	case errors.Is(err, broker.ErrUnhandledEvent):
		badRequest(c, err.Error())
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		badRequest(c, "malformed event")
	default:
		h.writeError(c, err)
	}
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

// queryTime accepts RFC 3339 timestamps or plain dates
func queryTime(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, true
		}
	}
	badRequest(c, "invalid "+name)
	return nil, false
}
