package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront/config"
	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/store/storetest"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret  = "test-secret-key-at-least-32-chars"
	testWebhook = "hook-token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type apiFixture struct {
	t      *testing.T
	router *gin.Engine
	store  *storetest.Memory
	ready  error
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	rc := redisclient.New(rdb, time.Hour)

	logger := zap.NewNop()
	mem := storetest.NewMemory()
	inventory := service.NewInventory(rc, logger)
	ledger := service.NewCouponLedger(logger)
	engine := service.NewOrderEngine(service.EngineDeps{
		Store:     mem,
		Inventory: inventory,
		Coupons:   ledger,
		Logger:    logger,
	})
	payments := service.NewPaymentService(mem, engine)
	saga := service.NewSagaOrchestrator(mem, engine, payments)

	events := broker.NewEventHandler()
	events.OnPaymentConfirmed(saga.HandlePaymentConfirmed)
	events.OnShipmentDispatched(saga.HandleShipmentDispatched)
	events.OnShipmentDelivered(saga.HandleShipmentDelivered)

	f := &apiFixture{t: t, store: mem}
	h := NewHandler(Deps{
		Orders:   service.NewOrderService(mem, engine, rc),
		Payments: payments,
		Catalog:  service.NewCatalogService(mem, inventory, 100),
		Users:    service.NewUserService(mem, ledger, time.Now),
		Reports:  service.NewReportService(mem),
		Events:   events,
		Limiter:  rc,
		Checks: map[string]Pinger{
			"redis": rc,
			"store": pingFunc(func(ctx context.Context) error { return f.ready }),
		},
	}, config.AuthConfig{JWTSecret: testSecret, WebhookToken: testWebhook},
		config.BusinessConfig{CheckoutLimit: 3, CheckoutWindow: time.Minute})

	f.router = gin.New()
	h.SetupRoutes(f.router)
	return f
}

func token(t *testing.T, userID int64, role string) string {
	t.Helper()
	tok, err := IssueToken(testSecret, userID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

// do sends body as JSON with the given bearer token (empty for none)
func (f *apiFixture) do(method, path, tok string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set(AuthHeaderKey, BearerPrefix+tok)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (f *apiFixture) product(admin string, price string, stock int) *models.Product {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/api/v1/admin/products", admin, gin.H{
		"name":  "Widget",
		"price": price,
		"stock": stock,
	})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decode[models.Product](f.t, rec)
	return &p
}

func (f *apiFixture) stock(productID int64) int {
	f.t.Helper()
	rec := f.do(http.MethodGet, fmt.Sprintf("/api/v1/products/%d/stock", productID), "", nil)
	require.Equal(f.t, http.StatusOK, rec.Code)
	return decode[struct {
		Stock int `json:"stock"`
	}](f.t, rec).Stock
}

func orderBody(productID int64, qty int) gin.H {
	return gin.H{
		"items":   []gin.H{{"product_id": productID, "quantity": qty}},
		"address": gin.H{"name": "Ana", "phone": "555-0100", "detail": "Rua 1"},
	}
}

func TestHealthAndReadiness(t *testing.T) {
	f := newAPI(t)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/ready", "", nil).Code)

	f.ready = errors.New("connection refused")
	rec := f.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestAuthentication(t *testing.T) {
	f := newAPI(t)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/v1/orders", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/v1/orders", "not-a-jwt", nil).Code)

	forged, err := IssueToken("another-secret", 7, models.RoleUser, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/v1/orders", forged, nil).Code)

	expired, err := IssueToken(testSecret, 7, models.RoleUser, -time.Minute)
	require.NoError(t, err)
	rec := f.do(http.MethodGet, "/api/v1/orders", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrTokenExpired.Error())

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/orders", token(t, 7, models.RoleUser), nil).Code)
}

func TestRoleGuards(t *testing.T) {
	f := newAPI(t)
	user := token(t, 7, models.RoleUser)
	admin := token(t, 1, models.RoleAdmin)
	super := token(t, 2, models.RoleSuperAdmin)

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/api/v1/admin/products", user, gin.H{"name": "x"}).Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPut, "/api/v1/admin/users/7/role", admin, gin.H{"role": "admin"}).Code)

	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/users/me", user, nil).Code)
	rec := f.do(http.MethodPut, "/api/v1/admin/users/7/role", super, gin.H{"role": "admin"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.RoleAdmin, decode[models.User](t, rec).Role)
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	f := newAPI(t)
	admin := token(t, 1, models.RoleAdmin)
	user := token(t, 7, models.RoleUser)
	p := f.product(admin, "10", 5)

	rec := f.do(http.MethodPost, "/api/v1/orders", user, orderBody(p.ID, 2))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decode[models.Order](t, rec)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.True(t, order.FinalAmount.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, 3, f.stock(p.ID))

	path := fmt.Sprintf("/api/v1/orders/%d", order.ID)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, path, user, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, path, token(t, 8, models.RoleUser), nil).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, path, admin, nil).Code)

	rec = f.do(http.MethodPost, path+"/complete", user, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "illegal_transition", decode[errorBody](t, rec).Kind)

	rec = f.do(http.MethodPost, path+"/cancel", user, gin.H{"reason": "changed my mind"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.OrderStatusCancelled, decode[models.Order](t, rec).Status)
	assert.Equal(t, 5, f.stock(p.ID))
}

func TestInsufficientStockIsConflict(t *testing.T) {
	f := newAPI(t)
	p := f.product(token(t, 1, models.RoleAdmin), "10", 1)

	rec := f.do(http.MethodPost, "/api/v1/orders", token(t, 7, models.RoleUser), orderBody(p.ID, 2))
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "insufficient_stock", body.Kind)
	assert.Equal(t, p.ID, body.ProductID)
	assert.Equal(t, 1, f.stock(p.ID))
}

func TestCouponRejectionCarriesReason(t *testing.T) {
	f := newAPI(t)
	admin := token(t, 1, models.RoleAdmin)
	user := token(t, 7, models.RoleUser)
	p := f.product(admin, "10", 50)

	rec := f.do(http.MethodPost, "/api/v1/admin/coupons", admin, gin.H{
		"name":             "100 minus 10",
		"type":             "fixed",
		"discount_amount":  "10",
		"min_order_amount": "100",
		"start_date":       time.Now().Add(-time.Hour),
		"end_date":         time.Now().Add(time.Hour),
		"total_count":      5,
		"max_per_user":     1,
		"is_active":        true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	coupon := decode[models.Coupon](t, rec)

	claim := fmt.Sprintf("/api/v1/coupons/%d/claim", coupon.ID)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, claim, user, nil).Code)
	rec = f.do(http.MethodPost, claim, user, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "limit_reached", decode[errorBody](t, rec).Reason)

	small := orderBody(p.ID, 2)
	small["coupon_id"] = coupon.ID
	rec = f.do(http.MethodPost, "/api/v1/orders", user, small)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "coupon_invalid", body.Kind)
	assert.Equal(t, "below_minimum", body.Reason)

	big := orderBody(p.ID, 12)
	big["coupon_id"] = coupon.ID
	rec = f.do(http.MethodPost, "/api/v1/orders", user, big)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, decode[models.Order](t, rec).FinalAmount.Equal(decimal.NewFromInt(110)))

	rec = f.do(http.MethodGet, "/api/v1/users/me/coupons?status=used", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[struct {
		Coupons []models.UserCoupon `json:"coupons"`
	}](t, rec).Coupons, 1)
}

func TestCheckoutIsRateLimited(t *testing.T) {
	f := newAPI(t)
	user := token(t, 7, models.RoleUser)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/orders", user, gin.H{}).Code)
	}
	rec := f.do(http.MethodPost, "/api/v1/orders", user, gin.H{})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/orders", token(t, 8, models.RoleUser), gin.H{}).Code)
}

func TestIdempotencyKeyHeader(t *testing.T) {
	f := newAPI(t)
	user := token(t, 7, models.RoleUser)
	p := f.product(token(t, 1, models.RoleAdmin), "10", 5)

	send := func() models.Order {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(orderBody(p.ID, 1)))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", &buf)
		req.Header.Set(AuthHeaderKey, BearerPrefix+user)
		req.Header.Set(IdempotencyKey, "checkout-42")
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		return decode[models.Order](t, rec)
	}

	first, second := send(), send()
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 4, f.stock(p.ID))
}

func TestWebhookDrivesFulfilment(t *testing.T) {
	f := newAPI(t)
	admin := token(t, 1, models.RoleAdmin)
	user := token(t, 7, models.RoleUser)
	p := f.product(admin, "15", 5)

	rec := f.do(http.MethodPost, "/api/v1/orders", user, orderBody(p.ID, 2))
	require.Equal(t, http.StatusCreated, rec.Code)
	order := decode[models.Order](t, rec)

	webhook := func(tok string, payload []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/internal/events", bytes.NewReader(payload))
		if tok != "" {
			req.Header.Set(WebhookToken, tok)
		}
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		return rec
	}

	paid, err := json.Marshal(models.PaymentConfirmedEvent{
		BaseEvent:    models.BaseEvent{EventID: uuid.NewString(), EventType: models.EventTypePaymentConfirmed, Timestamp: time.Now()},
		OrderNumber:  order.OrderNumber,
		Method:       "card",
		ProviderTxID: "tx-1",
		Amount:       order.FinalAmount,
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, webhook("", paid).Code)
	assert.Equal(t, http.StatusUnauthorized, webhook("wrong", paid).Code)
	assert.Equal(t, http.StatusBadRequest, webhook(testWebhook, []byte(`{"event_type":`)).Code)
	assert.Equal(t, http.StatusBadRequest, webhook(testWebhook, []byte(`{"event_id":"e","event_type":"REFUND_REQUESTED"}`)).Code)

	require.Equal(t, http.StatusAccepted, webhook(testWebhook, paid).Code)
	require.Equal(t, http.StatusAccepted, webhook(testWebhook, paid).Code)

	path := fmt.Sprintf("/api/v1/orders/%d", order.ID)
	assert.Equal(t, models.OrderStatusPaid, decode[models.Order](t, f.do(http.MethodGet, path, user, nil)).Status)

	rec = f.do(http.MethodPost, path+"/transition", user, gin.H{"status": "shipped"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	adminPath := fmt.Sprintf("/api/v1/admin/orders/%d/transition", order.ID)
	rec = f.do(http.MethodPost, adminPath, admin, gin.H{"status": "shipped", "shipping_method": "SF", "shipping_number": "SF123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "SF123", decode[models.Order](t, rec).ShippingNumber)

	rec = f.do(http.MethodPost, adminPath, admin, gin.H{"status": "refunded", "reason": "lost parcel"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.OrderStatusRefunded, decode[models.Order](t, rec).Status)
	assert.Equal(t, 5, f.stock(p.ID))

	rec = f.do(http.MethodGet, path+"/payments", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ledger := decode[struct {
		Payments []models.Payment `json:"payments"`
	}](t, rec).Payments
	require.Len(t, ledger, 2)
	net := decimal.Zero
	for _, p := range ledger {
		net = net.Add(p.Amount)
	}
	assert.True(t, net.IsZero())
}

func TestAddressBookOverHTTP(t *testing.T) {
	f := newAPI(t)
	user := token(t, 7, models.RoleUser)

	rec := f.do(http.MethodPost, "/api/v1/users/me/addresses", user, gin.H{"name": "Ana"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, name := range []string{"Home", "Office"} {
		rec = f.do(http.MethodPost, "/api/v1/users/me/addresses", user, gin.H{"name": name, "phone": "1", "detail": "d"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec = f.do(http.MethodPut, "/api/v1/users/me/addresses/1/default", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	book := decode[struct {
		Addresses models.Addresses `json:"addresses"`
	}](t, rec).Addresses
	def, ok := book.Default()
	require.True(t, ok)
	assert.Equal(t, "Office", def.Name)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/v1/users/me/addresses/9/default", user, nil).Code)
}

func TestSalesReportRequiresRange(t *testing.T) {
	f := newAPI(t)
	admin := token(t, 1, models.RoleAdmin)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/admin/reports/sales", admin, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/admin/reports/sales?start=yesterday&end=2024-07-01", admin, nil).Code)

	rec := f.do(http.MethodGet, "/api/v1/admin/reports/sales?start=2024-06-01&end=2024-07-01", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCategoriesOverHTTP(t *testing.T) {
	f := newAPI(t)
	admin := token(t, 1, models.RoleAdmin)
	user := token(t, 7, models.RoleUser)

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/api/v1/admin/categories", user, gin.H{"name": "Food"}).Code)

	rec := f.do(http.MethodPost, "/api/v1/admin/categories", admin, gin.H{"name": "Food", "is_active": true})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	food := decode[models.Category](t, rec)
	assert.Equal(t, 1, food.Level)

	rec = f.do(http.MethodPost, "/api/v1/admin/categories", admin, gin.H{"name": "Snacks", "parent_id": food.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	snacks := decode[models.Category](t, rec)
	assert.Equal(t, 2, snacks.Level)

	rec = f.do(http.MethodGet, "/api/v1/categories", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	public := decode[struct {
		Categories []models.Category `json:"categories"`
	}](t, rec).Categories
	require.Len(t, public, 1)
	assert.Equal(t, "Food", public[0].Name)

	rec = f.do(http.MethodGet, "/api/v1/admin/categories", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[struct {
		Categories []models.Category `json:"categories"`
	}](t, rec).Categories, 2)

	rec = f.do(http.MethodPut, fmt.Sprintf("/api/v1/admin/categories/%d", snacks.ID), admin, gin.H{"name": "Snacks", "is_active": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[models.Category](t, rec).Level)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, fmt.Sprintf("/api/v1/categories/%d", snacks.ID), "", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/categories/999", "", nil).Code)

	rec = f.do(http.MethodPost, "/api/v1/admin/products", admin, gin.H{"name": "Chips", "price": "3", "stock": 1, "category_id": 999})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestAdminListsUsers(t *testing.T) {
	f := newAPI(t)
	admin := token(t, 1, models.RoleAdmin)
	super := token(t, 2, models.RoleSuperAdmin)

	for _, id := range []int64{7, 8} {
		require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/users/me", token(t, id, models.RoleUser), nil).Code)
	}
	require.Equal(t, http.StatusOK, f.do(http.MethodPut, "/api/v1/admin/users/8/role", super, gin.H{"role": "admin"}).Code)

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/api/v1/admin/users", token(t, 7, models.RoleUser), nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/admin/users?role=owner", admin, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/admin/users?limit=-1", admin, nil).Code)

	rec := f.do(http.MethodGet, "/api/v1/admin/users?role=admin", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	users := decode[struct {
		Users []models.User `json:"users"`
	}](t, rec).Users
	require.Len(t, users, 1)
	assert.Equal(t, int64(8), users[0].ID)

	rec = f.do(http.MethodGet, "/api/v1/admin/users?limit=1", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users = decode[struct {
		Users []models.User `json:"users"`
	}](t, rec).Users
	require.Len(t, users, 1)
	assert.Equal(t, int64(8), users[0].ID)
}

func TestParseTokenDefaultsRole(t *testing.T) {
	tok, err := IssueToken(testSecret, 7, "", time.Hour)
	require.NoError(t, err)
	claims, err := ParseToken(testSecret, tok)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, models.RoleUser, claims.Role)

	tok, err = IssueToken(testSecret, 7, models.RoleSystem, time.Hour)
	require.NoError(t, err)
	_, err = ParseToken(testSecret, tok)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
