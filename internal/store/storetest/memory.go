package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"storefront/internal/errs"
	"storefront/internal/models"
	"storefront/internal/store"
)

type state struct {
	mu          sync.Mutex
	nextID      int64
	products    map[int64]*models.Product
	categories  map[int64]*models.Category
	coupons     map[int64]*models.Coupon
	userCoupons map[int64]*models.UserCoupon
	orders      map[int64]*models.Order
	users       map[int64]*models.User
	payments    []models.Payment
	events      map[string]string

	failOn        map[string]error
	afterGetOrder func(o *models.Order)
}

// Memory is an in-memory store.Repository with the same atomicity as the SQL
// store: counters change through guarded single-step updates, and a failed
// transaction is undone in reverse order. Transactions are not isolated from
// each other, so the conditional updates are what keep counters consistent.
type Memory struct {
	*state
	undo *[]func()
}

var _ store.Repository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{state: &state{
		products:    map[int64]*models.Product{},
		categories:  map[int64]*models.Category{},
		coupons:     map[int64]*models.Coupon{},
		userCoupons: map[int64]*models.UserCoupon{},
		orders:      map[int64]*models.Order{},
		users:       map[int64]*models.User{},
		events:      map[string]string{},
		failOn:      map[string]error{},
	}}
}

func (s *Memory) id() int64 {
	s.nextID++
	return s.nextID
}

// record must be called with mu held
func (s *Memory) record(fn func()) {
	if s.undo != nil {
		*s.undo = append(*s.undo, fn)
	}
}

// fail must be called with mu held
func (s *Memory) fail(op string) error {
	return s.failOn[op]
}

func (s *Memory) InTx(ctx context.Context, fn func(tx store.Repository) error) error {
	if s.undo != nil {
		return fn(s)
	}
	var undo []func()
	tx := &Memory{state: s.state, undo: &undo}
	if err := fn(tx); err != nil {
		s.mu.Lock()
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// products

func (s *Memory) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, errs.ProductNotFound(id)
	}
	cp := *p
	return &cp, nil
}

func (s *Memory) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetProductsByIDs"); err != nil {
		return nil, err
	}
	out := []models.Product{}
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) ListProducts(ctx context.Context, f store.ProductFilter) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Product{}
	for _, p := range s.products {
		if f.CategoryID != nil && (p.CategoryID == nil || *p.CategoryID != *f.CategoryID) {
			continue
		}
		if f.Keyword != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(f.Keyword)) {
			continue
		}
		if f.HotOnly && !p.IsHot {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, f.Limit, f.Offset), nil
}

func (s *Memory) ListLowStock(ctx context.Context, limit int) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Product{}
	for _, p := range s.products {
		if p.LowStock() {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stock != out[j].Stock {
			return out[i].Stock < out[j].Stock
		}
		return out[i].ID < out[j].ID
	})
	return page(out, limit, 0), nil
}

func (s *Memory) CreateProduct(ctx context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkCategory(p.CategoryID); err != nil {
		return err
	}
	p.ID = s.id()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	s.products[p.ID] = &cp
	id := p.ID
	s.record(func() { delete(s.products, id) })
	return nil
}

func (s *Memory) UpdateProduct(ctx context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.products[p.ID]
	if !ok {
		return errs.ProductNotFound(p.ID)
	}
	if err := s.checkCategory(p.CategoryID); err != nil {
		return err
	}
	before := *cur
	p.Stock = cur.Stock
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = time.Now()
	setCatalogFields(cur, p)
	s.record(func() { setCatalogFields(cur, &before) })
	return nil
}

// setCatalogFields copies everything but stock, which only the stock primitives own
func setCatalogFields(dst, src *models.Product) {
	stock := dst.Stock
	*dst = *src
	dst.Stock = stock
}

// checkCategory mirrors the products.category_id foreign key; mu must be held
func (s *Memory) checkCategory(id *int64) error {
	if id == nil {
		return nil
	}
	if _, ok := s.categories[*id]; !ok {
		return errs.InvalidInput("category %d does not exist", *id)
	}
	return nil
}

// categories

func (s *Memory) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok {
		return nil, errs.NotFound("category %d not found", id)
	}
	cp := *c
	return &cp, nil
}

func (s *Memory) GetCategoriesByIDs(ctx context.Context, ids []int64) ([]models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Category{}
	for _, id := range ids {
		if c, ok := s.categories[id]; ok {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) ListCategories(ctx context.Context, activeOnly bool) ([]models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Category{}
	for _, c := range s.categories {
		if activeOnly && !c.IsActive {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (s *Memory) CountChildCategories(ctx context.Context, id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.categories {
		if c.ParentID != nil && *c.ParentID == id {
			n++
		}
	}
	return n, nil
}

func (s *Memory) CreateCategory(ctx context.Context, c *models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ParentID != nil {
		if _, ok := s.categories[*c.ParentID]; !ok {
			return errs.InvalidInput("parent category %d does not exist", *c.ParentID)
		}
	}
	c.ID = s.id()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	s.categories[c.ID] = &cp
	id := c.ID
	s.record(func() { delete(s.categories, id) })
	return nil
}

func (s *Memory) UpdateCategory(ctx context.Context, c *models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.categories[c.ID]
	if !ok {
		return errs.NotFound("category %d not found", c.ID)
	}
	if c.ParentID != nil {
		if _, ok := s.categories[*c.ParentID]; !ok {
			return errs.InvalidInput("parent category %d does not exist", *c.ParentID)
		}
	}
	before := *cur
	c.CreatedAt = cur.CreatedAt
	c.UpdatedAt = time.Now()
	*cur = *c
	s.record(func() { *cur = before })
	return nil
}

func (s *Memory) DecrementStock(ctx context.Context, productID int64, qty int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DecrementStock"); err != nil {
		return 0, err
	}
	p, ok := s.products[productID]
	if !ok {
		return 0, errs.ProductNotFound(productID)
	}
	if p.Stock < qty {
		return 0, errs.InsufficientStock(productID, qty)
	}
	p.Stock -= qty
	s.record(func() { p.Stock += qty })
	return p.Stock, nil
}

func (s *Memory) IncrementStock(ctx context.Context, productID int64, qty int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return 0, errs.ProductNotFound(productID)
	}
	p.Stock += qty
	s.record(func() { p.Stock -= qty })
	return p.Stock, nil
}

// coupons

func (s *Memory) CreateCoupon(ctx context.Context, c *models.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.id()
	cp := *c
	s.coupons[c.ID] = &cp
	return nil
}

func (s *Memory) GetCoupon(ctx context.Context, id int64) (*models.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[id]
	if !ok {
		return nil, errs.NotFound("coupon %d not found", id)
	}
	cp := *c
	return &cp, nil
}

func (s *Memory) ListCoupons(ctx context.Context, activeOnly bool) ([]models.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Coupon{}
	for _, c := range s.coupons {
		if activeOnly && !c.IsActive {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) IncrementCouponUsage(ctx context.Context, couponID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[couponID]
	if !ok || c.UsedCount >= c.TotalCount {
		return errs.CouponInvalid(errs.CouponExhausted, "coupon %d has no remaining uses", couponID)
	}
	c.UsedCount++
	s.record(func() { c.UsedCount-- })
	return nil
}

func (s *Memory) DecrementCouponUsage(ctx context.Context, couponID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[couponID]
	if !ok || c.UsedCount == 0 {
		return nil
	}
	c.UsedCount--
	s.record(func() { c.UsedCount++ })
	return nil
}

func (s *Memory) LockUserCoupons(ctx context.Context, userID, couponID int64) ([]models.UserCoupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.UserCoupon{}
	for _, uc := range s.userCoupons {
		if uc.UserID == userID && uc.CouponID == couponID {
			out = append(out, *uc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) ClaimCoupon(ctx context.Context, uc *models.UserCoupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	uc.ID = s.id()
	cp := *uc
	s.userCoupons[uc.ID] = &cp
	id := uc.ID
	s.record(func() { delete(s.userCoupons, id) })
	return nil
}

func (s *Memory) MarkUserCouponUsed(ctx context.Context, userCouponID int64, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	uc, ok := s.userCoupons[userCouponID]
	if !ok || uc.Status != models.UserCouponUnused {
		return errs.CouponInvalid(errs.CouponNotOwned, "coupon instance %d is not available", userCouponID)
	}
	old := *uc
	uc.Status = models.UserCouponUsed
	uc.UsedTime = &usedAt
	s.record(func() { *uc = old })
	return nil
}

func (s *Memory) AttachUserCouponOrder(ctx context.Context, userCouponID, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uc, ok := s.userCoupons[userCouponID]; ok {
		old := *uc
		uc.OrderID = &orderID
		s.record(func() { *uc = old })
	}
	return nil
}

func (s *Memory) ReleaseUserCoupon(ctx context.Context, userCouponID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	uc, ok := s.userCoupons[userCouponID]
	if !ok || uc.Status != models.UserCouponUsed {
		return nil
	}
	old := *uc
	uc.Status = models.UserCouponUnused
	uc.OrderID = nil
	uc.UsedTime = nil
	s.record(func() { *uc = old })
	return nil
}

func (s *Memory) ListUserCoupons(ctx context.Context, userID int64, status string) ([]models.UserCoupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.UserCoupon{}
	for _, uc := range s.userCoupons {
		if uc.UserID == userID && (status == "" || uc.Status == status) {
			out = append(out, *uc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Memory) ExpireUserCoupons(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, uc := range s.userCoupons {
		if uc.Status == models.UserCouponUnused && uc.ExpireTime.Before(now) {
			uc.Status = models.UserCouponExpired
			n++
		}
	}
	return n, nil
}

// orders

func (s *Memory) InsertOrder(ctx context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertOrder"); err != nil {
		return err
	}
	for _, existing := range s.orders {
		if existing.OrderNumber == o.OrderNumber {
			return errs.ConcurrentModification("order number %s already exists", o.OrderNumber)
		}
		if o.IdempotencyKey != "" && existing.UserID == o.UserID && existing.IdempotencyKey == o.IdempotencyKey {
			return errs.ConcurrentModification("idempotency key %s already used", o.IdempotencyKey)
		}
	}
	o.ID = s.id()
	for i := range o.Items {
		o.Items[i].ID = s.id()
		o.Items[i].OrderID = o.ID
	}
	s.orders[o.ID] = o.Clone()
	id := o.ID
	s.record(func() { delete(s.orders, id) })
	return nil
}

func (s *Memory) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	o, ok := s.orders[id]
	if !ok {
		s.mu.Unlock()
		return nil, errs.OrderNotFound(id)
	}
	cp := o.Clone()
	hook := s.afterGetOrder
	s.mu.Unlock()

	if hook != nil {
		hook(cp)
	}
	return cp, nil
}

func (s *Memory) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.OrderNumber == number {
			return o.Clone(), nil
		}
	}
	return nil, errs.OrderNotFound(number)
}

func (s *Memory) GetOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.UserID == userID && o.IdempotencyKey == key {
			return o.Clone(), nil
		}
	}
	return nil, nil
}

func (s *Memory) UpdateOrder(ctx context.Context, o *models.Order, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpdateOrder"); err != nil {
		return err
	}
	old, ok := s.orders[o.ID]
	if !ok || old.Version != expectedVersion {
		return errs.ConcurrentModification("order %d changed since version %d was read", o.ID, expectedVersion)
	}
	o.Version = expectedVersion + 1
	s.orders[o.ID] = o.Clone()
	s.record(func() { s.orders[old.ID] = old })
	return nil
}

func (s *Memory) ListOrders(ctx context.Context, f store.OrderFilter) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Order{}
	for _, o := range s.orders {
		if f.UserID != nil && o.UserID != *f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.From != nil && o.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !o.CreatedAt.Before(*f.To) {
			continue
		}
		out = append(out, *o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, f.Limit, f.Offset), nil
}

func (s *Memory) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Order{}
	for _, o := range s.orders {
		if o.Status == models.OrderStatusPending && o.CreatedAt.Before(cutoff) {
			out = append(out, *o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, limit, 0), nil
}

func (s *Memory) ListCompletedBetween(ctx context.Context, start, end time.Time) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Order{}
	for _, o := range s.orders {
		if o.Status != models.OrderStatusCompleted || o.CompleteTime == nil {
			continue
		}
		if o.CompleteTime.Before(start) || !o.CompleteTime.Before(end) {
			continue
		}
		out = append(out, *o.Clone())
	}
	return out, nil
}

// users

func (s *Memory) EnsureUser(ctx context.Context, id int64, role string) (*models.User, error) {
	s.mu.Lock()
	if _, ok := s.users[id]; !ok {
		s.users[id] = &models.User{ID: id, Role: role, Addresses: models.Addresses{}}
	}
	s.mu.Unlock()
	return s.GetUser(ctx, id)
}

func (s *Memory) GetUser(ctx context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, errs.NotFound("user %d not found", id)
	}
	cp := *u
	cp.Addresses = append(models.Addresses{}, u.Addresses...)
	return &cp, nil
}

func (s *Memory) UpdateProfile(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.users[u.ID]
	if !ok {
		return errs.NotFound("user %d not found", u.ID)
	}
	stored.Nickname, stored.AvatarURL, stored.Phone = u.Nickname, u.AvatarURL, u.Phone
	return nil
}

func (s *Memory) UpdateAddresses(ctx context.Context, userID int64, addrs models.Addresses) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.users[userID]
	if !ok {
		return errs.NotFound("user %d not found", userID)
	}
	stored.Addresses = append(models.Addresses{}, addrs...)
	return nil
}

func (s *Memory) UpdateUserRole(ctx context.Context, userID int64, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.users[userID]
	if !ok {
		return errs.NotFound("user %d not found", userID)
	}
	stored.Role = role
	return nil
}

func (s *Memory) ListUsers(ctx context.Context, f store.UserFilter) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.User{}
	for _, u := range s.users {
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		cp := *u
		cp.Addresses = append(models.Addresses{}, u.Addresses...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, f.Limit, f.Offset), nil
}

// payments and events

func (s *Memory) CreatePayment(ctx context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.payments {
		if existing.ProviderTxID == p.ProviderTxID {
			return errs.ConcurrentModification("payment %s already recorded", p.ProviderTxID)
		}
	}
	p.ID = s.id()
	p.CreatedAt = time.Now()
	s.payments = append(s.payments, *p)
	n := len(s.payments)
	s.record(func() { s.payments = s.payments[:n-1] })
	return nil
}

func (s *Memory) ListPayments(ctx context.Context, orderID int64) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Payment{}
	for _, p := range s.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Memory) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.events[eventID]
	return ok, nil
}

func (s *Memory) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[eventID]; ok {
		return false, nil
	}
	s.events[eventID] = eventType
	s.record(func() { delete(s.events, eventID) })
	return true, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// FailOn makes op return err until it is called again with a nil err.
// Supported ops: GetProductsByIDs, DecrementStock, InsertOrder, UpdateOrder.
func (s *Memory) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOn, op)
		return
	}
	s.failOn[op] = err
}

// OnGetOrder registers fn to run after every GetOrder, outside the store lock
func (s *Memory) OnGetOrder(fn func(o *models.Order)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterGetOrder = fn
}

// BumpVersion simulates a concurrent writer committing a change to the order
func (s *Memory) BumpVersion(orderID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[orderID].Version++
}

// SetCreatedAt backdates or postdates an order
func (s *Memory) SetCreatedAt(orderID int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[orderID].CreatedAt = at
}

func (s *Memory) Stock(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].Stock
}

func (s *Memory) UsedCount(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coupons[id].UsedCount
}

func (s *Memory) UserCoupon(id int64) models.UserCoupon {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.userCoupons[id]
}

func (s *Memory) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}
