package api

import (
	"net/http"

	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/store"

	"github.com/gin-gonic/gin"
)

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	actor := actorFrom(c)
	order, err := h.orders.PlaceOrder(c.Request.Context(), actor.UserID, &req, c.GetHeader(IdempotencyKey))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// getOrder returns an order the caller may see
func (h *Handler) getOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// getPayments returns the payment ledger of a visible order
func (h *Handler) getPayments(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if _, err := h.orders.GetOrder(c.Request.Context(), actorFrom(c), id); err != nil {
		h.writeError(c, err)
		return
	}
	payments, err := h.payments.GetPayments(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

func (h *Handler) listMyOrders(c *gin.Context) {
	h.listOrders(c, false)
}

func (h *Handler) listAllOrders(c *gin.Context) {
	h.listOrders(c, true)
}

// listOrders scopes customers to their own orders; admins may filter by user
func (h *Handler) listOrders(c *gin.Context, allowUserFilter bool) {
	var f store.OrderFilter
	var ok bool
	if f.Limit, ok = queryInt(c, "limit", 20); !ok {
		return
	}
	if f.Offset, ok = queryInt(c, "offset", 0); !ok {
		return
	}
	if f.From, ok = queryTime(c, "from"); !ok {
		return
	}
	if f.To, ok = queryTime(c, "to"); !ok {
		return
	}
	if status := c.Query("status"); status != "" {
		f.Status = models.OrderStatus(status)
		if !f.Status.IsValid() {
			badRequest(c, "invalid status")
			return
		}
	}
	if allowUserFilter && c.Query("user_id") != "" {
		userID, ok := queryInt(c, "user_id", 0)
		if !ok {
			return
		}
		uid := int64(userID)
		f.UserID = &uid
	}

	orders, err := h.orders.ListOrders(c.Request.Context(), actorFrom(c), f)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	order, err := h.orders.Cancel(c.Request.Context(), actorFrom(c), id, req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) confirmReceipt(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	order, err := h.orders.ConfirmReceipt(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) completeOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	order, err := h.orders.Complete(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type transitionRequest struct {
	Status         models.OrderStatus `json:"status" binding:"required"`
	Reason         string             `json:"reason"`
	ShippingMethod string             `json:"shipping_method"`
	ShippingNumber string             `json:"shipping_number"`
}

// transitionOrder drives an administrative status change. Refunds go
// through the payment service so the ledger records the reversal.
func (h *Handler) transitionOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !req.Status.IsValid() {
		badRequest(c, "invalid status")
		return
	}

	actor := actorFrom(c)
	var (
		order *models.Order
		err   error
	)
	if req.Status == models.OrderStatusRefunded {
		order, err = h.payments.Refund(c.Request.Context(), actor, id, req.Reason)
	} else {
		order, err = h.orders.Transition(c.Request.Context(), service.TransitionInput{
			OrderID:        id,
			Target:         req.Status,
			Actor:          actor,
			Reason:         req.Reason,
			ShippingMethod: req.ShippingMethod,
			ShippingNumber: req.ShippingNumber,
		})
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// salesReport aggregates completed orders in [start, end)
func (h *Handler) salesReport(c *gin.Context) {
	start, ok := queryTime(c, "start")
	if !ok {
		return
	}
	end, ok := queryTime(c, "end")
	if !ok {
		return
	}
	if start == nil || end == nil {
		badRequest(c, "start and end are required")
		return
	}
	top, ok := queryInt(c, "top", 10)
	if !ok {
		return
	}

	report, err := h.reports.Sales(c.Request.Context(), *start, *end, top)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
