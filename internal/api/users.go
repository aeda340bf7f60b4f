package api

import (
	"net/http"
	"strconv"

	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/store"

	"github.com/gin-gonic/gin"
)

func (h *Handler) getProfile(c *gin.Context) {
	user, err := h.users.Profile(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) updateProfile(c *gin.Context) {
	var upd service.ProfileUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		badRequest(c, err.Error())
		return
	}
	user, err := h.users.UpdateProfile(c.Request.Context(), actorFrom(c), upd)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) addAddress(c *gin.Context) {
	var addr models.Address
	if err := c.ShouldBindJSON(&addr); err != nil {
		badRequest(c, err.Error())
		return
	}
	book, err := h.users.AddAddress(c.Request.Context(), actorFrom(c), addr)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"addresses": book})
}

func (h *Handler) setDefaultAddress(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil {
		badRequest(c, "invalid idx")
		return
	}
	book, err := h.users.SetDefaultAddress(c.Request.Context(), actorFrom(c), idx)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"addresses": book})
}

func (h *Handler) myCoupons(c *gin.Context) {
	coupons, err := h.users.Coupons(c.Request.Context(), actorFrom(c), c.Query("status"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"coupons": coupons})
}

func (h *Handler) claimCoupon(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	uc, err := h.users.ClaimCoupon(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, uc)
}

type roleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (h *Handler) setRole(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	user, err := h.users.SetRole(c.Request.Context(), actorFrom(c), id, req.Role)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) listUsers(c *gin.Context) {
	f := store.UserFilter{Role: c.Query("role")}
	var ok bool
	if f.Limit, ok = queryInt(c, "limit", 20); !ok {
		return
	}
	if f.Offset, ok = queryInt(c, "offset", 0); !ok {
		return
	}
	users, err := h.users.ListUsers(c.Request.Context(), actorFrom(c), f)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}
