package api

import (
	"net/http"
	"strconv"

	"storefront/internal/models"
	"storefront/internal/store"

	"github.com/gin-gonic/gin"
)

func (h *Handler) listProducts(c *gin.Context) {
	f := store.ProductFilter{Keyword: c.Query("keyword"), HotOnly: c.Query("hot") == "true"}
	var ok bool
	if f.Limit, ok = queryInt(c, "limit", 20); !ok {
		return
	}
	if f.Offset, ok = queryInt(c, "offset", 0); !ok {
		return
	}
	if raw := c.Query("category_id"); raw != "" {
		cat, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(c, "invalid category_id")
			return
		}
		f.CategoryID = &cat
	}

	products, err := h.catalog.ListProducts(c.Request.Context(), f)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) getStock(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	stock, err := h.catalog.Stock(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": id, "stock": stock})
}

func (h *Handler) createProduct(c *gin.Context) {
	var p models.Product
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err.Error())
		return
	}
	created, err := h.catalog.CreateProduct(c.Request.Context(), &p)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// updateProduct replaces catalog fields; stock only changes through adjustStock
func (h *Handler) updateProduct(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var p models.Product
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err.Error())
		return
	}
	p.ID = id
	updated, err := h.catalog.UpdateProduct(c.Request.Context(), &p)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

type stockAdjustment struct {
	Delta int `json:"delta" binding:"required"`
}

func (h *Handler) adjustStock(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req stockAdjustment
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	stock, err := h.catalog.AdjustStock(c.Request.Context(), id, req.Delta)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": id, "stock": stock})
}

func (h *Handler) lowStock(c *gin.Context) {
	products, err := h.catalog.LowStock(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) createCoupon(c *gin.Context) {
	var coupon models.Coupon
	if err := c.ShouldBindJSON(&coupon); err != nil {
		badRequest(c, err.Error())
		return
	}
	created, err := h.catalog.CreateCoupon(c.Request.Context(), &coupon)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) listCoupons(c *gin.Context) {
	coupons, err := h.catalog.ListCoupons(c.Request.Context(), c.Query("active") == "true")
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"coupons": coupons})
}

// listCategories serves the active tree; admins see inactive categories through listAllCategories
func (h *Handler) listCategories(c *gin.Context) {
	categories, err := h.catalog.ListCategories(c.Request.Context(), true)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func (h *Handler) listAllCategories(c *gin.Context) {
	categories, err := h.catalog.ListCategories(c.Request.Context(), false)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func (h *Handler) getCategory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	category, err := h.catalog.GetCategory(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, category)
}

func (h *Handler) createCategory(c *gin.Context) {
	var category models.Category
	if err := c.ShouldBindJSON(&category); err != nil {
		badRequest(c, err.Error())
		return
	}
	created, err := h.catalog.CreateCategory(c.Request.Context(), &category)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) updateCategory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var category models.Category
	if err := c.ShouldBindJSON(&category); err != nil {
		badRequest(c, err.Error())
		return
	}
	category.ID = id
	updated, err := h.catalog.UpdateCategory(c.Request.Context(), &category)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}
