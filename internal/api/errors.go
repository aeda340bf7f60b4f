package api

import (
	"errors"
	"net/http"

	"storefront/internal/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorBody struct {
	Kind      string `json:"kind"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message"`
	ProductID int64  `json:"product_id,omitempty"`
}

// statusFor maps an error kind to the HTTP status clients see
func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindProductNotFound, errs.KindOrderNotFound, errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindInsufficientStock, errs.KindIllegalTransition, errs.KindConcurrentModification:
		return http.StatusConflict
	case errs.KindCouponInvalid:
		return http.StatusUnprocessableEntity
	case errs.KindPermissionDenied:
		return http.StatusForbidden
	case errs.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case errs.KindInvalidInput:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var e *errs.Error
	if !errors.As(err, &e) {
		h.logger.Error("Unhandled error",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, errorBody{Kind: "internal", Message: "internal error"})
		return
	}

	status := statusFor(e.Kind)
	body := errorBody{
		Kind:      string(e.Kind),
		Reason:    string(e.Reason),
		Message:   e.Message,
		ProductID: e.ProductID,
	}
	if e.Kind == errs.KindStorageUnavailable {
		h.logger.Error("Storage unavailable", zap.String("path", c.FullPath()), zap.Error(err))
		body.Message = "storage unavailable, retry later"
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorBody{Kind: string(errs.KindInvalidInput), Message: message})
}
