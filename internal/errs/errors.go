package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and the API layer.
type Kind string

const (
	KindProductNotFound        Kind = "product_not_found"
	KindOrderNotFound          Kind = "order_not_found"
	KindNotFound               Kind = "not_found"
	KindInsufficientStock      Kind = "insufficient_stock"
	KindCouponInvalid          Kind = "coupon_invalid"
	KindIllegalTransition      Kind = "illegal_transition"
	KindConcurrentModification Kind = "concurrent_modification"
	KindStorageUnavailable     Kind = "storage_unavailable"
	KindPermissionDenied       Kind = "permission_denied"
	KindInvalidInput           Kind = "invalid_input"
)

// CouponReason is the sub-reason attached to a coupon_invalid error.
type CouponReason string

const (
	CouponExpired       CouponReason = "expired"
	CouponExhausted     CouponReason = "exhausted"
	CouponLimitReached  CouponReason = "limit_reached"
	CouponScopeMismatch CouponReason = "scope_mismatch"
	CouponBelowMinimum  CouponReason = "below_minimum"
	CouponNotOwned      CouponReason = "not_owned"
)

// Error is the typed failure returned by the service and storage layers.
type Error struct {
	Kind      Kind         `json:"kind"`
	Reason    CouponReason `json:"reason,omitempty"`
	Message   string       `json:"message"`
	ProductID int64        `json:"product_id,omitempty"`
	Err       error        `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on kind (and reason when the target carries one), so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Sentinels for errors.Is comparisons
var (
	ErrProductNotFound        = &Error{Kind: KindProductNotFound, Message: "product not found"}
	ErrOrderNotFound          = &Error{Kind: KindOrderNotFound, Message: "order not found"}
	ErrNotFound               = &Error{Kind: KindNotFound, Message: "resource not found"}
	ErrInsufficientStock      = &Error{Kind: KindInsufficientStock, Message: "insufficient stock"}
	ErrCouponInvalid          = &Error{Kind: KindCouponInvalid, Message: "coupon invalid"}
	ErrIllegalTransition      = &Error{Kind: KindIllegalTransition, Message: "illegal order transition"}
	ErrConcurrentModification = &Error{Kind: KindConcurrentModification, Message: "resource was modified concurrently"}
	ErrStorageUnavailable     = &Error{Kind: KindStorageUnavailable, Message: "storage unavailable"}
	ErrPermissionDenied       = &Error{Kind: KindPermissionDenied, Message: "permission denied"}
	ErrInvalidInput           = &Error{Kind: KindInvalidInput, Message: "invalid input"}
)

func ProductNotFound(productID int64) *Error {
	return &Error{
		Kind:      KindProductNotFound,
		Message:   fmt.Sprintf("product %d not found", productID),
		ProductID: productID,
	}
}

func OrderNotFound(ref any) *Error {
	return &Error{Kind: KindOrderNotFound, Message: fmt.Sprintf("order %v not found", ref)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// InsufficientStock names the first short line item.
func InsufficientStock(productID int64, requested int) *Error {
	return &Error{
		Kind:      KindInsufficientStock,
		Message:   fmt.Sprintf("insufficient stock for product %d (requested %d)", productID, requested),
		ProductID: productID,
	}
}

func CouponInvalid(reason CouponReason, format string, args ...any) *Error {
	return &Error{
		Kind:    KindCouponInvalid,
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
	}
}

func IllegalTransition(from, to string) *Error {
	return &Error{
		Kind:    KindIllegalTransition,
		Message: fmt.Sprintf("cannot transition order from %s to %s", from, to),
	}
}

func ConcurrentModification(format string, args ...any) *Error {
	return &Error{Kind: KindConcurrentModification, Message: fmt.Sprintf(format, args...)}
}

// StorageUnavailable wraps a driver or connectivity failure.
func StorageUnavailable(op string, err error) *Error {
	return &Error{
		Kind:    KindStorageUnavailable,
		Message: fmt.Sprintf("storage unavailable during %s", op),
		Err:     err,
	}
}

func PermissionDenied(format string, args ...any) *Error {
	return &Error{Kind: KindPermissionDenied, Message: fmt.Sprintf(format, args...)}
}

func InvalidInput(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether a caller may retry after re-reading current state.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindConcurrentModification, KindStorageUnavailable:
		return true
	}
	return false
}
