package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByKind(t *testing.T) {
	err := InsufficientStock(7, 3)

	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.False(t, errors.Is(err, ErrProductNotFound))
	assert.Equal(t, int64(7), err.ProductID)
}

func TestIsMatchesCouponReason(t *testing.T) {
	err := fmt.Errorf("checkout: %w", CouponInvalid(CouponExhausted, "coupon %d exhausted", 1))

	assert.True(t, errors.Is(err, ErrCouponInvalid))
	assert.True(t, errors.Is(err, &Error{Kind: KindCouponInvalid, Reason: CouponExhausted}))
	assert.False(t, errors.Is(err, &Error{Kind: KindCouponInvalid, Reason: CouponExpired}))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ConcurrentModification("order %d", 1)))
	assert.True(t, Retryable(StorageUnavailable("reserve", context.DeadlineExceeded)))
	assert.False(t, Retryable(InsufficientStock(1, 1)))
	assert.False(t, Retryable(IllegalTransition("cancelled", "shipped")))
	assert.False(t, Retryable(errors.New("plain")))
}

func TestStorageUnavailableUnwraps(t *testing.T) {
	err := StorageUnavailable("insert order", context.DeadlineExceeded)

	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, KindStorageUnavailable, KindOf(err))
	assert.Contains(t, err.Error(), "insert order")
}
