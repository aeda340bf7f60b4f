package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// slidingWindowScript admits a request when fewer than ARGV[5] requests were
// admitted in the last ARGV[3] seconds. Returns -1 when the limit is hit.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowSec = tonumber(ARGV[3])
local member = ARGV[4]
local limit = tonumber(ARGV[5])

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, member)
  redis.call('EXPIRE', key, windowSec)
  return count + 1
end
return -1
`

// releaseLockScript deletes the lock only while it still holds our token
const releaseLockScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

type Client struct {
	rdb          *redis.Client
	stockTTL     time.Duration
	rateScript   *redis.Script
	unlockScript *redis.Script
}

// NewClient creates a new Redis client and verifies connectivity
func NewClient(addr, password string, db int, stockTTL time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return New(rdb, stockTTL), nil
}

// New wraps an existing go-redis client
func New(rdb *redis.Client, stockTTL time.Duration) *Client {
	return &Client{
		rdb:          rdb,
		stockTTL:     stockTTL,
		rateScript:   redis.NewScript(slidingWindowScript),
		unlockScript: redis.NewScript(releaseLockScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks connectivity for /ready
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func stockKey(productID int64) string {
	return fmt.Sprintf("stock:%d", productID)
}

// SetStock caches the stock level the database reported after a mutation
func (c *Client) SetStock(ctx context.Context, productID int64, stock int) error {
	if err := c.rdb.Set(ctx, stockKey(productID), stock, c.stockTTL).Err(); err != nil {
		return fmt.Errorf("cache stock for product %d: %w", productID, err)
	}
	return nil
}

// GetStock returns the cached stock level. ok is false on a cache miss.
func (c *Client) GetStock(ctx context.Context, productID int64) (stock int, ok bool, err error) {
	val, err := c.rdb.Get(ctx, stockKey(productID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read cached stock for product %d: %w", productID, err)
	}

	stock, err = strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt cached stock for product %d: %w", productID, err)
	}
	return stock, true, nil
}

// InvalidateStock drops the cached stock level
func (c *Client) InvalidateStock(ctx context.Context, productID int64) error {
	return c.rdb.Del(ctx, stockKey(productID)).Err()
}

// AcquireLock takes a short-lived lock and returns the token needed to release it.
// acquired is false when somebody else holds the lock.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (token string, acquired bool, err error) {
	token = uuid.NewString()
	acquired, err = c.rdb.SetNX(ctx, "lock:"+lockKey, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", lockKey, err)
	}
	return token, acquired, nil
}

// ReleaseLock releases a lock if token still owns it
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	if err := c.unlockScript.Run(ctx, c.rdb, []string{"lock:" + lockKey}, token).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", lockKey, err)
	}
	return nil
}

// Allow applies a sliding window rate limit to key
func (c *Client) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	windowSec := int64(window.Seconds())
	if windowSec < 1 {
		windowSec = 1
	}
	nowMs := now.UnixMilli()
	windowStart := nowMs - windowSec*1000
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()[:8])

	res, err := c.rateScript.Run(ctx, c.rdb, []string{"rate_limit:" + key},
		nowMs, windowStart, windowSec, member, limit).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit script failed: %w", err)
	}
	return res >= 0, nil
}
