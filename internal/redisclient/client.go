package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/cart_add.lua
var cartAddScript string

//go:embed scripts/cart_set_quantity.lua
var cartSetQuantityScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

// CartTTL matches the lifetime of the assistant session cookie
const CartTTL = 30 * 24 * time.Hour

type Client struct {
	rdb             *redis.Client
	cartAdd         *redis.Script
	cartSetQuantity *redis.Script
	releaseLock     *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
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

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing go-redis client
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:             rdb,
		cartAdd:         redis.NewScript(cartAddScript),
		cartSetQuantity: redis.NewScript(cartSetQuantityScript),
		releaseLock:     redis.NewScript(releaseLockScript),
	}
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// ClaimIdempotencyKey records key with a TTL. It reports false when the key
// was already claimed.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("idempotency:%s", key), "1", ttl).Result()
}

// CountAttempt increments the counter at key and returns the new count. Every
// attempt pushes the expiry out to window.
func (c *Client) CountAttempt(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := fmt.Sprintf("attempts:%s", key)
	var incr *redis.IntCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, window)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// ResetAttempts clears the counter at key
func (c *Client) ResetAttempts(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("attempts:%s", key)).Err()
}

// AcquireLock acquires a distributed lock and returns its owner token
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// ReleaseLock releases a lock only if it is still owned by token
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	return c.releaseLock.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Err()
}
