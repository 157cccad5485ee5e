package redisclient

import (
	"context"
	"testing"
	"time"

	"carpihogar-assistant/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewFromRedis(rdb), mr
}

func faucet(qty int) models.CartItem {
	return models.CartItem{
		ProductID: "p-tokio",
		Name:      "Grifería Negra Tokio",
		PriceUSD:  decimal.RequireFromString("45.50"),
		Quantity:  qty,
	}
}

func TestAddCartItemAccumulatesQuantity(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()
	owner := CartOwner("", "sess-1")

	line, err := c.AddCartItem(ctx, owner, faucet(1))
	require.NoError(t, err)
	assert.Equal(t, 1, line.Quantity)

	line, err = c.AddCartItem(ctx, owner, faucet(2))
	require.NoError(t, err)
	assert.Equal(t, 3, line.Quantity)
	assert.True(t, decimal.RequireFromString("45.50").Equal(line.PriceUSD))

	last, err := c.LastAddedProductID(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, "p-tokio", last)

	assert.True(t, mr.TTL("cart:session:sess-1") > 0)
}

func TestGetCartKeepsInsertionOrder(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()
	owner := CartOwner("cust-1", "sess-1")

	_, err := c.AddCartItem(ctx, owner, faucet(1))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = c.AddCartItem(ctx, owner, models.CartItem{
		ProductID: "p-lavamanos", Name: "Lavamanos", PriceUSD: decimal.NewFromInt(80), Quantity: 1,
	})
	require.NoError(t, err)

	items, err := c.GetCart(ctx, owner)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "p-tokio", items[0].ProductID)
	assert.Equal(t, "p-lavamanos", items[1].ProductID)
}

func TestSetQuantityAndRemove(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()
	owner := CartOwner("cust-1", "")

	_, err := c.SetCartItemQuantity(ctx, owner, "p-tokio", 2)
	assert.ErrorIs(t, err, ErrItemNotInCart)

	_, err = c.AddCartItem(ctx, owner, faucet(1))
	require.NoError(t, err)

	line, err := c.SetCartItemQuantity(ctx, owner, "p-tokio", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, line.Quantity)

	require.NoError(t, c.RemoveCartItem(ctx, owner, "p-tokio"))
	assert.ErrorIs(t, c.RemoveCartItem(ctx, owner, "p-tokio"), ErrItemNotInCart)

	items, err := c.GetCart(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestClaimIdempotencyKey(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()

	first, err := c.ClaimIdempotencyKey(ctx, "wa:wamid.1", time.Hour)
	require.NoError(t, err)
	second, err := c.ClaimIdempotencyKey(ctx, "wa:wamid.1", time.Hour)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
}

func TestLockIsOwnerScoped(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	token, ok, err := c.AcquireLock(ctx, "retention-sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.AcquireLock(ctx, "retention-sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, "retention-sweep", "someone-else"))
	assert.True(t, mr.Exists("lock:retention-sweep"))

	require.NoError(t, c.ReleaseLock(ctx, "retention-sweep", token))
	assert.False(t, mr.Exists("lock:retention-sweep"))
}

func TestCountAttemptSlidesWindow(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := c.CountAttempt(ctx, "purchase-token:cust-1", 10*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	assert.Equal(t, 10*time.Minute, mr.TTL("attempts:purchase-token:cust-1"))

	require.NoError(t, c.ResetAttempts(ctx, "purchase-token:cust-1"))
	n, err := c.CountAttempt(ctx, "purchase-token:cust-1", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mr.FastForward(11 * time.Minute)
	n, err = c.CountAttempt(ctx, "purchase-token:cust-1", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
