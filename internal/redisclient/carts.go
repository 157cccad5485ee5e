package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"carpihogar-assistant/internal/models"

	"github.com/go-redis/redis/v8"
)

// ErrItemNotInCart is returned when a cart line does not exist
var ErrItemNotInCart = errors.New("item not in cart")

type cartLine struct {
	models.CartItem
	AddedAt int64 `json:"addedAt"`
}

// CartOwner builds the cart owner key: the customer when authenticated,
// the assistant session otherwise
func CartOwner(customerID, sessionID string) string {
	if customerID != "" {
		return "customer:" + customerID
	}
	return "session:" + sessionID
}

func cartKey(owner string) string {
	return fmt.Sprintf("cart:%s", owner)
}

func lastAddedKey(owner string) string {
	return fmt.Sprintf("cart:%s:last", owner)
}

// AddCartItem adds quantity units of a product, creating the line if needed
func (c *Client) AddCartItem(ctx context.Context, owner string, item models.CartItem) (*models.CartItem, error) {
	line := cartLine{CartItem: item, AddedAt: time.Now().UnixMilli()}
	payload, err := json.Marshal(line)
	if err != nil {
		return nil, fmt.Errorf("marshal cart line failed: %w", err)
	}

	raw, err := c.cartAdd.Run(ctx, c.rdb,
		[]string{cartKey(owner), lastAddedKey(owner)},
		item.ProductID, string(payload), item.Quantity, int(CartTTL.Seconds()),
	).Text()
	if err != nil {
		return nil, fmt.Errorf("cart add script failed: %w", err)
	}

	return decodeLine(raw)
}

// SetCartItemQuantity overwrites the quantity of an existing line
func (c *Client) SetCartItemQuantity(ctx context.Context, owner, productID string, quantity int) (*models.CartItem, error) {
	raw, err := c.cartSetQuantity.Run(ctx, c.rdb,
		[]string{cartKey(owner)},
		productID, quantity, int(CartTTL.Seconds()),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, ErrItemNotInCart
	}
	if err != nil {
		return nil, fmt.Errorf("cart set quantity script failed: %w", err)
	}

	return decodeLine(raw)
}

// RemoveCartItem deletes a line from the cart
func (c *Client) RemoveCartItem(ctx context.Context, owner, productID string) error {
	removed, err := c.rdb.HDel(ctx, cartKey(owner), productID).Result()
	if err != nil {
		return fmt.Errorf("redis hdel failed: %w", err)
	}
	if removed == 0 {
		return ErrItemNotInCart
	}
	return nil
}

// GetCart returns the cart lines in the order they were added
func (c *Client) GetCart(ctx context.Context, owner string) ([]models.CartItem, error) {
	fields, err := c.rdb.HGetAll(ctx, cartKey(owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}

	lines := make([]cartLine, 0, len(fields))
	for _, raw := range fields {
		var line cartLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return nil, fmt.Errorf("unmarshal cart line failed: %w", err)
		}
		lines = append(lines, line)
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].AddedAt < lines[j].AddedAt })

	items := make([]models.CartItem, len(lines))
	for i, line := range lines {
		items[i] = line.CartItem
	}
	return items, nil
}

// LastAddedProductID returns the product most recently added to the cart
func (c *Client) LastAddedProductID(ctx context.Context, owner string) (string, error) {
	id, err := c.rdb.Get(ctx, lastAddedKey(owner)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrItemNotInCart
	}
	return id, err
}

// ClearCart removes every line of the cart
func (c *Client) ClearCart(ctx context.Context, owner string) error {
	return c.rdb.Del(ctx, cartKey(owner), lastAddedKey(owner)).Err()
}

func decodeLine(raw string) (*models.CartItem, error) {
	var line cartLine
	if err := json.Unmarshal([]byte(raw), &line); err != nil {
		return nil, fmt.Errorf("unmarshal cart line failed: %w", err)
	}
	return &line.CartItem, nil
}
