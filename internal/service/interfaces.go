package service

import (
	"context"
	"time"

	"carpihogar-assistant/internal/messaging"
	"carpihogar-assistant/internal/models"
	"carpihogar-assistant/internal/store"
)

// CartStore is the cart snapshot provider. Carts are keyed by owner, see redisclient.CartOwner.
type CartStore interface {
	AddCartItem(ctx context.Context, owner string, item models.CartItem) (*models.CartItem, error)
	SetCartItemQuantity(ctx context.Context, owner, productID string, quantity int) (*models.CartItem, error)
	RemoveCartItem(ctx context.Context, owner, productID string) error
	GetCart(ctx context.Context, owner string) ([]models.CartItem, error)
	LastAddedProductID(ctx context.Context, owner string) (string, error)
	ClearCart(ctx context.Context, owner string) error
}

// Catalog resolves products from free text
type Catalog interface {
	SearchProducts(ctx context.Context, query string, limit int) ([]models.Product, error)
	GetProductByID(ctx context.Context, id string) (*models.Product, error)
}

// CustomerDirectory looks up registered customers
type CustomerDirectory interface {
	GetCustomerByID(ctx context.Context, id string) (*models.Customer, error)
	FindCustomerByPhone(ctx context.Context, variants []string) (*models.Customer, error)
}

// AddressResolver lists saved addresses, default first
type AddressResolver interface {
	ListAddresses(ctx context.Context, userID string) ([]models.Address, error)
}

// TempOrderRepository persists temporary orders
type TempOrderRepository interface {
	CreateTemporaryOrder(ctx context.Context, t *models.TemporaryOrder) error
	GetTemporaryOrder(ctx context.Context, id string) (*models.TemporaryOrder, error)
	LatestTemporaryOrder(ctx context.Context, customerID string) (*models.TemporaryOrder, error)
}

// TokenRepository persists purchase tokens. Consume methods must mark the
// token used atomically and return store.ErrNotFound when nothing matched.
type TokenRepository interface {
	CreatePurchaseToken(ctx context.Context, t *models.PurchaseToken) error
	ConsumePurchaseToken(ctx context.Context, customerID, code string, now time.Time) (*models.PurchaseToken, error)
	ConsumeLatestPurchaseToken(ctx context.Context, customerID string, now time.Time) (*models.PurchaseToken, error)
	ExpirePurchaseTokens(ctx context.Context, customerID string) (int64, error)
}

// OrderRepository persists real orders
type OrderRepository interface {
	CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
	LatestOrderByStatus(ctx context.Context, customerID, status string) (*models.Order, error)
	MarkOrderPaid(ctx context.Context, orderID, paymentMethod string) (*models.Order, bool, error)
}

// SettingsProvider returns the current pricing settings
type SettingsProvider interface {
	GetSiteSettings(ctx context.Context) (*models.SiteSettings, error)
}

// ShippingRepository persists shipments. MutateShipping serializes writes per order.
type ShippingRepository interface {
	GetShipping(ctx context.Context, orderID string) (*models.Shipping, error)
	MutateShipping(ctx context.Context, orderID string, mutate store.ShippingMutation) (*models.Shipping, error)
}

// Messenger sends WhatsApp text messages
type Messenger interface {
	SendWhatsAppMessage(ctx context.Context, msg messaging.OutboundMessage) messaging.SendResult
}

// IdempotencyStore claims keys that must be acted on once
type IdempotencyStore interface {
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// AttemptLimiter counts confirmation attempts inside a sliding window
type AttemptLimiter interface {
	CountAttempt(ctx context.Context, key string, window time.Duration) (int64, error)
	ResetAttempts(ctx context.Context, key string) error
}

// ProcessedEvents records consumed external events
type ProcessedEvents interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}
