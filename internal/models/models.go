package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a catalog product as seen by the assistant
type Product struct {
	ID       string          `db:"id" json:"id"`
	Name     string          `db:"name" json:"name"`
	PriceUSD decimal.Decimal `db:"price_usd" json:"priceUSD"`
	Stock    int             `db:"stock" json:"stock"`
}

// Customer represents a registered user that can place orders
type Customer struct {
	ID    string `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Email string `db:"email" json:"email"`
	Phone string `db:"phone" json:"phone"`
}

// Address represents a saved shipping address
type Address struct {
	ID          string    `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"userId"`
	FullName    string    `db:"full_name" json:"fullName"`
	Phone       string    `db:"phone" json:"phone"`
	State       string    `db:"state" json:"state"`
	City        string    `db:"city" json:"city"`
	AddressLine string    `db:"address_line" json:"addressLine"`
	Notes       string    `db:"notes" json:"notes"`
	IsDefault   bool      `db:"is_default" json:"isDefault"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// CartItem is a line of a cart snapshot
type CartItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	PriceUSD  decimal.Decimal `json:"priceUSD"`
	Quantity  int             `json:"quantity"`
}

// LineTotal returns price times quantity
func (i CartItem) LineTotal() decimal.Decimal {
	return i.PriceUSD.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CartItems is stored as jsonb
type CartItems []CartItem

// Value implements driver.Valuer
func (c CartItems) Value() (driver.Value, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner
func (c *CartItems) Scan(src interface{}) error {
	return scanJSON(src, c)
}

// CartTotals holds the computed cart totals
type CartTotals struct {
	TotalUSD decimal.Decimal `json:"totalUSD"`
}

// CartSnapshot is a read-only view of a cart
type CartSnapshot struct {
	Items  []CartItem `json:"items"`
	Totals CartTotals `json:"totals"`
}

// NewCartSnapshot builds a snapshot and computes its totals
func NewCartSnapshot(items []CartItem) *CartSnapshot {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return &CartSnapshot{
		Items:  items,
		Totals: CartTotals{TotalUSD: total.Round(2)},
	}
}

// IsEmpty reports whether the cart has no usable lines
func (c *CartSnapshot) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// HasInvalidQuantity reports whether any line has a non-positive quantity
func (c *CartSnapshot) HasInvalidQuantity() bool {
	for _, item := range c.Items {
		if item.Quantity <= 0 {
			return true
		}
	}
	return false
}

// ShippingData is the shipping destination captured in a temp order
type ShippingData struct {
	AddressID   string `json:"addressId,omitempty"`
	FullName    string `json:"fullName,omitempty"`
	Phone       string `json:"phone,omitempty"`
	State       string `json:"state,omitempty"`
	City        string `json:"city"`
	AddressLine string `json:"addressLine"`
	Notes       string `json:"notes,omitempty"`
}

// ShippingDataFromAddress copies a saved address into shipping data
func ShippingDataFromAddress(a *Address) ShippingData {
	return ShippingData{
		AddressID:   a.ID,
		FullName:    a.FullName,
		Phone:       a.Phone,
		State:       a.State,
		City:        a.City,
		AddressLine: a.AddressLine,
		Notes:       a.Notes,
	}
}

// Value implements driver.Valuer
func (s ShippingData) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner
func (s *ShippingData) Scan(src interface{}) error {
	return scanJSON(src, s)
}

// TemporaryOrder is an immutable snapshot of a checkout attempt
type TemporaryOrder struct {
	ID           string          `db:"id" json:"id"`
	CustomerID   string          `db:"customer_id" json:"customerId"`
	Items        CartItems       `db:"items" json:"items"`
	TotalUSD     decimal.Decimal `db:"total_usd" json:"totalUSD"`
	ShippingData ShippingData    `db:"shipping_data" json:"shippingData"`
	CreatedAt    time.Time       `db:"created_at" json:"createdAt"`
}

// PurchaseToken is a one-time confirmation code bound to a temp order
type PurchaseToken struct {
	ID          string     `db:"id" json:"id"`
	CustomerID  string     `db:"customer_id" json:"customerId"`
	OrderTempID string     `db:"order_temp_id" json:"orderTempId"`
	Token       string     `db:"token" json:"-"`
	ExpiresAt   time.Time  `db:"expires_at" json:"expiresAt"`
	Used        bool       `db:"used" json:"used"`
	UsedAt      *time.Time `db:"used_at" json:"usedAt,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
}

// Order represents a confirmed customer order
type Order struct {
	ID            string          `db:"id" json:"id"`
	CustomerID    string          `db:"customer_id" json:"customerId"`
	OrderTempID   string          `db:"order_temp_id" json:"orderTempId"`
	Status        string          `db:"status" json:"status"`
	SubtotalUSD   decimal.Decimal `db:"subtotal_usd" json:"subtotalUSD"`
	IVAPercent    decimal.Decimal `db:"iva_percent" json:"ivaPercent"`
	TasaVES       decimal.Decimal `db:"tasa_ves" json:"tasaVES"`
	TotalUSD      decimal.Decimal `db:"total_usd" json:"totalUSD"`
	TotalVES      decimal.Decimal `db:"total_ves" json:"totalVES"`
	ShippingData  ShippingData    `db:"shipping_data" json:"shippingData"`
	PaymentMethod string          `db:"payment_method" json:"paymentMethod,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updatedAt"`
}

// Reference returns the short human facing order reference
func (o *Order) Reference() string {
	return OrderReference(o.ID)
}

// OrderReference shortens an order id for customer facing copy
func OrderReference(orderID string) string {
	if len(orderID) > 8 {
		orderID = orderID[:8]
	}
	return strings.ToUpper(orderID)
}

// OrderItem represents items in an order
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   string          `db:"order_id" json:"orderId"`
	ProductID string          `db:"product_id" json:"productId"`
	Name      string          `db:"name" json:"name"`
	Quantity  int             `db:"quantity" json:"quantity"`
	PriceUSD  decimal.Decimal `db:"price_usd" json:"priceUSD"`
}

// SiteSettings holds global pricing settings
type SiteSettings struct {
	IVAPercent decimal.Decimal `db:"iva_percent" json:"ivaPercent"`
	TasaVES    decimal.Decimal `db:"tasa_ves" json:"tasaVES"`
}

// Order statuses
const (
	OrderStatusPending   = "PENDIENTE"
	OrderStatusPaid      = "PAGADO"
	OrderStatusCancelled = "CANCELADO"
)

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", src)
	}
}
