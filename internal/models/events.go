package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event names
const (
	EventOrderConfirmed        = "order.confirmed"
	EventOrderPaid             = "order.paid"
	EventShipmentCreated       = "shipment.created"
	EventShipmentStatusChanged = "shipment.status.changed"
)

// Event types carried on the payment-events topic
const (
	EventTypePaymentConfirmed = "PAYMENT_CONFIRMED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderConfirmedEvent published when a token promotes a temp order
type OrderConfirmedEvent struct {
	BaseEvent
	OrderID    string          `json:"order_id"`
	CustomerID string          `json:"customer_id"`
	TotalUSD   decimal.Decimal `json:"total_usd"`
	TotalVES   decimal.Decimal `json:"total_ves"`
}

// OrderPaidEvent published when an order is marked paid
type OrderPaidEvent struct {
	BaseEvent
	OrderID       string `json:"order_id"`
	CustomerID    string `json:"customer_id"`
	PaymentMethod string `json:"payment_method"`
	City          string `json:"city"`
}

// ShipmentCreatedEvent published when a shipping row is created
type ShipmentCreatedEvent struct {
	BaseEvent
	OrderID string         `json:"order_id"`
	Carrier Carrier        `json:"carrier"`
	Status  ShippingStatus `json:"status"`
}

// ShipmentStatusChangedEvent published after a status transition
type ShipmentStatusChangedEvent struct {
	BaseEvent
	OrderID  string         `json:"order_id"`
	Carrier  Carrier        `json:"carrier"`
	From     ShippingStatus `json:"from"`
	To       ShippingStatus `json:"to"`
	Tracking string         `json:"tracking,omitempty"`
	ActorID  string         `json:"actor_id,omitempty"`
}

// PaymentConfirmedEvent consumed from the payment-events topic
type PaymentConfirmedEvent struct {
	BaseEvent
	OrderID       string `json:"order_id"`
	PaymentMethod string `json:"payment_method"`
	Reference     string `json:"reference"`
}
