package models

import "time"

// ShippingStatus is the lifecycle state of a shipment
type ShippingStatus string

// Shipping statuses, in lifecycle order. Incidencia sits outside the ordering.
const (
	ShippingPending    ShippingStatus = "PENDIENTE"
	ShippingPreparing  ShippingStatus = "PREPARANDO"
	ShippingDispatched ShippingStatus = "DESPACHADO"
	ShippingInTransit  ShippingStatus = "EN_TRANSITO"
	ShippingDelivered  ShippingStatus = "ENTREGADO"
	ShippingIncident   ShippingStatus = "INCIDENCIA"
)

// ShippingLifecycle lists the ordered states
var ShippingLifecycle = []ShippingStatus{
	ShippingPending,
	ShippingPreparing,
	ShippingDispatched,
	ShippingInTransit,
	ShippingDelivered,
}

// Ordinal returns the position of the status in the lifecycle, or -1
func (s ShippingStatus) Ordinal() int {
	for i, st := range ShippingLifecycle {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known status
func (s ShippingStatus) Valid() bool {
	return s == ShippingIncident || s.Ordinal() >= 0
}

// Carrier is the logistics operator of a shipment
type Carrier string

const (
	CarrierDelivery Carrier = "DELIVERY"
	CarrierMRW      Carrier = "MRW"
	CarrierTealca   Carrier = "TEALCA"
)

// Shipping channels
const (
	ChannelInternal = "INTERNO"
	ChannelCourier  = "COURIER"
)

// ChannelFor returns the fulfillment channel of a carrier
func ChannelFor(c Carrier) string {
	if c == CarrierDelivery {
		return ChannelInternal
	}
	return ChannelCourier
}

// Shipping is the fulfillment record of an order
type Shipping struct {
	OrderID      string         `db:"order_id" json:"orderId"`
	Carrier      Carrier        `db:"carrier" json:"carrier"`
	Channel      string         `db:"channel" json:"channel"`
	Status       ShippingStatus `db:"status" json:"status"`
	Tracking     *string        `db:"tracking" json:"tracking,omitempty"`
	AssignedToID *string        `db:"assigned_to_id" json:"assignedToId,omitempty"`
	Observations *string        `db:"observations" json:"observations,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updatedAt"`
}

// IsAssignedTo reports whether the shipment is assigned to the given user
func (s *Shipping) IsAssignedTo(userID string) bool {
	return s.AssignedToID != nil && *s.AssignedToID == userID && userID != ""
}

// Role is the role of an authenticated actor
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleDelivery Role = "DELIVERY"
	RoleCustomer Role = "CLIENTE"
	RoleSeller   Role = "VENDEDOR"
	RoleAlly     Role = "ALIADO"
)

// Actor is the authenticated user performing an operation
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}
