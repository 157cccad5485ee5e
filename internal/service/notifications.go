package service

import (
	"context"
	"fmt"

	"carpihogar-assistant/internal/eventbus"
	"carpihogar-assistant/internal/messaging"
	"carpihogar-assistant/internal/models"
	"carpihogar-assistant/internal/redisclient"
	"carpihogar-assistant/internal/util"

	"go.uber.org/zap"
)

var statusTemplates = map[models.ShippingStatus]string{
	models.ShippingPreparing:  "Carpihogar: tu pedido #%s está en preparación.",
	models.ShippingDispatched: "Carpihogar: tu pedido #%s fue despachado.",
	models.ShippingInTransit:  "Carpihogar: tu pedido #%s va en camino.",
	models.ShippingDelivered:  "Carpihogar: tu pedido #%s fue entregado. ¡Gracias por tu compra!",
	models.ShippingIncident:   "Carpihogar: hubo una incidencia con tu pedido #%s. Un asesor te contactará pronto.",
}

// ShipmentStatusMessage renders the customer notification for a status, or "" when none is sent
func ShipmentStatusMessage(orderID string, status models.ShippingStatus, carrier models.Carrier, tracking string) string {
	tmpl, ok := statusTemplates[status]
	if !ok {
		return ""
	}
	text := fmt.Sprintf(tmpl, models.OrderReference(orderID))
	if status == models.ShippingDispatched && carrier != models.CarrierDelivery {
		text += fmt.Sprintf(" Empresa de envío: %s.", carrier)
		if tracking != "" {
			text += fmt.Sprintf(" Guía: %s.", tracking)
		}
	}
	return text
}

// Notifier tells customers about shipment changes over WhatsApp
type Notifier struct {
	orders    OrderRepository
	customers CustomerDirectory
	messenger Messenger
	logger    *zap.Logger
}

// NewNotifier creates a new notifier
func NewNotifier(orders OrderRepository, customers CustomerDirectory, messenger Messenger) *Notifier {
	return &Notifier{
		orders:    orders,
		customers: customers,
		messenger: messenger,
		logger:    util.GetLogger(),
	}
}

// Register subscribes the notifier to shipment events
func (n *Notifier) Register(bus eventbus.Bus) {
	bus.Subscribe(models.EventShipmentCreated, func(ctx context.Context, event eventbus.Event) error {
		created, ok := event.Payload.(*models.ShipmentCreatedEvent)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Name)
		}
		return n.notify(ctx, created.OrderID, ShipmentStatusMessage(created.OrderID, created.Status, created.Carrier, ""))
	})
	bus.Subscribe(models.EventShipmentStatusChanged, func(ctx context.Context, event eventbus.Event) error {
		changed, ok := event.Payload.(*models.ShipmentStatusChangedEvent)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Name)
		}
		return n.notify(ctx, changed.OrderID, ShipmentStatusMessage(changed.OrderID, changed.To, changed.Carrier, changed.Tracking))
	})
}

func (n *Notifier) notify(ctx context.Context, orderID, text string) error {
	if text == "" {
		return nil
	}

	order, err := n.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to load order %s: %w", orderID, err)
	}

	phone := order.ShippingData.Phone
	if customer, err := n.customers.GetCustomerByID(ctx, order.CustomerID); err == nil && customer.Phone != "" {
		phone = customer.Phone
	}
	if phone == "" {
		n.logger.Warn("No phone to notify", zap.String("order_id", orderID))
		return nil
	}

	if res := n.messenger.SendWhatsAppMessage(ctx, messaging.OutboundMessage{Phone: phone, Text: text}); !res.OK {
		return fmt.Errorf("whatsapp notification for order %s not delivered", orderID)
	}
	return nil
}

// RegisterCartCleanup empties the customer cart once an order is confirmed
func RegisterCartCleanup(bus eventbus.Bus, carts CartStore) {
	bus.Subscribe(models.EventOrderConfirmed, func(ctx context.Context, event eventbus.Event) error {
		confirmed, ok := event.Payload.(*models.OrderConfirmedEvent)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Name)
		}
		return carts.ClearCart(ctx, redisclient.CartOwner(confirmed.CustomerID, ""))
	})
}
