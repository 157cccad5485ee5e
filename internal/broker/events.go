package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"carpihogar-assistant/internal/eventbus"
	"carpihogar-assistant/internal/models"
	"carpihogar-assistant/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventWriter publishes keyed events to an external log
type EventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventMirror copies in-process bus events to Kafka for downstream consumers
type EventMirror struct {
	writer EventWriter
	logger *zap.Logger
}

// NewEventMirror creates a new event mirror
func NewEventMirror(writer EventWriter) *EventMirror {
	return &EventMirror{writer: writer, logger: util.GetLogger()}
}

// Register subscribes the mirror to every domain event
func (m *EventMirror) Register(bus eventbus.Bus) {
	for _, name := range []string{
		models.EventOrderConfirmed,
		models.EventOrderPaid,
		models.EventShipmentCreated,
		models.EventShipmentStatusChanged,
	} {
		bus.Subscribe(name, m.forward)
	}
}

func (m *EventMirror) forward(ctx context.Context, event eventbus.Event) error {
	orderID, err := orderIDOf(event.Payload)
	if err != nil {
		return err
	}
	if err := m.writer.PublishEvent(ctx, "order-"+orderID, event.Payload); err != nil {
		return fmt.Errorf("failed to mirror %s: %w", event.Name, err)
	}
	return nil
}

func orderIDOf(payload interface{}) (string, error) {
	switch e := payload.(type) {
	case *models.OrderConfirmedEvent:
		return e.OrderID, nil
	case *models.OrderPaidEvent:
		return e.OrderID, nil
	case *models.ShipmentCreatedEvent:
		return e.OrderID, nil
	case *models.ShipmentStatusChangedEvent:
		return e.OrderID, nil
	default:
		return "", fmt.Errorf("cannot mirror payload %T", payload)
	}
}

// EventHandler routes payment-events messages by event_type
type EventHandler struct {
	onPaymentConfirmed func(context.Context, *models.PaymentConfirmedEvent) error
	logger             *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPaymentConfirmed registers a handler for PAYMENT_CONFIRMED events
func (eh *EventHandler) OnPaymentConfirmed(handler func(context.Context, *models.PaymentConfirmedEvent) error) {
	eh.onPaymentConfirmed = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		// malformed messages are committed and skipped
		eh.logger.Error("Dropping malformed event", zap.Error(err))
		return nil
	}

	eh.logger.Info("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentConfirmed:
		if eh.onPaymentConfirmed == nil {
			return nil
		}
		var event models.PaymentConfirmedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("failed to unmarshal PaymentConfirmed event: %w", err)
		}
		return eh.onPaymentConfirmed(ctx, &event)

	default:
		eh.logger.Debug("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
