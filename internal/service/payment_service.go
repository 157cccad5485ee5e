package service

import (
	"context"
	"errors"
	"fmt"

	"carpihogar-assistant/internal/models"
	"carpihogar-assistant/internal/util"

	"go.uber.org/zap"
)

var ErrUnknownPaymentMethod = errors.New("unknown payment method")

// PaymentService records payments reported by the gateway or by an admin
type PaymentService struct {
	orders    *OrderService
	processed ProcessedEvents
	logger    *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(orders *OrderService, processed ProcessedEvents) *PaymentService {
	return &PaymentService{
		orders:    orders,
		processed: processed,
		logger:    util.GetLogger(),
	}
}

// ParsePaymentMethod accepts a method code or a free text name such as "pago móvil"
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch m := PaymentMethod(raw); m {
	case PaymentZelle, PaymentPagoMovil, PaymentTransferencia:
		return m, nil
	}
	if m := ClassifyPaymentMethod(raw); m != PaymentUnknown {
		return m, nil
	}
	return PaymentUnknown, fmt.Errorf("%w: %q", ErrUnknownPaymentMethod, raw)
}

// HandlePaymentConfirmed marks the order paid once per event id
func (ps *PaymentService) HandlePaymentConfirmed(ctx context.Context, event *models.PaymentConfirmedEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandlePaymentConfirmed")
	defer span.End()

	processed, err := ps.processed.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		ps.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	method, err := ParsePaymentMethod(event.PaymentMethod)
	if err != nil {
		ps.logger.Warn("Payment with unrecognized method",
			zap.String("order_id", event.OrderID),
			zap.String("payment_method", event.PaymentMethod))
		method = PaymentMethod(event.PaymentMethod)
	}

	ps.logger.Info("Handling payment confirmation",
		zap.String("order_id", event.OrderID),
		zap.String("reference", event.Reference))

	_, err = ps.orders.MarkPaid(ctx, event.OrderID, string(method))
	if errors.Is(err, ErrOrderNotFound) {
		ps.logger.Warn("Payment for unknown order", zap.String("order_id", event.OrderID))
	} else if err != nil {
		return err
	}

	if err := ps.processed.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		ps.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}

// RecordManualPayment lets an admin mark an order paid
func (ps *PaymentService) RecordManualPayment(ctx context.Context, actor models.Actor, orderID, rawMethod string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.RecordManualPayment")
	defer span.End()

	if actor.Role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	method, err := ParsePaymentMethod(rawMethod)
	if err != nil {
		return nil, err
	}

	order, err := ps.orders.MarkPaid(ctx, orderID, string(method))
	if err != nil {
		return nil, err
	}
	ps.logger.Info("Manual payment recorded",
		zap.String("order_id", orderID),
		zap.String("actor_id", actor.ID))
	return order, nil
}
