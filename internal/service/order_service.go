package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carpihogar-assistant/internal/eventbus"
	"carpihogar-assistant/internal/models"
	"carpihogar-assistant/internal/store"
	"carpihogar-assistant/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrAlreadyPromoted = errors.New("temporary order already promoted")
)

var hundred = decimal.NewFromInt(100)

// OrderService promotes temporary orders and tracks payment
type OrderService struct {
	orders   OrderRepository
	settings SettingsProvider
	bus      eventbus.Bus
	logger   *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(orders OrderRepository, settings SettingsProvider, bus eventbus.Bus) *OrderService {
	return &OrderService{
		orders:   orders,
		settings: settings,
		bus:      bus,
		logger:   util.GetLogger(),
	}
}

// OrderTotals is the priced breakdown of an order
type OrderTotals struct {
	SubtotalUSD decimal.Decimal
	TotalUSD    decimal.Decimal
	TotalVES    decimal.Decimal
}

// CalculateTotals prices items with the given IVA percent and exchange rate
func CalculateTotals(items []models.CartItem, settings models.SiteSettings) OrderTotals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal())
	}
	total := subtotal.Mul(decimal.NewFromInt(1).Add(settings.IVAPercent.Div(hundred)))
	return OrderTotals{
		SubtotalUSD: subtotal.Round(2),
		TotalUSD:    total.Round(2),
		TotalVES:    total.Mul(settings.TasaVES).Round(2),
	}
}

// PromoteTemporaryOrder turns a temp order into a real PENDIENTE order.
// Settings are read now, not when the temp order was created.
func (s *OrderService) PromoteTemporaryOrder(ctx context.Context, temp *models.TemporaryOrder) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PromoteTemporaryOrder")
	defer span.End()

	if len(temp.Items) == 0 {
		util.OrdersFailedTotal.WithLabelValues("empty").Inc()
		return nil, ErrCartEmpty
	}

	settings, err := s.settings.GetSiteSettings(ctx)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("settings").Inc()
		return nil, fmt.Errorf("failed to load site settings: %w", err)
	}

	totals := CalculateTotals(temp.Items, *settings)
	order := &models.Order{
		ID:           uuid.New().String(),
		CustomerID:   temp.CustomerID,
		OrderTempID:  temp.ID,
		Status:       models.OrderStatusPending,
		SubtotalUSD:  totals.SubtotalUSD,
		IVAPercent:   settings.IVAPercent,
		TasaVES:      settings.TasaVES,
		TotalUSD:     totals.TotalUSD,
		TotalVES:     totals.TotalVES,
		ShippingData: temp.ShippingData,
	}

	items := make([]models.OrderItem, 0, len(temp.Items))
	for _, item := range temp.Items {
		items = append(items, models.OrderItem{
			OrderID:   order.ID,
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			PriceUSD:  item.PriceUSD,
		})
	}

	if err := s.orders.CreateOrderWithItems(ctx, order, items); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			util.OrdersFailedTotal.WithLabelValues("duplicate").Inc()
			return nil, ErrAlreadyPromoted
		}
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("order_temp_id", temp.ID),
		zap.String("total_usd", order.TotalUSD.StringFixed(2)))

	s.bus.Publish(ctx, eventbus.Event{
		Name: models.EventOrderConfirmed,
		Payload: &models.OrderConfirmedEvent{
			BaseEvent:  newBaseEvent(models.EventOrderConfirmed),
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			TotalUSD:   order.TotalUSD,
			TotalVES:   order.TotalVES,
		},
	})

	return order, nil
}

// MarkPaid moves a PENDIENTE order to PAGADO. Repeated calls return the
// order without publishing order.paid again.
func (s *OrderService) MarkPaid(ctx context.Context, orderID, paymentMethod string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.MarkPaid")
	defer span.End()

	order, changed, err := s.orders.MarkOrderPaid(ctx, orderID, paymentMethod)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark order paid: %w", err)
	}
	if !changed {
		s.logger.Info("Order already settled",
			zap.String("order_id", orderID),
			zap.String("status", order.Status))
		return order, nil
	}

	util.OrdersPaidTotal.Inc()
	s.logger.Info("Order paid",
		zap.String("order_id", orderID),
		zap.String("payment_method", paymentMethod))

	s.bus.Publish(ctx, eventbus.Event{
		Name: models.EventOrderPaid,
		Payload: &models.OrderPaidEvent{
			BaseEvent:     newBaseEvent(models.EventOrderPaid),
			OrderID:       order.ID,
			CustomerID:    order.CustomerID,
			PaymentMethod: paymentMethod,
			City:          order.ShippingData.City,
		},
	})
	return order, nil
}

// GetOrder retrieves an order and its items
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, []models.OrderItem, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	items, err := s.orders.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	return order, items, nil
}

// LatestPendingOrder returns the newest PENDIENTE order of a customer, or nil
func (s *OrderService) LatestPendingOrder(ctx context.Context, customerID string) (*models.Order, error) {
	order, err := s.orders.LatestOrderByStatus(ctx, customerID, models.OrderStatusPending)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return order, err
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
