package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"carpihogar-assistant/internal/models"
)

const orderColumns = `id, customer_id, order_temp_id, status, subtotal_usd, iva_percent, tasa_ves,
	total_usd, total_ves, shipping_data, payment_method, created_at, updated_at`

// CreateTemporaryOrder inserts an immutable temp order snapshot
func (s *Store) CreateTemporaryOrder(ctx context.Context, t *models.TemporaryOrder) error {
	query := `
		INSERT INTO order_temps (id, customer_id, items, total_usd, shipping_data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	return s.db.GetContext(ctx, &t.CreatedAt, query,
		t.ID, t.CustomerID, t.Items, t.TotalUSD, t.ShippingData)
}

// GetTemporaryOrder retrieves a temp order by ID
func (s *Store) GetTemporaryOrder(ctx context.Context, id string) (*models.TemporaryOrder, error) {
	var t models.TemporaryOrder
	err := s.db.GetContext(ctx, &t,
		"SELECT id, customer_id, items, total_usd, shipping_data, created_at FROM order_temps WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// LatestTemporaryOrder returns the newest temp order of a customer that was not promoted yet
func (s *Store) LatestTemporaryOrder(ctx context.Context, customerID string) (*models.TemporaryOrder, error) {
	var t models.TemporaryOrder
	err := s.db.GetContext(ctx, &t, `
		SELECT t.id, t.customer_id, t.items, t.total_usd, t.shipping_data, t.created_at
		FROM order_temps t
		WHERE t.customer_id = $1
		  AND NOT EXISTS (SELECT 1 FROM orders o WHERE o.order_temp_id = t.id)
		ORDER BY t.created_at DESC
		LIMIT 1`, customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateOrderWithItems inserts an order and its items in one transaction
func (s *Store) CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.GetContext(ctx, order, `
		INSERT INTO orders (id, customer_id, order_temp_id, status, subtotal_usd, iva_percent,
			tasa_ves, total_usd, total_ves, shipping_data, payment_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+orderColumns,
		order.ID, order.CustomerID, order.OrderTempID, order.Status, order.SubtotalUSD,
		order.IVAPercent, order.TasaVES, order.TotalUSD, order.TotalVES, order.ShippingData,
		order.PaymentMethod)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
		err = tx.GetContext(ctx, &items[i].ID, `
			INSERT INTO order_items (order_id, product_id, name, quantity, price_usd)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			items[i].OrderID, items[i].ProductID, items[i].Name, items[i].Quantity, items[i].PriceUSD)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItems retrieves all items for an order
func (s *Store) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT id, order_id, product_id, name, quantity, price_usd FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// LatestOrderByStatus returns the newest order of a customer in the given status
func (s *Store) LatestOrderByStatus(ctx context.Context, customerID, status string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+` FROM orders
		WHERE customer_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1`, customerID, status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// MarkOrderPaid moves a pending order to paid. It reports false when the
// order was not pending (already paid or cancelled).
func (s *Store) MarkOrderPaid(ctx context.Context, orderID, paymentMethod string) (*models.Order, bool, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, `
		UPDATE orders
		SET status = $1, payment_method = COALESCE(NULLIF($2, ''), payment_method), updated_at = NOW()
		WHERE id = $3 AND status = $4
		RETURNING `+orderColumns,
		models.OrderStatusPaid, paymentMethod, orderID, models.OrderStatusPending)
	if errors.Is(err, sql.ErrNoRows) {
		existing, getErr := s.GetOrderByID(ctx, orderID)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &order, true, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
