package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"carpihogar-assistant/internal/models"
)

const shippingColumns = "order_id, carrier, channel, status, tracking, assigned_to_id, observations, created_at, updated_at"

// ShippingMutation receives the freshly locked shipping row (nil when the
// order has none yet) and returns the row to persist, or nil to keep it.
type ShippingMutation func(current *models.Shipping) (*models.Shipping, error)

// GetShipping retrieves the shipping row of an order
func (s *Store) GetShipping(ctx context.Context, orderID string) (*models.Shipping, error) {
	var sh models.Shipping
	err := s.db.GetContext(ctx, &sh, "SELECT "+shippingColumns+" FROM shippings WHERE order_id = $1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sh, nil
}

// MutateShipping serializes shipping changes of one order. The order row is
// locked FOR UPDATE, so mutate always validates against the latest persisted
// status, including when the shipping row does not exist yet.
func (s *Store) MutateShipping(ctx context.Context, orderID string, mutate ShippingMutation) (*models.Shipping, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var lockedID string
	err = tx.GetContext(ctx, &lockedID, "SELECT id FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}

	var current *models.Shipping
	var row models.Shipping
	err = tx.GetContext(ctx, &row, "SELECT "+shippingColumns+" FROM shippings WHERE order_id = $1", orderID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to read shipping: %w", err)
	default:
		current = &row
	}

	next, err := mutate(current)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return current, tx.Commit()
	}
	next.OrderID = orderID

	var saved models.Shipping
	if current == nil {
		err = tx.GetContext(ctx, &saved, `
			INSERT INTO shippings (order_id, carrier, channel, status, tracking, assigned_to_id, observations)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING `+shippingColumns,
			next.OrderID, next.Carrier, next.Channel, next.Status, next.Tracking, next.AssignedToID, next.Observations)
	} else {
		err = tx.GetContext(ctx, &saved, `
			UPDATE shippings
			SET status = $2, tracking = $3, assigned_to_id = $4, observations = $5, updated_at = NOW()
			WHERE order_id = $1
			RETURNING `+shippingColumns,
			next.OrderID, next.Status, next.Tracking, next.AssignedToID, next.Observations)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write shipping: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &saved, nil
}
