package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"carpihogar-assistant/internal/models"
)

const tokenColumns = "id, customer_id, order_temp_id, token, expires_at, used, used_at, created_at"

const expireActiveTokens = `
	UPDATE purchase_tokens SET expires_at = LEAST(expires_at, NOW())
	WHERE customer_id = $1 AND used = FALSE AND expires_at > NOW()`

// CreatePurchaseToken stores a new token and expires every other unused token
// of the same customer, so only the newest code can confirm an order.
func (s *Store) CreatePurchaseToken(ctx context.Context, t *models.PurchaseToken) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, expireActiveTokens, t.CustomerID)
	if err != nil {
		return fmt.Errorf("failed to supersede tokens: %w", err)
	}

	err = tx.GetContext(ctx, &t.CreatedAt, `
		INSERT INTO purchase_tokens (id, customer_id, order_temp_id, token, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, FALSE)
		RETURNING created_at`,
		t.ID, t.CustomerID, t.OrderTempID, t.Token, t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}

	return tx.Commit()
}

// ExpirePurchaseTokens ends every usable token of the customer
func (s *Store) ExpirePurchaseTokens(ctx context.Context, customerID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, expireActiveTokens, customerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ConsumePurchaseToken atomically marks the matching unused, unexpired token
// as used and returns it. Concurrent callers block on the row lock and then
// see used = TRUE, so at most one of them gets the token.
func (s *Store) ConsumePurchaseToken(ctx context.Context, customerID, code string, now time.Time) (*models.PurchaseToken, error) {
	return s.consumeToken(ctx, `
		SELECT id FROM purchase_tokens
		WHERE customer_id = $1 AND token = $2 AND used = FALSE AND expires_at > $3
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE`, customerID, code, now)
}

// ConsumeLatestPurchaseToken consumes the newest usable token of a customer
func (s *Store) ConsumeLatestPurchaseToken(ctx context.Context, customerID string, now time.Time) (*models.PurchaseToken, error) {
	return s.consumeToken(ctx, `
		SELECT id FROM purchase_tokens
		WHERE customer_id = $1 AND used = FALSE AND expires_at > $2
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE`, customerID, now)
}

func (s *Store) consumeToken(ctx context.Context, selectLocked string, args ...interface{}) (*models.PurchaseToken, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var id string
	err = tx.GetContext(ctx, &id, selectLocked, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock token: %w", err)
	}

	var token models.PurchaseToken
	err = tx.GetContext(ctx, &token, `
		UPDATE purchase_tokens SET used = TRUE, used_at = NOW()
		WHERE id = $1 AND used = FALSE
		RETURNING `+tokenColumns, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &token, nil
}
