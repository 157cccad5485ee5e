package store

import (
	"context"
	"time"
)

// DeleteStaleTokens removes used or expired tokens created before cutoff
func (s *Store) DeleteStaleTokens(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM purchase_tokens
		WHERE id IN (
			SELECT id FROM purchase_tokens
			WHERE created_at < $1 AND (used OR expires_at < NOW())
			LIMIT $2
		)`, cutoff, limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteOrphanTemporaryOrders removes temp orders created before cutoff that
// were never promoted and have no usable token left
func (s *Store) DeleteOrphanTemporaryOrders(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM order_temps
		WHERE id IN (
			SELECT t.id FROM order_temps t
			WHERE t.created_at < $1
			  AND NOT EXISTS (SELECT 1 FROM orders o WHERE o.order_temp_id = t.id)
			  AND NOT EXISTS (
				SELECT 1 FROM purchase_tokens p
				WHERE p.order_temp_id = t.id AND p.used = FALSE AND p.expires_at > NOW()
			  )
			LIMIT $2
		)`, cutoff, limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
