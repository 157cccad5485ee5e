package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"carpihogar-assistant/internal/models"
	"carpihogar-assistant/internal/util"

	"github.com/lib/pq"
)

// accent-insensitive, case-insensitive product name
const foldedName = `translate(lower(name), 'áéíóúüñ', 'aeiouun')`

// SearchProducts returns active products whose name contains every term of the query
func (s *Store) SearchProducts(ctx context.Context, query string, limit int) ([]models.Product, error) {
	terms := strings.Fields(util.FoldText(query))
	if len(terms) == 0 {
		return []models.Product{}, nil
	}
	if limit <= 0 {
		limit = 5
	}

	patterns := make([]string, len(terms))
	for i, t := range terms {
		patterns[i] = "%" + t + "%"
	}

	// every term must match; products matching the whole phrase rank first
	q := fmt.Sprintf(`
		SELECT id, name, price_usd, stock
		FROM products
		WHERE active AND %s LIKE ALL($1)
		ORDER BY (%s LIKE $2) DESC, stock > 0 DESC, name
		LIMIT $3`, foldedName, foldedName)

	var products []models.Product
	err := s.db.SelectContext(ctx, &products, q,
		pq.Array(patterns), "%"+strings.Join(terms, " ")+"%", limit)
	return products, err
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		"SELECT id, name, price_usd, stock FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetCustomerByID retrieves a customer by ID
func (s *Store) GetCustomerByID(ctx context.Context, id string) (*models.Customer, error) {
	var c models.Customer
	err := s.db.GetContext(ctx, &c,
		"SELECT id, name, email, phone FROM users WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindCustomerByPhone matches any of the given digit-only phone variants
func (s *Store) FindCustomerByPhone(ctx context.Context, variants []string) (*models.Customer, error) {
	var c models.Customer
	err := s.db.GetContext(ctx, &c, `
		SELECT id, name, email, phone FROM users
		WHERE regexp_replace(phone, '\D', '', 'g') = ANY($1)
		ORDER BY created_at
		LIMIT 1`, pq.Array(variants))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListAddresses returns the saved addresses of a user, default first
func (s *Store) ListAddresses(ctx context.Context, userID string) ([]models.Address, error) {
	var addresses []models.Address
	err := s.db.SelectContext(ctx, &addresses, `
		SELECT id, user_id, full_name, phone, state, city, address_line, notes, is_default, created_at
		FROM addresses
		WHERE user_id = $1
		ORDER BY is_default DESC, created_at DESC`, userID)
	return addresses, err
}

// GetSiteSettings reads the global pricing settings
func (s *Store) GetSiteSettings(ctx context.Context) (*models.SiteSettings, error) {
	var settings models.SiteSettings
	err := s.db.GetContext(ctx, &settings,
		"SELECT iva_percent, tasa_ves FROM site_settings WHERE id = 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}
