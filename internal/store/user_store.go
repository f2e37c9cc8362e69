package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// UserStore resolves identities from payment provider data. The users table
// itself is owned by the auth service; this package only reads it.
type UserStore struct {
	db DB
}

func NewUserStore(db DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Exists(ctx context.Context, userID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, s.db.Rebind(`SELECT COUNT(1) FROM users WHERE id = ?`), userID)
	return count > 0, err
}

// GetIDByEmail matches case-insensitively. It returns "" when nothing matches.
func (s *UserStore) GetIDByEmail(ctx context.Context, email string) (string, error) {
	var id string
	err := s.db.GetContext(ctx, &id, s.db.Rebind(`
		SELECT id
		FROM users
		WHERE LOWER(email) = ?
	`), strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// GetIDByCustomerID returns "" when the provider customer is not linked.
func (s *UserStore) GetIDByCustomerID(ctx context.Context, customerID string) (string, error) {
	var id string
	err := s.db.GetContext(ctx, &id, s.db.Rebind(`
		SELECT user_id
		FROM billing_customers
		WHERE provider_customer_id = ?
	`), customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// LinkCustomer records the provider customer id for a user, replacing any
// previous link.
func (s *UserStore) LinkCustomer(ctx context.Context, userID, customerID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO billing_customers (user_id, provider_customer_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE
		SET provider_customer_id = excluded.provider_customer_id, updated_at = excluded.updated_at
	`), userID, customerID, now)
	return err
}

func (s *UserStore) Create(ctx context.Context, id, email string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO users (id, email, created_at)
		VALUES (?, ?, ?)
	`), id, strings.ToLower(strings.TrimSpace(email)), now)
	return err
}
