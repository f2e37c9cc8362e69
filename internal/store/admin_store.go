package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type AdminStore struct {
	db DB
}

func NewAdminStore(db DB) *AdminStore {
	return &AdminStore{db: db}
}

func (s *AdminStore) IsAdmin(ctx context.Context, userID string) (bool, bool, error) {
	var isSuper bool
	err := s.db.GetContext(ctx, &isSuper, s.db.Rebind(`
		SELECT is_super
		FROM admins
		WHERE user_id = ?
	`), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, isSuper, nil
}

func (s *AdminStore) CreateAdmin(ctx context.Context, userID string, isSuper bool, now time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO admins (user_id, is_super, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET is_super = excluded.is_super
	`), userID, isSuper, now)
	return err
}

func (s *AdminStore) HasAnyAdmin(ctx context.Context) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(1) FROM admins`)
	return count > 0, err
}
