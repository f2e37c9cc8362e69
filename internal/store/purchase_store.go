package store

import (
	"context"

	"creditledger/internal/models"
)

type CreditPurchaseStore struct {
	db DB
}

func NewCreditPurchaseStore(db DB) *CreditPurchaseStore {
	return &CreditPurchaseStore{db: db}
}

// Create records a package purchase. A repeated payment intent is ignored and
// reported as not inserted.
func (s *CreditPurchaseStore) Create(ctx context.Context, tx Execer, purchase models.CreditPurchase) (bool, error) {
	res, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO credit_purchases (id, user_id, package_id, credits, price_cents, payment_intent_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (payment_intent_id) DO NOTHING
	`), purchase.ID, purchase.UserID, purchase.PackageID, purchase.Credits, purchase.PriceCents, purchase.PaymentIntentID, purchase.CreatedAt)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *CreditPurchaseStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.CreditPurchase, error) {
	var rows []models.CreditPurchase
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT id, user_id, package_id, credits, price_cents, payment_intent_id, created_at
		FROM credit_purchases
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`), userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
