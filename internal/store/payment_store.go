package store

import (
	"context"

	"creditledger/internal/models"
)

type PaymentStore struct {
	db DB
}

func NewPaymentStore(db DB) *PaymentStore {
	return &PaymentStore{db: db}
}

const paymentColumns = `id, user_id, provider, price_id, plan_id, type, status, subscription_id, transaction_id,
		       period_start, period_end, cancel_at_period_end, created_at, updated_at`

func (s *PaymentStore) Create(ctx context.Context, tx Execer, p models.Payment) error {
	_, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO payments (id, user_id, provider, price_id, plan_id, type, status, subscription_id, transaction_id,
		                      period_start, period_end, cancel_at_period_end, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), p.ID, p.UserID, p.Provider, p.PriceID, p.PlanID, string(p.Type), string(p.Status), p.SubscriptionID, p.TransactionID,
		p.PeriodStart, p.PeriodEnd, p.CancelAtPeriodEnd, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *PaymentStore) Update(ctx context.Context, tx Execer, p models.Payment) error {
	_, err := tx.ExecContext(ctx, s.db.Rebind(`
		UPDATE payments
		SET user_id = ?, price_id = ?, plan_id = ?, status = ?, period_start = ?, period_end = ?,
		    cancel_at_period_end = ?, updated_at = ?
		WHERE id = ?
	`), p.UserID, p.PriceID, p.PlanID, string(p.Status), p.PeriodStart, p.PeriodEnd, p.CancelAtPeriodEnd, p.UpdatedAt, p.ID)
	return err
}

func (s *PaymentStore) GetBySubscriptionID(ctx context.Context, subscriptionID string) (models.Payment, error) {
	var row models.Payment
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT `+paymentColumns+`
		FROM payments
		WHERE subscription_id = ?
	`), subscriptionID)
	if err != nil {
		return models.Payment{}, err
	}
	return row, nil
}

func (s *PaymentStore) GetByTransactionID(ctx context.Context, transactionID string) (models.Payment, error) {
	var row models.Payment
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT `+paymentColumns+`
		FROM payments
		WHERE transaction_id = ?
	`), transactionID)
	if err != nil {
		return models.Payment{}, err
	}
	return row, nil
}

func (s *PaymentStore) ListActiveSubscriptions(ctx context.Context) ([]models.Payment, error) {
	var rows []models.Payment
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+paymentColumns+`
		FROM payments
		WHERE type = ? AND status = ?
		ORDER BY user_id
	`), string(models.PaymentSubscription), string(models.PaymentActive))
	if err != nil {
		return nil, err
	}
	return rows, nil
}
