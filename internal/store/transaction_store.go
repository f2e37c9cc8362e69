package store

import (
	"context"
	"time"

	"creditledger/internal/models"
)

type CreditTransactionStore struct {
	db DB
}

// UsageAggregate is one (type, feature) bucket of a usage report.
type UsageAggregate struct {
	Type        models.TransactionType `db:"type"`
	FeatureUsed string                 `db:"feature_used"`
	Total       int64                  `db:"total"`
	Count       int64                  `db:"count"`
}

func NewCreditTransactionStore(db DB) *CreditTransactionStore {
	return &CreditTransactionStore{db: db}
}

const transactionColumns = `id, user_id, amount, balance_after, type, reason, feature_used, metadata, created_at`

func (s *CreditTransactionStore) Insert(ctx context.Context, tx Execer, input models.CreditTransaction) error {
	_, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO credit_transactions (id, user_id, amount, balance_after, type, reason, feature_used, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), input.ID, input.UserID, input.Amount, input.BalanceAfter, string(input.Type), input.Reason,
		input.FeatureUsed, metadataOrEmpty(input.Metadata), input.CreatedAt)
	return err
}

// ListByUser returns the newest transactions first.
func (s *CreditTransactionStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.CreditTransaction, error) {
	var rows []models.CreditTransaction
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+transactionColumns+`
		FROM credit_transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ? OFFSET ?
	`), userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListAllByUser returns every transaction oldest first, which is replay order.
func (s *CreditTransactionStore) ListAllByUser(ctx context.Context, userID string) ([]models.CreditTransaction, error) {
	var rows []models.CreditTransaction
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+transactionColumns+`
		FROM credit_transactions
		WHERE user_id = ?
		ORDER BY created_at, seq
	`), userID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *CreditTransactionStore) CountByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, s.db.Rebind(`SELECT COUNT(1) FROM credit_transactions WHERE user_id = ?`), userID)
	return count, err
}

func (s *CreditTransactionStore) CountSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, s.db.Rebind(`
		SELECT COUNT(1)
		FROM credit_transactions
		WHERE user_id = ? AND created_at >= ?
	`), userID, since)
	return count, err
}

func (s *CreditTransactionStore) SumByUser(ctx context.Context, userID string) (int64, error) {
	var sum int64
	err := s.db.GetContext(ctx, &sum, s.db.Rebind(`
		SELECT COALESCE(SUM(amount), 0)
		FROM credit_transactions
		WHERE user_id = ?
	`), userID)
	return sum, err
}

// Aggregate groups transactions in [start, end) by type and feature tag.
func (s *CreditTransactionStore) Aggregate(ctx context.Context, userID string, start, end time.Time) ([]UsageAggregate, error) {
	var rows []UsageAggregate
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT type,
		       COALESCE(feature_used, '') AS feature_used,
		       COALESCE(SUM(amount), 0) AS total,
		       COUNT(1) AS count
		FROM credit_transactions
		WHERE user_id = ? AND created_at >= ? AND created_at < ?
		GROUP BY type, COALESCE(feature_used, '')
		ORDER BY type
	`), userID, start, end)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
