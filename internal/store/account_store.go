package store

import (
	"context"
	"time"

	"creditledger/internal/models"
)

type CreditAccountStore struct {
	db DB
}

// BalanceCheck compares the stored balance with the sum of the account's
// ledger rows.
type BalanceCheck struct {
	UserID            string `db:"user_id" json:"user_id"`
	StoredBalance     int64  `db:"stored_balance" json:"stored_balance"`
	CalculatedBalance int64  `db:"calculated_balance" json:"calculated_balance"`
	Difference        int64  `db:"difference" json:"difference"`
}

func NewCreditAccountStore(db DB) *CreditAccountStore {
	return &CreditAccountStore{db: db}
}

const accountColumns = `user_id, balance, monthly_allocation, purchased_credits, total_earned, total_spent, last_reset_date, created_at, updated_at`

// Ensure creates a zero-balance account if none exists. It reports whether a
// row was inserted.
func (s *CreditAccountStore) Ensure(ctx context.Context, tx Execer, userID string, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO credit_accounts (user_id, balance, monthly_allocation, purchased_credits, total_earned, total_spent, created_at, updated_at)
		VALUES (?, 0, 0, 0, 0, 0, ?, ?)
		ON CONFLICT (user_id) DO NOTHING
	`), userID, now, now)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *CreditAccountStore) GetByUser(ctx context.Context, userID string) (models.CreditAccount, error) {
	var row models.CreditAccount
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT `+accountColumns+`
		FROM credit_accounts
		WHERE user_id = ?
	`), userID)
	if err != nil {
		return models.CreditAccount{}, err
	}
	return row, nil
}

func (s *CreditAccountStore) GetForUpdate(ctx context.Context, tx Getter, userID string) (models.CreditAccount, error) {
	var row models.CreditAccount
	err := tx.GetContext(ctx, &row, s.db.Rebind(`
		SELECT `+accountColumns+`
		FROM credit_accounts
		WHERE user_id = ?`+lockClause(s.db)), userID)
	if err != nil {
		return models.CreditAccount{}, err
	}
	return row, nil
}

func (s *CreditAccountStore) Update(ctx context.Context, tx Execer, account models.CreditAccount) error {
	_, err := tx.ExecContext(ctx, s.db.Rebind(`
		UPDATE credit_accounts
		SET balance = ?, monthly_allocation = ?, purchased_credits = ?, total_earned = ?, total_spent = ?,
		    last_reset_date = ?, updated_at = ?
		WHERE user_id = ?
	`), account.Balance, account.MonthlyAllocation, account.PurchasedCredits, account.TotalEarned, account.TotalSpent,
		account.LastResetDate, account.UpdatedAt, account.UserID)
	return err
}

// ListDueForReset returns accounts with a monthly allocation whose last reset
// is at or before cutoff (or that were never reset).
func (s *CreditAccountStore) ListDueForReset(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, s.db.Rebind(`
		SELECT user_id
		FROM credit_accounts
		WHERE monthly_allocation > 0
		  AND (last_reset_date IS NULL OR last_reset_date <= ?)
		ORDER BY user_id
	`), cutoff)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *CreditAccountStore) Reconcile(ctx context.Context, userID string) ([]BalanceCheck, error) {
	query := `
		SELECT a.user_id,
		       a.balance AS stored_balance,
		       COALESCE(SUM(t.amount), 0) AS calculated_balance,
		       (a.balance - COALESCE(SUM(t.amount), 0)) AS difference
		FROM credit_accounts a
		LEFT JOIN credit_transactions t ON t.user_id = a.user_id
	`
	var args []any
	if userID != "" {
		query += " WHERE a.user_id = ?"
		args = append(args, userID)
	}
	query += `
		GROUP BY a.user_id, a.balance
		ORDER BY a.user_id
	`
	var rows []BalanceCheck
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return rows, nil
}
