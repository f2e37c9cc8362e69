package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"creditledger/internal/models"
	"creditledger/internal/money"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type TransactionPage struct {
	Transactions []models.CreditTransaction `json:"transactions"`
	Total        int64                      `json:"total"`
	Page         int                        `json:"page"`
	Limit        int                        `json:"limit"`
}

type MonthlyUsage struct {
	Balance               int64      `json:"balance"`
	MonthlyAllocation     int64      `json:"monthly_allocation"`
	Used                  int64      `json:"used"`
	UsagePercentage       int64      `json:"usage_percentage"`
	DaysUntilReset        int64      `json:"days_until_reset"`
	LastResetDate         *time.Time `json:"last_reset_date,omitempty"`
	NextResetDate         *time.Time `json:"next_reset_date,omitempty"`
	TransactionsThisMonth int64      `json:"transactions_this_month"`
}

type UsageReport struct {
	UserID           string           `json:"user_id"`
	Start            time.Time        `json:"start"`
	End              time.Time        `json:"end"`
	ByType           map[string]int64 `json:"by_type"`
	ByFeature        map[string]int64 `json:"by_feature"`
	TotalSpent       int64            `json:"total_spent"`
	TotalGranted     int64            `json:"total_granted"`
	TransactionCount int64            `json:"transaction_count"`
}

// GetTransactionHistory pages newest first. page starts at 1.
func (c *ledgerCore) GetTransactionHistory(ctx context.Context, userID string, page, limit int) (TransactionPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	rows, err := c.transactions.ListByUser(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return TransactionPage{}, fmt.Errorf("%w: %w", ErrCreditOperationFailed, err)
	}
	total, err := c.transactions.CountByUser(ctx, userID)
	if err != nil {
		return TransactionPage{}, fmt.Errorf("%w: %w", ErrCreditOperationFailed, err)
	}
	if rows == nil {
		rows = []models.CreditTransaction{}
	}
	return TransactionPage{Transactions: rows, Total: total, Page: page, Limit: limit}, nil
}

func (c *ledgerCore) GetMonthlyUsage(ctx context.Context, userID string) (MonthlyUsage, error) {
	now := c.now()
	account, ok, err := c.GetAccount(ctx, userID)
	if err != nil {
		return MonthlyUsage{}, err
	}
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	count, err := c.transactions.CountSince(ctx, userID, monthStart)
	if err != nil {
		return MonthlyUsage{}, fmt.Errorf("%w: %w", ErrCreditOperationFailed, err)
	}
	usage := MonthlyUsage{TransactionsThisMonth: count}
	if !ok {
		return usage, nil
	}
	usage.Balance = account.Balance
	usage.MonthlyAllocation = account.MonthlyAllocation
	if used := account.MonthlyAllocation - account.Balance; used > 0 {
		usage.Used = used
	}
	usage.UsagePercentage = money.Percentage(account.MonthlyAllocation-account.Balance, account.MonthlyAllocation)
	if account.LastResetDate != nil {
		last := account.LastResetDate.UTC()
		next := last.AddDate(0, 1, 0)
		usage.LastResetDate = &last
		usage.NextResetDate = &next
		usage.DaysUntilReset = ceilDays(next.Sub(now))
	}
	return usage, nil
}

func (c *ledgerCore) GenerateUsageReport(ctx context.Context, userID string, start, end time.Time) (UsageReport, error) {
	if !end.After(start) {
		return UsageReport{}, ErrInvalidDateRange
	}
	rows, err := c.transactions.Aggregate(ctx, userID, start.UTC(), end.UTC())
	if err != nil {
		return UsageReport{}, fmt.Errorf("%w: %w", ErrCreditOperationFailed, err)
	}
	report := UsageReport{
		UserID:    userID,
		Start:     start.UTC(),
		End:       end.UTC(),
		ByType:    map[string]int64{},
		ByFeature: map[string]int64{},
	}
	for _, row := range rows {
		report.ByType[string(row.Type)] += row.Total
		if row.FeatureUsed != "" {
			report.ByFeature[row.FeatureUsed] += row.Total
		}
		report.TransactionCount += row.Count
		switch {
		case row.Type == models.TxSpent:
			report.TotalSpent += -row.Total
		case row.Total > 0:
			report.TotalGranted += row.Total
		}
	}
	return report, nil
}

// ceilDays rounds a duration up to whole days, never below zero.
func ceilDays(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Hours() / 24))
}

func isNotSupported(r OperationResult) bool {
	return errors.Is(r.Reason, ErrNotSupported)
}
