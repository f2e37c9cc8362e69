package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"creditledger/internal/logging"
	"creditledger/internal/models"
	"creditledger/internal/plans"
	"creditledger/internal/store"

	"github.com/jmoiron/sqlx"
)

// GetBalance lazily creates a zero-balance account for unknown users.
func (c *ledgerCore) GetBalance(ctx context.Context, userID string) (int64, error) {
	account, err := c.accounts.GetByUser(ctx, userID)
	if err == nil {
		return account.Balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %w", ErrCreditOperationFailed, err)
	}
	now := c.now()
	err = c.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := c.accounts.Ensure(ctx, tx, userID, now)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCreditOperationFailed, err)
	}
	c.log.Debug("credit account initialized", logging.UserID(userID))
	return 0, nil
}

// GetAccount reads the account without creating it.
func (c *ledgerCore) GetAccount(ctx context.Context, userID string) (models.CreditAccount, bool, error) {
	account, err := c.accounts.GetByUser(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CreditAccount{}, false, nil
	}
	if err != nil {
		return models.CreditAccount{}, false, fmt.Errorf("%w: %w", ErrCreditOperationFailed, err)
	}
	return account, true, nil
}

// CheckCredits never reports a non-positive amount as sufficient.
func (c *ledgerCore) CheckCredits(ctx context.Context, userID string, amount int64) (bool, error) {
	if amount <= 0 {
		c.log.Warn("credit check with non-positive amount", logging.UserID(userID), logging.Amount(amount))
		return false, nil
	}
	balance, err := c.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}

// deduct spends from the pooled balance. With clampPurchased the purchased
// sub-balance is kept a subset of the balance.
func (c *ledgerCore) deduct(ctx context.Context, userID string, amount int64, feature string, metadata map[string]any, clampPurchased bool) (OperationResult, error) {
	if amount <= 0 {
		return rejected(ErrInvalidAmount, 0, "Amount must be positive"), nil
	}
	result, err := c.apply(ctx, "deduct", userID, false, func(_ *sqlx.Tx, account *models.CreditAccount, _ time.Time) (change, *OperationResult, error) {
		if account.Balance < amount {
			r := insufficient(amount, account.Balance)
			return change{}, &r, nil
		}
		account.Balance -= amount
		account.TotalSpent += amount
		if clampPurchased && account.PurchasedCredits > account.Balance {
			account.PurchasedCredits = account.Balance
		}
		reason := "Credits used"
		if feature != "" {
			reason = "Used for " + feature
		}
		return change{entries: []entry{{
			amount:   -amount,
			typ:      models.TxSpent,
			reason:   reason,
			feature:  feature,
			metadata: metadata,
		}}}, nil, nil
	})
	if err == nil && errors.Is(result.Reason, ErrInsufficientCredits) {
		c.log.Info("deduction declined", logging.UserID(userID), logging.Amount(amount), slog.Int64("available", result.Available))
	}
	return result, err
}

// add grants credits. Purchased grants also grow the purchased sub-balance
// when the variant tracks one.
func (c *ledgerCore) add(ctx context.Context, req AddCreditsRequest, trackPurchased bool, audit *auditRecord) (OperationResult, error) {
	if req.Amount <= 0 {
		return rejected(ErrInvalidAmount, 0, "Amount must be positive"), nil
	}
	switch req.Type {
	case models.TxEarned, models.TxRefunded, models.TxBonus:
	case models.TxPurchased:
		if !trackPurchased {
			return notSupported("Credit purchase"), nil
		}
	default:
		return rejected(ErrInvalidTransactionType, 0, fmt.Sprintf("Cannot grant credits as %q", req.Type)), nil
	}
	return c.apply(ctx, "add_"+string(req.Type), req.UserID, true, func(_ *sqlx.Tx, account *models.CreditAccount, _ time.Time) (change, *OperationResult, error) {
		account.Balance += req.Amount
		account.TotalEarned += req.Amount
		if trackPurchased && req.Type == models.TxPurchased {
			account.PurchasedCredits += req.Amount
		}
		return change{
			entries: []entry{{amount: req.Amount, typ: req.Type, reason: req.Reason, metadata: req.Metadata}},
			audit:   audit,
		}, nil, nil
	})
}

func (c *ledgerCore) refund(ctx context.Context, userID string, amount int64, reason string, trackPurchased bool) (OperationResult, error) {
	if reason == "" {
		reason = "Credit refund"
	}
	return c.add(ctx, AddCreditsRequest{UserID: userID, Amount: amount, Reason: reason, Type: models.TxRefunded}, trackPurchased, nil)
}

func (c *ledgerCore) bonus(ctx context.Context, userID string, amount int64, reason, actorID string, trackPurchased bool) (OperationResult, error) {
	if reason == "" {
		reason = "Bonus credits"
	}
	metadata := map[string]any{}
	var audit *auditRecord
	if actorID != "" {
		metadata["granted_by"] = actorID
		audit = &auditRecord{
			actorID: actorID,
			action:  "credits.bonus",
			data:    map[string]any{"amount": amount, "reason": reason},
		}
	}
	return c.add(ctx, AddCreditsRequest{
		UserID:   userID,
		Amount:   amount,
		Reason:   reason,
		Type:     models.TxBonus,
		Metadata: metadata,
	}, trackPurchased, audit)
}

// lookupPlan treats a missing plan configuration as a logged no-op.
func (c *ledgerCore) lookupPlan(ctx context.Context, userID, planID string) (plans.Plan, *OperationResult) {
	plan, err := c.catalog.Plan(planID)
	if err == nil {
		return plan, nil
	}
	c.log.Warn("plan configuration missing, skipping allocation", logging.UserID(userID), logging.PlanID(planID))
	balance := int64(0)
	if account, ok, readErr := c.GetAccount(ctx, userID); readErr == nil && ok {
		balance = account.Balance
	}
	r := rejected(ErrPlanConfigurationMissing, balance, fmt.Sprintf("No credit configuration for plan %q", planID))
	return plans.Plan{}, &r
}

// isEntryPlan reports whether moving off planID counts as a first allocation.
func (c *ledgerCore) isEntryPlan(planID string) bool {
	if planID == "" || planID == plans.FreePlanID {
		return true
	}
	plan, err := c.catalog.Plan(planID)
	return err != nil || plan.MonthlyCredits == 0
}

// replaceEntries forfeits the prior balance before granting the new amount so
// that replaying the ledger reproduces the replaced balance.
func replaceEntries(prior, granted int64, reason string, metadata map[string]any) []entry {
	var entries []entry
	if prior > 0 {
		entries = append(entries, entry{
			amount:   -prior,
			typ:      models.TxExpired,
			reason:   "Unused credits expired",
			metadata: metadata,
		})
	}
	if granted > 0 {
		entries = append(entries, entry{amount: granted, typ: models.TxEarned, reason: reason, metadata: metadata})
	}
	return entries
}

func (c *ledgerCore) VerifyLedger(ctx context.Context, userID string) ([]store.BalanceCheck, error) {
	checks, err := c.accounts.Reconcile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreditOperationFailed, err)
	}
	for _, check := range checks {
		if check.Difference != 0 {
			c.log.Error("ledger drift detected", logging.UserID(check.UserID),
				slog.Int64("stored", check.StoredBalance), slog.Int64("calculated", check.CalculatedBalance))
		}
	}
	return checks, nil
}
