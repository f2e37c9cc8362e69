package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/metrics"
	"creditledger/internal/models"
	"creditledger/internal/money"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"
)

// SubscriptionLedger is the subscription-only ledger. Allocations replace the
// balance and unused credits expire every cycle.
type SubscriptionLedger struct {
	ledgerCore
}

func NewSubscriptionLedger(deps LedgerDeps, opts ...Option) *SubscriptionLedger {
	return &SubscriptionLedger{ledgerCore: newLedgerCore(config.VariantSubscription, deps, opts)}
}

func (l *SubscriptionLedger) DeductCredits(ctx context.Context, userID string, amount int64, feature string, metadata map[string]any) (OperationResult, error) {
	return l.deduct(ctx, userID, amount, feature, metadata, false)
}

func (l *SubscriptionLedger) AddCredits(ctx context.Context, req AddCreditsRequest) (OperationResult, error) {
	return l.add(ctx, req, false, nil)
}

func (l *SubscriptionLedger) RefundCredits(ctx context.Context, userID string, amount int64, reason string) (OperationResult, error) {
	return l.refund(ctx, userID, amount, reason, false)
}

func (l *SubscriptionLedger) AddBonusCredits(ctx context.Context, userID string, amount int64, reason, actorID string) (OperationResult, error) {
	return l.bonus(ctx, userID, amount, reason, actorID, false)
}

// AllocateMonthlyCredits replaces the balance and allocation with the plan's
// monthly credits.
func (l *SubscriptionLedger) AllocateMonthlyCredits(ctx context.Context, userID, planID string) (OperationResult, error) {
	plan, missing := l.lookupPlan(ctx, userID, planID)
	if missing != nil {
		return *missing, nil
	}
	metadata := map[string]any{"plan_id": planID}
	return l.apply(ctx, "allocate", userID, true, func(_ *sqlx.Tx, account *models.CreditAccount, now time.Time) (change, *OperationResult, error) {
		prior := account.Balance
		account.Balance = plan.MonthlyCredits
		account.MonthlyAllocation = plan.MonthlyCredits
		account.TotalEarned += plan.MonthlyCredits
		account.LastResetDate = &now
		return change{entries: replaceEntries(prior, plan.MonthlyCredits, "Monthly credit allocation", metadata)}, nil, nil
	})
}

// HandleSubscriptionChange pro-rates the new plan over what is left of the
// account's rolling cycle, which starts at the last reset.
func (l *SubscriptionLedger) HandleSubscriptionChange(ctx context.Context, userID, oldPlanID, newPlanID string) (OperationResult, error) {
	if l.isEntryPlan(oldPlanID) {
		return l.AllocateMonthlyCredits(ctx, userID, newPlanID)
	}
	plan, missing := l.lookupPlan(ctx, userID, newPlanID)
	if missing != nil {
		return *missing, nil
	}
	return l.apply(ctx, "plan_change", userID, true, func(_ *sqlx.Tx, account *models.CreditAccount, now time.Time) (change, *OperationResult, error) {
		cycleStart := now
		if account.LastResetDate != nil {
			cycleStart = account.LastResetDate.UTC()
		}
		cycleEnd := cycleStart.AddDate(0, 1, 0)
		daysInCycle := ceilDays(cycleEnd.Sub(cycleStart))
		daysRemaining := ceilDays(cycleEnd.Sub(now))
		if daysRemaining > daysInCycle {
			daysRemaining = daysInCycle
		}
		credits := money.ProRate(plan.MonthlyCredits, daysRemaining, daysInCycle)
		metadata := map[string]any{
			"old_plan_id":    oldPlanID,
			"new_plan_id":    newPlanID,
			"days_remaining": daysRemaining,
			"days_in_cycle":  daysInCycle,
		}
		prior := account.Balance
		account.Balance = credits
		account.MonthlyAllocation = plan.MonthlyCredits
		account.TotalEarned += credits
		entries := replaceEntries(prior, credits, fmt.Sprintf("Plan change from %s to %s", oldPlanID, newPlanID), metadata)
		if len(entries) == 0 {
			entries = []entry{{typ: models.TxEarned, reason: fmt.Sprintf("Plan change from %s to %s", oldPlanID, newPlanID), metadata: metadata}}
		}
		return change{entries: entries}, nil, nil
	})
}

// HandleSubscriptionCancellation records the cancellation only. Credits stay
// usable until the paid period ends and ExpireUserCredits is called.
func (l *SubscriptionLedger) HandleSubscriptionCancellation(ctx context.Context, userID string) (OperationResult, error) {
	return l.apply(ctx, "cancel", userID, true, func(_ *sqlx.Tx, account *models.CreditAccount, _ time.Time) (change, *OperationResult, error) {
		return change{entries: []entry{{
			amount:   0,
			typ:      models.TxExpired,
			reason:   "Subscription canceled; credits remain until period end",
			metadata: map[string]any{"event": "subscription_canceled"},
		}}}, nil, nil
	})
}

func (l *SubscriptionLedger) ExpireUserCredits(ctx context.Context, userID string) (OperationResult, error) {
	return l.apply(ctx, "expire", userID, true, func(_ *sqlx.Tx, account *models.CreditAccount, _ time.Time) (change, *OperationResult, error) {
		prior := account.Balance
		account.Balance = 0
		account.MonthlyAllocation = 0
		return change{entries: []entry{{
			amount:   -prior,
			typ:      models.TxExpired,
			reason:   "Subscription ended",
			metadata: map[string]any{"event": "subscription_expired"},
		}}}, nil, nil
	})
}

// ResetMonthlyCredits rolls every due account to a fresh allocation. Accounts
// are processed with bounded concurrency and failures are isolated per account.
func (l *SubscriptionLedger) ResetMonthlyCredits(ctx context.Context) (ResetSummary, error) {
	now := l.now()
	cutoff := now.AddDate(0, -1, 0)
	userIDs, err := l.accounts.ListDueForReset(ctx, cutoff)
	if err != nil {
		return ResetSummary{}, fmt.Errorf("%w: %w", ErrCreditOperationFailed, err)
	}

	var (
		mu      sync.Mutex
		summary = ResetSummary{Failures: []ResetFailure{}}
	)
	g := new(errgroup.Group)
	g.SetLimit(l.resetConcurrency)
	for _, userID := range userIDs {
		g.Go(func() error {
			result, err := l.resetAccount(ctx, userID, cutoff)
			mu.Lock()
			defer mu.Unlock()
			summary.record(userID, result, err)
			return nil
		})
	}
	_ = g.Wait()
	summary.sortFailures()
	l.log.Info("monthly reset finished",
		slog.Int("processed", summary.Processed),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed))
	return summary, nil
}

// resetAccount re-checks the due condition under the row lock so concurrent
// or repeated runs skip accounts that were already rolled over.
func (l *SubscriptionLedger) resetAccount(ctx context.Context, userID string, cutoff time.Time) (OperationResult, error) {
	return l.apply(ctx, "reset", userID, false, func(_ *sqlx.Tx, account *models.CreditAccount, now time.Time) (change, *OperationResult, error) {
		if account.MonthlyAllocation <= 0 || (account.LastResetDate != nil && account.LastResetDate.After(cutoff)) {
			r := rejected(errAlreadyReset, account.Balance, "Account already reset this cycle")
			return change{}, &r, nil
		}
		prior := account.Balance
		account.Balance = account.MonthlyAllocation
		account.TotalEarned += account.MonthlyAllocation
		account.LastResetDate = &now
		metadata := map[string]any{"cycle": now.Format("2006-01")}
		return change{entries: replaceEntries(prior, account.MonthlyAllocation, "Monthly credit reset", metadata)}, nil, nil
	})
}

func (l *SubscriptionLedger) GetCreditPackages(context.Context) (PackageList, error) {
	return PackageList{Supported: false, Packages: nil}, nil
}

func (l *SubscriptionLedger) PurchaseCreditPackage(context.Context, string, string, string) (OperationResult, error) {
	return notSupported("Credit package purchase"), nil
}

// ResetSummary aggregates one bulk reset run.
type ResetSummary struct {
	Processed     int            `json:"processed"`
	Succeeded     int            `json:"succeeded"`
	Failed        int            `json:"failed"`
	Skipped       int            `json:"skipped"`
	Failures      []ResetFailure `json:"failures"`
	Unimplemented bool           `json:"unimplemented,omitempty"`
}

type ResetFailure struct {
	UserID string `json:"user_id"`
	Error  string `json:"error"`
}

func (s *ResetSummary) record(userID string, result OperationResult, err error) {
	s.Processed++
	switch {
	case err != nil:
		s.Failed++
		s.Failures = append(s.Failures, ResetFailure{UserID: userID, Error: err.Error()})
		metrics.ResetAccounts.WithLabelValues(metrics.OutcomeError).Inc()
	case result.Success:
		s.Succeeded++
		metrics.ResetAccounts.WithLabelValues(metrics.OutcomeSuccess).Inc()
	case errors.Is(result.Reason, errAlreadyReset), errors.Is(result.Reason, ErrAccountNotInitialized):
		s.Skipped++
		metrics.ResetAccounts.WithLabelValues(metrics.OutcomeSkipped).Inc()
	default:
		s.Failed++
		s.Failures = append(s.Failures, ResetFailure{UserID: userID, Error: result.Error})
		metrics.ResetAccounts.WithLabelValues(metrics.OutcomeRejected).Inc()
	}
}

func (s *ResetSummary) sortFailures() {
	sort.Slice(s.Failures, func(i, j int) bool { return s.Failures[i].UserID < s.Failures[j].UserID })
}

var _ Ledger = (*SubscriptionLedger)(nil)
