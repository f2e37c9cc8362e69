package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/logging"
	"creditledger/internal/models"
	"creditledger/internal/money"
	"creditledger/internal/plans"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PurchaseLedger is the purchase-enabled ledger. Monthly allocations add to
// the balance and one-off packages feed a purchased-credits sub-balance.
type PurchaseLedger struct {
	ledgerCore
}

type PackageList struct {
	Supported bool            `json:"supported"`
	Packages  []plans.Package `json:"packages"`
}

func NewPurchaseLedger(deps LedgerDeps, opts ...Option) *PurchaseLedger {
	return &PurchaseLedger{ledgerCore: newLedgerCore(config.VariantPurchase, deps, opts)}
}

func (l *PurchaseLedger) DeductCredits(ctx context.Context, userID string, amount int64, feature string, metadata map[string]any) (OperationResult, error) {
	return l.deduct(ctx, userID, amount, feature, metadata, true)
}

func (l *PurchaseLedger) AddCredits(ctx context.Context, req AddCreditsRequest) (OperationResult, error) {
	return l.add(ctx, req, true, nil)
}

func (l *PurchaseLedger) RefundCredits(ctx context.Context, userID string, amount int64, reason string) (OperationResult, error) {
	return l.refund(ctx, userID, amount, reason, true)
}

func (l *PurchaseLedger) AddBonusCredits(ctx context.Context, userID string, amount int64, reason, actorID string) (OperationResult, error) {
	return l.bonus(ctx, userID, amount, reason, actorID, true)
}

// AllocateMonthlyCredits adds the plan's monthly credits on top of the
// existing balance and records the plan's allocation.
func (l *PurchaseLedger) AllocateMonthlyCredits(ctx context.Context, userID, planID string) (OperationResult, error) {
	return l.allocate(ctx, "allocate", userID, planID, nil)
}

// AllocateForCycle is AllocateMonthlyCredits for the scheduled trigger. An
// account allocated after cutoff is skipped; the check runs under the row
// lock so overlapping runs grant once.
func (l *PurchaseLedger) AllocateForCycle(ctx context.Context, userID, planID string, cutoff time.Time) (OperationResult, error) {
	return l.allocate(ctx, "reallocate", userID, planID, &cutoff)
}

func (l *PurchaseLedger) allocate(ctx context.Context, op, userID, planID string, cutoff *time.Time) (OperationResult, error) {
	plan, missing := l.lookupPlan(ctx, userID, planID)
	if missing != nil {
		return *missing, nil
	}
	return l.apply(ctx, op, userID, true, func(_ *sqlx.Tx, account *models.CreditAccount, now time.Time) (change, *OperationResult, error) {
		if cutoff != nil && account.LastResetDate != nil && account.LastResetDate.After(*cutoff) {
			r := rejected(errAlreadyReset, account.Balance, "Account already reset this cycle")
			return change{}, &r, nil
		}
		account.Balance += plan.MonthlyCredits
		account.TotalEarned += plan.MonthlyCredits
		account.MonthlyAllocation = plan.MonthlyCredits
		account.LastResetDate = &now
		var entries []entry
		if plan.MonthlyCredits > 0 {
			entries = append(entries, entry{
				amount:   plan.MonthlyCredits,
				typ:      models.TxEarned,
				reason:   "Monthly credit allocation",
				metadata: map[string]any{"plan_id": planID},
			})
		}
		return change{entries: entries}, nil, nil
	})
}

// HandleSubscriptionChange adds the new plan's credits pro-rated over the
// rest of the calendar month.
func (l *PurchaseLedger) HandleSubscriptionChange(ctx context.Context, userID, oldPlanID, newPlanID string) (OperationResult, error) {
	if l.isEntryPlan(oldPlanID) {
		return l.AllocateMonthlyCredits(ctx, userID, newPlanID)
	}
	plan, missing := l.lookupPlan(ctx, userID, newPlanID)
	if missing != nil {
		return *missing, nil
	}
	return l.apply(ctx, "plan_change", userID, true, func(_ *sqlx.Tx, account *models.CreditAccount, now time.Time) (change, *OperationResult, error) {
		daysInMonth := int64(time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day())
		daysRemaining := daysInMonth - int64(now.Day()) + 1
		credits := money.ProRate(plan.MonthlyCredits, daysRemaining, daysInMonth)
		account.Balance += credits
		account.TotalEarned += credits
		account.MonthlyAllocation = plan.MonthlyCredits
		return change{entries: []entry{{
			amount: credits,
			typ:    models.TxEarned,
			reason: fmt.Sprintf("Plan change from %s to %s", oldPlanID, newPlanID),
			metadata: map[string]any{
				"old_plan_id":    oldPlanID,
				"new_plan_id":    newPlanID,
				"days_remaining": daysRemaining,
				"days_in_month":  daysInMonth,
			},
		}}}, nil, nil
	})
}

func (l *PurchaseLedger) HandleSubscriptionCancellation(_ context.Context, userID string) (OperationResult, error) {
	l.log.Info("subscription cancellation has no ledger effect", logging.UserID(userID))
	return notSupported("Subscription cancellation"), nil
}

func (l *PurchaseLedger) ExpireUserCredits(_ context.Context, userID string) (OperationResult, error) {
	l.log.Info("credit expiry has no ledger effect", logging.UserID(userID))
	return notSupported("Credit expiry"), nil
}

// ResetMonthlyCredits does nothing for this variant. Allocation happens when
// the scheduled trigger re-allocates each active subscription.
func (l *PurchaseLedger) ResetMonthlyCredits(context.Context) (ResetSummary, error) {
	l.log.Warn("bulk monthly reset is not implemented for the purchase-enabled ledger")
	return ResetSummary{Failures: []ResetFailure{}, Unimplemented: true}, nil
}

func (l *PurchaseLedger) GetCreditPackages(context.Context) (PackageList, error) {
	return PackageList{Supported: true, Packages: l.catalog.Packages()}, nil
}

// PurchaseCreditPackage is idempotent on paymentIntentID: a repeated intent
// returns the current balance and grants nothing.
func (l *PurchaseLedger) PurchaseCreditPackage(ctx context.Context, userID, packageID, paymentIntentID string) (OperationResult, error) {
	pkg, err := l.catalog.Package(packageID)
	if err != nil {
		if errors.Is(err, plans.ErrPackageNotFound) {
			return rejected(ErrPackageNotFound, 0, fmt.Sprintf("Unknown credit package %q", packageID)), nil
		}
		return OperationResult{}, fmt.Errorf("%w: %w", ErrCreditOperationFailed, err)
	}
	paymentIntentID = strings.TrimSpace(paymentIntentID)
	if paymentIntentID == "" {
		return rejected(ErrInvalidAmount, 0, "Payment intent is required"), nil
	}
	return l.apply(ctx, "purchase", userID, true, func(tx *sqlx.Tx, account *models.CreditAccount, now time.Time) (change, *OperationResult, error) {
		inserted, err := l.purchases.Create(ctx, tx, models.CreditPurchase{
			ID:              uuid.NewString(),
			UserID:          userID,
			PackageID:       pkg.ID,
			Credits:         pkg.Credits,
			PriceCents:      pkg.PriceCents,
			PaymentIntentID: paymentIntentID,
			CreatedAt:       now,
		})
		if err != nil {
			return change{}, nil, err
		}
		if !inserted {
			return change{}, &OperationResult{Success: true, NewBalance: account.Balance, Duplicate: true}, nil
		}
		account.Balance += pkg.Credits
		account.TotalEarned += pkg.Credits
		account.PurchasedCredits += pkg.Credits
		return change{entries: []entry{{
			amount: pkg.Credits,
			typ:    models.TxPurchased,
			reason: "Purchased " + pkg.Name,
			metadata: map[string]any{
				"package_id":        pkg.ID,
				"payment_intent_id": paymentIntentID,
				"price_cents":       pkg.PriceCents,
			},
		}}}, nil, nil
	})
}

var (
	_ Ledger         = (*PurchaseLedger)(nil)
	_ CycleAllocator = (*PurchaseLedger)(nil)
)
