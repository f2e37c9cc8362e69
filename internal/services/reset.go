package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/logging"
	"creditledger/internal/metrics"
	"creditledger/internal/models"

	"golang.org/x/sync/errgroup"
)

type ActiveSubscriptions interface {
	ListActiveSubscriptions(ctx context.Context) ([]models.Payment, error)
}

// CycleAllocator grants a plan's credits unless the account was already
// allocated after cutoff.
type CycleAllocator interface {
	AllocateForCycle(ctx context.Context, userID, planID string, cutoff time.Time) (OperationResult, error)
}

// ResetTrigger is the cron entrypoint. The subscription-only ledger resets in
// bulk; the purchase-enabled ledger re-allocates every active subscription.
type ResetTrigger struct {
	ledger        Ledger
	subscriptions ActiveSubscriptions
	log           *slog.Logger
	now           func() time.Time
	concurrency   int
}

func NewResetTrigger(ledger Ledger, subscriptions ActiveSubscriptions, log *slog.Logger, concurrency int) *ResetTrigger {
	if log == nil {
		log = logging.Discard()
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &ResetTrigger{
		ledger:        ledger,
		subscriptions: subscriptions,
		log:           log.With(logging.Component("reset_trigger")),
		now:           func() time.Time { return time.Now().UTC() },
		concurrency:   concurrency,
	}
}

func (t *ResetTrigger) Run(ctx context.Context) (ResetSummary, error) {
	started := time.Now()
	defer func() { metrics.ResetDuration.Observe(time.Since(started).Seconds()) }()

	if t.ledger.Variant() == config.VariantSubscription {
		return t.ledger.ResetMonthlyCredits(ctx)
	}
	allocator, ok := t.ledger.(CycleAllocator)
	if !ok {
		return ResetSummary{}, fmt.Errorf("%w: ledger cannot allocate per cycle", ErrCreditOperationFailed)
	}
	return t.reallocate(ctx, allocator)
}

// reallocate grants each active subscriber one allocation per cycle. Accounts
// reset less than a month ago are skipped so a repeated run is harmless.
func (t *ResetTrigger) reallocate(ctx context.Context, allocator CycleAllocator) (ResetSummary, error) {
	payments, err := t.subscriptions.ListActiveSubscriptions(ctx)
	if err != nil {
		return ResetSummary{}, fmt.Errorf("%w: list active subscriptions: %w", ErrCreditOperationFailed, err)
	}
	cutoff := t.now().AddDate(0, -1, 0)

	var (
		mu      sync.Mutex
		summary = ResetSummary{Failures: []ResetFailure{}}
		seen    = make(map[string]struct{}, len(payments))
	)
	g := new(errgroup.Group)
	g.SetLimit(t.concurrency)
	for _, p := range payments {
		if _, dup := seen[p.UserID]; dup {
			continue
		}
		seen[p.UserID] = struct{}{}
		g.Go(func() error {
			result, err := allocator.AllocateForCycle(ctx, p.UserID, p.PlanID, cutoff)
			mu.Lock()
			defer mu.Unlock()
			summary.record(p.UserID, result, err)
			if err != nil {
				t.log.Error("reallocation failed", logging.UserID(p.UserID), logging.PlanID(p.PlanID), logging.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	summary.sortFailures()
	t.log.Info("subscription reallocation finished",
		slog.Int("processed", summary.Processed),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed))
	return summary, nil
}
