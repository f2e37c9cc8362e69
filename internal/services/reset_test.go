package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"creditledger/internal/config"
	"creditledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeSubscription(id, userID, planID string) models.Payment {
	sub := "sub_" + id
	return models.Payment{
		ID:             id,
		UserID:         userID,
		PlanID:         planID,
		Type:           models.PaymentSubscription,
		Status:         models.PaymentActive,
		SubscriptionID: &sub,
	}
}

func TestResetTriggerSubscriptionVariantResetsInBulk(t *testing.T) {
	f := newLedgerFixture(t, config.VariantSubscription)
	now := f.clock.Now()
	f.store.seedBalance("a", 15, 100, daysAgo(now, 35), now.AddDate(0, 0, -35))
	trigger := NewResetTrigger(f.ledger, newMemPayments(), nil, 2)

	summary, err := trigger.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, int64(100), f.store.account(t, "a").Balance)
}

func TestResetTriggerPurchaseVariantReallocates(t *testing.T) {
	f := newLedgerFixture(t, config.VariantPurchase)
	now := f.clock.Now()
	f.store.seedBalance("due", 20, 100, daysAgo(now, 40), now.AddDate(0, 0, -40))
	f.store.seedBalance("recent", 20, 100, daysAgo(now, 5), now.AddDate(0, 0, -5))

	payments := newMemPayments()
	for _, p := range []models.Payment{
		activeSubscription("p1", "due", "basic_monthly"),
		activeSubscription("p2", "due", "basic_monthly"),
		activeSubscription("p3", "recent", "basic_monthly"),
		activeSubscription("p4", "new-user", "pro_monthly"),
		activeSubscription("p5", "odd", "retired_plan"),
	} {
		require.NoError(t, payments.Create(context.Background(), nil, p))
	}
	trigger := NewResetTrigger(f.ledger, payments, nil, 3)
	trigger.now = f.clock.Now

	summary, err := trigger.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Processed)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "odd", summary.Failures[0].UserID)

	assert.Equal(t, int64(120), f.store.account(t, "due").Balance)
	assert.Equal(t, int64(20), f.store.account(t, "recent").Balance)
	assert.Equal(t, int64(300), f.store.account(t, "new-user").Balance)

	again, err := trigger.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Succeeded)
	assert.Equal(t, int64(120), f.store.account(t, "due").Balance)
}

// gatedSubscriptions holds every caller at the listing step until all of
// them have arrived, so the runs that follow overlap.
type gatedSubscriptions struct {
	*memPayments
	arrived sync.WaitGroup
}

func (g *gatedSubscriptions) ListActiveSubscriptions(ctx context.Context) ([]models.Payment, error) {
	g.arrived.Done()
	g.arrived.Wait()
	return g.memPayments.ListActiveSubscriptions(ctx)
}

func TestResetTriggerOverlappingRunsAllocateOnce(t *testing.T) {
	f := newLedgerFixture(t, config.VariantPurchase)
	now := f.clock.Now()
	f.store.seedBalance("due", 300, 300, daysAgo(now, 60), now.AddDate(0, 0, -60))
	subs := &gatedSubscriptions{memPayments: newMemPayments()}
	require.NoError(t, subs.Create(context.Background(), nil, activeSubscription("p1", "due", "pro_monthly")))
	trigger := NewResetTrigger(f.ledger, subs, nil, 2)
	trigger.now = f.clock.Now

	const runs = 6
	subs.arrived.Add(runs)
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		skipped   atomic.Int64
	)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			summary, err := trigger.Run(context.Background())
			if err != nil {
				t.Errorf("run: %v", err)
				return
			}
			succeeded.Add(int64(summary.Succeeded))
			skipped.Add(int64(summary.Skipped))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), succeeded.Load())
	assert.Equal(t, int64(runs-1), skipped.Load())
	assert.Equal(t, int64(600), f.store.account(t, "due").Balance)
	f.requireReplayConsistent(t, "due")
}

func TestResetTriggerRequiresCycleAllocator(t *testing.T) {
	f := newLedgerFixture(t, config.VariantPurchase)
	wrapped := struct{ Ledger }{f.ledger}
	trigger := NewResetTrigger(wrapped, newMemPayments(), nil, 1)

	_, err := trigger.Run(context.Background())
	assert.ErrorIs(t, err, ErrCreditOperationFailed)
}
