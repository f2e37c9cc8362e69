package services

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"creditledger/internal/config"
	"creditledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bothVariants = []config.Variant{config.VariantSubscription, config.VariantPurchase}

func TestRandomSequencesKeepLedgerInvariants(t *testing.T) {
	planIDs := []string{"basic_monthly", "pro_monthly", "business_monthly", "free", "unknown_plan"}
	for _, variant := range bothVariants {
		t.Run(string(variant), func(t *testing.T) {
			for seed := int64(1); seed <= 20; seed++ {
				f := newLedgerFixture(t, variant)
				rng := rand.New(rand.NewSource(seed))
				ctx := context.Background()
				const user = "prop-user"
				_, err := f.ledger.GetBalance(ctx, user)
				require.NoError(t, err)

				var lastEarned, lastSpent int64
				for step := 0; step < 60; step++ {
					before := f.store.account(t, user)
					switch rng.Intn(6) {
					case 0, 1:
						amount := int64(rng.Intn(40) + 1)
						result, err := f.ledger.DeductCredits(ctx, user, amount, "watermark_removal", nil)
						require.NoError(t, err)
						if amount > before.Balance {
							require.False(t, result.Success)
							require.ErrorIs(t, result.Reason, ErrInsufficientCredits)
							require.Equal(t, before.Balance, f.store.account(t, user).Balance)
						} else {
							require.True(t, result.Success)
							require.Equal(t, before.Balance-amount, result.NewBalance)
						}
					case 2:
						types := []models.TransactionType{models.TxEarned, models.TxRefunded, models.TxBonus}
						_, err := f.ledger.AddCredits(ctx, AddCreditsRequest{
							UserID: user, Amount: int64(rng.Intn(30) + 1), Reason: "grant", Type: types[rng.Intn(len(types))],
						})
						require.NoError(t, err)
					case 3:
						_, err := f.ledger.AllocateMonthlyCredits(ctx, user, planIDs[rng.Intn(len(planIDs))])
						require.NoError(t, err)
					case 4:
						_, err := f.ledger.HandleSubscriptionChange(ctx, user,
							planIDs[rng.Intn(len(planIDs))], planIDs[rng.Intn(len(planIDs))])
						require.NoError(t, err)
					case 5:
						if rng.Intn(2) == 0 {
							_, err = f.ledger.ExpireUserCredits(ctx, user)
						} else {
							_, err = f.ledger.HandleSubscriptionCancellation(ctx, user)
						}
						require.NoError(t, err)
					}

					account := f.store.account(t, user)
					require.GreaterOrEqual(t, account.Balance, int64(0))
					require.GreaterOrEqual(t, account.TotalEarned, lastEarned)
					require.GreaterOrEqual(t, account.TotalSpent, lastSpent)
					require.LessOrEqual(t, account.PurchasedCredits, account.Balance)
					lastEarned, lastSpent = account.TotalEarned, account.TotalSpent
					f.requireReplayConsistent(t, user)
				}
			}
		})
	}
}

func TestConcurrentDeductionsNeverOverspend(t *testing.T) {
	for _, variant := range bothVariants {
		t.Run(string(variant), func(t *testing.T) {
			f := newLedgerFixture(t, variant)
			const (
				balance = int64(100)
				amount  = int64(7)
				callers = 30
			)
			f.store.seedBalance("shared", balance, 0, nil, f.clock.Now())

			var (
				wg        sync.WaitGroup
				succeeded atomic.Int64
				declined  atomic.Int64
			)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					result, err := f.ledger.DeductCredits(context.Background(), "shared", amount, "watermark_removal", nil)
					if err != nil {
						t.Errorf("deduct: %v", err)
						return
					}
					if result.Success {
						succeeded.Add(1)
					} else {
						declined.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, balance/amount, succeeded.Load())
			assert.Equal(t, callers-balance/amount, declined.Load())
			assert.Equal(t, balance-(balance/amount)*amount, f.store.account(t, "shared").Balance)
			f.requireReplayConsistent(t, "shared")
		})
	}
}

func TestResetTwiceEqualsResetOnce(t *testing.T) {
	f := newLedgerFixture(t, config.VariantSubscription)
	now := f.clock.Now()
	f.store.seedBalance("a", 15, 100, daysAgo(now, 35), now.AddDate(0, 0, -35))
	f.store.seedBalance("b", 0, 50, nil, now.AddDate(0, 0, -90))
	f.store.seedBalance("c", 7, 500, daysAgo(now, 31), now.AddDate(0, 0, -31))
	ctx := context.Background()

	first, err := f.ledger.ResetMonthlyCredits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Succeeded)
	after := f.store.snapshot()

	second, err := f.ledger.ResetMonthlyCredits(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Succeeded)
	assert.Zero(t, second.Failed)

	again := f.store.snapshot()
	assert.Equal(t, after.accounts, again.accounts)
	assert.Equal(t, len(after.rows), len(again.rows))
}

func TestResetAccountSkipsWhenAlreadyReset(t *testing.T) {
	f := newLedgerFixture(t, config.VariantSubscription)
	now := f.clock.Now()
	f.store.seedBalance("a", 15, 100, daysAgo(now, 2), now)
	l := f.ledger.(*SubscriptionLedger)

	result, err := l.resetAccount(context.Background(), "a", now.AddDate(0, -1, 0))
	require.NoError(t, err)
	assert.ErrorIs(t, result.Reason, errAlreadyReset)
	assert.Equal(t, int64(15), f.store.account(t, "a").Balance)
}
