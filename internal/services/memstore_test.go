package services

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/models"
	"creditledger/internal/plans"
	"creditledger/internal/store"
	"creditledger/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected store failure")

// memLedgerStore is an in-memory ledger store. WithTx holds txMu for the
// whole callback, which gives every transaction the exclusive row lock the
// SQL stores take, and rolls state back when the callback fails.
type memLedgerStore struct {
	txMu   sync.Mutex
	dataMu sync.Mutex

	accounts  map[string]models.CreditAccount
	rows      []models.CreditTransaction
	purchases map[string]models.CreditPurchase
	audits    []string

	failInsert func(row models.CreditTransaction) error
}

func newMemLedgerStore() *memLedgerStore {
	return &memLedgerStore{
		accounts:  map[string]models.CreditAccount{},
		purchases: map[string]models.CreditPurchase{},
	}
}

type memSnapshot struct {
	accounts  map[string]models.CreditAccount
	rows      []models.CreditTransaction
	purchases map[string]models.CreditPurchase
	audits    []string
}

func (m *memLedgerStore) snapshot() memSnapshot {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	s := memSnapshot{
		accounts:  make(map[string]models.CreditAccount, len(m.accounts)),
		rows:      append([]models.CreditTransaction(nil), m.rows...),
		purchases: make(map[string]models.CreditPurchase, len(m.purchases)),
		audits:    append([]string(nil), m.audits...),
	}
	for k, v := range m.accounts {
		s.accounts[k] = v
	}
	for k, v := range m.purchases {
		s.purchases[k] = v
	}
	return s
}

func (m *memLedgerStore) restore(s memSnapshot) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	m.accounts, m.rows, m.purchases, m.audits = s.accounts, s.rows, s.purchases, s.audits
}

func (m *memLedgerStore) WithTx(_ context.Context, fn func(*sqlx.Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	saved := m.snapshot()
	if err := fn(nil); err != nil {
		m.restore(saved)
		return err
	}
	return nil
}

func (m *memLedgerStore) Ensure(_ context.Context, _ store.Execer, userID string, now time.Time) (bool, error) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	if _, ok := m.accounts[userID]; ok {
		return false, nil
	}
	m.accounts[userID] = models.CreditAccount{UserID: userID, CreatedAt: now, UpdatedAt: now}
	return true, nil
}

func (m *memLedgerStore) GetByUser(_ context.Context, userID string) (models.CreditAccount, error) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	account, ok := m.accounts[userID]
	if !ok {
		return models.CreditAccount{}, sql.ErrNoRows
	}
	return account, nil
}

func (m *memLedgerStore) GetForUpdate(ctx context.Context, _ store.Getter, userID string) (models.CreditAccount, error) {
	return m.GetByUser(ctx, userID)
}

func (m *memLedgerStore) Update(_ context.Context, _ store.Execer, account models.CreditAccount) error {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	if account.Balance < 0 {
		return errors.New("check constraint: balance >= 0")
	}
	m.accounts[account.UserID] = account
	return nil
}

func (m *memLedgerStore) ListDueForReset(_ context.Context, cutoff time.Time) ([]string, error) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	var ids []string
	for id, a := range m.accounts {
		if a.MonthlyAllocation > 0 && (a.LastResetDate == nil || !a.LastResetDate.After(cutoff)) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memLedgerStore) Reconcile(_ context.Context, userID string) ([]store.BalanceCheck, error) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	var checks []store.BalanceCheck
	for id, a := range m.accounts {
		if userID != "" && id != userID {
			continue
		}
		var sum int64
		for _, row := range m.rows {
			if row.UserID == id {
				sum += row.Amount
			}
		}
		checks = append(checks, store.BalanceCheck{
			UserID: id, StoredBalance: a.Balance, CalculatedBalance: sum, Difference: a.Balance - sum,
		})
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].UserID < checks[j].UserID })
	return checks, nil
}

func (m *memLedgerStore) Insert(_ context.Context, _ store.Execer, row models.CreditTransaction) error {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	if m.failInsert != nil {
		if err := m.failInsert(row); err != nil {
			return err
		}
	}
	m.rows = append(m.rows, row)
	return nil
}

// userRows returns a user's rows oldest first.
func (m *memLedgerStore) userRows(userID string) []models.CreditTransaction {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	var out []models.CreditTransaction
	for _, row := range m.rows {
		if row.UserID == userID {
			out = append(out, row)
		}
	}
	return out
}

func (m *memLedgerStore) ListByUser(_ context.Context, userID string, limit, offset int) ([]models.CreditTransaction, error) {
	rows := m.userRows(userID)
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *memLedgerStore) CountByUser(_ context.Context, userID string) (int64, error) {
	return int64(len(m.userRows(userID))), nil
}

func (m *memLedgerStore) CountSince(_ context.Context, userID string, since time.Time) (int64, error) {
	var n int64
	for _, row := range m.userRows(userID) {
		if !row.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memLedgerStore) Aggregate(_ context.Context, userID string, start, end time.Time) ([]store.UsageAggregate, error) {
	type key struct {
		typ     models.TransactionType
		feature string
	}
	groups := map[key]*store.UsageAggregate{}
	for _, row := range m.userRows(userID) {
		if row.CreatedAt.Before(start) || !row.CreatedAt.Before(end) {
			continue
		}
		k := key{typ: row.Type}
		if row.FeatureUsed != nil {
			k.feature = *row.FeatureUsed
		}
		agg, ok := groups[k]
		if !ok {
			agg = &store.UsageAggregate{Type: k.typ, FeatureUsed: k.feature}
			groups[k] = agg
		}
		agg.Total += row.Amount
		agg.Count++
	}
	out := make([]store.UsageAggregate, 0, len(groups))
	for _, agg := range groups {
		out = append(out, *agg)
	}
	return out, nil
}

func (m *memLedgerStore) Create(_ context.Context, _ store.Execer, p models.CreditPurchase) (bool, error) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	if _, ok := m.purchases[p.PaymentIntentID]; ok {
		return false, nil
	}
	m.purchases[p.PaymentIntentID] = p
	return true, nil
}

func (m *memLedgerStore) Log(_ context.Context, _ store.Execer, actorID, action, _, entityID, _ string, _ time.Time) error {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	m.audits = append(m.audits, actorID+":"+action+":"+entityID)
	return nil
}

func (m *memLedgerStore) account(t *testing.T, userID string) models.CreditAccount {
	t.Helper()
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	account, ok := m.accounts[userID]
	require.True(t, ok, "account %s missing", userID)
	return account
}

func (m *memLedgerStore) seed(account models.CreditAccount) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	m.accounts[account.UserID] = account
}

// seedBalance sets up an account whose history already explains its balance.
func (m *memLedgerStore) seedBalance(userID string, balance, allocation int64, lastReset *time.Time, at time.Time) {
	m.seed(models.CreditAccount{
		UserID:            userID,
		Balance:           balance,
		MonthlyAllocation: allocation,
		TotalEarned:       balance,
		LastResetDate:     lastReset,
		CreatedAt:         at,
		UpdatedAt:         at,
	})
	if balance > 0 {
		m.dataMu.Lock()
		m.rows = append(m.rows, models.CreditTransaction{
			ID: "seed-" + userID, UserID: userID, Amount: balance, BalanceAfter: balance,
			Type: models.TxEarned, Reason: "seed", Metadata: "{}", CreatedAt: at,
		})
		m.dataMu.Unlock()
	}
}

func (m *memLedgerStore) replaySum(userID string) int64 {
	var sum int64
	for _, row := range m.userRows(userID) {
		sum += row.Amount
	}
	return sum
}

type recordingHub struct {
	mu      sync.Mutex
	updates []websocket.BalanceUpdate
}

func (h *recordingHub) BroadcastBalance(update websocket.BalanceUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, update)
}

func (h *recordingHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.updates)
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type ledgerFixture struct {
	store  *memLedgerStore
	hub    *recordingHub
	clock  *fixedClock
	ledger Ledger
}

func newLedgerFixture(t *testing.T, variant config.Variant) *ledgerFixture {
	t.Helper()
	catalog, err := plans.New(variant, nil)
	require.NoError(t, err)
	f := &ledgerFixture{
		store: newMemLedgerStore(),
		hub:   &recordingHub{},
		clock: &fixedClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)},
	}
	f.ledger, err = NewLedger(variant, LedgerDeps{
		TxRunner:     f.store,
		Accounts:     f.store,
		Transactions: f.store,
		Purchases:    f.store,
		Audit:        f.store,
		Catalog:      catalog,
	}, WithClock(f.clock.Now), WithHub(f.hub), WithResetConcurrency(3))
	require.NoError(t, err)
	return f
}

// requireReplayConsistent checks that the account balance equals the sum of
// its rows and that every BalanceAfter matches the running total.
func (f *ledgerFixture) requireReplayConsistent(t *testing.T, userID string) {
	t.Helper()
	account := f.store.account(t, userID)
	var running int64
	for _, row := range f.store.userRows(userID) {
		running += row.Amount
		require.Equal(t, running, row.BalanceAfter, "row %s (%s)", row.ID, row.Type)
	}
	require.Equal(t, account.Balance, running)
}
