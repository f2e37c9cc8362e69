package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"creditledger/internal/models"
)

func TestCreditAccountStoreEnsure(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "INSERT INTO credit_accounts") || !strings.Contains(query, "ON CONFLICT (user_id) DO NOTHING") {
				t.Fatalf("unexpected query: %s", query)
			}
			if !strings.Contains(query, "$1") {
				t.Fatalf("expected postgres placeholders: %s", query)
			}
			if len(args) != 3 || args[0] != "user-1" || args[1] != now {
				t.Fatalf("unexpected args: %#v", args)
			}
			return stubResult{rows: 1}, nil
		},
	}
	store := NewCreditAccountStore(stubDB{})
	created, err := store.Ensure(ctx, execer, "user-1", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatalf("expected account to be created")
	}
}

func TestCreditAccountStoreEnsureExisting(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			return stubResult{rows: 0}, nil
		},
	}
	store := NewCreditAccountStore(stubDB{})
	created, err := store.Ensure(ctx, execer, "user-1", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatalf("expected existing account to be kept")
	}
}

func TestCreditAccountStoreGetForUpdate(t *testing.T) {
	ctx := context.Background()
	getter := stubGetter{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "FOR UPDATE") {
				t.Fatalf("expected FOR UPDATE: %s", query)
			}
			if len(args) != 1 || args[0] != "user-1" {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*models.CreditAccount) = models.CreditAccount{UserID: "user-1", Balance: 40}
			return nil
		},
	}
	store := NewCreditAccountStore(stubDB{})
	account, err := store.GetForUpdate(ctx, getter, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if account.Balance != 40 {
		t.Fatalf("unexpected balance: %d", account.Balance)
	}
}

func TestCreditAccountStoreGetForUpdateSQLite(t *testing.T) {
	ctx := context.Background()
	getter := stubGetter{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if strings.Contains(query, "FOR UPDATE") {
				t.Fatalf("sqlite query must not lock rows: %s", query)
			}
			if !strings.Contains(query, "user_id = ?") {
				t.Fatalf("expected question placeholders: %s", query)
			}
			return nil
		},
	}
	store := NewCreditAccountStore(stubDB{driver: "sqlite"})
	if _, err := store.GetForUpdate(ctx, getter, "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreditAccountStoreGetByUserNoRows(t *testing.T) {
	ctx := context.Background()
	store := NewCreditAccountStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			return sql.ErrNoRows
		},
	})
	_, err := store.GetByUser(ctx, "user-1")
	if err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestCreditAccountStoreUpdate(t *testing.T) {
	ctx := context.Background()
	reset := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "UPDATE credit_accounts") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 8 || args[0] != int64(70) || args[7] != "user-1" {
				t.Fatalf("unexpected args: %#v", args)
			}
			if args[5] != &reset {
				t.Fatalf("unexpected reset date arg: %#v", args[5])
			}
			return stubResult{rows: 1}, nil
		},
	}
	store := NewCreditAccountStore(stubDB{})
	err := store.Update(ctx, execer, models.CreditAccount{UserID: "user-1", Balance: 70, LastResetDate: &reset})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreditAccountStoreListDueForReset(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	store := NewCreditAccountStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "monthly_allocation > 0") || !strings.Contains(query, "last_reset_date IS NULL") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 1 || args[0] != cutoff {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*[]string) = []string{"user-1", "user-2"}
			return nil
		},
	})
	ids, err := store.ListDueForReset(ctx, cutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("unexpected ids: %#v", ids)
	}
}

func TestCreditAccountStoreReconcile(t *testing.T) {
	ctx := context.Background()
	store := NewCreditAccountStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "LEFT JOIN credit_transactions") || !strings.Contains(query, "WHERE a.user_id = $1") {
				t.Fatalf("unexpected query: %s", query)
			}
			*dest.(*[]BalanceCheck) = []BalanceCheck{{UserID: "user-1", StoredBalance: 10, CalculatedBalance: 10}}
			return nil
		},
	})
	rows, err := store.Reconcile(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].Difference != 0 {
		t.Fatalf("unexpected rows: %#v", rows)
	}
}

func TestCreditAccountStoreReconcileAll(t *testing.T) {
	ctx := context.Background()
	store := NewCreditAccountStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if strings.Contains(query, "WHERE a.user_id") {
				t.Fatalf("unexpected user filter: %s", query)
			}
			if len(args) != 0 {
				t.Fatalf("unexpected args: %#v", args)
			}
			return nil
		},
	})
	if _, err := store.Reconcile(ctx, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
