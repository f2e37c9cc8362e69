package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"
)

func TestUserStoreGetIDByEmailLowercases(t *testing.T) {
	ctx := context.Background()
	store := NewUserStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "LOWER(email)") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 1 || args[0] != "jane@example.com" {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*string) = "user-1"
			return nil
		},
	})
	id, err := store.GetIDByEmail(ctx, " Jane@Example.com ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "user-1" {
		t.Fatalf("unexpected id: %s", id)
	}
}

func TestUserStoreGetIDByCustomerIDMissing(t *testing.T) {
	ctx := context.Background()
	store := NewUserStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "FROM billing_customers") {
				t.Fatalf("unexpected query: %s", query)
			}
			return sql.ErrNoRows
		},
	})
	id, err := store.GetIDByCustomerID(ctx, "cus_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "" {
		t.Fatalf("expected empty id, got %s", id)
	}
}

func TestUserStoreLinkCustomer(t *testing.T) {
	ctx := context.Background()
	store := NewUserStore(stubDB{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "INSERT INTO billing_customers") || !strings.Contains(query, "ON CONFLICT (user_id) DO UPDATE") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 3 || args[0] != "user-1" || args[1] != "cus_1" {
				t.Fatalf("unexpected args: %#v", args)
			}
			return stubResult{rows: 1}, nil
		},
	})
	if err := store.LinkCustomer(ctx, "user-1", "cus_1", time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUserStoreExists(t *testing.T) {
	ctx := context.Background()
	store := NewUserStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			*dest.(*int) = 1
			return nil
		},
	})
	ok, err := store.Exists(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected user to exist")
	}
}
