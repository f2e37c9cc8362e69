package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"
)

func TestAdminStoreIsAdminNoRows(t *testing.T) {
	ctx := context.Background()
	store := NewAdminStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			return sql.ErrNoRows
		},
	})
	isAdmin, isSuper, err := store.IsAdmin(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if isAdmin || isSuper {
		t.Fatalf("expected non-admin result")
	}
}

func TestAdminStoreIsAdmin(t *testing.T) {
	ctx := context.Background()
	store := NewAdminStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "FROM admins") {
				t.Fatalf("unexpected query: %s", query)
			}
			*dest.(*bool) = true
			return nil
		},
	})
	isAdmin, isSuper, err := store.IsAdmin(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !isAdmin || !isSuper {
		t.Fatalf("expected admin/super true")
	}
}

func TestAdminStoreCreateAdmin(t *testing.T) {
	ctx := context.Background()
	store := NewAdminStore(stubDB{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "INSERT INTO admins") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 3 || args[0] != "user-1" || args[1] != true {
				t.Fatalf("unexpected args: %#v", args)
			}
			return stubResult{rows: 1}, nil
		},
	})
	if err := store.CreateAdmin(ctx, "user-1", true, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAdminStoreHasAnyAdmin(t *testing.T) {
	ctx := context.Background()
	store := NewAdminStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			*dest.(*int) = 2
			return nil
		},
	})
	hasAny, err := store.HasAnyAdmin(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasAny {
		t.Fatalf("expected admins to exist")
	}
}
