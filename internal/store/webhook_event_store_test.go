package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"creditledger/internal/models"
)

func TestWebhookEventStoreBegin(t *testing.T) {
	ctx := context.Background()
	store := NewWebhookEventStore(stubDB{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "ON CONFLICT (event_id) DO NOTHING") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 5 || args[0] != "evt-1" || args[2] != "received" {
				t.Fatalf("unexpected args: %#v", args)
			}
			return stubResult{rows: 1}, nil
		},
	})
	fresh, err := store.Begin(ctx, "evt-1", "subscription.active", "{}", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fresh {
		t.Fatalf("expected new event")
	}
}

func TestWebhookEventStoreBeginDuplicate(t *testing.T) {
	ctx := context.Background()
	store := NewWebhookEventStore(stubDB{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			return stubResult{rows: 0}, nil
		},
	})
	fresh, err := store.Begin(ctx, "evt-1", "subscription.active", "{}", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fresh {
		t.Fatalf("expected duplicate event")
	}
}

func TestWebhookEventStoreFinish(t *testing.T) {
	ctx := context.Background()
	store := NewWebhookEventStore(stubDB{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "UPDATE webhook_events") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 4 || args[0] != "dropped" || args[1] != "user not found" || args[3] != "evt-1" {
				t.Fatalf("unexpected args: %#v", args)
			}
			return stubResult{rows: 1}, nil
		},
	})
	if err := store.Finish(ctx, "evt-1", models.WebhookDropped, "user not found", time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
