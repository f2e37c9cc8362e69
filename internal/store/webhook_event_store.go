package store

import (
	"context"
	"time"

	"creditledger/internal/models"
)

// WebhookEventStore tracks delivered provider events. Rows in dropped or
// failed state double as the dead-letter record.
type WebhookEventStore struct {
	db DB
}

func NewWebhookEventStore(db DB) *WebhookEventStore {
	return &WebhookEventStore{db: db}
}

// Begin records a received event. It reports false when the event id was
// already recorded.
func (s *WebhookEventStore) Begin(ctx context.Context, eventID, eventType, payload string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO webhook_events (event_id, event_type, status, payload, error, created_at)
		VALUES (?, ?, ?, ?, '', ?)
		ON CONFLICT (event_id) DO NOTHING
	`), eventID, eventType, string(models.WebhookReceived), payload, now)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *WebhookEventStore) Get(ctx context.Context, eventID string) (models.WebhookEvent, error) {
	var row models.WebhookEvent
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT event_id, event_type, status, payload, error, created_at, processed_at
		FROM webhook_events
		WHERE event_id = ?
	`), eventID)
	if err != nil {
		return models.WebhookEvent{}, err
	}
	return row, nil
}

func (s *WebhookEventStore) Finish(ctx context.Context, eventID string, status models.WebhookEventStatus, errMsg string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE webhook_events
		SET status = ?, error = ?, processed_at = ?
		WHERE event_id = ?
	`), string(status), errMsg, now, eventID)
	return err
}

func (s *WebhookEventStore) ListByStatus(ctx context.Context, status models.WebhookEventStatus, limit, offset int) ([]models.WebhookEvent, error) {
	var rows []models.WebhookEvent
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT event_id, event_type, status, payload, error, created_at, processed_at
		FROM webhook_events
		WHERE status = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`), string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
