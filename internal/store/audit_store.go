package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AuditStore struct {
	db DB
}

type AuditEntry struct {
	ID          string    `db:"id" json:"id"`
	ActorUserID *string   `db:"actor_user_id" json:"actor_user_id,omitempty"`
	Action      string    `db:"action" json:"action"`
	EntityType  string    `db:"entity_type" json:"entity_type"`
	EntityID    string    `db:"entity_id" json:"entity_id"`
	Data        string    `db:"data" json:"data"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

func NewAuditStore(db DB) *AuditStore {
	return &AuditStore{db: db}
}

// Log writes an audit row inside tx. An empty actorID is stored as NULL.
func (s *AuditStore) Log(ctx context.Context, tx Execer, actorID, action, entityType, entityID, data string, now time.Time) error {
	var actor *string
	if actorID != "" {
		actor = &actorID
	}
	_, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO audit_logs (id, actor_user_id, action, entity_type, entity_id, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), uuid.NewString(), actor, action, entityType, entityID, metadataOrEmpty(data), now)
	return err
}

func (s *AuditStore) List(ctx context.Context, limit, offset int) ([]AuditEntry, error) {
	var rows []AuditEntry
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT id, actor_user_id, action, entity_type, entity_id, data, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`), limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
