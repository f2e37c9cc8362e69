package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"creditledger/internal/logging"
)

const (
	SourceMetadata   = "metadata"
	SourceCustomerID = "customer_id"
	SourceEmail      = "email"
)

// metadataUserKeys are checked in order for an explicit user id.
var metadataUserKeys = []string{"userId", "user_id", "userID"}

type UserDirectory interface {
	GetIDByCustomerID(ctx context.Context, customerID string) (string, error)
	GetIDByEmail(ctx context.Context, email string) (string, error)
	LinkCustomer(ctx context.Context, userID, customerID string, now time.Time) error
}

type Resolution struct {
	UserID string
	Source string
}

type resolveStep struct {
	source string
	lookup func(ctx context.Context, data EventData) (string, error)
}

// UserResolver maps a payment event to a local user: explicit metadata, then
// the stored provider customer id, then the customer email. A match by email
// links the customer id for next time.
type UserResolver struct {
	users UserDirectory
	log   *slog.Logger
	now   func() time.Time
	steps []resolveStep
}

func NewUserResolver(users UserDirectory, log *slog.Logger) *UserResolver {
	if log == nil {
		log = logging.Discard()
	}
	r := &UserResolver{
		users: users,
		log:   log.With(logging.Component("user_resolver")),
		now:   func() time.Time { return time.Now().UTC() },
	}
	r.steps = []resolveStep{
		{source: SourceMetadata, lookup: r.fromMetadata},
		{source: SourceCustomerID, lookup: r.fromCustomerID},
		{source: SourceEmail, lookup: r.fromEmail},
	}
	return r
}

// Resolve returns ErrUserResolution when no step matches. Lookup faults are
// returned as is.
func (r *UserResolver) Resolve(ctx context.Context, data EventData) (Resolution, error) {
	for _, step := range r.steps {
		userID, err := step.lookup(ctx, data)
		if err != nil {
			return Resolution{}, fmt.Errorf("resolve user by %s: %w", step.source, err)
		}
		if userID == "" {
			continue
		}
		if step.source == SourceEmail && data.Customer.ID != "" {
			if err := r.users.LinkCustomer(ctx, userID, data.Customer.ID, r.now()); err != nil {
				r.log.Warn("customer id backfill failed", logging.UserID(userID), logging.Error(err))
			}
		}
		return Resolution{UserID: userID, Source: step.source}, nil
	}
	return Resolution{}, ErrUserResolution
}

func (r *UserResolver) fromMetadata(_ context.Context, data EventData) (string, error) {
	for _, key := range metadataUserKeys {
		if v, ok := data.Metadata[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), nil
		}
	}
	return "", nil
}

func (r *UserResolver) fromCustomerID(ctx context.Context, data EventData) (string, error) {
	if data.Customer.ID == "" {
		return "", nil
	}
	return r.users.GetIDByCustomerID(ctx, data.Customer.ID)
}

func (r *UserResolver) fromEmail(ctx context.Context, data EventData) (string, error) {
	if strings.TrimSpace(data.Customer.Email) == "" {
		return "", nil
	}
	return r.users.GetIDByEmail(ctx, data.Customer.Email)
}
