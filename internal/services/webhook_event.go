package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// WebhookEvent is the provider-neutral payment event.
type WebhookEvent struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

type EventData struct {
	ID                 string         `json:"id"`
	SubscriptionID     string         `json:"subscription_id,omitempty"`
	Customer           Customer       `json:"customer"`
	ProductID          string         `json:"product_id"`
	Status             string         `json:"status"`
	Recurring          *bool          `json:"recurring,omitempty"`
	Interval           string         `json:"interval,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CurrentPeriodStart *time.Time     `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time     `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool           `json:"cancel_at_period_end,omitempty"`
}

type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type EventCategory string

const (
	CategoryCheckoutCompleted    EventCategory = "checkout_completed"
	CategorySubscriptionStarted  EventCategory = "subscription_started"
	CategorySubscriptionUpdated  EventCategory = "subscription_updated"
	CategorySubscriptionCanceled EventCategory = "subscription_canceled"
	CategorySubscriptionExpired  EventCategory = "subscription_expired"
	CategoryOneTimePayment       EventCategory = "one_time_payment"
	CategoryIgnored              EventCategory = "ignored"
)

var eventCategories = map[string]EventCategory{
	"checkout.completed":            CategoryCheckoutCompleted,
	"checkout.session.completed":    CategoryCheckoutCompleted,
	"subscription.active":           CategorySubscriptionStarted,
	"subscription.created":          CategorySubscriptionStarted,
	"customer.subscription.created": CategorySubscriptionStarted,
	"subscription.update":           CategorySubscriptionUpdated,
	"subscription.updated":          CategorySubscriptionUpdated,
	"subscription.paid":             CategorySubscriptionUpdated,
	"subscription.past_due":         CategorySubscriptionUpdated,
	"customer.subscription.updated": CategorySubscriptionUpdated,
	"subscription.canceled":         CategorySubscriptionCanceled,
	"subscription.cancelled":        CategorySubscriptionCanceled,
	"subscription.expired":          CategorySubscriptionExpired,
	"subscription.deleted":          CategorySubscriptionExpired,
	"customer.subscription.deleted": CategorySubscriptionExpired,
	"payment.completed":             CategoryOneTimePayment,
	"payment_intent.succeeded":      CategoryOneTimePayment,
	"one_time_payment.completed":    CategoryOneTimePayment,
}

// Categorize maps a provider event name onto a reconciler category. Checkout
// completions are split by whether they started a subscription.
func Categorize(event WebhookEvent) EventCategory {
	category, ok := eventCategories[strings.ToLower(event.Type)]
	if !ok {
		return CategoryIgnored
	}
	if category != CategoryCheckoutCompleted {
		return category
	}
	if event.Data.SubscriptionID != "" || (event.Data.Recurring != nil && *event.Data.Recurring) {
		return CategorySubscriptionStarted
	}
	return CategoryOneTimePayment
}

type rawEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
	Object    json.RawMessage `json:"object"`
}

// ParseWebhookEvent decodes a normalized event. The "eventType" and "object"
// spellings are accepted as aliases of "type" and "data".
func ParseWebhookEvent(body []byte) (WebhookEvent, error) {
	var raw rawEvent
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	event := WebhookEvent{ID: strings.TrimSpace(raw.ID), Type: strings.TrimSpace(raw.Type)}
	if event.Type == "" {
		event.Type = strings.TrimSpace(raw.EventType)
	}
	data := raw.Data
	if len(data) == 0 || string(data) == "null" {
		data = raw.Object
	}
	if len(data) == 0 || string(data) == "null" {
		return WebhookEvent{}, fmt.Errorf("%w: missing data", ErrMalformedPayload)
	}
	if err := json.Unmarshal(data, &event.Data); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	switch {
	case event.ID == "":
		return WebhookEvent{}, fmt.Errorf("%w: missing event id", ErrMalformedPayload)
	case event.Type == "":
		return WebhookEvent{}, fmt.Errorf("%w: missing event type", ErrMalformedPayload)
	case event.Data.ID == "":
		return WebhookEvent{}, fmt.Errorf("%w: missing data id", ErrMalformedPayload)
	}
	return event, nil
}
