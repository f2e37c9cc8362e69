package models

import "time"

type TransactionType string

const (
	TxEarned    TransactionType = "earned"
	TxSpent     TransactionType = "spent"
	TxPurchased TransactionType = "purchased"
	TxExpired   TransactionType = "expired"
	TxRefunded  TransactionType = "refunded"
	TxBonus     TransactionType = "bonus"
)

// Valid reports whether t is one of the ledger transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TxEarned, TxSpent, TxPurchased, TxExpired, TxRefunded, TxBonus:
		return true
	}
	return false
}

// CreditAccount is the balance projection for one user. It is only mutated
// through the credit ledger service.
type CreditAccount struct {
	UserID            string     `db:"user_id" json:"user_id"`
	Balance           int64      `db:"balance" json:"balance"`
	MonthlyAllocation int64      `db:"monthly_allocation" json:"monthly_allocation"`
	PurchasedCredits  int64      `db:"purchased_credits" json:"purchased_credits"`
	TotalEarned       int64      `db:"total_earned" json:"total_earned"`
	TotalSpent        int64      `db:"total_spent" json:"total_spent"`
	LastResetDate     *time.Time `db:"last_reset_date" json:"last_reset_date,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// CreditTransaction is one append-only ledger row. BalanceAfter is the account
// balance immediately after Amount was applied.
type CreditTransaction struct {
	ID           string          `db:"id" json:"id"`
	UserID       string          `db:"user_id" json:"user_id"`
	Amount       int64           `db:"amount" json:"amount"`
	BalanceAfter int64           `db:"balance_after" json:"balance_after"`
	Type         TransactionType `db:"type" json:"type"`
	Reason       string          `db:"reason" json:"reason"`
	FeatureUsed  *string         `db:"feature_used" json:"feature_used,omitempty"`
	Metadata     string          `db:"metadata" json:"metadata"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

type PaymentType string

const (
	PaymentSubscription PaymentType = "subscription"
	PaymentOneTime      PaymentType = "one_time"
)

type PaymentStatus string

const (
	PaymentActive    PaymentStatus = "active"
	PaymentCompleted PaymentStatus = "completed"
	PaymentCanceled  PaymentStatus = "canceled"
	PaymentExpired   PaymentStatus = "expired"
	PaymentPastDue   PaymentStatus = "past_due"
)

type Payment struct {
	ID                string        `db:"id" json:"id"`
	UserID            string        `db:"user_id" json:"user_id"`
	Provider          string        `db:"provider" json:"provider"`
	PriceID           string        `db:"price_id" json:"price_id"`
	PlanID            string        `db:"plan_id" json:"plan_id"`
	Type              PaymentType   `db:"type" json:"type"`
	Status            PaymentStatus `db:"status" json:"status"`
	SubscriptionID    *string       `db:"subscription_id" json:"subscription_id,omitempty"`
	TransactionID     *string       `db:"transaction_id" json:"transaction_id,omitempty"`
	PeriodStart       *time.Time    `db:"period_start" json:"period_start,omitempty"`
	PeriodEnd         *time.Time    `db:"period_end" json:"period_end,omitempty"`
	CancelAtPeriodEnd bool          `db:"cancel_at_period_end" json:"cancel_at_period_end"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

type CreditPurchase struct {
	ID              string    `db:"id" json:"id"`
	UserID          string    `db:"user_id" json:"user_id"`
	PackageID       string    `db:"package_id" json:"package_id"`
	Credits         int64     `db:"credits" json:"credits"`
	PriceCents      int64     `db:"price_cents" json:"price_cents"`
	PaymentIntentID string    `db:"payment_intent_id" json:"payment_intent_id"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

type WebhookEventStatus string

const (
	WebhookReceived  WebhookEventStatus = "received"
	WebhookProcessed WebhookEventStatus = "processed"
	WebhookDropped   WebhookEventStatus = "dropped"
	WebhookFailed    WebhookEventStatus = "failed"
)

type WebhookEvent struct {
	EventID     string             `db:"event_id" json:"event_id"`
	EventType   string             `db:"event_type" json:"event_type"`
	Status      WebhookEventStatus `db:"status" json:"status"`
	Payload     string             `db:"payload" json:"payload"`
	Error       string             `db:"error" json:"error"`
	CreatedAt   time.Time          `db:"created_at" json:"created_at"`
	ProcessedAt *time.Time         `db:"processed_at" json:"processed_at,omitempty"`
}
