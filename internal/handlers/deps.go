package handlers

import (
	"context"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/models"
	"creditledger/internal/services"
	"creditledger/internal/store"
)

type CreditLedger interface {
	Variant() config.Variant
	GetBalance(ctx context.Context, userID string) (int64, error)
	GetAccount(ctx context.Context, userID string) (models.CreditAccount, bool, error)
	CheckCredits(ctx context.Context, userID string, amount int64) (bool, error)
	DeductCredits(ctx context.Context, userID string, amount int64, feature string, metadata map[string]any) (services.OperationResult, error)
	RefundCredits(ctx context.Context, userID string, amount int64, reason string) (services.OperationResult, error)
	AddBonusCredits(ctx context.Context, userID string, amount int64, reason, actorID string) (services.OperationResult, error)
	GetTransactionHistory(ctx context.Context, userID string, page, limit int) (services.TransactionPage, error)
	GetMonthlyUsage(ctx context.Context, userID string) (services.MonthlyUsage, error)
	GenerateUsageReport(ctx context.Context, userID string, start, end time.Time) (services.UsageReport, error)
	GetCreditPackages(ctx context.Context) (services.PackageList, error)
	PurchaseCreditPackage(ctx context.Context, userID, packageID, paymentIntentID string) (services.OperationResult, error)
	VerifyLedger(ctx context.Context, userID string) ([]store.BalanceCheck, error)
}

type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, body []byte) (services.Outcome, error)
	Replay(ctx context.Context, eventID string) (services.Outcome, error)
}

type ResetRunner interface {
	Run(ctx context.Context) (services.ResetSummary, error)
}

type AdminStore interface {
	IsAdmin(ctx context.Context, userID string) (bool, bool, error)
	CreateAdmin(ctx context.Context, userID string, isSuper bool, now time.Time) error
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string, now time.Time) error
	List(ctx context.Context, limit, offset int) ([]store.AuditEntry, error)
}

type WebhookEventStore interface {
	ListByStatus(ctx context.Context, status models.WebhookEventStatus, limit, offset int) ([]models.WebhookEvent, error)
}

type UserStore interface {
	Exists(ctx context.Context, userID string) (bool, error)
	GetIDByEmail(ctx context.Context, email string) (string, error)
}
