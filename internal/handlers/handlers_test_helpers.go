package handlers

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"creditledger/internal/auth"
	"creditledger/internal/config"
	"creditledger/internal/models"
	"creditledger/internal/services"
	"creditledger/internal/store"
	"creditledger/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

const testSecret = "secret"

type fakeTxRunner struct {
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type stubLedger struct {
	variant        config.Variant
	getBalanceFn   func(ctx context.Context, userID string) (int64, error)
	getAccountFn   func(ctx context.Context, userID string) (models.CreditAccount, bool, error)
	checkFn        func(ctx context.Context, userID string, amount int64) (bool, error)
	deductFn       func(ctx context.Context, userID string, amount int64, feature string, metadata map[string]any) (services.OperationResult, error)
	refundFn       func(ctx context.Context, userID string, amount int64, reason string) (services.OperationResult, error)
	bonusFn        func(ctx context.Context, userID string, amount int64, reason, actorID string) (services.OperationResult, error)
	historyFn      func(ctx context.Context, userID string, page, limit int) (services.TransactionPage, error)
	usageFn        func(ctx context.Context, userID string) (services.MonthlyUsage, error)
	reportFn       func(ctx context.Context, userID string, start, end time.Time) (services.UsageReport, error)
	packagesFn     func(ctx context.Context) (services.PackageList, error)
	purchaseFn     func(ctx context.Context, userID, packageID, paymentIntentID string) (services.OperationResult, error)
	verifyLedgerFn func(ctx context.Context, userID string) ([]store.BalanceCheck, error)
}

func (s stubLedger) Variant() config.Variant {
	if s.variant == "" {
		return config.VariantSubscription
	}
	return s.variant
}

func (s stubLedger) GetBalance(ctx context.Context, userID string) (int64, error) {
	if s.getBalanceFn == nil {
		return 0, nil
	}
	return s.getBalanceFn(ctx, userID)
}

func (s stubLedger) GetAccount(ctx context.Context, userID string) (models.CreditAccount, bool, error) {
	if s.getAccountFn == nil {
		return models.CreditAccount{}, false, nil
	}
	return s.getAccountFn(ctx, userID)
}

func (s stubLedger) CheckCredits(ctx context.Context, userID string, amount int64) (bool, error) {
	if s.checkFn == nil {
		return false, nil
	}
	return s.checkFn(ctx, userID, amount)
}

func (s stubLedger) DeductCredits(ctx context.Context, userID string, amount int64, feature string, metadata map[string]any) (services.OperationResult, error) {
	if s.deductFn == nil {
		return services.OperationResult{Success: true}, nil
	}
	return s.deductFn(ctx, userID, amount, feature, metadata)
}

func (s stubLedger) RefundCredits(ctx context.Context, userID string, amount int64, reason string) (services.OperationResult, error) {
	if s.refundFn == nil {
		return services.OperationResult{Success: true}, nil
	}
	return s.refundFn(ctx, userID, amount, reason)
}

func (s stubLedger) AddBonusCredits(ctx context.Context, userID string, amount int64, reason, actorID string) (services.OperationResult, error) {
	if s.bonusFn == nil {
		return services.OperationResult{Success: true}, nil
	}
	return s.bonusFn(ctx, userID, amount, reason, actorID)
}

func (s stubLedger) GetTransactionHistory(ctx context.Context, userID string, page, limit int) (services.TransactionPage, error) {
	if s.historyFn == nil {
		return services.TransactionPage{}, nil
	}
	return s.historyFn(ctx, userID, page, limit)
}

func (s stubLedger) GetMonthlyUsage(ctx context.Context, userID string) (services.MonthlyUsage, error) {
	if s.usageFn == nil {
		return services.MonthlyUsage{}, nil
	}
	return s.usageFn(ctx, userID)
}

func (s stubLedger) GenerateUsageReport(ctx context.Context, userID string, start, end time.Time) (services.UsageReport, error) {
	if s.reportFn == nil {
		return services.UsageReport{}, nil
	}
	return s.reportFn(ctx, userID, start, end)
}

func (s stubLedger) GetCreditPackages(ctx context.Context) (services.PackageList, error) {
	if s.packagesFn == nil {
		return services.PackageList{}, nil
	}
	return s.packagesFn(ctx)
}

func (s stubLedger) PurchaseCreditPackage(ctx context.Context, userID, packageID, paymentIntentID string) (services.OperationResult, error) {
	if s.purchaseFn == nil {
		return services.OperationResult{Success: true}, nil
	}
	return s.purchaseFn(ctx, userID, packageID, paymentIntentID)
}

func (s stubLedger) VerifyLedger(ctx context.Context, userID string) ([]store.BalanceCheck, error) {
	if s.verifyLedgerFn == nil {
		return nil, nil
	}
	return s.verifyLedgerFn(ctx, userID)
}

type stubWebhooks struct {
	handleFn func(ctx context.Context, body []byte) (services.Outcome, error)
	replayFn func(ctx context.Context, eventID string) (services.Outcome, error)
}

func (s stubWebhooks) HandleWebhook(ctx context.Context, body []byte) (services.Outcome, error) {
	if s.handleFn == nil {
		return services.Outcome{}, nil
	}
	return s.handleFn(ctx, body)
}

func (s stubWebhooks) Replay(ctx context.Context, eventID string) (services.Outcome, error) {
	if s.replayFn == nil {
		return services.Outcome{}, nil
	}
	return s.replayFn(ctx, eventID)
}

type stubReset struct {
	runFn func(ctx context.Context) (services.ResetSummary, error)
}

func (s stubReset) Run(ctx context.Context) (services.ResetSummary, error) {
	if s.runFn == nil {
		return services.ResetSummary{}, nil
	}
	return s.runFn(ctx)
}

type stubUserStore struct {
	existsFn       func(ctx context.Context, userID string) (bool, error)
	getIDByEmailFn func(ctx context.Context, email string) (string, error)
}

func (s stubUserStore) Exists(ctx context.Context, userID string) (bool, error) {
	if s.existsFn == nil {
		return true, nil
	}
	return s.existsFn(ctx, userID)
}

func (s stubUserStore) GetIDByEmail(ctx context.Context, email string) (string, error) {
	if s.getIDByEmailFn == nil {
		return "", nil
	}
	return s.getIDByEmailFn(ctx, email)
}

type stubAdminStore struct {
	isAdminFn     func(ctx context.Context, userID string) (bool, bool, error)
	createAdminFn func(ctx context.Context, userID string, isSuper bool, now time.Time) error
}

func (s stubAdminStore) IsAdmin(ctx context.Context, userID string) (bool, bool, error) {
	if s.isAdminFn == nil {
		return false, false, nil
	}
	return s.isAdminFn(ctx, userID)
}

func (s stubAdminStore) CreateAdmin(ctx context.Context, userID string, isSuper bool, now time.Time) error {
	if s.createAdminFn == nil {
		return nil
	}
	return s.createAdminFn(ctx, userID, isSuper, now)
}

type stubAuditStore struct {
	logFn  func(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string, now time.Time) error
	listFn func(ctx context.Context, limit, offset int) ([]store.AuditEntry, error)
}

func (s stubAuditStore) Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string, now time.Time) error {
	if s.logFn == nil {
		return nil
	}
	return s.logFn(ctx, tx, actorID, action, entityType, entityID, data, now)
}

func (s stubAuditStore) List(ctx context.Context, limit, offset int) ([]store.AuditEntry, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, limit, offset)
}

type stubEventStore struct {
	listFn func(ctx context.Context, status models.WebhookEventStatus, limit, offset int) ([]models.WebhookEvent, error)
}

func (s stubEventStore) ListByStatus(ctx context.Context, status models.WebhookEventStatus, limit, offset int) ([]models.WebhookEvent, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, status, limit, offset)
}

func testConfig() config.Config {
	return config.Config{
		AppEnv:         "test",
		Variant:        config.VariantSubscription,
		JWTSecret:      testSecret,
		TokenTTL:       time.Minute,
		AllowedOrigins: "*",
	}
}

// newTestHandler fills any dependency left zero with a default stub.
func newTestHandler(cfg config.Config, deps Deps) *Handler {
	if deps.TxRunner == nil {
		deps.TxRunner = fakeTxRunner{}
	}
	if deps.Ledger == nil {
		deps.Ledger = stubLedger{}
	}
	if deps.Webhooks == nil {
		deps.Webhooks = stubWebhooks{}
	}
	if deps.Reset == nil {
		deps.Reset = stubReset{}
	}
	if deps.Users == nil {
		deps.Users = stubUserStore{}
	}
	if deps.Admin == nil {
		deps.Admin = stubAdminStore{}
	}
	if deps.Audit == nil {
		deps.Audit = stubAuditStore{}
	}
	if deps.Events == nil {
		deps.Events = stubEventStore{}
	}
	if deps.Hub == nil {
		deps.Hub = websocket.NewHub()
	}
	h := New(cfg, deps)
	h.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	return h
}

// serve routes a request through the full router. A non-empty userID is sent
// as a bearer token.
func serve(t *testing.T, h *Handler, method, path, body, userID string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		token, err := auth.GenerateToken(testSecret, userID, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)
	return rr
}

func adminOnly(userID string) stubAdminStore {
	return stubAdminStore{isAdminFn: func(_ context.Context, id string) (bool, bool, error) {
		return id == userID, false, nil
	}}
}
