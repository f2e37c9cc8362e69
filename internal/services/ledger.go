package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/db"
	"creditledger/internal/logging"
	"creditledger/internal/metrics"
	"creditledger/internal/models"
	"creditledger/internal/plans"
	"creditledger/internal/store"
	"creditledger/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Ledger is the credit ledger contract shared by both variants. Operations
// that do not apply to a variant return a result whose Reason is
// ErrNotSupported.
type Ledger interface {
	Variant() config.Variant
	GetBalance(ctx context.Context, userID string) (int64, error)
	GetAccount(ctx context.Context, userID string) (models.CreditAccount, bool, error)
	CheckCredits(ctx context.Context, userID string, amount int64) (bool, error)
	DeductCredits(ctx context.Context, userID string, amount int64, feature string, metadata map[string]any) (OperationResult, error)
	AddCredits(ctx context.Context, req AddCreditsRequest) (OperationResult, error)
	AllocateMonthlyCredits(ctx context.Context, userID, planID string) (OperationResult, error)
	ResetMonthlyCredits(ctx context.Context) (ResetSummary, error)
	HandleSubscriptionChange(ctx context.Context, userID, oldPlanID, newPlanID string) (OperationResult, error)
	HandleSubscriptionCancellation(ctx context.Context, userID string) (OperationResult, error)
	ExpireUserCredits(ctx context.Context, userID string) (OperationResult, error)
	RefundCredits(ctx context.Context, userID string, amount int64, reason string) (OperationResult, error)
	AddBonusCredits(ctx context.Context, userID string, amount int64, reason, actorID string) (OperationResult, error)
	GetTransactionHistory(ctx context.Context, userID string, page, limit int) (TransactionPage, error)
	GetMonthlyUsage(ctx context.Context, userID string) (MonthlyUsage, error)
	GenerateUsageReport(ctx context.Context, userID string, start, end time.Time) (UsageReport, error)
	GetCreditPackages(ctx context.Context) (PackageList, error)
	PurchaseCreditPackage(ctx context.Context, userID, packageID, paymentIntentID string) (OperationResult, error)
	VerifyLedger(ctx context.Context, userID string) ([]store.BalanceCheck, error)
}

// OperationResult reports the outcome of a balance-changing call. Expected
// business failures set Success to false and carry a sentinel in Reason.
type OperationResult struct {
	Success       bool   `json:"success"`
	NewBalance    int64  `json:"new_balance"`
	Error         string `json:"error,omitempty"`
	Code          string `json:"code,omitempty"`
	Required      int64  `json:"required,omitempty"`
	Available     int64  `json:"available,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	Duplicate     bool   `json:"duplicate,omitempty"`
	Reason        error  `json:"-"`
}

type AddCreditsRequest struct {
	UserID   string
	Amount   int64
	Reason   string
	Type     models.TransactionType
	Metadata map[string]any
}

type AccountStore interface {
	Ensure(ctx context.Context, tx store.Execer, userID string, now time.Time) (bool, error)
	GetByUser(ctx context.Context, userID string) (models.CreditAccount, error)
	GetForUpdate(ctx context.Context, tx store.Getter, userID string) (models.CreditAccount, error)
	Update(ctx context.Context, tx store.Execer, account models.CreditAccount) error
	ListDueForReset(ctx context.Context, cutoff time.Time) ([]string, error)
	Reconcile(ctx context.Context, userID string) ([]store.BalanceCheck, error)
}

type TransactionStore interface {
	Insert(ctx context.Context, tx store.Execer, input models.CreditTransaction) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.CreditTransaction, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
	CountSince(ctx context.Context, userID string, since time.Time) (int64, error)
	Aggregate(ctx context.Context, userID string, start, end time.Time) ([]store.UsageAggregate, error)
}

type PurchaseStore interface {
	Create(ctx context.Context, tx store.Execer, purchase models.CreditPurchase) (bool, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string, now time.Time) error
}

type PlanCatalog interface {
	Plan(planID string) (plans.Plan, error)
	PlanForPrice(priceID string) (string, bool)
	Packages() []plans.Package
	Package(packageID string) (plans.Package, error)
}

type BalanceHub interface {
	BroadcastBalance(update websocket.BalanceUpdate)
}

// LedgerDeps are the collaborators shared by both ledger variants.
type LedgerDeps struct {
	TxRunner     db.TxRunner
	Accounts     AccountStore
	Transactions TransactionStore
	Purchases    PurchaseStore
	Audit        AuditStore
	Catalog      PlanCatalog
}

type Option func(*ledgerCore)

func WithClock(now func() time.Time) Option {
	return func(c *ledgerCore) { c.now = func() time.Time { return now().UTC() } }
}

func WithLogger(log *slog.Logger) Option {
	return func(c *ledgerCore) {
		if log != nil {
			c.log = log
		}
	}
}

func WithHub(hub BalanceHub) Option {
	return func(c *ledgerCore) { c.hub = hub }
}

func WithResetConcurrency(n int) Option {
	return func(c *ledgerCore) {
		if n > 0 {
			c.resetConcurrency = n
		}
	}
}

// NewLedger builds the ledger for the configured variant.
func NewLedger(variant config.Variant, deps LedgerDeps, opts ...Option) (Ledger, error) {
	switch variant {
	case config.VariantSubscription:
		return NewSubscriptionLedger(deps, opts...), nil
	case config.VariantPurchase:
		return NewPurchaseLedger(deps, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidVariant, variant)
	}
}

type ledgerCore struct {
	variant          config.Variant
	txRunner         db.TxRunner
	accounts         AccountStore
	transactions     TransactionStore
	purchases        PurchaseStore
	audit            AuditStore
	catalog          PlanCatalog
	hub              BalanceHub
	log              *slog.Logger
	now              func() time.Time
	resetConcurrency int
}

func newLedgerCore(variant config.Variant, deps LedgerDeps, opts []Option) ledgerCore {
	c := ledgerCore{
		variant:          variant,
		txRunner:         deps.TxRunner,
		accounts:         deps.Accounts,
		transactions:     deps.Transactions,
		purchases:        deps.Purchases,
		audit:            deps.Audit,
		catalog:          deps.Catalog,
		log:              logging.Discard(),
		now:              func() time.Time { return time.Now().UTC() },
		resetConcurrency: 4,
	}
	for _, opt := range opts {
		opt(&c)
	}
	c.log = c.log.With(logging.Component("ledger"), slog.String("variant", string(variant)))
	return c
}

func (c *ledgerCore) Variant() config.Variant {
	return c.variant
}

// entry is one ledger row a mutation wants appended. BalanceAfter is filled
// in by apply.
type entry struct {
	amount   int64
	typ      models.TransactionType
	reason   string
	feature  string
	metadata map[string]any
}

type auditRecord struct {
	actorID string
	action  string
	data    map[string]any
}

type change struct {
	entries []entry
	audit   *auditRecord
}

// mutation edits the locked account in place and returns the rows explaining
// the edit, or a non-nil result to end the transaction without writing.
type mutation func(tx *sqlx.Tx, account *models.CreditAccount, now time.Time) (change, *OperationResult, error)

type txHookKey struct{}

// txHook is a write the caller wants committed in the same transaction as
// the next ledger change made with its context.
type txHook struct {
	write   func(ctx context.Context, tx *sqlx.Tx) error
	claimed bool
}

func withTxHook(ctx context.Context, hook *txHook) context.Context {
	return context.WithValue(ctx, txHookKey{}, hook)
}

// claimTxHook hands the hook to the first ledger transaction that asks.
func claimTxHook(ctx context.Context) *txHook {
	hook, ok := ctx.Value(txHookKey{}).(*txHook)
	if !ok || hook.claimed {
		return nil
	}
	hook.claimed = true
	return hook
}

// apply runs one ledger operation: optional ensure, lock, mutate, then write
// the account and its rows in a single transaction. The entries must sum to
// the balance change. A tx hook on ctx is written last in the same
// transaction, also when the mutation rejects.
func (c *ledgerCore) apply(ctx context.Context, op, userID string, ensure bool, fn mutation) (OperationResult, error) {
	var (
		result  OperationResult
		written []models.CreditTransaction
		now     = c.now()
		hook    = claimTxHook(ctx)
	)
	err := c.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		written = nil
		runHook := func() error {
			if hook == nil {
				return nil
			}
			return hook.write(ctx, tx)
		}
		if ensure {
			if _, err := c.accounts.Ensure(ctx, tx, userID, now); err != nil {
				return err
			}
		}
		account, err := c.accounts.GetForUpdate(ctx, tx, userID)
		if errors.Is(err, sql.ErrNoRows) {
			result = rejected(ErrAccountNotInitialized, 0, "Credit account not initialized")
			return runHook()
		}
		if err != nil {
			return err
		}
		before := account.Balance
		ch, rejection, err := fn(tx, &account, now)
		if err != nil {
			return err
		}
		if rejection != nil {
			result = *rejection
			return runHook()
		}
		rows, err := buildRows(userID, before, account.Balance, ch.entries, now)
		if err != nil {
			return err
		}
		account.UpdatedAt = now
		if err := c.accounts.Update(ctx, tx, account); err != nil {
			return err
		}
		for _, row := range rows {
			if err := c.transactions.Insert(ctx, tx, row); err != nil {
				return err
			}
		}
		if ch.audit != nil && c.audit != nil {
			data, _ := json.Marshal(ch.audit.data)
			if err := c.audit.Log(ctx, tx, ch.audit.actorID, ch.audit.action, "credit_account", userID, string(data), now); err != nil {
				return err
			}
		}
		if err := runHook(); err != nil {
			return err
		}
		result = OperationResult{Success: true, NewBalance: account.Balance}
		if len(rows) > 0 {
			result.TransactionID = rows[len(rows)-1].ID
		}
		written = rows
		return nil
	})
	if err != nil {
		metrics.LedgerOperations.WithLabelValues(op, metrics.OutcomeError).Inc()
		c.log.Error("ledger operation failed", slog.String("op", op), logging.UserID(userID), logging.Error(err))
		return OperationResult{Success: false, Error: "Credit operation failed. Please try again.", Reason: ErrCreditOperationFailed},
			fmt.Errorf("%w: %w", ErrCreditOperationFailed, err)
	}
	if !result.Success {
		metrics.LedgerOperations.WithLabelValues(op, metrics.OutcomeRejected).Inc()
		return result, nil
	}
	metrics.LedgerOperations.WithLabelValues(op, metrics.OutcomeSuccess).Inc()
	c.publish(userID, written, now)
	return result, nil
}

func buildRows(userID string, before, after int64, entries []entry, now time.Time) ([]models.CreditTransaction, error) {
	rows := make([]models.CreditTransaction, 0, len(entries))
	balance := before
	for _, e := range entries {
		balance += e.amount
		if balance < 0 {
			return nil, fmt.Errorf("%w: negative running balance", errLedgerDrift)
		}
		metadata := "{}"
		if len(e.metadata) > 0 {
			raw, err := json.Marshal(e.metadata)
			if err != nil {
				return nil, err
			}
			metadata = string(raw)
		}
		row := models.CreditTransaction{
			ID:           uuid.NewString(),
			UserID:       userID,
			Amount:       e.amount,
			BalanceAfter: balance,
			Type:         e.typ,
			Reason:       e.reason,
			Metadata:     metadata,
			CreatedAt:    now,
		}
		if e.feature != "" {
			feature := e.feature
			row.FeatureUsed = &feature
		}
		rows = append(rows, row)
	}
	if balance != after {
		return nil, fmt.Errorf("%w: entries end at %d, account at %d", errLedgerDrift, balance, after)
	}
	return rows, nil
}

func (c *ledgerCore) publish(userID string, rows []models.CreditTransaction, now time.Time) {
	if len(rows) == 0 {
		return
	}
	var delta int64
	for _, row := range rows {
		abs := row.Amount
		if abs < 0 {
			abs = -abs
		}
		metrics.CreditsMoved.WithLabelValues(string(row.Type)).Add(float64(abs))
		delta += row.Amount
	}
	if c.hub == nil {
		return
	}
	last := rows[len(rows)-1]
	c.hub.BroadcastBalance(websocket.BalanceUpdate{
		UserID:  userID,
		Balance: last.BalanceAfter,
		Delta:   delta,
		Type:    string(last.Type),
		Reason:  last.Reason,
		At:      now,
	})
}

func rejected(reason error, balance int64, message string) OperationResult {
	return OperationResult{
		Success:    false,
		NewBalance: balance,
		Error:      message,
		Code:       codeFor(reason),
		Reason:     reason,
	}
}

func insufficient(required, available int64) OperationResult {
	r := rejected(ErrInsufficientCredits, available,
		fmt.Sprintf("Insufficient credits. Required: %d, Available: %d", required, available))
	r.Required = required
	r.Available = available
	return r
}

func notSupported(op string) OperationResult {
	return rejected(ErrNotSupported, 0, fmt.Sprintf("%s is not available for this billing model", op))
}

func codeFor(reason error) string {
	switch {
	case reason == nil:
		return ""
	case errors.Is(reason, ErrInsufficientCredits):
		return "insufficient_credits"
	case errors.Is(reason, ErrAccountNotInitialized):
		return "account_not_initialized"
	case errors.Is(reason, ErrPlanConfigurationMissing):
		return "plan_configuration_missing"
	case errors.Is(reason, ErrNotSupported):
		return "not_supported"
	case errors.Is(reason, ErrPackageNotFound):
		return "package_not_found"
	case errors.Is(reason, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(reason, ErrInvalidTransactionType):
		return "invalid_transaction_type"
	case errors.Is(reason, errAlreadyReset):
		return "already_reset"
	default:
		return "credit_operation_failed"
	}
}
