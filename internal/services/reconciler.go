package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"creditledger/internal/db"
	"creditledger/internal/logging"
	"creditledger/internal/metrics"
	"creditledger/internal/models"
	"creditledger/internal/plans"
	"creditledger/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type PaymentStore interface {
	Create(ctx context.Context, tx store.Execer, p models.Payment) error
	Update(ctx context.Context, tx store.Execer, p models.Payment) error
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (models.Payment, error)
	GetByTransactionID(ctx context.Context, transactionID string) (models.Payment, error)
}

type WebhookEventLog interface {
	Begin(ctx context.Context, eventID, eventType, payload string, now time.Time) (bool, error)
	Get(ctx context.Context, eventID string) (models.WebhookEvent, error)
	Finish(ctx context.Context, eventID string, status models.WebhookEventStatus, errMsg string, now time.Time) error
}

type Resolver interface {
	Resolve(ctx context.Context, data EventData) (Resolution, error)
}

const (
	OutcomeProcessed = "processed"
	OutcomeDropped   = "dropped"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

// staleAfter is how long an event may sit in received state before a
// redelivery assumes the first attempt died and processes it again.
const staleAfter = 5 * time.Minute

// Outcome describes what the reconciler did with one delivery. Failed events
// and events stuck in received state are picked up again when the provider
// redelivers them.
type Outcome struct {
	EventID   string        `json:"event_id"`
	EventType string        `json:"event_type"`
	Category  EventCategory `json:"category"`
	Status    string        `json:"status"`
	UserID    string        `json:"user_id,omitempty"`
	Message   string        `json:"message,omitempty"`
}

type ReconcilerOption func(*Reconciler)

func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = func() time.Time { return now().UTC() } }
}

func WithReconcilerLogger(log *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if log != nil {
			r.log = log
		}
	}
}

func WithProvider(name string) ReconcilerOption {
	return func(r *Reconciler) {
		if name != "" {
			r.provider = name
		}
	}
}

// Reconciler turns payment provider events into payment records and ledger
// calls. The payment record is the idempotency claim and commits in the same
// transaction as the ledger change it triggers, so a fault leaves neither and
// a redelivery can redo the whole event.
type Reconciler struct {
	ledger   Ledger
	txRunner db.TxRunner
	payments PaymentStore
	events   WebhookEventLog
	resolver Resolver
	catalog  PlanCatalog
	log      *slog.Logger
	now      func() time.Time
	provider string
}

func NewReconciler(ledger Ledger, txRunner db.TxRunner, payments PaymentStore, events WebhookEventLog, resolver Resolver, catalog PlanCatalog, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		ledger:   ledger,
		txRunner: txRunner,
		payments: payments,
		events:   events,
		resolver: resolver,
		catalog:  catalog,
		log:      logging.Discard(),
		now:      func() time.Time { return time.Now().UTC() },
		provider: "creem",
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(logging.Component("reconciler"))
	return r
}

// HandleWebhook parses and processes one delivery. The error is non-nil only
// for malformed payloads and event-log faults; everything else is reported in
// the Outcome so the provider is acknowledged.
func (r *Reconciler) HandleWebhook(ctx context.Context, body []byte) (Outcome, error) {
	event, err := ParseWebhookEvent(body)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", metrics.OutcomeRejected).Inc()
		r.log.Warn("malformed webhook payload", logging.Error(err))
		return Outcome{}, err
	}
	fresh, err := r.events.Begin(ctx, event.ID, event.Type, string(body), r.now())
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: record webhook event: %w", ErrCreditOperationFailed, err)
	}
	if !fresh {
		stored, err := r.events.Get(ctx, event.ID)
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: load webhook event: %w", ErrCreditOperationFailed, err)
		}
		if !r.retryable(stored) {
			metrics.WebhookEvents.WithLabelValues(string(Categorize(event)), metrics.OutcomeSkipped).Inc()
			r.log.Info("duplicate webhook delivery", logging.EventID(event.ID), logging.EventType(event.Type),
				slog.String("stored_status", string(stored.Status)))
			return Outcome{
				EventID:   event.ID,
				EventType: event.Type,
				Category:  Categorize(event),
				Status:    OutcomeDuplicate,
			}, nil
		}
	}
	return r.Process(ctx, event), nil
}

func (r *Reconciler) retryable(stored models.WebhookEvent) bool {
	switch stored.Status {
	case models.WebhookFailed:
		return true
	case models.WebhookReceived:
		return r.now().Sub(stored.CreatedAt) >= staleAfter
	default:
		return false
	}
}

// Replay re-runs a stored event that was not processed.
func (r *Reconciler) Replay(ctx context.Context, eventID string) (Outcome, error) {
	stored, err := r.events.Get(ctx, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return Outcome{}, ErrEventNotFound
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: load webhook event: %w", ErrCreditOperationFailed, err)
	}
	event, err := ParseWebhookEvent([]byte(stored.Payload))
	if err != nil {
		return Outcome{}, err
	}
	if stored.Status == models.WebhookProcessed {
		return Outcome{EventID: event.ID, EventType: event.Type, Category: Categorize(event), Status: OutcomeDuplicate}, nil
	}
	return r.Process(ctx, event), nil
}

// Process dispatches an already recorded event and stores its final status.
func (r *Reconciler) Process(ctx context.Context, event WebhookEvent) Outcome {
	category := Categorize(event)
	log := r.log.With(logging.EventID(event.ID), logging.EventType(event.Type), slog.String("category", string(category)))

	var out Outcome
	switch category {
	case CategorySubscriptionStarted:
		out = r.subscriptionStarted(ctx, log, event)
	case CategorySubscriptionUpdated:
		out = r.subscriptionUpdated(ctx, log, event)
	case CategorySubscriptionCanceled:
		out = r.subscriptionEnded(ctx, log, event, false)
	case CategorySubscriptionExpired:
		out = r.subscriptionEnded(ctx, log, event, true)
	case CategoryOneTimePayment:
		out = r.oneTimePayment(ctx, log, event)
	default:
		out = Outcome{Status: OutcomeIgnored, Message: "unhandled event type"}
	}
	out.EventID, out.EventType, out.Category = event.ID, event.Type, category

	status, metric := models.WebhookProcessed, metrics.OutcomeSuccess
	switch out.Status {
	case OutcomeDropped:
		status, metric = models.WebhookDropped, metrics.OutcomeDropped
	case OutcomeFailed:
		status, metric = models.WebhookFailed, metrics.OutcomeError
	case OutcomeIgnored, OutcomeDuplicate:
		metric = metrics.OutcomeSkipped
	}
	if err := r.events.Finish(context.WithoutCancel(ctx), event.ID, status, out.Message, r.now()); err != nil {
		log.Error("failed to record webhook outcome", logging.Error(err))
	}
	metrics.WebhookEvents.WithLabelValues(string(category), metric).Inc()

	switch out.Status {
	case OutcomeDropped:
		log.Warn("webhook event dropped", logging.UserID(out.UserID), slog.String("reason", out.Message))
	case OutcomeFailed:
		log.Error("webhook event failed", logging.UserID(out.UserID), slog.String("reason", out.Message))
	default:
		log.Info("webhook event handled", logging.UserID(out.UserID), slog.String("status", out.Status))
	}
	return out
}

func (r *Reconciler) subscriptionStarted(ctx context.Context, log *slog.Logger, event WebhookEvent) Outcome {
	data := event.Data
	subID := subscriptionID(data)
	planID, ok := r.catalog.PlanForPrice(data.ProductID)
	if !ok {
		return dropped("", fmt.Sprintf("unknown price %q", data.ProductID))
	}

	existing, err := r.payments.GetBySubscriptionID(ctx, subID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return failed("", err)
	default:
		return r.resumeSubscription(ctx, log, existing, planID, data)
	}

	res, err := r.resolver.Resolve(ctx, data)
	if errors.Is(err, ErrUserResolution) {
		return dropped("", err.Error())
	}
	if err != nil {
		return failed("", err)
	}

	now := r.now()
	payment := models.Payment{
		ID:                uuid.NewString(),
		UserID:            res.UserID,
		Provider:          r.provider,
		PriceID:           data.ProductID,
		PlanID:            planID,
		Type:              models.PaymentSubscription,
		Status:            subscriptionStatus(data.Status, models.PaymentActive),
		SubscriptionID:    &subID,
		PeriodStart:       data.CurrentPeriodStart,
		PeriodEnd:         data.CurrentPeriodEnd,
		CancelAtPeriodEnd: data.CancelAtPeriodEnd,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	result, err := r.commit(ctx,
		func(ctx context.Context, tx *sqlx.Tx) error { return r.payments.Create(ctx, tx, payment) },
		func(ctx context.Context) (OperationResult, error) {
			return r.ledger.AllocateMonthlyCredits(ctx, res.UserID, planID)
		})
	if db.IsUniqueViolation(err) {
		return Outcome{Status: OutcomeDuplicate, UserID: res.UserID, Message: "subscription already recorded"}
	}
	if err != nil {
		return failed(res.UserID, err)
	}
	log.Info("subscription recorded", logging.UserID(res.UserID), logging.PlanID(planID), slog.String("resolved_by", res.Source))
	return settled(log, res.UserID, result)
}

// resumeSubscription handles a start event for a subscription already on
// record: a replay is a no-op, a new price is a plan change and a lapsed
// subscription is reactivated.
func (r *Reconciler) resumeSubscription(ctx context.Context, log *slog.Logger, existing models.Payment, planID string, data EventData) Outcome {
	lapsed := existing.Status == models.PaymentExpired || existing.Status == models.PaymentCanceled
	if existing.PlanID == planID && !lapsed {
		return Outcome{Status: OutcomeDuplicate, UserID: existing.UserID, Message: "subscription already active"}
	}
	prior := existing
	updated := existing
	updated.PlanID = planID
	updated.PriceID = data.ProductID
	updated.Status = models.PaymentActive
	updated.CancelAtPeriodEnd = data.CancelAtPeriodEnd
	updated.PeriodStart = coalesceTime(data.CurrentPeriodStart, existing.PeriodStart)
	updated.PeriodEnd = coalesceTime(data.CurrentPeriodEnd, existing.PeriodEnd)
	updated.UpdatedAt = r.now()

	result, err := r.commit(ctx, r.update(updated), func(ctx context.Context) (OperationResult, error) {
		if lapsed {
			return r.ledger.AllocateMonthlyCredits(ctx, existing.UserID, planID)
		}
		return r.ledger.HandleSubscriptionChange(ctx, existing.UserID, prior.PlanID, planID)
	})
	if err != nil {
		return failed(existing.UserID, err)
	}
	return settled(log, existing.UserID, result)
}

func (r *Reconciler) subscriptionUpdated(ctx context.Context, log *slog.Logger, event WebhookEvent) Outcome {
	data := event.Data
	existing, err := r.payments.GetBySubscriptionID(ctx, subscriptionID(data))
	if errors.Is(err, sql.ErrNoRows) {
		if subscriptionStatus(data.Status, models.PaymentActive) != models.PaymentActive {
			return dropped("", "update for unknown subscription")
		}
		return r.subscriptionStarted(ctx, log, event)
	}
	if err != nil {
		return failed("", err)
	}

	planID := existing.PlanID
	if data.ProductID != "" {
		if mapped, ok := r.catalog.PlanForPrice(data.ProductID); ok {
			planID = mapped
		} else {
			log.Warn("update carries unknown price, keeping plan", logging.PlanID(existing.PlanID),
				slog.String("price_id", data.ProductID))
		}
	}

	prior := existing
	updated := existing
	updated.Status = subscriptionStatus(data.Status, existing.Status)
	updated.CancelAtPeriodEnd = data.CancelAtPeriodEnd
	updated.PeriodStart = coalesceTime(data.CurrentPeriodStart, existing.PeriodStart)
	updated.PeriodEnd = coalesceTime(data.CurrentPeriodEnd, existing.PeriodEnd)
	if planID != existing.PlanID {
		updated.PlanID = planID
		updated.PriceID = data.ProductID
	}
	updated.UpdatedAt = r.now()

	var call func(ctx context.Context) (OperationResult, error)
	switch {
	case updated.Status == models.PaymentExpired && prior.Status != models.PaymentExpired:
		call = func(ctx context.Context) (OperationResult, error) { return r.ledger.ExpireUserCredits(ctx, existing.UserID) }
	case planID != prior.PlanID:
		call = func(ctx context.Context) (OperationResult, error) {
			return r.ledger.HandleSubscriptionChange(ctx, existing.UserID, prior.PlanID, planID)
		}
	case (updated.CancelAtPeriodEnd && !prior.CancelAtPeriodEnd) ||
		(updated.Status == models.PaymentCanceled && prior.Status != models.PaymentCanceled):
		call = func(ctx context.Context) (OperationResult, error) {
			return r.ledger.HandleSubscriptionCancellation(ctx, existing.UserID)
		}
	default:
		if err := r.write(ctx, r.update(updated)); err != nil {
			return failed(existing.UserID, err)
		}
		return Outcome{Status: OutcomeProcessed, UserID: existing.UserID, Message: "payment record updated"}
	}

	result, err := r.commit(ctx, r.update(updated), call)
	if err != nil {
		return failed(existing.UserID, err)
	}
	return settled(log, existing.UserID, result)
}

// subscriptionEnded marks the record canceled and forwards to the matching
// ledger call once. A soft cancellation keeps cancel_at_period_end set; a hard
// end clears it.
func (r *Reconciler) subscriptionEnded(ctx context.Context, log *slog.Logger, event WebhookEvent, hard bool) Outcome {
	existing, err := r.payments.GetBySubscriptionID(ctx, subscriptionID(event.Data))
	if errors.Is(err, sql.ErrNoRows) {
		return dropped("", "cancellation for unknown subscription")
	}
	if err != nil {
		return failed("", err)
	}

	ended := existing.Status == models.PaymentExpired ||
		(existing.Status == models.PaymentCanceled && !existing.CancelAtPeriodEnd)
	if ended || (!hard && existing.Status == models.PaymentCanceled) {
		return Outcome{Status: OutcomeDuplicate, UserID: existing.UserID, Message: "subscription already " + string(existing.Status)}
	}

	updated := existing
	updated.Status = models.PaymentCanceled
	updated.CancelAtPeriodEnd = !hard
	updated.PeriodEnd = coalesceTime(event.Data.CurrentPeriodEnd, existing.PeriodEnd)
	updated.UpdatedAt = r.now()

	result, err := r.commit(ctx, r.update(updated), func(ctx context.Context) (OperationResult, error) {
		if hard {
			return r.ledger.ExpireUserCredits(ctx, existing.UserID)
		}
		return r.ledger.HandleSubscriptionCancellation(ctx, existing.UserID)
	})
	if err != nil {
		return failed(existing.UserID, err)
	}
	return settled(log, existing.UserID, result)
}

// oneTimePayment records a completed purchase keyed on the provider
// transaction id. A lifetime price allocates its monthly equivalent and a
// product naming a credit package buys that package.
func (r *Reconciler) oneTimePayment(ctx context.Context, log *slog.Logger, event WebhookEvent) Outcome {
	data := event.Data
	txID := data.ID
	existing, err := r.payments.GetByTransactionID(ctx, txID)
	switch {
	case err == nil:
		return Outcome{Status: OutcomeDuplicate, UserID: existing.UserID, Message: "payment already recorded"}
	case !errors.Is(err, sql.ErrNoRows):
		return failed("", err)
	}

	res, err := r.resolver.Resolve(ctx, data)
	if errors.Is(err, ErrUserResolution) {
		return dropped("", err.Error())
	}
	if err != nil {
		return failed("", err)
	}

	planID, _ := r.catalog.PlanForPrice(data.ProductID)
	var pkg *plans.Package
	if planID == "" {
		if p, err := r.catalog.Package(data.ProductID); err == nil {
			pkg = &p
		}
	}

	now := r.now()
	payment := models.Payment{
		ID:            uuid.NewString(),
		UserID:        res.UserID,
		Provider:      r.provider,
		PriceID:       data.ProductID,
		PlanID:        planID,
		Type:          models.PaymentOneTime,
		Status:        models.PaymentCompleted,
		TransactionID: &txID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	create := func(ctx context.Context, tx *sqlx.Tx) error { return r.payments.Create(ctx, tx, payment) }

	var call func(ctx context.Context) (OperationResult, error)
	switch {
	case planID == plans.LifetimePlanID:
		call = func(ctx context.Context) (OperationResult, error) {
			return r.ledger.AllocateMonthlyCredits(ctx, res.UserID, planID)
		}
	case pkg != nil:
		call = func(ctx context.Context) (OperationResult, error) {
			return r.ledger.PurchaseCreditPackage(ctx, res.UserID, pkg.ID, txID)
		}
	default:
		err := r.write(ctx, create)
		if db.IsUniqueViolation(err) {
			return Outcome{Status: OutcomeDuplicate, UserID: res.UserID, Message: "payment already recorded"}
		}
		if err != nil {
			return failed(res.UserID, err)
		}
		return Outcome{Status: OutcomeProcessed, UserID: res.UserID, Message: "payment recorded without credit grant"}
	}

	result, err := r.commit(ctx, create, call)
	if db.IsUniqueViolation(err) {
		return Outcome{Status: OutcomeDuplicate, UserID: res.UserID, Message: "payment already recorded"}
	}
	if err != nil {
		return failed(res.UserID, err)
	}
	return settled(log, res.UserID, result)
}

// commit runs a ledger call with the payment write attached to its
// transaction. Calls that end before opening a ledger transaction, such as
// rejections for a missing plan, leave the write to commit on its own.
func (r *Reconciler) commit(ctx context.Context, write func(context.Context, *sqlx.Tx) error, call func(context.Context) (OperationResult, error)) (OperationResult, error) {
	hook := &txHook{write: write}
	result, err := call(withTxHook(ctx, hook))
	if err != nil || hook.claimed {
		return result, err
	}
	if err := r.write(ctx, write); err != nil {
		return OperationResult{}, err
	}
	return result, nil
}

func (r *Reconciler) write(ctx context.Context, fn func(context.Context, *sqlx.Tx) error) error {
	return r.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error { return fn(ctx, tx) })
}

func (r *Reconciler) update(p models.Payment) func(context.Context, *sqlx.Tx) error {
	return func(ctx context.Context, tx *sqlx.Tx) error { return r.payments.Update(ctx, tx, p) }
}

// settled maps a ledger business result onto an outcome. Rejections such as
// an unsupported operation or a missing plan are logged and acknowledged.
func settled(log *slog.Logger, userID string, result OperationResult) Outcome {
	if result.Success {
		return Outcome{Status: OutcomeProcessed, UserID: userID}
	}
	log.Warn("ledger rejected webhook side effect", logging.UserID(userID), slog.String("code", result.Code),
		slog.String("reason", result.Error))
	return Outcome{Status: OutcomeProcessed, UserID: userID, Message: result.Error}
}

func dropped(userID, message string) Outcome {
	return Outcome{Status: OutcomeDropped, UserID: userID, Message: message}
}

func failed(userID string, err error) Outcome {
	return Outcome{Status: OutcomeFailed, UserID: userID, Message: err.Error()}
}

func subscriptionID(data EventData) string {
	if data.SubscriptionID != "" {
		return data.SubscriptionID
	}
	return data.ID
}

// subscriptionStatus is paymentStatus for recurring records, where a
// completed checkout means the subscription is live.
func subscriptionStatus(status string, fallback models.PaymentStatus) models.PaymentStatus {
	if s := paymentStatus(status, fallback); s != models.PaymentCompleted {
		return s
	}
	return models.PaymentActive
}

func coalesceTime(v, fallback *time.Time) *time.Time {
	if v != nil {
		t := v.UTC()
		return &t
	}
	return fallback
}

// paymentStatus normalizes provider status strings.
func paymentStatus(status string, fallback models.PaymentStatus) models.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing", "paid":
		return models.PaymentActive
	case "canceled", "cancelled":
		return models.PaymentCanceled
	case "expired", "deleted", "ended":
		return models.PaymentExpired
	case "past_due", "unpaid":
		return models.PaymentPastDue
	case "completed", "succeeded":
		return models.PaymentCompleted
	default:
		return fallback
	}
}
