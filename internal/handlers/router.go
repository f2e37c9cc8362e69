package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/db"
	"creditledger/internal/logging"
	"creditledger/internal/metrics"
	"creditledger/internal/middleware"
	"creditledger/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	gorillaws "github.com/gorilla/websocket"
)

type Deps struct {
	TxRunner db.TxRunner
	Ledger   CreditLedger
	Webhooks WebhookProcessor
	Reset    ResetRunner
	Users    UserStore
	Admin    AdminStore
	Audit    AuditStore
	Events   WebhookEventStore
	Hub      *websocket.Hub
	Log      *slog.Logger
}

type Handler struct {
	cfg      config.Config
	txRunner db.TxRunner
	ledger   CreditLedger
	webhooks WebhookProcessor
	reset    ResetRunner
	users    UserStore
	admin    AdminStore
	audit    AuditStore
	events   WebhookEventStore
	hub      *websocket.Hub
	upgrader gorillaws.Upgrader
	log      *slog.Logger
	now      func() time.Time
}

func New(cfg config.Config, deps Deps) *Handler {
	log := deps.Log
	if log == nil {
		log = logging.Discard()
	}
	return &Handler{
		cfg:      cfg,
		txRunner: deps.TxRunner,
		ledger:   deps.Ledger,
		webhooks: deps.Webhooks,
		reset:    deps.Reset,
		users:    deps.Users,
		admin:    deps.Admin,
		audit:    deps.Audit,
		events:   deps.Events,
		hub:      deps.Hub,
		upgrader: websocket.Upgrader(cfg.AllowedOrigins),
		log:      log.With(logging.Component("http")),
		now:      time.Now,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(h.cfg.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.With(middleware.VerifySignature(h.cfg.WebhookSecret)).Post("/webhooks/payments", h.PaymentWebhook)
	router.With(middleware.CronSecret(h.cfg.CronSecretHash)).Post("/cron/reset-credits", h.ResetCredits)

	router.Route("/credits", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		r.Get("/balance", h.GetBalance)
		r.Post("/check", h.CheckCredits)
		r.Post("/deduct", h.DeductCredits)
		r.Get("/transactions", h.ListTransactions)
		r.Get("/usage", h.MonthlyUsage)
		r.Get("/report", h.UsageReport)
		r.Get("/packages", h.ListPackages)
		r.Post("/packages/{id}/purchase", h.PurchasePackage)
		r.Get("/self-check", h.SelfCheck)
	})
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/ws/balances", h.WSBalances)

	router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		r.Use(middleware.RequireAdmin(h.admin, false))
		r.Post("/credits/bonus", h.GrantBonus)
		r.Post("/credits/refund", h.RefundCredits)
		r.Get("/reconcile", h.Reconcile)
		r.Get("/audit", h.ListAuditLogs)
		r.Get("/users/email/{email}", h.GetUserByEmail)
		r.Get("/webhooks", h.ListWebhookEvents)
		r.Post("/webhooks/{id}/replay", h.ReplayWebhook)
		r.With(middleware.RequireAdmin(h.admin, true)).Post("/promote", h.PromoteAdmin)
	})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "variant": string(h.cfg.Variant)})
	})
	router.Handle("/metrics", metrics.Handler())
	return router
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
