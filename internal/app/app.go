// Package app wires configuration, storage and services into the object
// graph shared by the server and the operator CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"creditledger/internal/config"
	"creditledger/internal/db"
	"creditledger/internal/logging"
	"creditledger/internal/plans"
	"creditledger/internal/services"
	"creditledger/internal/store"
	"creditledger/internal/websocket"

	"github.com/jmoiron/sqlx"
)

type App struct {
	Config   config.Config
	Log      *slog.Logger
	DB       *sqlx.DB
	TxRunner db.TxRunner
	Catalog  *plans.Catalog
	Hub      *websocket.Hub

	Users        *store.UserStore
	Accounts     *store.CreditAccountStore
	Transactions *store.CreditTransactionStore
	Purchases    *store.CreditPurchaseStore
	Payments     *store.PaymentStore
	Events       *store.WebhookEventStore
	Admins       *store.AdminStore
	Audit        *store.AuditStore

	Ledger     services.Ledger
	Reconciler *services.Reconciler
	Reset      *services.ResetTrigger
}

// Open connects to the database, applies migrations when migrate is set and
// builds every service. Close releases the connection.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger, migrate bool) (*App, error) {
	if log == nil {
		log = logging.Discard()
	}
	priceMap, err := plans.ParsePriceMap(cfg.PricePlanMap)
	if err != nil {
		return nil, err
	}
	catalog, err := plans.New(cfg.Variant, priceMap)
	if err != nil {
		return nil, err
	}
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if migrate {
		if err := db.Migrate(ctx, database, log); err != nil {
			return nil, errors.Join(err, database.Close())
		}
	}

	a := &App{
		Config:       cfg,
		Log:          log,
		DB:           database,
		TxRunner:     db.NewTxRunner(database),
		Catalog:      catalog,
		Hub:          websocket.NewHub(),
		Users:        store.NewUserStore(database),
		Accounts:     store.NewCreditAccountStore(database),
		Transactions: store.NewCreditTransactionStore(database),
		Purchases:    store.NewCreditPurchaseStore(database),
		Payments:     store.NewPaymentStore(database),
		Events:       store.NewWebhookEventStore(database),
		Admins:       store.NewAdminStore(database),
		Audit:        store.NewAuditStore(database),
	}
	a.Ledger, err = services.NewLedger(cfg.Variant, services.LedgerDeps{
		TxRunner:     a.TxRunner,
		Accounts:     a.Accounts,
		Transactions: a.Transactions,
		Purchases:    a.Purchases,
		Audit:        a.Audit,
		Catalog:      catalog,
	},
		services.WithLogger(log),
		services.WithHub(a.Hub),
		services.WithResetConcurrency(cfg.ResetConcurrency),
	)
	if err != nil {
		return nil, errors.Join(err, database.Close())
	}
	a.Reconciler = services.NewReconciler(a.Ledger, a.TxRunner, a.Payments, a.Events,
		services.NewUserResolver(a.Users, log), catalog,
		services.WithReconcilerLogger(log),
	)
	a.Reset = services.NewResetTrigger(a.Ledger, a.Payments, log, cfg.ResetConcurrency)
	return a, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
