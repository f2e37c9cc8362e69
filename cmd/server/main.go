package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"creditledger/internal/app"
	"creditledger/internal/config"
	"creditledger/internal/handlers"
	"creditledger/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("error", logging.FormatJSON).Error("load config", logging.Error(err))
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, log, true)
	if err != nil {
		log.Error("start credit ledger", logging.Error(err))
		os.Exit(1)
	}
	defer a.Close()

	handler := handlers.New(cfg, handlers.Deps{
		TxRunner: a.TxRunner,
		Ledger:   a.Ledger,
		Webhooks: a.Reconciler,
		Reset:    a.Reset,
		Users:    a.Users,
		Admin:    a.Admins,
		Audit:    a.Audit,
		Events:   a.Events,
		Hub:      a.Hub,
		Log:      log,
	})
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("credit ledger listening", "addr", server.Addr, "variant", cfg.Variant)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", logging.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", logging.Error(err))
	}
}
