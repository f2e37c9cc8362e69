package main

import (
	"context"
	"fmt"
	"os"

	"creditledger/internal/config"
	"creditledger/internal/db"
	"creditledger/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("error", logging.FormatJSON).Error("load config", logging.Error(err))
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect database", logging.Error(err))
		os.Exit(1)
	}
	defer database.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx, database, log); err != nil {
		log.Error("failed to apply migrations", logging.Error(err))
		os.Exit(1)
	}
	version, err := db.MigrationVersion(ctx, database)
	if err != nil {
		log.Error("failed to read migration version", logging.Error(err))
		os.Exit(1)
	}
	fmt.Printf("schema at version %d (%s)\n", version, database.DriverName())
}
