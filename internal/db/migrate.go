package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

var ErrMigrationFailed = errors.New("failed to apply migrations")

// Migrate applies the embedded migrations that match the connection's driver.
func Migrate(ctx context.Context, database *sqlx.DB, log *slog.Logger) error {
	dir, gooseDialect := "migrations/postgres", "postgres"
	if database.DriverName() == string(DialectSQLite) {
		dir, gooseDialect = "migrations/sqlite", "sqlite3"
	}
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(gooseLogger{log: log})
	if err := goose.SetDialect(gooseDialect); err != nil {
		return errors.Join(ErrMigrationFailed, err)
	}
	if err := goose.UpContext(ctx, database.DB, dir); err != nil {
		return errors.Join(ErrMigrationFailed, err)
	}
	return nil
}

// MigrationVersion returns the latest applied migration version.
func MigrationVersion(ctx context.Context, database *sqlx.DB) (int64, error) {
	return goose.GetDBVersionContext(ctx, database.DB)
}

type gooseLogger struct {
	log *slog.Logger
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	if l.log != nil {
		l.log.Error(fmt.Sprintf(format, v...), slog.String("component", "migrate"))
	}
}

func (l gooseLogger) Printf(format string, v ...any) {
	if l.log != nil {
		l.log.Info(fmt.Sprintf(format, v...), slog.String("component", "migrate"))
	}
}
