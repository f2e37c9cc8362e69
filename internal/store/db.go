package store

import (
	"context"
	"database/sql"
)

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Getter interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

type Selecter interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Binder turns the `?` placeholders used by every query in this package into
// the driver's native form. *sqlx.DB satisfies it.
type Binder interface {
	Rebind(query string) string
	DriverName() string
}

type DB interface {
	Execer
	Getter
	Selecter
	Binder
}

type Tx interface {
	Execer
	Getter
}

// lockClause returns the row-lock suffix for a SELECT. SQLite has no row locks;
// its single-writer connection serializes transactions instead.
func lockClause(b Binder) string {
	if b.DriverName() == "sqlite" {
		return ""
	}
	return " FOR UPDATE"
}

func metadataOrEmpty(metadata string) string {
	if metadata == "" {
		return "{}"
	}
	return metadata
}
