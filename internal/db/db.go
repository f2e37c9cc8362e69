package db

import (
	"context"
	"database/sql"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

var ErrRetryLimitExceeded = errors.New("transaction retry limit exceeded")

func init() {
	sqlx.BindDriver(string(DialectSQLite), sqlx.QUESTION)
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error
}

type SQLXTxRunner struct {
	db *sqlx.DB
}

func NewTxRunner(db *sqlx.DB) SQLXTxRunner {
	return SQLXTxRunner{db: db}
}

func (r SQLXTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return WithTx(ctx, r.db, fn)
}

// DialectFromURL picks the driver for a DATABASE_URL. Anything that is not an
// explicit SQLite location is treated as a Postgres DSN.
func DialectFromURL(databaseURL string) Dialect {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"),
		strings.HasPrefix(databaseURL, "file:"),
		databaseURL == ":memory:":
		return DialectSQLite
	default:
		return DialectPostgres
	}
}

func Connect(databaseURL string) (*sqlx.DB, error) {
	if DialectFromURL(databaseURL) == DialectSQLite {
		return connectSQLite(databaseURL)
	}
	db, err := sqlx.Connect(string(DialectPostgres), databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// SQLite allows one writer at a time, so the pool is pinned to a single
// connection. This also keeps in-memory databases alive between calls.
func connectSQLite(databaseURL string) (*sqlx.DB, error) {
	dsn := strings.TrimPrefix(databaseURL, "sqlite://")
	if dsn == ":memory:" {
		dsn = "file::memory:"
	}
	if !strings.Contains(dsn, "_time_format=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_time_format=sqlite"
	}
	db, err := sqlx.Connect(string(DialectSQLite), dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

func WithTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	const maxAttempts = 5
	opts := txOptions(db.DriverName())
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		tx, err := db.BeginTxx(ctx, opts)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			if isRetryable(err) && attempt < maxAttempts {
				sleepWithBackoff(attempt)
				continue
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			if isRetryable(err) && attempt < maxAttempts {
				sleepWithBackoff(attempt)
				continue
			}
			return err
		}
		return nil
	}
	return ErrRetryLimitExceeded
}

func txOptions(driverName string) *sql.TxOptions {
	if driverName == string(DialectSQLite) {
		return &sql.TxOptions{}
	}
	return &sql.TxOptions{Isolation: sql.LevelSerializable}
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		// SQLITE_BUSY, SQLITE_LOCKED
		code := liteErr.Code() & 0xff
		return code == 5 || code == 6
	}
	return false
}

// IsUniqueViolation reports whether err is a unique/primary key conflict on
// either dialect.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		// SQLITE_CONSTRAINT_UNIQUE, SQLITE_CONSTRAINT_PRIMARYKEY
		return liteErr.Code() == 2067 || liteErr.Code() == 1555
	}
	return false
}

func sleepWithBackoff(attempt int) {
	base := 20 * time.Millisecond
	backoff := time.Duration(attempt*attempt) * base
	jitter := time.Duration(rand.Int63n(int64(10 * time.Millisecond)))
	time.Sleep(backoff + jitter)
}
