// Package pg implements every persistence interface on PostgreSQL through
// database/sql and the pgx driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rotisserie/eris"

	"github.com/Davelummy/taxagent/internal/dashboard"
)

const (
	pgErrUndefinedTable  = "42P01"
	pgErrUndefinedColumn = "42703"
)

// Store wraps a connection pool.
type Store struct {
	db *sql.DB
}

// Open connects with the pgx driver and tunes the pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "pg: open")
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing pool.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// classify maps schema errors to dashboard.ErrSchemaMissing and wraps the
// rest with op.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if pgErr, ok := maybePgError(err); ok && (pgErr.Code == pgErrUndefinedTable || pgErr.Code == pgErrUndefinedColumn) {
		return fmt.Errorf("%w: %s", dashboard.ErrSchemaMissing, pgErr.Message)
	}
	return eris.Wrap(err, op)
}

func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
