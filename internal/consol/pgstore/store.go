// Package pgstore persists the consolidation pipeline in PostgreSQL.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/lineage"
	"github.com/odyssey-erp/konzern/internal/platform/db"
)

//go:embed schema.sql
var schema string

var (
	_ consol.Store  = (*Store)(nil)
	_ lineage.Store = (*Store)(nil)
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
}

// Store implements every persistence contract of the pipeline on a pgx pool.
type Store struct {
	db     dbtx
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New constructs a store backed by the pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{db: pool, pool: pool, logger: logger}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("pgstore: migrate: %w", err)
	}
	s.log().Info("schema applied")
	return nil
}

// WithTx runs fn against a store bound to one repeatable-read transaction.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, *Store) error) error {
	if err := s.ready(); err != nil {
		return err
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Store{db: tx, pool: s.pool, logger: s.logger})
	})
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return errors.New("pgstore not initialised")
	}
	return nil
}

// wrap maps driver errors onto the consol sentinels.
func wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, consol.ErrNotFound)
	}
	switch db.Code(err) {
	case db.CodeUniqueViolation:
		return fmt.Errorf("%s: %s: %w", what, db.Detail(err), consol.ErrConcurrencyConflict)
	case db.CodeForeignKeyViolation, db.CodeCheckViolation:
		return fmt.Errorf("%s: %s: %w", what, db.Detail(err), consol.ErrValidation)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// where accumulates AND-joined predicates with positional arguments. Each
// clause carries one %d verb for its argument position.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *where) raw(clause string) {
	w.clauses = append(w.clauses, clause)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func strs[T ~string](values []T) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, string(v))
	}
	return out
}

func (s *Store) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger.With(slog.String("component", "pgstore"))
	}
	return slog.Default().With(slog.String("component", "pgstore"))
}
