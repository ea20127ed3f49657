package shared

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	sql  []string
	args [][]any
	tag  pgconn.CommandTag
	err  error
}

func (e *recordingExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.sql = append(e.sql, sql)
	e.args = append(e.args, args)
	return e.tag, e.err
}

func TestIdempotencyStoreClaim(t *testing.T) {
	exec := &recordingExecer{}
	store := NewIdempotencyStore(exec)
	now := time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.CheckAndInsert(context.Background(), " run-1 ", "consol.run"))
	require.Len(t, exec.args, 1)
	require.Equal(t, []any{"run-1", "consol.run", now}, exec.args[0])

	exec.err = &pgconn.PgError{Code: "23505", ConstraintName: "idempotency_keys_pkey"}
	require.ErrorIs(t, store.CheckAndInsert(context.Background(), "run-1", "consol.run"), ErrIdempotencyConflict)

	exec.err = errors.New("connection reset")
	err := store.CheckAndInsert(context.Background(), "run-2", "consol.run")
	require.ErrorIs(t, err, exec.err)
	require.NotErrorIs(t, err, ErrIdempotencyConflict)
}

func TestIdempotencyStoreValidation(t *testing.T) {
	store := NewIdempotencyStore(&recordingExecer{})
	require.Error(t, store.CheckAndInsert(context.Background(), " ", "consol.run"))
	require.Error(t, store.CheckAndInsert(context.Background(), "k", ""))
	require.Error(t, store.CheckAndInsert(context.Background(), strings.Repeat("k", 256), "consol.run"))
	require.Error(t, store.Delete(context.Background(), ""))

	var nilStore *IdempotencyStore
	require.Error(t, nilStore.CheckAndInsert(context.Background(), "k", "m"))
	_, err := nilStore.Cleanup(context.Background(), time.Hour)
	require.Error(t, err)
}

func TestIdempotencyStoreCleanup(t *testing.T) {
	exec := &recordingExecer{tag: pgconn.NewCommandTag("DELETE 3")}
	store := NewIdempotencyStore(exec)
	now := time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	removed, err := store.Cleanup(context.Background(), 72*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 3, removed)
	require.Equal(t, []any{now.Add(-72 * time.Hour)}, exec.args[0])

	_, err = store.Cleanup(context.Background(), 0)
	require.Error(t, err)
}
