package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *fakeTx) Commit(context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if t.committed {
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	return nil
}

type fakeBeginner struct {
	tx   *fakeTx
	opts pgx.TxOptions
	err  error
}

func (b *fakeBeginner) BeginTx(_ context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	b.opts = opts
	if b.err != nil {
		return nil, b.err
	}
	return b.tx, nil
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	require.NoError(t, WithTx(context.Background(), b, func(pgx.Tx) error { return nil }))
	require.True(t, b.tx.committed)
	require.False(t, b.tx.rolledBack)
	require.Equal(t, pgx.RepeatableRead, b.opts.IsoLevel)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	boom := errors.New("boom")
	err := WithTxOptions(context.Background(), b, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(pgx.Tx) error { return boom })
	require.ErrorIs(t, err, boom)
	require.False(t, b.tx.committed)
	require.True(t, b.tx.rolledBack)
	require.Equal(t, pgx.ReadOnly, b.opts.AccessMode)
}

func TestWithTxSurfacesBeginAndCommitFailures(t *testing.T) {
	refused := errors.New("connection refused")
	err := WithTx(context.Background(), &fakeBeginner{err: refused}, func(pgx.Tx) error { return nil })
	require.ErrorIs(t, err, refused)
	require.Contains(t, err.Error(), "begin tx")

	serialization := errors.New("could not serialize access")
	b := &fakeBeginner{tx: &fakeTx{commitErr: serialization}}
	err = WithTx(context.Background(), b, func(pgx.Tx) error { return nil })
	require.ErrorIs(t, err, serialization)
	require.True(t, b.tx.rolledBack)

	require.Error(t, WithTx(context.Background(), nil, func(pgx.Tx) error { return nil }))
}

func TestErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert entry: %w", &pgconn.PgError{Code: CodeUniqueViolation, ConstraintName: "entries_pkey", Message: "duplicate key"})
	require.True(t, IsUniqueViolation(unique))
	require.Equal(t, CodeUniqueViolation, Code(unique))
	require.Equal(t, "entries_pkey", Detail(unique))

	check := &pgconn.PgError{Code: CodeCheckViolation, Message: "amount must be positive"}
	require.False(t, IsUniqueViolation(check))
	require.Equal(t, "amount must be positive", Detail(check))

	plain := errors.New("plain")
	require.Empty(t, Code(plain))
	require.Empty(t, Detail(plain))
	require.False(t, IsUniqueViolation(nil))
}

func TestNewRejectsInvalidDSN(t *testing.T) {
	_, err := New(context.Background(), "postgres://%zz")
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config")
}
