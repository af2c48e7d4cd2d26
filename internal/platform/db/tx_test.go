package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakeBeginner struct {
	tx    *fakeTx
	err   error
	calls int
}

func (f *fakeBeginner) Begin(context.Context) (pgx.Tx, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.tx, nil
}

func TestTxFromContext_Nil(t *testing.T) {
	tx := TxFromContext(context.Background())
	if tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestTxFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	tx := TxFromContext(ctx)
	if tx != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestWithTx_NoConnection(t *testing.T) {
	_, _, err := WithTx(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error when no connection is given")
	}
	if err.Error() != "no database connection in context" {
		t.Errorf("unexpected error message: %s", err.Error())
	}
}

func TestWithTx_StoresTx(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	ctx, tx, err := WithTx(context.Background(), b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if TxFromContext(ctx) != tx {
		t.Error("expected tx to be retrievable from context")
	}
}

func TestTransactor_Commits(t *testing.T) {
	ftx := &fakeTx{}
	tr := NewTransactor(&fakeBeginner{tx: ftx})

	var sawTx bool
	err := tr.InTx(context.Background(), func(ctx context.Context) error {
		sawTx = TxFromContext(ctx) != nil
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sawTx {
		t.Error("expected fn to run with a transaction in context")
	}
	if !ftx.committed || ftx.rolledBack {
		t.Errorf("committed=%v rolledBack=%v, want commit only", ftx.committed, ftx.rolledBack)
	}
}

func TestTransactor_RollsBackOnError(t *testing.T) {
	ftx := &fakeTx{}
	tr := NewTransactor(&fakeBeginner{tx: ftx})

	boom := errors.New("boom")
	err := tr.InTx(context.Background(), func(ctx context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if ftx.committed || !ftx.rolledBack {
		t.Errorf("committed=%v rolledBack=%v, want rollback only", ftx.committed, ftx.rolledBack)
	}
}

func TestTransactor_JoinsOuterTx(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	tr := NewTransactor(b)
	outer := context.WithValue(context.Background(), DBTxKey, pgx.Tx(&fakeTx{}))

	if err := tr.InTx(outer, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.calls != 0 {
		t.Errorf("Begin called %d times, want 0 for nested unit", b.calls)
	}
}

func TestTransactor_BeginFailure(t *testing.T) {
	tr := NewTransactor(&fakeBeginner{err: errors.New("pool closed")})
	called := false
	err := tr.InTx(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if called {
		t.Error("fn must not run when Begin fails")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if !IsUniqueViolation(err) {
		t.Error("expected unique violation to be detected")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign key violation is not a unique violation")
	}
	if IsUniqueViolation(errors.New("plain")) {
		t.Error("plain error is not a unique violation")
	}
}

func TestIsNoRows(t *testing.T) {
	if !IsNoRows(fmt.Errorf("get: %w", pgx.ErrNoRows)) {
		t.Error("expected wrapped ErrNoRows to be detected")
	}
}
