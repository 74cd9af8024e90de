package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mkravets/fitpulse-backend/internal/domain"
)

// Beginner is the subset of *pgxpool.Pool the TxManager needs. The pgxmock
// pool satisfies it too.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxManager manages database transactions using the context pattern.
// RunInTx and RunInLockedTx start top-level transactions and must not be
// nested; RunIsolated opens a savepoint on the transaction already bound
// to the context and may be called once per handler inside a unit of work.
type TxManager struct {
	db Beginner
}

// NewTxManager creates a new TxManager.
func NewTxManager(db Beginner) *TxManager {
	return &TxManager{db: db}
}

// RunInTx executes fn within a database transaction.
// Isolation level: Read Committed (PostgreSQL default).
// On success: commits.
// On error from fn: rolls back and returns the error.
// On panic from fn: rolls back and re-panics.
func (m *TxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	return m.finish(ctx, tx, fn)
}

// RunInLockedTx executes fn within a transaction that holds the
// transaction-scoped advisory lock for lockKey. The lock is acquired with
// pg_try_advisory_xact_lock: if another transaction holds it, the
// transaction is rolled back and domain.ErrUserBusy is returned — the
// caller requeues, it never proceeds unlocked. There is no explicit
// unlock; PostgreSQL releases the lock at transaction end.
func (m *TxManager) RunInLockedTx(ctx context.Context, lockKey int64, fn func(ctx context.Context) error) error {
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	var acquired bool
	if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, lockKey).Scan(&acquired); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("lock key %d: %w", lockKey, domain.ErrUserBusy)
	}

	return m.finish(ctx, tx, fn)
}

// RunIsolated executes fn within a savepoint on the transaction bound to
// ctx (pgx issues SAVEPOINT for a nested Begin). On error from fn only the
// savepoint is rolled back; earlier writes in the surrounding transaction
// are untouched. Fails if ctx carries no transaction.
func (m *TxManager) RunIsolated(ctx context.Context, fn func(ctx context.Context) error) error {
	outer, ok := txFromCtx(ctx)
	if !ok {
		return fmt.Errorf("isolated block requires a surrounding transaction")
	}

	sp, err := outer.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin savepoint: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = sp.Rollback(ctx)
			panic(r)
		}
	}()

	if err := fn(withTx(ctx, sp)); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback savepoint failed: %w (original error: %v)", rbErr, err)
		}
		return err
	}

	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}

	return nil
}

// finish runs fn with tx bound to the context and commits or rolls back.
func (m *TxManager) finish(ctx context.Context, tx pgx.Tx, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
	}()

	if err := fn(withTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback failed: %w (original error: %v)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}
