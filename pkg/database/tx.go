package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type (
	txKey    struct{}
	hooksKey struct{}
)

type commitHooks struct {
	fns []func()
}

// Transactor scopes a unit of work to one database transaction carried on the context.
type Transactor struct {
	db *sqlx.DB
}

// NewTransactor builds a Transactor over db.
func NewTransactor(db *sqlx.DB) *Transactor {
	return &Transactor{db: db}
}

// WithinTx runs fn inside a transaction. The transaction commits when fn returns nil and rolls
// back when fn returns an error or panics. Calls nested under an active transaction join it.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	txCtx, committed := WithCommitHooks(context.WithValue(ctx, txKey{}, tx))
	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed()
	return nil
}

// WithCommitHooks returns a context collecting AfterCommit callbacks and a function running
// them in registration order. Callbacks are dropped when the function is never called.
func WithCommitHooks(ctx context.Context) (context.Context, func()) {
	hooks := &commitHooks{}
	return context.WithValue(ctx, hooksKey{}, hooks), func() {
		for _, fn := range hooks.fns {
			fn()
		}
		hooks.fns = nil
	}
}

// AfterCommit defers fn until the transaction on ctx commits. Outside a transaction fn runs
// immediately.
func AfterCommit(ctx context.Context, fn func()) {
	if hooks, ok := ctx.Value(hooksKey{}).(*commitHooks); ok {
		hooks.fns = append(hooks.fns, fn)
		return
	}
	fn()
}

// TxFromContext returns the transaction bound to ctx, if any.
func TxFromContext(ctx context.Context) (*sqlx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	return tx, ok
}

// Ext returns the active transaction on ctx or falls back to db.
func Ext(ctx context.Context, db *sqlx.DB) sqlx.ExtContext {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return db
}
