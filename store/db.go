package store

import (
	"context"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/rafata1/commerce-engine/model"
)

const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

func Connect(dsn string) (*sqlx.DB, error) {
	return sqlx.Connect("mysql", dsn)
}

type txKey struct{}

// Transact runs fn inside a transaction carried on the context. Repos pick
// the transaction up through Queryer, so every store call made inside fn —
// across packages — lands on the same transaction. A nested Transact joins
// the outer transaction instead of opening a second one.
func Transact(ctx context.Context, db *sqlx.DB, fn func(ctx context.Context) error) error {
	if tx := txFrom(ctx); tx != nil {
		return fn(ctx)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return MapError(err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		} else if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = fn(context.WithValue(ctx, txKey{}, tx))
	if err != nil {
		return err
	}
	err = tx.Commit()
	return MapError(err)
}

func txFrom(ctx context.Context) *sqlx.Tx {
	tx, _ := ctx.Value(txKey{}).(*sqlx.Tx)
	return tx
}

// Queryer returns the transaction bound to ctx, or the pool when none is.
func Queryer(ctx context.Context, db *sqlx.DB) sqlx.ExtContext {
	if tx := txFrom(ctx); tx != nil {
		return tx
	}
	return db
}

// MapError translates lock-wait timeouts, deadlocks and context deadlines
// into ErrBusy so callers can tell retryable contention from hard failures.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		if mysqlErr.Number == mysqlLockWaitTimeout || mysqlErr.Number == mysqlDeadlock {
			return model.ErrBusy
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ErrBusy
	}
	return err
}
