package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/evgenyvinnik/checkout-api/internal/apperr"
)

// MySQL error numbers worth retrying: deadlock victim and lock wait timeout.
const (
	erLockDeadlock    = 1213
	erLockWaitTimeout = 1205
)

// classify maps driver errors onto the app error taxonomy so the retry
// layer can tell transient contention from real failures.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &apperr.DependencyTimeoutError{Dependency: "mysql", Err: err}
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case erLockDeadlock, erLockWaitTimeout:
			return &apperr.TransientStorageError{Op: op, Err: err}
		}
	}
	return err
}
