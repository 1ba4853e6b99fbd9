package postgres

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	apperrors "github.com/nhs-screening/cohort-manager/pkg/errors"
)

// withTx executes fn within a transaction, rolling back on error or panic.
func withTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.Unavailable("failed to begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Unavailable("failed to commit transaction", err)
	}
	return nil
}

// isUniqueViolation reports a duplicate-key failure (pq class 23505), the
// signal for the upsert retry-as-update path.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// wrapStoreErr maps context expiry and lock errors to retryable failures.
func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperrors.Unavailable(op+" timed out", err)
	}
	if isUniqueViolation(err) {
		return apperrors.Conflict(op+" hit duplicate key", err)
	}
	return apperrors.Internal(err)
}
