package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/wilsonge/no8s-operator/internal/errors"
)

// inTx runs fn inside a transaction, committing on success and rolling
// back on any error (including a panic, which is re-raised after
// rollback). Used for every store operation that touches more than one
// invariant.
func inTx[T any](ctx context.Context, s *Store, fn func(tx *sqlx.Tx) (T, error)) (T, error) {
	var zero T
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return zero, apperrors.NewStoreTransient("begin_tx", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	out, err := fn(tx)
	if err != nil {
		_ = tx.Rollback()
		return zero, err
	}
	if err := tx.Commit(); err != nil {
		return zero, apperrors.NewStoreTransient("commit_tx", err)
	}
	return out, nil
}

// isUniqueViolation walks err's Unwrap chain looking for a unique-constraint
// violation, since callers typically hold an *errors.AppError whose own
// Error() string doesn't repeat its wrapped Cause's message.
func isUniqueViolation(err error) bool {
	for err != nil {
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") ||
			strings.Contains(err.Error(), "SQLSTATE 23505") {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
