package sqlutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Run calls fn with queries bound to a new transaction and commits when fn returns
// nil. An error from fn is returned as is, joined with any rollback failure. A panic
// in fn rolls back before it propagates.
func Run[Q any](ctx context.Context, database *sql.DB, bind func(*sql.Tx) *Q, fn func(q *Q) error) (err error) {
	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback tx: %w", rbErr))
		}
	}()

	if err := fn(bind(tx)); err != nil {
		return err
	}

	committed = true
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
