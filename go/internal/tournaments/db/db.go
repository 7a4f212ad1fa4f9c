// Package db holds the SQL for the tournaments table, written once for both Postgres
// and SQLite.
package db

import (
	"context"
	"database/sql"

	"github.com/mcdev12/tourney/go/internal/sqlutil"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX, dialect sqlutil.Dialect) *Queries {
	return &Queries{db: db, dialect: dialect}
}

type Queries struct {
	db      DBTX
	dialect sqlutil.Dialect
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{
		db:      tx,
		dialect: q.dialect,
	}
}

func (q *Queries) Dialect() sqlutil.Dialect {
	return q.dialect
}

func (q *Queries) rebind(query string) string {
	return sqlutil.Rebind(q.dialect, query)
}
