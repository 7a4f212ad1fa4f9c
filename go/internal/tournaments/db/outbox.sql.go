package db

import (
	"context"

	"github.com/mcdev12/tourney/go/internal/sqlutil"
)

const insertOutboxEvent = `
INSERT INTO tournament_outbox (id, tournament_id, event_type, payload, created_at)
VALUES (?, ?, ?, ?, ?)`

type InsertOutboxEventParams struct {
	ID           string
	TournamentID string
	EventType    string
	Payload      string
	CreatedAt    string
}

func (q *Queries) InsertOutboxEvent(ctx context.Context, arg InsertOutboxEventParams) error {
	_, err := q.db.ExecContext(ctx, q.rebind(insertOutboxEvent),
		arg.ID,
		arg.TournamentID,
		arg.EventType,
		arg.Payload,
		arg.CreatedAt,
	)
	return err
}

const fetchUnsentOutbox = `
SELECT id, tournament_id, event_type, payload, created_at, attempts
FROM tournament_outbox
WHERE sent_at IS NULL
ORDER BY created_at, id
LIMIT ?`

// FetchUnsentOutbox returns the oldest unsent events. On Postgres the rows are
// locked and rows locked by another worker are skipped.
func (q *Queries) FetchUnsentOutbox(ctx context.Context, limit int32) ([]OutboxEvent, error) {
	query := fetchUnsentOutbox
	if q.dialect == sqlutil.Postgres {
		query += "\nFOR UPDATE SKIP LOCKED"
	}

	rows, err := q.db.QueryContext(ctx, q.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OutboxEvent
	for rows.Next() {
		var i OutboxEvent
		if err := rows.Scan(
			&i.ID,
			&i.TournamentID,
			&i.EventType,
			&i.Payload,
			&i.CreatedAt,
			&i.Attempts,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const markOutboxSent = `
UPDATE tournament_outbox
SET sent_at = ?
WHERE id = ?`

func (q *Queries) MarkOutboxSent(ctx context.Context, id string, sentAt string) error {
	_, err := q.db.ExecContext(ctx, q.rebind(markOutboxSent), sentAt, id)
	return err
}

const incrementOutboxAttempts = `
UPDATE tournament_outbox
SET attempts = attempts + 1
WHERE id = ?`

func (q *Queries) IncrementOutboxAttempts(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, q.rebind(incrementOutboxAttempts), id)
	return err
}

const countUnsentOutbox = `
SELECT COUNT(*)
FROM tournament_outbox
WHERE sent_at IS NULL`

func (q *Queries) CountUnsentOutbox(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countUnsentOutbox).Scan(&n)
	return n, err
}
