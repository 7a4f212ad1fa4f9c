package db

import (
	"context"
	"database/sql"

	"github.com/mcdev12/tourney/go/internal/sqlutil"
)

const tournamentColumns = `id, title, game_name, stream_url, image_url, api_url, status, start_time`

func scanTournament(row interface{ Scan(...interface{}) error }) (Tournament, error) {
	var i Tournament
	err := row.Scan(
		&i.ID,
		&i.Title,
		&i.GameName,
		&i.StreamUrl,
		&i.ImageUrl,
		&i.ApiUrl,
		&i.Status,
		&i.StartTime,
	)
	return i, err
}

const createTournament = `
INSERT INTO tournaments (id, title, game_name, stream_url, image_url, api_url, status, start_time)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + tournamentColumns

type CreateTournamentParams struct {
	ID        string
	Title     string
	GameName  string
	StreamUrl string
	ImageUrl  string
	ApiUrl    sql.NullString
	Status    string
	StartTime string
}

func (q *Queries) CreateTournament(ctx context.Context, arg CreateTournamentParams) (Tournament, error) {
	row := q.db.QueryRowContext(ctx, q.rebind(createTournament),
		arg.ID,
		arg.Title,
		arg.GameName,
		arg.StreamUrl,
		arg.ImageUrl,
		arg.ApiUrl,
		arg.Status,
		arg.StartTime,
	)
	return scanTournament(row)
}

const getTournament = `
SELECT ` + tournamentColumns + `
FROM tournaments
WHERE id = ?`

func (q *Queries) GetTournament(ctx context.Context, id string) (Tournament, error) {
	row := q.db.QueryRowContext(ctx, q.rebind(getTournament), id)
	return scanTournament(row)
}

// GetTournamentForUpdate also locks the row on Postgres. SQLite serialises writers,
// so no lock clause is needed there.
func (q *Queries) GetTournamentForUpdate(ctx context.Context, id string) (Tournament, error) {
	query := getTournament
	if q.dialect == sqlutil.Postgres {
		query += " FOR UPDATE"
	}
	row := q.db.QueryRowContext(ctx, q.rebind(query), id)
	return scanTournament(row)
}

const listTournaments = `
SELECT ` + tournamentColumns + `
FROM tournaments
ORDER BY CASE WHEN status = 'LIVE' THEN 0 ELSE 1 END, start_time, id`

func (q *Queries) ListTournaments(ctx context.Context) ([]Tournament, error) {
	rows, err := q.db.QueryContext(ctx, listTournaments)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Tournament
	for rows.Next() {
		i, err := scanTournament(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateTournament = `
UPDATE tournaments
SET title = ?, game_name = ?, stream_url = ?, image_url = ?, api_url = ?, status = ?, start_time = ?, updated_at = ?
WHERE id = ?
RETURNING ` + tournamentColumns

type UpdateTournamentParams struct {
	ID        string
	Title     string
	GameName  string
	StreamUrl string
	ImageUrl  string
	ApiUrl    sql.NullString
	Status    string
	StartTime string
	UpdatedAt string
}

func (q *Queries) UpdateTournament(ctx context.Context, arg UpdateTournamentParams) (Tournament, error) {
	row := q.db.QueryRowContext(ctx, q.rebind(updateTournament),
		arg.Title,
		arg.GameName,
		arg.StreamUrl,
		arg.ImageUrl,
		arg.ApiUrl,
		arg.Status,
		arg.StartTime,
		arg.UpdatedAt,
		arg.ID,
	)
	return scanTournament(row)
}

const deleteTournament = `
DELETE FROM tournaments
WHERE id = ?`

func (q *Queries) DeleteTournament(ctx context.Context, id string) (int64, error) {
	result, err := q.db.ExecContext(ctx, q.rebind(deleteTournament), id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
