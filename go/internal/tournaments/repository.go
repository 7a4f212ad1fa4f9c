package tournaments

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/tourney/go/internal/events"
	"github.com/mcdev12/tourney/go/internal/models"
	"github.com/mcdev12/tourney/go/internal/sqlutil"
	"github.com/mcdev12/tourney/go/internal/tournaments/db"
)

// ErrNotFound is returned for unknown tournament ids
var ErrNotFound = errors.New("tournament not found")

// Repository implements tournament data access operations
type Repository struct {
	queries *db.Queries
	db      *sql.DB
	outbox  bool
}

// RepositoryOption configures a Repository
type RepositoryOption func(*Repository)

// WithOutbox records a change event in tournament_outbox in the same transaction
// as every write. The outbox worker publishes them.
func WithOutbox() RepositoryOption {
	return func(r *Repository) {
		r.outbox = true
	}
}

// NewRepository creates a new tournaments repository
func NewRepository(queries *db.Queries, database *sql.DB, opts ...RepositoryOption) *Repository {
	r := &Repository{
		queries: queries,
		db:      database,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureSchema creates the tournaments table if needed
func (r *Repository) EnsureSchema(ctx context.Context) error {
	return r.queries.EnsureSchema(ctx)
}

// CreateTournament inserts a tournament under id
func (r *Repository) CreateTournament(ctx context.Context, id models.TournamentID, req models.CreateTournamentRequest) (*models.Tournament, error) {
	startTime, err := storedStartTime(req.StartTime)
	if err != nil {
		return nil, err
	}

	var created *models.Tournament
	err = sqlutil.Run(ctx, r.db, r.queries.WithTx, func(q *db.Queries) error {
		row, err := q.CreateTournament(ctx, db.CreateTournamentParams{
			ID:        id.String(),
			Title:     req.Title,
			GameName:  req.GameName,
			StreamUrl: req.StreamURL,
			ImageUrl:  req.ImageURL,
			ApiUrl:    sqlutil.ToNullableString(req.APIURL),
			Status:    string(req.Status),
			StartTime: startTime,
		})
		if err != nil {
			return fmt.Errorf("failed to create tournament: %w", err)
		}

		created = r.dbTournamentToModel(row)
		return r.enqueue(ctx, q, events.ChangeCreated, id)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetTournament retrieves a tournament by ID
func (r *Repository) GetTournament(ctx context.Context, id models.TournamentID) (*models.Tournament, error) {
	row, err := r.queries.GetTournament(ctx, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tournament: %w", err)
	}

	return r.dbTournamentToModel(row), nil
}

// ListTournaments returns live tournaments first, then the rest by start time
func (r *Repository) ListTournaments(ctx context.Context) ([]models.Tournament, error) {
	rows, err := r.queries.ListTournaments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tournaments: %w", err)
	}

	tournaments := make([]models.Tournament, len(rows))
	for i, row := range rows {
		tournaments[i] = *r.dbTournamentToModel(row)
	}
	return tournaments, nil
}

// UpdateTournament applies the set fields of req in one transaction
func (r *Repository) UpdateTournament(ctx context.Context, id models.TournamentID, req models.UpdateTournamentRequest) (*models.Tournament, error) {
	var updated *models.Tournament

	err := sqlutil.Run(ctx, r.db, r.queries.WithTx, func(q *db.Queries) error {
		current, err := q.GetTournamentForUpdate(ctx, id.String())
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load tournament: %w", err)
		}

		merged := req.Apply(*r.dbTournamentToModel(current))
		startTime, err := storedStartTime(merged.StartTime)
		if err != nil {
			return err
		}

		row, err := q.UpdateTournament(ctx, db.UpdateTournamentParams{
			ID:        id.String(),
			Title:     merged.Title,
			GameName:  merged.GameName,
			StreamUrl: merged.StreamURL,
			ImageUrl:  merged.ImageURL,
			ApiUrl:    sqlutil.ToNullableString(merged.APIURL),
			Status:    string(merged.Status),
			StartTime: startTime,
			UpdatedAt: sqlutil.FormatTimestamp(time.Now()),
		})
		if err != nil {
			return fmt.Errorf("failed to update tournament: %w", err)
		}

		updated = r.dbTournamentToModel(row)
		return r.enqueue(ctx, q, events.ChangeUpdated, id)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteTournament deletes a tournament by ID
func (r *Repository) DeleteTournament(ctx context.Context, id models.TournamentID) error {
	return sqlutil.Run(ctx, r.db, r.queries.WithTx, func(q *db.Queries) error {
		n, err := q.DeleteTournament(ctx, id.String())
		if err != nil {
			return fmt.Errorf("failed to delete tournament: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return r.enqueue(ctx, q, events.ChangeDeleted, id)
	})
}

func (r *Repository) enqueue(ctx context.Context, q *db.Queries, changeType events.ChangeType, id models.TournamentID) error {
	if !r.outbox {
		return nil
	}

	evt := events.NewTournamentChanged(changeType, id)
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode outbox event: %w", err)
	}

	err = q.InsertOutboxEvent(ctx, db.InsertOutboxEventParams{
		ID:           evt.EventID,
		TournamentID: id.String(),
		EventType:    string(changeType),
		Payload:      string(payload),
		CreatedAt:    sqlutil.FormatTimestamp(evt.Timestamp),
	})
	if err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", changeType, err)
	}
	return nil
}

func storedStartTime(s string) (string, error) {
	t, err := models.ParseStartTime(s)
	if err != nil {
		return "", err
	}
	return sqlutil.FormatTimestamp(t), nil
}

func (r *Repository) dbTournamentToModel(row db.Tournament) *models.Tournament {
	return &models.Tournament{
		ID:        models.TournamentID(row.ID),
		Title:     row.Title,
		GameName:  row.GameName,
		StreamURL: row.StreamUrl,
		ImageURL:  row.ImageUrl,
		APIURL:    sqlutil.FromSqlString(row.ApiUrl, ""),
		Status:    models.TournamentStatus(row.Status),
		StartTime: sqlutil.NormalizeTimestamp(row.StartTime),
	}
}
