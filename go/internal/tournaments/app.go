package tournaments

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tourney/go/internal/events"
	"github.com/mcdev12/tourney/go/internal/models"
)

// TournamentsRepository defines what the app layer needs from the repository
type TournamentsRepository interface {
	CreateTournament(ctx context.Context, id models.TournamentID, req models.CreateTournamentRequest) (*models.Tournament, error)
	GetTournament(ctx context.Context, id models.TournamentID) (*models.Tournament, error)
	ListTournaments(ctx context.Context) ([]models.Tournament, error)
	UpdateTournament(ctx context.Context, id models.TournamentID, req models.UpdateTournamentRequest) (*models.Tournament, error)
	DeleteTournament(ctx context.Context, id models.TournamentID) error
}

// Notifier is told about every committed write
type Notifier interface {
	Publish(ctx context.Context, evt events.TournamentChanged) error
}

// App handles tournament business logic
type App struct {
	repo     TournamentsRepository
	notifier Notifier
}

// NewApp creates a new tournaments App. A nil notifier drops change events.
func NewApp(repo TournamentsRepository, notifier Notifier) *App {
	if notifier == nil {
		notifier = events.NoOpPublisher{}
	}
	return &App{
		repo:     repo,
		notifier: notifier,
	}
}

// CreateTournament validates req, defaults the status to UPCOMING and stores it
// under a new id.
func (a *App) CreateTournament(ctx context.Context, req models.CreateTournamentRequest) (*models.Tournament, error) {
	if err := models.ValidateCreate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if req.Status == "" {
		req.Status = models.TournamentStatusUpcoming
	}

	tournament, err := a.repo.CreateTournament(ctx, models.TournamentID(uuid.NewString()), req)
	if err != nil {
		return nil, fmt.Errorf("failed to create tournament: %w", err)
	}

	log.Info().Str("tournament_id", tournament.ID.String()).Str("title", tournament.Title).Msg("created tournament")
	a.notify(ctx, events.ChangeCreated, tournament.ID)
	return tournament, nil
}

// GetTournament retrieves a tournament by ID
func (a *App) GetTournament(ctx context.Context, id models.TournamentID) (*models.Tournament, error) {
	tournament, err := a.repo.GetTournament(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get tournament: %w", err)
	}
	return tournament, nil
}

// GetTournamentAPIURL returns the tournament's API URL, empty for legacy records.
func (a *App) GetTournamentAPIURL(ctx context.Context, id models.TournamentID) (string, error) {
	tournament, err := a.GetTournament(ctx, id)
	if err != nil {
		return "", err
	}
	return tournament.APIURL, nil
}

// ListTournaments retrieves all tournaments, live ones first
func (a *App) ListTournaments(ctx context.Context) ([]models.Tournament, error) {
	tournaments, err := a.repo.ListTournaments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tournaments: %w", err)
	}
	return tournaments, nil
}

// UpdateTournament applies the set fields of req
func (a *App) UpdateTournament(ctx context.Context, id models.TournamentID, req models.UpdateTournamentRequest) (*models.Tournament, error) {
	if err := models.ValidateUpdate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	tournament, err := a.repo.UpdateTournament(ctx, id, req)
	if err != nil {
		return nil, fmt.Errorf("failed to update tournament: %w", err)
	}

	log.Info().Str("tournament_id", id.String()).Msg("updated tournament")
	a.notify(ctx, events.ChangeUpdated, id)
	return tournament, nil
}

// DeleteTournament deletes a tournament by ID
func (a *App) DeleteTournament(ctx context.Context, id models.TournamentID) error {
	if err := a.repo.DeleteTournament(ctx, id); err != nil {
		return fmt.Errorf("failed to delete tournament: %w", err)
	}

	log.Info().Str("tournament_id", id.String()).Msg("deleted tournament")
	a.notify(ctx, events.ChangeDeleted, id)
	return nil
}

// notify publishes a change event. The write is already committed, so a failed
// publish is only logged; readers still converge through polling.
func (a *App) notify(ctx context.Context, changeType events.ChangeType, id models.TournamentID) {
	evt := events.NewTournamentChanged(changeType, id)
	if err := a.notifier.Publish(ctx, evt); err != nil {
		log.Warn().Err(err).Str("event_id", evt.EventID).Str("tournament_id", id.String()).Msg("failed to publish tournament event")
	}
}
