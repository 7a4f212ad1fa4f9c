package tournament_client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mcdev12/tourney/go/internal/models"
)

func tournamentPath(id models.TournamentID) string {
	return TournamentsEndpoint + "/" + url.PathEscape(id.String())
}

func (c *TournamentClient) ListTournaments(ctx context.Context) ([]models.Tournament, error) {
	var tournaments []models.Tournament
	if err := c.GetJSON(ctx, TournamentsEndpoint, &tournaments); err != nil {
		return nil, fmt.Errorf("failed to list tournaments: %w", err)
	}
	if tournaments == nil {
		tournaments = []models.Tournament{}
	}
	return tournaments, nil
}

func (c *TournamentClient) GetTournament(ctx context.Context, id models.TournamentID) (*models.Tournament, error) {
	var tournament models.Tournament
	if err := c.GetJSON(ctx, tournamentPath(id), &tournament); err != nil {
		return nil, fmt.Errorf("failed to get tournament %s: %w", id, err)
	}
	return &tournament, nil
}

func (c *TournamentClient) GetTournamentAPIURL(ctx context.Context, id models.TournamentID) (string, error) {
	var resp models.APIURLResponse
	if err := c.GetJSON(ctx, tournamentPath(id)+APIURLSuffix, &resp); err != nil {
		return "", fmt.Errorf("failed to get api url for tournament %s: %w", id, err)
	}
	return resp.APIURL, nil
}

func (c *TournamentClient) CreateTournament(ctx context.Context, req models.CreateTournamentRequest) (*models.Tournament, error) {
	var tournament models.Tournament
	if err := c.SendJSON(ctx, http.MethodPost, TournamentsEndpoint, req, &tournament); err != nil {
		return nil, fmt.Errorf("failed to create tournament: %w", err)
	}
	return &tournament, nil
}

func (c *TournamentClient) UpdateTournament(ctx context.Context, id models.TournamentID, req models.UpdateTournamentRequest) (*models.Tournament, error) {
	var tournament models.Tournament
	if err := c.SendJSON(ctx, http.MethodPut, tournamentPath(id), req, &tournament); err != nil {
		return nil, fmt.Errorf("failed to update tournament %s: %w", id, err)
	}
	return &tournament, nil
}

func (c *TournamentClient) DeleteTournament(ctx context.Context, id models.TournamentID) error {
	if _, err := c.Delete(ctx, tournamentPath(id)); err != nil {
		return fmt.Errorf("failed to delete tournament %s: %w", id, err)
	}
	return nil
}
