// Package tournamentsync binds the tournament service to a querycache.Store: cached
// subscriptions for the collection and single records, and mutations that keep those
// caches coherent.
package tournamentsync

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tourney/go/internal/events"
	"github.com/mcdev12/tourney/go/internal/models"
	"github.com/mcdev12/tourney/go/internal/querycache"
)

// TournamentAPI is the remote tournament resource
type TournamentAPI interface {
	ListTournaments(ctx context.Context) ([]models.Tournament, error)
	GetTournament(ctx context.Context, id models.TournamentID) (*models.Tournament, error)
	GetTournamentAPIURL(ctx context.Context, id models.TournamentID) (string, error)
	CreateTournament(ctx context.Context, req models.CreateTournamentRequest) (*models.Tournament, error)
	UpdateTournament(ctx context.Context, id models.TournamentID, req models.UpdateTournamentRequest) (*models.Tournament, error)
	DeleteTournament(ctx context.Context, id models.TournamentID) error
}

// ChangeSubscriber is a push feed of tournament changes
type ChangeSubscriber interface {
	Subscribe(ctx context.Context, handler func(events.TournamentChanged)) error
}

// Resource names used as the first key element.
const (
	CollectionResource = "tournaments"
	RecordResource     = "tournament"
	apiURLSuffix       = "api-url"
)

// CollectionKey is the cache key of the tournament list.
func CollectionKey() querycache.Key {
	return querycache.NewKey(CollectionResource)
}

// RecordKey is the cache key of one tournament.
func RecordKey(id models.TournamentID) querycache.Key {
	return querycache.NewKey(RecordResource, id.String())
}

// APIURLKey is the cache key of a tournament's API URL.
func APIURLKey(id models.TournamentID) querycache.Key {
	return querycache.NewKey(RecordResource, id.String(), apiURLSuffix)
}

type Sync struct {
	store *querycache.Store
	api   TournamentAPI
}

func NewSync(store *querycache.Store, api TournamentAPI) *Sync {
	return &Sync{store: store, api: api}
}

// SubscribeCollection subscribes to the tournament list in service order.
func (s *Sync) SubscribeCollection() *querycache.Subscription[[]models.Tournament] {
	return querycache.Subscribe(s.store, CollectionKey(), s.api.ListTournaments)
}

// SubscribeRecord subscribes to one tournament. An empty id yields an idle
// subscription that never fetches.
func (s *Sync) SubscribeRecord(id models.TournamentID) *querycache.Subscription[models.Tournament] {
	if id.IsZero() {
		return querycache.Idle[models.Tournament]()
	}
	return querycache.Subscribe(s.store, RecordKey(id), func(ctx context.Context) (models.Tournament, error) {
		t, err := s.api.GetTournament(ctx, id)
		if err != nil {
			return models.Tournament{}, err
		}
		return *t, nil
	})
}

// Create validates req, creates the tournament and marks the collection stale so
// subscribers refetch it. The cache is untouched when the request fails.
func (s *Sync) Create(ctx context.Context, req models.CreateTournamentRequest) (*models.Tournament, error) {
	if err := models.ValidateCreate(req); err != nil {
		return nil, err
	}

	created, err := s.api.CreateTournament(ctx, req)
	if err != nil {
		return nil, err
	}

	s.store.Invalidate(CollectionKey())
	log.Debug().Str("tournament_id", created.ID.String()).Msg("tournament created, collection invalidated")
	return created, nil
}

// Update sends patch and writes the response to the record cache, unless a later
// update or read of the same record has already been applied. The record, its
// derived keys and the collection are then marked stale.
func (s *Sync) Update(ctx context.Context, id models.TournamentID, patch models.UpdateTournamentRequest) (*models.Tournament, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("update tournament: %w", &models.ValidationError{Fields: []models.FieldError{{Field: "id", Message: "is required"}}})
	}
	if err := models.ValidateUpdate(patch); err != nil {
		return nil, err
	}

	token := s.store.Begin(RecordKey(id))
	updated, err := s.api.UpdateTournament(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	if !s.store.Commit(token, *updated) {
		log.Debug().Str("tournament_id", id.String()).Msg("update response superseded by a later write")
	}
	s.store.InvalidatePrefix(RecordKey(id))
	s.store.Invalidate(CollectionKey())
	return updated, nil
}

// Remove deletes the tournament and marks the collection and the record stale.
// The cached list is never edited in place; it is refetched.
func (s *Sync) Remove(ctx context.Context, id models.TournamentID) error {
	if id.IsZero() {
		return fmt.Errorf("remove tournament: %w", &models.ValidationError{Fields: []models.FieldError{{Field: "id", Message: "is required"}}})
	}
	if err := s.api.DeleteTournament(ctx, id); err != nil {
		return err
	}

	s.store.Invalidate(CollectionKey())
	s.store.InvalidatePrefix(RecordKey(id))
	return nil
}

// APIURL returns the tournament's API URL through the cache.
func (s *Sync) APIURL(ctx context.Context, id models.TournamentID) (string, error) {
	return querycache.Fetch(ctx, s.store, APIURLKey(id), func(ctx context.Context) (string, error) {
		return s.api.GetTournamentAPIURL(ctx, id)
	})
}

// HandleChange applies a pushed change notification.
func (s *Sync) HandleChange(evt events.TournamentChanged) {
	s.store.Invalidate(CollectionKey())
	if !evt.TournamentID.IsZero() {
		s.store.InvalidatePrefix(RecordKey(evt.TournamentID))
	}

	log.Debug().
		Str("event_id", evt.EventID).
		Str("event_type", string(evt.Type)).
		Str("tournament_id", evt.TournamentID.String()).
		Msg("applied tournament change")
}

// Listen feeds changes from sub into the cache until ctx is done. Polling keeps
// running alongside; push only shortens the time to a refresh.
func (s *Sync) Listen(ctx context.Context, sub ChangeSubscriber) error {
	if err := sub.Subscribe(ctx, s.HandleChange); err != nil {
		return fmt.Errorf("listen for tournament changes: %w", err)
	}
	return nil
}
