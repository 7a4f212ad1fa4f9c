package tournaments

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/tourney/go/clients"
	"github.com/mcdev12/tourney/go/clients/tournament_client"
	"github.com/mcdev12/tourney/go/internal/auth"
	"github.com/mcdev12/tourney/go/internal/events"
	"github.com/mcdev12/tourney/go/internal/models"
	"github.com/mcdev12/tourney/go/internal/querycache"
	"github.com/mcdev12/tourney/go/internal/tournamentsync"
)

const testSecret = "service-test-secret"

type recordingNotifier struct {
	mu     sync.Mutex
	events []events.TournamentChanged
}

func (n *recordingNotifier) Publish(_ context.Context, evt events.TournamentChanged) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return nil
}

func (n *recordingNotifier) types() []events.ChangeType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []events.ChangeType
	for _, evt := range n.events {
		out = append(out, evt.Type)
	}
	return out
}

func newTestServer(t *testing.T, opts ...ServiceOption) (*httptest.Server, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	app := NewApp(newTestRepository(t), notifier)

	opts = append([]ServiceOption{WithAuthorizer(auth.Middleware(auth.NewVerifier(testSecret, "")))}, opts...)
	r := chi.NewRouter()
	r.Mount("/tournaments", NewService(app, opts...).Routes())

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, notifier
}

func adminClient(t *testing.T, baseURL string) *tournament_client.TournamentClient {
	t.Helper()
	token, err := auth.IssueToken(testSecret, "", "admin", time.Hour)
	require.NoError(t, err)
	return tournament_client.NewTournamentClient(baseURL, tournament_client.WithBearerToken(token))
}

func validRequest(title string) models.CreateTournamentRequest {
	return models.CreateTournamentRequest{
		Title:     title,
		GameName:  "Rocket League",
		StreamURL: "https://twitch.tv/rl",
		ImageURL:  "https://img.example.com/rl.png",
		APIURL:    "https://api.example.com/rl",
		StartTime: "2025-06-01T18:00:00Z",
	}
}

func TestService_CRUD(t *testing.T) {
	srv, notifier := newTestServer(t)
	client := adminClient(t, srv.URL)
	ctx := context.Background()

	created, err := client.CreateTournament(ctx, validRequest("RLCS"))
	require.NoError(t, err)
	assert.False(t, created.ID.IsZero())
	assert.Equal(t, models.TournamentStatusUpcoming, created.Status)

	got, err := client.GetTournament(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	apiURL, err := client.GetTournamentAPIURL(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/rl", apiURL)

	live := models.TournamentStatusLive
	updated, err := client.UpdateTournament(ctx, created.ID, models.UpdateTournamentRequest{Status: &live})
	require.NoError(t, err)
	assert.Equal(t, models.TournamentStatusLive, updated.Status)
	assert.Equal(t, "RLCS", updated.Title)

	list, err := client.ListTournaments(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, *updated, list[0])

	require.NoError(t, client.DeleteTournament(ctx, created.ID))
	_, err = client.GetTournament(ctx, created.ID)
	assert.True(t, clients.IsNotFound(err))

	assert.Equal(t, []events.ChangeType{events.ChangeCreated, events.ChangeUpdated, events.ChangeDeleted}, notifier.types())
}

func TestService_Errors(t *testing.T) {
	srv, notifier := newTestServer(t)
	client := adminClient(t, srv.URL)
	ctx := context.Background()

	tests := []struct {
		name       string
		call       func() error
		wantStatus int
		wantDetail string
	}{
		{
			name: "missing required field",
			call: func() error {
				_, err := client.CreateTournament(ctx, validRequest(""))
				return err
			},
			wantStatus: http.StatusBadRequest,
			wantDetail: "title",
		},
		{
			name: "empty patch",
			call: func() error {
				_, err := client.UpdateTournament(ctx, "any", models.UpdateTournamentRequest{})
				return err
			},
			wantStatus: http.StatusBadRequest,
			wantDetail: "No fields to update",
		},
		{
			name: "update unknown id",
			call: func() error {
				title := "x"
				_, err := client.UpdateTournament(ctx, "missing", models.UpdateTournamentRequest{Title: &title})
				return err
			},
			wantStatus: http.StatusNotFound,
			wantDetail: "Tournament not found",
		},
		{
			name:       "delete unknown id",
			call:       func() error { return client.DeleteTournament(ctx, "missing") },
			wantStatus: http.StatusNotFound,
			wantDetail: "Tournament not found",
		},
		{
			name: "unauthenticated write",
			call: func() error {
				_, err := tournament_client.NewTournamentClient(srv.URL).CreateTournament(ctx, validRequest("x"))
				return err
			},
			wantStatus: http.StatusUnauthorized,
			wantDetail: "authorization header required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			var se *clients.ServiceError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.wantStatus, se.StatusCode)
			assert.Contains(t, se.Detail, tt.wantDetail)
		})
	}

	assert.Empty(t, notifier.types())
}

func TestService_ReadsArePublic(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/tournaments")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[]", strings.TrimSpace(string(body)))
}

func TestService_MalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)
	token, err := auth.IssueToken(testSecret, "", "admin", time.Hour)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/tournaments", strings.NewReader(`{"title":`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestService_WriteRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, WithWriteRateLimit(2, time.Minute))
	client := adminClient(t, srv.URL)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := client.CreateTournament(ctx, validRequest("ok"))
		require.NoError(t, err)
	}

	_, err := client.CreateTournament(ctx, validRequest("one too many"))
	var se *clients.ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)

	// Reads are not limited.
	_, err = client.ListTournaments(ctx)
	assert.NoError(t, err)
}

func TestService_SyncLayerEndToEnd(t *testing.T) {
	srv, _ := newTestServer(t)

	store := querycache.NewStore(querycache.WithClock(clockwork.NewFakeClock()))
	defer store.Close()
	s := tournamentsync.NewSync(store, adminClient(t, srv.URL))

	sub := s.SubscribeCollection()
	defer sub.Close()

	wait := func(n int) []models.Tournament {
		t.Helper()
		timeout := time.After(3 * time.Second)
		for {
			select {
			case snap := <-sub.Updates():
				if snap.Status == querycache.StatusReady && !snap.IsFetching && len(snap.Data) == n {
					return snap.Data
				}
			case <-timeout:
				t.Fatalf("collection never reached %d items: %+v", n, sub.Current())
			}
		}
	}
	wait(0)

	created, err := s.Create(context.Background(), validRequest("Worlds"))
	require.NoError(t, err)
	list := wait(1)
	assert.Equal(t, created.ID, list[0].ID)

	require.NoError(t, s.Remove(context.Background(), created.ID))
	wait(0)
}
