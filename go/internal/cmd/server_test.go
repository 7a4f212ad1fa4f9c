package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/tourney/go/internal/dbconfig"
	"github.com/mcdev12/tourney/go/internal/events"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	ctx := context.Background()
	database, dialect, err := setupDatabase(ctx, dbconfig.Config{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	cfg := defaultConfig()
	reg := prometheus.NewRegistry()
	services, err := setupServices(ctx, database, dialect, cfg, events.NoOpPublisher{}, reg)
	require.NoError(t, err)

	server := httptest.NewServer(setupServer(cfg, services, reg).Handler)
	t.Cleanup(server.Close)
	return server
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_Health(t *testing.T) {
	server := newTestServer(t)

	status, body := get(t, server.URL+"/health")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, body)
}

func TestServer_TournamentsMounted(t *testing.T) {
	server := newTestServer(t)

	status, body := get(t, server.URL+"/tournaments")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, body)

	status, body = get(t, server.URL+"/tournaments/missing")
	assert.Equal(t, http.StatusNotFound, status)
	assert.JSONEq(t, `{"detail":"Tournament not found"}`, body)
}

func TestServer_MetricsByRoutePattern(t *testing.T) {
	server := newTestServer(t)

	get(t, server.URL+"/tournaments/abc")
	get(t, server.URL+"/tournaments/def")

	status, body := get(t, server.URL+"/metrics")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `tourney_http_request_duration_seconds_count{method="GET",path="/tournaments/{id}",status="404"} 2`)
	assert.False(t, strings.Contains(body, `path="/tournaments/abc"`))
}

func TestServer_CORSPreflight(t *testing.T) {
	server := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/tournaments", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_OutboxMode(t *testing.T) {
	ctx := context.Background()
	database, dialect, err := setupDatabase(ctx, dbconfig.Config{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	defer database.Close()

	cfg := defaultConfig()
	cfg.Outbox.Enabled = true
	services, err := setupServices(ctx, database, dialect, cfg, events.NoOpPublisher{}, prometheus.NewRegistry())
	require.NoError(t, err)
	require.NotNil(t, services.Outbox)

	sent, err := services.Outbox.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
}
