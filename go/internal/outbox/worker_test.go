package outbox

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	_ "modernc.org/sqlite"

	"github.com/mcdev12/tourney/go/internal/events"
	"github.com/mcdev12/tourney/go/internal/models"
	"github.com/mcdev12/tourney/go/internal/sqlutil"
	"github.com/mcdev12/tourney/go/internal/tournaments"
	"github.com/mcdev12/tourney/go/internal/tournaments/db"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []events.TournamentChanged
	failures  int
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.TournamentChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("nats unavailable")
	}
	p.published = append(p.published, evt)
	return nil
}

func (p *recordingPublisher) events() []events.TournamentChanged {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.TournamentChanged(nil), p.published...)
}

type fixture struct {
	database *sql.DB
	queries  *db.Queries
	repo     *tournaments.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	database, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	database.SetMaxOpenConns(1)
	t.Cleanup(func() { database.Close() })

	queries := db.New(database, sqlutil.SQLite)
	repo := tournaments.NewRepository(queries, database, tournaments.WithOutbox())
	require.NoError(t, repo.EnsureSchema(context.Background()))
	return &fixture{database: database, queries: queries, repo: repo}
}

func (f *fixture) create(t *testing.T, id string) {
	t.Helper()
	_, err := f.repo.CreateTournament(context.Background(), models.TournamentID(id), models.CreateTournamentRequest{
		Title:     "Finals " + id,
		GameName:  "Chess",
		StreamURL: "https://example.com/stream",
		ImageURL:  "https://example.com/image.png",
		Status:    models.TournamentStatusUpcoming,
		StartTime: "2025-03-01T12:00:00Z",
	})
	require.NoError(t, err)
}

func (f *fixture) unsent(t *testing.T) int64 {
	t.Helper()
	n, err := f.queries.CountUnsentOutbox(context.Background())
	require.NoError(t, err)
	return n
}

func testConfig() Config {
	return Config{PollInterval: time.Minute, BatchSize: 10, MaxRetries: 2}
}

func TestWorker_PublishesAndMarksSent(t *testing.T) {
	f := newFixture(t)
	f.create(t, "a")
	require.NoError(t, f.repo.DeleteTournament(context.Background(), "a"))

	pub := &recordingPublisher{}
	reg := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(reg)
	w := NewWorker(f.database, f.queries, pub, testConfig(), WithMetrics(metrics))

	sent, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Zero(t, f.unsent(t))

	var types []events.ChangeType
	for _, evt := range pub.events() {
		assert.Equal(t, models.TournamentID("a"), evt.TournamentID)
		types = append(types, evt.Type)
	}
	assert.ElementsMatch(t, []events.ChangeType{events.ChangeCreated, events.ChangeDeleted}, types)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.eventCounter.WithLabelValues("created", "success")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.outboxLag))

	sent, err = w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent, "sent events are not published again")
}

func TestWorker_RetriesThenKeepsFailedEvents(t *testing.T) {
	f := newFixture(t)
	f.create(t, "a")

	// MaxRetries 2 means three attempts per run.
	pub := &recordingPublisher{failures: 3}
	w := NewWorker(f.database, f.queries, pub, testConfig())

	sent, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Equal(t, int64(1), f.unsent(t))

	rows, err := f.queries.FetchUnsentOutbox(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int32(1), rows[0].Attempts)

	sent, err = w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Len(t, pub.events(), 1)
}

func TestWorker_RetrySucceedsWithinRun(t *testing.T) {
	f := newFixture(t)
	f.create(t, "a")

	pub := &recordingPublisher{failures: 1}
	w := NewWorker(f.database, f.queries, pub, testConfig())

	sent, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestWorker_DropsUndecodablePayload(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.queries.InsertOutboxEvent(context.Background(), db.InsertOutboxEventParams{
		ID:           "bad",
		TournamentID: "a",
		EventType:    "created",
		Payload:      "{not json",
		CreatedAt:    sqlutil.FormatTimestamp(time.Now()),
	}))

	pub := &recordingPublisher{}
	w := NewWorker(f.database, f.queries, pub, testConfig())

	sent, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, pub.events())
	assert.Zero(t, f.unsent(t))
}

func TestWorker_PollsOnTicker(t *testing.T) {
	f := newFixture(t)
	clock := clockwork.NewFakeClock()
	pub := &recordingPublisher{}
	w := NewWorker(f.database, f.queries, pub, testConfig(), WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	require.Error(t, w.Start(ctx), "second start is rejected")

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	f.create(t, "a")
	clock.Advance(time.Minute)

	require.Eventually(t, func() bool { return len(pub.events()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Stop())
	require.Error(t, w.Stop(), "second stop is rejected")
}
