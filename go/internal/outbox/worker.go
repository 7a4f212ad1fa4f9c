// Package outbox publishes tournament change events recorded in the
// tournament_outbox table by the repository, so that an event is sent if and only
// if its write committed.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tourney/go/internal/events"
	"github.com/mcdev12/tourney/go/internal/sqlutil"
	"github.com/mcdev12/tourney/go/internal/tournaments/db"
)

// EventPublisher sends one change event
type EventPublisher interface {
	Publish(ctx context.Context, evt events.TournamentChanged) error
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int32
	MaxRetries   int
	RetryDelay   time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		BatchSize:    100,
		MaxRetries:   3,
		RetryDelay:   time.Second,
	}
}

// Option configures a Worker
type Option func(*Worker)

func WithClock(clock clockwork.Clock) Option {
	return func(w *Worker) {
		w.clock = clock
	}
}

func WithMetrics(m MetricsCollector) Option {
	return func(w *Worker) {
		if m != nil {
			w.metrics = m
		}
	}
}

type Worker struct {
	db        *sql.DB
	queries   *db.Queries
	publisher EventPublisher
	config    Config
	clock     clockwork.Clock
	metrics   MetricsCollector

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewWorker(database *sql.DB, queries *db.Queries, publisher EventPublisher, cfg Config, opts ...Option) *Worker {
	w := &Worker{
		db:        database,
		queries:   queries,
		publisher: publisher,
		config:    cfg,
		clock:     clockwork.NewRealClock(),
		metrics:   NoOpMetricsCollector{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start polls the outbox until ctx is done or Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("outbox worker already running")
	}
	w.running = true
	w.stopChan = make(chan struct{})
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx, w.stopChan)

	log.Info().
		Dur("poll_interval", w.config.PollInterval).
		Int32("batch_size", w.config.BatchSize).
		Msg("outbox worker started")

	return nil
}

func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("outbox worker not running")
	}
	w.running = false
	close(w.stopChan)
	w.mu.Unlock()

	w.wg.Wait()

	log.Info().Msg("outbox worker stopped")
	return nil
}

func (w *Worker) run(ctx context.Context, stop <-chan struct{}) {
	defer w.wg.Done()

	ticker := w.clock.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// Process immediately on start
	w.process(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.Chan():
			w.process(ctx)
		}
	}
}

func (w *Worker) process(ctx context.Context) {
	if _, err := w.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("failed to process outbox")
	}
}

// ProcessOnce publishes one batch and returns how many events were sent. Events
// that fail every retry stay unsent with their attempt count raised.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	start := w.clock.Now()
	sent := 0
	fetched := 0

	err := sqlutil.Run(ctx, w.db, w.queries.WithTx, func(q *db.Queries) error {
		rows, err := q.FetchUnsentOutbox(ctx, w.config.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to fetch unsent events: %w", err)
		}
		fetched = len(rows)
		if fetched == 0 {
			return nil
		}

		log.Debug().Int("count", fetched).Msg("processing outbox events")

		for _, row := range rows {
			evt, err := events.Decode([]byte(row.Payload))
			if err != nil {
				// Retrying cannot fix a payload; drop it.
				log.Error().Err(err).Str("event_id", row.ID).Msg("dropping undecodable outbox event")
				if err := q.MarkOutboxSent(ctx, row.ID, sqlutil.FormatTimestamp(w.clock.Now())); err != nil {
					return fmt.Errorf("failed to mark event %s as sent: %w", row.ID, err)
				}
				continue
			}

			eventStart := w.clock.Now()
			err = w.publishWithRetry(ctx, evt)
			w.metrics.RecordEventProcessed(row.EventType, err == nil, w.clock.Since(eventStart))
			if err != nil {
				log.Error().
					Err(err).
					Str("event_id", row.ID).
					Str("event_type", row.EventType).
					Msg("failed to publish event")
				if err := q.IncrementOutboxAttempts(ctx, row.ID); err != nil {
					return fmt.Errorf("failed to record attempt for event %s: %w", row.ID, err)
				}
				continue
			}

			if err := q.MarkOutboxSent(ctx, row.ID, sqlutil.FormatTimestamp(w.clock.Now())); err != nil {
				return fmt.Errorf("failed to mark event %s as sent: %w", row.ID, err)
			}
			sent++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	w.metrics.RecordBatchProcessed(fetched, w.clock.Since(start))
	if lag, err := w.queries.CountUnsentOutbox(ctx); err == nil {
		w.metrics.RecordOutboxLag(int(lag))
	}

	if fetched > 0 {
		log.Info().
			Int("total", fetched).
			Int("successful", sent).
			Msg("processed outbox events")
	}
	return sent, nil
}

func (w *Worker) publishWithRetry(ctx context.Context, evt events.TournamentChanged) error {
	var lastErr error

	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 && w.config.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-w.clock.After(w.config.RetryDelay * time.Duration(attempt)):
			}
		}

		if err := w.publisher.Publish(ctx, evt); err != nil {
			lastErr = err
			w.metrics.RecordPublishAttempt(string(evt.Type), attempt+1, false)
			log.Warn().
				Err(err).
				Str("event_id", evt.EventID).
				Int("attempt", attempt+1).
				Msg("failed to publish event, retrying")
			continue
		}

		w.metrics.RecordPublishAttempt(string(evt.Type), attempt+1, true)
		return nil
	}

	return fmt.Errorf("failed after %d attempts: %w", w.config.MaxRetries+1, lastErr)
}
