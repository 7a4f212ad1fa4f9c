package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tourney/go/internal/auth"
	"github.com/mcdev12/tourney/go/internal/events"
	"github.com/mcdev12/tourney/go/internal/outbox"
	"github.com/mcdev12/tourney/go/internal/sqlutil"
	"github.com/mcdev12/tourney/go/internal/tournaments"
	tournamentsdb "github.com/mcdev12/tourney/go/internal/tournaments/db"
)

type Services struct {
	Tournaments *tournaments.Service
	Publisher   events.Publisher
	// Outbox is nil unless the outbox is enabled.
	Outbox *outbox.Worker
}

func (s *Services) Close() {
	if s.Outbox != nil {
		if err := s.Outbox.Stop(); err != nil {
			log.Warn().Err(err).Msg("failed to stop outbox worker")
		}
	}
	if err := s.Publisher.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close event publisher")
	}
}

func setupPublisher(cfg *Config) (events.Publisher, error) {
	if cfg.NATS.URL == "" {
		log.Warn().Msg("NATS_URL not set, change events are not published")
		return events.NoOpPublisher{}, nil
	}

	natsCfg := events.DefaultConfig()
	natsCfg.URL = cfg.NATS.URL
	natsCfg.Name = "tourney-service"
	if cfg.NATS.SubjectPrefix != "" {
		natsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix
	}
	publisher, err := events.NewNATSPublisher(natsCfg)
	if err != nil {
		return nil, err
	}
	return publisher, nil
}

func setupServices(ctx context.Context, database *sql.DB, dialect sqlutil.Dialect, cfg *Config, publisher events.Publisher, reg prometheus.Registerer) (*Services, error) {
	// Database layer → Repository layer → App layer → Service layer
	queries := tournamentsdb.New(database, dialect)

	var (
		repoOpts []tournaments.RepositoryOption
		notifier tournaments.Notifier = publisher
		worker   *outbox.Worker
	)
	if cfg.Outbox.Enabled {
		// Events are written with the row and published by the worker.
		repoOpts = append(repoOpts, tournaments.WithOutbox())
		notifier = nil
		worker = outbox.NewWorker(database, queries, publisher, outbox.Config{
			PollInterval: cfg.Outbox.PollInterval,
			BatchSize:    int32(cfg.Outbox.BatchSize),
			MaxRetries:   3,
			RetryDelay:   time.Second,
		}, outbox.WithMetrics(outbox.NewPrometheusMetrics(reg)))
	}

	repo := tournaments.NewRepository(queries, database, repoOpts...)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	app := tournaments.NewApp(repo, notifier)
	verifier := auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.Issuer)
	service := tournaments.NewService(app,
		tournaments.WithAuthorizer(auth.Middleware(verifier)),
		tournaments.WithWriteRateLimit(cfg.Server.WriteRateLimit, cfg.Server.WriteRateWindow),
	)

	return &Services{
		Tournaments: service,
		Publisher:   publisher,
		Outbox:      worker,
	}, nil
}
