package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/tourney/go/clients/tournament_client"
	"github.com/mcdev12/tourney/go/internal/events"
	"github.com/mcdev12/tourney/go/internal/gateway"
	"github.com/mcdev12/tourney/go/internal/querycache"
	"github.com/mcdev12/tourney/go/internal/tournamentsync"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	port := getEnv("GATEWAY_PORT", "8081")
	serviceURL := getEnv("TOURNAMENT_API_URL", tournament_client.DefaultBaseURL)
	natsURL := getEnv("NATS_URL", "")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store := querycache.NewStore(
		querycache.WithPollInterval(getEnvAsDuration("POLL_INTERVAL", querycache.DefaultPollInterval)),
		querycache.WithStaleTime(getEnvAsDuration("STALE_TIME", querycache.DefaultStaleTime)),
		querycache.WithGCTime(getEnvAsDuration("GC_TIME", querycache.DefaultGCTime)),
		querycache.WithMetrics(querycache.NewPrometheusMetrics(reg)),
		querycache.WithLogger(log.With().Str("component", "querycache").Logger()),
	)
	defer store.Close()

	client := tournament_client.NewTournamentClient(serviceURL,
		tournament_client.WithBearerToken(os.Getenv("TOURNAMENT_API_TOKEN")))
	syncer := tournamentsync.NewSync(store, client)
	gatewayService := gateway.NewService(gateway.DefaultConfig(), syncer)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	gatewayService.RegisterRoutes(r)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// WriteTimeout stays unset: WebSocket connections are long-lived.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().
		Str("tournament_service", serviceURL).
		Str("nats_url", natsURL).
		Str("port", port).
		Msg("starting tournament gateway")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return gatewayService.Start(ctx)
	})

	if natsURL != "" {
		cfg := events.DefaultConfig()
		cfg.URL = natsURL
		cfg.Name = "tourney-gateway"
		subscriber, err := events.NewNATSSubscriber(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer subscriber.Close()

		g.Go(func() error {
			return syncer.Listen(ctx, subscriber)
		})
	} else {
		log.Warn().Msg("NATS_URL not set, relying on polling only")
	}

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("gateway stopped with error")
	}
	log.Info().Msg("tournament gateway shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("30s") or whole seconds ("30").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Warn().Str("key", key).Str("value", value).Msg("invalid duration, using default")
	return defaultValue
}
