package querycache

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	// DefaultPollInterval is how often subscribed keys are refetched.
	DefaultPollInterval = 30 * time.Second
	// DefaultStaleTime is how long a result is served without a round-trip.
	DefaultStaleTime = 30 * time.Second
	// DefaultGCTime is how long an unsubscribed key is kept before eviction.
	DefaultGCTime = 5 * time.Minute
)

// Option configures a Store
type Option func(*Store)

// WithClock sets the clock driving staleness, polling and eviction.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		s.pollInterval = d
	}
}

func WithStaleTime(d time.Duration) Option {
	return func(s *Store) {
		s.staleTime = d
	}
}

func WithGCTime(d time.Duration) Option {
	return func(s *Store) {
		s.gcTime = d
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}
