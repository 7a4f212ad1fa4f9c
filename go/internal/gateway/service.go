package gateway

import (
	"context"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tourney/go/internal/querycache"
	"github.com/mcdev12/tourney/go/internal/tournamentsync"
)

// Service streams tournament snapshots from the sync layer to WebSocket clients.
// A cache subscription exists for a topic exactly while at least one client is
// connected to it.
type Service struct {
	sync              *tournamentsync.Sync
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler

	mu      sync.Mutex
	streams map[string]func()
	stopped bool
	wg      sync.WaitGroup
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates a new gateway service
func NewService(config Config, sync *tournamentsync.Sync) *Service {
	s := &Service{
		sync:    sync,
		streams: make(map[string]func()),
	}
	s.connectionManager = NewConnectionManager(config.ConnectionConfig, TopicHooks{
		Opened: s.openStream,
		Closed: s.closeStream,
	})
	s.wsHandler = NewWebSocketHandler(s.connectionManager)
	return s
}

// Start runs the gateway until ctx is done. Every client is disconnected and every
// cache subscription closed before it returns.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting tournament gateway service")

	s.connectionManager.Start(ctx)

	s.mu.Lock()
	s.stopped = true
	for topic, closeFn := range s.streams {
		closeFn()
		delete(s.streams, topic)
	}
	s.mu.Unlock()

	s.wg.Wait()
	log.Info().Msg("tournament gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket routes
func (s *Service) RegisterRoutes(r chi.Router) {
	s.wsHandler.RegisterRoutes(r)
	log.Info().Msg("gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}

func (s *Service) openStream(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if _, ok := s.streams[topic]; ok {
		return
	}

	if id, isRecord := parseTopic(topic); isRecord {
		s.streams[topic] = forward(s, topic, s.sync.SubscribeRecord(id))
	} else {
		s.streams[topic] = forward(s, topic, s.sync.SubscribeCollection())
	}

	log.Debug().Str("topic", topic).Msg("stream opened")
}

func (s *Service) closeStream(topic string) {
	s.mu.Lock()
	closeFn, ok := s.streams[topic]
	delete(s.streams, topic)
	s.mu.Unlock()

	if ok {
		closeFn()
		log.Debug().Str("topic", topic).Msg("stream closed")
	}
}

// forward relays every snapshot of sub to topic until the subscription closes and
// returns the function that closes it.
func forward[T any](s *Service, topic string, sub *querycache.Subscription[T]) func() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for snap := range sub.Updates() {
			data, err := encodeFrame(topic, snap)
			if err != nil {
				log.Error().Err(err).Str("topic", topic).Msg("failed to encode snapshot frame")
				continue
			}
			s.connectionManager.Broadcast(topic, data)
		}
	}()
	return sub.Close
}
