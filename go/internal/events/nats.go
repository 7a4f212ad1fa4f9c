package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Config holds NATS connection settings
type Config struct {
	URL           string
	Name          string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "tourney",
		SubjectPrefix: SubjectPrefix,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

func connect(cfg Config) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// NATSPublisher publishes change events on core NATS. Delivery is at-most-once;
// readers poll anyway, so a lost event only delays a refresh.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSPublisher(cfg Config) (*NATSPublisher, error) {
	nc, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

// Message builds the NATS message for evt.
func Message(prefix string, evt TournamentChanged) (*nats.Msg, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return &nats.Msg{
		Subject: evt.Subject(prefix),
		Data:    data,
		Header: nats.Header{
			"Event-Type":    []string{string(evt.Type)},
			"Event-ID":      []string{evt.EventID},
			"Tournament-ID": []string{evt.TournamentID.String()},
		},
	}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, evt TournamentChanged) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := Message(p.prefix, evt)
	if err != nil {
		return err
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish to NATS: %w", err)
	}

	log.Debug().
		Str("subject", msg.Subject).
		Str("event_id", evt.EventID).
		Str("tournament_id", evt.TournamentID.String()).
		Msg("published tournament event")
	return nil
}

func (p *NATSPublisher) Close() error {
	if p.nc != nil {
		return p.nc.Drain()
	}
	return nil
}

// NATSSubscriber delivers change events from every publisher to a handler.
type NATSSubscriber struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSSubscriber(cfg Config) (*NATSSubscriber, error) {
	nc, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

// Subscribe calls handler for each event until ctx is done. Malformed messages are
// logged and skipped.
func (s *NATSSubscriber) Subscribe(ctx context.Context, handler func(TournamentChanged)) error {
	messageCh := make(chan *nats.Msg, 64)
	sub, err := s.nc.ChanSubscribe(s.prefix+".>", messageCh)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.prefix, err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Msg("failed to unsubscribe from tournament events")
		}
	}()

	log.Info().Str("subject", sub.Subject).Msg("listening for tournament events")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-messageCh:
			Dispatch(msg, handler)
		}
	}
}

// Dispatch decodes msg and hands it to handler.
func Dispatch(msg *nats.Msg, handler func(TournamentChanged)) {
	evt, err := Decode(msg.Data)
	if err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to process message")
		return
	}
	handler(evt)
}

func (s *NATSSubscriber) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}
