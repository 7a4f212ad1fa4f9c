// Package events carries tournament change notifications between the tournament
// service and its readers over NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/tourney/go/internal/models"
)

// SubjectPrefix is the subject namespace for tournament changes. Each event is
// published on SubjectPrefix.<type>.
const SubjectPrefix = "tournaments.events"

// ChangeType says what happened to a tournament
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

func (t ChangeType) Valid() bool {
	switch t {
	case ChangeCreated, ChangeUpdated, ChangeDeleted:
		return true
	}
	return false
}

// TournamentChanged is published after every successful write
type TournamentChanged struct {
	EventID      string              `json:"eventId"`
	Type         ChangeType          `json:"eventType"`
	TournamentID models.TournamentID `json:"tournamentId"`
	Timestamp    time.Time           `json:"timestamp"`
}

// NewTournamentChanged builds an event with a fresh id, stamped now.
func NewTournamentChanged(changeType ChangeType, id models.TournamentID) TournamentChanged {
	return TournamentChanged{
		EventID:      uuid.NewString(),
		Type:         changeType,
		TournamentID: id,
		Timestamp:    time.Now().UTC(),
	}
}

// Subject returns the subject evt is published on.
func (evt TournamentChanged) Subject(prefix string) string {
	return fmt.Sprintf("%s.%s", prefix, evt.Type)
}

// Decode parses an event payload.
func Decode(data []byte) (TournamentChanged, error) {
	var evt TournamentChanged
	if err := json.Unmarshal(data, &evt); err != nil {
		return TournamentChanged{}, fmt.Errorf("unmarshal tournament event: %w", err)
	}
	if !evt.Type.Valid() {
		return TournamentChanged{}, fmt.Errorf("unknown event type: %q", evt.Type)
	}
	return evt, nil
}

// Publisher sends change events
type Publisher interface {
	Publish(ctx context.Context, evt TournamentChanged) error
	Close() error
}

// NoOpPublisher drops every event. Used when no NATS URL is configured.
type NoOpPublisher struct{}

func (NoOpPublisher) Publish(context.Context, TournamentChanged) error { return nil }
func (NoOpPublisher) Close() error                                    { return nil }
