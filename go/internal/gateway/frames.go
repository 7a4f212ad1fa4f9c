package gateway

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/mcdev12/tourney/go/internal/models"
	"github.com/mcdev12/tourney/go/internal/querycache"
)

// FrameTypeSnapshot is the only frame the gateway sends.
const FrameTypeSnapshot = "snapshot"

// CollectionTopic streams the tournament list.
const CollectionTopic = "tournaments"

const recordTopicPrefix = "tournament:"

// RecordTopic streams one tournament.
func RecordTopic(id models.TournamentID) string {
	return recordTopicPrefix + id.String()
}

// parseTopic returns the record id for a record topic and ok=false for the collection.
func parseTopic(topic string) (models.TournamentID, bool) {
	id, ok := strings.CutPrefix(topic, recordTopicPrefix)
	return models.TournamentID(id), ok
}

// Frame is one message on the wire
type Frame struct {
	Type       string            `json:"type"`
	Topic      string            `json:"topic"`
	Status     querycache.Status `json:"status"`
	Data       any               `json:"data,omitempty"`
	Error      string            `json:"error,omitempty"`
	IsFetching bool              `json:"isFetching"`
	UpdatedAt  *time.Time        `json:"updatedAt,omitempty"`
}

func newFrame[T any](topic string, snap querycache.Snapshot[T]) Frame {
	frame := Frame{
		Type:       FrameTypeSnapshot,
		Topic:      topic,
		Status:     snap.Status,
		IsFetching: snap.IsFetching,
	}
	if snap.HasData {
		frame.Data = snap.Data
	}
	if snap.Err != nil {
		frame.Error = snap.Err.Error()
	}
	if !snap.UpdatedAt.IsZero() {
		updated := snap.UpdatedAt.UTC()
		frame.UpdatedAt = &updated
	}
	return frame
}

func encodeFrame[T any](topic string, snap querycache.Snapshot[T]) ([]byte, error) {
	return json.Marshal(newFrame(topic, snap))
}
