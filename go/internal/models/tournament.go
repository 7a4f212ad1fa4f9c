package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TournamentStatus is the lifecycle state of a tournament listing
type TournamentStatus string

const (
	TournamentStatusLive      TournamentStatus = "LIVE"
	TournamentStatusUpcoming  TournamentStatus = "UPCOMING"
	TournamentStatusCompleted TournamentStatus = "COMPLETED"
)

// Valid reports whether s is one of the known statuses.
func (s TournamentStatus) Valid() bool {
	switch s {
	case TournamentStatusLive, TournamentStatusUpcoming, TournamentStatusCompleted:
		return true
	}
	return false
}

// TournamentID is an opaque identifier issued by the tournament service.
// It is compared and passed around as-is and never parsed.
type TournamentID string

// IsZero reports whether the id is the empty token.
func (id TournamentID) IsZero() bool {
	return strings.TrimSpace(string(id)) == ""
}

func (id TournamentID) String() string {
	return string(id)
}

// UnmarshalJSON accepts both string ids and the integer ids issued by older
// deployments. Integers are kept as their decimal representation.
func (id *TournamentID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode tournament id: %w", err)
		}
		*id = TournamentID(s)
		return nil
	}

	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("decode tournament id: %w", err)
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("tournament id %s is not an integer or string", n)
	}
	*id = TournamentID(n.String())
	return nil
}

// MarshalJSON always emits the canonical string form.
func (id TournamentID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(id))
}

// Tournament is a tournament listing as served by the tournament service
type Tournament struct {
	ID        TournamentID     `json:"id"`
	Title     string           `json:"title"`
	GameName  string           `json:"game_name"`
	StreamURL string           `json:"stream_url"`
	ImageURL  string           `json:"image_url"`
	APIURL    string           `json:"api_url,omitempty"`
	Status    TournamentStatus `json:"status"`
	StartTime string           `json:"start_time"`
}

// StartsAt parses StartTime. Timestamps without a zone are treated as UTC.
func (t Tournament) StartsAt() (time.Time, error) {
	return ParseStartTime(t.StartTime)
}

// CreateTournamentRequest is the payload for creating a tournament
type CreateTournamentRequest struct {
	Title     string           `json:"title"`
	GameName  string           `json:"game_name"`
	StreamURL string           `json:"stream_url"`
	ImageURL  string           `json:"image_url"`
	APIURL    string           `json:"api_url"`
	Status    TournamentStatus `json:"status,omitempty"`
	StartTime string           `json:"start_time"`
}

// UpdateTournamentRequest is a partial update; nil fields are left unchanged
type UpdateTournamentRequest struct {
	Title     *string           `json:"title,omitempty"`
	GameName  *string           `json:"game_name,omitempty"`
	StreamURL *string           `json:"stream_url,omitempty"`
	ImageURL  *string           `json:"image_url,omitempty"`
	APIURL    *string           `json:"api_url,omitempty"`
	Status    *TournamentStatus `json:"status,omitempty"`
	StartTime *string           `json:"start_time,omitempty"`
}

// Empty reports whether the update carries no fields.
func (r UpdateTournamentRequest) Empty() bool {
	return r.Title == nil && r.GameName == nil && r.StreamURL == nil && r.ImageURL == nil &&
		r.APIURL == nil && r.Status == nil && r.StartTime == nil
}

// Apply returns a copy of t with the set fields of r applied.
func (r UpdateTournamentRequest) Apply(t Tournament) Tournament {
	if r.Title != nil {
		t.Title = *r.Title
	}
	if r.GameName != nil {
		t.GameName = *r.GameName
	}
	if r.StreamURL != nil {
		t.StreamURL = *r.StreamURL
	}
	if r.ImageURL != nil {
		t.ImageURL = *r.ImageURL
	}
	if r.APIURL != nil {
		t.APIURL = *r.APIURL
	}
	if r.Status != nil {
		t.Status = *r.Status
	}
	if r.StartTime != nil {
		t.StartTime = *r.StartTime
	}
	return t
}

// APIURLResponse is the body of GET /tournaments/{id}/api-url
type APIURLResponse struct {
	APIURL string `json:"api_url"`
}

var startTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// ParseStartTime parses the ISO-8601 forms the service and the admin forms produce.
func ParseStartTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range startTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid start time %q", s)
}
