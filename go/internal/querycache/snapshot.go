package querycache

import "time"

// Status is the coarse state of a snapshot
type Status int

const (
	// StatusIdle is a subscription that will never fetch (e.g. an empty record id).
	StatusIdle Status = iota
	// StatusLoading means no data has been received yet.
	StatusLoading
	// StatusError means the last fetch failed. Data from an earlier success is kept.
	StatusError
	// StatusReady means Data holds the last successful result.
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusError:
		return "error"
	case StatusReady:
		return "ready"
	}
	return "unknown"
}

// MarshalText lets snapshots be encoded with the readable status name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is the current known state of a cached resource.
// Data must be treated as read-only; the store replaces values, it never edits them.
type Snapshot[T any] struct {
	Status     Status
	Data       T
	HasData    bool
	Err        error
	UpdatedAt  time.Time
	IsFetching bool
}

// state is the untyped snapshot held by an entry.
type state struct {
	status    Status
	data      any
	hasData   bool
	err       error
	updatedAt time.Time
	fetching  bool
}

func toSnapshot[T any](st state) Snapshot[T] {
	snap := Snapshot[T]{
		Status:     st.status,
		HasData:    st.hasData,
		Err:        st.err,
		UpdatedAt:  st.updatedAt,
		IsFetching: st.fetching,
	}
	if st.hasData {
		if v, ok := st.data.(T); ok {
			snap.Data = v
		}
	}
	return snap
}
