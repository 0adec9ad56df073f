package lifecycle

import (
	"encoding/json"
	"time"
)

// State is the inferred state of a tracked connection.
type State uint8

const (
	StateOpen State = iota + 1
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ConnectionRecord is the inferred lifecycle of one connection. EndTime is
// the zero time while the connection is open.
type ConnectionRecord struct {
	StartTime time.Time
	EndTime   time.Time
	State     State
}

// HasEnded reports whether a termination was observed. Closure is decided
// by State; EndTime may legitimately be the zero time.
func (r ConnectionRecord) HasEnded() bool {
	return r.State == StateClosed
}

// Duration returns EndTime-StartTime and false for connections still open
// at the end of the capture.
func (r ConnectionRecord) Duration() (time.Duration, bool) {
	if !r.HasEnded() {
		return 0, false
	}
	return r.EndTime.Sub(r.StartTime), true
}

// Connection pairs a key with its record.
type Connection struct {
	Key    ConnectionKey
	Record ConnectionRecord
}

type connectionJSON struct {
	Src       string     `json:"src"`
	Dst       string     `json:"dst"`
	State     State      `json:"state"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Duration  *float64   `json:"duration_seconds,omitempty"`
}

// MarshalJSON flattens the connection for API and summary output.
func (c Connection) MarshalJSON() ([]byte, error) {
	out := connectionJSON{
		Src:       c.Key.Src().String(),
		Dst:       c.Key.Dst().String(),
		State:     c.Record.State,
		StartTime: c.Record.StartTime,
	}
	if d, ok := c.Record.Duration(); ok {
		end := c.Record.EndTime
		secs := d.Seconds()
		out.EndTime = &end
		out.Duration = &secs
	}
	return json.Marshal(out)
}

// Snapshot is a point-in-time copy of a tracker, the payload handed to writers.
type Snapshot struct {
	TakenAt     time.Time
	Connections []Connection
	Stats       Stats
}
