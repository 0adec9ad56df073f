// Package lifecycle infers TCP connection lifetimes from a stream of packets.
//
// A connection is opened by a pure SYN and keyed in the initiator ->
// responder direction. It is closed by the first FIN or RST travelling the
// other way. Nothing else changes a record.
package lifecycle

import (
	"TCPScope/internal/model"
	"iter"
	"time"
)

// Event reports what a packet did to the tracked state.
type Event uint8

const (
	EventNone Event = iota
	EventOpened
	EventClosed
)

func (e Event) String() string {
	switch e {
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	default:
		return "none"
	}
}

// Stats counts how packets were classified.
type Stats struct {
	Packets        uint64 `json:"packets"`
	Skipped        uint64 `json:"skipped"`
	Initiations    uint64 `json:"initiations"`
	RetransmitSYNs uint64 `json:"retransmitted_syns"`
	SynAcks        uint64 `json:"syn_acks"`
	Terminations   uint64 `json:"terminations"`
	Closures       uint64 `json:"closures"`
	Unmatched      uint64 `json:"unmatched_terminations"`
}

// Tracker holds the connection table built by a single forward pass.
// It is not safe for concurrent use.
type Tracker struct {
	records map[ConnectionKey]*ConnectionRecord
	order   []ConnectionKey
	stats   Stats
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{records: make(map[ConnectionKey]*ConnectionRecord)}
}

// Track consumes packets once, in order, and returns the resulting table.
func Track(packets iter.Seq[*model.PacketInfo]) map[ConnectionKey]ConnectionRecord {
	t := NewTracker()
	for p := range packets {
		t.ProcessPacket(p)
	}
	return t.Records()
}

// ProcessPacket applies one packet to the table.
func (t *Tracker) ProcessPacket(p *model.PacketInfo) Event {
	t.stats.Packets++
	if !p.IsTCP() {
		t.stats.Skipped++
		return EventNone
	}
	key, ok := KeyOf(p.FiveTuple)
	if !ok {
		t.stats.Skipped++
		return EventNone
	}

	flags := p.TCP.Flags
	switch {
	case flags&model.FlagSYN != 0:
		// SYN dominates: SYN+FIN and SYN+RST never reach the termination branch.
		if flags&model.FlagACK != 0 {
			t.stats.SynAcks++
			return EventNone
		}
		t.stats.Initiations++
		if _, exists := t.records[key]; exists {
			t.stats.RetransmitSYNs++
			return EventNone
		}
		t.records[key] = &ConnectionRecord{StartTime: p.Timestamp, State: StateOpen}
		t.order = append(t.order, key)
		return EventOpened

	case flags&(model.FlagFIN|model.FlagRST) != 0:
		t.stats.Terminations++
		rec, exists := t.records[key.Reverse()]
		if !exists || rec.State != StateOpen {
			t.stats.Unmatched++
			return EventNone
		}
		rec.EndTime = p.Timestamp
		rec.State = StateClosed
		t.stats.Closures++
		return EventClosed
	}

	return EventNone
}

// Len returns the number of tracked connections.
func (t *Tracker) Len() int {
	return len(t.records)
}

// Lookup returns the record stored under key.
func (t *Tracker) Lookup(key ConnectionKey) (ConnectionRecord, bool) {
	rec, ok := t.records[key]
	if !ok {
		return ConnectionRecord{}, false
	}
	return *rec, true
}

// Records returns a copy of the table.
func (t *Tracker) Records() map[ConnectionKey]ConnectionRecord {
	out := make(map[ConnectionKey]ConnectionRecord, len(t.records))
	for k, v := range t.records {
		out[k] = *v
	}
	return out
}

// Connections returns every tracked connection in first-seen order.
func (t *Tracker) Connections() []Connection {
	out := make([]Connection, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, Connection{Key: k, Record: *t.records[k]})
	}
	return out
}

// Stats returns the classification counters.
func (t *Tracker) Stats() Stats {
	return t.stats
}

// Snapshot copies the tracker state stamped with takenAt.
func (t *Tracker) Snapshot(takenAt time.Time) Snapshot {
	return Snapshot{TakenAt: takenAt, Connections: t.Connections(), Stats: t.stats}
}
