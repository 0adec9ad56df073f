// Package probe publishes connection lifecycle events over NATS.
package probe

import (
	"TCPScope/internal/engine/lifecycle"
	"errors"
	"fmt"
	"math"
	"net/netip"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the LifecycleEvent message:
//
//	message LifecycleEvent {
//	  uint32 kind = 1;
//	  bytes  src_addr = 2;
//	  bytes  dst_addr = 3;
//	  uint32 src_port = 4;
//	  uint32 dst_port = 5;
//	  int64  timestamp_unix_nano = 6;
//	  int64  start_unix_nano = 7;
//	}
const (
	fieldKind      protowire.Number = 1
	fieldSrcAddr   protowire.Number = 2
	fieldDstAddr   protowire.Number = 3
	fieldSrcPort   protowire.Number = 4
	fieldDstPort   protowire.Number = 5
	fieldTimestamp protowire.Number = 6
	fieldStart     protowire.Number = 7
)

var errBadEvent = errors.New("malformed lifecycle event")

// LifecycleEvent reports one transition of a tracked connection. Timestamp
// is the time of the packet that caused it.
type LifecycleEvent struct {
	Kind      lifecycle.Event
	Key       lifecycle.ConnectionKey
	Timestamp time.Time
	StartTime time.Time
}

func (e LifecycleEvent) String() string {
	return fmt.Sprintf("%s %s at %s", e.Kind, e.Key, e.Timestamp.Format("15:04:05.000000"))
}

// Marshal encodes the event in protobuf wire format.
func (e LifecycleEvent) Marshal() []byte {
	b := make([]byte, 0, 64)
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Kind))
	b = protowire.AppendTag(b, fieldSrcAddr, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Key.SrcAddr.AsSlice())
	b = protowire.AppendTag(b, fieldDstAddr, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Key.DstAddr.AsSlice())
	b = protowire.AppendTag(b, fieldSrcPort, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Key.SrcPort))
	b = protowire.AppendTag(b, fieldDstPort, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Key.DstPort))
	b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Timestamp.UnixNano()))
	if !e.StartTime.IsZero() {
		b = protowire.AppendTag(b, fieldStart, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.StartTime.UnixNano()))
	}
	return b
}

// UnmarshalEvent decodes an event. Unknown fields are skipped.
func UnmarshalEvent(b []byte) (LifecycleEvent, error) {
	var e LifecycleEvent
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return e, fmt.Errorf("%w: %w", errBadEvent, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && (num == fieldKind || num == fieldSrcPort || num == fieldDstPort || num == fieldTimestamp || num == fieldStart):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return e, fmt.Errorf("%w: %w", errBadEvent, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldKind:
				if v > math.MaxUint8 {
					return e, fmt.Errorf("%w: unknown kind %d", errBadEvent, v)
				}
				e.Kind = lifecycle.Event(v)
			case fieldSrcPort, fieldDstPort:
				if v > math.MaxUint16 {
					return e, fmt.Errorf("%w: port %d out of range", errBadEvent, v)
				}
				if num == fieldSrcPort {
					e.Key.SrcPort = uint16(v)
				} else {
					e.Key.DstPort = uint16(v)
				}
			case fieldTimestamp:
				e.Timestamp = time.Unix(0, int64(v))
			case fieldStart:
				e.StartTime = time.Unix(0, int64(v))
			}
		case typ == protowire.BytesType && (num == fieldSrcAddr || num == fieldDstAddr):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return e, fmt.Errorf("%w: %w", errBadEvent, protowire.ParseError(n))
			}
			b = b[n:]
			addr, ok := netip.AddrFromSlice(v)
			if !ok {
				return e, fmt.Errorf("%w: bad address length %d", errBadEvent, len(v))
			}
			if num == fieldSrcAddr {
				e.Key.SrcAddr = addr
			} else {
				e.Key.DstAddr = addr
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return e, fmt.Errorf("%w: %w", errBadEvent, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if e.Kind != lifecycle.EventOpened && e.Kind != lifecycle.EventClosed {
		return e, fmt.Errorf("%w: unknown kind %d", errBadEvent, e.Kind)
	}
	return e, nil
}
