package lifecycle

import (
	"TCPScope/internal/model"
	"encoding/json"
	"net"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	hostA = net.ParseIP("10.0.0.1").To4()
	hostB = net.ParseIP("10.0.0.2").To4()
	epoch = time.Unix(1700000000, 0).UTC()
)

const (
	portA uint16 = 40000
	portB uint16 = 80
)

func at(sec float64) time.Time {
	return epoch.Add(time.Duration(sec * float64(time.Second)))
}

func tcpPacket(src, dst net.IP, sport, dport uint16, flags model.TCPFlags, sec float64) *model.PacketInfo {
	return &model.PacketInfo{
		Timestamp: at(sec),
		FiveTuple: model.FiveTuple{SrcIP: src, DstIP: dst, SrcPort: sport, DstPort: dport, Protocol: model.ProtocolTCP},
		Length:    60,
		TCP:       &model.TCPInfo{Flags: flags},
	}
}

func aToB(flags model.TCPFlags, sec float64) *model.PacketInfo {
	return tcpPacket(hostA, hostB, portA, portB, flags, sec)
}

func bToA(flags model.TCPFlags, sec float64) *model.PacketInfo {
	return tcpPacket(hostB, hostA, portB, portA, flags, sec)
}

func keyAB(t *testing.T) ConnectionKey {
	t.Helper()
	key, ok := KeyOf(aToB(0, 0).FiveTuple)
	require.True(t, ok)
	return key
}

func TestTrack_ScenarioA_ResponderFinCloses(t *testing.T) {
	got := Track(slices.Values([]*model.PacketInfo{
		aToB(model.FlagSYN, 0),
		bToA(model.FlagSYN|model.FlagACK, 0.1),
		bToA(model.FlagFIN, 5.0),
	}))

	require.Len(t, got, 1)
	rec, ok := got[keyAB(t)]
	require.True(t, ok)
	assert.Equal(t, at(0), rec.StartTime)
	assert.Equal(t, at(5.0), rec.EndTime)
	assert.Equal(t, StateClosed, rec.State)
	d, ok := rec.Duration()
	assert.True(t, ok)
	assert.Equal(t, 5*time.Second, d)
}

func TestTrack_ScenarioB_InitiatorRstDoesNotClose(t *testing.T) {
	got := Track(slices.Values([]*model.PacketInfo{
		aToB(model.FlagSYN, 0),
		aToB(model.FlagRST, 2),
	}))

	require.Len(t, got, 1)
	rec := got[keyAB(t)]
	assert.Equal(t, StateOpen, rec.State)
	assert.True(t, rec.EndTime.IsZero())
	assert.False(t, rec.HasEnded())
}

func TestTrack_ScenarioC_RetransmittedSynKeepsFirstStart(t *testing.T) {
	got := Track(slices.Values([]*model.PacketInfo{
		aToB(model.FlagSYN, 0),
		aToB(model.FlagSYN, 0.05),
		bToA(model.FlagFIN, 10),
	}))

	require.Len(t, got, 1)
	rec := got[keyAB(t)]
	assert.Equal(t, at(0), rec.StartTime)
	assert.Equal(t, at(10), rec.EndTime)
	assert.Equal(t, StateClosed, rec.State)
}

func TestTrack_ScenarioD_EmptyInput(t *testing.T) {
	got := Track(slices.Values([]*model.PacketInfo{}))
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestTracker_ClosureIsIdempotent(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, EventOpened, tr.ProcessPacket(aToB(model.FlagSYN, 0)))
	assert.Equal(t, EventClosed, tr.ProcessPacket(bToA(model.FlagFIN|model.FlagACK, 3)))
	assert.Equal(t, EventNone, tr.ProcessPacket(bToA(model.FlagRST, 4)))
	assert.Equal(t, EventNone, tr.ProcessPacket(bToA(model.FlagFIN, 5)))

	rec, ok := tr.Lookup(keyAB(t))
	require.True(t, ok)
	assert.Equal(t, at(3), rec.EndTime)
	assert.Equal(t, StateClosed, rec.State)
	assert.Equal(t, uint64(1), tr.Stats().Closures)
	assert.Equal(t, uint64(2), tr.Stats().Unmatched)
}

func TestTracker_SynAckNeverCreatesOrMutates(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, EventNone, tr.ProcessPacket(bToA(model.FlagSYN|model.FlagACK, 0)))
	assert.Equal(t, 0, tr.Len())

	tr.ProcessPacket(aToB(model.FlagSYN, 1))
	before, _ := tr.Lookup(keyAB(t))
	tr.ProcessPacket(aToB(model.FlagSYN|model.FlagACK, 2))
	tr.ProcessPacket(bToA(model.FlagSYN|model.FlagACK, 3))
	after, _ := tr.Lookup(keyAB(t))

	assert.Equal(t, before, after)
	assert.Equal(t, 1, tr.Len())
	assert.Equal(t, uint64(3), tr.Stats().SynAcks)
}

func TestTracker_UnmatchedTerminationIsNoop(t *testing.T) {
	tr := NewTracker()
	tr.ProcessPacket(aToB(model.FlagSYN, 0))
	before := tr.Records()

	other := net.ParseIP("10.0.0.9").To4()
	assert.Equal(t, EventNone, tr.ProcessPacket(tcpPacket(other, hostA, 443, portA, model.FlagFIN, 1)))
	assert.Equal(t, EventNone, tr.ProcessPacket(tcpPacket(hostB, hostA, portB, portA+1, model.FlagRST, 2)))

	assert.Equal(t, before, tr.Records())
}

func TestTracker_NeverClosedStaysOpen(t *testing.T) {
	tr := NewTracker()
	tr.ProcessPacket(aToB(model.FlagSYN, 0))
	tr.ProcessPacket(aToB(model.FlagACK, 0.2))
	tr.ProcessPacket(bToA(model.FlagACK|model.FlagPSH, 0.3))

	rec, ok := tr.Lookup(keyAB(t))
	require.True(t, ok)
	assert.Equal(t, StateOpen, rec.State)
	assert.True(t, rec.EndTime.IsZero())
	_, ended := rec.Duration()
	assert.False(t, ended)
}

func TestTracker_SynDominatesFinAndRst(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, EventOpened, tr.ProcessPacket(aToB(model.FlagSYN|model.FlagFIN, 0)))
	// A responder SYN+RST takes the SYN branch and opens its own entry instead of closing A->B.
	assert.Equal(t, EventOpened, tr.ProcessPacket(bToA(model.FlagSYN|model.FlagRST, 1)))

	rec, _ := tr.Lookup(keyAB(t))
	assert.Equal(t, StateOpen, rec.State)
	assert.Equal(t, 2, tr.Len())
	assert.Equal(t, uint64(0), tr.Stats().Terminations)
}

func TestTracker_SkipsPacketsWithoutTCP(t *testing.T) {
	tr := NewTracker()
	udp := &model.PacketInfo{
		Timestamp: at(0),
		FiveTuple: model.FiveTuple{SrcIP: hostA, DstIP: hostB, SrcPort: 53, DstPort: 53, Protocol: model.ProtocolUDP},
	}
	noAddr := tcpPacket(nil, nil, portA, portB, model.FlagSYN, 0)
	noHeader := aToB(model.FlagSYN, 0)
	noHeader.TCP = nil

	for _, p := range []*model.PacketInfo{udp, noAddr, noHeader, nil} {
		assert.Equal(t, EventNone, tr.ProcessPacket(p))
	}
	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, uint64(4), tr.Stats().Skipped)
}

func TestTracker_OutOfOrderTimestampsAccepted(t *testing.T) {
	tr := NewTracker()
	tr.ProcessPacket(aToB(model.FlagSYN, 10))
	tr.ProcessPacket(bToA(model.FlagFIN, 4))

	rec, _ := tr.Lookup(keyAB(t))
	assert.Equal(t, StateClosed, rec.State)
	d, ok := rec.Duration()
	assert.True(t, ok)
	assert.Equal(t, -6*time.Second, d)
}

func TestTracker_ConnectionsInFirstSeenOrder(t *testing.T) {
	tr := NewTracker()
	hostC := net.ParseIP("10.0.0.3").To4()
	tr.ProcessPacket(tcpPacket(hostC, hostB, 5000, portB, model.FlagSYN, 0))
	tr.ProcessPacket(aToB(model.FlagSYN, 1))
	tr.ProcessPacket(tcpPacket(hostC, hostB, 5000, portB, model.FlagSYN, 2))

	conns := tr.Connections()
	require.Len(t, conns, 2)
	assert.Equal(t, "10.0.0.3:5000->10.0.0.2:80", conns[0].Key.String())
	assert.Equal(t, "10.0.0.1:40000->10.0.0.2:80", conns[1].Key.String())
}

func TestTracker_IPv4MappedAddressesMatchPlainIPv4(t *testing.T) {
	tr := NewTracker()
	tr.ProcessPacket(tcpPacket(hostA.To16(), hostB.To16(), portA, portB, model.FlagSYN, 0))
	tr.ProcessPacket(bToA(model.FlagRST, 1))

	rec, ok := tr.Lookup(keyAB(t))
	require.True(t, ok)
	assert.Equal(t, StateClosed, rec.State)
}

func TestTracker_ClosedAtZeroTimestamp(t *testing.T) {
	syn := aToB(model.FlagSYN, 0)
	syn.Timestamp = time.Time{}
	fin := bToA(model.FlagFIN|model.FlagACK, 0)
	fin.Timestamp = time.Time{}

	tr := NewTracker()
	assert.Equal(t, EventOpened, tr.ProcessPacket(syn))
	assert.Equal(t, EventClosed, tr.ProcessPacket(fin))

	rec, ok := tr.Lookup(tr.Connections()[0].Key)
	require.True(t, ok)
	assert.Equal(t, StateClosed, rec.State)
	assert.True(t, rec.HasEnded())
	d, ok := rec.Duration()
	assert.True(t, ok)
	assert.Equal(t, time.Duration(0), d)
}

func TestConnection_MarshalJSON(t *testing.T) {
	closed := Connection{
		Key:    keyAB(t),
		Record: ConnectionRecord{StartTime: at(0), EndTime: at(2.5), State: StateClosed},
	}
	data, err := json.Marshal(closed)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "10.0.0.1:40000", out["src"])
	assert.Equal(t, "10.0.0.2:80", out["dst"])
	assert.Equal(t, "closed", out["state"])
	assert.InDelta(t, 2.5, out["duration_seconds"], 1e-9)

	open := Connection{Key: keyAB(t), Record: ConnectionRecord{StartTime: at(0), State: StateOpen}}
	data, err = json.Marshal(open)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "end_time")
}
