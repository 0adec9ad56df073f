package monitor

import (
	"TCPScope/internal/config"
	"TCPScope/internal/engine/lifecycle"
	"TCPScope/internal/engine/writer"
	"TCPScope/internal/model"
	"TCPScope/internal/probe"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func packet(offset time.Duration, src string, sport uint16, dst string, dport uint16, flags model.TCPFlags) *model.PacketInfo {
	return &model.PacketInfo{
		Timestamp: base.Add(offset),
		FiveTuple: model.FiveTuple{
			SrcIP: net.ParseIP(src), DstIP: net.ParseIP(dst),
			SrcPort: sport, DstPort: dport, Protocol: model.ProtocolTCP,
		},
		Length: 60,
		TCP:    &model.TCPInfo{Flags: flags},
	}
}

// handshakeAndClose opens two connections and closes one from the server.
func handshakeAndClose() []*model.PacketInfo {
	return []*model.PacketInfo{
		packet(0, "10.0.0.1", 40000, "10.0.0.2", 80, model.FlagSYN),
		packet(time.Millisecond, "10.0.0.2", 80, "10.0.0.1", 40000, model.FlagSYN|model.FlagACK),
		packet(2*time.Millisecond, "10.0.0.1", 40000, "10.0.0.2", 80, model.FlagACK),
		packet(time.Second, "10.0.0.3", 40001, "10.0.0.2", 80, model.FlagSYN),
		packet(2*time.Second, "10.0.0.2", 80, "10.0.0.1", 40000, model.FlagFIN|model.FlagACK),
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []probe.LifecycleEvent
	err    error
}

func (s *recordingSink) Publish(ev probe.LifecycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

type fakeNotifier struct {
	mu       sync.Mutex
	subjects []string
}

func (f *fakeNotifier) Send(subject, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	return nil
}

type failingWriter struct{}

func (failingWriter) Write(interface{}, string) error { return errors.New("disk full") }
func (failingWriter) GetInterval() time.Duration      { return time.Hour }

func testConfig(root string) *config.Config {
	cfg := config.Default()
	cfg.Capture.SizeOfPacketChannel = 16
	cfg.Writers = []config.WriterDef{{
		Type: "gob", Enabled: true, SnapshotInterval: "1h",
		Gob: config.GobWriterConfig{RootPath: root},
	}}
	return cfg
}

func TestMonitor_TracksAndWritesFinalSnapshot(t *testing.T) {
	root := t.TempDir()
	sink := &recordingSink{}
	m, err := NewMonitor(testConfig(root), WithEventSink(sink))
	require.NoError(t, err)

	m.Start()
	for _, p := range handshakeAndClose() {
		m.Input() <- p
	}
	m.Stop()

	snap := m.Snapshot()
	require.Len(t, snap.Connections, 2)
	first := snap.Connections[0]
	assert.Equal(t, lifecycle.StateClosed, first.Record.State)
	assert.True(t, first.Record.EndTime.Equal(base.Add(2*time.Second)))
	assert.Equal(t, lifecycle.StateOpen, snap.Connections[1].Record.State)
	assert.Equal(t, uint64(5), snap.Stats.Packets)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	conns, err := writer.ReadGobSnapshot(filepath.Join(root, entries[0].Name()))
	require.NoError(t, err)
	assert.Len(t, conns, 2)

	require.Len(t, sink.events, 3)
	assert.Equal(t, lifecycle.EventOpened, sink.events[0].Kind)
	assert.Equal(t, lifecycle.EventOpened, sink.events[1].Kind)
	closed := sink.events[2]
	assert.Equal(t, lifecycle.EventClosed, closed.Kind)
	assert.Equal(t, "10.0.0.1:40000->10.0.0.2:80", closed.Key.String())
	assert.True(t, closed.StartTime.Equal(base))
	assert.True(t, closed.Timestamp.Equal(base.Add(2*time.Second)))
}

func TestMonitor_AlertsOnStop(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Alerter = config.AlerterConfig{
		Enabled:       true,
		CheckInterval: "1h",
		Rules: []config.AlerterRule{
			{Name: "open", Metric: "open_connections", Operator: ">=", Threshold: 1},
		},
	}
	notifier := &fakeNotifier{}
	m, err := NewMonitor(cfg, WithNotifier(notifier))
	require.NoError(t, err)

	m.Start()
	for _, p := range handshakeAndClose() {
		m.Input() <- p
	}
	m.Stop()

	assert.Equal(t, []string{"TCPScope Alert Summary (1 Triggered)"}, notifier.subjects)
}

func TestMonitor_SinkAndWriterErrorsAreNotFatal(t *testing.T) {
	sink := &recordingSink{err: errors.New("nats down")}
	m, err := NewMonitor(testConfig(t.TempDir()), WithEventSink(sink), WithWriters(failingWriter{}))
	require.NoError(t, err)

	m.Start()
	for _, p := range handshakeAndClose() {
		m.Input() <- p
	}
	m.Stop()

	assert.Len(t, sink.events, 3)
	assert.Equal(t, 2, len(m.Snapshot().Connections))
}

func TestNewMonitor_UnknownWriter(t *testing.T) {
	cfg := config.Default()
	cfg.Writers = []config.WriterDef{{Type: "tape", Enabled: true}}
	_, err := NewMonitor(cfg)
	assert.ErrorContains(t, err, "unknown writer type")
}

func TestWriterName(t *testing.T) {
	assert.Equal(t, "gob", writerName(writer.NewGobWriter("x", time.Second)))
	assert.Equal(t, "failing", writerName(failingWriter{}))
}
