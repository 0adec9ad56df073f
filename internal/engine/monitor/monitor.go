// Package monitor runs the lifecycle tracker over a live packet stream and
// feeds snapshots to writers, metrics, event sinks and the alerter.
package monitor

import (
	"TCPScope/internal/alerter"
	"TCPScope/internal/config"
	"TCPScope/internal/engine/lifecycle"
	"TCPScope/internal/engine/writer"
	"TCPScope/internal/factory"
	"TCPScope/internal/metrics"
	"TCPScope/internal/model"
	"TCPScope/internal/notification"
	"TCPScope/internal/probe"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// EventSink receives every connection transition.
type EventSink interface {
	Publish(ev probe.LifecycleEvent) error
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithEventSink publishes transitions to sink instead of the configured
// NATS publisher.
func WithEventSink(sink EventSink) Option {
	return func(m *Monitor) { m.sink = sink }
}

// WithNotifier replaces the notifier used by the alerter.
func WithNotifier(n model.Notifier) Option {
	return func(m *Monitor) { m.notifier = n }
}

// WithWriters replaces the writers built from the config.
func WithWriters(writers ...model.Writer) Option {
	return func(m *Monitor) { m.writers = writers }
}

// Monitor owns one tracker fed by a single worker.
type Monitor struct {
	mu      sync.RWMutex
	tracker *lifecycle.Tracker

	writers  []model.Writer
	metrics  *metrics.Metrics
	sink     EventSink
	notifier model.Notifier
	alerter  *alerter.Alerter
	closers  []func()

	packetChannel chan *model.PacketInfo
	workerWg      sync.WaitGroup

	done          chan struct{}
	snapshotterWg sync.WaitGroup
}

// NewMonitor creates a Monitor from the config.
func NewMonitor(cfg *config.Config, opts ...Option) (*Monitor, error) {
	m := &Monitor{
		tracker:       lifecycle.NewTracker(),
		metrics:       metrics.New(),
		packetChannel: make(chan *model.PacketInfo, max(cfg.Capture.SizeOfPacketChannel, 1)),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.writers == nil {
		writers, err := factory.CreateWriters(cfg)
		if err != nil {
			return nil, err
		}
		m.writers = writers
	}

	if m.sink == nil && cfg.NATS.Enabled {
		pub, err := probe.NewPublisher(cfg.NATS)
		if err != nil {
			return nil, fmt.Errorf("failed to create event publisher: %w", err)
		}
		m.sink = pub
		m.closers = append(m.closers, pub.Close)
	}

	if cfg.Alerter.Enabled {
		if m.notifier == nil {
			m.notifier = notification.New(cfg.SMTP)
		}
		a, err := alerter.NewAlerter(&cfg.Alerter, m, m.notifier)
		if err != nil {
			return nil, fmt.Errorf("failed to create alerter: %w", err)
		}
		m.alerter = a
		log.Println("Alerter enabled and initialized.")
	}

	return m, nil
}

// Start launches the worker, one snapshotter per writer and the alerter.
func (m *Monitor) Start() {
	for _, w := range m.writers {
		m.snapshotterWg.Add(1)
		go m.runSnapshotter(w)
		log.Printf("Started snapshotter for %s with interval %s.", writerName(w), w.GetInterval())
	}

	if m.alerter != nil {
		m.alerter.Start()
	}

	m.workerWg.Add(1)
	go m.worker()
	log.Println("Monitor started.")
}

// Input returns the channel packets are fed through.
func (m *Monitor) Input() chan<- *model.PacketInfo {
	return m.packetChannel
}

// Metrics returns the Prometheus collectors of this monitor.
func (m *Monitor) Metrics() *metrics.Metrics {
	return m.metrics
}

// Snapshot copies the current connection table.
func (m *Monitor) Snapshot() lifecycle.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tracker.Snapshot(time.Now())
}

// Stop drains queued packets, writes a final snapshot to every writer and
// stops the alerter and event sink.
func (m *Monitor) Stop() {
	log.Println("Monitor stopping...")
	close(m.packetChannel)

	log.Println("Waiting for worker to finish...")
	m.workerWg.Wait()

	close(m.done)
	log.Println("Waiting for snapshotters to finish...")
	m.snapshotterWg.Wait()

	if m.alerter != nil {
		m.alerter.Stop()
	}
	for _, c := range m.closers {
		c()
	}

	snap := m.Snapshot()
	log.WithFields(log.Fields{
		"packets":     snap.Stats.Packets,
		"connections": len(snap.Connections),
		"closures":    snap.Stats.Closures,
	}).Info("Monitor stopped.")
}

func (m *Monitor) worker() {
	defer m.workerWg.Done()
	for p := range m.packetChannel {
		m.process(p)
	}
}

func (m *Monitor) process(p *model.PacketInfo) {
	m.mu.Lock()
	ev := m.tracker.ProcessPacket(p)
	var out probe.LifecycleEvent
	if ev != lifecycle.EventNone {
		out = m.transition(ev, p)
	}
	tracked := m.tracker.Len()
	m.mu.Unlock()

	m.metrics.ObservePacket(ev, tracked)
	if ev == lifecycle.EventNone || m.sink == nil {
		return
	}
	if err := m.sink.Publish(out); err != nil {
		log.Warnf("Failed to publish %s event for %s: %v", out.Kind, out.Key, err)
	}
}

// transition describes ev in terms of the stored connection. Must hold mu.
func (m *Monitor) transition(ev lifecycle.Event, p *model.PacketInfo) probe.LifecycleEvent {
	key, _ := lifecycle.KeyOf(p.FiveTuple)
	if ev == lifecycle.EventClosed {
		key = key.Reverse()
	}
	rec, _ := m.tracker.Lookup(key)
	return probe.LifecycleEvent{Kind: ev, Key: key, Timestamp: p.Timestamp, StartTime: rec.StartTime}
}

// runSnapshotter runs a dedicated snapshot loop for a single writer.
func (m *Monitor) runSnapshotter(w model.Writer) {
	defer m.snapshotterWg.Done()
	interval := w.GetInterval()
	if interval <= 0 {
		log.Warnf("Invalid interval %s for %s, only the final snapshot will be written.", interval, writerName(w))
		<-m.done
		m.writeSnapshot(w)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.writeSnapshot(w)
		case <-m.done:
			m.writeSnapshot(w)
			return
		}
	}
}

func (m *Monitor) writeSnapshot(w model.Writer) {
	snap := m.Snapshot()
	timestamp := snap.TakenAt.Format(writer.TimestampLayout)
	if err := w.Write(snap, timestamp); err != nil {
		m.metrics.WriteFailed(writerName(w))
		log.Errorf("Error writing snapshot to %s: %v", writerName(w), err)
		return
	}
	log.Debugf("Wrote snapshot of %d connections to %s at %s.", len(snap.Connections), writerName(w), timestamp)
}

// writerName turns *writer.GobWriter into "gob".
func writerName(w model.Writer) string {
	name := fmt.Sprintf("%T", w)
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return strings.ToLower(strings.TrimSuffix(name, "Writer"))
}
