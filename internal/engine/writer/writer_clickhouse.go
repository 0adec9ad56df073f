package writer

import (
	"TCPScope/internal/config"
	"TCPScope/internal/engine/lifecycle"
	"TCPScope/internal/model"
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS connection_lifecycle (
    Timestamp       DateTime,
    RunID           UUID,
    SrcAddr         String,
    DstAddr         String,
    SrcPort         UInt16,
    DstPort         UInt16,
    State           LowCardinality(String),
    StartTime       DateTime64(6),
    EndTime         Nullable(DateTime64(6)),
    DurationSeconds Nullable(Float64)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (RunID, Timestamp, StartTime);
`

// ClickHouseWriter inserts tracker snapshots into ClickHouse.
type ClickHouseWriter struct {
	conn     driver.Conn
	interval time.Duration
	runID    uuid.UUID
}

// NewClickHouseWriter connects, ensures the table exists and tags every row
// written by this process with a fresh run ID.
func NewClickHouseWriter(cfg config.ClickHouseConfig, interval time.Duration) (model.Writer, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := ensureTable(context.Background(), conn); err != nil {
		return nil, err
	}

	w := &ClickHouseWriter{conn: conn, interval: interval, runID: uuid.New()}
	log.Printf("Connected to ClickHouse, writing run %s", w.runID)
	return w, nil
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *ClickHouseWriter) GetInterval() time.Duration {
	return w.interval
}

// RunID identifies the rows written by this writer.
func (w *ClickHouseWriter) RunID() uuid.UUID {
	return w.runID
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// Write inserts one row per connection of a lifecycle.Snapshot.
func (w *ClickHouseWriter) Write(payload interface{}, timestamp string) error {
	snapshot, ok := payload.(lifecycle.Snapshot)
	if !ok {
		return fmt.Errorf("invalid payload type for ClickHouse Writer: expected lifecycle.Snapshot, got %T", payload)
	}
	if len(snapshot.Connections) == 0 {
		return nil
	}

	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO connection_lifecycle")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	snapshotTime, err := time.ParseInLocation(TimestampLayout, timestamp, time.Local)
	if err != nil {
		snapshotTime = snapshot.TakenAt
	}

	if err := appendConnections(batch, snapshotTime, w.runID, snapshot.Connections); err != nil {
		return err
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.Debugf("Wrote %d connections to ClickHouse for run %s", len(snapshot.Connections), w.runID)
	return nil
}

// tableConn is the part of driver.Conn needed to create the table.
type tableConn interface {
	Exec(ctx context.Context, query string, args ...any) error
	Close() error
}

// ensureTable creates the table, closing conn when that fails.
func ensureTable(ctx context.Context, conn tableConn) error {
	if err := conn.Exec(ctx, createTableStatement); err != nil {
		conn.Close()
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// rowBatch is the part of driver.Batch used to stage rows.
type rowBatch interface {
	Append(v ...any) error
	Abort() error
}

// appendConnections stages one row per connection and aborts the batch on
// the first failure.
func appendConnections(batch rowBatch, snapshotTime time.Time, runID uuid.UUID, conns []lifecycle.Connection) error {
	for _, c := range conns {
		row := rowOf(c)
		if err := batch.Append(
			snapshotTime,
			runID,
			row.SrcAddr,
			row.DstAddr,
			row.SrcPort,
			row.DstPort,
			row.State,
			row.StartTime,
			row.EndTime,
			row.DurationSeconds,
		); err != nil {
			if abortErr := batch.Abort(); abortErr != nil {
				log.Warnf("Failed to abort ClickHouse batch: %v", abortErr)
			}
			return fmt.Errorf("failed to append connection to batch: %w", err)
		}
	}
	return nil
}

// connectionRow is the column mapping of one connection.
type connectionRow struct {
	SrcAddr         string
	DstAddr         string
	SrcPort         uint16
	DstPort         uint16
	State           string
	StartTime       time.Time
	EndTime         *time.Time
	DurationSeconds *float64
}

func rowOf(c lifecycle.Connection) connectionRow {
	row := connectionRow{
		SrcAddr:   c.Key.SrcAddr.String(),
		DstAddr:   c.Key.DstAddr.String(),
		SrcPort:   c.Key.SrcPort,
		DstPort:   c.Key.DstPort,
		State:     c.Record.State.String(),
		StartTime: c.Record.StartTime,
	}
	if d, ok := c.Record.Duration(); ok {
		end := c.Record.EndTime
		secs := d.Seconds()
		row.EndTime = &end
		row.DurationSeconds = &secs
	}
	return row
}
