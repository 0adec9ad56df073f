// Package query reads the connection snapshots stored by the clickhouse
// writer back out of ClickHouse.
package query

import (
	"TCPScope/internal/config"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
)

// RunsRequest selects the runs to summarize. Zero fields do not filter.
type RunsRequest struct {
	End   time.Time
	RunID string
}

// RunSummary describes the latest known state of every connection in a run.
type RunSummary struct {
	RunID        uuid.UUID `json:"run_id"`
	LastSnapshot time.Time `json:"last_snapshot"`
	Connections  uint64    `json:"connections"`
	Open         uint64    `json:"open"`
	Closed       uint64    `json:"closed"`
	MeanDuration float64   `json:"mean_duration_seconds"`
}

// TraceRequest selects connections of one run. Filters keys are column
// names: SrcAddr, DstAddr, SrcPort, DstPort or State.
type TraceRequest struct {
	RunID   string
	Filters map[string]string
	End     time.Time
	Limit   int
}

// ConnectionTrace is the history of one connection across snapshots.
type ConnectionTrace struct {
	SrcAddr         string     `json:"src_addr"`
	DstAddr         string     `json:"dst_addr"`
	SrcPort         uint16     `json:"src_port"`
	DstPort         uint16     `json:"dst_port"`
	State           string     `json:"state"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	FirstSnapshot   time.Time  `json:"first_snapshot"`
	LastSnapshot    time.Time  `json:"last_snapshot"`
}

// Querier defines the interface for querying stored lifecycles.
type Querier interface {
	Runs(ctx context.Context, req RunsRequest) ([]RunSummary, error)
	TraceConnections(ctx context.Context, req TraceRequest) ([]ConnectionTrace, error)
	Close() error
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn driver.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn}, nil
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
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

func (q *clickhouseQuerier) Close() error {
	return q.conn.Close()
}

// buildRunsQuery reduces every connection to its latest snapshot row and
// aggregates per run.
func buildRunsQuery(req RunsRequest) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT
			RunID,
			max(LastSnapshot) AS LastSnapshot,
			count() AS Connections,
			countIf(LatestState = 'open') AS Open,
			countIf(LatestState = 'closed') AS Closed,
			ifNull(avgIf(LatestDuration, LatestState = 'closed'), 0) AS MeanDuration
		FROM (
			SELECT
				RunID,
				max(Timestamp) AS LastSnapshot,
				argMax(State, Timestamp) AS LatestState,
				argMax(DurationSeconds, Timestamp) AS LatestDuration
			FROM connection_lifecycle
	`)

	var where []string
	var args []any
	if !req.End.IsZero() {
		where = append(where, "Timestamp <= ?")
		args = append(args, req.End)
	}
	if req.RunID != "" {
		id, err := uuid.Parse(req.RunID)
		if err != nil {
			return "", nil, fmt.Errorf("invalid run id '%s': %w", req.RunID, err)
		}
		where = append(where, "RunID = ?")
		args = append(args, id)
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}

	sb.WriteString(`
			GROUP BY RunID, SrcAddr, DstAddr, SrcPort, DstPort
		)
		GROUP BY RunID
		ORDER BY LastSnapshot DESC
	`)
	return sb.String(), args, nil
}

// Runs summarizes the stored runs, most recent first.
func (q *clickhouseQuerier) Runs(ctx context.Context, req RunsRequest) ([]RunSummary, error) {
	query, args, err := buildRunsQuery(req)
	if err != nil {
		return nil, err
	}

	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.LastSnapshot, &r.Connections, &r.Open, &r.Closed, &r.MeanDuration); err != nil {
			return nil, fmt.Errorf("failed to scan run summary: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// buildTraceQuery selects the connections of one run that match every filter.
func buildTraceQuery(req TraceRequest) (string, []any, error) {
	if req.RunID == "" {
		return "", nil, fmt.Errorf("run id is required")
	}
	id, err := uuid.Parse(req.RunID)
	if err != nil {
		return "", nil, fmt.Errorf("invalid run id '%s': %w", req.RunID, err)
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT
			SrcAddr,
			DstAddr,
			SrcPort,
			DstPort,
			argMax(State, Timestamp) AS LatestState,
			min(StartTime) AS FirstStart,
			argMax(EndTime, Timestamp) AS LatestEnd,
			argMax(DurationSeconds, Timestamp) AS LatestDuration,
			min(Timestamp) AS FirstSnapshot,
			max(Timestamp) AS LastSnapshot
		FROM connection_lifecycle
	`)

	where := []string{"RunID = ?"}
	args := []any{id}

	keys := make([]string, 0, len(req.Filters))
	for k := range req.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var having []string
	var havingArgs []any
	for _, key := range keys {
		value := req.Filters[key]
		switch key {
		case "SrcAddr", "DstAddr":
			where = append(where, key+" = ?")
			args = append(args, value)
		case "SrcPort", "DstPort":
			port, err := strconv.ParseUint(value, 10, 16)
			if err != nil {
				return "", nil, fmt.Errorf("invalid %s '%s': %w", key, value, err)
			}
			where = append(where, key+" = ?")
			args = append(args, uint16(port))
		case "State":
			if value != "open" && value != "closed" {
				return "", nil, fmt.Errorf("invalid State '%s', must be 'open' or 'closed'", value)
			}
			having = append(having, "LatestState = ?")
			havingArgs = append(havingArgs, value)
		default:
			return "", nil, fmt.Errorf("unsupported connection key: %s, only SrcAddr, DstAddr, SrcPort, DstPort, State are allowed", key)
		}
	}
	if !req.End.IsZero() {
		where = append(where, "Timestamp <= ?")
		args = append(args, req.End)
	}

	sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	sb.WriteString(" GROUP BY SrcAddr, DstAddr, SrcPort, DstPort")
	if len(having) > 0 {
		sb.WriteString(" HAVING " + strings.Join(having, " AND "))
		args = append(args, havingArgs...)
	}
	sb.WriteString(" ORDER BY FirstStart")
	if req.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, req.Limit)
	}
	return sb.String(), args, nil
}

// TraceConnections returns the latest state of the matching connections,
// ordered by start time.
func (q *clickhouseQuerier) TraceConnections(ctx context.Context, req TraceRequest) ([]ConnectionTrace, error) {
	query, args, err := buildTraceQuery(req)
	if err != nil {
		return nil, err
	}

	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var traces []ConnectionTrace
	for rows.Next() {
		var t ConnectionTrace
		if err := rows.Scan(&t.SrcAddr, &t.DstAddr, &t.SrcPort, &t.DstPort, &t.State,
			&t.StartTime, &t.EndTime, &t.DurationSeconds, &t.FirstSnapshot, &t.LastSnapshot); err != nil {
			return nil, fmt.Errorf("failed to scan connection trace: %w", err)
		}
		traces = append(traces, t)
	}
	return traces, rows.Err()
}

// ParseFilters parses "Key=value,Key=value" into trace filters.
func ParseFilters(s string) (map[string]string, error) {
	filters := make(map[string]string)
	if strings.TrimSpace(s) == "" {
		return filters, nil
	}
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("invalid filter '%s', expected Key=value", pair)
		}
		filters[k] = v
	}
	return filters, nil
}
