package writer

import (
	"TCPScope/internal/engine/lifecycle"
	"TCPScope/internal/model"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	connectionsFile = "connections.dat"
	summaryFile     = "summary.json"
)

// SummaryData holds the metadata written next to each gob snapshot.
type SummaryData struct {
	TotalConnections  int    `json:"total_connections"`
	OpenConnections   int    `json:"open_connections"`
	ClosedConnections int    `json:"closed_connections"`
	Packets           uint64 `json:"packets"`
	TakenAt           string `json:"taken_at"`
	Timestamp         string `json:"timestamp"`
}

// GobWriter writes tracker snapshots to disk in gob format.
type GobWriter struct {
	rootPath string
	interval time.Duration
}

// NewGobWriter creates a new writer rooted at rootPath.
func NewGobWriter(rootPath string, interval time.Duration) model.Writer {
	return &GobWriter{rootPath: rootPath, interval: interval}
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *GobWriter) GetInterval() time.Duration {
	return w.interval
}

// Write stores a lifecycle.Snapshot under <root>/<timestamp>.
func (w *GobWriter) Write(payload interface{}, timestamp string) error {
	snapshot, ok := payload.(lifecycle.Snapshot)
	if !ok {
		return fmt.Errorf("invalid payload type for GobWriter: expected lifecycle.Snapshot, got %T", payload)
	}
	if len(snapshot.Connections) == 0 {
		return nil
	}

	snapshotDir := filepath.Join(w.rootPath, timestamp)
	if err := os.MkdirAll(snapshotDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	dataPath := filepath.Join(snapshotDir, connectionsFile)
	file, err := os.Create(dataPath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file '%s': %w", dataPath, err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(snapshot.Connections); err != nil {
		return fmt.Errorf("failed to encode connections to gob for file '%s': %w", dataPath, err)
	}

	summary := SummaryData{
		TotalConnections: len(snapshot.Connections),
		Packets:          snapshot.Stats.Packets,
		TakenAt:          snapshot.TakenAt.UTC().Format(time.RFC3339Nano),
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
	}
	for _, c := range snapshot.Connections {
		if c.Record.State == lifecycle.StateOpen {
			summary.OpenConnections++
		} else {
			summary.ClosedConnections++
		}
	}

	summaryPath := filepath.Join(snapshotDir, summaryFile)
	sf, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer sf.Close()

	jsonEncoder := json.NewEncoder(sf)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}
	return nil
}

// ReadGobSnapshot loads the connections stored in a snapshot directory.
func ReadGobSnapshot(snapshotDir string) ([]lifecycle.Connection, error) {
	file, err := os.Open(filepath.Join(snapshotDir, connectionsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer file.Close()

	var conns []lifecycle.Connection
	if err := gob.NewDecoder(file).Decode(&conns); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return conns, nil
}

// ReadSummary loads the summary.json of a snapshot directory.
func ReadSummary(snapshotDir string) (*SummaryData, error) {
	data, err := os.ReadFile(filepath.Join(snapshotDir, summaryFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read summary: %w", err)
	}
	var s SummaryData
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse summary: %w", err)
	}
	return &s, nil
}
