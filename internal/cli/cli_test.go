package cli

import (
	"TCPScope/internal/query"
	"TCPScope/internal/synth"
	"TCPScope/pkg/pcap"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenario writes a short flood capture and returns its path and
// frame count.
func writeScenario(t *testing.T) (string, int) {
	t.Helper()
	s := synth.DefaultFloodScenario()
	s.Span = 10 * time.Second
	s.LegitInterval = time.Second
	s.FloodStart = 2 * time.Second
	s.FloodEnd = 6 * time.Second
	s.FloodRate = 10

	path := filepath.Join(t.TempDir(), "flood.pcap")
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()

	w, err := synth.NewWriter(file)
	require.NoError(t, err)
	require.NoError(t, w.WriteSegments(s.Segments()))
	return path, w.Count()
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLifecycleCommand(t *testing.T) {
	capture, _ := writeScenario(t)
	dir := t.TempDir()
	report := filepath.Join(dir, "report.json")
	plot := filepath.Join(dir, "durations.png")

	out, err := run(t, "lifecycle", capture, "--json", report, "--plot", plot, "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "Connections: 50 (")
	assert.Contains(t, out, "Plot saved to "+plot)
	assert.Contains(t, out, "SOURCE")

	info, err := os.Stat(plot)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	var decoded struct {
		Connections []json.RawMessage `json:"connections"`
		Analysis    struct {
			Summary struct {
				Connections int `json:"connections"`
				Closed      int `json:"closed"`
				Open        int `json:"open"`
			} `json:"summary"`
		} `json:"analysis"`
		Phases []json.RawMessage `json:"phases"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded.Connections, 50)
	sum := decoded.Analysis.Summary
	assert.Equal(t, 50, sum.Connections)
	assert.Equal(t, sum.Connections, sum.Closed+sum.Open)
	assert.GreaterOrEqual(t, sum.Open, 40)
	assert.NotEmpty(t, decoded.Phases)
}

func TestLifecycleCommand_NoPlot(t *testing.T) {
	capture, _ := writeScenario(t)
	out, err := run(t, "lifecycle", capture, "--no-plot", "--sentinel", "50s")
	require.NoError(t, err)
	assert.NotContains(t, out, "Plot saved")
	assert.Contains(t, out, "Open connections plotted at 50s")
}

func TestLifecycleCommand_EmptyCapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.pcap")
	file, err := os.Create(path)
	require.NoError(t, err)
	_, err = synth.NewWriter(file)
	require.NoError(t, err)
	require.NoError(t, file.Close())

	_, err = run(t, "lifecycle", path, "--no-plot")
	assert.ErrorIs(t, err, pcap.ErrEmptyCapture)

	_, err = run(t, "lifecycle", filepath.Join(t.TempDir(), "missing.pcap"), "--no-plot")
	assert.ErrorIs(t, err, pcap.ErrEmptyCapture)
}

func TestLifecycleCommand_NonIPCapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arp.pcap")
	file, err := os.Create(path)
	require.NoError(t, err)
	w, err := synth.NewWriter(file)
	require.NoError(t, err)
	arp, err := synth.ARPFrame()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.WriteFrame(time.Unix(1700000000+int64(i), 0), arp))
	}
	require.NoError(t, file.Close())

	out, err := run(t, "lifecycle", path, "--no-plot")
	require.NoError(t, err)
	assert.Contains(t, out, "Frames: 3 (3 non-IP)")
	assert.Contains(t, out, "Connections: 0 (")
	assert.Contains(t, out, "No TCP connections found.")
}

func TestCapStatsCommand(t *testing.T) {
	capture, frames := writeScenario(t)
	report := filepath.Join(t.TempDir(), "capstats.json")

	out, err := run(t, "capstats", capture, "--interval", "2s", "--json", report)
	require.NoError(t, err)
	assert.Contains(t, out, "Goodput (data packets / TCP packets)")
	assert.Contains(t, out, "Packet loss rate")
	assert.Contains(t, out, "Maximum packet size achieved")

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	var decoded struct {
		Frames      uint64            `json:"frames"`
		TCPPackets  uint64            `json:"tcp_packets"`
		DataPackets uint64            `json:"data_packets"`
		Intervals   []json.RawMessage `json:"intervals"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, uint64(frames), decoded.Frames)
	assert.Equal(t, uint64(frames), decoded.TCPPackets)
	// one request per legitimate connection
	assert.Equal(t, uint64(10), decoded.DataPackets)
	assert.NotEmpty(t, decoded.Intervals)
}

func TestExplicitConfigMustExist(t *testing.T) {
	capture, _ := writeScenario(t)
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "lifecycle", capture, "--no-plot")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfigFileIsApplied(t *testing.T) {
	capture, _ := writeScenario(t)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("lifecycle:\n  open_sentinel: 75s\n"), 0o644))

	out, err := run(t, "--config", cfgPath, "lifecycle", capture, "--no-plot")
	require.NoError(t, err)
	assert.Contains(t, out, "Open connections plotted at 75s")
}

func TestNagleConfigOverlay(t *testing.T) {
	a := &app{}
	var client *cobra.Command
	for _, c := range newNagleCommand(a).Commands() {
		if c.Name() == "client" {
			client = c
		}
	}
	require.NotNil(t, client)

	a.configPath = filepath.Join(t.TempDir(), "missing.yaml")
	require.NoError(t, a.setup(client, nil))
	require.NoError(t, client.ParseFlags([]string{"--port", "9000", "--chunk-size", "100", "--interval", "250ms"}))

	f := &nagleFlags{port: 9000, chunkSize: 100, interval: 250 * time.Millisecond}
	n := a.nagleConfig(client, f)
	assert.Equal(t, 9000, n.Port)
	assert.Equal(t, 100, n.ChunkSize)
	assert.Equal(t, "250ms", n.Interval)
	assert.Equal(t, a.cfg.Nagle.DataSize, n.DataSize)
	assert.Equal(t, a.cfg.Nagle.Host, n.Host)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Server Test", label("", "Server Test"))
	assert.Equal(t, "run-1", label("run-1", "Server Test"))
}

func TestQueryCommand_RejectsBadInput(t *testing.T) {
	_, err := run(t, "query", "runs", "--end", "yesterday")
	assert.ErrorContains(t, err, "invalid end time")

	_, err = run(t, "query", "trace", "6f1c2a7e-3b1d-4c55-9d0e-2f8a1b7c9e01", "--key", "DstPort")
	assert.ErrorContains(t, err, "invalid filter")
}

func TestPrintQueryResults(t *testing.T) {
	var buf bytes.Buffer
	printRuns(&buf, nil)
	assert.Equal(t, "No runs found.\n", buf.String())

	buf.Reset()
	printRuns(&buf, []query.RunSummary{{
		RunID:        uuid.MustParse("6f1c2a7e-3b1d-4c55-9d0e-2f8a1b7c9e01"),
		LastSnapshot: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Connections:  3, Open: 1, Closed: 2, MeanDuration: 1.5,
	}})
	assert.Contains(t, buf.String(), "6f1c2a7e-3b1d-4c55-9d0e-2f8a1b7c9e01")
	assert.Contains(t, buf.String(), "1.500s")

	buf.Reset()
	secs := 2.0
	printTraces(&buf, []query.ConnectionTrace{
		{SrcAddr: "10.0.0.1", SrcPort: 40000, DstAddr: "10.0.0.2", DstPort: 80, State: "closed", DurationSeconds: &secs},
		{SrcAddr: "192.168.1.7", SrcPort: 5000, DstAddr: "10.0.0.2", DstPort: 80, State: "open"},
	})
	out := buf.String()
	assert.Contains(t, out, "10.0.0.1:40000")
	assert.Contains(t, out, "2.000s")
	assert.Contains(t, out, "192.168.1.7:5000")
}
