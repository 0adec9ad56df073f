package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_RepositoryConfig(t *testing.T) {
	cfg, err := LoadConfig("../../configs/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "h7-eth0", cfg.Capture.Interface)
	assert.Equal(t, "100s", cfg.Lifecycle.OpenSentinel)
	require.Len(t, cfg.Writers, 2)
	assert.Equal(t, "gob", cfg.Writers[0].Type)
	assert.Equal(t, "./snapshots", cfg.Writers[0].Gob.RootPath)
	assert.Equal(t, 9000, cfg.Writers[1].ClickHouse.Port)
	require.Len(t, cfg.Alerter.Rules, 2)
	assert.Equal(t, "open_ratio", cfg.Alerter.Rules[1].Metric)
}

func TestLoadConfig_KeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "capture:\n  interface: eth1\n"))
	require.NoError(t, err)

	assert.Equal(t, "eth1", cfg.Capture.Interface)
	assert.Equal(t, int32(1600), cfg.Capture.SnapshotLen)
	assert.Equal(t, "20s", cfg.Lifecycle.AttackStart)
	assert.Equal(t, 4000, cfg.Nagle.DataSize)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "pcap", cfg.Capture.Record.Encoding)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = LoadConfig(writeConfig(t, "capture: [unclosed"))
	assert.ErrorContains(t, err, "failed to unmarshal config YAML")

	_, err = LoadConfig(writeConfig(t, "lifecycle:\n  attack_end: soon\n"))
	assert.ErrorContains(t, err, "lifecycle.attack_end")

	_, err = LoadConfig(writeConfig(t, "alerter:\n  rules:\n    - name: r\n      metric: open_connections\n      operator: '!='\n"))
	assert.ErrorContains(t, err, "unknown operator")

	_, err = LoadConfig(writeConfig(t, "writers:\n  - type: gob\n    enabled: true\n    snapshot_interval: often\n"))
	assert.ErrorContains(t, err, "writers[0].snapshot_interval")

	_, err = LoadConfig(writeConfig(t, "capture:\n  record:\n    encoding: gob\n"))
	assert.ErrorContains(t, err, "unknown encoding 'gob'")
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, Duration("", 5*time.Second))
	assert.Equal(t, 5*time.Second, Duration("bogus", 5*time.Second))
	assert.Equal(t, 250*time.Millisecond, Duration("250ms", time.Second))
}
