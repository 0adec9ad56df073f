package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LogConfig controls logging output.
type LogConfig struct {
	Level  string        `yaml:"level"`
	Format string        `yaml:"format"` // text or json
	File   LogFileConfig `yaml:"file"`
}

// LogFileConfig enables a rotating log file next to stderr output.
type LogFileConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// CaptureConfig describes the live capture used by the monitor.
type CaptureConfig struct {
	Interface           string       `yaml:"interface"`
	SnapshotLen         int32        `yaml:"snapshot_len"`
	Promiscuous         bool         `yaml:"promiscuous"`
	BPFFilter           string       `yaml:"bpf_filter"`
	SizeOfPacketChannel int          `yaml:"size_of_packet_channel"`
	Record              RecordConfig `yaml:"record"`
}

// RecordConfig controls the copy of live traffic kept on disk.
type RecordConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Path              string `yaml:"path"`
	Encoding          string `yaml:"encoding"` // pcap or text
	ChannelBufferSize int    `yaml:"channel_buffer_size"`
}

// LifecycleConfig controls the duration analysis and plot.
type LifecycleConfig struct {
	OpenSentinel string `yaml:"open_sentinel"`
	AttackStart  string `yaml:"attack_start"`
	AttackEnd    string `yaml:"attack_end"`
	PlotOutput   string `yaml:"plot_output"`
	PlotTitle    string `yaml:"plot_title"`
}

// CapStatsConfig controls the capture statistics.
type CapStatsConfig struct {
	Interval string `yaml:"interval"`
}

// GobWriterConfig holds the gob writer settings.
type GobWriterConfig struct {
	RootPath string `yaml:"root_path"`
}

// ClickHouseConfig holds the connection settings for ClickHouse.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// WriterDef defines a snapshot writer.
type WriterDef struct {
	Type             string           `yaml:"type"`
	Enabled          bool             `yaml:"enabled"`
	SnapshotInterval string           `yaml:"snapshot_interval"`
	Gob              GobWriterConfig  `yaml:"gob"`
	ClickHouse       ClickHouseConfig `yaml:"clickhouse"`
}

// NATSConfig controls lifecycle event publishing.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// APIConfig controls the HTTP API.
type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// AlerterRule defines a single alerting rule.
type AlerterRule struct {
	Name      string  `yaml:"name"`
	Metric    string  `yaml:"metric"`
	Operator  string  `yaml:"operator"`
	Threshold float64 `yaml:"threshold"`
}

// AlerterConfig holds the alerter settings.
type AlerterConfig struct {
	Enabled       bool          `yaml:"enabled"`
	CheckInterval string        `yaml:"check_interval"`
	Rules         []AlerterRule `yaml:"rules"`
}

// SMTPConfig holds the settings for the email notifier.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// NagleConfig holds the defaults of the Nagle / Delayed-ACK experiment.
type NagleConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	DataSize   int    `yaml:"data_size"`
	ChunkSize  int    `yaml:"chunk_size"`
	Interval   string `yaml:"interval"`
	Duration   string `yaml:"duration"`
	ReadBuffer int    `yaml:"read_buffer"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Capture   CaptureConfig   `yaml:"capture"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	CapStats  CapStatsConfig  `yaml:"capstats"`
	Writers   []WriterDef     `yaml:"writers"`
	NATS      NATSConfig      `yaml:"nats"`
	API       APIConfig       `yaml:"api"`
	Alerter   AlerterConfig   `yaml:"alerter"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Nagle     NagleConfig     `yaml:"nagle"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			File: LogFileConfig{
				Path:       "logs/tcpscope.log",
				MaxSizeMB:  100,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
		},
		Capture: CaptureConfig{
			SnapshotLen:         1600,
			Promiscuous:         true,
			BPFFilter:           "tcp",
			SizeOfPacketChannel: 10000,
			Record: RecordConfig{
				Path:              "./captures",
				Encoding:          "pcap",
				ChannelBufferSize: 10000,
			},
		},
		Lifecycle: LifecycleConfig{
			OpenSentinel: "100s",
			AttackStart:  "20s",
			AttackEnd:    "120s",
			PlotOutput:   "connection_duration_plot.png",
			PlotTitle:    "SYN Flood Attack: Connection Duration vs. Start Time",
		},
		CapStats: CapStatsConfig{Interval: "10s"},
		NATS: NATSConfig{
			URL:     "nats://127.0.0.1:4222",
			Subject: "tcpscope.lifecycle",
		},
		API: APIConfig{ListenAddr: ":8080"},
		Alerter: AlerterConfig{
			CheckInterval: "10s",
		},
		Nagle: NagleConfig{
			Host:       "127.0.0.1",
			Port:       12345,
			DataSize:   4000,
			ChunkSize:  40,
			Interval:   "1s",
			Duration:   "120s",
			ReadBuffer: 1024,
		},
	}
}

// LoadConfig reads the configuration from a YAML file on top of Default.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every duration string and rule operator.
func (c *Config) Validate() error {
	durations := map[string]string{
		"lifecycle.open_sentinel": c.Lifecycle.OpenSentinel,
		"lifecycle.attack_start":  c.Lifecycle.AttackStart,
		"lifecycle.attack_end":    c.Lifecycle.AttackEnd,
		"capstats.interval":       c.CapStats.Interval,
		"alerter.check_interval":  c.Alerter.CheckInterval,
		"nagle.interval":          c.Nagle.Interval,
		"nagle.duration":          c.Nagle.Duration,
	}
	for i, w := range c.Writers {
		if w.Enabled {
			durations[fmt.Sprintf("writers[%d].snapshot_interval", i)] = w.SnapshotInterval
		}
	}
	for field, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", field, err)
		}
	}

	switch c.Capture.Record.Encoding {
	case "", "pcap", "text":
	default:
		return fmt.Errorf("capture.record: unknown encoding '%s'", c.Capture.Record.Encoding)
	}

	for _, rule := range c.Alerter.Rules {
		switch rule.Operator {
		case ">", "<", "=", ">=", "<=":
		default:
			return fmt.Errorf("alerter rule '%s': unknown operator '%s'", rule.Name, rule.Operator)
		}
	}
	return nil
}

// Duration parses a duration field, falling back to def when empty.
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

// ClickHouse returns the connection settings of the first clickhouse writer,
// enabled or not.
func (c *Config) ClickHouse() (ClickHouseConfig, bool) {
	for _, def := range c.Writers {
		if def.Type == "clickhouse" {
			return def.ClickHouse, true
		}
	}
	return ClickHouseConfig{}, false
}
