// Package logging configures the process-wide logrus logger.
package logging

import (
	"TCPScope/internal/config"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup applies cfg to the standard logrus logger. Output always goes to
// stderr; a rotating file is added when enabled.
func Setup(cfg config.LogConfig) error {
	level, err := log.ParseLevel(strings.ToLower(orDefault(cfg.Level, "info")))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	formatter, err := newFormatter(cfg.Format)
	if err != nil {
		return err
	}

	writers := []io.Writer{os.Stderr}
	if cfg.File.Enabled {
		w, err := newFileWriter(cfg.File)
		if err != nil {
			return fmt.Errorf("failed to create file output: %w", err)
		}
		writers = append(writers, w)
	}

	log.SetLevel(level)
	log.SetFormatter(formatter)
	log.SetOutput(io.MultiWriter(writers...))
	return nil
}

func newFormatter(format string) (log.Formatter, error) {
	switch strings.ToLower(orDefault(format, "text")) {
	case "text":
		return &log.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000"}, nil
	case "json":
		return &log.JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s (must be json or text)", format)
	}
}

func newFileWriter(fc config.LogFileConfig) (io.Writer, error) {
	if fc.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.MaxSizeMB,
		MaxBackups: fc.MaxBackups,
		MaxAge:     fc.MaxAgeDays,
		Compress:   fc.Compress,
	}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
