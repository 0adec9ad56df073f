// Package writer persists tracker snapshots. Writer types register
// themselves with the factory on import.
package writer

import (
	"TCPScope/internal/config"
	"TCPScope/internal/factory"
	"TCPScope/internal/model"
	"fmt"
	"time"
)

// TimestampLayout names snapshot directories and rows.
const TimestampLayout = "2006-01-02_15-04-05"

const defaultSnapshotInterval = 30 * time.Second

func init() {
	factory.RegisterWriter("gob", func(def config.WriterDef) (model.Writer, error) {
		if def.Gob.RootPath == "" {
			return nil, fmt.Errorf("gob writer requires 'root_path'")
		}
		return NewGobWriter(def.Gob.RootPath, config.Duration(def.SnapshotInterval, defaultSnapshotInterval)), nil
	})
	factory.RegisterWriter("clickhouse", func(def config.WriterDef) (model.Writer, error) {
		return NewClickHouseWriter(def.ClickHouse, config.Duration(def.SnapshotInterval, defaultSnapshotInterval))
	})
}
