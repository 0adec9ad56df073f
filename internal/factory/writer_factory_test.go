package factory

import (
	"TCPScope/internal/config"
	"TCPScope/internal/model"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubWriter struct{ interval time.Duration }

func (s *stubWriter) Write(interface{}, string) error { return nil }
func (s *stubWriter) GetInterval() time.Duration      { return s.interval }

func init() {
	RegisterWriter("stub", func(def config.WriterDef) (model.Writer, error) {
		return &stubWriter{interval: config.Duration(def.SnapshotInterval, time.Minute)}, nil
	})
	RegisterWriter("broken", func(config.WriterDef) (model.Writer, error) {
		return nil, errors.New("no backend")
	})
}

func TestCreateWriters(t *testing.T) {
	cfg := &config.Config{Writers: []config.WriterDef{
		{Type: "stub", Enabled: true, SnapshotInterval: "5s"},
		{Type: "broken", Enabled: false},
		{Type: "stub", Enabled: true},
	}}

	writers, err := CreateWriters(cfg)
	require.NoError(t, err)
	require.Len(t, writers, 2)
	assert.Equal(t, 5*time.Second, writers[0].GetInterval())
	assert.Equal(t, time.Minute, writers[1].GetInterval())
}

func TestCreateWriters_Errors(t *testing.T) {
	_, err := CreateWriters(&config.Config{Writers: []config.WriterDef{{Type: "tape", Enabled: true}}})
	assert.ErrorContains(t, err, "unknown writer type: 'tape'")

	_, err = CreateWriters(&config.Config{Writers: []config.WriterDef{{Type: "broken", Enabled: true}}})
	assert.ErrorContains(t, err, "no backend")
}

func TestRegisterWriter_Duplicate(t *testing.T) {
	assert.Panics(t, func() {
		RegisterWriter("stub", func(config.WriterDef) (model.Writer, error) { return nil, nil })
	})
	assert.Contains(t, Registered(), "stub")
}
