package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slach/calendar-sync/pkg/models"
)

const sampleConfig = `
calendar:
  view_id: 12
  table_id: 3
  date_field_id: 7
  buffer_size: 25
  timezone: Europe/Berlin
  fields:
    - id: 7
      name: Due
      type: date
      date_include_time: true
    - id: 8
      name: Title
      type: text
  filters:
    type: OR
    filters:
      - field: 8
        type: contains
        value: release
api:
  base_url: https://baserow.example.com
  timeout: 5s
contexts:
  - name: local
    host: 127.0.0.1
    port: 9000
    table: calendar_rows
logging:
  level: debug
  file: ~/calendar-sync.log
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calendar-sync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, int64(12), cfg.Calendar.ViewID)
	assert.Equal(t, 25, cfg.Calendar.BufferSize)
	assert.Equal(t, SourceHTTP, cfg.Calendar.Source)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, 3, cfg.API.MaxRetries)
	assert.Equal(t, models.FilterOr, cfg.Calendar.Filters.Type)
	require.Len(t, cfg.Calendar.Filters.Filters, 1)
	assert.Equal(t, int64(8), cfg.Calendar.Filters.Filters[0].Field)

	field, ok := cfg.DateField()
	require.True(t, ok)
	assert.True(t, field.DateIncludeTime)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "calendar-sync.log"), cfg.Logging.File)

	ctx, err := cfg.FindContext("")
	require.NoError(t, err)
	assert.Equal(t, "calendar_rows", ctx.Table)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("CALSYNC_API_TOKEN", "secret")
	t.Setenv("CALSYNC_CALENDAR_BUFFER_SIZE", "50")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.API.Token)
	assert.Equal(t, 50, cfg.Calendar.BufferSize)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Calendar.BufferSize = 0
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Calendar.Source = SourceClickHouse
	require.Error(t, cfg.Validate())
	cfg.Contexts = []Context{{Name: "a"}, {Name: "b"}}
	cfg.Calendar.Context = "b"
	require.NoError(t, cfg.Validate())

	cfg.Calendar.Source = "carrier-pigeon"
	require.Error(t, cfg.Validate())
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "calendar-sync.yaml")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Calendar.BufferSize, cfg.Calendar.BufferSize)
	assert.Equal(t, DefaultConfig().API.Timeout, cfg.API.Timeout)
}
