package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slach/calendar-sync/pkg/config"
	"github.com/Slach/calendar-sync/pkg/models"
	"github.com/Slach/calendar-sync/pkg/types"
)

const monthPayload = `{
  "rows": {
    "2024-03-10": {"count": 2, "results": [
      {"id": 1, "field_7": "2024-03-10T09:00:00Z", "field_8": "Standup", "field_9": "secret"}
    ]},
    "2024-03-12": {"count": 1, "results": [
      {"id": 3, "field_7": "2024-03-12T15:00:00Z", "field_8": "Review", "field_9": "notes"}
    ]}
  },
  "field_options": {"9": {"hidden": true}}
}`

// replayPayload loads every row of its days, so updated rows stay in their window.
const replayPayload = `{
  "rows": {
    "2024-03-10": {"count": 1, "results": [
      {"id": 1, "field_7": "2024-03-10T09:00:00Z", "field_8": "Standup", "field_9": "secret"}
    ]},
    "2024-03-12": {"count": 1, "results": [
      {"id": 3, "field_7": "2024-03-12T15:00:00Z", "field_8": "Review", "field_9": "notes"}
    ]}
  }
}`

func writeTestConfig(t *testing.T, baseURL string) string {
	t.Helper()
	cfg := `calendar:
  view_id: 1
  table_id: 2
  date_field_id: 7
  buffer_size: 5
  timezone: UTC
  source: http
  fields:
    - {id: 7, name: When, type: date, date_include_time: true, date_force_timezone: UTC}
    - {id: 8, name: Title, type: text}
    - {id: 9, name: Notes, type: text}
api:
  base_url: ` + baseURL + `
  max_retries: 0
`
	path := filepath.Join(t.TempDir(), "calendar-sync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func runCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root, cleanup := NewRootCommand(&types.CLI{}, "test")
	defer cleanup()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--log", filepath.Join(t.TempDir(), "test.log")}, args...))
	err := root.Execute()
	return out.String(), err
}

func newCalendarServer(t *testing.T, payload string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/database/views/calendar/1/" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "UTC", r.URL.Query().Get("user_timezone"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMonthCommand(t *testing.T) {
	srv := newCalendarServer(t, monthPayload)
	cfgPath := writeTestConfig(t, srv.URL)

	out, err := runCommand(t, "", "--config", cfgPath, "month", "--date", "2024-03-15")
	require.NoError(t, err)

	assert.Contains(t, out, "March 2024")
	assert.Contains(t, out, "2024-03-10")
	assert.Contains(t, out, "1 of 2")
	assert.Contains(t, out, "#1")
	assert.Contains(t, out, "Standup")
	assert.Contains(t, out, "Review")
	assert.NotContains(t, out, "secret")
}

func TestMonthCommandJSON(t *testing.T) {
	srv := newCalendarServer(t, monthPayload)
	cfgPath := writeTestConfig(t, srv.URL)

	out, err := runCommand(t, "", "--config", cfgPath, "month", "--date", "2024-03-15", "--json")
	require.NoError(t, err)

	var buckets map[string]models.Bucket
	require.NoError(t, json.Unmarshal([]byte(out), &buckets))
	require.Contains(t, buckets, "2024-03-10")
	assert.Equal(t, 2, buckets["2024-03-10"].Count)
	assert.Equal(t, int64(1), buckets["2024-03-10"].Results[0].ID)
}

func TestReplayCommand(t *testing.T) {
	srv := newCalendarServer(t, replayPayload)
	cfgPath := writeTestConfig(t, srv.URL)
	events := strings.Join([]string{
		`{"kind":"row_created","row":{"id":4,"field_7":"2024-03-12T08:00:00Z","field_8":"Planning"}}`,
		`{"kind":"row_deleted","row":{"id":3,"field_7":"2024-03-12T15:00:00Z","field_8":"Review"}}`,
		"",
		`{"kind":"row_updated","row":{"id":1,"field_7":"2024-03-10T09:00:00Z","field_8":"Standup"},"values":{"field_8":"Daily"}}`,
	}, "\n")

	out, err := runCommand(t, events, "--config", cfgPath, "replay", "--date", "2024-03-15", "--json")
	require.NoError(t, err)

	var buckets map[string]models.Bucket
	require.NoError(t, json.Unmarshal([]byte(out), &buckets))
	day := buckets["2024-03-12"]
	require.Len(t, day.Results, 1)
	assert.Equal(t, int64(4), day.Results[0].ID)
	assert.Equal(t, 1, day.Count)
	standup := buckets["2024-03-10"]
	require.Len(t, standup.Results, 1)
	assert.Equal(t, "Daily", standup.Results[0].Value(8))
}

func TestReplayCommandDropsUpdatedRowPastPartialWindow(t *testing.T) {
	srv := newCalendarServer(t, monthPayload)
	cfgPath := writeTestConfig(t, srv.URL)
	events := `{"kind":"row_updated","row":{"id":1,"field_7":"2024-03-10T09:00:00Z","field_8":"Standup"},"values":{"field_8":"Daily"}}`

	out, err := runCommand(t, events, "--config", cfgPath, "replay", "--date", "2024-03-15", "--json")
	require.NoError(t, err)

	var buckets map[string]models.Bucket
	require.NoError(t, json.Unmarshal([]byte(out), &buckets))
	day := buckets["2024-03-10"]
	assert.Empty(t, day.Results)
	assert.Equal(t, 1, day.Count)
}

func TestReplayCommandRejectsUnknownEvent(t *testing.T) {
	srv := newCalendarServer(t, monthPayload)
	cfgPath := writeTestConfig(t, srv.URL)

	_, err := runCommand(t, `{"kind":"row_moved"}`, "--config", cfgPath, "replay", "--date", "2024-03-15")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "calendar-sync.yaml")

	out, err := runCommand(t, "", "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Calendar.BufferSize, cfg.Calendar.BufferSize)

	_, err = runCommand(t, "", "--config", path, "config", "init")
	require.Error(t, err)
	_, err = runCommand(t, "", "--config", path, "config", "init", "--force")
	require.NoError(t, err)
}

func TestConfigShowMasksSecrets(t *testing.T) {
	cfgPath := writeTestConfig(t, "http://localhost:1")
	t.Setenv("CALSYNC_API_TOKEN", "s3cr3t")

	out, err := runCommand(t, "", "--config", cfgPath, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "s3cr3t")
	assert.Contains(t, out, "********")
}

func TestVisibleFields(t *testing.T) {
	fields := []models.Field{{ID: 7}, {ID: 8}, {ID: 9}, {ID: 10, Trashed: true}, {ID: 11}}
	order := func(v int) *int { return &v }
	options := map[int64]models.FieldOptions{
		9:  {Order: order(0)},
		8:  {Order: order(1)},
		11: {Hidden: models.BoolPtr(true)},
	}

	got := visibleFields(fields, options, 7)
	ids := make([]int64, 0, len(got))
	for _, f := range got {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []int64{9, 8}, ids)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "-", formatValue(nil))
	assert.Equal(t, "-", formatValue(""))
	assert.Equal(t, "1.5", formatValue(1.5))
	assert.Equal(t, "a, b", formatValue([]any{map[string]any{"id": 1.0, "value": "a"}, "b"}))
	assert.Equal(t, "true", formatValue(true))
}
