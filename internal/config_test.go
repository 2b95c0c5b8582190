package internal

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/panelcheck")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.StorageProvider)
	assert.Equal(t, "mock", cfg.InspectorProvider)
	assert.Equal(t, 30*time.Second, cfg.DispatchTimeout)
	assert.Equal(t, time.Hour, cfg.PendingAlertTimeout)
	assert.Equal(t, 2*time.Hour, cfg.StuckJobTimeout)
	assert.Equal(t, time.Hour, cfg.ReaperInterval)
	assert.Equal(t, 8, cfg.ArchiveReadConcurrency)
	assert.False(t, cfg.LockStrict)
	assert.Empty(t, cfg.AlertEmails)
}

func TestNewConfig_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/panelcheck")
	t.Setenv("PENDING_ALERT_TIMEOUT", "600")
	t.Setenv("STUCK_JOB_TIMEOUT", "1800")
	t.Setenv("REAPER_INTERVAL", "5m")
	t.Setenv("ALERT_EMAILS", "ops@example.com, ,oncall@example.com")
	t.Setenv("LOCK_STRICT", "true")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, cfg.PendingAlertTimeout)
	assert.Equal(t, 30*time.Minute, cfg.StuckJobTimeout)
	assert.Equal(t, 5*time.Minute, cfg.ReaperInterval)
	assert.Equal(t, []string{"ops@example.com", "oncall@example.com"}, cfg.AlertEmails)
	assert.True(t, cfg.LockStrict)
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing database", env: map[string]string{"DATABASE_URL": ""}},
		{name: "unknown storage", env: map[string]string{"STORAGE_PROVIDER": "gcs"}},
		{name: "r2 without bucket", env: map[string]string{"STORAGE_PROVIDER": "r2", "R2_ACCOUNT_ID": "a", "R2_ACCESS_KEY_ID": "k", "R2_SECRET_ACCESS_KEY": "s"}},
		{name: "http without internal url", env: map[string]string{"INSPECTOR_PROVIDER": "http", "SCOPITO_API_KEY": "key"}},
		{name: "unknown inspector", env: map[string]string{"INSPECTOR_PROVIDER": "grpc"}},
		{name: "zero stuck timeout", env: map[string]string{"STUCK_JOB_TIMEOUT": "0"}},
		{name: "tiny reaper interval", env: map[string]string{"REAPER_INTERVAL": "10ms"}},
		{name: "zero archive concurrency", env: map[string]string{"ARCHIVE_READ_CONCURRENCY": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://localhost/panelcheck")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := NewConfig()
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "production", "WARN")

	logger.Info("dropped")
	logger.Warn("kept", "job_id", 7)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "panelcheck", rec["service"])
	assert.EqualValues(t, 7, rec["job_id"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" Error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
