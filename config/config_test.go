package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadClean(t *testing.T) (*Config, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	return LoadConfig()
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadClean(t)
	require.NoError(t, err)

	assert.Equal(t, "/var/log/snort/alert", cfg.Log.Path)
	assert.Equal(t, 10*time.Second, cfg.Log.PollInterval)
	assert.True(t, cfg.Log.Watch)
	assert.Equal(t, "http://localhost:8000/api/v1/threats/analyze", cfg.Sink.URL)
	assert.Equal(t, "./data/argus.db", cfg.Storage.Path)
	assert.Equal(t, 30, cfg.Storage.RetentionDays)
	assert.False(t, cfg.Retry.Enabled)
	assert.Equal(t, 3, cfg.Retry.Limit)
	assert.False(t, cfg.Oracle.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.Jobs.TTL)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("ARGUS_LOG_PATH", "/tmp/alert")
	t.Setenv("ARGUS_DB_PATH", "/tmp/custom.db")
	t.Setenv("ARGUS_RETRY_UNSENT", "true")
	t.Setenv("ARGUS_RETRY_LIMIT", "7")

	cfg, err := loadClean(t)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/alert", cfg.Log.Path)
	assert.Equal(t, "/tmp/custom.db", cfg.Storage.Path)
	assert.True(t, cfg.Retry.Enabled)
	assert.Equal(t, 7, cfg.Retry.Limit)
}

func TestSinkBatchURL(t *testing.T) {
	cfg := &Config{}

	cfg.Sink.URL = "http://sink:8000/api/v1/threats/analyze"
	assert.Equal(t, "http://sink:8000/api/v1/threats/batch-analyze", cfg.SinkBatchURL())

	cfg.Sink.URL = "http://sink:8000/submit"
	assert.Equal(t, "http://sink:8000/submit/batch-analyze", cfg.SinkBatchURL())

	cfg.Sink.BatchURL = "http://other:9000/bulk"
	assert.Equal(t, "http://other:9000/bulk", cfg.SinkBatchURL())
}

func TestValidateConfigRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"bad sink scheme", map[string]string{"ARGUS_SINK_URL": "ftp://sink/analyze"}},
		{"tiny poll interval", map[string]string{"ARGUS_LOG_POLL_INTERVAL": "10ms"}},
		{"zero batch size", map[string]string{"ARGUS_BATCH_SIZE": "0"}},
		{"zero retention", map[string]string{"ARGUS_STORAGE_RETENTION_DAYS": "0"}},
		{"oracle enabled without url", map[string]string{"ARGUS_ORACLE_ENABLED": "true"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := loadClean(t)
			assert.Error(t, err)
		})
	}
}
