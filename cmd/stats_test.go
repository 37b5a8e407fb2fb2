package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"argus/core"
	"argus/storage"
)

func TestStatsCommandJSON(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "stats.db")
	store, err := storage.NewThreatStore(path, zap.NewNop().Sugar())
	require.NoError(t, err)

	record := core.NewThreatRecord("", &core.ParsedAlert{
		SignatureName: "SNORT ALERT: Port Scan Detected",
		SourceIP:      "192.168.10.81",
		DestIP:        "10.0.0.40",
		Protocol:      "TCP",
	}, "port_scan", core.Assessment{Severity: core.SeverityMedium, Confidence: 0.5})
	require.NoError(t, store.Upsert(record))
	require.NoError(t, store.MarkSubmitted(record.ID, "ok"))
	require.NoError(t, store.Close())

	var out bytes.Buffer
	statsCmd := NewStatsCmd()
	statsCmd.SetOut(&out)
	statsCmd.SetArgs([]string{"--json", "--db-path", path})
	require.NoError(t, statsCmd.Execute())

	var stats core.StoreStats
	require.NoError(t, json.Unmarshal(out.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalThreats)
	assert.Equal(t, 1, stats.SubmittedThreats)
	assert.Equal(t, 1, stats.BehaviorCounts["port_scan"])
	assert.Equal(t, 1, stats.RecentSuccess)
}

func TestStatsCommandMissingDatabaseDirectoryIsCreated(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "nested", "fresh.db")

	var out bytes.Buffer
	statsCmd := NewStatsCmd()
	statsCmd.SetOut(&out)
	statsCmd.SetArgs([]string{"--json", "--db-path", path})
	require.NoError(t, statsCmd.Execute())

	var stats core.StoreStats
	require.NoError(t, json.Unmarshal(out.Bytes(), &stats))
	assert.Equal(t, 0, stats.TotalThreats)
}
