package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("cache: {}\n"))
	require.NoError(t, err)

	cc := cfg.Cache
	assert.Equal(t, DefaultWritersNo, cc.WritersNo)
	assert.Equal(t, DefaultRecvBudget, cc.RecvBudget)
	assert.Equal(t, DefaultAvgChainLen, cc.AvgChainLen)
	assert.Equal(t, DefaultEntries, cc.Entries)
	assert.Equal(t, DefaultEntries*DefaultAvgChainLen, cc.SlabRecords)
	assert.Equal(t, DefaultKeyFields, cc.KeyFields)
	assert.False(t, cc.HistoricalAccounting)

	refresh, err := cc.Refresh()
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, refresh)
	assert.Equal(t, time.Second, cc.Check())
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"bad interval":    "cache:\n  refresh_interval: soon\n",
		"zero interval":   "cache:\n  refresh_interval: 0s\n",
		"offset too big":  "cache:\n  refresh_interval: 60s\n  refresh_offset: 60s\n",
		"unknown writer":  "writers:\n  - type: carrier-pigeon\n",
		"bad check":       "cache:\n  check_interval: -1s\n",
		"not yaml at all": "cache: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	doc := `
cache:
  refresh_interval: 5m
  refresh_offset: 30s
  aggregate: port
  historical_accounting: true
  retain_windows: 3
writers:
  - type: gob
    enabled: true
    gob:
      root_path: /tmp/ns
probe:
  nats_url: nats://127.0.0.1:4222
  subject: ns.records
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "port", cfg.Cache.Aggregate)
	assert.Empty(t, cfg.Cache.KeyFields)
	assert.True(t, cfg.Cache.HistoricalAccounting)
	assert.Equal(t, 3, cfg.Cache.RetainWindows)
	offset, err := cfg.Cache.Offset()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, offset)
	require.Len(t, cfg.Writers, 1)
	assert.Equal(t, "/tmp/ns", cfg.Writers[0].Gob.RootPath)
	assert.Equal(t, "ns.records", cfg.Probe.Subject)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
