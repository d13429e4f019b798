package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"Go2NetCache/internal/writer"
	"Go2NetCache/pkg/pcap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplay_WritesEveryPacket(t *testing.T) {
	dir := t.TempDir()
	capture := filepath.Join(dir, "synth.pcap")
	f, err := os.Create(capture)
	require.NoError(t, err)
	require.NoError(t, pcap.Generate(f, pcap.GenerateOptions{
		Packets: 300,
		Flows:   8,
		Start:   time.Date(2024, 3, 1, 12, 0, 10, 0, time.UTC),
		Span:    4 * time.Minute,
		Seed:    7,
	}))
	require.NoError(t, f.Close())

	out := filepath.Join(dir, "out")
	cfgPath := filepath.Join(dir, "config.yaml")
	doc := fmt.Sprintf(`cache:
  refresh_interval: 60s
  entries: 101
  aggregate: fields
writers:
  - type: gob
    enabled: true
    tables: [acct]
    gob:
      root_path: %s
`, out)
	require.NoError(t, os.WriteFile(cfgPath, []byte(doc), 0644))

	cmd := newRootCommand()
	cmd.SetArgs([]string{"--config", cfgPath, "--log-level", "warn", "replay", capture})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	files, err := filepath.Glob(filepath.Join(out, "*", "acct", "records.dat"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(files), 2)

	var packets uint64
	for _, path := range files {
		records, err := writer.ReadGob(path)
		require.NoError(t, err)
		for _, r := range records {
			packets += r.Packets
		}
	}
	assert.Equal(t, uint64(300), packets)
}

func TestReplay_MissingFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("cache:\n  refresh_interval: 60s\n"), 0644))

	cmd := newRootCommand()
	cmd.SetArgs([]string{"--config", cfgPath, "replay", filepath.Join(t.TempDir(), "none.pcap")})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
}
