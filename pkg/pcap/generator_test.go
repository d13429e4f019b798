package pcap

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"Go2NetCache/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestGenerate_ReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synth.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, Generate(f, GenerateOptions{
		Packets: 200,
		Flows:   5,
		Start:   start,
		Span:    3 * time.Minute,
		Seed:    42,
	}))
	require.NoError(t, f.Close())

	r, err := NewReader(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer r.Close()

	tuples := make(map[string]struct{})
	var first, last time.Time
	n, err := r.ReadPackets(func(info *model.PacketInfo) bool {
		if first.IsZero() {
			first = info.Timestamp
		}
		last = info.Timestamp
		ft := info.FiveTuple
		tuples[fmt.Sprintf("%s %s %d %d %d", ft.SrcIP, ft.DstIP, ft.SrcPort, ft.DstPort, ft.Protocol)] = struct{}{}
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, 200, n)
	assert.True(t, first.Equal(start))
	assert.True(t, last.Equal(start.Add(3*time.Minute)))
	assert.LessOrEqual(t, len(tuples), 5)
}

func TestGenerate_Rejects(t *testing.T) {
	assert.Error(t, Generate(os.Stdout, GenerateOptions{}))
}
