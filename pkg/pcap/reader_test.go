package pcap

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"Go2NetCache/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func frame(t *testing.T, srcPort uint16, ethType layers.EthernetType) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: ethType,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if ethType != layers.EthernetTypeIPv4 {
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, gopacket.Payload(make([]byte, 46))))
		return buf.Bytes()
	}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IPv4(192, 168, 0, 1), DstIP: net.IPv4(192, 168, 0, 2)}
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload([]byte("q"))))
	return buf.Bytes()
}

func writeCapture(t *testing.T, frames [][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	for i, data := range frames {
		ci := gopacket.CaptureInfo{Timestamp: time.Unix(int64(100+i), 0), CaptureLength: len(data), Length: len(data)}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return path
}

func TestReader_ReadPackets(t *testing.T) {
	path := writeCapture(t, [][]byte{
		frame(t, 1000, layers.EthernetTypeIPv4),
		frame(t, 0, layers.EthernetTypeLLC),
		frame(t, 1001, layers.EthernetTypeIPv4),
	})
	reader, err := NewReader(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer reader.Close()

	var got []*model.PacketInfo
	n, err := reader.ReadPackets(func(info *model.PacketInfo) bool {
		got = append(got, info)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "the non-IP frame is skipped")
	require.Len(t, got, 2)
	assert.Equal(t, uint16(1000), got[0].FiveTuple.SrcPort)
	assert.Equal(t, uint16(1001), got[1].FiveTuple.SrcPort)
	assert.Equal(t, int64(102), got[1].Timestamp.Unix())
}

func TestReader_StopsEarly(t *testing.T) {
	path := writeCapture(t, [][]byte{
		frame(t, 1, layers.EthernetTypeIPv4),
		frame(t, 2, layers.EthernetTypeIPv4),
	})
	reader, err := NewReader(path, nil)
	require.NoError(t, err)
	defer reader.Close()

	n, err := reader.ReadPackets(func(*model.PacketInfo) bool { return false })
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewReader_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pcap")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a capture"), 0o644))
	_, err := NewReader(path, nil)
	assert.Error(t, err)
}
