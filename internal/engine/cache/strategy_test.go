package cache

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"Go2NetCache/internal/lookup"
	"Go2NetCache/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePacket() *model.PacketInfo {
	src, _ := net.ParseMAC("00:11:22:33:44:55")
	dst, _ := net.ParseMAC("66:77:88:99:aa:bb")
	return &model.PacketInfo{
		FiveTuple: model.FiveTuple{
			SrcIP: net.ParseIP("10.0.0.1"), DstIP: net.ParseIP("10.0.0.2"),
			SrcPort: 51000, DstPort: 443, Protocol: 6,
		},
		Link:  model.LinkLayer{SrcMAC: src, DstMAC: dst, VLAN: 12},
		SrcAS: 64512, DstAS: 15169,
		Tos: 0x10,
	}
}

func TestStrategies_Registered(t *testing.T) {
	assert.Equal(t, []string{"as", "fields", "host", "mac", "port"}, Strategies())

	_, err := NewStrategy("nope", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownStrategy)
	assert.Panics(t, func() { RegisterStrategy("host", nil) })
}

func TestSumStrategies_TwoKeys(t *testing.T) {
	pkt := samplePacket()
	cases := []struct {
		name     string
		src, dst func() Key
	}{
		{"host", func() Key { return hostKey("10.0.0.1") }, func() Key { return hostKey("10.0.0.2") }},
		{"port", func() Key { return Key{SrcPort: 51000} }, func() Key { return Key{SrcPort: 443} }},
		{"as", func() Key { return Key{SrcAS: 64512} }, func() Key { return Key{SrcAS: 15169} }},
		{"mac", func() Key {
			return Key{SrcMAC: [6]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}, VLAN: 12}
		}, func() Key {
			return Key{SrcMAC: [6]byte{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb}, VLAN: 12}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := NewStrategy(tc.name, nil, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.name, s.Name())
			keys := s.Project(pkt, nil)
			require.Len(t, keys, 2)
			assert.Equal(t, tc.src(), keys[0])
			assert.Equal(t, tc.dst(), keys[1])
		})
	}
}

func TestSumMAC_SkipsWithoutLinkLayer(t *testing.T) {
	s, err := NewStrategy("mac", nil, nil)
	require.NoError(t, err)
	pkt := samplePacket()
	pkt.Link = model.LinkLayer{}
	assert.Empty(t, s.Project(pkt, nil))
}

func TestFieldsStrategy(t *testing.T) {
	s, err := NewStrategy("fields", []string{"SrcIP", "DstIP", "SrcPort", "DstPort", "Protocol", "Tos"}, nil)
	require.NoError(t, err)
	keys := s.Project(samplePacket(), nil)
	require.Len(t, keys, 1)

	want := pairKey("10.0.0.1", "10.0.0.2")
	want.SrcPort, want.DstPort, want.Protocol, want.Tos = 51000, 443, 6, 0x10
	assert.Equal(t, want, keys[0])
	assert.Zero(t, keys[0].SrcAS, "unselected fields stay zero")

	_, err = NewStrategy("fields", []string{"SrcIP", "Bogus"}, nil)
	assert.Error(t, err)
	_, err = NewStrategy("fields", nil, nil)
	assert.Error(t, err)
}

func TestFieldsStrategy_ClassifiesPorts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ports.lst")
	require.NoError(t, os.WriteFile(path, []byte("# known services\n443\n80\n"), 0o644))
	tables, err := lookup.NewTables(path, "")
	require.NoError(t, err)

	s, err := NewStrategy("fields", []string{"SrcPort", "DstPort"}, tables)
	require.NoError(t, err)
	keys := s.Project(samplePacket(), nil)
	require.Len(t, keys, 1)
	assert.Equal(t, uint16(lookup.PortOthers), keys[0].SrcPort)
	assert.Equal(t, uint16(443), keys[0].DstPort)
}

func TestKey_EncodingDistinguishesFields(t *testing.T) {
	a := Key{SrcPort: 1}
	b := Key{DstPort: 1}
	var ea, eb [KeySize]byte
	a.Encode(&ea)
	b.Encode(&eb)
	assert.NotEqual(t, ea, eb)
	assert.Equal(t, 68, KeySize)
	assert.Equal(t, "<empty>", Key{}.String())
	assert.Contains(t, pairKey("10.0.0.1", "10.0.0.2").String(), "src=10.0.0.1")
}
