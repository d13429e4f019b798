package cache

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"
)

const (
	IPv6ByteSize  = 16
	MACByteSize   = 6
	PortByteSize  = 2
	ProtoByteSize = 1

	// KeySize is the length of the fixed-layout key encoding.
	KeySize = 2*IPv6ByteSize + 2*MACByteSize + 4*4 + 3*PortByteSize + 2*ProtoByteSize
)

// Key identifies an aggregation bucket. Strategies fill only the fields they
// aggregate on; the rest stay zero. Keys are compared field by field, which
// matches a byte comparison of their encoding.
type Key struct {
	SrcIP    [IPv6ByteSize]byte
	DstIP    [IPv6ByteSize]byte
	SrcMAC   [MACByteSize]byte
	DstMAC   [MACByteSize]byte
	SrcAS    uint32
	DstAS    uint32
	InIface  uint32
	OutIface uint32
	SrcPort  uint16
	DstPort  uint16
	VLAN     uint16
	Protocol uint8
	Tos      uint8
}

// Encode writes the fixed big-endian layout of k into buf.
func (k *Key) Encode(buf *[KeySize]byte) {
	off := 0
	off += copy(buf[off:], k.SrcIP[:])
	off += copy(buf[off:], k.DstIP[:])
	off += copy(buf[off:], k.SrcMAC[:])
	off += copy(buf[off:], k.DstMAC[:])
	for _, v := range [...]uint32{k.SrcAS, k.DstAS, k.InIface, k.OutIface} {
		binary.BigEndian.PutUint32(buf[off:], v)
		off += 4
	}
	for _, v := range [...]uint16{k.SrcPort, k.DstPort, k.VLAN} {
		binary.BigEndian.PutUint16(buf[off:], v)
		off += PortByteSize
	}
	buf[off] = k.Protocol
	buf[off+1] = k.Tos
}

// SetSrcIP stores ip in its 16-byte form. A nil ip leaves the field zero.
func (k *Key) SetSrcIP(ip net.IP) { setIP(&k.SrcIP, ip) }

// SetDstIP stores ip in its 16-byte form.
func (k *Key) SetDstIP(ip net.IP) { setIP(&k.DstIP, ip) }

func setIP(dst *[IPv6ByteSize]byte, ip net.IP) {
	if ip16 := ip.To16(); ip16 != nil {
		copy(dst[:], ip16)
	}
}

func setMAC(dst *[MACByteSize]byte, mac net.HardwareAddr) {
	if len(mac) == MACByteSize {
		copy(dst[:], mac)
	}
}

// String renders the non-zero fields of the key, for logs.
func (k Key) String() string {
	var zeroIP [IPv6ByteSize]byte
	var zeroMAC [MACByteSize]byte
	var parts []string
	if k.SrcIP != zeroIP {
		parts = append(parts, "src="+net.IP(k.SrcIP[:]).String())
	}
	if k.DstIP != zeroIP {
		parts = append(parts, "dst="+net.IP(k.DstIP[:]).String())
	}
	if k.SrcMAC != zeroMAC {
		parts = append(parts, "smac="+net.HardwareAddr(k.SrcMAC[:]).String())
	}
	if k.DstMAC != zeroMAC {
		parts = append(parts, "dmac="+net.HardwareAddr(k.DstMAC[:]).String())
	}
	if k.SrcAS != 0 || k.DstAS != 0 {
		parts = append(parts, fmt.Sprintf("as=%d->%d", k.SrcAS, k.DstAS))
	}
	if k.SrcPort != 0 || k.DstPort != 0 {
		parts = append(parts, fmt.Sprintf("ports=%d->%d", k.SrcPort, k.DstPort))
	}
	if k.Protocol != 0 {
		parts = append(parts, fmt.Sprintf("proto=%d", k.Protocol))
	}
	if k.VLAN != 0 {
		parts = append(parts, fmt.Sprintf("vlan=%d", k.VLAN))
	}
	if k.InIface != 0 || k.OutIface != 0 {
		parts = append(parts, fmt.Sprintf("if=%d->%d", k.InIface, k.OutIface))
	}
	if k.Tos != 0 {
		parts = append(parts, fmt.Sprintf("tos=%d", k.Tos))
	}
	if len(parts) == 0 {
		return "<empty>"
	}
	return strings.Join(parts, " ")
}
