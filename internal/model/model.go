package model

import (
	"net"
	"time"
)

// FiveTuple represents the 5-tuple of a network packet.
type FiveTuple struct {
	SrcIP    net.IP
	DstIP    net.IP
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// LinkLayer holds the link-layer fields, present only when the decoder saw them.
type LinkLayer struct {
	SrcMAC net.HardwareAddr
	DstMAC net.HardwareAddr
	VLAN   uint16
}

// FlowEdge tells which edge of a flow a record carries, for stitching.
type FlowEdge uint8

const (
	EdgeNone FlowEdge = iota
	EdgeStart
	EdgeEnd
)

// PacketInfo is the canonical decoded record handed to the cache. A single
// captured packet is the common case; flow exports fill Packets and Flows.
type PacketInfo struct {
	Timestamp time.Time
	FiveTuple FiveTuple
	Link      LinkLayer
	SrcAS     uint32
	DstAS     uint32
	InIface   uint32
	OutIface  uint32
	Tos       uint8
	TCPFlags  uint8
	FlowType  uint8
	Length    int
	// Packets defaults to 1 when zero.
	Packets uint64
	Flows   uint64

	Edge      FlowEdge
	FlowStart time.Time
	FlowEnd   time.Time

	Ext Extensions
}

// PacketCount returns the packet count carried by the record.
func (p *PacketInfo) PacketCount() uint64 {
	if p.Packets == 0 {
		return 1
	}
	return p.Packets
}
