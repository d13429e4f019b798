package model

import "net"

// Extended attribute blocks are produced by enrichment collaborators and
// stored by the cache as opaque references.

type BGPAttrs struct {
	ASPath      string
	Communities string
	LocalPref   uint32
	MED         uint32
	PeerSrcAS   uint32
	PeerDstAS   uint32
}

type NATAttrs struct {
	PostNATSrcIP   net.IP
	PostNATDstIP   net.IP
	PostNATSrcPort uint16
	PostNATDstPort uint16
	Event          uint8
}

type MPLSAttrs struct {
	Labels []uint32
}

type TunnelAttrs struct {
	SrcIP net.IP
	DstIP net.IP
	Proto uint8
	VNI   uint32
}

// Extensions groups the optional blocks attached to a record.
type Extensions struct {
	BGP    *BGPAttrs
	NAT    *NATAttrs
	MPLS   *MPLSAttrs
	Tunnel *TunnelAttrs
	// Custom is a fixed-layout user-defined primitive area.
	Custom []byte
	// Labels is the variable-length label string ("k1:v1,k2:v2").
	Labels string
	// FwdStatus is the exporter's forwarding status code, zero when unknown.
	FwdStatus uint8
}

// Merge attaches every block of other that is absent here. Blocks that are
// already present are never overwritten.
func (e *Extensions) Merge(other *Extensions) {
	if e.BGP == nil {
		e.BGP = other.BGP
	}
	if e.NAT == nil {
		e.NAT = other.NAT
	}
	if e.MPLS == nil {
		e.MPLS = other.MPLS
	}
	if e.Tunnel == nil {
		e.Tunnel = other.Tunnel
	}
	if e.Custom == nil {
		e.Custom = other.Custom
	}
	if e.Labels == "" {
		e.Labels = other.Labels
	}
	if e.FwdStatus == 0 {
		e.FwdStatus = other.FwdStatus
	}
}
