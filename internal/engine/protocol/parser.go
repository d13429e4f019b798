package protocol

import (
	"errors"
	"time"

	"Go2NetCache/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrNotIP is returned for frames without an IPv4 or IPv6 layer.
var ErrNotIP = errors.New("not an IP packet")

// TCP flag bits as accumulated in records.
const (
	FlagFIN uint8 = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
)

// ParsePacket extracts the link, network and transport fields of a decoded
// frame. Frames without an IP layer are rejected; non TCP/UDP transports
// keep zero ports.
func ParsePacket(packet gopacket.Packet) (*model.PacketInfo, error) {
	info := &model.PacketInfo{
		Timestamp: time.Now(),
		Length:    len(packet.Data()),
		Packets:   1,
	}
	if meta := packet.Metadata(); meta != nil {
		if !meta.Timestamp.IsZero() {
			info.Timestamp = meta.Timestamp
		}
		if meta.Length > 0 {
			info.Length = meta.Length
		}
	}

	if l := packet.Layer(layers.LayerTypeEthernet); l != nil {
		eth := l.(*layers.Ethernet)
		info.Link.SrcMAC = eth.SrcMAC
		info.Link.DstMAC = eth.DstMAC
	}
	if l := packet.Layer(layers.LayerTypeDot1Q); l != nil {
		info.Link.VLAN = l.(*layers.Dot1Q).VLANIdentifier
	}

	switch {
	case packet.Layer(layers.LayerTypeIPv4) != nil:
		ip := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		info.FiveTuple.SrcIP = ip.SrcIP
		info.FiveTuple.DstIP = ip.DstIP
		info.FiveTuple.Protocol = uint8(ip.Protocol)
		info.Tos = ip.TOS
	case packet.Layer(layers.LayerTypeIPv6) != nil:
		ip := packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
		info.FiveTuple.SrcIP = ip.SrcIP
		info.FiveTuple.DstIP = ip.DstIP
		info.FiveTuple.Protocol = uint8(ip.NextHeader)
		info.Tos = ip.TrafficClass
	default:
		return nil, ErrNotIP
	}

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		info.FiveTuple.SrcPort = uint16(tcp.SrcPort)
		info.FiveTuple.DstPort = uint16(tcp.DstPort)
		info.TCPFlags = tcpFlags(tcp)
		// A SYN without ACK opens a flow.
		if tcp.SYN && !tcp.ACK {
			info.Flows = 1
		}
	} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		info.FiveTuple.SrcPort = uint16(udp.SrcPort)
		info.FiveTuple.DstPort = uint16(udp.DstPort)
	}

	return info, nil
}

func tcpFlags(tcp *layers.TCP) uint8 {
	var f uint8
	if tcp.FIN {
		f |= FlagFIN
	}
	if tcp.SYN {
		f |= FlagSYN
	}
	if tcp.RST {
		f |= FlagRST
	}
	if tcp.PSH {
		f |= FlagPSH
	}
	if tcp.ACK {
		f |= FlagACK
	}
	if tcp.URG {
		f |= FlagURG
	}
	return f
}

// Decode parses a raw Ethernet frame.
func Decode(data []byte, ci gopacket.CaptureInfo) (*model.PacketInfo, error) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	if md := packet.Metadata(); md != nil {
		md.CaptureInfo = ci
	}
	return ParsePacket(packet)
}
