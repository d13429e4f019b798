package probe

import (
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"Go2NetCache/internal/model"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the PacketInfo wire message.
const (
	fieldTimestamp protowire.Number = iota + 1
	fieldSrcIP
	fieldDstIP
	fieldSrcPort
	fieldDstPort
	fieldProtocol
	fieldLength
	fieldSrcMAC
	fieldDstMAC
	fieldVLAN
	fieldTos
	fieldTCPFlags
	fieldSrcAS
	fieldDstAS
	fieldInIface
	fieldOutIface
	fieldPackets
	fieldFlows
	fieldFlowType
	fieldEdge
	fieldFlowStart
	fieldFlowEnd
	fieldLabels
	fieldFwdStatus
	fieldMPLS
	fieldASPath
)

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendTime(b []byte, num protowire.Number, t time.Time) []byte {
	if t.IsZero() {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, uint64(t.UnixNano()))
}

func compactIP(ip net.IP) []byte {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}

// Marshal encodes info as a protobuf PacketInfo message.
func Marshal(info *model.PacketInfo) []byte {
	b := make([]byte, 0, 96)
	b = appendTime(b, fieldTimestamp, info.Timestamp)
	b = appendBytes(b, fieldSrcIP, compactIP(info.FiveTuple.SrcIP))
	b = appendBytes(b, fieldDstIP, compactIP(info.FiveTuple.DstIP))
	b = appendVarint(b, fieldSrcPort, uint64(info.FiveTuple.SrcPort))
	b = appendVarint(b, fieldDstPort, uint64(info.FiveTuple.DstPort))
	b = appendVarint(b, fieldProtocol, uint64(info.FiveTuple.Protocol))
	b = appendVarint(b, fieldLength, uint64(info.Length))
	b = appendBytes(b, fieldSrcMAC, info.Link.SrcMAC)
	b = appendBytes(b, fieldDstMAC, info.Link.DstMAC)
	b = appendVarint(b, fieldVLAN, uint64(info.Link.VLAN))
	b = appendVarint(b, fieldTos, uint64(info.Tos))
	b = appendVarint(b, fieldTCPFlags, uint64(info.TCPFlags))
	b = appendVarint(b, fieldSrcAS, uint64(info.SrcAS))
	b = appendVarint(b, fieldDstAS, uint64(info.DstAS))
	b = appendVarint(b, fieldInIface, uint64(info.InIface))
	b = appendVarint(b, fieldOutIface, uint64(info.OutIface))
	b = appendVarint(b, fieldPackets, info.Packets)
	b = appendVarint(b, fieldFlows, info.Flows)
	b = appendVarint(b, fieldFlowType, uint64(info.FlowType))
	b = appendVarint(b, fieldEdge, uint64(info.Edge))
	b = appendTime(b, fieldFlowStart, info.FlowStart)
	b = appendTime(b, fieldFlowEnd, info.FlowEnd)
	b = appendBytes(b, fieldLabels, []byte(info.Ext.Labels))
	b = appendVarint(b, fieldFwdStatus, uint64(info.Ext.FwdStatus))
	if info.Ext.MPLS != nil && len(info.Ext.MPLS.Labels) > 0 {
		var packed []byte
		for _, l := range info.Ext.MPLS.Labels {
			packed = protowire.AppendVarint(packed, uint64(l))
		}
		b = appendBytes(b, fieldMPLS, packed)
	}
	if info.Ext.BGP != nil {
		b = appendBytes(b, fieldASPath, []byte(info.Ext.BGP.ASPath))
	}
	return b
}

var errTruncated = errors.New("truncated packet message")

// Unmarshal decodes a PacketInfo message. Unknown fields are skipped.
func Unmarshal(data []byte) (*model.PacketInfo, error) {
	info := &model.PacketInfo{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("invalid tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errTruncated
			}
			data = data[n:]
			if err := setVarint(info, num, v); err != nil {
				return nil, err
			}
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return nil, errTruncated
			}
			data = data[n:]
			t := time.Unix(0, int64(v))
			switch num {
			case fieldTimestamp:
				info.Timestamp = t
			case fieldFlowStart:
				info.FlowStart = t
			case fieldFlowEnd:
				info.FlowEnd = t
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errTruncated
			}
			data = data[n:]
			if err := setBytes(info, num, v); err != nil {
				return nil, err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, errTruncated
			}
			data = data[n:]
		}
	}
	return info, nil
}

func setVarint(info *model.PacketInfo, num protowire.Number, v uint64) error {
	switch num {
	case fieldSrcPort:
		info.FiveTuple.SrcPort = uint16(v)
	case fieldDstPort:
		info.FiveTuple.DstPort = uint16(v)
	case fieldProtocol:
		info.FiveTuple.Protocol = uint8(v)
	case fieldLength:
		if v > math.MaxInt32 {
			return fmt.Errorf("packet length %d out of range", v)
		}
		info.Length = int(v)
	case fieldVLAN:
		info.Link.VLAN = uint16(v)
	case fieldTos:
		info.Tos = uint8(v)
	case fieldTCPFlags:
		info.TCPFlags = uint8(v)
	case fieldSrcAS:
		info.SrcAS = uint32(v)
	case fieldDstAS:
		info.DstAS = uint32(v)
	case fieldInIface:
		info.InIface = uint32(v)
	case fieldOutIface:
		info.OutIface = uint32(v)
	case fieldPackets:
		info.Packets = v
	case fieldFlows:
		info.Flows = v
	case fieldFlowType:
		info.FlowType = uint8(v)
	case fieldEdge:
		info.Edge = model.FlowEdge(v)
	case fieldFwdStatus:
		info.Ext.FwdStatus = uint8(v)
	}
	return nil
}

func setBytes(info *model.PacketInfo, num protowire.Number, v []byte) error {
	switch num {
	case fieldSrcIP:
		info.FiveTuple.SrcIP = append(net.IP(nil), v...)
	case fieldDstIP:
		info.FiveTuple.DstIP = append(net.IP(nil), v...)
	case fieldSrcMAC:
		info.Link.SrcMAC = append(net.HardwareAddr(nil), v...)
	case fieldDstMAC:
		info.Link.DstMAC = append(net.HardwareAddr(nil), v...)
	case fieldLabels:
		info.Ext.Labels = string(v)
	case fieldASPath:
		info.Ext.BGP = &model.BGPAttrs{ASPath: string(v)}
	case fieldMPLS:
		mpls := &model.MPLSAttrs{}
		for len(v) > 0 {
			l, n := protowire.ConsumeVarint(v)
			if n < 0 {
				return errTruncated
			}
			mpls.Labels = append(mpls.Labels, uint32(l))
			v = v[n:]
		}
		info.Ext.MPLS = mpls
	}
	return nil
}
