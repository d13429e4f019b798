package writer

import (
	"context"
	"fmt"
	"net"
	"time"

	"Go2NetCache/internal/config"
	"Go2NetCache/internal/engine/cache"
	"Go2NetCache/internal/primitives"
	"Go2NetCache/internal/tablerr"

	"go.uber.org/zap"
)

// DefaultTable is used when a writer configures no tables.
const DefaultTable = "acct"

// Writer receives flushed batches. Write must not retain the batch or its
// records after returning: they are recycled once every writer is done.
type Writer interface {
	Name() string
	Write(ctx context.Context, b *cache.Batch) error
	Close() error
}

// New creates the writer described by def.
func New(ctx context.Context, def config.WriterDef, logger *zap.Logger) (Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "writer"), zap.String("writer", def.Type))
	tables := def.Tables
	if len(tables) == 0 {
		tables = []string{DefaultTable}
	}
	sel := tablerr.NewSelector(tables, def.TablesRR)

	switch def.Type {
	case "gob":
		return NewGobWriter(def.Gob.RootPath, sel, logger), nil
	case "text":
		return NewTextWriter(def.Text.RootPath, sel, logger)
	case "clickhouse":
		return NewClickHouseWriter(ctx, def.ClickHouse, sel, logger)
	case "redis":
		return NewRedisWriter(def.Redis, sel, logger)
	default:
		return nil, fmt.Errorf("unknown writer type '%s'", def.Type)
	}
}

// FlowRecord is the writer-facing view of a flushed record. Unset key
// fields are left empty.
type FlowRecord struct {
	Window    time.Time         `json:"window"`
	SrcIP     string            `json:"src_ip,omitempty"`
	DstIP     string            `json:"dst_ip,omitempty"`
	SrcMAC    string            `json:"src_mac,omitempty"`
	DstMAC    string            `json:"dst_mac,omitempty"`
	VLAN      uint16            `json:"vlan,omitempty"`
	SrcAS     uint32            `json:"src_as,omitempty"`
	DstAS     uint32            `json:"dst_as,omitempty"`
	InIface   uint32            `json:"in_iface,omitempty"`
	OutIface  uint32            `json:"out_iface,omitempty"`
	SrcPort   uint16            `json:"src_port,omitempty"`
	DstPort   uint16            `json:"dst_port,omitempty"`
	Protocol  uint8             `json:"protocol,omitempty"`
	Tos       uint8             `json:"tos,omitempty"`
	Bytes     uint64            `json:"bytes"`
	Packets   uint64            `json:"packets"`
	Flows     uint64            `json:"flows"`
	FlowType  uint8             `json:"flow_type,omitempty"`
	TCPFlags  []string          `json:"tcp_flags,omitempty"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time"`
	Duration  time.Duration     `json:"duration,omitempty"`
	ASPath    string            `json:"as_path,omitempty"`
	MPLS      string            `json:"mpls_labels,omitempty"`
	FwdStatus string            `json:"fwd_status,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}

var (
	zeroIP  [cache.IPv6ByteSize]byte
	zeroMAC [cache.MACByteSize]byte
)

// NewFlowRecord renders r.
func NewFlowRecord(r *cache.Record) FlowRecord {
	k := &r.Key
	fr := FlowRecord{
		Window:    r.Basetime,
		VLAN:      k.VLAN,
		SrcAS:     k.SrcAS,
		DstAS:     k.DstAS,
		InIface:   k.InIface,
		OutIface:  k.OutIface,
		SrcPort:   k.SrcPort,
		DstPort:   k.DstPort,
		Protocol:  k.Protocol,
		Tos:       k.Tos,
		Bytes:     r.Bytes,
		Packets:   r.Packets,
		Flows:     r.Flows,
		FlowType:  r.FlowType,
		TCPFlags:  primitives.TCPFlags(r.TCPFlags),
		StartTime: r.StartTime,
		EndTime:   r.EndTime,
		Labels:    primitives.LabelMap(r.Ext.Labels),
	}
	if k.SrcIP != zeroIP {
		fr.SrcIP = ipString(k.SrcIP)
	}
	if k.DstIP != zeroIP {
		fr.DstIP = ipString(k.DstIP)
	}
	if k.SrcMAC != zeroMAC {
		fr.SrcMAC = net.HardwareAddr(k.SrcMAC[:]).String()
	}
	if k.DstMAC != zeroMAC {
		fr.DstMAC = net.HardwareAddr(k.DstMAC[:]).String()
	}
	if r.Stitch != nil {
		fr.Duration = r.Stitch.Duration
	}
	if r.Ext.BGP != nil {
		fr.ASPath = r.Ext.BGP.ASPath
	}
	if r.Ext.MPLS != nil {
		fr.MPLS = primitives.MPLSLabelStack(r.Ext.MPLS.Labels)
	}
	if r.Ext.FwdStatus != 0 {
		fr.FwdStatus = primitives.FwdStatusString(r.Ext.FwdStatus)
	}
	return fr
}

func ipString(b [cache.IPv6ByteSize]byte) string {
	ip := net.IP(b[:])
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}

// FlowRecords renders records.
func FlowRecords(records []*cache.Record) []FlowRecord {
	out := make([]FlowRecord, len(records))
	for i, r := range records {
		out[i] = NewFlowRecord(r)
	}
	return out
}

// Summary describes one written batch.
type Summary struct {
	Table        string `json:"table"`
	Batch        uint64 `json:"batch"`
	Window       string `json:"window"`
	Cutoff       string `json:"cutoff"`
	TotalRecords int    `json:"total_records"`
	TotalBytes   uint64 `json:"total_bytes"`
	TotalPackets uint64 `json:"total_packets"`
	TotalFlows   uint64 `json:"total_flows"`
	Excluded     int    `json:"excluded"`
	Timestamp    string `json:"timestamp"`
}

// summarize describes the part of b that belongs to window wr. Excluded
// records are reported with the oldest window of the batch.
func summarize(table string, b *cache.Batch, wr cache.WindowRecords, first bool) Summary {
	s := Summary{
		Table:        table,
		Batch:        b.Seq,
		Window:       wr.Basetime.UTC().Format(time.RFC3339),
		Cutoff:       b.Cutoff.UTC().Format(time.RFC3339),
		TotalRecords: len(wr.Records),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
	if first {
		s.Excluded = len(b.Errors)
	}
	for _, r := range wr.Records {
		s.TotalBytes += r.Bytes
		s.TotalPackets += r.Packets
		s.TotalFlows += r.Flows
	}
	return s
}

// windowDir is the directory name used for a window.
func windowDir(basetime time.Time) string {
	return basetime.UTC().Format("2006-01-02_15-04-05")
}
