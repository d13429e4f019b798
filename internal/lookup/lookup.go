// Package lookup holds the read-only port and protocol classification tables
// consulted by the aggregation strategies. Tables are swapped atomically on
// reload so readers on the ingestion path never block.
package lookup

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const (
	PortsTableEntries  = 65536
	ProtosTableEntries = 256

	// PortOthers and ProtoOthers replace codes absent from a loaded table.
	PortOthers  uint16 = 0
	ProtoOthers uint8  = 255
)

// PortsTable marks which L4 ports are classified individually.
type PortsTable struct {
	Table     [PortsTableEntries]uint8
	Timestamp time.Time
}

// ProtosTable marks which IP protocols are classified individually.
type ProtosTable struct {
	Table     [ProtosTableEntries]uint8
	Timestamp time.Time
}

var protoNames = map[string]uint8{
	"icmp":   1,
	"igmp":   2,
	"tcp":    6,
	"udp":    17,
	"gre":    47,
	"esp":    50,
	"ah":     51,
	"icmpv6": 58,
	"ospf":   89,
	"pim":    103,
	"sctp":   132,
}

// LoadPorts reads a ports file: one port number per line, '#' or '!' start a comment.
func LoadPorts(path string) (*PortsTable, error) {
	t := &PortsTable{}
	err := scanLines(path, func(tok string) error {
		n, err := strconv.ParseUint(tok, 10, 16)
		if err != nil {
			return fmt.Errorf("invalid port '%s'", tok)
		}
		t.Table[n] = 1
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load ports table '%s': %w", path, err)
	}
	t.Timestamp = time.Now()
	return t, nil
}

// LoadProtos reads a protocols file: one protocol number or name per line.
func LoadProtos(path string) (*ProtosTable, error) {
	t := &ProtosTable{}
	err := scanLines(path, func(tok string) error {
		if n, ok := protoNames[strings.ToLower(tok)]; ok {
			t.Table[n] = 1
			return nil
		}
		n, err := strconv.ParseUint(tok, 10, 8)
		if err != nil {
			return fmt.Errorf("invalid protocol '%s'", tok)
		}
		t.Table[n] = 1
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load protocols table '%s': %w", path, err)
	}
	t.Timestamp = time.Now()
	return t, nil
}

func scanLines(path string, fn func(tok string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		tok := sc.Text()
		if i := strings.IndexAny(tok, "#!"); i >= 0 {
			tok = tok[:i]
		}
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if err := fn(tok); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return sc.Err()
}

// Tables is the reloadable pair of lookup tables. A nil table means no
// classification is applied for that field.
type Tables struct {
	portsPath  string
	protosPath string
	ports      atomic.Pointer[PortsTable]
	protos     atomic.Pointer[ProtosTable]
}

// NewTables loads the configured files. Empty paths disable the table.
func NewTables(portsPath, protosPath string) (*Tables, error) {
	t := &Tables{portsPath: portsPath, protosPath: protosPath}
	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload re-reads both files. On error the previous tables stay in place.
func (t *Tables) Reload() error {
	var ports *PortsTable
	var protos *ProtosTable
	var err error
	if t.portsPath != "" {
		if ports, err = LoadPorts(t.portsPath); err != nil {
			return err
		}
	}
	if t.protosPath != "" {
		if protos, err = LoadProtos(t.protosPath); err != nil {
			return err
		}
	}
	t.ports.Store(ports)
	t.protos.Store(protos)
	return nil
}

// Port classifies an L4 port.
func (t *Tables) Port(p uint16) uint16 {
	if t == nil {
		return p
	}
	tbl := t.ports.Load()
	if tbl == nil || tbl.Table[p] != 0 {
		return p
	}
	return PortOthers
}

// Proto classifies an IP protocol.
func (t *Tables) Proto(p uint8) uint8 {
	if t == nil {
		return p
	}
	tbl := t.protos.Load()
	if tbl == nil || tbl.Table[p] != 0 {
		return p
	}
	return ProtoOthers
}

// LoadedAt returns the last-load timestamps; zero when a table is disabled.
func (t *Tables) LoadedAt() (ports, protos time.Time) {
	if p := t.ports.Load(); p != nil {
		ports = p.Timestamp
	}
	if p := t.protos.Load(); p != nil {
		protos = p.Timestamp
	}
	return ports, protos
}
