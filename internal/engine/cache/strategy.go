package cache

import (
	"fmt"
	"sort"

	"Go2NetCache/internal/lookup"
	"Go2NetCache/internal/model"
)

// Strategy projects a decoded record onto the keys it is accounted under.
// One strategy is chosen per engine at configuration time.
type Strategy interface {
	Name() string
	// Project appends the keys for pkt to keys and returns the result.
	Project(pkt *model.PacketInfo, keys []Key) []Key
}

// StrategyFactory builds a strategy. keyFields is only used by "fields".
type StrategyFactory func(keyFields []string, tables *lookup.Tables) (Strategy, error)

var strategies = make(map[string]StrategyFactory)

// RegisterStrategy registers a named strategy.
func RegisterStrategy(name string, factory StrategyFactory) {
	if _, exists := strategies[name]; exists {
		panic(fmt.Sprintf("aggregation strategy '%s' already registered", name))
	}
	strategies[name] = factory
}

// NewStrategy creates the strategy registered under name.
func NewStrategy(name string, keyFields []string, tables *lookup.Tables) (Strategy, error) {
	factory, ok := strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownStrategy, name)
	}
	return factory(keyFields, tables)
}

// Strategies lists the registered strategy names.
func Strategies() []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterStrategy("host", func(_ []string, _ *lookup.Tables) (Strategy, error) { return sumHost{}, nil })
	RegisterStrategy("port", func(_ []string, t *lookup.Tables) (Strategy, error) { return sumPort{tables: t}, nil })
	RegisterStrategy("as", func(_ []string, _ *lookup.Tables) (Strategy, error) { return sumAS{}, nil })
	RegisterStrategy("mac", func(_ []string, _ *lookup.Tables) (Strategy, error) { return sumMAC{}, nil })
	RegisterStrategy("fields", newFieldsStrategy)
}

// The sum strategies account every packet twice, once for each endpoint,
// always under the source slot of the key.

type sumHost struct{}

func (sumHost) Name() string { return "host" }

func (sumHost) Project(pkt *model.PacketInfo, keys []Key) []Key {
	var src, dst Key
	src.SetSrcIP(pkt.FiveTuple.SrcIP)
	dst.SetSrcIP(pkt.FiveTuple.DstIP)
	return append(keys, src, dst)
}

type sumPort struct {
	tables *lookup.Tables
}

func (sumPort) Name() string { return "port" }

func (s sumPort) Project(pkt *model.PacketInfo, keys []Key) []Key {
	var src, dst Key
	src.SrcPort = s.tables.Port(pkt.FiveTuple.SrcPort)
	dst.SrcPort = s.tables.Port(pkt.FiveTuple.DstPort)
	return append(keys, src, dst)
}

type sumAS struct{}

func (sumAS) Name() string { return "as" }

func (sumAS) Project(pkt *model.PacketInfo, keys []Key) []Key {
	var src, dst Key
	src.SrcAS = pkt.SrcAS
	dst.SrcAS = pkt.DstAS
	return append(keys, src, dst)
}

type sumMAC struct{}

func (sumMAC) Name() string { return "mac" }

func (sumMAC) Project(pkt *model.PacketInfo, keys []Key) []Key {
	if len(pkt.Link.SrcMAC) != MACByteSize || len(pkt.Link.DstMAC) != MACByteSize {
		return keys
	}
	var src, dst Key
	setMAC(&src.SrcMAC, pkt.Link.SrcMAC)
	setMAC(&dst.SrcMAC, pkt.Link.DstMAC)
	src.VLAN = pkt.Link.VLAN
	dst.VLAN = pkt.Link.VLAN
	return append(keys, src, dst)
}

// fieldSetter copies one decoded field into the key.
type fieldSetter func(pkt *model.PacketInfo, k *Key)

// fieldsStrategy builds a single key from a configured list of fields.
type fieldsStrategy struct {
	fields  []string
	setters []fieldSetter
}

func newFieldsStrategy(keyFields []string, tables *lookup.Tables) (Strategy, error) {
	if len(keyFields) == 0 {
		return nil, fmt.Errorf("fields strategy needs at least one key field")
	}
	s := &fieldsStrategy{fields: keyFields}
	for _, name := range keyFields {
		var set fieldSetter
		switch name {
		case "SrcIP":
			set = func(p *model.PacketInfo, k *Key) { k.SetSrcIP(p.FiveTuple.SrcIP) }
		case "DstIP":
			set = func(p *model.PacketInfo, k *Key) { k.SetDstIP(p.FiveTuple.DstIP) }
		case "SrcPort":
			set = func(p *model.PacketInfo, k *Key) { k.SrcPort = tables.Port(p.FiveTuple.SrcPort) }
		case "DstPort":
			set = func(p *model.PacketInfo, k *Key) { k.DstPort = tables.Port(p.FiveTuple.DstPort) }
		case "Protocol":
			set = func(p *model.PacketInfo, k *Key) { k.Protocol = tables.Proto(p.FiveTuple.Protocol) }
		case "SrcMAC":
			set = func(p *model.PacketInfo, k *Key) { setMAC(&k.SrcMAC, p.Link.SrcMAC) }
		case "DstMAC":
			set = func(p *model.PacketInfo, k *Key) { setMAC(&k.DstMAC, p.Link.DstMAC) }
		case "VLAN":
			set = func(p *model.PacketInfo, k *Key) { k.VLAN = p.Link.VLAN }
		case "SrcAS":
			set = func(p *model.PacketInfo, k *Key) { k.SrcAS = p.SrcAS }
		case "DstAS":
			set = func(p *model.PacketInfo, k *Key) { k.DstAS = p.DstAS }
		case "InIface":
			set = func(p *model.PacketInfo, k *Key) { k.InIface = p.InIface }
		case "OutIface":
			set = func(p *model.PacketInfo, k *Key) { k.OutIface = p.OutIface }
		case "Tos":
			set = func(p *model.PacketInfo, k *Key) { k.Tos = p.Tos }
		default:
			return nil, fmt.Errorf("unknown key field: %s", name)
		}
		s.setters = append(s.setters, set)
	}
	return s, nil
}

func (s *fieldsStrategy) Name() string { return "fields" }

func (s *fieldsStrategy) Project(pkt *model.PacketInfo, keys []Key) []Key {
	var k Key
	for _, set := range s.setters {
		set(pkt, &k)
	}
	return append(keys, k)
}
