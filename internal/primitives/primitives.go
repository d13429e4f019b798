// Package primitives renders record fields into the forms writers emit.
package primitives

import (
	"strconv"
	"strings"
)

// MaxLabelTokenLen bounds the length of a label key or value.
const MaxLabelTokenLen = 128

// Label is one key/value pair of a label string.
type Label struct {
	Key   string
	Value string
}

// ParseLabels splits "k1:v1,k2:v2" into ordered pairs. A token without a
// colon becomes a key with an empty value; empty tokens are skipped.
func ParseLabels(s string) []Label {
	if s == "" {
		return nil
	}
	var out []Label
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		k, v, _ := strings.Cut(tok, ":")
		out = append(out, Label{Key: truncate(k), Value: truncate(v)})
	}
	return out
}

// LabelMap returns the labels as a map; later keys win.
func LabelMap(s string) map[string]string {
	labels := ParseLabels(s)
	if len(labels) == 0 {
		return nil
	}
	m := make(map[string]string, len(labels))
	for _, l := range labels {
		m[l.Key] = l.Value
	}
	return m
}

func truncate(s string) string {
	if len(s) > MaxLabelTokenLen {
		return s[:MaxLabelTokenLen]
	}
	return s
}

var tcpFlagNames = [...]struct {
	bit  uint32
	name string
}{
	{0x20, "URG"},
	{0x10, "ACK"},
	{0x08, "PSH"},
	{0x04, "RST"},
	{0x02, "SYN"},
	{0x01, "FIN"},
}

// TCPFlags lists the names of the flags set in mask.
func TCPFlags(mask uint32) []string {
	var out []string
	for _, f := range tcpFlagNames {
		if mask&f.bit != 0 {
			out = append(out, f.name)
		}
	}
	return out
}

// FwdStatus is one forwarding status code and its description.
type FwdStatus struct {
	Code        uint8
	Description string
}

var fwdStatuses = []FwdStatus{
	{0, "UNKNOWN Unknown"},
	{64, "FORWARDED Unknown"},
	{65, "FORWARDED Fragmented"},
	{66, "FORWARDED Not Fragmented"},
	{128, "DROPPED Unknown"},
	{129, "DROPPED ACL deny"},
	{130, "DROPPED ACL drop"},
	{131, "DROPPED Unroutable"},
	{132, "DROPPED Adjacency"},
	{133, "DROPPED Fragmentation and DF set"},
	{134, "DROPPED Bad header checksum"},
	{135, "DROPPED Bad total Length"},
	{136, "DROPPED Bad header length"},
	{137, "DROPPED bad TTL"},
	{138, "DROPPED Policer"},
	{139, "DROPPED WRED"},
	{140, "DROPPED RPF"},
	{141, "DROPPED For us"},
	{142, "DROPPED Bad output interface"},
	{143, "DROPPED Hardware"},
	{192, "CONSUMED Unknown"},
	{193, "CONSUMED Punt Adjacency"},
	{194, "CONSUMED Incomplete Adjacency"},
	{195, "CONSUMED For us"},
}

// FwdStatuses returns the known forwarding status codes in ascending order.
func FwdStatuses() []FwdStatus {
	out := make([]FwdStatus, len(fwdStatuses))
	copy(out, fwdStatuses)
	return out
}

// FwdStatusString describes code. Codes without an exact entry fall back
// to the unknown reason of their class.
func FwdStatusString(code uint8) string {
	for _, s := range fwdStatuses {
		if s.Code == code {
			return s.Description
		}
	}
	switch code >> 6 {
	case 1:
		return "FORWARDED Unknown"
	case 2:
		return "DROPPED Unknown"
	case 3:
		return "CONSUMED Unknown"
	}
	return "UNKNOWN Unknown"
}

// MPLSLabelStack renders labels as "l1_l2_...". Zero labels terminate the stack.
func MPLSLabelStack(labels []uint32) string {
	var b strings.Builder
	for i, l := range labels {
		if l == 0 {
			break
		}
		if i > 0 {
			b.WriteByte('_')
		}
		b.WriteString(strconv.FormatUint(uint64(l), 10))
	}
	return b.String()
}
