// Package tablerr selects destination table names for flushed batches:
// round-robin over a configured list, with per-window name templates.
package tablerr

import (
	"strconv"
	"strings"
	"time"
)

// IndexPlaceholder in a table name is replaced by the round-robin index.
const IndexPlaceholder = "$tn"

// Next returns the table at index and the index for the following call,
// wrapping at the end of the list. An out-of-range index restarts at 0.
func Next(tables []string, index int) (string, int) {
	if len(tables) == 0 {
		return "", 0
	}
	if index < 0 || index >= len(tables) {
		index = 0
	}
	return tables[index], (index + 1) % len(tables)
}

// Resolve expands time placeholders in pattern against t (in UTC):
// %Y %m %d %H %M %S, %s for Unix seconds and %% for a literal percent.
// Unknown placeholders are kept verbatim.
func Resolve(pattern string, t time.Time) string {
	if !strings.ContainsRune(pattern, '%') {
		return pattern
	}
	t = t.UTC()
	var b strings.Builder
	b.Grow(len(pattern) + 8)
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c != '%' || i+1 == len(pattern) {
			b.WriteByte(c)
			continue
		}
		i++
		switch pattern[i] {
		case 'Y':
			b.WriteString(strconv.Itoa(t.Year()))
		case 'm':
			pad2(&b, int(t.Month()))
		case 'd':
			pad2(&b, t.Day())
		case 'H':
			pad2(&b, t.Hour())
		case 'M':
			pad2(&b, t.Minute())
		case 'S':
			pad2(&b, t.Second())
		case 's':
			b.WriteString(strconv.FormatInt(t.Unix(), 10))
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(pattern[i])
		}
	}
	return b.String()
}

func pad2(b *strings.Builder, v int) {
	if v < 10 {
		b.WriteByte('0')
	}
	b.WriteString(strconv.Itoa(v))
}

// Selector cycles one writer's tables. Each writer owns its selector; it is
// not safe for concurrent use.
type Selector struct {
	tables []string
	next   int
}

// NewSelector creates a selector over tables. A single pattern containing
// IndexPlaceholder with rr > 1 is unrolled into rr tables.
func NewSelector(tables []string, rr int) *Selector {
	if len(tables) == 1 && rr > 1 && strings.Contains(tables[0], IndexPlaceholder) {
		unrolled := make([]string, rr)
		for i := range unrolled {
			unrolled[i] = strings.ReplaceAll(tables[0], IndexPlaceholder, strconv.Itoa(i))
		}
		tables = unrolled
	}
	return &Selector{tables: tables}
}

// Pick returns the next table name resolved for the batch window.
func (s *Selector) Pick(window time.Time) string {
	var name string
	name, s.next = Next(s.tables, s.next)
	return Resolve(name, window)
}

// Len returns the number of tables in rotation.
func (s *Selector) Len() int { return len(s.tables) }
