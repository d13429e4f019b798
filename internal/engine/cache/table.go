package cache

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Table maps keys to records through a fixed number of hash buckets. Each
// bucket holds the head of a chain of records linked by arena reference.
type Table struct {
	buckets []Ref
	size    uint32
	arena   *Arena
	records int
	gen     uint32
	visited []uint32 // sweep generation per arena index, grown on demand
}

// NewTable creates a table with size buckets. The size never changes.
func NewTable(size int, arena *Arena) *Table {
	if size <= 0 {
		size = 1
	}
	t := &Table{
		buckets: make([]Ref, size),
		size:    uint32(size),
		arena:   arena,
	}
	for i := range t.buckets {
		t.buckets[i] = nilRef
	}
	return t
}

// Size returns the number of buckets.
func (t *Table) Size() int { return int(t.size) }

// Len returns the number of records linked in the table.
func (t *Table) Len() int { return t.records }

// Modulo maps a key to its bucket index.
func (t *Table) Modulo(k *Key) uint32 {
	var buf [KeySize]byte
	k.Encode(&buf)
	return uint32(xxhash.Sum64(buf[:]) % uint64(t.size))
}

// Find returns the live record for key in the window starting at basetime.
func (t *Table) Find(k *Key, basetime time.Time) *Record {
	r, _, _ := t.lookup(t.Modulo(k), k, basetime)
	return r
}

// lookup walks a chain and returns the match and the chain tail. The walk is
// bounded by the arena capacity so a corrupted chain cannot spin forever.
func (t *Table) lookup(bucket uint32, k *Key, basetime time.Time) (match, tail *Record, err error) {
	limit := t.arena.Capacity()
	steps := 0
	for ref := t.buckets[bucket]; ref != nilRef; {
		r := t.arena.Get(ref)
		if r.state == StateInUse && !r.marked && r.Key == *k && r.Basetime.Equal(basetime) {
			return r, nil, nil
		}
		tail = r
		ref = r.next
		if steps++; steps > limit {
			return nil, nil, fmt.Errorf("%w: bucket %d longer than arena capacity %d", ErrCorruptChain, bucket, limit)
		}
	}
	return nil, tail, nil
}

// InsertOrUpdate merges m into the live record for key, or allocates and
// chains a new one. created reports whether a new record was allocated.
func (t *Table) InsertOrUpdate(k *Key, m *Measurement, stitching bool) (rec *Record, created bool, err error) {
	bucket := t.Modulo(k)
	match, tail, err := t.lookup(bucket, k, m.Basetime)
	if err != nil {
		return nil, false, err
	}
	if match != nil {
		match.merge(m, stitching)
		return match, false, nil
	}

	r, err := t.arena.Allocate()
	if err != nil {
		return nil, false, err
	}
	r.populate(k, m, stitching)
	r.bucket = bucket
	r.next = nilRef
	r.state = StateInUse
	if tail == nil {
		t.buckets[bucket] = r.ref
	} else {
		tail.next = r.ref
	}
	t.records++
	return r, true, nil
}

// sweepResult summarises one pass over the table.
type sweepResult struct {
	detached    int
	longest     int
	cyclesBroke int
}

// sweep visits every chained record. Records for which detach returns true
// are unlinked and passed to visit together with the outcome of the
// structural check. A chain that loops back onto itself is cut.
func (t *Table) sweep(detach func(r *Record) bool, visit func(r *Record, corrupt bool)) sweepResult {
	var res sweepResult
	t.gen++
	if n := t.arena.Capacity(); len(t.visited) < n {
		t.visited = append(t.visited, make([]uint32, n-len(t.visited))...)
	}

	for b := range t.buckets {
		var prev *Record
		length := 0
		for ref := t.buckets[b]; ref != nilRef; {
			r := t.arena.Get(ref)
			if t.visited[ref] == t.gen {
				if prev == nil {
					t.buckets[b] = nilRef
				} else {
					prev.next = nilRef
				}
				res.cyclesBroke++
				break
			}
			t.visited[ref] = t.gen
			length++
			next := r.next

			if detach(r) {
				if prev == nil {
					t.buckets[b] = next
				} else {
					prev.next = next
				}
				r.next = nilRef
				t.records--
				res.detached++
				corrupt := r.state != StateInUse || r.bucket != uint32(b) || t.Modulo(&r.Key) != uint32(b)
				visit(r, corrupt)
			} else {
				prev = r
			}
			ref = next
		}
		if length > res.longest {
			res.longest = length
		}
	}
	return res
}
