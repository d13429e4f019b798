package cache

import (
	"fmt"
	"math"
)

const maxRecords = math.MaxInt32

// slab is a contiguous block of record storage. Slabs are chained through
// next and are only released together with the whole arena.
type slab struct {
	records []Record
	cursor  int
	next    *slab
}

// ArenaStats describes the arena occupancy.
type ArenaStats struct {
	Slabs       int
	SlabRecords int
	InUse       int
	Free        int
	Grows       int
}

// Arena hands out records from slabs and recycles them through a free list.
// It is owned by the ingestion path and is not safe for concurrent use.
type Arena struct {
	slabCap  int
	maxSlabs int

	head  *slab
	tail  *slab
	slabs []*slab // indexed by Ref / slabCap

	free  []Ref
	inUse int
	grows int
}

// NewArena creates an arena whose slabs hold slabRecords records each.
// maxSlabs bounds growth; zero means unbounded.
func NewArena(slabRecords, maxSlabs int) *Arena {
	if slabRecords <= 0 {
		slabRecords = 1
	}
	a := &Arena{slabCap: slabRecords, maxSlabs: maxSlabs}
	a.addSlab()
	return a
}

func (a *Arena) addSlab() {
	s := &slab{records: make([]Record, a.slabCap)}
	base := len(a.slabs) * a.slabCap
	for i := range s.records {
		s.records[i].ref = Ref(base + i)
		s.records[i].next = nilRef
	}
	if a.tail == nil {
		a.head = s
	} else {
		a.tail.next = s
	}
	a.tail = s
	a.slabs = append(a.slabs, s)
}

// Allocate returns a scrubbed record in the committed state. It grows the
// arena by one slab when the free list and the current slab are exhausted.
func (a *Arena) Allocate() (*Record, error) {
	var r *Record
	if n := len(a.free); n > 0 {
		r = a.Get(a.free[n-1])
		a.free = a.free[:n-1]
	} else {
		if a.tail.cursor == len(a.tail.records) {
			if a.maxSlabs > 0 && len(a.slabs) >= a.maxSlabs {
				return nil, fmt.Errorf("%w: %d slabs of %d records", ErrArenaExhausted, len(a.slabs), a.slabCap)
			}
			if (len(a.slabs)+1)*a.slabCap > maxRecords {
				return nil, fmt.Errorf("%w: index space exhausted", ErrArenaExhausted)
			}
			a.addSlab()
			a.grows++
		}
		r = &a.tail.records[a.tail.cursor]
		a.tail.cursor++
	}
	r.state = StateCommitted
	a.inUse++
	return r, nil
}

// Release scrubs r and puts it on the free list. Releasing a free record
// is refused so a slot can never be handed out twice.
func (a *Arena) Release(r *Record) error {
	if r.state == StateFree {
		return fmt.Errorf("%w: record %d", ErrDoubleRelease, r.ref)
	}
	r.scrub()
	a.free = append(a.free, r.ref)
	a.inUse--
	return nil
}

// Get resolves a reference. It returns nil for nilRef.
func (a *Arena) Get(ref Ref) *Record {
	if ref == nilRef {
		return nil
	}
	idx := int(ref)
	return &a.slabs[idx/a.slabCap].records[idx%a.slabCap]
}

// Capacity is the number of records the current slabs can hold.
func (a *Arena) Capacity() int { return len(a.slabs) * a.slabCap }

// Stats returns the arena occupancy.
func (a *Arena) Stats() ArenaStats {
	return ArenaStats{
		Slabs:       len(a.slabs),
		SlabRecords: a.slabCap,
		InUse:       a.inUse,
		Free:        len(a.free),
		Grows:       a.grows,
	}
}

// Close drops every slab. The arena must not be used afterwards.
func (a *Arena) Close() {
	for s := a.head; s != nil; {
		next := s.next
		s.next = nil
		s.records = nil
		s = next
	}
	a.head, a.tail, a.slabs, a.free = nil, nil, nil, nil
	a.inUse = 0
}
