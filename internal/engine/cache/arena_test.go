package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArena_GrowsOneSlabAtATime(t *testing.T) {
	a := NewArena(2, 0)
	assert.Equal(t, 1, a.Stats().Slabs, "first slab is created eagerly")

	for i := 0; i < 3; i++ {
		r, err := a.Allocate()
		require.NoError(t, err)
		assert.Equal(t, StateCommitted, r.State())
	}

	st := a.Stats()
	assert.Equal(t, 2, st.Slabs)
	assert.Equal(t, 1, st.Grows)
	assert.Equal(t, 3, st.InUse)
	assert.Equal(t, 4, a.Capacity())
}

func TestArena_ReusesReleasedRecords(t *testing.T) {
	a := NewArena(2, 0)
	r1, err := a.Allocate()
	require.NoError(t, err)
	r1.Bytes = 42
	ref := r1.Ref()

	require.NoError(t, a.Release(r1))
	assert.Equal(t, StateFree, r1.State())
	assert.Zero(t, r1.Bytes, "released records are scrubbed")

	r2, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, ref, r2.Ref())
	assert.Equal(t, 0, a.Stats().Grows)
}

func TestArena_RefusesDoubleRelease(t *testing.T) {
	a := NewArena(4, 0)
	r, err := a.Allocate()
	require.NoError(t, err)
	require.NoError(t, a.Release(r))

	err = a.Release(r)
	assert.ErrorIs(t, err, ErrDoubleRelease)
	assert.Equal(t, 1, a.Stats().Free, "a refused release must not grow the free list")
}

func TestArena_Exhausted(t *testing.T) {
	a := NewArena(1, 1)
	_, err := a.Allocate()
	require.NoError(t, err)

	_, err = a.Allocate()
	assert.ErrorIs(t, err, ErrArenaExhausted)
}

func TestArena_GetResolvesAcrossSlabs(t *testing.T) {
	a := NewArena(2, 0)
	var refs []Ref
	for i := 0; i < 5; i++ {
		r, err := a.Allocate()
		require.NoError(t, err)
		r.Bytes = uint64(i)
		refs = append(refs, r.Ref())
	}
	for i, ref := range refs {
		assert.Equal(t, uint64(i), a.Get(ref).Bytes)
	}
	assert.Nil(t, a.Get(nilRef))
}
