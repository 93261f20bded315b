package alloc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolAccounting(t *testing.T) {
	for c := 0; c < NumClasses(); c++ {
		a, src := newTestAllocator(t, 4096)
		bs := ClassSize(c)
		table := &a.tables[c]
		n := int(defaultPoolSize / bs)
		require.Equal(t, uint32(n), table.blocks)

		ptrs := make([]unsafe.Pointer, 0, n)
		for range n {
			p := a.Malloc(bs, 0)
			require.NotNil(t, p)
			ptrs = append(ptrs, p)
		}
		require.Equal(t, []int{int(table.poolBytes)}, src.reserves, "class %d fits in one pool", bs)
		assert.Equal(t, nilPool, table.available)
		require.NotEqual(t, nilPool, table.exhausted)
		assert.Equal(t, uint32(n), a.index.at(table.exhausted).taken)
		require.NoError(t, a.ValidateHeap())

		for _, p := range ptrs {
			a.Free(p)
		}
		assert.Equal(t, src.reserves, src.releases, "class %d", bs)
		assert.Equal(t, nilPool, table.available)
		assert.Equal(t, nilPool, table.exhausted)
		assert.Zero(t, table.stats.ActivePools)
		assert.Zero(t, src.Reserved())
		require.NoError(t, a.ValidateHeap())
	}
}

func TestPageBinAccounting(t *testing.T) {
	a, src := newTestAllocator(t, 65536)

	var ptrs []unsafe.Pointer
	for range 4 {
		ptrs = append(ptrs, a.Malloc(40000, 0))
	}
	assert.Equal(t, []int{3 * 65536}, src.reserves)
	size, _ := a.GetAllocationSize(ptrs[3])
	assert.Equal(t, uintptr(49152), size)

	ptrs = append(ptrs, a.Malloc(70000, 0))
	assert.Equal(t, []int{3 * 65536, 6 * 65536}, src.reserves)

	for _, p := range ptrs {
		a.Free(p)
	}
	assert.Equal(t, src.reserves, src.releases)
}

func TestPoolExhaustionTransitions(t *testing.T) {
	a, _ := newTestAllocator(t, 4096)
	c, _ := ClassFor(32768)
	table := &a.tables[c]

	p := a.Malloc(32768, 0)
	ref := table.available
	require.NotEqual(t, nilPool, ref)

	q := a.Malloc(32768, 0)
	assert.Equal(t, nilPool, table.available)
	assert.Equal(t, ref, table.exhausted)

	a.Free(q)
	assert.Equal(t, ref, table.available, "a freed block makes the pool available again")
	assert.Equal(t, nilPool, table.exhausted)

	r := a.Malloc(32768, 0)
	assert.Equal(t, q, r, "freed blocks are reused first")

	s := a.Malloc(32768, 0)
	assert.Equal(t, 2, table.stats.ActivePools)
	require.NoError(t, a.ValidateHeap())

	for _, x := range []unsafe.Pointer{p, r, s} {
		a.Free(x)
	}
	assert.Zero(t, table.stats.ActivePools)
	assert.Equal(t, 2, table.stats.PeakPools)
}

func TestFreeListIsLIFO(t *testing.T) {
	a, _ := newTestAllocator(t, 4096)

	keep := a.Malloc(16, 0)
	ptrs := []unsafe.Pointer{a.Malloc(16, 0), a.Malloc(16, 0), a.Malloc(16, 0)}
	for _, p := range ptrs {
		a.Free(p)
	}
	for i := len(ptrs) - 1; i >= 0; i-- {
		assert.Equal(t, ptrs[i], a.Malloc(16, 0))
	}
	require.NoError(t, a.ValidateHeap())
	a.Free(keep)
}

func TestPoolListsSpanManyPools(t *testing.T) {
	a, src := newTestAllocator(t, 4096)

	var ptrs []unsafe.Pointer
	for range 5000 {
		ptrs = append(ptrs, a.Malloc(200, 0))
	}
	require.NoError(t, a.ValidateHeap())
	pools := len(src.reserves)
	assert.Greater(t, pools, 10)

	// Free from the middle out so pools move between lists in both directions.
	for i := 0; i < len(ptrs); i += 3 {
		a.Free(ptrs[i])
	}
	require.NoError(t, a.ValidateHeap())
	for i := 0; i < len(ptrs); i++ {
		if i%3 != 0 {
			a.Free(ptrs[i])
		}
	}
	require.NoError(t, a.ValidateHeap())
	assert.Len(t, src.releases, pools)
	assert.Zero(t, src.Reserved())
}
