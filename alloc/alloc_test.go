package alloc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeClass(t *testing.T) {
	for c := 1; c < NumClasses(); c++ {
		require.Greater(t, ClassSize(c), ClassSize(c-1), "classes must be strictly increasing")
	}

	c, ok := ClassFor(0)
	require.True(t, ok)
	assert.Equal(t, 0, c)

	for c := 0; c < NumClasses(); c++ {
		bs := ClassSize(c)
		got, ok := ClassFor(bs)
		require.True(t, ok)
		assert.Equal(t, c, got, "size %d", bs)

		got, _ = ClassFor(bs - 1)
		assert.LessOrEqual(t, got, c)
		assert.GreaterOrEqual(t, ClassSize(got), bs-1)

		if c+1 < NumClasses() {
			got, ok = ClassFor(bs + 1)
			require.True(t, ok)
			assert.Equal(t, c+1, got, "size %d", bs+1)
		}
	}

	_, ok = ClassFor(maxPooledSize + 1)
	assert.False(t, ok)
}

func TestQuantizeSize(t *testing.T) {
	a, _ := newTestAllocator(t, 4096)

	tests := []struct {
		size, alignment, want uintptr
	}{
		{0, 0, 8},
		{1, 0, 8},
		{9, 8, 16},
		{40, 16, 48},
		{45, 16, 48},
		{100, 16, 112},
		{40, 32, 64},
		{100, 32, 128},
		{40, 64, 64},
		{65, 64, 128},
		{129, 64, 192},
		{32768, 8, 32768},
		{32769, 8, 36864},
		{40000, 8, 40960},
		{40000, 16384, 61440},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, a.QuantizeSize(tt.size, tt.alignment), "size %d align %d", tt.size, tt.alignment)
	}
}

func TestQuantizeSizePageBins(t *testing.T) {
	a, _ := newTestAllocator(t, 65536)

	assert.Equal(t, uintptr(32768), a.QuantizeSize(32768, 0))
	assert.Equal(t, uintptr(49152), a.QuantizeSize(40000, 0))
	assert.Equal(t, uintptr(65536), a.QuantizeSize(50000, 0), "between the bins goes to the OS")
	assert.Equal(t, uintptr(98304), a.QuantizeSize(70000, 0))
	assert.Equal(t, uintptr(131072), a.QuantizeSize(100000, 0))
	assert.Equal(t, uintptr(65536), a.QuantizeSize(40000, 16), "bins only serve default alignment")
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(newCountingSource(2048))
	assert.ErrorIs(t, err, ErrConfig)

	_, err = New(newCountingSource(4096), WithAddressLimit(3<<20))
	assert.ErrorIs(t, err, ErrConfig)

	_, err = New(newCountingSource(4096), WithPoolSize(4096))
	assert.ErrorIs(t, err, ErrConfig)
}

func TestMallocRealloc(t *testing.T) {
	a, _ := newTestAllocator(t, 4096)

	p := a.Malloc(40, 16)
	require.NotNil(t, p)
	assert.Zero(t, uintptr(p)%16)
	size, ok := a.GetAllocationSize(p)
	require.True(t, ok)
	assert.Equal(t, uintptr(48), size)

	fill(p, 40, 7)
	q := a.Realloc(p, 45, 16)
	assert.Equal(t, p, q, "45 bytes still fit the 48 byte class")
	fill(q, 45, 3)

	r := a.Realloc(q, 100, 16)
	assert.NotEqual(t, q, r)
	assert.Zero(t, uintptr(r)%16)
	require.NoError(t, checkFill(r, 45, 3))
	size, _ = a.GetAllocationSize(r)
	assert.Equal(t, uintptr(112), size)

	a.Free(r)
	require.NoError(t, a.ValidateHeap())
	assert.Zero(t, a.Stats().CurrentAllocs)
}

func TestReallocShrinkInPlace(t *testing.T) {
	a, _ := newTestAllocator(t, 4096)

	p := a.Malloc(100, 0)
	fill(p, 100, 11)
	q := a.Realloc(p, 97, 0)
	assert.Equal(t, p, q)
	require.NoError(t, checkFill(q, 97, 11))

	r := a.Realloc(q, 20, 0)
	assert.NotEqual(t, q, r, "20 bytes belong to a smaller class")
	require.NoError(t, checkFill(r, 20, 11))
	a.Free(r)
}

func TestReallocOS(t *testing.T) {
	a, src := newTestAllocator(t, 4096)

	p := a.Malloc(40000, 0)
	fill(p, 40000, 1)

	q := a.Realloc(p, 30000, 0)
	assert.Equal(t, p, q, "shrinking within two thirds stays put")
	size, _ := a.GetAllocationSize(q)
	assert.Equal(t, uintptr(30000), size)

	r := a.Realloc(q, 20000, 0)
	assert.NotEqual(t, q, r)
	require.NoError(t, checkFill(r, 20000, 1))

	s := a.Realloc(r, 90000, 0)
	assert.NotEqual(t, r, s)
	require.NoError(t, checkFill(s, 20000, 1))

	a.Free(s)
	require.NoError(t, a.ValidateHeap())
	assert.Zero(t, src.Reserved())
	assert.Zero(t, a.Stats().OSCurrent)
}

func TestReallocNilAndZero(t *testing.T) {
	a, src := newTestAllocator(t, 4096)

	p := a.Realloc(nil, 10, 0)
	require.NotNil(t, p)
	size, _ := a.GetAllocationSize(p)
	assert.Equal(t, uintptr(16), size)

	assert.Nil(t, a.Realloc(p, 0, 0))
	assert.Zero(t, a.Stats().CurrentAllocs)
	assert.Zero(t, src.Reserved())
}

func TestOSDirectBoundary(t *testing.T) {
	a, src := newTestAllocator(t, 4096)

	p := a.Malloc(40000, 8)
	require.NotNil(t, p)
	assert.Equal(t, []int{40960}, src.reserves)
	size, _ := a.GetAllocationSize(p)
	assert.Equal(t, uintptr(40000), size)

	a.Free(p)
	assert.Equal(t, []int{40960}, src.releases)
}

func TestOSDirectLargeAlignment(t *testing.T) {
	a, src := newTestAllocator(t, 4096)

	p := a.Malloc(40000, 16384)
	require.NotNil(t, p)
	assert.Zero(t, uintptr(p)%16384)
	assert.Equal(t, []int{61440}, src.reserves)

	size, ok := a.GetAllocationSize(p)
	require.True(t, ok)
	assert.Equal(t, uintptr(40000), size)

	a.Free(p)
	assert.Equal(t, []int{61440}, src.releases)
	assert.Zero(t, src.Reserved())
}

func TestAlignment(t *testing.T) {
	a, _ := newTestAllocator(t, 4096)

	sizes := []uintptr{0, 1, 7, 8, 9, 24, 40, 100, 1000, 4097, 20000, 32768, 40000}
	for _, alignment := range []uintptr{8, 16, 32, 64, 4096} {
		var ptrs []unsafe.Pointer
		for _, size := range sizes {
			p := a.Malloc(size, alignment)
			require.NotNil(t, p)
			assert.Zero(t, uintptr(p)%alignment, "size %d align %d", size, alignment)
			fill(p, size, byte(size))

			p = a.Realloc(p, size+50, alignment)
			assert.Zero(t, uintptr(p)%alignment, "realloc size %d align %d", size+50, alignment)
			require.NoError(t, checkFill(p, size, byte(size)))
			ptrs = append(ptrs, p)
		}
		require.NoError(t, a.ValidateHeap())
		for _, p := range ptrs {
			a.Free(p)
		}
	}
	require.NoError(t, a.ValidateHeap())
	assert.Zero(t, a.Stats().CurrentAllocs)
}

func TestRoundTrip(t *testing.T) {
	for _, pageSize := range []int{4096, 65536} {
		a, src := newTestAllocator(t, pageSize)

		sizes := []uintptr{0, 1, 40000, 50000, 70000, 100000, 1 << 20}
		for c := 0; c < NumClasses(); c++ {
			bs := ClassSize(c)
			sizes = append(sizes, bs-1, bs, bs+1)
		}

		for _, size := range sizes {
			p := a.Malloc(size, 0)
			require.NotNil(t, p, "size %d", size)
			fill(p, size, 0)
			a.Free(p)
			require.NoError(t, a.ValidateHeap(), "size %d", size)
		}
		assert.Zero(t, src.Reserved(), "page size %d", pageSize)
		assert.Equal(t, len(src.reserves), len(src.releases))
	}
}

func TestGetAllocationSizeMonotonic(t *testing.T) {
	a, _ := newTestAllocator(t, 4096)

	for size := uintptr(0); size <= 70000; size += 173 {
		p := a.Malloc(size, 0)
		got, ok := a.GetAllocationSize(p)
		require.True(t, ok)
		assert.GreaterOrEqual(t, got, size)

		if c, pooled := ClassFor(max(size, defaultAlignment)); pooled {
			assert.Equal(t, ClassSize(c), got, "size %d", size)
		} else {
			assert.Equal(t, size, got)
		}
		a.Free(p)
	}
}

func TestZeroSizeIsUnique(t *testing.T) {
	a, _ := newTestAllocator(t, 4096)

	p := a.Malloc(0, 0)
	q := a.Malloc(0, 0)
	require.NotNil(t, p)
	require.NotNil(t, q)
	assert.NotEqual(t, p, q)

	a.Free(p)
	a.Free(q)
}

func TestNilAndUnknownPointers(t *testing.T) {
	a, _ := newTestAllocator(t, 4096)

	assert.NotPanics(t, func() { a.Free(nil) })
	_, ok := a.GetAllocationSize(nil)
	assert.False(t, ok)

	var local [64]byte
	_, ok = a.GetAllocationSize(unsafe.Pointer(&local[0]))
	assert.False(t, ok)
	assert.ErrorIs(t, panicErr(func() { a.Free(unsafe.Pointer(&local[0])) }), ErrCorruptHeap)
}

func TestBadAlignmentPanics(t *testing.T) {
	a, _ := newTestAllocator(t, 4096)
	assert.ErrorIs(t, panicErr(func() { a.Malloc(16, 24) }), ErrBadAlignment)
}

func TestValidateHeapIdempotent(t *testing.T) {
	a, _ := newTestAllocator(t, 4096)

	var ptrs []unsafe.Pointer
	for i := range 500 {
		ptrs = append(ptrs, a.Malloc(uintptr(i*37%5000), 0))
	}
	for i := 0; i < len(ptrs); i += 2 {
		a.Free(ptrs[i])
	}

	before := a.Stats()
	first := a.ValidateHeap()
	second := a.ValidateHeap()
	assert.NoError(t, first)
	assert.Equal(t, first, second)
	assert.Equal(t, before, a.Stats())
}

func TestValidateHeapDetectsCorruption(t *testing.T) {
	a, _ := newTestAllocator(t, 4096)

	p := a.Malloc(64, 0)
	q := a.Malloc(64, 0)
	a.Free(q)
	require.NoError(t, a.ValidateHeap())

	// q heads the free list; a zero run is never valid.
	next, _ := loadNode(q)
	storeNode(q, next, 0)
	assert.ErrorIs(t, a.ValidateHeap(), ErrCorruptHeap)

	storeNode(q, next, 1)
	require.NoError(t, a.ValidateHeap())
	a.Free(p)
}

func TestStrictValidationPanics(t *testing.T) {
	a, _ := newTestAllocator(t, 4096, WithStrictValidation())

	p := a.Malloc(64, 0)
	_, info := a.index.find(uintptr(p))
	info.taken = 0

	assert.ErrorIs(t, panicErr(func() { _ = a.ValidateHeap() }), ErrCorruptHeap)
}

func TestOutOfMemoryHook(t *testing.T) {
	var gotSize, gotAlign uintptr
	src := newCountingSource(4096)
	src.Heap.WithLimit(64 << 10)

	a, err := New(src, WithOutOfMemory(func(size, alignment uintptr) {
		gotSize, gotAlign = size, alignment
	}))
	require.NoError(t, err)

	assert.Nil(t, a.Malloc(1<<20, 32))
	assert.Equal(t, uintptr(1<<20), gotSize)
	assert.Equal(t, uintptr(32), gotAlign)

	p := a.Malloc(100, 0)
	require.NotNil(t, p)
	assert.Nil(t, a.Realloc(p, 1<<20, 0), "a failed move leaves the old block alone")
	size, ok := a.GetAllocationSize(p)
	require.True(t, ok)
	assert.Equal(t, uintptr(112), size)
	a.Free(p)
}

func TestOutOfMemoryPanics(t *testing.T) {
	src := newCountingSource(4096)
	src.Heap.WithLimit(64 << 10)
	a, err := New(src)
	require.NoError(t, err)

	assert.ErrorIs(t, panicErr(func() { a.Malloc(1<<20, 0) }), ErrOutOfMemory)
}

func TestStats(t *testing.T) {
	a, _ := newTestAllocator(t, 4096)

	p := a.Malloc(40, 0)
	q := a.Malloc(40000, 0)

	s := a.Stats()
	assert.Equal(t, uintptr(65536+40960), s.OSCurrent)
	assert.Equal(t, uintptr(48+40000), s.UsedCurrent)
	assert.Equal(t, uint64(2), s.CurrentAllocs)
	assert.Equal(t, uint64(2), s.TotalAllocs)
	assert.Equal(t, uintptr(65536-65520+960), s.WasteCurrent)
	assert.Positive(t, s.Overhead)
	require.Len(t, s.Tables, NumClasses(), "page bins are absent with 4 KiB pages")

	c, _ := ClassFor(40)
	ts := s.Tables[c]
	assert.Equal(t, uintptr(48), ts.BlockSize)
	assert.Equal(t, 1, ts.ActivePools)
	assert.Equal(t, 1, ts.ActiveRequests)
	assert.Equal(t, uintptr(40), ts.MinRequest)
	assert.Equal(t, uintptr(40), ts.MaxRequest)
	assert.Equal(t, uint64(8), ts.TotalWaste)

	a.Free(p)
	a.Free(q)
	s = a.Stats()
	assert.Zero(t, s.OSCurrent)
	assert.Zero(t, s.UsedCurrent)
	assert.Zero(t, s.WasteCurrent)
	assert.Zero(t, s.CurrentAllocs)
	assert.Equal(t, uintptr(65536+40960), s.OSPeak)
	assert.Equal(t, 1, s.Tables[c].PeakPools)
}

func TestReallocStricterAlignmentMoves(t *testing.T) {
	a, _ := newTestAllocator(t, 4096)

	// 1168 byte blocks are only 16 byte aligned; the last block of a fresh
	// pool sits 48 bytes past a 64 byte boundary.
	p := a.Malloc(1100, 16)
	require.NotZero(t, uintptr(p)%64)
	fill(p, 1100, 5)

	// 1050 bytes at 64 byte alignment still quantize to the 1168 class.
	assert.Equal(t, uintptr(1168), a.QuantizeSize(1050, 64))
	r := a.Realloc(p, 1050, 64)
	assert.NotEqual(t, p, r)
	assert.Zero(t, uintptr(r)%64)
	size, _ := a.GetAllocationSize(r)
	assert.Equal(t, uintptr(1168), size)
	require.NoError(t, checkFill(r, 1050, 5))

	a.Free(r)
	require.NoError(t, a.ValidateHeap())
	assert.Zero(t, a.Stats().CurrentAllocs)
}
