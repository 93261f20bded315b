package alloc

import (
	"fmt"
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/shivam-909/gofullymanual/alloc/pagesource"
)

// PageSource supplies the allocator with whole pages.
type PageSource = pagesource.Source

// Heap is the allocator contract shared by Allocator and Synchronized.
type Heap interface {
	// Malloc returns size bytes aligned to alignment (0 means 8).
	Malloc(size, alignment uintptr) unsafe.Pointer
	// Realloc resizes p, moving it only when it no longer fits.
	Realloc(p unsafe.Pointer, size, alignment uintptr) unsafe.Pointer
	Free(p unsafe.Pointer)
	// GetAllocationSize reports the usable size behind p.
	GetAllocationSize(p unsafe.Pointer) (uintptr, bool)
	ValidateHeap() error
	// QuantizeSize reports the bytes a request would really occupy.
	QuantizeSize(size, alignment uintptr) uintptr
}

// StatsReporter is implemented by heaps that keep statistics.
type StatsReporter interface {
	Stats() Stats
}

// Allocator is a binned allocator over a page source. It is not safe for
// concurrent use.
type Allocator struct {
	src         PageSource
	pageSize    uintptr
	binsEnabled bool

	tables [numTables]poolTable
	index  poolIndex
	stats  counters

	log    zerolog.Logger
	oom    func(size, alignment uintptr)
	strict bool
}

// New builds an allocator drawing pages from src.
func New(src PageSource, opts ...Option) (*Allocator, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	pageSize := uintptr(src.PageSize())
	if err := o.validate(pageSize); err != nil {
		return nil, err
	}

	a := &Allocator{
		src:         src,
		pageSize:    pageSize,
		binsEnabled: pageSize == maxPageSize,
		index:       newPoolIndex(pageSize, o.addressLimit),
		log:         o.logger.With().Str("component", "alloc").Logger(),
		oom:         o.oom,
		strict:      o.strict,
	}
	for c, bs := range blockSizes {
		a.tables[c] = newPoolTable(bs, o.poolSize, pageSize)
	}
	if a.binsEnabled {
		a.tables[binSmall] = newPoolTable(maxPooledSize*3/2, 3*pageSize, pageSize)
		a.tables[binLarge] = newPoolTable(pageSize+maxPooledSize, 6*pageSize, pageSize)
	} else {
		a.tables[binSmall] = poolTable{available: nilPool, exhausted: nilPool}
		a.tables[binLarge] = poolTable{available: nilPool, exhausted: nilPool}
	}

	a.log.Debug().
		Int("page_size", int(pageSize)).
		Int("buckets", len(a.index.heads)).
		Bool("page_bins", a.binsEnabled).
		Msg("allocator ready")
	return a, nil
}

// NewDefault builds an allocator over OS pages behind the default cache.
func NewDefault(opts ...Option) (*Allocator, error) {
	src := pagesource.NewCache(pagesource.NewMmap(0), pagesource.DefaultCacheConfig())
	return New(src, opts...)
}

// Malloc allocates size bytes aligned to alignment. A size of 0 still yields
// a unique pointer. nil is returned only after the out-of-memory hook has
// run and returned.
func (a *Allocator) Malloc(size, alignment uintptr) unsafe.Pointer {
	alignment = normalize(alignment)
	pl := a.place(size, alignment)
	if pl.table == osDirect {
		return a.mallocOS(size, pl, alignment)
	}

	p, err := a.allocBlock(pl.table)
	if err != nil {
		return a.outOfMemory(size, alignment, err)
	}

	table := &a.tables[pl.table]
	ts := &table.stats
	ts.ActiveRequests++
	ts.PeakRequests = max(ts.PeakRequests, ts.ActiveRequests)
	ts.TotalRequests++
	ts.MinRequest = min(ts.MinRequest, pl.need)
	ts.MaxRequest = max(ts.MaxRequest, pl.need)
	ts.TotalWaste += uint64(table.blockSize - pl.need)
	a.stats.addUsed(table.blockSize)
	a.stats.allocated()

	return alignPointer(p, alignment)
}

func (a *Allocator) mallocOS(size uintptr, pl placement, alignment uintptr) unsafe.Pointer {
	n := pl.footprint
	base, err := a.src.ReservePages(int(n))
	if err != nil {
		return a.outOfMemory(size, alignment, err)
	}
	p := alignPointer(base, alignment)

	// Only the pages up to the returned pointer need to resolve.
	ref := a.index.claim(uintptr(base), uintptr(p)-uintptr(base)+a.pageSize)
	*a.index.at(ref) = poolInfo{
		kind:    kindOS,
		prev:    nilPool,
		next:    nilPool,
		base:    base,
		size:    size,
		osBytes: n,
	}

	a.stats.addOS(n, n-size)
	a.stats.addUsed(size)
	a.stats.allocated()

	a.log.Debug().Uint64("base", uint64(uintptr(base))).Uint64("bytes", uint64(n)).Msg("os allocation")
	return p
}

// Realloc resizes the allocation at p. A nil p allocates and a zero size
// frees. Pooled blocks stay put while the new size quantizes to the same
// table; OS allocations stay put unless they grow past their pages or
// shrink below two thirds of them. When the allocation moves, the bytes
// that fit in both are copied.
func (a *Allocator) Realloc(p unsafe.Pointer, size, alignment uintptr) unsafe.Pointer {
	if p == nil {
		return a.Malloc(size, alignment)
	}
	if size == 0 {
		a.Free(p)
		return nil
	}
	alignment = normalize(alignment)
	aligned := uintptr(p)&(alignment-1) == 0

	_, info := a.mustFind(p, "realloc")
	var keep uintptr
	switch info.kind {
	case kindPooled:
		usable := a.usable(info, p)
		// A misaligned pointer moves to a fresh block even when the class is
		// unchanged; sliding it up inside the block could run past its end.
		if aligned && size <= usable && a.place(size, alignment).table == int(info.table) {
			return p
		}
		keep = min(size, usable)

	case kindOS:
		usable := info.osBytes - (uintptr(p) - uintptr(info.base))
		if aligned && size <= usable && size*3 >= info.osBytes*2 {
			a.stats.usedCurrent = a.stats.usedCurrent - info.size + size
			a.stats.usedPeak = max(a.stats.usedPeak, a.stats.usedCurrent)
			a.stats.wasteCurrent = a.stats.wasteCurrent + info.size - size
			a.stats.wastePeak = max(a.stats.wastePeak, a.stats.wasteCurrent)
			info.size = size
			return p
		}
		keep = min(size, info.size)
	}

	q := a.Malloc(size, alignment)
	if q == nil {
		return nil
	}
	copy(unsafe.Slice((*byte)(q), keep), unsafe.Slice((*byte)(p), keep))
	a.Free(p)
	return q
}

// Free releases p. Freeing nil does nothing.
func (a *Allocator) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	ref, info := a.mustFind(p, "free")
	a.stats.currentAllocs--

	if info.kind == kindOS {
		base, n, size := info.base, info.osBytes, info.size
		a.index.release(uintptr(base), n)
		a.stats.subOS(n, n-size)
		a.stats.usedCurrent -= size

		a.log.Debug().Uint64("base", uint64(uintptr(base))).Uint64("bytes", uint64(n)).Msg("os release")
		a.release(base, n)
		return
	}

	table := &a.tables[info.table]
	table.stats.ActiveRequests--
	a.stats.usedCurrent -= table.blockSize
	a.freeBlock(ref, info, p)
}

// GetAllocationSize reports the block size behind a pooled pointer, or the
// requested size of an OS allocation. ok is false for nil and for pointers
// the allocator does not own.
func (a *Allocator) GetAllocationSize(p unsafe.Pointer) (size uintptr, ok bool) {
	if p == nil {
		return 0, false
	}
	_, info := a.index.find(uintptr(p))
	if info == nil {
		return 0, false
	}
	if info.kind == kindOS {
		return info.size, true
	}
	return a.tables[info.table].blockSize, true
}

// ValidateHeap walks every pool table and checks the list and free-list
// bookkeeping. It changes nothing. The first violation found is returned
// wrapped in ErrCorruptHeap, or raised as a panic under strict validation.
func (a *Allocator) ValidateHeap() error {
	err := a.validate()
	if err != nil && a.strict {
		panic(err)
	}
	return err
}

func (a *Allocator) validate() error {
	for t := range a.tables {
		if err := a.checkList(t, a.tables[t].available, false); err != nil {
			return err
		}
		if err := a.checkList(t, a.tables[t].exhausted, true); err != nil {
			return err
		}
	}
	return nil
}

// QuantizeSize returns the bytes a request of size and alignment would
// occupy. It reads only tables fixed at construction and needs no locking.
func (a *Allocator) QuantizeSize(size, alignment uintptr) uintptr {
	return a.place(size, normalize(alignment)).footprint
}

// PageSize reports the page size of the underlying source.
func (a *Allocator) PageSize() uintptr {
	return a.pageSize
}

// Trim hands pages held by a caching page source back to the OS.
func (a *Allocator) Trim() error {
	if f, ok := a.src.(pagesource.Flusher); ok {
		return f.Flush()
	}
	return nil
}

// DumpAllocations validates the heap and logs a report of every table in use.
func (a *Allocator) DumpAllocations(l zerolog.Logger) {
	if err := a.validate(); err != nil {
		l.Error().Err(err).Msg("heap validation failed")
	}

	s := a.Stats()
	l.Info().
		Uint64("os_current", uint64(s.OSCurrent)).
		Uint64("os_peak", uint64(s.OSPeak)).
		Uint64("waste_current", uint64(s.WasteCurrent)).
		Uint64("waste_peak", uint64(s.WastePeak)).
		Uint64("used_current", uint64(s.UsedCurrent)).
		Uint64("used_peak", uint64(s.UsedPeak)).
		Uint64("current_allocs", s.CurrentAllocs).
		Uint64("total_allocs", s.TotalAllocs).
		Uint64("overhead", uint64(s.Overhead)).
		Int("cached", s.CachedBytes).
		Int("page_groups", a.index.groups()).
		Msg("allocator")

	for _, ts := range s.Tables {
		if ts.TotalRequests == 0 {
			continue
		}
		l.Info().
			Uint64("block_size", uint64(ts.BlockSize)).
			Int("pools", ts.ActivePools).
			Int("peak_pools", ts.PeakPools).
			Int("requests", ts.ActiveRequests).
			Int("peak_requests", ts.PeakRequests).
			Uint64("total_requests", ts.TotalRequests).
			Uint64("min_request", uint64(ts.MinRequest)).
			Uint64("max_request", uint64(ts.MaxRequest)).
			Uint64("total_waste", ts.TotalWaste).
			Msg("table")
	}
}

func (a *Allocator) mustFind(p unsafe.Pointer, op string) (poolRef, *poolInfo) {
	ref, info := a.index.find(uintptr(p))
	if info == nil {
		panic(fmt.Errorf("%w: %s of unknown pointer %p", ErrCorruptHeap, op, p))
	}
	return ref, info
}

// usable is what remains of p's block from p onward.
func (a *Allocator) usable(info *poolInfo, p unsafe.Pointer) uintptr {
	bs := a.tables[info.table].blockSize
	return bs - (uintptr(p)-uintptr(info.base))%bs
}

func (a *Allocator) outOfMemory(size, alignment uintptr, err error) unsafe.Pointer {
	a.log.Error().Err(err).Uint64("size", uint64(size)).Uint64("alignment", uint64(alignment)).Msg("out of memory")
	if a.oom != nil {
		a.oom(size, alignment)
		return nil
	}
	panic(fmt.Errorf("%w: %d bytes aligned to %d: %w", ErrOutOfMemory, size, alignment, err))
}

func normalize(alignment uintptr) uintptr {
	if alignment == 0 {
		return defaultAlignment
	}
	if !isPow2(alignment) {
		panic(fmt.Errorf("%w: got %d", ErrBadAlignment, alignment))
	}
	return max(alignment, defaultAlignment)
}

func alignPointer(p unsafe.Pointer, alignment uintptr) unsafe.Pointer {
	return unsafe.Add(p, alignUp(uintptr(p), alignment)-uintptr(p))
}
