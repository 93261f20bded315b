package alloc

import (
	"fmt"
	"unsafe"
)

// poolTable holds every pool serving one block size.
type poolTable struct {
	blockSize uintptr
	blocks    uint32  // blocks carved from each pool
	poolBytes uintptr // bytes reserved for each pool

	available poolRef // pools with at least one free block
	exhausted poolRef // pools with none

	stats TableStats
}

func newPoolTable(blockSize, span, pageSize uintptr) poolTable {
	blocks := span / blockSize
	return poolTable{
		blockSize: blockSize,
		blocks:    uint32(blocks),
		poolBytes: alignUp(blocks*blockSize, pageSize),
		available: nilPool,
		exhausted: nilPool,
		stats:     TableStats{BlockSize: blockSize, MinRequest: blockSize},
	}
}

// A free node occupies the first word of a free block: the block index + 1
// of the next node in the high half, and the number of consecutive free
// blocks the node covers in the low half.
func loadNode(p unsafe.Pointer) (next, run uint32) {
	v := *(*uint64)(p)
	return uint32(v >> 32), uint32(v)
}

func storeNode(p unsafe.Pointer, next, run uint32) {
	*(*uint64)(p) = uint64(next)<<32 | uint64(run)
}

func (info *poolInfo) block(i uint32, bs uintptr) unsafe.Pointer {
	return unsafe.Add(info.base, uintptr(i)*bs)
}

// link pushes ref at the front of the list headed by *head.
func (a *Allocator) link(head *poolRef, ref poolRef) {
	info := a.index.at(ref)
	info.prev = nilPool
	info.next = *head
	if *head != nilPool {
		a.index.at(*head).prev = ref
	}
	*head = ref
}

func (a *Allocator) unlink(head *poolRef, ref poolRef) {
	info := a.index.at(ref)
	if info.prev != nilPool {
		a.index.at(info.prev).next = info.next
	} else {
		*head = info.next
	}
	if info.next != nilPool {
		a.index.at(info.next).prev = info.prev
	}
	info.prev, info.next = nilPool, nilPool
}

// newPool reserves a pool for table t and puts it at the front of the
// available list. The whole pool starts out as a single free run.
func (a *Allocator) newPool(t int) (poolRef, error) {
	table := &a.tables[t]

	base, err := a.src.ReservePages(int(table.poolBytes))
	if err != nil {
		return nilPool, err
	}

	ref := a.index.claim(uintptr(base), table.poolBytes)
	info := a.index.at(ref)
	*info = poolInfo{
		kind:     kindPooled,
		table:    uint8(t),
		freeHead: 1,
		prev:     nilPool,
		next:     nilPool,
		base:     base,
		size:     uintptr(table.blocks) * table.blockSize,
		osBytes:  table.poolBytes,
	}
	storeNode(base, 0, table.blocks)
	a.link(&table.available, ref)

	table.stats.ActivePools++
	table.stats.PeakPools = max(table.stats.PeakPools, table.stats.ActivePools)
	a.stats.addOS(table.poolBytes, table.poolBytes-info.size)

	a.log.Debug().
		Uint64("base", uint64(uintptr(base))).
		Uint64("block_size", uint64(table.blockSize)).
		Uint32("blocks", table.blocks).
		Msg("pool created")
	return ref, nil
}

// allocBlock takes a block from the front pool of table t, creating a pool
// when none has room.
func (a *Allocator) allocBlock(t int) (unsafe.Pointer, error) {
	table := &a.tables[t]
	ref := table.available
	if ref == nilPool {
		var err error
		if ref, err = a.newPool(t); err != nil {
			return nil, err
		}
	}

	info := a.index.at(ref)
	head := info.block(info.freeHead-1, table.blockSize)
	next, run := loadNode(head)
	if run == 0 || run > table.blocks {
		panic(fmt.Errorf("%w: free node at %p has run %d", ErrCorruptHeap, head, run))
	}

	// Take the last block of the run so the node itself stays in place.
	run--
	p := unsafe.Add(head, uintptr(run)*table.blockSize)
	if run == 0 {
		info.freeHead = next
	} else {
		storeNode(head, next, run)
	}
	info.taken++

	if info.freeHead == 0 {
		a.unlink(&table.available, ref)
		a.link(&table.exhausted, ref)
	}
	return p, nil
}

// freeBlock returns the block holding p to its pool, and the pool to the
// page source once nothing in it is taken.
func (a *Allocator) freeBlock(ref poolRef, info *poolInfo, p unsafe.Pointer) {
	table := &a.tables[info.table]
	i := uint32((uintptr(p) - uintptr(info.base)) / table.blockSize)

	wasExhausted := info.freeHead == 0
	storeNode(info.block(i, table.blockSize), info.freeHead, 1)
	info.freeHead = i + 1
	info.taken--

	if info.taken == 0 {
		if wasExhausted {
			a.unlink(&table.exhausted, ref)
		} else {
			a.unlink(&table.available, ref)
		}
		a.releasePool(table, info)
		return
	}
	if wasExhausted {
		a.unlink(&table.exhausted, ref)
		a.link(&table.available, ref)
	}
}

func (a *Allocator) releasePool(table *poolTable, info *poolInfo) {
	base, size, osBytes := info.base, info.size, info.osBytes
	a.index.release(uintptr(base), osBytes)

	table.stats.ActivePools--
	a.stats.subOS(osBytes, osBytes-size)

	a.log.Debug().
		Uint64("base", uint64(uintptr(base))).
		Uint64("block_size", uint64(table.blockSize)).
		Msg("pool released")
	a.release(base, osBytes)
}

// release hands pages back to the source. A failure leaks the pages but
// leaves the allocator consistent, so it is logged rather than raised.
func (a *Allocator) release(p unsafe.Pointer, n uintptr) {
	if err := a.src.ReleasePages(p, int(n)); err != nil {
		a.log.Error().Err(err).Uint64("base", uint64(uintptr(p))).Uint64("bytes", uint64(n)).Msg("release pages")
	}
}

// checkPool verifies one listed pool of table t.
func (a *Allocator) checkPool(t int, ref, prev poolRef, exhausted bool) error {
	table := &a.tables[t]
	info := a.index.at(ref)

	switch {
	case info.kind != kindPooled:
		return fmt.Errorf("%w: table %d lists pool %d of kind %d", ErrCorruptHeap, t, ref, info.kind)
	case int(info.table) != t:
		return fmt.Errorf("%w: table %d lists pool %d owned by table %d", ErrCorruptHeap, t, ref, info.table)
	case info.prev != prev:
		return fmt.Errorf("%w: pool %d links back to %d, want %d", ErrCorruptHeap, ref, info.prev, prev)
	case exhausted && info.freeHead != 0:
		return fmt.Errorf("%w: exhausted pool %d has a free list", ErrCorruptHeap, ref)
	case !exhausted && info.freeHead == 0:
		return fmt.Errorf("%w: available pool %d has no free list", ErrCorruptHeap, ref)
	case info.taken == 0 || info.taken > table.blocks:
		return fmt.Errorf("%w: pool %d has %d of %d blocks taken", ErrCorruptHeap, ref, info.taken, table.blocks)
	}

	var free, nodes uint32
	for head := info.freeHead; head != 0; nodes++ {
		if nodes >= table.blocks || head > table.blocks {
			return fmt.Errorf("%w: pool %d free list runs past its blocks", ErrCorruptHeap, ref)
		}
		next, run := loadNode(info.block(head-1, table.blockSize))
		if run == 0 || head-1+run > table.blocks {
			return fmt.Errorf("%w: pool %d free node %d has run %d", ErrCorruptHeap, ref, head-1, run)
		}
		free += run
		head = next
	}
	if info.taken+free != table.blocks {
		return fmt.Errorf("%w: pool %d has %d taken and %d free of %d blocks", ErrCorruptHeap, ref, info.taken, free, table.blocks)
	}
	return nil
}

func (a *Allocator) checkList(t int, head poolRef, exhausted bool) error {
	prev := nilPool
	for ref, n := head, 0; ref != nilPool; ref, n = a.index.at(ref).next, n+1 {
		if n > a.index.infos.len() || int(ref) < 0 || int(ref) >= a.index.infos.len() {
			return fmt.Errorf("%w: table %d pool list is broken at %d", ErrCorruptHeap, t, ref)
		}
		if err := a.checkPool(t, ref, prev, exhausted); err != nil {
			return err
		}
		prev = ref
	}
	return nil
}
