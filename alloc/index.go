package alloc

import (
	"math/bits"
	"unsafe"
)

// poolRef indexes a descriptor in the index's descriptor arena.
type poolRef int32

const nilPool poolRef = -1

type poolKind uint8

const (
	kindEmpty    poolKind = iota // never used, or released
	kindPooled                   // first page of a pool of blocks
	kindTrailing                 // later page of a span; back says where the first page is
	kindOS                       // first page of a span served straight from the page source
)

// poolInfo describes one OS page. Only the first page of a span carries real
// metadata; the rest point back to it.
type poolInfo struct {
	kind     poolKind
	table    uint8   // kindPooled: pool table index
	taken    uint32  // kindPooled: blocks handed out
	freeHead uint32  // kindPooled: block index + 1 of the first free node, 0 when exhausted
	back     uint32  // kindTrailing: pages to step back
	prev     poolRef // kindPooled: list links within the pool table
	next     poolRef

	base    unsafe.Pointer // first byte of the span
	size    uintptr        // kindPooled: bytes carved into blocks; kindOS: bytes requested
	osBytes uintptr        // bytes reserved from the page source
}

// bucket maps one page-group key to its indirect table of descriptors.
// Buckets sharing a hash form a circular doubly linked chain.
type bucket struct {
	key        uintptr
	first      poolRef
	prev, next int32
}

// poolIndex resolves any address to the descriptor of the page holding it:
// the high bits select a bucket, the middle bits a slot in the bucket's
// indirect table. Tables are created the first time their page group is
// touched and are never torn down.
type poolIndex struct {
	pageShift uint
	keyShift  uint
	slotMask  uintptr

	heads   []int32
	buckets slab[bucket]
	infos   slab[poolInfo]
}

func newPoolIndex(pageSize uintptr, addressLimit uint64) poolIndex {
	pageShift := uint(bits.TrailingZeros64(uint64(pageSize)))

	// As many descriptors as fit in one page, rounded down to a power of two.
	fit := uint64(pageSize / unsafe.Sizeof(poolInfo{}))
	slots := uint64(1) << (bits.Len64(fit) - 1)
	keyShift := pageShift + uint(bits.TrailingZeros64(slots))

	n := max(addressLimit>>keyShift, 1)
	heads := make([]int32, n)
	for i := range heads {
		heads[i] = -1
	}

	return poolIndex{
		pageShift: pageShift,
		keyShift:  keyShift,
		slotMask:  uintptr(slots - 1),
		heads:     heads,
		buckets:   newSlab[bucket](int(pageSize / unsafe.Sizeof(bucket{}))),
		infos:     newSlab[poolInfo](int(slots)),
	}
}

func (x *poolIndex) at(ref poolRef) *poolInfo {
	return x.infos.at(int32(ref))
}

// bucket returns the bucket for key, creating it when create is set.
func (x *poolIndex) bucket(key uintptr, create bool) *bucket {
	h := key & uintptr(len(x.heads)-1)
	head := x.heads[h]
	if head >= 0 {
		i := head
		for {
			b := x.buckets.at(i)
			if b.key == key {
				return b
			}
			if i = b.next; i == head {
				break
			}
		}
	}
	if !create {
		return nil
	}

	i := x.buckets.get()
	b := x.buckets.at(i)
	*b = bucket{key: key, first: poolRef(x.infos.grow()), prev: i, next: i}
	if head < 0 {
		x.heads[h] = i
		return b
	}

	// Link in before the head, at the tail of the chain.
	hb := x.buckets.at(head)
	b.prev, b.next = hb.prev, head
	x.buckets.at(hb.prev).next = i
	hb.prev = i
	return b
}

// slot returns the descriptor of the page holding addr, creating the page
// group's indirect table if needed.
func (x *poolIndex) slot(addr uintptr) poolRef {
	b := x.bucket(addr>>x.keyShift, true)
	return b.first + poolRef((addr>>x.pageShift)&x.slotMask)
}

// peek is slot without creation.
func (x *poolIndex) peek(addr uintptr) (poolRef, bool) {
	b := x.bucket(addr>>x.keyShift, false)
	if b == nil {
		return nilPool, false
	}
	return b.first + poolRef((addr>>x.pageShift)&x.slotMask), true
}

// find resolves addr to the descriptor owning it. Trailing descriptors point
// straight at the first page of their span, so at most one hop is taken.
func (x *poolIndex) find(addr uintptr) (poolRef, *poolInfo) {
	page := addr &^ (1<<x.pageShift - 1)
	for range 2 {
		ref, ok := x.peek(page)
		if !ok {
			return nilPool, nil
		}
		info := x.at(ref)
		switch info.kind {
		case kindPooled, kindOS:
			return ref, info
		case kindTrailing:
			page -= uintptr(info.back) << x.pageShift
		default:
			return nilPool, nil
		}
	}
	return nilPool, nil
}

// claim registers the pages of [base, base+n): the first page's descriptor
// is returned for the caller to fill in, the rest point back to it.
func (x *poolIndex) claim(base, n uintptr) poolRef {
	ref := x.slot(base)
	for k := uintptr(1); k < n>>x.pageShift; k++ {
		*x.at(x.slot(base + k<<x.pageShift)) = poolInfo{kind: kindTrailing, back: uint32(k)}
	}
	return ref
}

// release empties the descriptors of [base, base+n).
func (x *poolIndex) release(base, n uintptr) {
	for off := uintptr(0); off < n; off += 1 << x.pageShift {
		if ref, ok := x.peek(base + off); ok {
			*x.at(ref) = poolInfo{}
		}
	}
}

// groups reports how many page groups have an indirect table.
func (x *poolIndex) groups() int {
	return x.infos.chunkCount()
}
