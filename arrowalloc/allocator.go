// Package arrowalloc lets Apache Arrow builders and arrays draw their
// buffers from a binned heap instead of the Go heap.
package arrowalloc

import (
	"sync/atomic"
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/shivam-909/gofullymanual/alloc"
)

// Alignment matches the buffer alignment Arrow's own allocators guarantee.
const Alignment = 64

// Allocator implements memory.Allocator over an alloc.Heap. It is safe for
// concurrent use when the heap is.
type Allocator struct {
	h         alloc.Heap
	allocated atomic.Int64
}

// New wraps h.
func New(h alloc.Heap) *Allocator {
	return &Allocator{h: h}
}

// Allocate returns a zeroed buffer of size bytes.
func (a *Allocator) Allocate(size int) []byte {
	p := a.h.Malloc(uintptr(size), Alignment)
	if p == nil {
		return nil
	}
	a.allocated.Add(int64(size))
	b := buffer(p, size)
	clear(b)
	return b
}

// Reallocate resizes b, keeping its contents. Bytes past the old length are
// zeroed.
func (a *Allocator) Reallocate(size int, b []byte) []byte {
	if cap(b) == 0 {
		return a.Allocate(size)
	}
	old := len(b)
	p := a.h.Realloc(unsafe.Pointer(unsafe.SliceData(b)), uintptr(size), Alignment)
	if p == nil {
		if size == 0 {
			a.allocated.Add(-int64(old))
		}
		return nil
	}
	a.allocated.Add(int64(size - old))
	nb := buffer(p, size)
	if size > old {
		clear(nb[old:])
	}
	return nb
}

// Free returns b to the heap.
func (a *Allocator) Free(b []byte) {
	if cap(b) == 0 {
		return
	}
	a.allocated.Add(-int64(len(b)))
	a.h.Free(unsafe.Pointer(unsafe.SliceData(b)))
}

// Allocated reports the bytes currently handed out.
func (a *Allocator) Allocated() int64 {
	return a.allocated.Load()
}

func buffer(p unsafe.Pointer, size int) []byte {
	return unsafe.Slice((*byte)(p), max(size, 1))[:size]
}

var _ memory.Allocator = (*Allocator)(nil)
