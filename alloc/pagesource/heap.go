package pagesource

import (
	"fmt"
	"sync"
	"unsafe"
)

// Heap hands out page-aligned spans carved from Go heap slices. Each span is
// kept reachable until it is released, so the garbage collector never
// reclaims memory the allocator still owns.
type Heap struct {
	pageSize int
	limit    int // bytes outstanding before reservations fail; 0 means unlimited

	mu       sync.Mutex
	spans    map[uintptr][]byte
	reserved int
}

// NewHeap returns a Go-heap-backed source with the given page size, which
// must be a power of two.
func NewHeap(pageSize int) *Heap {
	if !isPow2(pageSize) {
		panic(fmt.Sprintf("pagesource: page size %d is not a power of two", pageSize))
	}
	return &Heap{
		pageSize: pageSize,
		spans:    make(map[uintptr][]byte),
	}
}

// WithLimit caps the number of bytes the source will have outstanding.
// Reservations beyond the cap fail with ErrReserve.
func (h *Heap) WithLimit(bytes int) *Heap {
	h.limit = bytes
	return h
}

func (h *Heap) PageSize() int { return h.pageSize }

func (h *Heap) ReservePages(n int) (unsafe.Pointer, error) {
	if err := checkSize(n, h.pageSize); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.limit > 0 && h.reserved+n > h.limit {
		return nil, fmt.Errorf("%w: %d bytes over limit of %d", ErrReserve, n, h.limit)
	}

	buf := make([]byte, n+h.pageSize)
	off := alignOffset(unsafe.Pointer(&buf[0]), h.pageSize)
	span := buf[off : off+n : off+n]
	p := unsafe.Pointer(&span[0])

	h.spans[uintptr(p)] = buf
	h.reserved += n
	return p, nil
}

func (h *Heap) ReleasePages(p unsafe.Pointer, n int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.spans[uintptr(p)]; !ok {
		return fmt.Errorf("%w: %p", ErrUnknownSpan, p)
	}
	delete(h.spans, uintptr(p))
	h.reserved -= n
	return nil
}

// Reserved reports the bytes currently handed out.
func (h *Heap) Reserved() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reserved
}
