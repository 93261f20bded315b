//go:build unix

package pagesource

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Mmap reserves anonymous private mappings straight from the kernel.
type Mmap struct {
	pageSize int

	mu       sync.Mutex
	mappings map[uintptr][]byte
}

// NewMmap returns an mmap-backed source. A pageSize of 0 uses the OS page
// size; larger page sizes over-map and align, since the kernel only
// guarantees OS page alignment.
func NewMmap(pageSize int) *Mmap {
	if pageSize == 0 {
		pageSize = os.Getpagesize()
	}
	if !isPow2(pageSize) {
		panic(fmt.Sprintf("pagesource: page size %d is not a power of two", pageSize))
	}
	return &Mmap{
		pageSize: pageSize,
		mappings: make(map[uintptr][]byte),
	}
}

func (m *Mmap) PageSize() int { return m.pageSize }

func (m *Mmap) ReservePages(n int) (unsafe.Pointer, error) {
	if err := checkSize(n, m.pageSize); err != nil {
		return nil, err
	}

	length := n
	if m.pageSize > os.Getpagesize() {
		length += m.pageSize
	}

	b, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %d bytes: %w", ErrReserve, length, err)
	}

	p := unsafe.Add(unsafe.Pointer(&b[0]), alignOffset(unsafe.Pointer(&b[0]), m.pageSize))

	m.mu.Lock()
	m.mappings[uintptr(p)] = b
	m.mu.Unlock()
	return p, nil
}

func (m *Mmap) ReleasePages(p unsafe.Pointer, n int) error {
	m.mu.Lock()
	b, ok := m.mappings[uintptr(p)]
	delete(m.mappings, uintptr(p))
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %p", ErrUnknownSpan, p)
	}
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("%w: munmap %d bytes: %w", ErrRelease, len(b), err)
	}
	return nil
}
