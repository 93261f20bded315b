// Package pagesource supplies whole, page-aligned spans of memory to the
// binned allocator.
//
// Three sources are provided: an mmap-backed source that talks to the OS
// directly, a Go-heap-backed source that works on every platform, and a
// bounded cache that sits in front of either and recycles recently released
// spans so repeated same-sized reservations skip the OS call.
package pagesource

import (
	"errors"
	"unsafe"
)

var (
	// ErrReserve is returned when a source cannot supply the requested pages.
	ErrReserve = errors.New("pagesource: reserve failed")

	// ErrRelease is returned when pages could not be handed back.
	ErrRelease = errors.New("pagesource: release failed")

	// ErrUnknownSpan is returned when releasing a pointer the source never handed out.
	ErrUnknownSpan = errors.New("pagesource: unknown span")

	// ErrBadSize is returned for byte counts that are not a positive multiple of the page size.
	ErrBadSize = errors.New("pagesource: size must be a positive multiple of the page size")
)

// Source reserves and releases whole pages. Byte counts passed to it are
// always exact multiples of PageSize and returned pointers are always
// aligned to PageSize.
type Source interface {
	PageSize() int
	ReservePages(n int) (unsafe.Pointer, error)
	ReleasePages(p unsafe.Pointer, n int) error
}

// Flusher is implemented by sources that hold on to released pages.
type Flusher interface {
	Flush() error
}

func checkSize(n, pageSize int) error {
	if n <= 0 || n%pageSize != 0 {
		return ErrBadSize
	}
	return nil
}

func isPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// alignOffset returns how far p must advance to reach the next multiple of align.
func alignOffset(p unsafe.Pointer, align int) int {
	addr := uintptr(p)
	return int((addr+uintptr(align)-1)&^(uintptr(align)-1) - addr)
}
