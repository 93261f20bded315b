//go:build !unix

package pagesource

import "os"

// Mmap falls back to Go heap spans where anonymous mappings are unavailable.
type Mmap struct {
	*Heap
}

// NewMmap returns a Go-heap-backed source. A pageSize of 0 uses the OS page size.
func NewMmap(pageSize int) *Mmap {
	if pageSize == 0 {
		pageSize = os.Getpagesize()
	}
	return &Mmap{Heap: NewHeap(pageSize)}
}
