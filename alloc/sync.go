package alloc

import (
	"sync"
	"unsafe"

	"github.com/rs/zerolog"
)

// Synchronized serializes every entry point of a Heap behind one mutex.
type Synchronized struct {
	mu sync.Mutex
	h  Heap
}

// NewSynchronized wraps h for concurrent use.
func NewSynchronized(h Heap) *Synchronized {
	return &Synchronized{h: h}
}

func (s *Synchronized) Malloc(size, alignment uintptr) unsafe.Pointer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h.Malloc(size, alignment)
}

func (s *Synchronized) Realloc(p unsafe.Pointer, size, alignment uintptr) unsafe.Pointer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h.Realloc(p, size, alignment)
}

func (s *Synchronized) Free(p unsafe.Pointer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.h.Free(p)
}

func (s *Synchronized) GetAllocationSize(p unsafe.Pointer) (uintptr, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h.GetAllocationSize(p)
}

func (s *Synchronized) ValidateHeap() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h.ValidateHeap()
}

// QuantizeSize does not lock.
func (s *Synchronized) QuantizeSize(size, alignment uintptr) uintptr {
	return s.h.QuantizeSize(size, alignment)
}

// Stats returns the wrapped heap's statistics, or zero if it keeps none.
func (s *Synchronized) Stats() Stats {
	r, ok := s.h.(StatsReporter)
	if !ok {
		return Stats{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return r.Stats()
}

// DumpAllocations logs the wrapped heap's report when it has one.
func (s *Synchronized) DumpAllocations(l zerolog.Logger) {
	d, ok := s.h.(interface{ DumpAllocations(zerolog.Logger) })
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d.DumpAllocations(l)
}
