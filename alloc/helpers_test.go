package alloc

import (
	"errors"
	"fmt"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/shivam-909/gofullymanual/alloc/pagesource"
)

// countingSource records every reservation and release it serves.
type countingSource struct {
	*pagesource.Heap
	reserves []int
	releases []int
}

func newCountingSource(pageSize int) *countingSource {
	return &countingSource{Heap: pagesource.NewHeap(pageSize)}
}

func (c *countingSource) ReservePages(n int) (unsafe.Pointer, error) {
	p, err := c.Heap.ReservePages(n)
	if err == nil {
		c.reserves = append(c.reserves, n)
	}
	return p, err
}

func (c *countingSource) ReleasePages(p unsafe.Pointer, n int) error {
	c.releases = append(c.releases, n)
	return c.Heap.ReleasePages(p, n)
}

func newTestAllocator(t testing.TB, pageSize int, opts ...Option) (*Allocator, *countingSource) {
	t.Helper()
	src := newCountingSource(pageSize)
	a, err := New(src, opts...)
	require.NoError(t, err)
	return a, src
}

func fill(p unsafe.Pointer, n uintptr, seed byte) {
	b := unsafe.Slice((*byte)(p), n)
	for i := range b {
		b[i] = seed + byte(i)
	}
}

func checkFill(p unsafe.Pointer, n uintptr, seed byte) error {
	b := unsafe.Slice((*byte)(p), n)
	for i := range b {
		if b[i] != seed+byte(i) {
			return fmt.Errorf("byte %d is %d, want %d", i, b[i], seed+byte(i))
		}
	}
	return nil
}

// panicErr runs f and returns the error it panicked with.
func panicErr(f func()) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		e, ok := r.(error)
		if !ok {
			err = fmt.Errorf("panic: %v", r)
			return
		}
		err = e
	}()
	f()
	return errors.New("did not panic")
}
