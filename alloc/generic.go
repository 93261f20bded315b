package alloc

import "unsafe"

// Allocate returns a zeroed T from h, or nil if the out-of-memory hook
// swallowed the failure.
func Allocate[T any](h Heap) *T {
	var zero T
	p := h.Malloc(unsafe.Sizeof(zero), unsafe.Alignof(zero))
	if p == nil {
		return nil
	}
	t := (*T)(p)
	*t = zero
	return t
}

// AllocateSlice returns a zeroed slice of n T from h.
func AllocateSlice[T any](h Heap, n int) []T {
	var zero T
	p := h.Malloc(uintptr(n)*unsafe.Sizeof(zero), unsafe.Alignof(zero))
	if p == nil {
		return nil
	}
	s := unsafe.Slice((*T)(p), n)
	clear(s)
	return s
}

// Free returns t to h.
func Free[T any](h Heap, t *T) {
	h.Free(unsafe.Pointer(t))
}

// FreeSlice returns the backing array of s to h. s must be the slice
// AllocateSlice returned, or a reslice starting at the same element.
func FreeSlice[T any](h Heap, s []T) {
	h.Free(unsafe.Pointer(unsafe.SliceData(s)))
}

// Bytes returns n bytes from h with capacity for the whole block.
func Bytes(h Heap, n int) []byte {
	p := h.Malloc(uintptr(n), 0)
	if p == nil {
		return nil
	}
	c, _ := h.GetAllocationSize(p)
	c = max(c, uintptr(n))
	return unsafe.Slice((*byte)(p), c)[:n]
}
