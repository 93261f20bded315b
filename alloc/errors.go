package alloc

import "errors"

var (
	// ErrOutOfMemory is raised when the page source cannot satisfy a request
	// and no out-of-memory hook is installed.
	ErrOutOfMemory = errors.New("alloc: out of memory")

	// ErrCorruptHeap indicates allocator bookkeeping that breaks an invariant.
	ErrCorruptHeap = errors.New("alloc: heap corrupted")

	// ErrBadAlignment indicates an alignment that is not a power of two.
	ErrBadAlignment = errors.New("alloc: alignment must be a power of two")

	// ErrConfig indicates an allocator configuration that cannot work.
	ErrConfig = errors.New("alloc: invalid configuration")
)
