package alloc

// slab is an arena of fixed-size records addressed by index. Records never
// move once created, so pointers returned by at stay valid for the slab's
// lifetime.
type slab[T any] struct {
	per    int
	chunks [][]T
	free   []int32
}

func newSlab[T any](per int) slab[T] {
	return slab[T]{per: max(per, 1)}
}

// grow appends a zeroed chunk and returns the index of its first record.
func (s *slab[T]) grow() int32 {
	first := int32(len(s.chunks) * s.per)
	s.chunks = append(s.chunks, make([]T, s.per))
	return first
}

// get pops a record off the free list, refilling it a chunk at a time.
func (s *slab[T]) get() int32 {
	if len(s.free) == 0 {
		first := s.grow()
		for i := int32(s.per) - 1; i >= 0; i-- {
			s.free = append(s.free, first+i)
		}
	}
	i := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	return i
}

func (s *slab[T]) at(i int32) *T {
	return &s.chunks[int(i)/s.per][int(i)%s.per]
}

func (s *slab[T]) len() int {
	return len(s.chunks) * s.per
}

func (s *slab[T]) chunkCount() int {
	return len(s.chunks)
}
