package alloc

// Block sizes are close to even divisors of a 64 KiB pool and well
// distributed, so each pool wastes little at its tail. Past 16 bytes every
// size is a multiple of 16.
var blockSizes = [...]uintptr{
	8, 16, 32, 48, 64, 80, 96, 112,
	128, 160, 192, 224, 256, 288, 320, 384,
	448, 512, 576, 640, 704, 768, 896, 1024,
	1168, 1360, 1632, 2048, 2336, 2720, 3264, 4096,
	4672, 5456, 6544, 8192, 9360, 10912, 13104, 16384,
	21840, 32768,
}

const (
	numClasses    = len(blockSizes)
	maxPooledSize = 32768

	// Page-pool bins sit after the size classes. They only exist with
	// 64 KiB pages: a 3-page pool of 48 KiB blocks and a 6-page pool of
	// 96 KiB blocks.
	binSmall  = numClasses
	binLarge  = numClasses + 1
	numTables = numClasses + 2

	osDirect = -1
)

var classOf = buildClassLookup()

func buildClassLookup() []uint8 {
	lookup := make([]uint8, maxPooledSize+1)
	c := 0
	for size := range lookup {
		for blockSizes[c] < uintptr(size) {
			c++
		}
		lookup[size] = uint8(c)
	}
	return lookup
}

// ClassFor returns the smallest size class holding size bytes. ok is false
// when size is larger than every class and must be served from whole pages.
func ClassFor(size uintptr) (class int, ok bool) {
	if size > maxPooledSize {
		return 0, false
	}
	return int(classOf[size]), true
}

// ClassSize returns the block size of a size class.
func ClassSize(class int) uintptr {
	return blockSizes[class]
}

// NumClasses returns the number of pooled size classes.
func NumClasses() int {
	return numClasses
}

// placement says where a request of a given size and alignment is served.
type placement struct {
	table     int     // pool table index, or osDirect
	need      uintptr // request rounded up to its alignment
	footprint uintptr // bytes the request really occupies
}

// place quantizes a request. alignment must already be normalized.
func (a *Allocator) place(size, alignment uintptr) placement {
	need := max(alignment, alignUp(size, alignment))

	if c, ok := ClassFor(need); ok {
		for ; c < numClasses; c++ {
			bs := blockSizes[c]
			if need+a.padding(bs, alignment) <= bs {
				return placement{table: c, need: need, footprint: bs}
			}
		}
	}

	if a.binsEnabled && alignment == defaultAlignment {
		switch {
		case need > maxPooledSize && need <= a.tables[binSmall].blockSize:
			return placement{table: binSmall, need: need, footprint: a.tables[binSmall].blockSize}
		case need > a.pageSize && need <= a.tables[binLarge].blockSize:
			return placement{table: binLarge, need: need, footprint: a.tables[binLarge].blockSize}
		}
	}

	return placement{table: osDirect, need: need, footprint: a.osBytes(need, alignment)}
}

// padding is the worst-case slack needed to align a block of size bs.
// Blocks start at a page-aligned base plus a multiple of bs, so they are
// naturally aligned to the lowest set bit of bs, capped at the page size.
func (a *Allocator) padding(bs, alignment uintptr) uintptr {
	natural := min(bs&-bs, a.pageSize)
	if natural >= alignment {
		return 0
	}
	return alignment - natural
}

func (a *Allocator) osBytes(need, alignment uintptr) uintptr {
	n := alignUp(need, a.pageSize)
	if alignment > a.pageSize {
		n += alignment - a.pageSize
	}
	return n
}

func alignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

func isPow2(n uintptr) bool {
	return n != 0 && n&(n-1) == 0
}
