package alloc

import "unsafe"

// Stats is a snapshot of allocator bookkeeping. Byte counts are current
// values with their high-water marks.
type Stats struct {
	OSCurrent    uintptr // bytes reserved from the page source
	OSPeak       uintptr
	WasteCurrent uintptr // reserved bytes that can never be handed out
	WastePeak    uintptr
	UsedCurrent  uintptr // bytes handed out, at block granularity for pooled requests
	UsedPeak     uintptr

	CurrentAllocs uint64
	TotalAllocs   uint64

	// Overhead is the Go memory spent on the address index.
	Overhead uintptr
	// CachedBytes is what the page source is holding on to, when it caches.
	CachedBytes int

	Tables []TableStats
}

// TableStats describes one pool table.
type TableStats struct {
	BlockSize      uintptr
	ActivePools    int
	PeakPools      int
	ActiveRequests int
	PeakRequests   int
	MinRequest     uintptr
	MaxRequest     uintptr
	TotalRequests  uint64
	TotalWaste     uint64 // block bytes beyond what was asked for, summed over requests
}

type counters struct {
	osCurrent, osPeak       uintptr
	wasteCurrent, wastePeak uintptr
	usedCurrent, usedPeak   uintptr
	currentAllocs           uint64
	totalAllocs             uint64
}

func (c *counters) addOS(os, waste uintptr) {
	c.osCurrent += os
	c.osPeak = max(c.osPeak, c.osCurrent)
	c.wasteCurrent += waste
	c.wastePeak = max(c.wastePeak, c.wasteCurrent)
}

func (c *counters) subOS(os, waste uintptr) {
	c.osCurrent -= os
	c.wasteCurrent -= waste
}

func (c *counters) addUsed(n uintptr) {
	c.usedCurrent += n
	c.usedPeak = max(c.usedPeak, c.usedCurrent)
}

func (c *counters) allocated() {
	c.currentAllocs++
	c.totalAllocs++
}

// Stats returns a snapshot of the allocator's counters.
func (a *Allocator) Stats() Stats {
	s := Stats{
		OSCurrent:     a.stats.osCurrent,
		OSPeak:        a.stats.osPeak,
		WasteCurrent:  a.stats.wasteCurrent,
		WastePeak:     a.stats.wastePeak,
		UsedCurrent:   a.stats.usedCurrent,
		UsedPeak:      a.stats.usedPeak,
		CurrentAllocs: a.stats.currentAllocs,
		TotalAllocs:   a.stats.totalAllocs,
		Overhead:      a.overhead(),
		Tables:        make([]TableStats, 0, len(a.tables)),
	}
	if c, ok := a.src.(interface{ CachedBytes() int }); ok {
		s.CachedBytes = c.CachedBytes()
	}
	for i := range a.tables {
		if a.tables[i].blockSize != 0 {
			s.Tables = append(s.Tables, a.tables[i].stats)
		}
	}
	return s
}

func (a *Allocator) overhead() uintptr {
	return uintptr(len(a.index.heads))*unsafe.Sizeof(int32(0)) +
		uintptr(a.index.buckets.len())*unsafe.Sizeof(bucket{}) +
		uintptr(a.index.infos.len())*unsafe.Sizeof(poolInfo{})
}
