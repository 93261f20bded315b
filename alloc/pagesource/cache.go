package pagesource

import (
	"errors"
	"sync"
	"unsafe"
)

// CacheConfig bounds a Cache.
type CacheConfig struct {
	MaxEntries int // spans kept at most
	MaxBytes   int // total bytes kept at most
	MaxSpan    int // spans larger than this always go straight back to the source
}

// DefaultCacheConfig keeps up to 32 spans of at most 64 KiB, 4 MiB in total.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxEntries: 32,
		MaxBytes:   4 << 20,
		MaxSpan:    64 << 10,
	}
}

type cachedSpan struct {
	p unsafe.Pointer
	n int
}

// Cache keeps recently released spans and hands them out again for
// reservations they fit with at most a third to spare.
type Cache struct {
	src Source
	cfg CacheConfig

	mu     sync.Mutex
	spans  []cachedSpan
	total  int
	larger map[uintptr]int // spans handed out that are bigger than what was asked for
}

// NewCache wraps src with a bounded cache of released spans.
func NewCache(src Source, cfg CacheConfig) *Cache {
	return &Cache{
		src:    src,
		cfg:    cfg,
		spans:  make([]cachedSpan, 0, cfg.MaxEntries),
		larger: make(map[uintptr]int),
	}
}

func (c *Cache) PageSize() int { return c.src.PageSize() }

func (c *Cache) ReservePages(n int) (unsafe.Pointer, error) {
	if err := checkSize(n, c.src.PageSize()); err != nil {
		return nil, err
	}

	c.mu.Lock()
	for i, s := range c.spans {
		if s.n >= n && s.n*3 <= n*4 {
			last := len(c.spans) - 1
			c.spans[i] = c.spans[last]
			c.spans = c.spans[:last]
			c.total -= s.n
			if s.n != n {
				c.larger[uintptr(s.p)] = s.n
			}
			c.mu.Unlock()
			return s.p, nil
		}
	}
	c.mu.Unlock()

	p, err := c.src.ReservePages(n)
	if err == nil {
		return p, nil
	}

	// Holding on to too much; give it all back and try once more.
	if ferr := c.Flush(); ferr != nil {
		return nil, errors.Join(err, ferr)
	}
	return c.src.ReservePages(n)
}

func (c *Cache) ReleasePages(p unsafe.Pointer, n int) error {
	c.mu.Lock()
	if actual, ok := c.larger[uintptr(p)]; ok {
		delete(c.larger, uintptr(p))
		n = actual
	}

	if c.total+n > c.cfg.MaxBytes || n > c.cfg.MaxSpan || c.cfg.MaxEntries == 0 {
		c.mu.Unlock()
		return c.src.ReleasePages(p, n)
	}

	var evicted cachedSpan
	if len(c.spans) >= c.cfg.MaxEntries {
		evicted = c.spans[0]
		copy(c.spans, c.spans[1:])
		c.spans = c.spans[:len(c.spans)-1]
		c.total -= evicted.n
	}
	c.spans = append(c.spans, cachedSpan{p: p, n: n})
	c.total += n
	c.mu.Unlock()

	if evicted.p != nil {
		return c.src.ReleasePages(evicted.p, evicted.n)
	}
	return nil
}

// Flush returns every cached span to the underlying source.
func (c *Cache) Flush() error {
	c.mu.Lock()
	spans := c.spans
	c.spans = make([]cachedSpan, 0, c.cfg.MaxEntries)
	c.total = 0
	c.mu.Unlock()

	var errs []error
	for _, s := range spans {
		if err := c.src.ReleasePages(s.p, s.n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CachedBytes reports the bytes currently held by the cache.
func (c *Cache) CachedBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Len reports the number of spans currently held by the cache.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.spans)
}
