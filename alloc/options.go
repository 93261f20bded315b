package alloc

import (
	"fmt"

	"github.com/rs/zerolog"
)

const (
	// defaultAlignment is the size of one free-list node.
	defaultAlignment = 8

	minPageSize         = 4 << 10
	maxPageSize         = 64 << 10
	defaultPoolSize     = 64 << 10
	defaultAddressLimit = 1 << 32
)

// Option configures an Allocator.
type Option func(*options)

type options struct {
	addressLimit uint64
	poolSize     uintptr
	logger       zerolog.Logger
	oom          func(size, alignment uintptr)
	strict       bool
}

func defaultOptions() options {
	return options{
		addressLimit: defaultAddressLimit,
		poolSize:     defaultPoolSize,
		logger:       zerolog.Nop(),
	}
}

// WithAddressLimit sizes the hash of page groups for addresses below limit.
// Addresses above it still work but share buckets. Must be a power of two.
func WithAddressLimit(limit uint64) Option {
	return func(o *options) { o.addressLimit = limit }
}

// WithPoolSize sets the bytes carved into blocks each time a size class
// needs a new pool. Must be a multiple of the page size and at least 32 KiB.
func WithPoolSize(n uintptr) Option {
	return func(o *options) { o.poolSize = n }
}

// WithLogger routes allocator events to l.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithOutOfMemory installs a hook called with the failed request when the
// page source is exhausted. If the hook returns, the failing call returns nil.
// Without a hook the allocator panics with ErrOutOfMemory.
func WithOutOfMemory(hook func(size, alignment uintptr)) Option {
	return func(o *options) { o.oom = hook }
}

// WithStrictValidation makes ValidateHeap panic on the first violation
// instead of returning it.
func WithStrictValidation() Option {
	return func(o *options) { o.strict = true }
}

func (o *options) validate(pageSize uintptr) error {
	switch {
	case !isPow2(pageSize) || pageSize < minPageSize || pageSize > maxPageSize:
		return fmt.Errorf("%w: page size %d must be a power of two in [%d, %d]", ErrConfig, pageSize, minPageSize, maxPageSize)
	case o.addressLimit&(o.addressLimit-1) != 0 || o.addressLimit <= uint64(pageSize):
		return fmt.Errorf("%w: address limit %#x must be a power of two above the page size", ErrConfig, o.addressLimit)
	case o.poolSize%pageSize != 0 || o.poolSize < maxPooledSize:
		return fmt.Errorf("%w: pool size %d must be a page multiple of at least %d", ErrConfig, o.poolSize, maxPooledSize)
	}
	return nil
}
