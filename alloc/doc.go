// Package alloc implements a binned general-purpose memory allocator.
//
// # Overview
//
// Requests are rounded up to one of 42 fixed size classes (8 bytes to 32 KiB)
// and served from pools: 64 KiB spans of OS pages carved into equal blocks.
// Larger requests bypass pooling and take whole pages straight from the page
// source. Memory handed out is not managed by the Go garbage collector.
//
// # Layout
//
//   - Size classes: a dense size→class table gives O(1) quantization.
//   - Pool tables: one per class, each with an "available" list of pools
//     that still have free blocks and an "exhausted" list of full ones.
//   - Pool descriptors: one per OS page, reached through a hash of
//     page-group keys to indirect tables. The first page of a span carries
//     the real descriptor; later pages carry a back-reference to it.
//   - Free lists: intrusive, stored in the free blocks themselves. Each node
//     covers a run of consecutive free blocks; freed blocks are pushed LIFO.
//
// # Usage
//
//	a, err := alloc.New(pagesource.NewMmap(0))
//	if err != nil {
//	    return err
//	}
//	p := a.Malloc(40, 16)
//	p = a.Realloc(p, 100, 16)
//	a.Free(p)
//
// # Thread Safety
//
// An Allocator is not safe for concurrent use. Wrap it with NewSynchronized
// to serialize every entry point behind one mutex. QuantizeSize only reads
// immutable tables and is safe to call without locking.
package alloc
