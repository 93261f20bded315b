package main

import (
	"fmt"
	"unsafe"

	"github.com/shivam-909/gofullymanual/alloc"
)

const N = 100000000

// Fills a slice far larger than any size class, so it comes straight from
// OS pages, and hands it back.
func main() {
	a, err := alloc.NewDefault()
	if err != nil {
		panic(err)
	}

	slice := alloc.AllocateSlice[int](a, N)
	for i := range N {
		slice[i] = i
	}

	size, _ := a.GetAllocationSize(unsafe.Pointer(&slice[0]))
	fmt.Printf("filled %d ints in a %d byte OS allocation\n", N, size)

	alloc.FreeSlice(a, slice)
	if err := a.ValidateHeap(); err != nil {
		panic(err)
	}
}
