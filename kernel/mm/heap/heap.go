// Package heap selects the kernel heap arena from the boot memory map and
// serves allocations from it with a lock-free bump allocator.
package heap

import (
	"gopheros/kernel"
	"gopheros/kernel/kfmt"
)

var (
	// ErrOutOfMemory is the fatal error raised when the global allocation
	// path cannot be satisfied.
	ErrOutOfMemory = &kernel.Error{Module: "heap", Message: "out of memory in bump allocator"}

	// ErrAlreadyInitialized is returned by Init when the kernel heap has
	// already been set up.
	ErrAlreadyInitialized = &kernel.Error{Module: "heap", Message: "kernel heap already initialized"}

	// kernelHeap is the process-wide allocator instance set up by Init.
	kernelHeap  BumpAllocator
	initialized bool

	// The following functions are mocked by tests.
	panicFn       = kfmt.Panic
	outOfMemoryFn = OutOfMemory
)

// Allocator is implemented by types that can serve heap allocations.
type Allocator interface {
	// Alloc returns the address of a block satisfying layout or an error
	// if the request cannot be served.
	Alloc(layout Layout) (uintptr, *kernel.Error)

	// Free releases a block previously returned by Alloc.
	Free(addr uintptr, layout Layout)
}

// Init selects the heap arena using scan, as and policy and initializes the
// kernel heap with it. It must be called exactly once, before any allocation
// is attempted and before interrupts are enabled.
func Init(scan RegionScanner, as Translator, policy Policy) (*BumpAllocator, *kernel.Error) {
	if initialized {
		return nil, ErrAlreadyInitialized
	}

	area, err := FindArea(scan, as, policy)
	if err != nil {
		return nil, err
	}

	kernelHeap.Init(area)
	initialized = true
	kfmt.Printf("heap at 0x%x, size 0x%x\n", area.Base, area.Size)

	return &kernelHeap, nil
}

// Allocate requests a block from a. If the request cannot be satisfied it
// invokes the out-of-memory handler which halts the CPU; Allocate never
// returns a failed allocation to its caller.
func Allocate(a Allocator, layout Layout) uintptr {
	addr, err := a.Alloc(layout)
	if err != nil {
		outOfMemoryFn(layout)
		return 0
	}

	return addr
}

// OutOfMemory reports the allocation request that could not be satisfied and
// halts the CPU.
func OutOfMemory(layout Layout) {
	kfmt.Printf("[heap] out of memory: size %d, align %d\n", uint64(layout.Size), uint64(layout.Align))
	panicFn(ErrOutOfMemory)
}
