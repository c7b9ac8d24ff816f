// Package goruntime contains code for bootstrapping Go runtime features such
// as the memory allocator.
//
// The runtime talks to the OS through the sys*OS family of functions. The
// replacements in this package hand out address space from a window of the
// canonical lower half and back it, one page at a time, with frames taken
// from the kernel heap allocator. Reserving address space never consumes
// heap memory; only pages the runtime commits through sysMapOS or
// sysAllocOS do. Nothing is ever returned to the heap.
//
// The redirect targets match the runtime shipped with the toolchain pinned in
// go.mod.
package goruntime

import (
	"gopheros/kernel"
	"gopheros/kernel/kfmt"
	"gopheros/kernel/mm"
	"gopheros/kernel/mm/heap"
	"gopheros/kernel/mm/vmm"
	"sync/atomic"
	"unsafe"
)

const (
	// reserveWindowStart is the first address handed out by sysReserveOS.
	// It matches the first arena hint the runtime tries on amd64 so the
	// initial heap arena is placed exactly where the runtime wants it.
	reserveWindowStart uintptr = 0x00c0 << 32

	// reserveWindowEnd is the end of the canonical lower half.
	reserveWindowEnd uintptr = 1 << 47

	// pageFlags are applied to every page committed for the runtime.
	pageFlags = vmm.FlagPresent | vmm.FlagRW
)

var (
	// ErrNoAllocator is returned by Init when it is invoked without a
	// backing allocator.
	ErrNoAllocator = &kernel.Error{Module: "goruntime", Message: "no allocator supplied"}

	errInvalidRegion = &kernel.Error{Module: "goruntime", Message: "region wraps around the address space"}

	// sysAllocator provides the frames that back all memory committed by
	// the Go runtime.
	sysAllocator heap.Allocator

	// nextReserveAddr is the lowest address in the reservation window that
	// has not been handed out yet.
	nextReserveAddr = reserveWindowStart

	pageLayout = heap.Layout{Size: mm.PageSize, Align: mm.PageSize}

	allocateFn      = heap.Allocate
	memsetFn        = kernel.Memset
	isMappedFn      = vmm.IsMapped
	mapFn           = mapPage
	panicFn         = kfmt.Panic
	mallocInitFn    = mallocInit
	algInitFn       = algInit
	modulesInitFn   = modulesInit
	typeLinksInitFn = typeLinksInit
	itabsInitFn     = itabsInit

	// A seed for the pseudo-random number generator used by getRandomData
	prngSeed = 0xdeadc0de
)

// sysReserveOS reserves size bytes of address space without committing any
// memory. A non-nil hint is honored if it lies at or above the unreserved
// part of the window; otherwise nil is returned and the runtime moves on to
// its next hint. Without a hint the next free block of the window is used.
//
// This function replaces runtime.sysReserveOS and is required for
// initializing the Go allocator.
//
//go:redirect-from runtime.sysReserveOS
//go:nosplit
func sysReserveOS(hint unsafe.Pointer, size uintptr) unsafe.Pointer {
	size = mm.PageAlign(size)
	if size == 0 {
		return nil
	}

	for {
		cur := atomic.LoadUintptr(&nextReserveAddr)

		start := cur
		if hint != nil {
			start = uintptr(hint)
			if start < cur || start&(mm.PageSize-1) != 0 {
				return nil
			}
		}

		if start >= reserveWindowEnd || size > reserveWindowEnd-start {
			return nil
		}

		if atomic.CompareAndSwapUintptr(&nextReserveAddr, cur, start+size) {
			return unsafe.Pointer(start)
		}
	}
}

// sysMapOS commits a region previously obtained via sysReserveOS. Every page
// in the region that is not mapped yet is backed by a zeroed frame from the
// kernel heap. If the heap is exhausted the out-of-memory handler halts the
// CPU.
//
// This function replaces runtime.sysMapOS and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysMapOS
//go:nosplit
func sysMapOS(virtAddr unsafe.Pointer, size uintptr) {
	if err := commitRegion(uintptr(virtAddr), size); err != nil && err != heap.ErrOutOfMemory {
		panicFn(err)
	}
}

// sysAllocOS reserves and commits a zeroed, page-aligned block and returns
// a pointer to its start. It returns nil if either step fails.
//
// This function replaces runtime.sysAllocOS and is required for
// initializing the Go allocator.
//
//go:redirect-from runtime.sysAllocOS
//go:nosplit
func sysAllocOS(size uintptr) unsafe.Pointer {
	regionStart := sysReserveOS(nil, size)
	if regionStart == nil {
		return nil
	}

	if err := commitRegion(uintptr(regionStart), size); err != nil {
		if err != heap.ErrOutOfMemory {
			panicFn(err)
		}
		return nil
	}

	return regionStart
}

// sysFreeOS is a no-op; memory handed to the runtime is never reclaimed.
//
//go:redirect-from runtime.sysFreeOS
//go:nosplit
func sysFreeOS(_ unsafe.Pointer, _ uintptr) {}

// sysUnusedOS is a no-op; committed pages stay mapped.
//
//go:redirect-from runtime.sysUnusedOS
//go:nosplit
func sysUnusedOS(_ unsafe.Pointer, _ uintptr) {}

// sysUsedOS is a no-op as pages are never released by sysUnusedOS.
//
//go:redirect-from runtime.sysUsedOS
//go:nosplit
func sysUsedOS(_ unsafe.Pointer, _ uintptr) {}

// commitRegion backs every unmapped page that overlaps [addr, addr+size)
// with a zeroed heap frame. It returns heap.ErrOutOfMemory once the
// out-of-memory handler has been invoked.
//
//go:nosplit
func commitRegion(addr, size uintptr) *kernel.Error {
	if size == 0 {
		return nil
	}

	if size > ^uintptr(0)-addr {
		return errInvalidRegion
	}

	var (
		start = addr &^ (mm.PageSize - 1)
		end   = mm.PageAlign(addr + size)
	)

	for page := start; page < end; page += mm.PageSize {
		if isMappedFn(page) {
			continue
		}

		frame := allocFrame()
		if frame == 0 {
			return heap.ErrOutOfMemory
		}

		if err := mapFn(page, frame); err != nil {
			return err
		}
	}

	return nil
}

// allocFrame returns the address of a zeroed page taken from the kernel heap
// or 0 if the heap is exhausted.
//
//go:nosplit
func allocFrame() uintptr {
	frame := allocateFn(sysAllocator, pageLayout)
	if frame != 0 {
		memsetFn(frame, 0, mm.PageSize)
	}
	return frame
}

// allocTable provides frames for page tables created while committing.
func allocTable() (uintptr, *kernel.Error) {
	if frame := allocFrame(); frame != 0 {
		return frame, nil
	}
	return 0, heap.ErrOutOfMemory
}

// mapPage maps page to frame in the active address space. The heap arena is
// identity mapped so heap addresses double as physical frame addresses.
func mapPage(page, frame uintptr) *kernel.Error {
	return vmm.ActiveAddressSpace().Map(page, frame, pageFlags, allocTable)
}

// nanotime1 returns a monotonically increasing clock value. This is a dummy
// implementation as there is no timer support.
//
// This function replaces runtime.nanotime1 and is invoked by the Go allocator
// when a span allocation is performed.
//
//go:redirect-from runtime.nanotime1
//go:nosplit
func nanotime1() int64 {
	// Use a dummy loop to prevent the compiler from inlining this function.
	for i := 0; i < 100; i++ {
	}
	return 1
}

// getRandomData populates the given slice with random data. The implementation
// is the runtime package reads a random stream from /dev/random but since this
// is not available, we use a prng instead.
//
//go:redirect-from runtime.getRandomData
func getRandomData(r []byte) {
	for i := 0; i < len(r); i++ {
		prngSeed = (prngSeed * 58321) + 11113
		r[i] = byte((prngSeed >> 16) & 255)
	}
}

// Init routes the Go runtime memory requests to a and enables support for
// various Go runtime features. After a call to Init the following runtime
// features become available for use:
//   - heap memory allocation (new, make e.t.c)
//   - map primitives
//   - interfaces
func Init(a heap.Allocator) *kernel.Error {
	if a == nil {
		return ErrNoAllocator
	}
	sysAllocator = a

	mallocInitFn()
	algInitFn()       // setup hash implementation for map keys
	modulesInitFn()   // provides activeModules
	typeLinksInitFn() // uses maps, activeModules
	itabsInitFn()     // uses activeModules

	return nil
}

func init() {
	// Dummy calls so the compiler does not optimize away the functions in
	// this file. No allocator is installed while package init runs.
	zeroPtr := unsafe.Pointer(uintptr(0))

	if sysAllocator != nil {
		sysMapOS(sysReserveOS(zeroPtr, 0), 0)
		sysAllocOS(0)
	}
	sysFreeOS(zeroPtr, 0)
	sysUnusedOS(zeroPtr, 0)
	sysUsedOS(zeroPtr, 0)
	getRandomData(nil)
	prngSeed += int(nanotime1())
}
