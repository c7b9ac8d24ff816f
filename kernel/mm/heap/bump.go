package heap

import (
	"gopheros/kernel"
	"sync/atomic"
)

const maxUintptr = ^uintptr(0)

var (
	// ErrArenaExhausted is returned by BumpAllocator.Alloc when the
	// remaining arena space cannot hold the aligned request.
	ErrArenaExhausted = &kernel.Error{Module: "heap", Message: "bump allocator arena exhausted"}
)

// BumpAllocator hands out memory from a fixed arena by advancing a cursor.
// Allocations are never reclaimed. Alloc is safe for concurrent use without
// locks so it may also be invoked from interrupt context.
//
// The zero value is an empty arena; every non-empty request fails until
// Init is called.
type BumpAllocator struct {
	base uintptr
	size uintptr

	// next is the address of the first unallocated byte. It is only
	// accessed atomically and never decreases.
	next uintptr
}

// Init points the allocator at the given area and resets the cursor to its
// start. Init must be called before the allocator is shared.
func (a *BumpAllocator) Init(area Area) {
	a.base = area.Base
	a.size = area.Size
	atomic.StoreUintptr(&a.next, area.Base)
}

// Alloc reserves layout.Size bytes aligned to layout.Align and returns the
// start address of the reservation. If the request does not fit in the
// remaining arena space, Alloc returns ErrArenaExhausted and leaves the
// allocator state unchanged.
func (a *BumpAllocator) Alloc(layout Layout) (uintptr, *kernel.Error) {
	limit := saturatingAdd(a.base, a.size)

	for {
		cur := atomic.LoadUintptr(&a.next)
		start := alignUp(cur, layout.Align)
		end := saturatingAdd(start, layout.Size)

		if end > limit || (start == maxUintptr && layout.Size != 0) {
			return 0, ErrArenaExhausted
		}

		if atomic.CompareAndSwapUintptr(&a.next, cur, end) {
			return start, nil
		}
	}
}

// Free is a no-op; a bump allocator never reclaims memory.
func (a *BumpAllocator) Free(_ uintptr, _ Layout) {}

// Base returns the start address of the arena.
func (a *BumpAllocator) Base() uintptr { return a.base }

// Size returns the arena size in bytes.
func (a *BumpAllocator) Size() uintptr { return a.size }

// Used returns the number of arena bytes consumed so far, including any
// alignment padding.
func (a *BumpAllocator) Used() uintptr {
	return atomic.LoadUintptr(&a.next) - a.base
}

// Remaining returns the number of arena bytes that have not been handed out.
func (a *BumpAllocator) Remaining() uintptr {
	return saturatingAdd(a.base, a.size) - atomic.LoadUintptr(&a.next)
}

// alignUp rounds addr up to the next multiple of align. align must be a power
// of two; 0 is treated as 1. The result saturates at maxUintptr.
func alignUp(addr, align uintptr) uintptr {
	if align <= 1 {
		return addr
	}

	mask := align - 1
	if addr&mask == 0 {
		return addr
	}

	return saturatingAdd(addr&^mask, align)
}

// saturatingAdd returns a+b clamped to maxUintptr.
func saturatingAdd(a, b uintptr) uintptr {
	if a > maxUintptr-b {
		return maxUintptr
	}
	return a + b
}
