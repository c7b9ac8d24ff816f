// Package mm defines the page and frame arithmetic shared by the memory
// management code.
package mm

import "math"

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame marks a frame value that does not correspond to any
	// physical page.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns a pointer to the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// FrameFromAddress returns a Frame that corresponds to
// the given physical address. This function can handle
// both page-aligned and not aligned addresses. in the
// latter case, the input address will be rounded down
// to the frame that contains it.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(uintptr(PageSize - 1))) >> PageShift)
}

// PageAlign rounds size up to the next multiple of PageSize. Sizes that
// would overflow when rounded up are clamped to the largest page-aligned
// value.
func PageAlign(size uintptr) uintptr {
	if size > math.MaxUint64-(PageSize-1) {
		return math.MaxUint64 &^ (PageSize - 1)
	}
	return (size + PageSize - 1) &^ (PageSize - 1)
}
