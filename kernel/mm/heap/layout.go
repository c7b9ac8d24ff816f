package heap

import "gopheros/kernel"

var (
	// ErrInvalidAlign is returned by NewLayout when the requested
	// alignment is not a power of two.
	ErrInvalidAlign = &kernel.Error{Module: "heap", Message: "alignment must be a power of two"}
)

// Layout describes the size and alignment of an allocation request.
type Layout struct {
	// Size is the number of bytes requested.
	Size uintptr

	// Align is the required alignment of the returned address. It must be
	// a power of two; a zero value is treated as 1.
	Align uintptr
}

// NewLayout returns a Layout for the given size and alignment or
// ErrInvalidAlign if align is not a power of two. An align of 0 is
// normalized to 1.
func NewLayout(size, align uintptr) (Layout, *kernel.Error) {
	if align == 0 {
		align = 1
	}

	if align&(align-1) != 0 {
		return Layout{}, ErrInvalidAlign
	}

	return Layout{Size: size, Align: align}, nil
}
