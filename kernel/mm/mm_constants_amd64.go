package mm

// Paging constants for x86_64 with 4K base pages.
const (
	// PointerShift is log2 of the pointer size in bytes.
	PointerShift = uintptr(3)

	// PageShift is log2(PageSize); shifting an address right by PageShift
	// yields its page or frame number.
	PageShift = uintptr(12)

	// PageSize is the size of a base page in bytes.
	PageSize = uintptr(1 << PageShift)

	// PageTableEntries is the number of entries in a single page table.
	PageTableEntries = PageSize >> PointerShift
)
