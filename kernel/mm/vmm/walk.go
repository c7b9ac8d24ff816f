package vmm

import (
	"gopheros/kernel/cpu"
	"gopheros/kernel/mm"
	"unsafe"
)

var (
	// activePDTFn is used by tests to override calls to cpu.ActivePDT
	// which will cause a fault if called in user-mode.
	activePDTFn = cpu.ActivePDT

	// ptePtrFn returns a pointer to the supplied entry address. It is
	// used by tests to override the generated page table entry pointers so
	// walk() can be properly tested. When compiling the kernel this function
	// will be automatically inlined.
	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		return unsafe.Pointer(entryAddr)
	}
)

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments.  If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a page table walk for the given virtual address starting at
// the top-level table referenced by the CR3 register. It calls walkFn with the
// page table entry that corresponds to each page table level.
//
// Page tables are addressed through their physical address plus the address
// space PhysOffset; walk never dereferences the entry contents itself, so it
// is up to walkFn to stop the walk before a non-present entry is followed.
func (as AddressSpace) walk(virtAddr uintptr, walkFn pageTableWalker) {
	var (
		tableAddr  = activePDTFn() + as.PhysOffset
		entryIndex uintptr
		pte        *pageTableEntry
	)

	for level := uint8(0); level < pageLevels; level++ {
		// Extract the bits from virtual address that correspond to the
		// index in this level's page table
		entryIndex = (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		pte = (*pageTableEntry)(ptePtrFn(tableAddr + (entryIndex << mm.PointerShift)))

		if !walkFn(level, pte) {
			return
		}

		tableAddr = pte.Frame().Address() + as.PhysOffset
	}
}
