package vmm

import (
	"gopheros/kernel"
	"gopheros/kernel/cpu"
	"gopheros/kernel/mm"
)

var (
	// flushTLBEntryFn is used by tests to override calls to
	// cpu.FlushTLBEntry which will cause a fault if called in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry

	// memsetFn clears newly allocated page tables. It is used by tests to
	// redirect writes to fake tables.
	memsetFn = kernel.Memset

	// ErrAlreadyMapped is returned by Map when the page already has a
	// present mapping.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "virtual page is already mapped"}

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
	errUnalignedAddress  = &kernel.Error{Module: "vmm", Message: "page and frame addresses must be page-aligned"}
)

// TableAllocatorFn returns the physical address of a page-aligned frame that
// Map can use for a missing page table.
type TableAllocatorFn func() (uintptr, *kernel.Error)

// Map installs a 4K mapping from the virtual page at pageAddr to the
// physical frame at frameAddr. Missing intermediate tables are obtained from
// allocTable and cleared before they are linked in. Existing mappings are
// never replaced.
func (as AddressSpace) Map(pageAddr, frameAddr uintptr, flags PageTableEntryFlag, allocTable TableAllocatorFn) *kernel.Error {
	if pageAddr&(mm.PageSize-1) != 0 || frameAddr&(mm.PageSize-1) != 0 {
		return errUnalignedAddress
	}

	var err *kernel.Error

	as.walk(pageAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			if pte.HasFlags(FlagPresent) {
				err = ErrAlreadyMapped
				return false
			}

			*pte = pageTableEntry(frameAddr) | pageTableEntry(flags|FlagPresent)
			flushTLBEntryFn(pageAddr)
			return false
		}

		if pte.HasFlags(FlagPresent) {
			if pte.HasFlags(FlagHugePage) {
				err = errNoHugePageSupport
				return false
			}
			return true
		}

		var tableAddr uintptr
		if tableAddr, err = allocTable(); err != nil {
			return false
		}
		if tableAddr&(mm.PageSize-1) != 0 {
			err = errUnalignedAddress
			return false
		}

		memsetFn(tableAddr+as.PhysOffset, 0, mm.PageSize)
		*pte = pageTableEntry(tableAddr) | pageTableEntry(FlagPresent|FlagRW)
		return true
	})

	return err
}
