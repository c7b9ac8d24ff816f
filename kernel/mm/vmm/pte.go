package vmm

import "gopheros/kernel/mm"

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uintptr

// pageTableEntry describes a page table entry. These entries encode
// a physical frame address and a set of flags. The actual format
// of the entry and flags is architecture-dependent.
type pageTableEntry uintptr

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// Frame returns the physical page frame that this page table entry points to.
func (pte pageTableEntry) Frame() mm.Frame {
	return mm.Frame((uintptr(pte) & ptePhysPageMask) >> mm.PageShift)
}

// mapsPage returns true if the entry at pteLevel maps a page instead of
// pointing to a lower-level table. Entries in the last level always map a
// page; P3 and P2 entries do so when FlagHugePage is set.
func (pte pageTableEntry) mapsPage(pteLevel uint8) bool {
	if pteLevel == pageLevels-1 {
		return true
	}
	return pteLevel > 0 && pte.HasFlags(FlagHugePage)
}
