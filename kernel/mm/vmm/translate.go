// Package vmm walks the active page table hierarchy. It answers translation
// queries and can install individual 4K mappings; it does not manage the
// address space layout.
package vmm

import "gopheros/kernel"

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}
)

// AddressSpace answers translation queries for the page tables referenced by
// the CR3 register.
//
// Page tables live in physical memory; PhysOffset is the virtual address at
// which physical address 0 can be accessed. The kernel runs with the tables
// identity-mapped (PhysOffset 0). This is an assumption about the loader
// hand-off that is not verified; if it does not hold, walking the tables
// reads arbitrary memory or faults.
type AddressSpace struct {
	PhysOffset uintptr
}

// ActiveAddressSpace returns the address space used by the kernel at boot.
func ActiveAddressSpace() AddressSpace {
	return AddressSpace{}
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if any level of the page table
// hierarchy has no present entry for it. Translate never modifies the page
// tables.
func (as AddressSpace) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	var (
		physAddr uintptr
		err      = ErrInvalidMapping
	)

	as.walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			return false
		}

		if !pte.mapsPage(pteLevel) {
			return true
		}

		// Huge pages keep more of the virtual address as the offset
		// into the mapped page.
		offsetMask := (uintptr(1) << pageLevelShifts[pteLevel]) - 1
		physAddr = (uintptr(*pte) & ptePhysPageMask &^ offsetMask) + (virtAddr & offsetMask)
		err = nil
		return false
	})

	return physAddr, err
}

// IsMapped returns true if virtAddr resolves to a physical frame in this
// address space. An unmapped address is a normal outcome, not an error.
func (as AddressSpace) IsMapped(virtAddr uintptr) bool {
	_, err := as.Translate(virtAddr)
	return err == nil
}

// Translate returns the physical address that corresponds to the supplied
// virtual address using the active address space.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	return ActiveAddressSpace().Translate(virtAddr)
}

// IsMapped reports whether virtAddr is mapped in the active address space.
func IsMapped(virtAddr uintptr) bool {
	return ActiveAddressSpace().IsMapped(virtAddr)
}
