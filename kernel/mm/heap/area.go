package heap

import (
	"gopheros/kernel"
	"gopheros/kernel/kfmt"
	"gopheros/kernel/mm"
	"gopheros/multiboot"
	"math"
	"unsafe"
)

var (
	// ErrNoSuitableRegion is returned by FindArea when no memory region
	// satisfies the selection policy.
	ErrNoSuitableRegion = &kernel.Error{Module: "heap", Message: "no suitable mapped heap region found"}
)

// Area describes the contiguous byte range used as the allocation arena.
type Area struct {
	Base uintptr
	Size uintptr
}

// Policy controls which memory regions FindArea accepts.
type Policy struct {
	// MinAddr is the lowest physical address a region may start at. The
	// first MiB holds legacy BIOS and boot structures.
	MinAddr uint64

	// MinSize is the minimum region length in bytes.
	MinSize uint64
}

// DefaultPolicy is the selection policy used by the kernel unless it is
// overridden on the boot command line.
var DefaultPolicy = Policy{
	MinAddr: 0x100000,
	MinSize: uint64(32 * mm.Mb),
}

// MinSizeFromMb converts a minimum region size expressed in MiB to bytes. It
// returns false if mb is zero or the size in bytes does not fit in a uint64.
func MinSizeFromMb(mb uint64) (uint64, bool) {
	if mb == 0 || mb > math.MaxUint64/uint64(mm.Mb) {
		return 0, false
	}
	return mb * uint64(mm.Mb), true
}

// Translator resolves virtual addresses to physical ones. It is satisfied by
// vmm.AddressSpace; tests supply fakes.
type Translator interface {
	Translate(virtAddr uintptr) (uintptr, *kernel.Error)
}

// RegionScanner enumerates the boot memory map in loader order. It is
// satisfied by multiboot.VisitMemRegions.
type RegionScanner func(multiboot.MemRegionVisitor) *kernel.Error

// FindArea scans the memory map and returns the first region that is
// available, starts at or above policy.MinAddr, is at least policy.MinSize
// bytes long and whose start address is mapped in as.
//
// Regions are considered in the order they are reported; the first match
// wins even if a later region is larger. Only the first page of a candidate
// is checked for a mapping and the rest of the region is assumed to be
// mapped as well; this is not verified.
//
// FindArea returns the scanner error if the memory map is missing and
// ErrNoSuitableRegion if no region qualifies.
func FindArea(scan RegionScanner, as Translator, policy Policy) (Area, *kernel.Error) {
	var (
		area  Area
		found bool
	)

	visitor := func(region multiboot.MemoryMapEntry) bool {
		if region.Type != multiboot.MemAvailable || region.PhysAddress < policy.MinAddr {
			return true
		}

		if _, err := as.Translate(uintptr(region.PhysAddress)); err != nil {
			return true
		}

		if region.Length < policy.MinSize {
			return true
		}

		area = Area{Base: uintptr(region.PhysAddress), Size: uintptr(region.Length)}
		found = true
		return false
	}

	// Use the noescape hack to prevent the compiler from leaking the
	// visitor function literal to the heap.
	if err := scan(*(*multiboot.MemRegionVisitor)(noEscape(unsafe.Pointer(&visitor)))); err != nil {
		return Area{}, err
	}

	if !found {
		kfmt.Printf("[heap] no region satisfies policy: min addr 0x%x, min size 0x%x\n", policy.MinAddr, policy.MinSize)
		return Area{}, ErrNoSuitableRegion
	}

	return area, nil
}

// PrintMemoryMap scans the memory region information provided by the
// bootloader and prints out the system's memory map.
func PrintMemoryMap(scan RegionScanner) *kernel.Error {
	var totalFree mm.Size

	visitor := func(region multiboot.MemoryMapEntry) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.PhysAddress, region.PhysAddress+region.Length, region.Length, region.Type.String())

		if region.Type == multiboot.MemAvailable {
			totalFree += mm.Size(region.Length)
		}
		return true
	}

	kfmt.Printf("[heap] system memory map:\n")
	if err := scan(*(*multiboot.MemRegionVisitor)(noEscape(unsafe.Pointer(&visitor)))); err != nil {
		return err
	}
	kfmt.Printf("[heap] available memory: %dKb\n", uint64(totalFree/mm.Kb))

	return nil
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
