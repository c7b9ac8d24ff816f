// Package multiboot parses the multiboot2 information block that the boot
// loader hands over to the kernel. All functions in this package work
// directly on the loader-provided memory and never allocate, so they can be
// used before the Go allocator is initialized.
package multiboot

import (
	"gopheros/kernel"
	"unsafe"
)

var (
	infoData uintptr

	// ErrNoMemoryMap is returned when the boot loader did not provide a
	// memory map.
	ErrNoMemoryMap = &kernel.Error{Module: "multiboot", Message: "boot loader did not provide a memory map"}
)

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
)

// tagHeader describes the header the preceedes each tag.
type tagHeader struct {
	// The type of the tag
	tagType tagType

	// The size of the tag including the header but *not* including any
	// padding. According to the spec, each tag starts at a 8-byte aligned
	// address.
	size uint32
}

// mmapHeader describes the header for a memory map specification.
type mmapHeader struct {
	// The size of each entry.
	entrySize uint32

	// The version of the entries that follow.
	entryVersion uint32
}

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	default:
		return "unknown"
	}
}

// Normalize returns MemReserved for type values that are not recognized by
// this package and t otherwise.
func (t MemoryEntryType) Normalize() MemoryEntryType {
	if t == 0 || t >= memUnknown {
		return MemReserved
	}
	return t
}

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// MemRegionVisitor defines a visitor function that gets invoked by
// VisitMemRegions for each memory region provided by the boot loader. The
// visitor must return true to continue or false to abort the scan.
//
// Entries are passed by value; the loader-provided map is never modified.
type MemRegionVisitor func(MemoryMapEntry) bool

// SetInfoPtr updates the internal multiboot information pointer to the given
// value. This function must be invoked before invoking any other function
// exported by this package.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
}

// VisitMemRegions invokes the supplied visitor for each memory region that
// is defined by the multiboot info data that we received from the
// bootloader. Regions are visited in the order reported by the loader and
// the scan can be repeated any number of times.
//
// VisitMemRegions returns ErrNoMemoryMap if no info block was set or if it
// does not contain a memory map tag.
func VisitMemRegions(visitor MemRegionVisitor) *kernel.Error {
	curPtr, size := findTagByType(tagMemoryMap)
	if size == 0 {
		return ErrNoMemoryMap
	}

	// curPtr points to the memory map header (2 dwords long)
	ptrMapHeader := (*mmapHeader)(unsafe.Pointer(curPtr))
	endPtr := curPtr + uintptr(size)
	curPtr += 8

	if ptrMapHeader.entrySize == 0 {
		return ErrNoMemoryMap
	}

	var entry MemoryMapEntry
	for ; curPtr+uintptr(ptrMapHeader.entrySize) <= endPtr; curPtr += uintptr(ptrMapHeader.entrySize) {
		entry = *(*MemoryMapEntry)(unsafe.Pointer(curPtr))

		entry.Type = entry.Type.Normalize()

		if !visitor(entry) {
			break
		}
	}

	return nil
}

// VisitBootCmdLine splits the kernel command line into whitespace-separated
// fields and invokes visitor for each one. Fields of the form "key=value"
// are passed as (key, value); fields without a '=' are passed as (field,
// field). The visitor returns false to stop the scan.
//
// The strings passed to the visitor point into the loader-provided command
// line and are only valid for as long as the multiboot info block is.
func VisitBootCmdLine(visitor func(key, value string) bool) {
	curPtr, size := findTagByType(tagBootCmdLine)
	if size <= 1 {
		return
	}

	// The command line is a C-style NULL-terminated string
	cmdLine := unsafe.String((*byte)(unsafe.Pointer(curPtr)), int(size-1))

	for start := 0; start < len(cmdLine); {
		for start < len(cmdLine) && isSpace(cmdLine[start]) {
			start++
		}

		end := start
		for end < len(cmdLine) && !isSpace(cmdLine[end]) {
			end++
		}

		if start == end {
			break
		}

		field := cmdLine[start:end]
		key, value := field, field
		for i := 0; i < len(field); i++ {
			if field[i] == '=' {
				key, value = field[:i], field[i+1:]
				break
			}
		}

		if !visitor(key, value) {
			return
		}
		start = end
	}
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == 0
}

// findTagByType scans the multiboot info data looking for the start of of the
// specified type. It returns a pointer to the tag contents start offset and
// the content length exluding the tag header.
//
// If no info pointer has been set or the tag is not present in the multiboot
// info, findTagByType will return back (0,0).
func findTagByType(tagType tagType) (uintptr, uint32) {
	if infoData == 0 {
		return 0, 0
	}

	var ptrTagHeader *tagHeader

	curPtr := infoData + 8
	for ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)); ptrTagHeader.tagType != tagMbSectionEnd; ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)) {
		if ptrTagHeader.tagType == tagType {
			return curPtr + 8, ptrTagHeader.size - 8
		}

		// Tags are aligned at 8-byte aligned addresses
		curPtr += uintptr(int32(ptrTagHeader.size+7) & ^7)
	}

	return 0, 0
}
