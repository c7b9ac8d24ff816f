package multiboot

import (
	"encoding/binary"
	"testing"
	"unsafe"
)

// infoBuilder assembles a multiboot2 info block in memory.
type infoBuilder struct {
	buf []byte
}

func newInfoBuilder() *infoBuilder {
	// total size and reserved fields get patched by build()
	return &infoBuilder{buf: make([]byte, 8)}
}

func (b *infoBuilder) addTag(tagType tagType, payload []byte) *infoBuilder {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(tagType))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(8+len(payload)))
	b.buf = append(b.buf, hdr[:]...)
	b.buf = append(b.buf, payload...)
	for len(b.buf)%8 != 0 {
		b.buf = append(b.buf, 0)
	}
	return b
}

func (b *infoBuilder) addMemoryMap(entries ...MemoryMapEntry) *infoBuilder {
	payload := make([]byte, 8+24*len(entries))
	binary.LittleEndian.PutUint32(payload[0:], 24)
	for i, entry := range entries {
		off := 8 + 24*i
		binary.LittleEndian.PutUint64(payload[off:], entry.PhysAddress)
		binary.LittleEndian.PutUint64(payload[off+8:], entry.Length)
		binary.LittleEndian.PutUint32(payload[off+16:], uint32(entry.Type))
	}
	return b.addTag(tagMemoryMap, payload)
}

func (b *infoBuilder) addCmdLine(cmdLine string) *infoBuilder {
	return b.addTag(tagBootCmdLine, append([]byte(cmdLine), 0))
}

// build terminates the tag list and installs the block as the active info
// pointer.
func (b *infoBuilder) build() []byte {
	b.addTag(tagMbSectionEnd, nil)
	binary.LittleEndian.PutUint32(b.buf[0:], uint32(len(b.buf)))
	SetInfoPtr(uintptr(unsafe.Pointer(&b.buf[0])))
	return b.buf
}

func TestFindTagByType(t *testing.T) {
	data := newInfoBuilder().
		addCmdLine("").
		addTag(tagBootLoaderName, []byte("GRUB 2.02\x00")).
		addMemoryMap(MemoryMapEntry{0, 0x9fc00, MemAvailable}).
		build()

	specs := []struct {
		tagType tagType
		expSize uint32
	}{
		{tagBootCmdLine, 1},
		{tagBootLoaderName, 10},
		{tagMemoryMap, 32},
		{tagModules, 0},
	}

	for specIndex, spec := range specs {
		_, size := findTagByType(spec.tagType)

		if size != spec.expSize {
			t.Errorf("[spec %d] expected tag size for tag type %d to be %d; got %d", specIndex, spec.tagType, spec.expSize, size)
		}
	}

	_ = data
}

func TestFindTagByTypeWithoutInfoPtr(t *testing.T) {
	SetInfoPtr(0)

	if offset, size := findTagByType(tagMemoryMap); offset != 0 || size != 0 {
		t.Fatalf("expected findTagByType to return (0,0) without an info pointer; got (%d, %d)", offset, size)
	}
}

func TestVisitMemRegions(t *testing.T) {
	specs := []struct {
		expPhys uint64
		expLen  uint64
		expType MemoryEntryType
	}{
		// This region type is actually MemAvailable but we patch it to
		// a bogus value to test whether it gets flagged as reserved
		{0, 654336, MemReserved},
		{654336, 1024, MemReserved},
		{983040, 65536, MemReserved},
		{1048576, 133038080, MemAvailable},
		{134086656, 131072, MemReserved},
		{4294705152, 262144, MemReserved},
	}

	data := make([]byte, len(multibootMemoryMap))
	copy(data, multibootMemoryMap)

	// Set a bogus type for the first entry in the map
	data[40] = 0xFF
	SetInfoPtr(uintptr(unsafe.Pointer(&data[0])))

	for pass := 0; pass < 2; pass++ {
		var visitCount int
		err := VisitMemRegions(func(entry MemoryMapEntry) bool {
			if visitCount >= len(specs) {
				t.Errorf("[pass %d] unexpected visit %d", pass, visitCount)
				return false
			}

			if entry.PhysAddress != specs[visitCount].expPhys {
				t.Errorf("[pass %d] [visit %d] expected physical address to be %x; got %x", pass, visitCount, specs[visitCount].expPhys, entry.PhysAddress)
			}
			if entry.Length != specs[visitCount].expLen {
				t.Errorf("[pass %d] [visit %d] expected region len to be %x; got %x", pass, visitCount, specs[visitCount].expLen, entry.Length)
			}
			if entry.Type != specs[visitCount].expType {
				t.Errorf("[pass %d] [visit %d] expected region type to be %d; got %d", pass, visitCount, specs[visitCount].expType, entry.Type)
			}
			visitCount++
			return true
		})

		if err != nil {
			t.Fatalf("[pass %d] unexpected error: %v", pass, err)
		}

		if visitCount != len(specs) {
			t.Errorf("[pass %d] expected the visitor func to be invoked %d times; got %d", pass, len(specs), visitCount)
		}
	}

	if data[40] != 0xFF {
		t.Error("expected VisitMemRegions not to modify the loader-provided memory map")
	}
}

func TestVisitMemRegionsAbort(t *testing.T) {
	data := newInfoBuilder().
		addMemoryMap(
			MemoryMapEntry{0, 0x9fc00, MemAvailable},
			MemoryMapEntry{0x100000, 0x4000000, MemAvailable},
		).
		build()

	var visitCount int
	err := VisitMemRegions(func(_ MemoryMapEntry) bool {
		visitCount++
		return false
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if visitCount != 1 {
		t.Fatalf("expected visitor to be invoked once; got %d", visitCount)
	}

	_ = data
}

func TestVisitMemRegionsWithoutMemoryMap(t *testing.T) {
	visitor := func(_ MemoryMapEntry) bool {
		t.Error("expected visitor not to be invoked when no memory map is present")
		return true
	}

	SetInfoPtr(0)
	if err := VisitMemRegions(visitor); err != ErrNoMemoryMap {
		t.Errorf("expected ErrNoMemoryMap without an info pointer; got %v", err)
	}

	data := newInfoBuilder().addCmdLine("foo=bar").build()
	if err := VisitMemRegions(visitor); err != ErrNoMemoryMap {
		t.Errorf("expected ErrNoMemoryMap when the memory map tag is missing; got %v", err)
	}

	_ = data
}

func TestVisitBootCmdLine(t *testing.T) {
	specs := []struct {
		cmdLine string
		exp     [][2]string
	}{
		{"", nil},
		{"   ", nil},
		{"nofoo", [][2]string{{"nofoo", "nofoo"}}},
		{"heap_min_mb=64  consoleFont=terminus10x18 quiet", [][2]string{
			{"heap_min_mb", "64"},
			{"consoleFont", "terminus10x18"},
			{"quiet", "quiet"},
		}},
		{"empty= =lead", [][2]string{{"empty", ""}, {"", "lead"}}},
	}

	for specIndex, spec := range specs {
		data := newInfoBuilder().addCmdLine(spec.cmdLine).build()

		var got [][2]string
		VisitBootCmdLine(func(key, value string) bool {
			got = append(got, [2]string{key, value})
			return true
		})

		if len(got) != len(spec.exp) {
			t.Errorf("[spec %d] expected %d fields; got %d (%v)", specIndex, len(spec.exp), len(got), got)
			continue
		}

		for i := range got {
			if got[i] != spec.exp[i] {
				t.Errorf("[spec %d] expected field %d to be %v; got %v", specIndex, i, spec.exp[i], got[i])
			}
		}

		_ = data
	}
}

func TestVisitBootCmdLineAbort(t *testing.T) {
	data := newInfoBuilder().addCmdLine("a=1 b=2 c=3").build()

	var keys []string
	VisitBootCmdLine(func(key, _ string) bool {
		keys = append(keys, key)
		return key != "b"
	})

	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("expected scan to stop after key b; got %v", keys)
	}

	_ = data
}

func TestMemoryEntryTypeNormalize(t *testing.T) {
	specs := []struct {
		input MemoryEntryType
		exp   MemoryEntryType
	}{
		{0, MemReserved},
		{MemAvailable, MemAvailable},
		{MemReserved, MemReserved},
		{MemAcpiReclaimable, MemAcpiReclaimable},
		{MemNvs, MemNvs},
		{memUnknown, MemReserved},
		{MemoryEntryType(0xffffffff), MemReserved},
	}

	for specIndex, spec := range specs {
		if got := spec.input.Normalize(); got != spec.exp {
			t.Errorf("[spec %d] expected MemoryEntryType(%d).Normalize() to return %d; got %d", specIndex, spec.input, spec.exp, got)
		}
	}
}

func TestMemoryEntryTypeString(t *testing.T) {
	specs := []struct {
		input MemoryEntryType
		exp   string
	}{
		{MemAvailable, "available"},
		{MemReserved, "reserved"},
		{MemAcpiReclaimable, "ACPI (reclaimable)"},
		{MemNvs, "NVS"},
		{MemoryEntryType(123), "unknown"},
	}

	for specIndex, spec := range specs {
		if got := spec.input.String(); got != spec.exp {
			t.Errorf("[spec %d] expected MemoryEntryType(%d).String() to return %q; got %q", specIndex, spec.input, spec.exp, got)
		}
	}
}

var (
	// A dump of multiboot data when running under qemu containing only the
	// memory region tag.  The dump encodes the following available memory
	// regions:
	// [     0 -   9fc00] length:    654336
	// [100000 - 7fe0000] length: 133038080
	multibootMemoryMap = []byte{
		72, 5, 0, 0, 0, 0, 0, 0,
		6, 0, 0, 0, 160, 0, 0, 0, 24, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 252, 9, 0, 0, 0, 0, 0,
		1, 0, 0, 0, 0, 0, 0, 0, 0, 252, 9, 0, 0, 0, 0, 0,
		0, 4, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 15, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0,
		2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 16, 0, 0, 0, 0, 0,
		0, 0, 238, 7, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 254, 7, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0,
		2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 252, 255, 0, 0, 0, 0,
		0, 0, 4, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0,
		9, 0, 0, 0, 212, 3, 0, 0, 24, 0, 0, 0, 40, 0, 0, 0,
		21, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 27, 0, 0, 0,
		1, 0, 0, 0, 2, 0, 0, 0, 0, 0, 16, 0, 0, 16, 0, 0,
		24, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)
