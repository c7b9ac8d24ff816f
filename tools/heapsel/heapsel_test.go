package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopheros/kernel/mm"
	"gopheros/kernel/mm/heap"
	"gopheros/multiboot"
)

func TestLoadMemoryMapFile(t *testing.T) {
	spec, err := loadMemoryMapFile(filepath.Join("testdata", "qemu-128m.yaml"))
	require.NoError(t, err)

	require.Len(t, spec.Regions, 6)
	assert.Equal(t, region{Base: 0x100000, Length: 0x7ee0000, Type: regionType(multiboot.MemAvailable)}, spec.Regions[3])
	assert.Equal(t, regionType(multiboot.MemReserved), spec.Regions[5].Type)
	assert.Equal(t, []mappedRange{{Base: 0, Length: 0x40000000}}, spec.Mapped)
	assert.Equal(t, heap.DefaultPolicy, spec.policy())
}

func TestLoadMemoryMapSpecErrors(t *testing.T) {
	specs := []struct {
		descr  string
		input  string
		expErr string
	}{
		{"unknown region type", "regions:\n  - {base: 0x0, length: 0x1000, type: bogus}\n", `unknown region type "bogus"`},
		{"unknown field", "regions:\n  - {base: 0x0, length: 0x1000, kind: available}\n", "field kind not found"},
		{"no regions", "mapped:\n  - {base: 0x0, length: 0x1000}\n", "contains no regions"},
		{"malformed yaml", "regions: [", "unable to parse memory map description"},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			_, err := loadMemoryMapSpec(strings.NewReader(spec.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), spec.expErr)
		})
	}
}

func TestRegionTypeNormalization(t *testing.T) {
	input := "regions:\n" +
		"  - {base: 0x0, length: 0x1000, type: 0}\n" +
		"  - {base: 0x1000, length: 0x1000, type: 7}\n" +
		"  - {base: 0x2000, length: 0x1000, type: 3}\n" +
		"  - {base: 0x3000, length: 0x1000, type: available}\n"

	spec, err := loadMemoryMapSpec(strings.NewReader(input))
	require.NoError(t, err)

	var got []multiboot.MemoryEntryType
	kerr := spec.scanner()(func(entry multiboot.MemoryMapEntry) bool {
		got = append(got, entry.Type)
		return true
	})
	require.Nil(t, kerr)

	assert.Equal(t, []multiboot.MemoryEntryType{
		multiboot.MemReserved,
		multiboot.MemReserved,
		multiboot.MemAcpiReclaimable,
		multiboot.MemAvailable,
	}, got)
	assert.Equal(t, "reserved", got[1].String())
}

func TestSelectAndReplay(t *testing.T) {
	specs := []struct {
		descr   string
		file    string
		policy  func(*memoryMapSpec) heap.Policy
		layouts []heap.Layout
		exp     string
	}{
		{
			"qemu map with two page allocations",
			"qemu-128m.yaml",
			(*memoryMapSpec).policy,
			[]heap.Layout{{Size: 4096, Align: 4096}, {Size: 4096, Align: 4096}},
			"heap at 0x100000, size 0x7ee0000\n" +
				"alloc size 4096, align 4096: 0x100000\n" +
				"alloc size 4096, align 4096: 0x101000\n" +
				"used 8192 bytes, 133029888 bytes remaining\n",
		},
		{
			"small and unmapped regions are skipped",
			"split-ram.yaml",
			(*memoryMapSpec).policy,
			nil,
			"heap at 0x8000000, size 0x8000000\n",
		},
		{
			"exhausted arena reports the failing request",
			"qemu-128m.yaml",
			(*memoryMapSpec).policy,
			[]heap.Layout{{Size: 0x7ee0000, Align: 1}, {Size: 1, Align: 1}},
			"heap at 0x100000, size 0x7ee0000\n" +
				"alloc size 133038080, align 1: 0x100000\n" +
				"alloc size 1, align 1: bump allocator arena exhausted\n" +
				"used 133038080 bytes, 0 bytes remaining\n",
		},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			memMap, err := loadMemoryMapFile(filepath.Join("testdata", spec.file))
			require.NoError(t, err)

			var buf bytes.Buffer
			require.NoError(t, selectAndReplay(&buf, memMap, spec.policy(memMap), spec.layouts))
			assert.Equal(t, spec.exp, buf.String())
		})
	}
}

func TestSelectAndReplayNoSuitableRegion(t *testing.T) {
	memMap, err := loadMemoryMapFile(filepath.Join("testdata", "qemu-128m.yaml"))
	require.NoError(t, err)

	policy := memMap.policy()
	policy.MinSize = uint64(256 * mm.Mb)

	var buf bytes.Buffer
	err = selectAndReplay(&buf, memMap, policy, nil)
	require.Error(t, err)
	assert.Equal(t, heap.ErrNoSuitableRegion.Error(), err.Error())
	assert.Empty(t, buf.String())
}

func TestParseLayouts(t *testing.T) {
	layouts, err := parseLayouts([]string{"4096:4096", "0x20", "24:8"})
	require.NoError(t, err)
	assert.Equal(t, []heap.Layout{
		{Size: 4096, Align: 4096},
		{Size: 0x20, Align: 1},
		{Size: 24, Align: 8},
	}, layouts)

	for _, bad := range []string{"", "abc", "16:", "16:3", "16:x"} {
		_, err = parseLayouts([]string{bad})
		assert.Error(t, err, "expected %q to be rejected", bad)
	}
}

func TestCli(t *testing.T) {
	var buf bytes.Buffer
	app := newCliApp()
	app.Writer = &buf

	err := app.Run([]string{"heapsel", "--min-size-mb", "64", "-a", "16:16", filepath.Join("testdata", "qemu-128m.yaml")})
	require.NoError(t, err)
	assert.Equal(t,
		"heap at 0x100000, size 0x7ee0000\n"+
			"alloc size 16, align 16: 0x100000\n"+
			"used 16 bytes, 133038064 bytes remaining\n",
		buf.String(),
	)

	buf.Reset()
	app = newCliApp()
	app.Writer = &buf
	err = app.Run([]string{"heapsel", "--min-size-mb", "512", filepath.Join("testdata", "qemu-128m.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no suitable mapped heap region found")

	app = newCliApp()
	app.Writer = &buf
	err = app.Run([]string{"heapsel", "--min-size-mb", "17592186044416", filepath.Join("testdata", "qemu-128m.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--min-size-mb value 17592186044416 is out of range")

	app = newCliApp()
	app.Writer = &buf
	err = app.Run([]string{"heapsel"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected the path to a memory map description")
}
