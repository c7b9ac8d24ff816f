// Package kmain contains the kernel entrypoint invoked by the rt0 code.
package kmain

import (
	"gopheros/kernel"
	"gopheros/kernel/cpu"
	"gopheros/kernel/goruntime"
	"gopheros/kernel/hal"
	"gopheros/kernel/kfmt"
	"gopheros/kernel/mm/heap"
	"gopheros/kernel/mm/vmm"
	"gopheros/multiboot"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errSelfTest      = &kernel.Error{Module: "kmain", Message: "heap self-test failed"}

	// The following functions are mocked by tests.
	disableInterruptsFn = cpu.DisableInterrupts
	detectHardwareFn    = hal.DetectHardware
	addressSpaceFn      = vmm.ActiveAddressSpace
	heapInitFn          = heap.Init
	goRuntimeInitFn     = goruntime.Init
	haltFn              = cpu.Halt
	panicFn             = kfmt.Panic
)

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up the GDT
// and setting up a a minimal g0 struct that allows Go code using the 4K stack
// allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by the
// bootloader as well as the physical addresses for the kernel start/end.
//
// Interrupts stay masked for the lifetime of Kmain; the kernel heap must be
// ready before they can be enabled.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	disableInterruptsFn()

	multiboot.SetInfoPtr(multibootInfoPtr)
	detectHardwareFn()

	kfmt.Printf("[kmain] kernel loaded at [0x%x - 0x%x]\n", kernelStart, kernelEnd)
	policy := heapPolicy()

	var (
		kernelHeap *heap.BumpAllocator
		err        *kernel.Error
	)

	if err = heap.PrintMemoryMap(multiboot.VisitMemRegions); err != nil {
		panicFn(err)
		return
	} else if kernelHeap, err = heapInitFn(multiboot.VisitMemRegions, addressSpaceFn(), policy); err != nil {
		panicFn(err)
		return
	} else if err = goRuntimeInitFn(kernelHeap); err != nil {
		panicFn(err)
		return
	}

	kfmt.Printf("kernel start\n")

	if err = heapSelfTest(); err != nil {
		panicFn(err)
		return
	}

	haltFn()

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}

// heapPolicy returns the heap selection policy, applying any overrides
// supplied via the boot command line.
//
// Supported options:
//
//	heap_min_mb=<n>  minimum size in MiB of the memory region used for the heap
func heapPolicy() heap.Policy {
	policy := heap.DefaultPolicy

	multiboot.VisitBootCmdLine(func(key, value string) bool {
		if key != "heap_min_mb" {
			return true
		}

		minSize, ok := uint64(0), false
		if minMb, valid := parseUint(value); valid {
			minSize, ok = heap.MinSizeFromMb(minMb)
		}

		if !ok {
			kfmt.Printf("[kmain] ignoring invalid heap_min_mb value: %s\n", value)
			return false
		}

		policy.MinSize = minSize
		return false
	})

	return policy
}

// parseUint parses a non-empty string of decimal digits without allocating.
func parseUint(s string) (uint64, bool) {
	if len(s) == 0 {
		return 0, false
	}

	var v uint64
	for i := 0; i < len(s); i++ {
		d := s[i] - '0'
		if d > 9 {
			return 0, false
		}

		if v > (^uint64(0)-uint64(d))/10 {
			return 0, false
		}
		v = v*10 + uint64(d)
	}

	return v, true
}

// heapSelfTest builds a small table of squares in memory obtained through
// the Go allocator, which is backed by the kernel heap once the runtime has
// been initialized, and reads one entry back.
func heapSelfTest() *kernel.Error {
	table := make([]uint32, 30)
	for i := range table {
		if table[i] != 0 {
			return errSelfTest
		}
		table[i] = uint32(i * i)
	}

	kfmt.Printf("[kmain] heap self-test: value at 12 = %d\n", table[12])
	if table[12] != 144 {
		return errSelfTest
	}

	return nil
}
