package main

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"gopheros/kernel"
	"gopheros/kernel/mm"
	"gopheros/kernel/mm/heap"
	"gopheros/multiboot"
)

var errUnmapped = &kernel.Error{Module: "heapsel", Message: "address not covered by any mapped range"}

// regionType is the YAML representation of a multiboot memory entry type.
type regionType multiboot.MemoryEntryType

var regionTypeNames = map[string]multiboot.MemoryEntryType{
	"available": multiboot.MemAvailable,
	"reserved":  multiboot.MemReserved,
	"acpi":      multiboot.MemAcpiReclaimable,
	"nvs":       multiboot.MemNvs,
}

// UnmarshalYAML accepts either a type name or the raw multiboot type value.
// Raw values are normalized the same way the kernel does.
func (t *regionType) UnmarshalYAML(node *yaml.Node) error {
	if typ, ok := regionTypeNames[strings.ToLower(node.Value)]; ok {
		*t = regionType(typ)
		return nil
	}

	var raw uint32
	if err := node.Decode(&raw); err != nil {
		return errors.Errorf("line %d: unknown region type %q", node.Line, node.Value)
	}
	// Loaders may report types unknown to the kernel; the kernel treats
	// them as reserved.
	*t = regionType(multiboot.MemoryEntryType(raw).Normalize())
	return nil
}

// region is a memory map entry as captured from a boot log or loader.
type region struct {
	Base   uint64     `yaml:"base"`
	Length uint64     `yaml:"length"`
	Type   regionType `yaml:"type"`
}

// mappedRange is a virtual address range that the page tables identity map.
type mappedRange struct {
	Base   uint64 `yaml:"base"`
	Length uint64 `yaml:"length"`
}

// policySpec overrides fields of the default heap selection policy.
type policySpec struct {
	MinAddr *uint64 `yaml:"min_addr"`
	MinSize *uint64 `yaml:"min_size"`
}

// memoryMapSpec describes a captured boot environment.
type memoryMapSpec struct {
	Policy  policySpec    `yaml:"policy"`
	Regions []region      `yaml:"regions"`
	Mapped  []mappedRange `yaml:"mapped"`
}

// loadMemoryMapSpec parses a memory map description from r.
func loadMemoryMapSpec(r io.Reader) (*memoryMapSpec, error) {
	var spec memoryMapSpec

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, errors.Wrap(err, "unable to parse memory map description")
	}

	if len(spec.Regions) == 0 {
		return nil, errors.New("memory map description contains no regions")
	}

	return &spec, nil
}

// loadMemoryMapFile parses the memory map description stored at path.
func loadMemoryMapFile(path string) (*memoryMapSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open memory map description")
	}
	defer f.Close()

	spec, err := loadMemoryMapSpec(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return spec, nil
}

// policy returns the default heap policy with the description overrides
// applied.
func (s *memoryMapSpec) policy() heap.Policy {
	policy := heap.DefaultPolicy
	if s.Policy.MinAddr != nil {
		policy.MinAddr = *s.Policy.MinAddr
	}
	if s.Policy.MinSize != nil {
		policy.MinSize = *s.Policy.MinSize
	}
	return policy
}

// scanner returns a heap.RegionScanner that replays the described regions
// in order.
func (s *memoryMapSpec) scanner() heap.RegionScanner {
	return func(visitor multiboot.MemRegionVisitor) *kernel.Error {
		for _, r := range s.Regions {
			entry := multiboot.MemoryMapEntry{
				PhysAddress: r.Base,
				Length:      r.Length,
				Type:        multiboot.MemoryEntryType(r.Type),
			}

			if !visitor(entry) {
				break
			}
		}
		return nil
	}
}

// translator returns a heap.Translator that identity maps the described
// ranges. If no ranges are described, the lower 4G are treated as mapped
// which matches the loader setup.
func (s *memoryMapSpec) translator() heap.Translator {
	ranges := s.Mapped
	if len(ranges) == 0 {
		ranges = []mappedRange{{Base: 0, Length: uint64(4 * mm.Gb)}}
	}
	return identityTranslator(ranges)
}

type identityTranslator []mappedRange

func (tr identityTranslator) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	for _, r := range tr {
		if uint64(virtAddr) >= r.Base && uint64(virtAddr)-r.Base < r.Length {
			return virtAddr, nil
		}
	}
	return 0, errUnmapped
}
