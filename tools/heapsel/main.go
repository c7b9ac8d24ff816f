// Command heapsel runs the kernel heap region selector against a captured
// memory map description and optionally replays a sequence of allocations
// on the selected arena.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"gopheros/kernel/kfmt"
	"gopheros/kernel/mm/heap"
)

const (
	minSizeFlag = "min-size-mb"
	allocFlag   = "alloc"
	verboseFlag = "verbose"
)

func main() {
	app := newCliApp()
	if err := app.Run(os.Args); err != nil {
		logrus.Fatalf("[heapsel] %s\n", err)
	}
}

func newCliApp() *cli.App {
	app := cli.NewApp()
	app.Name = "heapsel"
	app.Usage = "select the kernel heap arena from a memory map description"
	app.ArgsUsage = "<memory map yaml>"
	app.Flags = []cli.Flag{
		cli.Uint64Flag{
			Name:  minSizeFlag,
			Usage: "override the minimum heap region size in MiB",
		},
		cli.StringSliceFlag{
			Name:  allocFlag + ",a",
			Usage: "replay an allocation of the form size[:align] on the selected arena; may be repeated",
		},
		cli.BoolFlag{
			Name:  verboseFlag + ",v",
			Usage: "print the memory map and selector diagnostics",
		},
	}
	app.Action = run
	return app
}

func run(cCtx *cli.Context) error {
	if cCtx.NArg() != 1 {
		return errors.New("expected the path to a memory map description")
	}

	spec, err := loadMemoryMapFile(cCtx.Args().First())
	if err != nil {
		return err
	}

	policy := spec.policy()
	if minMb := cCtx.Uint64(minSizeFlag); minMb != 0 {
		minSize, ok := heap.MinSizeFromMb(minMb)
		if !ok {
			return errors.Errorf("--%s value %d is out of range", minSizeFlag, minMb)
		}
		policy.MinSize = minSize
	}

	layouts, err := parseLayouts(cCtx.StringSlice(allocFlag))
	if err != nil {
		return err
	}

	// Route the selector diagnostics through logrus.
	if cCtx.Bool(verboseFlag) {
		logrus.SetLevel(logrus.DebugLevel)
	}
	diag := logrus.StandardLogger().WriterLevel(logrus.DebugLevel)
	defer diag.Close()
	kfmt.SetOutputSink(diag)
	defer kfmt.SetOutputSink(nil)

	return selectAndReplay(cCtx.App.Writer, spec, policy, layouts)
}

// selectAndReplay runs the heap selector using the given policy, prints the
// selected area and replays layouts on a bump allocator backed by it.
func selectAndReplay(w io.Writer, spec *memoryMapSpec, policy heap.Policy, layouts []heap.Layout) error {
	if kerr := heap.PrintMemoryMap(spec.scanner()); kerr != nil {
		return kerr
	}

	area, kerr := heap.FindArea(spec.scanner(), spec.translator(), policy)
	if kerr != nil {
		return kerr
	}

	logrus.WithFields(logrus.Fields{
		"minAddr": fmt.Sprintf("0x%x", policy.MinAddr),
		"minSize": policy.MinSize,
	}).Debug("selector policy")

	fmt.Fprintf(w, "heap at 0x%x, size 0x%x\n", area.Base, area.Size)

	var alloc heap.BumpAllocator
	alloc.Init(area)
	for _, layout := range layouts {
		addr, kerr := alloc.Alloc(layout)
		if kerr != nil {
			fmt.Fprintf(w, "alloc size %d, align %d: %s\n", layout.Size, layout.Align, kerr.Message)
			continue
		}
		fmt.Fprintf(w, "alloc size %d, align %d: 0x%x\n", layout.Size, layout.Align, addr)
	}

	if len(layouts) != 0 {
		fmt.Fprintf(w, "used %d bytes, %d bytes remaining\n", alloc.Used(), alloc.Remaining())
	}

	return nil
}

// parseLayouts converts size[:align] specs into heap layouts. Sizes and
// alignments accept any base prefix understood by strconv.
func parseLayouts(specs []string) ([]heap.Layout, error) {
	layouts := make([]heap.Layout, 0, len(specs))
	for _, spec := range specs {
		sizeStr, alignStr, hasAlign := strings.Cut(spec, ":")

		size, err := strconv.ParseUint(sizeStr, 0, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid allocation size in %q", spec)
		}

		align := uint64(1)
		if hasAlign {
			if align, err = strconv.ParseUint(alignStr, 0, 64); err != nil {
				return nil, errors.Wrapf(err, "invalid allocation alignment in %q", spec)
			}
		}

		layout, kerr := heap.NewLayout(uintptr(size), uintptr(align))
		if kerr != nil {
			return nil, errors.Errorf("%q: %s", spec, kerr.Message)
		}
		layouts = append(layouts, layout)
	}

	return layouts, nil
}
