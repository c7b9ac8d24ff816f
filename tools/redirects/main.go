// Command redirects patches a kernel image so that calls to Go runtime
// functions are redirected to the kernel functions annotated with
// go:redirect-from directives.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

const (
	rootFlag    = "root"
	srcDirFlag  = "src"
	verboseFlag = "verbose"
)

func main() {
	app := newCliApp()
	if err := app.Run(os.Args); err != nil {
		logrus.Fatalf("[redirects] %s\n", err)
	}
}

func newCliApp() *cli.App {
	app := cli.NewApp()
	app.Name = "redirects"
	app.Usage = "populate the redirect table of a kernel image"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  rootFlag + ",r",
			Usage: "module root folder",
			Value: ".",
		},
		cli.StringFlag{
			Name:  srcDirFlag,
			Usage: "folder, relative to the module root, scanned for go:redirect-from directives",
			Value: "kernel",
		},
		cli.BoolFlag{
			Name:  verboseFlag + ",v",
			Usage: "enable debug output",
		},
	}
	app.Before = func(cCtx *cli.Context) error {
		if cCtx.GlobalBool(verboseFlag) {
			logrus.SetLevel(logrus.DebugLevel)
		}
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:   "count",
			Usage:  "print the number of redirects",
			Action: countRedirects,
		},
		{
			Name:   "list",
			Usage:  "print the redirects as src -> dst pairs",
			Action: listRedirects,
		},
		{
			Name:      "populate-table",
			Usage:     "resolve the redirect symbols and write the redirect table into the kernel image",
			ArgsUsage: "<kernel image>",
			Action:    populateTable,
		},
	}
	return app
}

// loadRedirects collects the redirects declared in the configured source
// folder.
func loadRedirects(cCtx *cli.Context) ([]*redirect, error) {
	root := cCtx.GlobalString(rootFlag)

	modPath, err := modulePath(root)
	if err != nil {
		return nil, errors.Wrap(err, "this tool must be run from the module root folder")
	}

	goFiles, err := collectGoFiles(filepath.Join(root, cCtx.GlobalString(srcDirFlag)))
	if err != nil {
		return nil, err
	}

	return findRedirects(root, modPath, goFiles)
}

func countRedirects(cCtx *cli.Context) error {
	redirects, err := loadRedirects(cCtx)
	if err != nil {
		return err
	}

	fmt.Fprintf(cCtx.App.Writer, "%d", len(redirects))
	return nil
}

func listRedirects(cCtx *cli.Context) error {
	redirects, err := loadRedirects(cCtx)
	if err != nil {
		return err
	}

	for _, redirect := range redirects {
		fmt.Fprintf(cCtx.App.Writer, "%s -> %s\n", redirect.src, redirect.dst)
	}
	return nil
}

func populateTable(cCtx *cli.Context) error {
	if cCtx.NArg() != 1 {
		return errors.New("populate-table requires the path to the kernel image as an argument")
	}
	imgFile := cCtx.Args().First()

	redirects, err := loadRedirects(cCtx)
	if err != nil {
		return err
	}

	if err = elfResolveRedirectSymbols(redirects, imgFile); err != nil {
		return err
	}

	if err = elfWriteRedirectTable(redirects, imgFile); err != nil {
		return err
	}

	logrus.Infof("[redirects] wrote %d entries to %s", len(redirects), imgFile)
	return nil
}
