// tinylink links relocatable ELF and Mach-O objects into runnable
// executables.
//
// Usage:
//
//	tinylink <inputs...> -o <output> [--base-addr <hex>] [--format elf|macho] [--arch x86_64|aarch64] [--pie]
package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/tinylink/tinylink/internal/linker"
	"github.com/tinylink/tinylink/internal/objreader"
	"github.com/tinylink/tinylink/internal/pipeline"
)

func main() {
	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config) error {
	var objs []*linker.Object
	for i, path := range cfg.inputs {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return err
		}
		obj, err := objreader.ReadObject(path, data, i)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return err
		}
		objs = append(objs, obj)
	}

	opts, err := cfg.linkOptions(objs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	image, errs := pipeline.Link(objs, opts)
	if errs != nil && errs.HasErrors() {
		fmt.Fprintln(os.Stderr, errs.Format())
		return fmt.Errorf("link failed")
	}

	return writeExecutable(cfg.output, image)
}

// writeExecutable writes the image and flips the execute bits, closing the
// file on every path.
func writeExecutable(path string, image []byte) error {
	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	defer f.Close()

	if _, err := f.Write(image); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	if err := unix.Fchmod(int(f.Fd()), 0o755); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
