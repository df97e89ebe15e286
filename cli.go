package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xyproto/env/v2"

	"github.com/tinylink/tinylink/internal/arch"
	"github.com/tinylink/tinylink/internal/linker"
	"github.com/tinylink/tinylink/internal/pipeline"
)

const usageText = `usage: tinylink <inputs...> -o <output> [options]

options:
  -o <file>            output executable path (required)
  --base-addr <hex>    image base address (default: platform-specific)
  --format elf|macho   output container (default: first input's format)
  --arch x86_64|aarch64  target machine (default: first input's machine)
  --pie                produce a position-independent executable`

// config is the parsed command line. Flags not given fall back to the
// matching TINYLINK_* environment variable before the built-in default.
type config struct {
	inputs   []string
	output   string
	baseAddr uint64
	format   string
	machine  string
	pie      bool
}

func parseArgs(args []string) (*config, error) {
	cfg := &config{
		format:  env.Str("TINYLINK_FORMAT"),
		machine: env.Str("TINYLINK_ARCH"),
	}
	if s := env.Str("TINYLINK_BASE_ADDR"); s != "" {
		addr, err := parseHex(s)
		if err != nil {
			return nil, fmt.Errorf("TINYLINK_BASE_ADDR: %v", err)
		}
		cfg.baseAddr = addr
	}

	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-o":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("-o requires an argument\n%s", usageText)
			}
			i++
			cfg.output = args[i]
		case a == "--base-addr":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--base-addr requires an argument\n%s", usageText)
			}
			i++
			addr, err := parseHex(args[i])
			if err != nil {
				return nil, err
			}
			cfg.baseAddr = addr
		case a == "--format":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--format requires an argument\n%s", usageText)
			}
			i++
			cfg.format = args[i]
		case a == "--arch":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--arch requires an argument\n%s", usageText)
			}
			i++
			cfg.machine = args[i]
		case a == "--pie":
			cfg.pie = true
		case a == "-h" || a == "--help":
			return nil, fmt.Errorf("%s", usageText)
		case strings.HasPrefix(a, "-"):
			return nil, fmt.Errorf("unknown flag: %s\n%s", a, usageText)
		default:
			cfg.inputs = append(cfg.inputs, a)
		}
	}

	if len(cfg.inputs) == 0 {
		return nil, fmt.Errorf("no input objects\n%s", usageText)
	}
	if cfg.output == "" {
		return nil, fmt.Errorf("no output path (-o)\n%s", usageText)
	}
	return cfg, nil
}

// linkOptions resolves the output format and machine, defaulting to
// whatever the first input object was compiled for.
func (cfg *config) linkOptions(objs []*linker.Object) (pipeline.Options, error) {
	opts := pipeline.Options{BaseAddr: cfg.baseAddr, PIE: cfg.pie}

	if cfg.format != "" {
		f, err := arch.ParseFormat(cfg.format)
		if err != nil {
			return opts, err
		}
		opts.Format = f
	} else {
		opts.Format = objs[0].Format
	}

	if cfg.machine != "" {
		m, err := arch.ParseMachine(cfg.machine)
		if err != nil {
			return opts, err
		}
		opts.Machine = m
	} else {
		opts.Machine = objs[0].Machine
	}

	// Mach-O output is always PIE (MH_PIE is in the fixed flag set).
	if opts.Format == arch.FormatMachO {
		opts.PIE = true
	}
	return opts, nil
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hex address %q", s)
	}
	return v, nil
}
