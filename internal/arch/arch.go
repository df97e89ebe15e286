// Package arch describes the machine and container-format tags the linker
// switches on.
package arch

import (
	"fmt"
	"strings"
)

// Machine is the instruction set of a relocatable object or output image.
type Machine int

const (
	MachineUnknown Machine = iota
	MachineX86_64
	MachineARM64
)

func (m Machine) String() string {
	switch m {
	case MachineX86_64:
		return "x86_64"
	case MachineARM64:
		return "aarch64"
	default:
		return "unknown"
	}
}

// ParseMachine parses a machine string as accepted by the CLI's --arch flag.
func ParseMachine(s string) (Machine, error) {
	switch strings.ToLower(s) {
	case "x86_64", "amd64", "x86-64":
		return MachineX86_64, nil
	case "aarch64", "arm64":
		return MachineARM64, nil
	default:
		return MachineUnknown, fmt.Errorf("unsupported machine: %s (supported: x86_64, aarch64)", s)
	}
}

// Format is the output container format.
type Format int

const (
	FormatUnknown Format = iota
	FormatELF
	FormatMachO
)

func (f Format) String() string {
	switch f {
	case FormatELF:
		return "elf"
	case FormatMachO:
		return "macho"
	default:
		return "unknown"
	}
}

// ParseFormat parses a format string as accepted by the CLI's --format flag.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "elf":
		return FormatELF, nil
	case "macho", "mach-o":
		return FormatMachO, nil
	default:
		return FormatUnknown, fmt.Errorf("unsupported format: %s (supported: elf, macho)", s)
	}
}
