// Package objreader adapts relocatable object files onto the linker's
// normalized intermediate representation. It is deliberately thin: the
// standard library's debug/elf and debug/macho parsers do the container
// work and this package only translates their views into linker.Object.
// Unknown relocation types are warned about and mapped to NONE, which the
// relocation processor then skips.
package objreader

import (
	"encoding/binary"
	"fmt"

	"github.com/tinylink/tinylink/internal/linker"
)

// ReadObject parses data as a relocatable ELF or Mach-O object. objIdx is
// the index the object will occupy in the linker context; section-relative
// relocation targets need it.
func ReadObject(filename string, data []byte, objIdx int) (*linker.Object, error) {
	if len(data) >= 4 && data[0] == 0x7f && data[1] == 'E' && data[2] == 'L' && data[3] == 'F' {
		return readELF(filename, data, objIdx)
	}
	if len(data) >= 4 && binary.LittleEndian.Uint32(data) == 0xfeedfacf {
		return readMachO(filename, data, objIdx)
	}
	return nil, fmt.Errorf("%s: not a relocatable ELF or Mach-O object", filename)
}
