package linker

import "github.com/tinylink/tinylink/internal/arch"

// ELFDynlink is the ELF-backend analogue of MachODynlink: one PLT stub
// and one GOT slot per distinct external symbol reached from a
// PLT-relative or GOT-relative relocation on either ELF machine.
type ELFDynlink struct {
	// Entries holds one per externally-resolved symbol, in first-reference
	// order. PLT stub i and GOT slot i both belong to Entries[i]; unlike
	// Mach-O, this module gives every ELF external both a stub and a GOT
	// slot rather than splitting them into separate lists, since an ELF
	// PLT stub always indirects through its own GOT slot.
	Entries []ExternalRef

	PLTAddr uint64
	GOTAddr uint64
}

func (d *ELFDynlink) index(name string) int {
	for i, e := range d.Entries {
		if e.Name == name {
			return i
		}
	}
	return -1
}

// pltEligible reports whether t routes through the PLT/GOT rather than
// being patched in place when its target is external.
func pltEligible(t RelocType) bool {
	switch t {
	case RelocX64_PLT32, RelocX64_GOTPCREL,
		RelocARM64_CALL26, RelocARM64_JUMP26,
		RelocARM64_GOT_LOAD_PAGE21, RelocARM64_GOT_LOAD_PAGEOFF12:
		return true
	default:
		return false
	}
}

// EnumerateELFDynlink runs the ELF analogue of EnumerateMachODynlink: scan
// every relocation of every object and record one Entries slot per distinct
// externally-resolved symbol reached through a PLT/GOT-eligible relocation.
// Must run after Resolve and before Layout, mirroring EnumerateMachODynlink.
func (c *Context) EnumerateELFDynlink() {
	dyn := &ELFDynlink{}

	for _, obj := range c.Objects {
		for _, reloc := range obj.Relocations {
			if reloc.Target.IsSection || !pltEligible(reloc.Type) {
				continue
			}
			sym := &obj.Symbols[reloc.Target.SymbolIndex]
			if sym.IsDefined || sym.DefiningObject != -1 {
				continue
			}
			if dyn.index(sym.Name) == -1 {
				dyn.Entries = append(dyn.Entries, ExternalRef{Name: sym.Name, SymbolIndex: reloc.Target.SymbolIndex})
			}
		}
	}

	c.ELFDyn = dyn
}

// PLT entry widths: ARM64 needs four instructions (ADRP/LDR/ADD/BR with
// the x16/x17 scratch pair); x86-64 is a single GOT-indirect JMP padded to
// the conventional 16-byte entry width.
const (
	elfPLTEntrySizeARM64 = 16
	elfPLTEntrySizeX64   = 16
)

func elfPLTEntrySize(machine arch.Machine) uint64 {
	if machine == arch.MachineARM64 {
		return elfPLTEntrySizeARM64
	}
	return elfPLTEntrySizeX64
}
