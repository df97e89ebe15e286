package linker

import "sort"

// ExternalRef is one call-site or data-reference relocation that targets a
// symbol resolved outside any input object (DefiningObject == -1).
type ExternalRef struct {
	Name        string
	SymbolIndex int // index into the referencing Object's Symbols
}

// MachODynlink is the Mach-O dynamic-link planning state: the stub list,
// GOT entry list, and bind opcode stream, plus the address ranges
// ReserveMachODynlinkSpace assigns them.
type MachODynlink struct {
	// Stubs holds one entry per externally-resolved symbol reached through
	// a CALL26/JUMP26 relocation, in first-reference order. Each occupies
	// machoStubSize bytes at StubsAddr.
	Stubs []ExternalRef

	// GOTEntries holds one entry per externally-resolved symbol reached
	// through a GOT-load relocation (or a TLV pointer) that is not already
	// in Stubs, in first-reference order. The GOT region is Stubs followed
	// by GOTEntries, 8 bytes each, at GOTAddr.
	GOTEntries []ExternalRef

	StubsAddr uint64
	GOTAddr   uint64

	// Libraries is the sorted, deduplicated set of dylib paths every
	// external symbol resolves against, in 1-based ordinal order.
	Libraries []string

	// BindOpcodes is the serialized bind opcode stream, built by
	// BuildBindOpcodes once addresses are known.
	BindOpcodes []byte
}

func (d *MachODynlink) stubIndex(name string) int {
	for i, r := range d.Stubs {
		if r.Name == name {
			return i
		}
	}
	return -1
}

func (d *MachODynlink) gotIndex(name string) int {
	for i, r := range d.GOTEntries {
		if r.Name == name {
			return i
		}
	}
	return -1
}

// GOTSlot returns the index of name's 8-byte slot within the combined
// Stubs+GOTEntries GOT region, or -1 if name is in neither list.
func (d *MachODynlink) GOTSlot(name string) int {
	if i := d.stubIndex(name); i >= 0 {
		return i
	}
	if i := d.gotIndex(name); i >= 0 {
		return len(d.Stubs) + i
	}
	return -1
}

// GOTSlotCount is the total number of 8-byte GOT slots: one per stub
// followed by one per non-stub external reference.
func (d *MachODynlink) GOTSlotCount() int {
	return len(d.Stubs) + len(d.GOTEntries)
}

// slotRefs returns every GOT slot's owning external, in slot order.
func (d *MachODynlink) slotRefs() []ExternalRef {
	refs := make([]ExternalRef, 0, d.GOTSlotCount())
	refs = append(refs, d.Stubs...)
	refs = append(refs, d.GOTEntries...)
	return refs
}

// EnumerateMachODynlink scans every relocation of every object, classifies
// each reference to an externally-resolved symbol (DefiningObject == -1,
// set by Resolve's bind pass) as call-like (stub) or GOT-load-like (GOT
// entry), and records the unique ordinal-bearing library each belongs to.
// Must run after Resolve and before ReserveMachODynlinkSpace, which needs
// the final Stubs/GOTEntries counts to size the reserved address range.
func (c *Context) EnumerateMachODynlink() {
	dyn := &MachODynlink{}
	seenLib := map[string]bool{}

	for _, obj := range c.Objects {
		for _, reloc := range obj.Relocations {
			if reloc.Target.IsSection {
				continue
			}
			sym := &obj.Symbols[reloc.Target.SymbolIndex]
			if sym.IsDefined || sym.DefiningObject != -1 {
				continue // resolved within the link, not an external reference
			}

			lib := runtimeLibraryFor(sym.Name)
			if !seenLib[lib] {
				seenLib[lib] = true
			}

			if reloc.Type.IsCallLike() {
				if dyn.stubIndex(sym.Name) == -1 {
					dyn.Stubs = append(dyn.Stubs, ExternalRef{Name: sym.Name, SymbolIndex: reloc.Target.SymbolIndex})
				}
			} else if reloc.Type.IsGOTLoad() || reloc.Type == RelocARM64_TLVP_LOAD_PAGE21 || reloc.Type == RelocARM64_TLVP_LOAD_PAGEOFF12 {
				if dyn.stubIndex(sym.Name) == -1 && dyn.gotIndex(sym.Name) == -1 {
					dyn.GOTEntries = append(dyn.GOTEntries, ExternalRef{Name: sym.Name, SymbolIndex: reloc.Target.SymbolIndex})
				}
			}
		}
	}

	for lib := range seenLib {
		dyn.Libraries = append(dyn.Libraries, lib)
	}
	sort.Strings(dyn.Libraries)

	c.MachODyn = dyn
}

// runtimeLibraryFor maps a libc/runtime symbol name to the dylib path
// dyld resolves it against. Every recognized name currently resolves
// against libSystem.
func runtimeLibraryFor(name string) string {
	return "/usr/lib/libSystem.B.dylib"
}

// LibraryOrdinal returns the 1-based dylib ordinal for name's resolving
// library, for the two-level-namespace N_desc bits macho writer sets.
func (d *MachODynlink) LibraryOrdinal(name string) uint16 {
	lib := runtimeLibraryFor(name)
	for i, l := range d.Libraries {
		if l == lib {
			return uint16(i + 1)
		}
	}
	return 1
}

// Mach-O dyld_info bind stream opcode tags.
const (
	bindOpcodeDone                       = 0x00
	bindOpcodeSetDylibOrdinalImm         = 0x10
	bindOpcodeSetSymbolTrailingFlagsImm  = 0x40
	bindOpcodeSetTypeImm                 = 0x50
	bindOpcodeSetSegmentAndOffsetULEB    = 0x70
	bindOpcodeDoBind                     = 0x90

	bindTypePointer = 1
)

func appendULEB(buf []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf = append(buf, b|0x80)
		} else {
			buf = append(buf, b)
			return buf
		}
	}
}

// BuildBindOpcodes serializes every GOT slot (stub slots first, then the
// remaining externals — all binds are non-lazy) as a sequence of
// SET_DYLIB_ORDINAL_IMM / SET_TYPE_IMM / SET_SYMBOL_TRAILING_FLAGS_IMM /
// SET_SEGMENT_AND_OFFSET_ULEB / DO_BIND opcodes terminated by DONE.
// gotSegIndex is the load-command index of the __DATA_CONST segment and
// gotSegOffset the GOT's offset within it.
//
// tlvSlotOffsets, when non-empty, appends one _tlv_bootstrap bind per
// thread-variable descriptor against the __DATA segment (tlvSegIndex), at
// each descriptor's first pointer slot.
func (d *MachODynlink) BuildBindOpcodes(gotSegIndex uint8, gotSegOffset uint64, tlvSegIndex uint8, tlvSlotOffsets []uint64) {
	var buf []byte

	for i, ref := range d.slotRefs() {
		buf = appendBind(buf, d.LibraryOrdinal(ref.Name), machoSymbolName(ref.Name),
			gotSegIndex, gotSegOffset+uint64(i*8))
	}
	for _, off := range tlvSlotOffsets {
		buf = appendBind(buf, 1, "__tlv_bootstrap", tlvSegIndex, off)
	}
	buf = append(buf, bindOpcodeDone)

	d.BindOpcodes = buf
}

func appendBind(buf []byte, ordinal uint16, name string, segIndex uint8, segOffset uint64) []byte {
	buf = append(buf, bindOpcodeSetDylibOrdinalImm|byte(ordinal&0x0f))
	buf = append(buf, bindOpcodeSetTypeImm|bindTypePointer)
	buf = append(buf, bindOpcodeSetSymbolTrailingFlagsImm)
	buf = append(buf, []byte(name)...)
	buf = append(buf, 0x00)
	buf = append(buf, bindOpcodeSetSegmentAndOffsetULEB|segIndex)
	buf = appendULEB(buf, segOffset)
	return append(buf, bindOpcodeDoBind)
}

// machoSymbolName applies the Mach-O leading-underscore convention.
func machoSymbolName(name string) string {
	if len(name) > 0 && name[0] == '_' {
		return name
	}
	return "_" + name
}
