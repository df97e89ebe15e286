package objreader

import (
	"bytes"
	"debug/macho"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/tinylink/tinylink/internal/arch"
	"github.com/tinylink/tinylink/internal/linker"
)

// Mach-O ARM64 relocation type values (r_type field).
const (
	arm64RelocUnsigned         = 0
	arm64RelocSubtractor       = 1
	arm64RelocBranch26         = 2
	arm64RelocPage21           = 3
	arm64RelocPageoff12        = 4
	arm64RelocGOTLoadPage21    = 5
	arm64RelocGOTLoadPageoff12 = 6
	arm64RelocPointerToGOT     = 7
	arm64RelocTLVPLoadPage21   = 8
	arm64RelocTLVPLoadPageoff12 = 9
	arm64RelocAddend           = 10
)

// readMachO normalizes a relocatable Mach-O/ARM64 object. Sections map 1:1
// onto linker.Section entries, symbol values are rebased from the object's
// flat address space to section-relative offsets, and ARM64_RELOC_ADDEND
// entries are folded into the relocation they precede.
func readMachO(filename string, data []byte, objIdx int) (*linker.Object, error) {
	f, err := macho.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	defer f.Close()

	if f.Type != macho.TypeObj {
		return nil, fmt.Errorf("%s: not a relocatable object (type %v)", filename, f.Type)
	}
	if f.Cpu != macho.CpuArm64 {
		return nil, fmt.Errorf("%s: unsupported Mach-O cpu %v (only arm64 objects are accepted)", filename, f.Cpu)
	}

	obj := &linker.Object{
		Filename: filename,
		Format:   arch.FormatMachO,
		Machine:  arch.MachineARM64,
	}

	for _, s := range f.Sections {
		sec := linker.Section{
			Name:      s.Seg + "," + s.Name,
			Type:      machoSectionType(s),
			Size:      s.Size,
			Align:     uint64(1) << s.Align,
			ObjectIdx: objIdx,
		}
		switch sec.Type {
		case linker.SectionText:
			sec.Flags = linker.FlagAllocatable | linker.FlagExecutable
		case linker.SectionRodata:
			sec.Flags = linker.FlagAllocatable
		case linker.SectionUnknown:
		default:
			sec.Flags = linker.FlagAllocatable | linker.FlagWritable
		}
		if sec.Type != linker.SectionUnknown && sec.Type != linker.SectionBSS && sec.Type != linker.SectionTBSS {
			content, err := s.Data()
			if err != nil {
				return nil, fmt.Errorf("%s: section %s: %w", filename, s.Name, err)
			}
			sec.Content = content
		}
		obj.Sections = append(obj.Sections, sec)
	}

	if f.Symtab != nil {
		for _, s := range f.Symtab.Syms {
			sym := linker.Symbol{
				Name:           s.Name,
				Size:           0,
				DefiningObject: objIdx,
			}
			if s.Type&0x0e == 0x0e && int(s.Sect) >= 1 && int(s.Sect) <= len(f.Sections) {
				// N_SECT: the value is an address in the object's flat
				// space; rebase onto the owning section.
				secIdx := int(s.Sect) - 1
				sym.SectionIndex = secIdx
				sym.Value = s.Value - f.Sections[secIdx].Addr
				sym.IsDefined = true
				sym.Type = linker.SymFunc
				if obj.Sections[secIdx].Type != linker.SectionText {
					sym.Type = linker.SymObject
				}
			} else {
				sym.SectionIndex = -1
				sym.DefiningObject = -1
			}
			if s.Type&0x01 != 0 { // N_EXT
				sym.Bind = linker.BindGlobal
			}
			if s.Desc&(0x0040|0x0080) != 0 { // N_WEAK_REF (0x0040) or N_WEAK_DEF (0x0080)
				sym.Bind = linker.BindWeak
			}
			obj.Symbols = append(obj.Symbols, sym)
		}
	}

	for secIdx, s := range f.Sections {
		if obj.Sections[secIdx].Type == linker.SectionUnknown {
			continue
		}
		pendingAddend := int64(0)
		for _, r := range s.Relocs {
			if r.Type == arm64RelocAddend {
				// The addend rides in the "symbol number" field and
				// applies to the next relocation.
				pendingAddend = int64(r.Value)
				continue
			}
			relType := mapMachORelocType(r.Type, obj, secIdx, r.Addr, filename)
			if relType == linker.RelocNone && r.Type != arm64RelocUnsigned {
				pendingAddend = 0
				continue
			}

			reloc := linker.Relocation{
				Offset:       uint64(r.Addr),
				Addend:       pendingAddend,
				SectionIndex: secIdx,
				Type:         relType,
				ObjectIndex:  objIdx,
			}
			pendingAddend = 0

			if r.Extern {
				reloc.Target = linker.TargetSymbol(int(r.Value))
			} else {
				// r_symbolnum is a 1-based section ordinal.
				reloc.Target = linker.TargetSection(objIdx, int(r.Value)-1)
			}
			obj.Relocations = append(obj.Relocations, reloc)
		}
	}

	return obj, nil
}

func machoSectionType(s *macho.Section) linker.SectionType {
	switch {
	case s.Seg == "__TEXT" && s.Name == "__text":
		return linker.SectionText
	case s.Seg == "__TEXT" && (s.Name == "__const" || s.Name == "__cstring" || strings.HasPrefix(s.Name, "__literal")):
		return linker.SectionRodata
	case s.Name == "__thread_vars":
		return linker.SectionTLV
	case s.Name == "__thread_data":
		return linker.SectionTData
	case s.Name == "__thread_bss":
		return linker.SectionTBSS
	case s.Name == "__bss" || s.Name == "__common":
		return linker.SectionBSS
	case s.Seg == "__DATA" || s.Seg == "__DATA_CONST":
		return linker.SectionData
	default:
		return linker.SectionUnknown
	}
}

// mapMachORelocType maps an ARM64 Mach-O relocation to the unified tag.
// PAGEOFF12 covers both ADD and load/store immediates; the instruction
// word at the patch site decides which encoder applies.
func mapMachORelocType(t uint8, obj *linker.Object, secIdx int, addr uint32, filename string) linker.RelocType {
	switch t {
	case arm64RelocUnsigned:
		return linker.RelocARM64_ABS64
	case arm64RelocBranch26:
		return linker.RelocARM64_CALL26
	case arm64RelocPage21:
		return linker.RelocARM64_ADR_PREL_PG_HI21
	case arm64RelocPageoff12:
		if isLoadStore64(obj, secIdx, addr) {
			return linker.RelocARM64_LDST64_ABS_LO12_NC
		}
		return linker.RelocARM64_ADD_ABS_LO12_NC
	case arm64RelocGOTLoadPage21:
		return linker.RelocARM64_GOT_LOAD_PAGE21
	case arm64RelocGOTLoadPageoff12:
		return linker.RelocARM64_GOT_LOAD_PAGEOFF12
	case arm64RelocTLVPLoadPage21:
		return linker.RelocARM64_TLVP_LOAD_PAGE21
	case arm64RelocTLVPLoadPageoff12:
		return linker.RelocARM64_TLVP_LOAD_PAGEOFF12
	default:
		fmt.Fprintf(os.Stderr, "warning: %s: unsupported arm64 relocation type %d, skipping\n", filename, t)
		return linker.RelocNone
	}
}

// isLoadStore64 reports whether the instruction at addr in the given
// section is a 64-bit load/store with an unsigned scaled immediate
// (size=11, opc class 111001).
func isLoadStore64(obj *linker.Object, secIdx int, addr uint32) bool {
	content := obj.Sections[secIdx].Content
	if int(addr)+4 > len(content) {
		return false
	}
	instr := binary.LittleEndian.Uint32(content[addr:])
	return instr>>24 == 0xf9
}
