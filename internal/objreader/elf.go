package objreader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/tinylink/tinylink/internal/arch"
	"github.com/tinylink/tinylink/internal/linker"
)

// readELF normalizes a relocatable ELF object. Sections map 1:1 onto
// linker.Section entries (preserving ELF indices, with non-placed sections
// as UNKNOWN), symbols map 1:1 onto the ELF symbol table minus its null
// entry, and every SHT_RELA section contributes relocations against the
// section named by its sh_info.
func readELF(filename string, data []byte, objIdx int) (*linker.Object, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	defer f.Close()

	if f.Type != elf.ET_REL {
		return nil, fmt.Errorf("%s: not a relocatable object (type %v)", filename, f.Type)
	}

	machine := arch.MachineX86_64
	if f.Machine == elf.EM_AARCH64 {
		machine = arch.MachineARM64
	}

	obj := &linker.Object{
		Filename: filename,
		Format:   arch.FormatELF,
		Machine:  machine,
	}

	for _, s := range f.Sections {
		sec := linker.Section{
			Name:      s.Name,
			Type:      elfSectionType(s),
			Size:      s.Size,
			Align:     maxU64(s.Addralign, 1),
			ObjectIdx: objIdx,
		}
		if s.Flags&elf.SHF_ALLOC != 0 {
			sec.Flags |= linker.FlagAllocatable
		}
		if s.Flags&elf.SHF_WRITE != 0 {
			sec.Flags |= linker.FlagWritable
		}
		if s.Flags&elf.SHF_EXECINSTR != 0 {
			sec.Flags |= linker.FlagExecutable
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

	syms, err := f.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	for _, s := range syms {
		sym := linker.Symbol{
			Name:           s.Name,
			Value:          s.Value,
			Size:           s.Size,
			DefiningObject: objIdx,
		}
		switch elf.ST_TYPE(s.Info) {
		case elf.STT_FUNC:
			sym.Type = linker.SymFunc
		case elf.STT_OBJECT:
			sym.Type = linker.SymObject
		}
		switch elf.ST_BIND(s.Info) {
		case elf.STB_GLOBAL:
			sym.Bind = linker.BindGlobal
		case elf.STB_WEAK:
			sym.Bind = linker.BindWeak
		}
		switch s.Section {
		case elf.SHN_UNDEF:
			sym.SectionIndex = -1
			sym.DefiningObject = -1
		case elf.SHN_ABS, elf.SHN_COMMON:
			sym.SectionIndex = -1
			sym.IsDefined = true
		default:
			sym.SectionIndex = int(s.Section)
			sym.IsDefined = true
		}
		obj.Symbols = append(obj.Symbols, sym)
	}

	for _, s := range f.Sections {
		if s.Type != elf.SHT_RELA {
			continue
		}
		target := int(s.Info)
		if target <= 0 || target >= len(obj.Sections) || obj.Sections[target].Type == linker.SectionUnknown {
			continue
		}
		relaData, err := s.Data()
		if err != nil {
			return nil, fmt.Errorf("%s: section %s: %w", filename, s.Name, err)
		}
		for off := 0; off+24 <= len(relaData); off += 24 {
			rOffset := binary.LittleEndian.Uint64(relaData[off:])
			rInfo := binary.LittleEndian.Uint64(relaData[off+8:])
			rAddend := int64(binary.LittleEndian.Uint64(relaData[off+16:]))

			symIdx := int(rInfo>>32) - 1 // the null symbol is not in syms
			relType := mapELFRelocType(machine, uint32(rInfo), filename)

			reloc := linker.Relocation{
				Offset:       rOffset,
				Addend:       rAddend,
				SectionIndex: target,
				Type:         relType,
				ObjectIndex:  objIdx,
			}
			if symIdx >= 0 && symIdx < len(syms) && elf.ST_TYPE(syms[symIdx].Info) == elf.STT_SECTION {
				reloc.Target = linker.TargetSection(objIdx, int(syms[symIdx].Section))
			} else {
				reloc.Target = linker.TargetSymbol(symIdx)
			}
			obj.Relocations = append(obj.Relocations, reloc)
		}
	}

	return obj, nil
}

func elfSectionType(s *elf.Section) linker.SectionType {
	if s.Flags&elf.SHF_ALLOC == 0 {
		return linker.SectionUnknown
	}
	switch {
	case s.Flags&elf.SHF_TLS != 0 && s.Type == elf.SHT_NOBITS:
		return linker.SectionTBSS
	case s.Flags&elf.SHF_TLS != 0:
		return linker.SectionTData
	case s.Type == elf.SHT_NOBITS:
		return linker.SectionBSS
	case s.Flags&elf.SHF_EXECINSTR != 0:
		return linker.SectionText
	case s.Flags&elf.SHF_WRITE != 0:
		return linker.SectionData
	case strings.HasPrefix(s.Name, ".rodata"), s.Type == elf.SHT_PROGBITS:
		return linker.SectionRodata
	default:
		return linker.SectionUnknown
	}
}

func mapELFRelocType(machine arch.Machine, t uint32, filename string) linker.RelocType {
	if machine == arch.MachineARM64 {
		switch elf.R_AARCH64(t) {
		case elf.R_AARCH64_ABS64:
			return linker.RelocARM64_ABS64
		case elf.R_AARCH64_CALL26:
			return linker.RelocARM64_CALL26
		case elf.R_AARCH64_JUMP26:
			return linker.RelocARM64_JUMP26
		case elf.R_AARCH64_ADR_PREL_PG_HI21:
			return linker.RelocARM64_ADR_PREL_PG_HI21
		case elf.R_AARCH64_ADD_ABS_LO12_NC:
			return linker.RelocARM64_ADD_ABS_LO12_NC
		case elf.R_AARCH64_LDST64_ABS_LO12_NC:
			return linker.RelocARM64_LDST64_ABS_LO12_NC
		case elf.R_AARCH64_ADR_GOT_PAGE:
			return linker.RelocARM64_GOT_LOAD_PAGE21
		case elf.R_AARCH64_LD64_GOT_LO12_NC:
			return linker.RelocARM64_GOT_LOAD_PAGEOFF12
		case elf.R_AARCH64_NONE:
			return linker.RelocNone
		}
		fmt.Fprintf(os.Stderr, "warning: %s: unsupported aarch64 relocation type %d, skipping\n", filename, t)
		return linker.RelocNone
	}

	switch elf.R_X86_64(t) {
	case elf.R_X86_64_64:
		return linker.RelocX64_64
	case elf.R_X86_64_PC32:
		return linker.RelocX64_PC32
	case elf.R_X86_64_PLT32:
		return linker.RelocX64_PLT32
	case elf.R_X86_64_GOTPCREL, elf.R_X86_64_GOTPCRELX, elf.R_X86_64_REX_GOTPCRELX:
		return linker.RelocX64_GOTPCREL
	case elf.R_X86_64_NONE:
		return linker.RelocNone
	}
	fmt.Fprintf(os.Stderr, "warning: %s: unsupported x86-64 relocation type %d, skipping\n", filename, t)
	return linker.RelocNone
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
