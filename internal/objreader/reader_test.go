package objreader

import (
	"debug/elf"
	"testing"

	"github.com/tinylink/tinylink/internal/arch"
	"github.com/tinylink/tinylink/internal/linker"
)

// TestReadObjectRejectsGarbage verifies the magic sniffing.
func TestReadObjectRejectsGarbage(t *testing.T) {
	if _, err := ReadObject("x.o", []byte{1, 2, 3, 4, 5, 6, 7, 8}, 0); err == nil {
		t.Error("garbage input accepted")
	}
	if _, err := ReadObject("x.o", nil, 0); err == nil {
		t.Error("empty input accepted")
	}
}

// TestELFSectionTypeMapping checks the flag/type classification used to
// bucket input sections.
func TestELFSectionTypeMapping(t *testing.T) {
	mk := func(name string, typ elf.SectionType, flags elf.SectionFlag) *elf.Section {
		return &elf.Section{SectionHeader: elf.SectionHeader{Name: name, Type: typ, Flags: flags}}
	}
	cases := []struct {
		sec  *elf.Section
		want linker.SectionType
	}{
		{mk(".text", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR), linker.SectionText},
		{mk(".rodata", elf.SHT_PROGBITS, elf.SHF_ALLOC), linker.SectionRodata},
		{mk(".data", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_WRITE), linker.SectionData},
		{mk(".bss", elf.SHT_NOBITS, elf.SHF_ALLOC|elf.SHF_WRITE), linker.SectionBSS},
		{mk(".tdata", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_WRITE|elf.SHF_TLS), linker.SectionTData},
		{mk(".tbss", elf.SHT_NOBITS, elf.SHF_ALLOC|elf.SHF_WRITE|elf.SHF_TLS), linker.SectionTBSS},
		{mk(".debug_info", elf.SHT_PROGBITS, 0), linker.SectionUnknown},
		{mk(".comment", elf.SHT_PROGBITS, 0), linker.SectionUnknown},
	}
	for _, c := range cases {
		if got := elfSectionType(c.sec); got != c.want {
			t.Errorf("%s: mapped to %s, want %s", c.sec.Name, got, c.want)
		}
	}
}

// TestELFRelocTypeMapping covers both machines and the unknown-type
// fallback to NONE.
func TestELFRelocTypeMapping(t *testing.T) {
	x64 := map[uint32]linker.RelocType{
		uint32(elf.R_X86_64_64):       linker.RelocX64_64,
		uint32(elf.R_X86_64_PC32):     linker.RelocX64_PC32,
		uint32(elf.R_X86_64_PLT32):    linker.RelocX64_PLT32,
		uint32(elf.R_X86_64_GOTPCREL): linker.RelocX64_GOTPCREL,
		9999:                          linker.RelocNone,
	}
	for raw, want := range x64 {
		if got := mapELFRelocType(arch.MachineX86_64, raw, "t.o"); got != want {
			t.Errorf("x86-64 reloc %d mapped to %s, want %s", raw, got, want)
		}
	}

	arm := map[uint32]linker.RelocType{
		uint32(elf.R_AARCH64_ABS64):              linker.RelocARM64_ABS64,
		uint32(elf.R_AARCH64_CALL26):             linker.RelocARM64_CALL26,
		uint32(elf.R_AARCH64_ADR_PREL_PG_HI21):   linker.RelocARM64_ADR_PREL_PG_HI21,
		uint32(elf.R_AARCH64_ADD_ABS_LO12_NC):    linker.RelocARM64_ADD_ABS_LO12_NC,
		uint32(elf.R_AARCH64_LDST64_ABS_LO12_NC): linker.RelocARM64_LDST64_ABS_LO12_NC,
		uint32(elf.R_AARCH64_ADR_GOT_PAGE):       linker.RelocARM64_GOT_LOAD_PAGE21,
		9999:                                     linker.RelocNone,
	}
	for raw, want := range arm {
		if got := mapELFRelocType(arch.MachineARM64, raw, "t.o"); got != want {
			t.Errorf("aarch64 reloc %d mapped to %s, want %s", raw, got, want)
		}
	}
}

// TestMachOPageoff12Disambiguation verifies the instruction sniff that
// splits PAGEOFF12 into ADD vs 64-bit load/store immediates.
func TestMachOPageoff12Disambiguation(t *testing.T) {
	obj := &linker.Object{
		Sections: []linker.Section{{
			Type: linker.SectionText,
			Content: []byte{
				0x00, 0x00, 0x00, 0x91, // add x0, x0, #0
				0x00, 0x00, 0x40, 0xf9, // ldr x0, [x0]
			},
		}},
	}
	if got := mapMachORelocType(arm64RelocPageoff12, obj, 0, 0, "t.o"); got != linker.RelocARM64_ADD_ABS_LO12_NC {
		t.Errorf("ADD site mapped to %s", got)
	}
	if got := mapMachORelocType(arm64RelocPageoff12, obj, 0, 4, "t.o"); got != linker.RelocARM64_LDST64_ABS_LO12_NC {
		t.Errorf("LDR site mapped to %s", got)
	}
}
