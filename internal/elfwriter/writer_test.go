package elfwriter

import (
	"encoding/binary"
	"testing"

	"github.com/tinylink/tinylink/internal/arch"
	"github.com/tinylink/tinylink/internal/linker"
)

// TestProgramHeaderCount covers the shape combinations the pipeline sizes
// TextFileOffset from.
func TestProgramHeaderCount(t *testing.T) {
	textOnly := map[linker.SectionType]bool{linker.SectionText: true}
	withData := map[linker.SectionType]bool{linker.SectionText: true, linker.SectionData: true}
	withTLS := map[linker.SectionType]bool{linker.SectionText: true, linker.SectionTData: true}

	cases := []struct {
		types   map[linker.SectionType]bool
		dyn, pie bool
		want    int
	}{
		{textOnly, false, false, 1},                // RX only
		{textOnly, false, true, 2},                 // + PT_PHDR
		{withData, false, false, 2},                // + RW
		{textOnly, true, false, 5},                 // + INTERP, meta LOAD, DYNAMIC, RW (GOT)
		{withData, true, true, 6},                  // everything but TLS
		{withTLS, false, false, 3},                 // RW + PT_TLS
	}
	for _, c := range cases {
		got := ProgramHeaderCount(c.types, c.dyn, c.pie)
		if got != c.want {
			t.Errorf("ProgramHeaderCount(dyn=%v pie=%v) = %d, want %d", c.dyn, c.pie, got, c.want)
		}
	}
}

// TestBuildDynMeta checks the metadata region's internal consistency: the
// rela entries point at consecutive GOT slots and the _DYNAMIC array leads
// with DT_NEEDED and terminates with DT_NULL.
func TestBuildDynMeta(t *testing.T) {
	dyn := &linker.ELFDynlink{
		Entries: []linker.ExternalRef{{Name: "printf"}, {Name: "puts"}},
		PLTAddr: 0x401000,
		GOTAddr: 0x403000,
	}
	meta := buildDynMeta(dyn, arch.MachineX86_64, 0x405000, 0x5000)

	if meta.interpLen == 0 || meta.data[meta.interpOff] != '/' {
		t.Error("interpreter path missing")
	}

	// Two rela.plt entries, 24 bytes each, r_offset = GOT slot address.
	if meta.relaLen != 48 {
		t.Fatalf("rela.plt length = %d, want 48", meta.relaLen)
	}
	for i := 0; i < 2; i++ {
		off := meta.relaOff + uint64(i*24)
		rOffset := binary.LittleEndian.Uint64(meta.data[off:])
		rInfo := binary.LittleEndian.Uint64(meta.data[off+8:])
		if rOffset != dyn.GOTAddr+uint64(i*8) {
			t.Errorf("rela[%d].r_offset = %#x, want %#x", i, rOffset, dyn.GOTAddr+uint64(i*8))
		}
		if rInfo&0xffffffff != rX64JumpSlot {
			t.Errorf("rela[%d] type = %d, want R_X86_64_JUMP_SLOT", i, rInfo&0xffffffff)
		}
		if rInfo>>32 != uint64(i+1) {
			t.Errorf("rela[%d] dynsym index = %d, want %d", i, rInfo>>32, i+1)
		}
	}

	firstTag := binary.LittleEndian.Uint64(meta.data[meta.dynamicOff:])
	if firstTag != dtNeeded {
		t.Errorf("first dynamic tag = %d, want DT_NEEDED", firstTag)
	}
	lastTag := binary.LittleEndian.Uint64(meta.data[meta.dynamicOff+meta.dynamicLen-16:])
	if lastTag != dtNull {
		t.Errorf("last dynamic tag = %d, want DT_NULL", lastTag)
	}

	// dynsym: null entry plus one UNDEF GLOBAL FUNC per external.
	if meta.dynsymLen != 3*symEntSize {
		t.Errorf("dynsym length = %d, want %d", meta.dynsymLen, 3*symEntSize)
	}
	info := meta.data[meta.dynsymOff+symEntSize+4]
	if info != stbGlobal<<4|sttFunc {
		t.Errorf("dynsym[1] info = %#x, want GLOBAL FUNC", info)
	}
}

// TestELFSymbolName verifies the Mach-O underscore-prefix strip.
func TestELFSymbolName(t *testing.T) {
	cases := map[string]string{
		"printf":          "printf",
		"_printf":         "printf",
		"__stack_chk_fail": "__stack_chk_fail",
	}
	for in, want := range cases {
		if got := elfSymbolName(in); got != want {
			t.Errorf("elfSymbolName(%q) = %q, want %q", in, got, want)
		}
	}
}
