package linker

import (
	"testing"

	"github.com/tinylink/tinylink/internal/arch"
)

// TestLayoutMergesAndAligns verifies that same-typed sections concatenate
// in object-insertion order, honoring each contributor's alignment, and
// that the per-object base-address vectors come out consistent.
func TestLayoutMergesAndAligns(t *testing.T) {
	ctx := NewContext(0x400000)
	ctx.TextFileOffset = 0x1000

	a := &Object{
		Sections: []Section{{Name: ".text", Type: SectionText, Size: 6, Align: 4, Content: []byte{1, 2, 3, 4, 5, 6}}},
	}
	b := &Object{
		Sections: []Section{{Name: ".text", Type: SectionText, Size: 4, Align: 16, Content: []byte{7, 8, 9, 10}}},
	}
	ctx.AddObject(a)
	ctx.AddObject(b)

	if errs := ctx.Layout(arch.FormatELF); errs.HasErrors() {
		t.Fatalf("layout failed: %s", errs.Format())
	}

	text := ctx.MergedOf(SectionText)
	if text == nil {
		t.Fatal("no merged TEXT section")
	}
	if text.VMAddr != 0x401000 {
		t.Errorf("TEXT vmaddr = %#x, want %#x (base + text file offset)", text.VMAddr, 0x401000)
	}
	if text.Align != 16 {
		t.Errorf("merged alignment = %d, want 16 (max of contributors)", text.Align)
	}

	// B's contribution starts at the next 16-aligned cursor after A's 6
	// bytes, so at offset 16.
	if len(text.Contributions) != 2 {
		t.Fatalf("expected 2 contributions, got %d", len(text.Contributions))
	}
	if text.Contributions[1].OffsetMerged != 16 {
		t.Errorf("second contribution at %d, want 16", text.Contributions[1].OffsetMerged)
	}
	if text.Size != 20 {
		t.Errorf("merged size = %d, want 20", text.Size)
	}
	if text.Data[16] != 7 {
		t.Errorf("second contributor's bytes not at the aligned offset")
	}

	if a.SectionBaseAddrs[0] != text.VMAddr {
		t.Errorf("object A base = %#x, want %#x", a.SectionBaseAddrs[0], text.VMAddr)
	}
	if b.SectionBaseAddrs[0] != text.VMAddr+16 {
		t.Errorf("object B base = %#x, want %#x", b.SectionBaseAddrs[0], text.VMAddr+16)
	}
}

// TestLayoutCanonicalOrder verifies that merged sections come out in
// canonical order with monotonically non-decreasing addresses and a page
// boundary between the code and data segments.
func TestLayoutCanonicalOrder(t *testing.T) {
	ctx := NewContext(0x400000)

	obj := &Object{
		Sections: []Section{
			{Name: ".data", Type: SectionData, Size: 8, Align: 8, Content: make([]byte, 8)},
			{Name: ".text", Type: SectionText, Size: 4, Align: 4, Content: make([]byte, 4)},
			{Name: ".bss", Type: SectionBSS, Size: 32, Align: 8},
			{Name: ".rodata", Type: SectionRodata, Size: 5, Align: 1, Content: []byte("hello")},
			{Name: ".debug_info", Type: SectionUnknown, Size: 99},
		},
	}
	ctx.AddObject(obj)

	if errs := ctx.Layout(arch.FormatELF); errs.HasErrors() {
		t.Fatalf("layout failed: %s", errs.Format())
	}

	wantOrder := []SectionType{SectionText, SectionRodata, SectionData, SectionBSS}
	if len(ctx.Merged) != len(wantOrder) {
		t.Fatalf("expected %d merged sections, got %d", len(wantOrder), len(ctx.Merged))
	}
	var prev uint64
	for i, m := range ctx.Merged {
		if m.Type != wantOrder[i] {
			t.Errorf("merged[%d] = %s, want %s", i, m.Type, wantOrder[i])
		}
		if m.VMAddr < prev {
			t.Errorf("merged[%d] address %#x not monotonic", i, m.VMAddr)
		}
		prev = m.VMAddr
	}

	rodata := ctx.MergedOf(SectionRodata)
	data := ctx.MergedOf(SectionData)
	if data.VMAddr%PageSizeELF != 0 {
		t.Errorf("data segment start %#x not page aligned after code segment (rodata ends %#x)",
			data.VMAddr, rodata.VMAddr+rodata.Size)
	}
}

// TestFinalizeAddresses asserts property 1: every defined symbol's final
// address equals its section base plus its pre-relocation value.
func TestFinalizeAddresses(t *testing.T) {
	ctx := NewContext(0x400000)
	obj := &Object{
		Sections: []Section{{Name: ".text", Type: SectionText, Size: 16, Align: 4, Content: make([]byte, 16)}},
		Symbols: []Symbol{
			{Name: "start", Bind: BindGlobal, SectionIndex: 0, Value: 0, IsDefined: true},
			{Name: "inner", Bind: BindGlobal, SectionIndex: 0, Value: 8, IsDefined: true},
			{Name: "absolute", Bind: BindGlobal, SectionIndex: -1, Value: 0xdead, IsDefined: true},
		},
	}
	ctx.AddObject(obj)

	if errs := ctx.Layout(arch.FormatELF); errs.HasErrors() {
		t.Fatalf("layout failed: %s", errs.Format())
	}
	ctx.FinalizeAddresses()

	for _, sym := range obj.Symbols[:2] {
		want := obj.SectionBaseAddrs[sym.SectionIndex] + sym.Value
		if sym.FinalAddress != want {
			t.Errorf("%s final address = %#x, want %#x", sym.Name, sym.FinalAddress, want)
		}
	}
	if obj.Symbols[2].FinalAddress != 0xdead {
		t.Errorf("absolute symbol final address = %#x, want 0xdead", obj.Symbols[2].FinalAddress)
	}

	text := ctx.MergedOf(SectionText)
	for _, sym := range obj.Symbols[:2] {
		if sym.FinalAddress < text.VMAddr || sym.FinalAddress >= text.VMAddr+text.Size {
			t.Errorf("%s final address %#x outside merged section [%#x, %#x)",
				sym.Name, sym.FinalAddress, text.VMAddr, text.VMAddr+text.Size)
		}
	}
}

// TestReserveMachODynlinkSpace verifies stub placement after the code
// sections, GOT placement on its own 16 KiB page, and the data shift to
// the page after the GOT.
func TestReserveMachODynlinkSpace(t *testing.T) {
	ctx := NewContext(BaseAddrMachOText)
	ctx.TextFileOffset = 0x4000

	obj := &Object{
		Sections: []Section{
			{Name: "__TEXT,__text", Type: SectionText, Size: 8, Align: 4, Content: make([]byte, 8)},
			{Name: "__DATA,__data", Type: SectionData, Size: 16, Align: 8, Content: make([]byte, 16)},
		},
	}
	ctx.AddObject(obj)

	if errs := ctx.Layout(arch.FormatMachO); errs.HasErrors() {
		t.Fatalf("layout failed: %s", errs.Format())
	}
	ctx.MachODyn = &MachODynlink{
		Stubs:      []ExternalRef{{Name: "printf"}},
		GOTEntries: []ExternalRef{{Name: "environ"}},
	}
	ctx.ReserveMachODynlinkSpace()

	text := ctx.MergedOf(SectionText)
	dyn := ctx.MachODyn
	if dyn.StubsAddr < text.VMAddr+text.Size {
		t.Errorf("stubs at %#x overlap text ending %#x", dyn.StubsAddr, text.VMAddr+text.Size)
	}
	if dyn.GOTAddr%PageSizeMachO != 0 {
		t.Errorf("GOT address %#x not on a 16 KiB page", dyn.GOTAddr)
	}
	data := ctx.MergedOf(SectionData)
	gotEnd := dyn.GOTAddr + uint64(dyn.GOTSlotCount()*8)
	if data.VMAddr%PageSizeMachO != 0 || data.VMAddr < gotEnd {
		t.Errorf("data segment at %#x, want page-aligned past GOT end %#x", data.VMAddr, gotEnd)
	}
	if obj.SectionBaseAddrs[1] != data.VMAddr {
		t.Errorf("data base addr vector stale: %#x != %#x", obj.SectionBaseAddrs[1], data.VMAddr)
	}
}
