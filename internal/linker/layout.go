package linker

import "github.com/tinylink/tinylink/internal/arch"

// Platform page sizes and default base addresses.
const (
	PageSizeELF   = 0x1000  // 4 KiB
	PageSizeMachO = 0x4000  // 16 KiB
	BaseAddrELF   = 0x400000
	BaseAddrMachOText = 0x100000000 // above __PAGEZERO
)

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

func pageSizeFor(format arch.Format) uint64 {
	if format == arch.FormatMachO {
		return PageSizeMachO
	}
	return PageSizeELF
}

// Layout buckets every non-UNKNOWN section by type, concatenates
// same-typed sections in stable object-insertion order into a
// MergedSection, then assigns each MergedSection a virtual address in
// canonical order (TEXT, RODATA, DATA, TLV, TDATA, TBSS, BSS), rounding
// each segment boundary to the platform page size.
//
// The stub/PLT/GOT address ranges between RODATA and DATA are not sized
// here — their count depends on the relocation scan in dynlink.go, which
// this function does not perform. Reserve*DynlinkSpace, called between
// Layout and FinalizeAddresses, shifts the DATA-segment merged sections
// forward to make room once those sizes are known. This keeps Layout
// itself format-agnostic.
func (c *Context) Layout(format arch.Format) *ErrorList {
	buckets := map[SectionType][]objSection{}
	for objIdx, obj := range c.Objects {
		for secIdx := range obj.Sections {
			sec := obj.Sections[secIdx]
			if sec.Type == SectionUnknown {
				continue // debug/metadata sections are never placed
			}
			buckets[sec.Type] = append(buckets[sec.Type], objSection{objIdx, secIdx, sec})
		}
	}

	pageSize := pageSizeFor(format)
	if c.BaseAddr == 0 && format == arch.FormatMachO {
		c.BaseAddr = BaseAddrMachOText
	}

	// TEXT begins past the headers inside the first mapped segment, so the
	// address every symbol and relocation sees already includes the
	// file-offset correction and nothing downstream has to re-apply it.
	vaddr := c.BaseAddr + c.TextFileOffset
	for _, t := range canonicalSectionOrder {
		secs := buckets[t]
		if len(secs) == 0 {
			continue
		}
		merged := c.buildMergedSection(t, secs)
		merged.VMAddr = alignUp(vaddr, merged.Align)
		vaddr = merged.VMAddr + merged.Size
		c.Merged = append(c.Merged, merged)

		// Segment boundary: TEXT/RODATA share the code segment, the rest
		// share the data segment. Round up to the page size at the
		// code/data boundary and at the very end.
		codeEnd := t == SectionRodata || (t == SectionText && len(buckets[SectionRodata]) == 0)
		if codeEnd || t == SectionBSS || t == SectionTBSS {
			vaddr = alignUp(vaddr, pageSize)
		}
	}

	c.populateSectionBaseAddrs()
	return &c.Errors
}

// objSection pairs a raw Section with the (object, section) indices layout
// needs to record a Contribution, since a Section carries no back-reference
// to its own position in its Object's slice.
type objSection struct {
	objIdx, secIdx int
	sec            Section
}

func (c *Context) buildMergedSection(t SectionType, secs []objSection) *MergedSection {
	merged := &MergedSection{Type: t, Name: t.String()}

	cursor := uint64(0)
	var buf []byte
	isZeroFill := t == SectionBSS || t == SectionTBSS

	for _, os := range secs {
		s := os.sec
		if s.Align > merged.Align {
			merged.Align = s.Align
		}
		merged.Flags |= s.Flags

		cursor = alignUp(cursor, maxu64(s.Align, 1))
		contribOffset := cursor

		if isZeroFill {
			cursor += s.Size
		} else {
			if buf == nil {
				buf = make([]byte, 0, s.Size)
			}
			for uint64(len(buf)) < contribOffset {
				buf = append(buf, 0)
			}
			buf = append(buf, s.Content...)
			cursor = uint64(len(buf))
		}

		merged.Contributions = append(merged.Contributions, Contribution{
			ObjectIndex:  os.objIdx,
			SectionIndex: os.secIdx,
			OffsetMerged: contribOffset,
			Size:         s.Size,
		})
	}

	merged.Size = cursor
	if !isZeroFill {
		merged.Data = buf
	}
	if merged.Align == 0 {
		merged.Align = 1
	}
	return merged
}

func maxu64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// populateSectionBaseAddrs fills obj.SectionBaseAddrs[i] for every placed
// section of every object.
func (c *Context) populateSectionBaseAddrs() {
	for _, m := range c.Merged {
		for _, contrib := range m.Contributions {
			obj := c.Objects[contrib.ObjectIndex]
			obj.SectionBaseAddrs[contrib.SectionIndex] = m.VMAddr + contrib.OffsetMerged
		}
	}
}

// afterCodeAddr returns the first address past the merged TEXT and RODATA
// sections, where the stub/PLT region begins.
func (c *Context) afterCodeAddr() uint64 {
	if rodata := c.MergedOf(SectionRodata); rodata != nil {
		return rodata.VMAddr + rodata.Size
	}
	if text := c.MergedOf(SectionText); text != nil {
		return text.VMAddr + text.Size
	}
	return c.BaseAddr + c.TextFileOffset
}

// shiftDataSections moves every DATA-segment merged section so the first
// one starts at newStart (honoring each section's own alignment), keeping
// their relative order, then refreshes every object's base-address vector.
func (c *Context) shiftDataSections(newStart uint64) {
	cursor := newStart
	for _, m := range c.Merged {
		switch m.Type {
		case SectionData, SectionTLV, SectionTData, SectionTBSS, SectionBSS:
			m.VMAddr = alignUp(cursor, m.Align)
			cursor = m.VMAddr + m.Size
		}
	}
	c.populateSectionBaseAddrs()
}

// ReserveMachODynlinkSpace places the __stubs region right after RODATA
// (still inside __TEXT), the GOT on the next 16 KiB page (the start of
// __DATA_CONST), and shifts the DATA-segment merged sections to the page
// after the GOT (the start of __DATA). Must run after Layout and
// EnumerateMachODynlink, and before FinalizeAddresses.
func (c *Context) ReserveMachODynlinkSpace() {
	dyn := c.MachODyn
	if dyn == nil || (len(dyn.Stubs) == 0 && len(dyn.GOTEntries) == 0) {
		return
	}

	afterCode := c.afterCodeAddr()
	dyn.StubsAddr = alignUp(afterCode, 4)
	stubsEnd := dyn.StubsAddr + uint64(len(dyn.Stubs)*machoStubSize)

	dyn.GOTAddr = alignUp(stubsEnd, PageSizeMachO)
	gotEnd := dyn.GOTAddr + uint64(dyn.GOTSlotCount()*8)

	c.shiftDataSections(alignUp(gotEnd, PageSizeMachO))
}

// ReserveELFDynlinkSpace is the ELF analogue: the PLT goes right after
// RODATA inside the executable segment, and the writable GOT opens the data
// segment on the next 4 KiB page, with the DATA-segment merged sections
// following it. Must run after Layout and EnumerateELFDynlink, and before
// FinalizeAddresses.
func (c *Context) ReserveELFDynlinkSpace(machine arch.Machine) {
	dyn := c.ELFDyn
	if dyn == nil || len(dyn.Entries) == 0 {
		return
	}

	afterCode := c.afterCodeAddr()
	dyn.PLTAddr = alignUp(afterCode, 16)
	pltEnd := dyn.PLTAddr + uint64(len(dyn.Entries))*elfPLTEntrySize(machine)

	dyn.GOTAddr = alignUp(pltEnd, PageSizeELF)
	gotEnd := dyn.GOTAddr + uint64(len(dyn.Entries)*8)

	c.shiftDataSections(alignUp(gotEnd, 8))
}

const machoStubSize = 12 // ADRP+LDR+BR
