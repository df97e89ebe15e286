// Package machowriter serializes a finalized, patched linker.Context into
// an MH_EXECUTE PIE image: segments and section records, the stub/GOT
// sections with their indirect-symbol bookkeeping, the dyld-info bind and
// export streams, and the symbol/string tables in __LINKEDIT.
package machowriter

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/tinylink/tinylink/internal/arch"
	"github.com/tinylink/tinylink/internal/linker"
)

const (
	machMagic64      = 0xfeedfacf
	cpuTypeX86_64    = 0x01000007
	cpuTypeARM64     = 0x0100000c
	cpuSubtypeARM64  = 0x00000000 // CPU_SUBTYPE_ARM64_ALL
	cpuSubtypeX64All = 0x00000003
	mhExecute        = 0x2
	mhDyldLink       = 0x4
	mhTwoLevel       = 0x80
	mhPIE            = 0x200000
	mhHasTLVDescs    = 0x800000

	lcSegment64    = 0x19
	lcSymtab       = 0x2
	lcDysymtab     = 0xb
	lcLoadDylinker = 0xe
	lcUUID         = 0x1b
	lcMain         = 0x80000028
	lcLoadDylib    = 0xc
	lcDyldInfoOnly = 0x80000022
	lcBuildVersion = 0x32

	vmProtNone    = 0x0
	vmProtRead    = 0x1
	vmProtWrite   = 0x2
	vmProtExecute = 0x4

	sgReadOnly = 0x10

	sRegular                = 0x0
	sZerofill               = 0x1
	sSymbolStubs            = 0x8
	sNonLazySymbolPointers  = 0x6
	sThreadLocalRegular     = 0x11
	sThreadLocalZerofill    = 0x12
	sThreadLocalVariables   = 0x13
	sAttrPureInstructions   = 0x80000000
	sAttrSomeInstructions   = 0x00000400

	nUndf = 0x0
	nExt  = 0x1
	nSect = 0xe

	pageSize = linker.PageSizeMachO

	dyldPath = "/usr/lib/dyld"

	headerSize       = 32
	segmentCmdSize   = 72
	sectionSize      = 80
	symtabCmdSize    = 24
	dysymtabCmdSize  = 80
	dyldInfoCmdSize  = 48
	uuidCmdSize      = 24
	buildVerCmdSize  = 24
	entryPointCmdSize = 24
	nlistSize        = 16
	stubSize         = 12
)

// sectionSpec is one Mach-O section record to be emitted inside a segment.
type sectionSpec struct {
	name, seg string
	addr      uint64
	size      uint64
	fileOff   uint64 // 0 for zero-fill sections
	align     uint64
	flags     uint32
	reserved1 uint32
	reserved2 uint32
}

// segmentSpec is one LC_SEGMENT_64 with its sections.
type segmentSpec struct {
	name             string
	vmAddr, vmSize   uint64
	fileOff, fileSize uint64
	maxProt, initProt uint32
	flags            uint32
	sections         []sectionSpec
}

// imageLayout is everything Write derives from the context before any byte
// is emitted, so that sizing, load commands, and payload emission all read
// one consistent view.
type imageLayout struct {
	c       *linker.Context
	machine arch.Machine

	text, rodata, data, tlv, tdata, tbss, bss *linker.MergedSection
	dyn                                       *linker.MachODynlink

	libs []string

	segments     []segmentSpec
	dataConstIdx int // load-command index of __DATA_CONST, -1 if absent
	dataIdx      int // load-command index of __DATA, -1 if absent

	textSegEnd uint64 // vm end of __TEXT (page aligned)

	linkeditFileOff uint64
	linkeditVMAddr  uint64
}

func hasStubs(dyn *linker.MachODynlink) bool {
	return dyn != nil && len(dyn.Stubs) > 0
}

func hasGOT(dyn *linker.MachODynlink) bool {
	return dyn != nil && dyn.GOTSlotCount() > 0
}

// needsDyldInfo reports whether the image carries a bind stream: any GOT
// slot, or any thread-variable descriptor needing its __tlv_bootstrap bind.
func (l *imageLayout) needsDyldInfo() bool {
	return l.dyn != nil && (hasGOT(l.dyn) || l.tlv != nil)
}

// LoadCommandsSize computes sizeofcmds for the context's shape without
// touching any merged-section state, so the pipeline can derive
// TextFileOffset before Layout runs. sectionTypes must hold every section
// type present across the input objects.
func LoadCommandsSize(sectionTypes map[linker.SectionType]bool, dyn *linker.MachODynlink) uint32 {
	size := uint32(0)

	// __PAGEZERO
	size += segmentCmdSize

	// __TEXT: __text, __const, __stubs
	nText := uint32(0)
	if sectionTypes[linker.SectionText] {
		nText++
	}
	if sectionTypes[linker.SectionRodata] {
		nText++
	}
	if hasStubs(dyn) {
		nText++
	}
	size += segmentCmdSize + nText*sectionSize

	// __DATA_CONST: __got
	if hasGOT(dyn) {
		size += segmentCmdSize + sectionSize
	}

	// __DATA: __data, __thread_vars, __thread_data, __thread_bss, __bss
	nData := uint32(0)
	for _, t := range []linker.SectionType{linker.SectionData, linker.SectionTLV, linker.SectionTData, linker.SectionTBSS, linker.SectionBSS} {
		if sectionTypes[t] {
			nData++
		}
	}
	if nData > 0 {
		size += segmentCmdSize + nData*sectionSize
	}

	// __LINKEDIT
	size += segmentCmdSize

	if hasGOT(dyn) || sectionTypes[linker.SectionTLV] {
		size += dyldInfoCmdSize
	}

	size += dylinkerCmdSize(dyldPath)
	for _, lib := range dylibPaths(dyn) {
		size += dylibCmdSize(lib)
	}

	size += symtabCmdSize + dysymtabCmdSize + uuidCmdSize + buildVerCmdSize + entryPointCmdSize
	return size
}

// TextFileOffset returns the file offset (and, equivalently, the offset
// from the image base address) at which the first TEXT byte is placed:
// directly after the header and load commands, 16-aligned.
func TextFileOffset(sectionTypes map[linker.SectionType]bool, dyn *linker.MachODynlink) uint64 {
	return alignUp(headerSize+uint64(LoadCommandsSize(sectionTypes, dyn)), 16)
}

func dylibPaths(dyn *linker.MachODynlink) []string {
	if dyn != nil && len(dyn.Libraries) > 0 {
		return dyn.Libraries
	}
	return []string{"/usr/lib/libSystem.B.dylib"}
}

func dylinkerCmdSize(path string) uint32 {
	return alignUp32(8+4+uint32(len(path))+1, 8)
}

func dylibCmdSize(path string) uint32 {
	return alignUp32(8+16+uint32(len(path))+1, 8)
}

// Write serializes c into a complete MH_EXECUTE_64 image. entryAddr is
// the entry point's finalized virtual address; LC_MAIN's entryoff is
// derived from it against the __TEXT segment base.
func Write(c *linker.Context, machine arch.Machine, entryAddr uint64) []byte {
	l := newImageLayout(c, machine)
	linkedit := l.buildLinkedit(entryAddr)
	return l.emit(linkedit, entryAddr)
}

func newImageLayout(c *linker.Context, machine arch.Machine) *imageLayout {
	l := &imageLayout{
		c:            c,
		machine:      machine,
		text:         c.MergedOf(linker.SectionText),
		rodata:       c.MergedOf(linker.SectionRodata),
		data:         c.MergedOf(linker.SectionData),
		tlv:          c.MergedOf(linker.SectionTLV),
		tdata:        c.MergedOf(linker.SectionTData),
		tbss:         c.MergedOf(linker.SectionTBSS),
		bss:          c.MergedOf(linker.SectionBSS),
		dyn:          c.MachODyn,
		dataConstIdx: -1,
		dataIdx:      -1,
	}
	l.libs = dylibPaths(l.dyn)
	l.buildSegments()
	return l
}

// fileOffOf maps a virtual address to its file offset. Every mapped byte of
// the image satisfies fileoff = vmaddr - base, because layout started TEXT
// at base + TextFileOffset and the header occupies [0, TextFileOffset).
func (l *imageLayout) fileOffOf(vmaddr uint64) uint64 {
	return vmaddr - l.c.BaseAddr
}

func (l *imageLayout) buildSegments() {
	base := l.c.BaseAddr

	l.segments = append(l.segments, segmentSpec{
		name: "__PAGEZERO", vmAddr: 0, vmSize: base,
		maxProt: vmProtNone, initProt: vmProtNone,
	})

	// __TEXT covers the header, load commands, __text, __const, __stubs.
	var textSects []sectionSpec
	textEnd := base + l.c.TextFileOffset
	if l.text != nil {
		textSects = append(textSects, sectionSpec{
			name: "__text", seg: "__TEXT", addr: l.text.VMAddr, size: l.text.Size,
			fileOff: l.fileOffOf(l.text.VMAddr), align: l.text.Align,
			flags: sRegular | sAttrPureInstructions | sAttrSomeInstructions,
		})
		textEnd = l.text.VMAddr + l.text.Size
	}
	if l.rodata != nil {
		textSects = append(textSects, sectionSpec{
			name: "__const", seg: "__TEXT", addr: l.rodata.VMAddr, size: l.rodata.Size,
			fileOff: l.fileOffOf(l.rodata.VMAddr), align: l.rodata.Align,
			flags: sRegular,
		})
		textEnd = l.rodata.VMAddr + l.rodata.Size
	}
	if hasStubs(l.dyn) {
		stubsSize := uint64(len(l.dyn.Stubs) * stubSize)
		textSects = append(textSects, sectionSpec{
			name: "__stubs", seg: "__TEXT", addr: l.dyn.StubsAddr, size: stubsSize,
			fileOff: l.fileOffOf(l.dyn.StubsAddr), align: 4,
			flags:     sSymbolStubs | sAttrPureInstructions | sAttrSomeInstructions,
			reserved1: 0, // first indirect-symbol entry for __stubs
			reserved2: stubSize,
		})
		textEnd = l.dyn.StubsAddr + stubsSize
	}
	l.textSegEnd = alignUp(textEnd, pageSize)
	l.segments = append(l.segments, segmentSpec{
		name: "__TEXT", vmAddr: base, vmSize: l.textSegEnd - base,
		fileOff: 0, fileSize: l.textSegEnd - base,
		maxProt: vmProtRead | vmProtExecute, initProt: vmProtRead | vmProtExecute,
		sections: textSects,
	})

	if hasGOT(l.dyn) {
		gotSize := uint64(l.dyn.GOTSlotCount() * 8)
		segEnd := alignUp(l.dyn.GOTAddr+gotSize, pageSize)
		l.dataConstIdx = len(l.segments)
		l.segments = append(l.segments, segmentSpec{
			name: "__DATA_CONST", vmAddr: l.dyn.GOTAddr, vmSize: segEnd - l.dyn.GOTAddr,
			fileOff: l.fileOffOf(l.dyn.GOTAddr), fileSize: segEnd - l.dyn.GOTAddr,
			maxProt: vmProtRead | vmProtWrite, initProt: vmProtRead | vmProtWrite,
			flags: sgReadOnly,
			sections: []sectionSpec{{
				name: "__got", seg: "__DATA_CONST", addr: l.dyn.GOTAddr, size: gotSize,
				fileOff: l.fileOffOf(l.dyn.GOTAddr), align: 8,
				flags:     sNonLazySymbolPointers,
				reserved1: uint32(len(l.dyn.Stubs)), // indirect entries after the stub ones
			}},
		})
	}

	var dataSects []sectionSpec
	addData := func(m *linker.MergedSection, name string, flags uint32, zeroFill bool) {
		if m == nil {
			return
		}
		s := sectionSpec{
			name: name, seg: "__DATA", addr: m.VMAddr, size: m.Size,
			align: m.Align, flags: flags,
		}
		if !zeroFill {
			s.fileOff = l.fileOffOf(m.VMAddr)
		}
		dataSects = append(dataSects, s)
	}
	addData(l.data, "__data", sRegular, false)
	addData(l.tlv, "__thread_vars", sThreadLocalVariables, false)
	addData(l.tdata, "__thread_data", sThreadLocalRegular, false)
	addData(l.tbss, "__thread_bss", sThreadLocalZerofill, true)
	addData(l.bss, "__bss", sZerofill, true)

	if len(dataSects) > 0 {
		segStart := dataSects[0].addr &^ (pageSize - 1)
		segEnd := dataSects[len(dataSects)-1].addr + dataSects[len(dataSects)-1].size
		fileEnd := segStart
		for _, s := range dataSects {
			if s.fileOff != 0 {
				fileEnd = s.addr + s.size
			}
		}
		l.dataIdx = len(l.segments)
		l.segments = append(l.segments, segmentSpec{
			name: "__DATA", vmAddr: segStart, vmSize: alignUp(segEnd-segStart, pageSize),
			fileOff: l.fileOffOf(segStart), fileSize: fileEnd - segStart,
			maxProt: vmProtRead | vmProtWrite, initProt: vmProtRead | vmProtWrite,
			sections: dataSects,
		})
	}

	// __LINKEDIT opens on the page after the last mapped byte.
	lastSeg := l.segments[len(l.segments)-1]
	l.linkeditFileOff = alignUp(lastSeg.fileOff+lastSeg.fileSize, pageSize)
	l.linkeditVMAddr = alignUp(lastSeg.vmAddr+lastSeg.vmSize, pageSize)
	l.segments = append(l.segments, segmentSpec{
		name: "__LINKEDIT", vmAddr: l.linkeditVMAddr,
		fileOff: l.linkeditFileOff,
		maxProt: vmProtRead, initProt: vmProtRead,
	})
}

// sectionOrdinalOf returns the 1-based n_sect ordinal, counted over every
// emitted section record in load-command order, of the first section whose
// address range contains addr; an address inside no section gets 1.
func (l *imageLayout) sectionOrdinalOf(addr uint64) uint8 {
	ord := uint8(0)
	for _, seg := range l.segments {
		for _, s := range seg.sections {
			ord++
			if addr >= s.addr && addr < s.addr+s.size {
				return ord
			}
			// Zero-size sections and end-of-section symbols still need a
			// home: an address exactly at the end of the last section of a
			// segment falls through to the next candidate.
		}
	}
	return 1
}

// definedSymbol is one N_SECT|N_EXT symtab entry.
type definedSymbol struct {
	name string
	addr uint64
}

// collectDefined gathers every globally defined symbol from the directory,
// ordered by final address then name so the symtab is deterministic.
func (l *imageLayout) collectDefined() []definedSymbol {
	var defs []definedSymbol
	for name, def := range l.c.Directory {
		sym := &l.c.Objects[def.ObjectIndex].Symbols[def.SymbolIndex]
		defs = append(defs, definedSymbol{name: name, addr: sym.FinalAddress})
	}
	sort.Slice(defs, func(i, j int) bool {
		if defs[i].addr != defs[j].addr {
			return defs[i].addr < defs[j].addr
		}
		return defs[i].name < defs[j].name
	})
	return defs
}

// linkeditBlob is the assembled __LINKEDIT payload plus the offsets the
// load commands reference into it (all relative to linkeditFileOff, each
// 8-aligned).
type linkeditBlob struct {
	data []byte

	bindOff, bindSize     uint32
	exportOff, exportSize uint32
	symOff, nsyms         uint32
	indirectOff, nindirect uint32
	strOff, strSize       uint32

	nextdefsym, nundefsym uint32
}

func (l *imageLayout) buildLinkedit(entryAddr uint64) *linkeditBlob {
	blob := &linkeditBlob{}
	var buf bytes.Buffer

	// Bind opcodes first.
	if l.needsDyldInfo() {
		gotSeg := uint8(0)
		if l.dataConstIdx >= 0 {
			gotSeg = uint8(l.dataConstIdx)
		}
		tlvSeg := uint8(0)
		var tlvOffsets []uint64
		if l.tlv != nil && l.dataIdx >= 0 {
			tlvSeg = uint8(l.dataIdx)
			dataSegVM := l.segments[l.dataIdx].vmAddr
			for off := uint64(0); off+24 <= l.tlv.Size; off += 24 {
				tlvOffsets = append(tlvOffsets, l.tlv.VMAddr+off-dataSegVM)
			}
		}
		l.dyn.BuildBindOpcodes(gotSeg, 0, tlvSeg, tlvOffsets)
		blob.bindOff = 0
		blob.bindSize = uint32(len(l.dyn.BindOpcodes))
		buf.Write(l.dyn.BindOpcodes)
		pad8(&buf)
	}

	// Export trie over the defined globals.
	defs := l.collectDefined()
	exports := buildExportTrie(defs, l.c.BaseAddr)
	if len(exports) > 0 {
		blob.exportOff = uint32(buf.Len())
		blob.exportSize = uint32(len(exports))
		buf.Write(exports)
		pad8(&buf)
	}

	// Symbol table: defined globals first, then the undefined externals in
	// indirect-slot order (stubs, then GOT-only externals).
	var strtab bytes.Buffer
	strtab.WriteByte(0)
	nameOff := func(s string) uint32 {
		o := uint32(strtab.Len())
		strtab.WriteString(s)
		strtab.WriteByte(0)
		return o
	}

	var symtab bytes.Buffer
	writeNlist := func(strx uint32, typ, sect uint8, desc uint16, value uint64) {
		binary.Write(&symtab, binary.LittleEndian, strx)
		symtab.WriteByte(typ)
		symtab.WriteByte(sect)
		binary.Write(&symtab, binary.LittleEndian, desc)
		binary.Write(&symtab, binary.LittleEndian, value)
	}

	for _, d := range defs {
		writeNlist(nameOff(machoName(d.name)), nSect|nExt, l.sectionOrdinalOf(d.addr), 0, d.addr)
	}
	blob.nextdefsym = uint32(len(defs))

	var indirect []uint32
	if l.dyn != nil {
		undefBase := uint32(len(defs))
		undefIdx := map[string]uint32{}
		addUndef := func(name string) uint32 {
			if idx, ok := undefIdx[name]; ok {
				return idx
			}
			idx := undefBase + blob.nundefsym
			undefIdx[name] = idx
			ord := l.dyn.LibraryOrdinal(name)
			writeNlist(nameOff(machoName(name)), nUndf|nExt, 0, ord<<8, 0)
			blob.nundefsym++
			return idx
		}
		// __stubs indirect entries, then __got indirect entries; a stub's
		// underlying GOT slot repeats the same symtab index (2N+M total).
		for _, ref := range l.dyn.Stubs {
			indirect = append(indirect, addUndef(ref.Name))
		}
		for _, ref := range l.dyn.Stubs {
			indirect = append(indirect, undefIdx[ref.Name])
		}
		for _, ref := range l.dyn.GOTEntries {
			indirect = append(indirect, addUndef(ref.Name))
		}
	}

	blob.symOff = uint32(buf.Len())
	blob.nsyms = blob.nextdefsym + blob.nundefsym
	buf.Write(symtab.Bytes())
	pad8(&buf)

	blob.indirectOff = uint32(buf.Len())
	blob.nindirect = uint32(len(indirect))
	for _, idx := range indirect {
		binary.Write(&buf, binary.LittleEndian, idx)
	}
	pad8(&buf)

	blob.strOff = uint32(buf.Len())
	blob.strSize = uint32(strtab.Len())
	buf.Write(strtab.Bytes())

	blob.data = buf.Bytes()
	return blob
}

// emit serializes the header, load commands, segment payloads, and the
// linkedit blob into the final image bytes.
func (l *imageLayout) emit(blob *linkeditBlob, entryAddr uint64) []byte {
	// Patch __LINKEDIT's size now that the blob exists.
	le := &l.segments[len(l.segments)-1]
	le.fileSize = uint64(len(blob.data))
	le.vmSize = alignUp(uint64(len(blob.data)), pageSize)

	var cmds bytes.Buffer
	ncmds := uint32(0)

	for _, seg := range l.segments {
		l.writeSegment(&cmds, seg)
		ncmds++
	}

	if l.needsDyldInfo() {
		lo := uint32(l.linkeditFileOff)
		writeWords(&cmds, lcDyldInfoOnly, dyldInfoCmdSize,
			0, 0, // rebase
			lo+blob.bindOff, blob.bindSize,
			0, 0, // weak bind
			0, 0, // lazy bind
			lo+blob.exportOff, blob.exportSize)
		ncmds++
	}

	// LC_LOAD_DYLINKER
	dlSize := dylinkerCmdSize(dyldPath)
	writeWords(&cmds, lcLoadDylinker, dlSize, 12)
	cmds.WriteString(dyldPath)
	cmds.WriteByte(0)
	padTo(&cmds, alignUp(uint64(cmds.Len()), 8))
	ncmds++

	for _, lib := range l.libs {
		size := dylibCmdSize(lib)
		writeWords(&cmds, lcLoadDylib, size, 24, 0, 0x10000, 0x10000)
		cmds.WriteString(lib)
		cmds.WriteByte(0)
		padTo(&cmds, alignUp(uint64(cmds.Len()), 8))
		ncmds++
	}

	lo := uint32(l.linkeditFileOff)
	writeWords(&cmds, lcSymtab, symtabCmdSize,
		lo+blob.symOff, blob.nsyms, lo+blob.strOff, blob.strSize)
	ncmds++

	writeWords(&cmds, lcDysymtab, dysymtabCmdSize,
		0, 0, // ilocalsym, nlocalsym
		0, blob.nextdefsym, // iextdefsym, nextdefsym
		blob.nextdefsym, blob.nundefsym, // iundefsym, nundefsym
		0, 0, 0, 0, 0, 0, // toc, modtab, extrefsym
		lo+blob.indirectOff, blob.nindirect,
		0, 0, // extreloff, nextrel
		0, 0) // locreloff, nlocrel
	ncmds++

	var textSize uint64
	if l.text != nil {
		textSize = l.text.Size
	}
	uuid := deterministicUUID(entryAddr, textSize)
	binary.Write(&cmds, binary.LittleEndian, uint32(lcUUID))
	binary.Write(&cmds, binary.LittleEndian, uint32(uuidCmdSize))
	cmds.Write(uuid[:])
	ncmds++

	writeWords(&cmds, lcBuildVersion, buildVerCmdSize,
		1,          // PLATFORM_MACOS
		0x000b0000, // minos 11.0
		0x000b0000, // sdk 11.0
		0)
	ncmds++

	binary.Write(&cmds, binary.LittleEndian, uint32(lcMain))
	binary.Write(&cmds, binary.LittleEndian, uint32(entryPointCmdSize))
	binary.Write(&cmds, binary.LittleEndian, entryAddr-l.c.BaseAddr)
	binary.Write(&cmds, binary.LittleEndian, uint64(0))
	ncmds++

	flags := uint32(mhDyldLink | mhTwoLevel | mhPIE)
	if l.tlv != nil || l.tdata != nil || l.tbss != nil {
		flags |= mhHasTLVDescs
	}

	cpuType := uint32(cpuTypeX86_64)
	cpuSub := uint32(cpuSubtypeX64All)
	if l.machine == arch.MachineARM64 {
		cpuType = cpuTypeARM64
		cpuSub = cpuSubtypeARM64
	}

	var out bytes.Buffer
	writeWords(&out, machMagic64, cpuType, cpuSub, mhExecute, ncmds, uint32(cmds.Len()), flags, 0)
	out.Write(cmds.Bytes())

	// Segment payloads at fileoff = vmaddr - base.
	writeMerged := func(m *linker.MergedSection) {
		if m == nil || m.Data == nil {
			return
		}
		padTo(&out, l.fileOffOf(m.VMAddr))
		out.Write(m.Data)
	}
	writeMerged(l.text)
	writeMerged(l.rodata)
	if hasStubs(l.dyn) {
		padTo(&out, l.fileOffOf(l.dyn.StubsAddr))
		out.Write(l.dyn.EmitMachOStubs())
	}
	if hasGOT(l.dyn) {
		padTo(&out, l.fileOffOf(l.dyn.GOTAddr))
		out.Write(make([]byte, l.dyn.GOTSlotCount()*8))
	}
	writeMerged(l.data)
	writeMerged(l.tlv)
	writeMerged(l.tdata)

	padTo(&out, l.linkeditFileOff)
	out.Write(blob.data)

	return out.Bytes()
}

func (l *imageLayout) writeSegment(buf *bytes.Buffer, seg segmentSpec) {
	cmdSize := uint32(segmentCmdSize + len(seg.sections)*sectionSize)
	binary.Write(buf, binary.LittleEndian, uint32(lcSegment64))
	binary.Write(buf, binary.LittleEndian, cmdSize)
	buf.Write(nameBytes(seg.name))
	binary.Write(buf, binary.LittleEndian, seg.vmAddr)
	binary.Write(buf, binary.LittleEndian, seg.vmSize)
	binary.Write(buf, binary.LittleEndian, seg.fileOff)
	binary.Write(buf, binary.LittleEndian, seg.fileSize)
	binary.Write(buf, binary.LittleEndian, seg.maxProt)
	binary.Write(buf, binary.LittleEndian, seg.initProt)
	binary.Write(buf, binary.LittleEndian, uint32(len(seg.sections)))
	binary.Write(buf, binary.LittleEndian, seg.flags)

	for _, s := range seg.sections {
		buf.Write(nameBytes(s.name))
		buf.Write(nameBytes(s.seg))
		binary.Write(buf, binary.LittleEndian, s.addr)
		binary.Write(buf, binary.LittleEndian, s.size)
		binary.Write(buf, binary.LittleEndian, uint32(s.fileOff))
		binary.Write(buf, binary.LittleEndian, uint32(log2(s.align)))
		binary.Write(buf, binary.LittleEndian, uint32(0)) // reloff
		binary.Write(buf, binary.LittleEndian, uint32(0)) // nreloc
		binary.Write(buf, binary.LittleEndian, s.flags)
		binary.Write(buf, binary.LittleEndian, s.reserved1)
		binary.Write(buf, binary.LittleEndian, s.reserved2)
		binary.Write(buf, binary.LittleEndian, uint32(0)) // reserved3
	}
}

func machoName(name string) string {
	if len(name) > 0 && name[0] == '_' {
		return name
	}
	return "_" + name
}

// buildExportTrie serializes the dyld export trie for the defined global
// symbols. The trie here is the degenerate one-node-per-symbol shape: a
// root with one edge per exported name, each leading to a terminal node
// with a regular-kind uleb offset from the image base.
func buildExportTrie(defs []definedSymbol, base uint64) []byte {
	if len(defs) == 0 {
		return nil
	}

	// Terminal payloads first, so edge targets can be computed.
	type leaf struct {
		name    string
		payload []byte
	}
	leaves := make([]leaf, 0, len(defs))
	for _, d := range defs {
		var p []byte
		p = appendULEBBytes(p, 0) // flags: EXPORT_SYMBOL_FLAGS_KIND_REGULAR
		p = appendULEBBytes(p, d.addr-base)
		node := append([]byte{byte(len(p))}, p...)
		node = append(node, 0) // no children
		leaves = append(leaves, leaf{name: machoName(d.name), payload: node})
	}

	// Root node: no terminal info, one child edge per symbol. Edge offsets
	// depend on the root's own size, which depends on the offsets' uleb
	// widths; iterate until stable.
	offsets := make([]uint64, len(leaves))
	rootLen := uint64(0)
	for iter := 0; iter < 4; iter++ {
		var root []byte
		root = append(root, 0) // terminal size 0
		root = append(root, byte(len(leaves)))
		for i, lf := range leaves {
			root = append(root, []byte(lf.name)...)
			root = append(root, 0)
			root = appendULEBBytes(root, offsets[i])
		}
		rootLen = uint64(len(root))
		off := rootLen
		stable := true
		for i, lf := range leaves {
			if offsets[i] != off {
				offsets[i] = off
				stable = false
			}
			off += uint64(len(lf.payload))
		}
		if stable {
			break
		}
	}

	var out []byte
	out = append(out, 0)
	out = append(out, byte(len(leaves)))
	for i, lf := range leaves {
		out = append(out, []byte(lf.name)...)
		out = append(out, 0)
		out = appendULEBBytes(out, offsets[i])
	}
	for len(out) < int(rootLen) {
		out = append(out, 0)
	}
	for _, lf := range leaves {
		out = append(out, lf.payload...)
	}
	return out
}

func appendULEBBytes(buf []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf = append(buf, b|0x80)
		} else {
			return append(buf, b)
		}
	}
}

// deterministicUUID derives LC_UUID from the entry point and TEXT size,
// so identical layouts always produce byte-identical images.
func deterministicUUID(entryAddr, textSize uint64) [16]byte {
	var seed [16]byte
	binary.LittleEndian.PutUint64(seed[0:], entryAddr)
	binary.LittleEndian.PutUint64(seed[8:], textSize)
	sum := sha256.Sum256(seed[:])
	var u [16]byte
	copy(u[:], sum[:16])
	u[6] = (u[6] & 0x0f) | 0x40
	u[8] = (u[8] & 0x3f) | 0x80
	return u
}

func nameBytes(s string) []byte {
	b := make([]byte, 16)
	copy(b, s)
	return b
}

func writeWords(buf *bytes.Buffer, words ...uint32) {
	for _, w := range words {
		binary.Write(buf, binary.LittleEndian, w)
	}
}

func pad8(buf *bytes.Buffer) {
	for buf.Len()%8 != 0 {
		buf.WriteByte(0)
	}
}

func padTo(buf *bytes.Buffer, off uint64) {
	for uint64(buf.Len()) < off {
		buf.WriteByte(0)
	}
}

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

func alignUp32(v, align uint32) uint32 {
	return uint32(alignUp(uint64(v), uint64(align)))
}

func log2(v uint64) int {
	n := 0
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}
