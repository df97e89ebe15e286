// Package elfwriter serializes a finalized, patched linker.Context into
// an ELF64 executable image for the x86-64 and ARM64 backends: ET_EXEC or
// ET_DYN (PIE), page-aligned LOAD segments, and — when external symbols
// are referenced — the PT_INTERP/PT_DYNAMIC/.rela.plt apparatus the
// dynamic loader needs to fill the GOT at startup.
package elfwriter

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/tinylink/tinylink/internal/arch"
	"github.com/tinylink/tinylink/internal/linker"
)

const (
	elfHeaderSize  = 64
	progHeaderSize = 56
	sectHeaderSize = 64
	pageSize       = linker.PageSizeELF

	etExec = 2
	etDyn  = 3

	emX86_64  = 62
	emAARCH64 = 183

	ptLoad    = 1
	ptDynamic = 2
	ptInterp  = 3
	ptPhdr    = 6
	ptTLS     = 7

	pfX = 1
	pfW = 2
	pfR = 4

	shtProgbits = 1
	shtSymtab   = 2
	shtStrtab   = 3
	shtRela     = 4
	shtHash     = 5
	shtDynamic  = 6
	shtNobits   = 8
	shtDynsym   = 11

	shfWrite     = 0x1
	shfAlloc     = 0x2
	shfExecinstr = 0x4
	shfTLS       = 0x400

	symEntSize  = 24
	relaEntSize = 24
	dynEntSize  = 16

	stbGlobal = 1
	sttFunc   = 2
	sttObject = 1

	dtNull     = 0
	dtNeeded   = 1
	dtHash     = 4
	dtStrtab   = 5
	dtSymtab   = 6
	dtStrsz    = 10
	dtSyment   = 11
	dtRela     = 7
	dtPltrelsz = 2
	dtPltgot   = 3
	dtJmprel   = 23
	dtPltrel   = 20
	dtBindNow  = 24

	rX64JumpSlot   = 7
	rAarch64JumpSlot = 1026
)

// ProgramHeaderCount returns how many program headers the image will carry
// for the given shape, so the pipeline can size TextFileOffset before
// Layout runs.
func ProgramHeaderCount(sectionTypes map[linker.SectionType]bool, hasDynlink, pie bool) int {
	n := 1 // RX LOAD
	if pie {
		n++ // PT_PHDR
	}
	if hasDynlink {
		n += 3 // PT_INTERP, metadata LOAD, PT_DYNAMIC
	}
	if hasDynlink || sectionTypes[linker.SectionData] || sectionTypes[linker.SectionTLV] ||
		sectionTypes[linker.SectionTData] || sectionTypes[linker.SectionTBSS] ||
		sectionTypes[linker.SectionBSS] {
		n++ // RW LOAD (the GOT alone is enough to need one)
	}
	if sectionTypes[linker.SectionTData] || sectionTypes[linker.SectionTBSS] {
		n++ // PT_TLS
	}
	return n
}

// TextFileOffset is where the first TEXT byte lands: directly after the
// ELF header and program-header table, 16-aligned.
func TextFileOffset(sectionTypes map[linker.SectionType]bool, hasDynlink, pie bool) uint64 {
	n := ProgramHeaderCount(sectionTypes, hasDynlink, pie)
	return alignUp(elfHeaderSize+uint64(n)*progHeaderSize, 16)
}

func interpFor(machine arch.Machine) string {
	if machine == arch.MachineARM64 {
		return "/lib/ld-linux-aarch64.so.1"
	}
	return "/lib64/ld-linux-x86-64.so.2"
}

// dynMeta is the dynamic-linking metadata region: interp string, hash,
// dynsym, dynstr, rela.plt, and the _DYNAMIC array, laid out contiguously
// in their own read-only LOAD segment after the data segment.
type dynMeta struct {
	addr, fileOff uint64

	interpOff, interpLen     uint64
	hashOff, hashLen         uint64
	dynsymOff, dynsymLen     uint64
	dynstrOff, dynstrLen     uint64
	relaOff, relaLen         uint64
	dynamicOff, dynamicLen   uint64

	data []byte
}

func buildDynMeta(dyn *linker.ELFDynlink, machine arch.Machine, addr, fileOff uint64) *dynMeta {
	m := &dynMeta{addr: addr, fileOff: fileOff}
	var buf bytes.Buffer

	interp := interpFor(machine) + "\x00"
	m.interpOff = 0
	m.interpLen = uint64(len(interp))
	buf.WriteString(interp)
	pad(&buf, 8)

	// .dynstr
	var dynstr bytes.Buffer
	dynstr.WriteByte(0)
	nameOffs := make([]uint32, len(dyn.Entries))
	for i, e := range dyn.Entries {
		nameOffs[i] = uint32(dynstr.Len())
		dynstr.WriteString(elfSymbolName(e.Name))
		dynstr.WriteByte(0)
	}
	libcOff := uint32(dynstr.Len())
	dynstr.WriteString("libc.so.6")
	dynstr.WriteByte(0)

	nsyms := len(dyn.Entries) + 1

	// .hash: the trivial single-bucket table; import resolution reads the
	// needed libraries' tables, not this one.
	m.hashOff = uint64(buf.Len())
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	binary.Write(&buf, binary.LittleEndian, uint32(nsyms))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	for i := 0; i < nsyms; i++ {
		binary.Write(&buf, binary.LittleEndian, uint32(0))
	}
	m.hashLen = uint64(buf.Len()) - m.hashOff
	pad(&buf, 8)

	// .dynsym: null entry, then one undefined func per external.
	m.dynsymOff = uint64(buf.Len())
	buf.Write(make([]byte, symEntSize))
	for i := range dyn.Entries {
		binary.Write(&buf, binary.LittleEndian, nameOffs[i])
		buf.WriteByte(stbGlobal<<4 | sttFunc)
		buf.WriteByte(0)                                     // st_other
		binary.Write(&buf, binary.LittleEndian, uint16(0))   // SHN_UNDEF
		binary.Write(&buf, binary.LittleEndian, uint64(0))   // st_value
		binary.Write(&buf, binary.LittleEndian, uint64(0))   // st_size
	}
	m.dynsymLen = uint64(buf.Len()) - m.dynsymOff

	m.dynstrOff = uint64(buf.Len())
	m.dynstrLen = uint64(dynstr.Len())
	buf.Write(dynstr.Bytes())
	pad(&buf, 8)

	// .rela.plt: one JUMP_SLOT per GOT slot, bound eagerly.
	jumpSlot := uint64(rX64JumpSlot)
	if machine == arch.MachineARM64 {
		jumpSlot = rAarch64JumpSlot
	}
	m.relaOff = uint64(buf.Len())
	for i := range dyn.Entries {
		binary.Write(&buf, binary.LittleEndian, dyn.GOTAddr+uint64(i*8))
		binary.Write(&buf, binary.LittleEndian, uint64(i+1)<<32|jumpSlot)
		binary.Write(&buf, binary.LittleEndian, uint64(0))
	}
	m.relaLen = uint64(buf.Len()) - m.relaOff

	// _DYNAMIC
	m.dynamicOff = uint64(buf.Len())
	writeDyn := func(tag, val uint64) {
		binary.Write(&buf, binary.LittleEndian, tag)
		binary.Write(&buf, binary.LittleEndian, val)
	}
	writeDyn(dtNeeded, uint64(libcOff))
	writeDyn(dtHash, addr+m.hashOff)
	writeDyn(dtStrtab, addr+m.dynstrOff)
	writeDyn(dtSymtab, addr+m.dynsymOff)
	writeDyn(dtStrsz, m.dynstrLen)
	writeDyn(dtSyment, symEntSize)
	writeDyn(dtPltgot, dyn.GOTAddr)
	writeDyn(dtPltrelsz, m.relaLen)
	writeDyn(dtPltrel, dtRela)
	writeDyn(dtJmprel, addr+m.relaOff)
	writeDyn(dtBindNow, 0)
	writeDyn(dtNull, 0)
	m.dynamicLen = uint64(buf.Len()) - m.dynamicOff

	m.data = buf.Bytes()
	return m
}

// elfSymbolName strips the Mach-O-style underscore prefix when the input
// objects carried one; ELF dynamic symbols are unprefixed.
func elfSymbolName(name string) string {
	if len(name) > 1 && name[0] == '_' && name[1] != '_' {
		return name[1:]
	}
	return name
}

// Write serializes c into an ET_EXEC (or, when pie is set, ET_DYN) ELF64
// image for machine, entered at entryAddr.
func Write(c *linker.Context, machine arch.Machine, entryAddr uint64, pie bool) []byte {
	text := c.MergedOf(linker.SectionText)
	rodata := c.MergedOf(linker.SectionRodata)
	data := c.MergedOf(linker.SectionData)
	tlv := c.MergedOf(linker.SectionTLV)
	tdata := c.MergedOf(linker.SectionTData)
	tbss := c.MergedOf(linker.SectionTBSS)
	bss := c.MergedOf(linker.SectionBSS)

	dyn := c.ELFDyn
	hasDyn := dyn != nil && len(dyn.Entries) > 0
	base := c.BaseAddr

	fileOffOf := func(vmaddr uint64) uint64 { return vmaddr - base }

	// Extent of the executable region: headers, text, rodata, plt.
	codeEnd := base + c.TextFileOffset
	for _, m := range []*linker.MergedSection{text, rodata} {
		if m != nil {
			codeEnd = m.VMAddr + m.Size
		}
	}
	var pltBytes []byte
	if hasDyn {
		pltBytes = dyn.EmitELFPLT(machine)
		codeEnd = dyn.PLTAddr + uint64(len(pltBytes))
	}

	// Extent of the writable region: got, data, tlv, tdata (file-backed),
	// then tbss, bss (zero-fill).
	var rwStart, rwFileEnd, rwMemEnd uint64
	noteRW := func(addr, size uint64, fileBacked bool) {
		if size == 0 && addr == 0 {
			return
		}
		if rwStart == 0 || addr < rwStart {
			rwStart = addr
		}
		end := addr + size
		if end > rwMemEnd {
			rwMemEnd = end
		}
		if fileBacked && end > rwFileEnd {
			rwFileEnd = end
		}
	}
	if hasDyn {
		noteRW(dyn.GOTAddr, uint64(len(dyn.Entries)*8), true)
	}
	for _, m := range []*linker.MergedSection{data, tlv, tdata} {
		if m != nil {
			noteRW(m.VMAddr, m.Size, true)
		}
	}
	for _, m := range []*linker.MergedSection{tbss, bss} {
		if m != nil {
			noteRW(m.VMAddr, m.Size, false)
		}
	}
	hasRW := rwStart != 0
	if hasRW && rwFileEnd < rwStart {
		rwFileEnd = rwStart
	}

	// Dynamic metadata gets its own read-only LOAD after everything mapped.
	var meta *dynMeta
	if hasDyn {
		metaAddr := alignUp(maxU64(rwMemEnd, codeEnd), pageSize)
		meta = buildDynMeta(dyn, machine, metaAddr, fileOffOf(metaAddr))
	}

	etype := uint16(etExec)
	if pie {
		etype = etDyn
	}
	machineID := uint16(emX86_64)
	if machine == arch.MachineARM64 {
		machineID = emAARCH64
	}

	var phdrs []progHeader64
	if pie {
		phdrs = append(phdrs, progHeader64{
			Type: ptPhdr, Flags: pfR, Offset: elfHeaderSize,
			VAddr: base + elfHeaderSize, PAddr: base + elfHeaderSize,
			Align: 8,
		})
	}
	if hasDyn {
		phdrs = append(phdrs, progHeader64{
			Type: ptInterp, Flags: pfR,
			Offset: meta.fileOff + meta.interpOff,
			VAddr:  meta.addr + meta.interpOff, PAddr: meta.addr + meta.interpOff,
			Filesz: meta.interpLen, Memsz: meta.interpLen, Align: 1,
		})
	}
	phdrs = append(phdrs, progHeader64{
		Type: ptLoad, Flags: pfR | pfX, Offset: 0,
		VAddr: base, PAddr: base,
		Filesz: codeEnd - base, Memsz: codeEnd - base, Align: pageSize,
	})
	if hasRW {
		phdrs = append(phdrs, progHeader64{
			Type: ptLoad, Flags: pfR | pfW, Offset: fileOffOf(rwStart),
			VAddr: rwStart, PAddr: rwStart,
			Filesz: rwFileEnd - rwStart, Memsz: rwMemEnd - rwStart, Align: pageSize,
		})
	}
	if meta != nil {
		phdrs = append(phdrs, progHeader64{
			Type: ptLoad, Flags: pfR, Offset: meta.fileOff,
			VAddr: meta.addr, PAddr: meta.addr,
			Filesz: uint64(len(meta.data)), Memsz: uint64(len(meta.data)), Align: pageSize,
		})
		phdrs = append(phdrs, progHeader64{
			Type: ptDynamic, Flags: pfR, Offset: meta.fileOff + meta.dynamicOff,
			VAddr: meta.addr + meta.dynamicOff, PAddr: meta.addr + meta.dynamicOff,
			Filesz: meta.dynamicLen, Memsz: meta.dynamicLen, Align: 8,
		})
	}
	if tdata != nil || tbss != nil {
		var tlsStart, tlsFileEnd, tlsMemEnd, tlsAlign uint64 = 0, 0, 0, 8
		if tdata != nil {
			tlsStart = tdata.VMAddr
			tlsFileEnd = tdata.VMAddr + tdata.Size
			tlsMemEnd = tlsFileEnd
			tlsAlign = tdata.Align
		}
		if tbss != nil {
			if tlsStart == 0 {
				tlsStart = tbss.VMAddr
				tlsFileEnd = tbss.VMAddr
			}
			tlsMemEnd = tbss.VMAddr + tbss.Size
			if tbss.Align > tlsAlign {
				tlsAlign = tbss.Align
			}
		}
		phdrs = append(phdrs, progHeader64{
			Type: ptTLS, Flags: pfR, Offset: fileOffOf(tlsStart),
			VAddr: tlsStart, PAddr: tlsStart,
			Filesz: tlsFileEnd - tlsStart, Memsz: tlsMemEnd - tlsStart, Align: tlsAlign,
		})
	}

	// Section headers and symtab go after the last byte of payload.
	shdrs, symtabData, strtabData, shstrtabData := buildSections(c, meta, dyn, pltBytes,
		text, rodata, data, tlv, tdata, tbss, bss, fileOffOf)

	var out bytes.Buffer
	hdr := elfHeader64{
		Type: etype, Machine: machineID, Version: 1,
		Entry: entryAddr, Phoff: elfHeaderSize,
		Ehsize: elfHeaderSize, Phentsize: progHeaderSize, Phnum: uint16(len(phdrs)),
		Shentsize: sectHeaderSize,
	}
	copy(hdr.Ident[:], []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})

	// Payload emission; section-header table placement is known only after
	// all payload bytes are laid down, so write payload first into a body
	// buffer offset-tracked against the final file.
	var body bytes.Buffer
	bodyPad := func(off uint64) {
		for uint64(body.Len())+elfHeaderSize+uint64(len(phdrs))*progHeaderSize < off {
			body.WriteByte(0)
		}
	}
	writeMerged := func(m *linker.MergedSection) {
		if m == nil || m.Data == nil {
			return
		}
		bodyPad(fileOffOf(m.VMAddr))
		body.Write(m.Data)
	}
	bodyPad(c.TextFileOffset)
	writeMerged(text)
	writeMerged(rodata)
	if hasDyn {
		bodyPad(fileOffOf(dyn.PLTAddr))
		body.Write(pltBytes)
		bodyPad(fileOffOf(dyn.GOTAddr))
		body.Write(dyn.EmitELFGOT())
	}
	writeMerged(data)
	writeMerged(tlv)
	writeMerged(tdata)
	if meta != nil {
		bodyPad(meta.fileOff)
		body.Write(meta.data)
	}

	headersLen := uint64(elfHeaderSize) + uint64(len(phdrs))*progHeaderSize
	symtabOff := alignUp(headersLen+uint64(body.Len()), 8)
	strtabOff := symtabOff + uint64(len(symtabData))
	shstrtabOff := strtabOff + uint64(len(strtabData))
	shoff := alignUp(shstrtabOff+uint64(len(shstrtabData)), 8)

	// Fix up the symtab/strtab/shstrtab section-header offsets now that
	// their file positions are known.
	for i := range shdrs {
		switch shdrs[i].tag {
		case tagSymtab:
			shdrs[i].hdr.Offset = symtabOff
		case tagStrtab:
			shdrs[i].hdr.Offset = strtabOff
		case tagShstrtab:
			shdrs[i].hdr.Offset = shstrtabOff
		}
	}

	hdr.Shoff = shoff
	hdr.Shnum = uint16(len(shdrs))
	hdr.Shstrndx = uint16(len(shdrs) - 1)

	binary.Write(&out, binary.LittleEndian, &hdr)
	for _, p := range phdrs {
		binary.Write(&out, binary.LittleEndian, &p)
	}
	out.Write(body.Bytes())
	for uint64(out.Len()) < symtabOff {
		out.WriteByte(0)
	}
	out.Write(symtabData)
	out.Write(strtabData)
	out.Write(shstrtabData)
	for uint64(out.Len()) < shoff {
		out.WriteByte(0)
	}
	for _, s := range shdrs {
		binary.Write(&out, binary.LittleEndian, &s.hdr)
	}

	return out.Bytes()
}

type elfHeader64 struct {
	Ident             [16]byte
	Type, Machine     uint16
	Version           uint32
	Entry             uint64
	Phoff, Shoff      uint64
	Flags             uint32
	Ehsize, Phentsize uint16
	Phnum             uint16
	Shentsize, Shnum  uint16
	Shstrndx          uint16
}

type progHeader64 struct {
	Type, Flags          uint32
	Offset, VAddr, PAddr uint64
	Filesz, Memsz, Align uint64
}

type sectHeader64 struct {
	Name, Type           uint32
	Flags                uint64
	Addr, Offset, Size   uint64
	Link, Info           uint32
	Addralign, Entsize   uint64
}

const (
	tagNone = iota
	tagSymtab
	tagStrtab
	tagShstrtab
)

type taggedShdr struct {
	tag int
	hdr sectHeader64
}

// buildSections assembles the section-header table plus the .symtab,
// .strtab, and .shstrtab payloads. Offsets for the three trailing tables
// are filled in by the caller once payload placement is final.
func buildSections(c *linker.Context, meta *dynMeta, dyn *linker.ELFDynlink, pltBytes []byte,
	text, rodata, data, tlv, tdata, tbss, bss *linker.MergedSection,
	fileOffOf func(uint64) uint64) ([]taggedShdr, []byte, []byte, []byte) {

	var shstr bytes.Buffer
	shstr.WriteByte(0)
	shName := func(s string) uint32 {
		o := uint32(shstr.Len())
		shstr.WriteString(s)
		shstr.WriteByte(0)
		return o
	}

	shdrs := []taggedShdr{{hdr: sectHeader64{}}} // SHN_UNDEF

	type placed struct {
		idx  int
		lo, hi uint64
	}
	var placedSections []placed
	addMerged := func(name string, m *linker.MergedSection, typ uint32, flags uint64) {
		if m == nil {
			return
		}
		h := sectHeader64{
			Name: shName(name), Type: typ, Flags: flags,
			Addr: m.VMAddr, Size: m.Size, Addralign: m.Align,
		}
		if typ != shtNobits {
			h.Offset = fileOffOf(m.VMAddr)
		}
		placedSections = append(placedSections, placed{idx: len(shdrs), lo: m.VMAddr, hi: m.VMAddr + m.Size})
		shdrs = append(shdrs, taggedShdr{hdr: h})
	}

	addMerged(".text", text, shtProgbits, shfAlloc|shfExecinstr)
	addMerged(".rodata", rodata, shtProgbits, shfAlloc)
	hasDyn := dyn != nil && len(dyn.Entries) > 0
	if hasDyn {
		shdrs = append(shdrs, taggedShdr{hdr: sectHeader64{
			Name: shName(".plt"), Type: shtProgbits, Flags: shfAlloc | shfExecinstr,
			Addr: dyn.PLTAddr, Offset: fileOffOf(dyn.PLTAddr), Size: uint64(len(pltBytes)),
			Addralign: 16,
		}})
		shdrs = append(shdrs, taggedShdr{hdr: sectHeader64{
			Name: shName(".got"), Type: shtProgbits, Flags: shfAlloc | shfWrite,
			Addr: dyn.GOTAddr, Offset: fileOffOf(dyn.GOTAddr), Size: uint64(len(dyn.Entries) * 8),
			Addralign: 8, Entsize: 8,
		}})
	}
	addMerged(".data", data, shtProgbits, shfAlloc|shfWrite)
	addMerged(".tdata", tdata, shtProgbits, shfAlloc|shfWrite|shfTLS)
	addMerged(".tbss", tbss, shtNobits, shfAlloc|shfWrite|shfTLS)
	addMerged(".bss", bss, shtNobits, shfAlloc|shfWrite)
	if tlv != nil {
		addMerged(".tlv", tlv, shtProgbits, shfAlloc|shfWrite)
	}

	if meta != nil {
		dynsymIdx := 0
		add := func(name string, typ uint32, off, size uint64, link uint32, entsize uint64) int {
			shdrs = append(shdrs, taggedShdr{hdr: sectHeader64{
				Name: shName(name), Type: typ, Flags: shfAlloc,
				Addr: meta.addr + off, Offset: meta.fileOff + off, Size: size,
				Link: link, Addralign: 8, Entsize: entsize,
			}})
			return len(shdrs) - 1
		}
		add(".interp", shtProgbits, meta.interpOff, meta.interpLen, 0, 0)
		add(".hash", shtHash, meta.hashOff, meta.hashLen, 0, 4)
		dynsymIdx = add(".dynsym", shtDynsym, meta.dynsymOff, meta.dynsymLen, 0, symEntSize)
		dynstrIdx := add(".dynstr", shtStrtab, meta.dynstrOff, meta.dynstrLen, 0, 0)
		shdrs[dynsymIdx].hdr.Link = uint32(dynstrIdx)
		add(".rela.plt", shtRela, meta.relaOff, meta.relaLen, uint32(dynsymIdx), relaEntSize)
		add(".dynamic", shtDynamic, meta.dynamicOff, meta.dynamicLen, uint32(dynstrIdx), dynEntSize)
	}

	// .symtab: null entry plus every globally defined symbol, address-sorted.
	var strtab bytes.Buffer
	strtab.WriteByte(0)
	var symtab bytes.Buffer
	symtab.Write(make([]byte, symEntSize))
	nsyms := uint32(1)

	type namedSym struct {
		name string
		sym  *linker.Symbol
	}
	var defs []namedSym
	for name, def := range c.Directory {
		defs = append(defs, namedSym{name, &c.Objects[def.ObjectIndex].Symbols[def.SymbolIndex]})
	}
	sort.Slice(defs, func(i, j int) bool {
		if defs[i].sym.FinalAddress != defs[j].sym.FinalAddress {
			return defs[i].sym.FinalAddress < defs[j].sym.FinalAddress
		}
		return defs[i].name < defs[j].name
	})
	shndxOf := func(addr uint64) uint16 {
		for _, p := range placedSections {
			if addr >= p.lo && addr < p.hi {
				return uint16(p.idx)
			}
		}
		return 0
	}
	for _, d := range defs {
		nameO := uint32(strtab.Len())
		strtab.WriteString(d.name)
		strtab.WriteByte(0)
		info := byte(stbGlobal<<4 | sttFunc)
		if d.sym.Type == linker.SymObject {
			info = stbGlobal<<4 | sttObject
		}
		binary.Write(&symtab, binary.LittleEndian, nameO)
		symtab.WriteByte(info)
		symtab.WriteByte(0)
		binary.Write(&symtab, binary.LittleEndian, shndxOf(d.sym.FinalAddress))
		binary.Write(&symtab, binary.LittleEndian, d.sym.FinalAddress)
		binary.Write(&symtab, binary.LittleEndian, d.sym.Size)
		nsyms++
	}

	symtabIdx := len(shdrs)
	shdrs = append(shdrs, taggedShdr{tag: tagSymtab, hdr: sectHeader64{
		Name: shName(".symtab"), Type: shtSymtab,
		Size: uint64(symtab.Len()), Link: uint32(symtabIdx + 1),
		Info: 1, Addralign: 8, Entsize: symEntSize,
	}})
	shdrs = append(shdrs, taggedShdr{tag: tagStrtab, hdr: sectHeader64{
		Name: shName(".strtab"), Type: shtStrtab,
		Size: uint64(strtab.Len()), Addralign: 1,
	}})
	shstrName := shName(".shstrtab")
	shdrs = append(shdrs, taggedShdr{tag: tagShstrtab, hdr: sectHeader64{
		Name: shstrName, Type: shtStrtab,
		Size: uint64(shstr.Len()), Addralign: 1,
	}})
	// shstrtab's own Size must cover its own name, written above before
	// sizing; shstr already contains it.
	shdrs[len(shdrs)-1].hdr.Size = uint64(shstr.Len())

	return shdrs, symtab.Bytes(), strtab.Bytes(), shstr.Bytes()
}

func pad(buf *bytes.Buffer, align int) {
	for buf.Len()%align != 0 {
		buf.WriteByte(0)
	}
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}
