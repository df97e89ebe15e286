package linker

import (
	"encoding/binary"

	"github.com/tinylink/tinylink/internal/arch"
)

// EmitMachOStubs materializes the __stubs section payload, one 12-byte
// trampoline per external call target:
//
//	ADRP x16, <page of GOT slot>
//	LDR  x16, [x16, #<slot offset>]
//	BR   x16
//
// Addresses must already be fixed by ReserveMachODynlinkSpace.
func (d *MachODynlink) EmitMachOStubs() []byte {
	buf := make([]byte, 0, len(d.Stubs)*machoStubSize)
	for i := range d.Stubs {
		stubAddr := d.StubsAddr + uint64(i*machoStubSize)
		gotAddr := d.GOTAddr + uint64(i*8)

		deltaPages := int64((gotAddr&^0xfff)-(stubAddr&^0xfff)) >> 12
		imm := uint32(deltaPages) & 0x1FFFFF
		adrp := uint32(0x90000010) | ((imm & 0x3) << 29) | (((imm >> 2) & 0x7FFFF) << 5)

		ldr := uint32(0xf9400210) | (uint32((gotAddr&0xfff)>>3) << 10)

		br := uint32(0xD61F0000) | (16 << 5)

		buf = binary.LittleEndian.AppendUint32(buf, adrp)
		buf = binary.LittleEndian.AppendUint32(buf, ldr)
		buf = binary.LittleEndian.AppendUint32(buf, br)
	}
	return buf
}

// EmitELFPLT materializes the .plt payload for the ELF backend, one
// 16-byte entry per external symbol. The ARM64 sequence mirrors the
// Mach-O stub shape with the conventional x16/x17 scratch pair; x86-64
// uses a GOT-indirect JMP padded to the entry width. Binds are eager
// (DT_BIND_NOW), so no resolver header entry is emitted.
func (d *ELFDynlink) EmitELFPLT(machine arch.Machine) []byte {
	if machine == arch.MachineARM64 {
		return d.emitPLTARM64()
	}
	return d.emitPLTX64()
}

func (d *ELFDynlink) emitPLTARM64() []byte {
	buf := make([]byte, 0, len(d.Entries)*elfPLTEntrySizeARM64)
	for i := range d.Entries {
		pltAddr := d.PLTAddr + uint64(i*elfPLTEntrySizeARM64)
		gotAddr := d.GOTAddr + uint64(i*8)

		pageOff := int64((gotAddr&^0xfff)-(pltAddr&^0xfff)) >> 12
		imm := uint32(pageOff) & 0x1FFFFF
		adrp := uint32(0x90000010) | ((imm & 0x3) << 29) | (((imm >> 2) & 0x7FFFF) << 5)

		lo12 := gotAddr & 0xfff
		ldr := uint32(0xf9400211) | (uint32(lo12>>3) << 10)
		add := uint32(0x91000210) | (uint32(lo12) << 10)
		br := uint32(0xd61f0220)

		buf = binary.LittleEndian.AppendUint32(buf, adrp)
		buf = binary.LittleEndian.AppendUint32(buf, ldr)
		buf = binary.LittleEndian.AppendUint32(buf, add)
		buf = binary.LittleEndian.AppendUint32(buf, br)
	}
	return buf
}

func (d *ELFDynlink) emitPLTX64() []byte {
	buf := make([]byte, 0, len(d.Entries)*elfPLTEntrySizeX64)
	for i := range d.Entries {
		pltAddr := d.PLTAddr + uint64(i*elfPLTEntrySizeX64)
		gotAddr := d.GOTAddr + uint64(i*8)

		// jmp *disp32(%rip); the displacement is relative to the end of
		// the 6-byte instruction.
		rel := int32(int64(gotAddr) - int64(pltAddr+6))
		buf = append(buf, 0xff, 0x25)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(rel))
		// pad to the conventional 16-byte entry width
		for len(buf)%elfPLTEntrySizeX64 != 0 {
			buf = append(buf, 0x90)
		}
	}
	return buf
}

// EmitELFGOT materializes the .got payload: one zeroed 8-byte slot per
// external, filled by the dynamic loader at startup (R_*_JUMP_SLOT with
// eager binding).
func (d *ELFDynlink) EmitELFGOT() []byte {
	return make([]byte, len(d.Entries)*8)
}
