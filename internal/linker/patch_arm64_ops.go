package linker

import "encoding/binary"

// patchARM64 dispatches an ARM64 relocation to its bit-encoder and writes
// the result into data at mergedOff. Each encoder touches only the
// immediate field of the existing instruction word; every other bit is
// preserved.
func patchARM64(data []byte, mergedOff uint64, t RelocType, tgt resolvedTarget) *LinkError {
	switch t {
	case RelocARM64_ABS64:
		return patchAbs64(data, mergedOff, tgt)
	case RelocARM64_CALL26, RelocARM64_JUMP26:
		return patchBranch26(data, mergedOff, tgt)
	case RelocARM64_ADR_PREL_PG_HI21, RelocARM64_GOT_LOAD_PAGE21, RelocARM64_TLVP_LOAD_PAGE21:
		return patchAdrpPage21(data, mergedOff, tgt)
	case RelocARM64_ADD_ABS_LO12_NC:
		return patchAddImm12(data, mergedOff, tgt)
	case RelocARM64_LDST64_ABS_LO12_NC, RelocARM64_GOT_LOAD_PAGEOFF12, RelocARM64_TLVP_LOAD_PAGEOFF12:
		return patchLdrImm12Scaled(data, mergedOff, tgt)
	default:
		return &LinkError{Kind: ErrInvalidType, Message: "relocation type not valid for ARM64: " + t.String()}
	}
}

func patchAbs64(data []byte, off uint64, tgt resolvedTarget) *LinkError {
	value := tgt.S + uint64(tgt.A)
	binary.LittleEndian.PutUint64(data[off:off+8], value)
	return nil
}

// patchBranch26 patches CALL26/JUMP26: imm26 = (value>>2) & 0x03FFFFFF into
// bits[25:0], value = S + A - P, range-checked to a signed 28-bit byte
// displacement (imm26 holds bits [27:2]).
func patchBranch26(data []byte, off uint64, tgt resolvedTarget) *LinkError {
	value := int64(tgt.S) + tgt.A - int64(tgt.P)
	if value%4 != 0 {
		return &LinkError{Kind: ErrAlignment, Message: "branch target not 4-byte aligned"}
	}
	if value < -(1<<27) || value >= (1<<27) {
		return &LinkError{Kind: ErrRangeOverflow, Message: "branch26 displacement exceeds signed 28-bit range"}
	}
	imm26 := uint32((value >> 2) & 0x03FFFFFF)
	instr := binary.LittleEndian.Uint32(data[off : off+4])
	instr = (instr &^ 0x03FFFFFF) | imm26
	binary.LittleEndian.PutUint32(data[off:off+4], instr)
	return nil
}

// patchAdrpPage21 patches ADRP's 21-bit signed page delta: the difference
// between the target's and the site's page (4KiB-aligned) addresses, split
// into immlo (bits[30:29]) and immhi (bits[23:5]).
func patchAdrpPage21(data []byte, off uint64, tgt resolvedTarget) *LinkError {
	targetPage := (uint64(int64(tgt.S)+tgt.A)) &^ 0xfff
	sitePage := tgt.P &^ 0xfff
	delta := int64(targetPage-sitePage) >> 12
	if delta < -(1<<20) || delta >= (1<<20) {
		return &LinkError{Kind: ErrRangeOverflow, Message: "adrp page21 delta exceeds signed 21-bit range"}
	}
	imm := uint32(delta) & 0x1FFFFF
	immlo := imm & 0x3
	immhi := (imm >> 2) & 0x7FFFF
	instr := binary.LittleEndian.Uint32(data[off : off+4])
	instr = (instr &^ (0x3 << 29)) | (immlo << 29)
	instr = (instr &^ (0x7FFFF << 5)) | (immhi << 5)
	binary.LittleEndian.PutUint32(data[off:off+4], instr)
	return nil
}

// patchAddImm12 patches ADD's unsigned 12-bit immediate (bits[21:10]) with
// the target's low 12 address bits, unscaled.
func patchAddImm12(data []byte, off uint64, tgt resolvedTarget) *LinkError {
	lo12 := (uint64(int64(tgt.S) + tgt.A)) & 0xfff
	instr := binary.LittleEndian.Uint32(data[off : off+4])
	instr = (instr &^ (0xFFF << 10)) | (uint32(lo12) << 10)
	binary.LittleEndian.PutUint32(data[off:off+4], instr)
	return nil
}

// patchLdrImm12Scaled patches a 64-bit LDR/STR's scaled 12-bit immediate
// (bits[21:10]) with the target's low 12 address bits right-shifted by 3;
// the low 12 bits must be 8-byte aligned for the scaled encoding to be
// exact.
func patchLdrImm12Scaled(data []byte, off uint64, tgt resolvedTarget) *LinkError {
	lo12 := (uint64(int64(tgt.S) + tgt.A)) & 0xfff
	if lo12%8 != 0 {
		return &LinkError{Kind: ErrAlignment, Message: "LDR/STR target low12 not 8-byte aligned"}
	}
	imm12 := uint32(lo12 >> 3)
	instr := binary.LittleEndian.Uint32(data[off : off+4])
	instr = (instr &^ (0xFFF << 10)) | (imm12 << 10)
	binary.LittleEndian.PutUint32(data[off:off+4], instr)
	return nil
}
