package linker

import "encoding/binary"

// patchX64 dispatches an x86-64 relocation to its bit-encoder and writes
// the result into data at mergedOff. The encoders overwrite only the
// displacement or immediate field at the site.
func patchX64(data []byte, mergedOff uint64, t RelocType, tgt resolvedTarget) *LinkError {
	switch t {
	case RelocX64_64:
		return patchAbs64X64(data, mergedOff, tgt)
	case RelocX64_PC32, RelocX64_PLT32, RelocX64_GOTPCREL:
		return patchRel32(data, mergedOff, tgt)
	default:
		return &LinkError{Kind: ErrInvalidType, Message: "relocation type not valid for x86-64: " + t.String()}
	}
}

func patchAbs64X64(data []byte, off uint64, tgt resolvedTarget) *LinkError {
	value := tgt.S + uint64(tgt.A)
	binary.LittleEndian.PutUint64(data[off:off+8], value)
	return nil
}

// patchRel32 patches a 32-bit PC-relative displacement: value = S + A - P,
// range-checked against signed32. Used for PC32, PLT32 (after S has been
// resolved to the external's PLT stub address), and GOTPCREL (after S has
// been resolved to the GOT slot address).
func patchRel32(data []byte, off uint64, tgt resolvedTarget) *LinkError {
	value := int64(tgt.S) + tgt.A - int64(tgt.P)
	if value < -(1<<31) || value >= (1<<31) {
		return &LinkError{Kind: ErrRangeOverflow, Message: "rel32 displacement exceeds signed 32-bit range"}
	}
	binary.LittleEndian.PutUint32(data[off:off+4], uint32(int32(value)))
	return nil
}
