package linker

import "github.com/tinylink/tinylink/internal/arch"

// resolvedTarget is the (S, A, P) triple relocation arithmetic works
// from: target address, addend, and patch-site address, resolved out of
// the sum-type RelocTarget and the Mach-O/ELF dynlink planning state.
type resolvedTarget struct {
	S uint64 // target address: symbol's FinalAddress, section's base, or a stub/GOT slot address
	A int64  // addend
	P uint64 // site address: merged-section address of the byte being patched
}

// Patch is a pure fold over every Object's Relocations: resolve each
// target to (S, A, P), dispatch to the machine-specific encoder, and
// write the result into that MergedSection's Data at the corresponding
// merged offset. Must run after FinalizeAddresses, once stub/GOT
// addresses are fixed.
func (c *Context) Patch(format arch.Format, machine arch.Machine) *ErrorList {
	for objIdx, obj := range c.Objects {
		for relIdx := range obj.Relocations {
			reloc := &obj.Relocations[relIdx]
			c.patchOne(format, machine, objIdx, reloc)
		}
	}
	return &c.Errors
}

func (c *Context) patchOne(format arch.Format, machine arch.Machine, objIdx int, reloc *Relocation) {
	if reloc.Type == RelocNone {
		return // readers map unknown relocation types here; skip silently
	}
	obj := c.Objects[objIdx]

	merged, mergedOff, ok := c.mergedLocation(objIdx, reloc.SectionIndex, reloc.Offset)
	if !ok {
		c.Errors.Add(&LinkError{
			Kind:         ErrInvalidSection,
			ObjectIndex:  objIdx,
			SectionIndex: reloc.SectionIndex,
			Offset:       reloc.Offset,
			Message:      "relocation site section was never placed",
		})
		return
	}
	site := merged.VMAddr + mergedOff

	target, ok := c.resolveTarget(format, machine, objIdx, reloc)
	if !ok {
		return // resolveTarget already recorded the error
	}
	target.P = site

	var symName string
	if !reloc.Target.IsSection {
		symName = obj.Symbols[reloc.Target.SymbolIndex].Name
	}

	var err *LinkError
	switch machine {
	case arch.MachineARM64:
		err = patchARM64(merged.Data, mergedOff, reloc.Type, target)
	default:
		err = patchX64(merged.Data, mergedOff, reloc.Type, target)
	}
	if err != nil {
		err.ObjectIndex = objIdx
		err.SectionIndex = reloc.SectionIndex
		err.Offset = reloc.Offset
		err.Symbol = symName
		c.Errors.Add(err)
	}
}

// mergedLocation finds the MergedSection and merged-relative offset that
// object objIdx's section secIdx, offset siteOffset, was placed at.
func (c *Context) mergedLocation(objIdx, secIdx int, siteOffset uint64) (*MergedSection, uint64, bool) {
	for _, m := range c.Merged {
		for _, contrib := range m.Contributions {
			if contrib.ObjectIndex == objIdx && contrib.SectionIndex == secIdx {
				return m, contrib.OffsetMerged + siteOffset, true
			}
		}
	}
	return nil, 0, false
}

// resolveTarget computes (S, A) for reloc: a section-relative target
// resolves via AddressOf; a symbol-indexed target resolves to the
// defining symbol's FinalAddress, or, when the symbol is external and the
// relocation is stub/GOT-eligible, to the planned stub or GOT slot
// address instead.
func (c *Context) resolveTarget(format arch.Format, machine arch.Machine, objIdx int, reloc *Relocation) (resolvedTarget, bool) {
	if reloc.Target.IsSection {
		s := c.AddressOf(reloc.Target.SectionObjectIdx, reloc.Target.SectionSectionIdx, 0)
		return resolvedTarget{S: s, A: reloc.Addend}, true
	}

	obj := c.Objects[objIdx]
	sym := &obj.Symbols[reloc.Target.SymbolIndex]

	if sym.DefiningObject == -1 {
		if addr, ok := c.externalTargetAddr(format, machine, reloc, sym.Name); ok {
			return resolvedTarget{S: addr, A: reloc.Addend}, true
		}
		c.Errors.Add(&LinkError{
			Kind:        ErrUndefinedSymbol,
			Symbol:      sym.Name,
			ObjectIndex: objIdx,
			Message:     "external symbol has no stub/GOT slot planned for this relocation type",
		})
		return resolvedTarget{}, false
	}

	var defSym *Symbol
	if sym.IsDefined {
		defSym = sym
	} else if def, ok := c.Directory[sym.Name]; ok {
		defSym = &c.Objects[def.ObjectIndex].Symbols[def.SymbolIndex]
	} else {
		defSym = sym
	}
	return resolvedTarget{S: defSym.FinalAddress, A: reloc.Addend}, true
}

// externalTargetAddr resolves an externally-bound symbol reference to the
// stub or GOT slot address dynlink planning assigned it.
func (c *Context) externalTargetAddr(format arch.Format, machine arch.Machine, reloc *Relocation, name string) (uint64, bool) {
	if format == arch.FormatMachO {
		dyn := c.MachODyn
		if dyn == nil {
			return 0, false
		}
		if reloc.Type.IsCallLike() {
			if i := dyn.stubIndex(name); i >= 0 {
				return dyn.StubsAddr + uint64(i*machoStubSize), true
			}
			return 0, false
		}
		if slot := dyn.GOTSlot(name); slot >= 0 {
			return dyn.GOTAddr + uint64(slot*8), true
		}
		return 0, false
	}

	dyn := c.ELFDyn
	if dyn == nil {
		return 0, false
	}
	if i := dyn.index(name); i >= 0 {
		if reloc.Type.IsCallLike() || reloc.Type == RelocX64_PLT32 {
			return dyn.PLTAddr + uint64(i)*elfPLTEntrySize(machine), true
		}
		return dyn.GOTAddr + uint64(i*8), true
	}
	return 0, false
}
