package linker

// FinalizeAddresses sets every defined symbol's FinalAddress from the
// completed section layout. Absolute and common symbols (SectionIndex ==
// -1) retain their declared Value.
//
// This is the single step that reads Layout's (and, when applicable, the
// Reserve*DynlinkSpace) output and writes FinalAddress exactly once; no
// later phase re-derives an address.
func (c *Context) FinalizeAddresses() {
	for objIdx, obj := range c.Objects {
		for symIdx := range obj.Symbols {
			sym := &obj.Symbols[symIdx]
			if !sym.IsDefined {
				continue
			}
			if sym.SectionIndex < 0 {
				sym.FinalAddress = sym.Value
				continue
			}
			sym.FinalAddress = c.AddressOf(objIdx, sym.SectionIndex, sym.Value)
		}
	}
}
