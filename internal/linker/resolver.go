package linker

import "fmt"

// Resolve builds the global symbol directory over every Object already
// added to c. It returns the combined ErrorList; a non-empty one fails the
// link.
//
// Pass A (define): for each GLOBAL/WEAK defined symbol, attempt insertion
// into the global directory (GLOBAL beats WEAK, first WEAK wins, two
// GLOBALs collide). Pass B (bind): for each undefined symbol, look the
// name up in the directory, fall back to the runtime-symbol predicate, or
// record UNDEFINED_SYMBOL. Both passes run to completion before returning
// so a single call yields the maximal diagnostic set.
func (c *Context) Resolve() *ErrorList {
	c.defineGlobals()
	c.bindReferences()
	return &c.Errors
}

func (c *Context) defineGlobals() {
	for objIdx, obj := range c.Objects {
		for symIdx := range obj.Symbols {
			sym := &obj.Symbols[symIdx]
			if !sym.IsDefined || sym.Bind == BindLocal {
				continue
			}
			c.defineOne(objIdx, symIdx, sym)
		}
	}
}

func (c *Context) defineOne(objIdx, symIdx int, sym *Symbol) {
	existing, ok := c.Directory[sym.Name]
	if !ok {
		c.Directory[sym.Name] = &SymbolDef{ObjectIndex: objIdx, SymbolIndex: symIdx, Bind: sym.Bind}
		return
	}

	switch {
	case existing.Bind == BindGlobal && sym.Bind == BindGlobal:
		// Both definitions are recorded: the existing one (already in the
		// directory) and this one, via the error itself.
		c.Errors.Add(&LinkError{
			Kind:         ErrDuplicateDefinition,
			Symbol:       sym.Name,
			ObjectIndex:  objIdx,
			SectionIndex: sym.SectionIndex,
			Offset:       sym.Value,
			Message:      fmt.Sprintf("also defined in object %d", existing.ObjectIndex),
		})
	case existing.Bind == BindWeak && sym.Bind == BindGlobal:
		// GLOBAL supersedes WEAK.
		existing.ObjectIndex = objIdx
		existing.SymbolIndex = symIdx
		existing.Bind = BindGlobal
	case existing.Bind == BindGlobal && sym.Bind == BindWeak:
		// Existing GLOBAL wins; nothing to do.
	case existing.Bind == BindWeak && sym.Bind == BindWeak:
		// First WEAK wins; nothing to do.
	}
}

func (c *Context) bindReferences() {
	for objIdx, obj := range c.Objects {
		for symIdx := range obj.Symbols {
			sym := &obj.Symbols[symIdx]
			if sym.IsDefined {
				continue
			}
			if def, ok := c.Directory[sym.Name]; ok {
				sym.DefiningObject = def.ObjectIndex
				continue
			}
			if IsRuntimeSymbol(sym.Name) {
				sym.DefiningObject = -1
				continue
			}
			c.Errors.Add(&LinkError{
				Kind:         ErrUndefinedSymbol,
				Symbol:       sym.Name,
				ObjectIndex:  objIdx,
				SectionIndex: -1,
				Message:      "no definition found in any input object and not a recognized runtime symbol",
			})
		}
	}
}

// Lookup resolves a name against the global directory, O(1) average.
func (c *Context) Lookup(name string) (*SymbolDef, bool) {
	def, ok := c.Directory[name]
	return def, ok
}
