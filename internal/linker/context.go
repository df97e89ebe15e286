package linker

import (
	"github.com/xyproto/env/v2"
)

// DebugToggles are the SOX_MACHO_TLV_DEBUG / SOX_MACHO_GOT_DEBUG tracing
// switches. They are resolved once, at NewContext, so later phases read
// plain context fields instead of the environment.
type DebugToggles struct {
	TLV bool
	GOT bool
}

func newDebugToggles() DebugToggles {
	return DebugToggles{
		TLV: env.Has("SOX_MACHO_TLV_DEBUG"),
		GOT: env.Has("SOX_MACHO_GOT_DEBUG"),
	}
}

// SymbolDef is one entry of the global symbol directory: which object (and
// which of its local symbol slots) globally defines a name.
type SymbolDef struct {
	ObjectIndex int
	SymbolIndex int
	Bind        SymbolBinding
}

// Context owns the object vector, the merged-section vector, the global
// symbol directory, and the dynamic-link planning state, for the
// pipeline's lifetime.
type Context struct {
	Objects []*Object

	// Directory maps a global symbol name to its defining object + symbol
	// index. Populated by Resolve.
	Directory map[string]*SymbolDef

	// Merged, by canonical order. Populated by Layout.
	Merged []*MergedSection

	EntryPointAddr uint64
	BaseAddr       uint64

	// TextFileOffset is the file offset the first TEXT byte lands at inside
	// the image (Mach-O: past the header and load commands inside __TEXT;
	// ELF: past the ELF header and program headers). The pipeline sets it
	// before Layout runs, so layout places TEXT at BaseAddr+TextFileOffset
	// directly and no later phase has to re-correct TEXT/RODATA addresses.
	TextFileOffset uint64

	// Mach-O dynamic-link planning state, populated by EnumerateMachODynlink.
	MachODyn *MachODynlink

	// ELF PLT/GOT planning state, the ELF-backend analogue of MachODyn,
	// populated by EnumerateELFDynlink.
	ELFDyn *ELFDynlink

	Debug DebugToggles

	Errors ErrorList
}

// NewContext builds an empty Context ready to accept Objects.
func NewContext(baseAddr uint64) *Context {
	return &Context{
		Directory: make(map[string]*SymbolDef),
		BaseAddr:  baseAddr,
		Debug:     newDebugToggles(),
	}
}

// AddObject appends a parsed Object to the context. Objects are inserted
// once and never mutated structurally afterwards; later phases only fill
// in addresses.
func (c *Context) AddObject(o *Object) int {
	o.SectionBaseAddrs = make([]uint64, len(o.Sections))
	c.Objects = append(c.Objects, o)
	return len(c.Objects) - 1
}

// AddressOf turns an (object, section, offset) triple into the virtual
// address layout assigned it: SectionBaseAddrs[section] + offset.
func (c *Context) AddressOf(objectIdx, sectionIdx int, offset uint64) uint64 {
	return c.Objects[objectIdx].SectionBaseAddrs[sectionIdx] + offset
}

// MergedOf returns the MergedSection holding the content of section type t,
// or nil if no contributor of that type exists.
func (c *Context) MergedOf(t SectionType) *MergedSection {
	for _, m := range c.Merged {
		if m.Type == t {
			return m
		}
	}
	return nil
}
