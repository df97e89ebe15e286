// Package linker implements the core link pipeline: symbol resolution,
// section layout, address finalization, Mach-O dynamic-link planning, and
// relocation processing. Image serialization lives in the sibling
// machowriter/elfwriter packages, which read the types defined here.
package linker

import "github.com/tinylink/tinylink/internal/arch"

// SectionType classifies a Section for merging and layout purposes.
type SectionType int

const (
	SectionUnknown SectionType = iota
	SectionText
	SectionRodata
	SectionData
	SectionBSS
	SectionTLV
	SectionTData
	SectionTBSS
)

func (t SectionType) String() string {
	switch t {
	case SectionText:
		return "TEXT"
	case SectionRodata:
		return "RODATA"
	case SectionData:
		return "DATA"
	case SectionBSS:
		return "BSS"
	case SectionTLV:
		return "TLV"
	case SectionTData:
		return "TDATA"
	case SectionTBSS:
		return "TBSS"
	default:
		return "UNKNOWN"
	}
}

// SectionFlags are the OR-able attribute bits a Section and MergedSection
// carry.
type SectionFlags uint8

const (
	FlagWritable SectionFlags = 1 << iota
	FlagAllocatable
	FlagExecutable
)

// Section is one section of one input Object.
type Section struct {
	Name      string
	Type      SectionType
	Size      uint64
	Align     uint64 // power of two
	Flags     SectionFlags
	Content   []byte // nil iff Type is SectionBSS or SectionTBSS
	ObjectIdx int
}

// SymbolType classifies what a Symbol names.
type SymbolType int

const (
	SymNoType SymbolType = iota
	SymFunc
	SymObject
)

// SymbolBinding is the linkage visibility of a Symbol.
type SymbolBinding int

const (
	BindLocal SymbolBinding = iota
	BindGlobal
	BindWeak
)

// Symbol is one entry of one input Object's symbol list.
type Symbol struct {
	Name string
	Type SymbolType
	Bind SymbolBinding

	// SectionIndex indexes into the owning Object's Sections, or -1 for an
	// undefined, absolute, or common symbol.
	SectionIndex int
	// Value is the section-relative offset (or the absolute value when
	// SectionIndex == -1).
	Value uint64
	Size  uint64

	// DefiningObject is the index of the Object that globally defines this
	// symbol, or -1 for "external/runtime". Populated by the resolver.
	DefiningObject int
	IsDefined      bool

	// FinalAddress is populated by FinalizeAddresses after layout.
	FinalAddress uint64
}

// RelocTarget is a proper sum type replacing the wire-level
// symbol_index <= -2 overload some object formats use: a relocation either
// targets a Symbol by index, or is section-relative to a specific section
// of a specific object.
type RelocTarget struct {
	IsSection bool
	// Symbol index into the owning Object's Symbols, valid when !IsSection.
	SymbolIndex int
	// Section coordinates, valid when IsSection.
	SectionObjectIdx  int
	SectionSectionIdx int
}

// TargetSymbol builds a symbol-indexed RelocTarget.
func TargetSymbol(symbolIndex int) RelocTarget {
	return RelocTarget{IsSection: false, SymbolIndex: symbolIndex}
}

// TargetSection builds a section-relative RelocTarget.
func TargetSection(objectIdx, sectionIdx int) RelocTarget {
	return RelocTarget{IsSection: true, SectionObjectIdx: objectIdx, SectionSectionIdx: sectionIdx}
}

// DecodeRelocTarget decodes the overloaded wire encoding of symbol_index
// (symbol_index == -(k+2) means section-relative to section k) into a
// RelocTarget. The ELF and Mach-O readers in objreader do not carry that
// encoding and build their targets with TargetSymbol/TargetSection
// directly; either way, every later phase of the core sees only the
// proper sum type.
func DecodeRelocTarget(objectIdx int, wireSymbolIndex int) RelocTarget {
	if wireSymbolIndex <= -2 {
		return TargetSection(objectIdx, -(wireSymbolIndex + 2))
	}
	return TargetSymbol(wireSymbolIndex)
}

// RelocType is the unified, format-independent relocation tag.
type RelocType int

const (
	RelocNone RelocType = iota

	RelocX64_64
	RelocX64_PC32
	RelocX64_PLT32
	RelocX64_GOTPCREL

	RelocARM64_ABS64
	RelocARM64_CALL26
	RelocARM64_JUMP26
	RelocARM64_ADR_PREL_PG_HI21
	RelocARM64_ADD_ABS_LO12_NC
	RelocARM64_LDST64_ABS_LO12_NC
	RelocARM64_GOT_LOAD_PAGE21
	RelocARM64_GOT_LOAD_PAGEOFF12
	RelocARM64_TLVP_LOAD_PAGE21
	RelocARM64_TLVP_LOAD_PAGEOFF12
)

func (t RelocType) String() string {
	switch t {
	case RelocX64_64:
		return "X64_64"
	case RelocX64_PC32:
		return "X64_PC32"
	case RelocX64_PLT32:
		return "X64_PLT32"
	case RelocX64_GOTPCREL:
		return "X64_GOTPCREL"
	case RelocARM64_ABS64:
		return "ARM64_ABS64"
	case RelocARM64_CALL26:
		return "ARM64_CALL26"
	case RelocARM64_JUMP26:
		return "ARM64_JUMP26"
	case RelocARM64_ADR_PREL_PG_HI21:
		return "ARM64_ADR_PREL_PG_HI21"
	case RelocARM64_ADD_ABS_LO12_NC:
		return "ARM64_ADD_ABS_LO12_NC"
	case RelocARM64_LDST64_ABS_LO12_NC:
		return "ARM64_LDST64_ABS_LO12_NC"
	case RelocARM64_GOT_LOAD_PAGE21:
		return "ARM64_GOT_LOAD_PAGE21"
	case RelocARM64_GOT_LOAD_PAGEOFF12:
		return "ARM64_GOT_LOAD_PAGEOFF12"
	case RelocARM64_TLVP_LOAD_PAGE21:
		return "ARM64_TLVP_LOAD_PAGE21"
	case RelocARM64_TLVP_LOAD_PAGEOFF12:
		return "ARM64_TLVP_LOAD_PAGEOFF12"
	default:
		return "NONE"
	}
}

// IsCallLike reports whether t is one of the ARM64 branch relocation
// types that go through a stub when the target is external.
func (t RelocType) IsCallLike() bool {
	return t == RelocARM64_CALL26 || t == RelocARM64_JUMP26
}

// IsGOTLoad reports whether t loads a page/page-offset pair of a GOT slot.
func (t RelocType) IsGOTLoad() bool {
	return t == RelocARM64_GOT_LOAD_PAGE21 || t == RelocARM64_GOT_LOAD_PAGEOFF12
}

// Relocation is a single pending patch against a Section's bytes.
type Relocation struct {
	Offset       uint64 // within SectionIndex, in the owning object
	Addend       int64
	Target       RelocTarget
	SectionIndex int // the source section being patched
	Type         RelocType
	ObjectIndex  int
}

// Object is one parsed relocatable input, already normalized by a reader.
type Object struct {
	Filename string
	Format   arch.Format
	Machine  arch.Machine

	Sections    []Section
	Symbols     []Symbol
	Relocations []Relocation

	// SectionBaseAddrs is populated by Layout: SectionBaseAddrs[i] is the
	// virtual address that Sections[i]'s offset 0 lands at in its merged
	// section.
	SectionBaseAddrs []uint64
}

// Contribution is a slice of an input Section placed into a MergedSection.
type Contribution struct {
	ObjectIndex  int
	SectionIndex int
	OffsetMerged uint64
	Size         uint64
}

// MergedSection is the concatenation of all same-typed Sections across all
// Objects, after layout.
type MergedSection struct {
	Type  SectionType
	Name  string
	Size  uint64
	Align uint64
	Flags SectionFlags

	VMAddr uint64
	Data   []byte // len(Data) == Size; nil for BSS/TBSS (zero-fill, no file bytes)

	Contributions []Contribution
}

// canonicalSectionOrder is the order merged sections are laid out in;
// virtual addresses are monotonically non-decreasing across it.
var canonicalSectionOrder = []SectionType{
	SectionText, SectionRodata, SectionData, SectionTLV, SectionTData, SectionTBSS, SectionBSS,
}
