// Package pipeline drives the link from normalized objects to image
// bytes, running the phases strictly in order: resolve, dynamic-link
// enumeration, layout, address finalization, relocation patching, and
// image serialization. Each phase's error list is checked before the next
// phase runs; the first phase to fail ends the link with its full
// diagnostic set.
package pipeline

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/tinylink/tinylink/internal/arch"
	"github.com/tinylink/tinylink/internal/elfwriter"
	"github.com/tinylink/tinylink/internal/linker"
	"github.com/tinylink/tinylink/internal/machowriter"
)

// Options selects the output flavor of a link.
type Options struct {
	Format   arch.Format
	Machine  arch.Machine
	BaseAddr uint64 // 0 means the platform default
	PIE      bool
}

// Link runs the whole pipeline over objs and returns the image bytes, or a
// non-empty error list when any phase fails.
func Link(objs []*linker.Object, opts Options) ([]byte, *linker.ErrorList) {
	base := opts.BaseAddr
	if base == 0 {
		switch {
		case opts.Format == arch.FormatMachO:
			base = linker.BaseAddrMachOText
		case opts.PIE:
			base = 0 // ET_DYN, slid by the loader
		default:
			base = linker.BaseAddrELF
		}
	}
	ctx := linker.NewContext(base)

	for _, o := range objs {
		ctx.AddObject(o)
	}

	// ELF images enter through _start; synthesize one when no input
	// provides it.
	if opts.Format == arch.FormatELF && !definesSymbol(objs, "_start") {
		ctx.AddObject(startObject(opts.Machine, mainSymbolName(objs)))
	}

	if errs := ctx.Resolve(); errs.HasErrors() {
		return nil, errs
	}

	sectionTypes := presentSectionTypes(ctx)

	if opts.Format == arch.FormatMachO {
		ctx.EnumerateMachODynlink()
		ctx.TextFileOffset = machowriter.TextFileOffset(sectionTypes, ctx.MachODyn)
	} else {
		ctx.EnumerateELFDynlink()
		hasDyn := len(ctx.ELFDyn.Entries) > 0
		ctx.TextFileOffset = elfwriter.TextFileOffset(sectionTypes, hasDyn, opts.PIE)
	}

	if errs := ctx.Layout(opts.Format); errs.HasErrors() {
		return nil, errs
	}
	if opts.Format == arch.FormatMachO {
		ctx.ReserveMachODynlinkSpace()
	} else {
		ctx.ReserveELFDynlinkSpace(opts.Machine)
	}
	ctx.FinalizeAddresses()
	if opts.Format == arch.FormatMachO {
		traceMachODynlink(ctx)
	}

	if errs := ctx.Patch(opts.Format, opts.Machine); errs.HasErrors() {
		return nil, errs
	}

	entry, ok := entryAddress(ctx, opts.Format)
	if !ok {
		ctx.Errors.Add(&linker.LinkError{
			Kind:         linker.ErrUndefinedSymbol,
			Symbol:       entrySymbolName(opts.Format),
			ObjectIndex:  -1,
			SectionIndex: -1,
			Message:      "no entry point defined by any input object",
		})
		return nil, &ctx.Errors
	}
	ctx.EntryPointAddr = entry

	if opts.Format == arch.FormatMachO {
		return machowriter.Write(ctx, opts.Machine, entry), nil
	}
	return elfwriter.Write(ctx, opts.Machine, entry, opts.PIE), nil
}

func definesSymbol(objs []*linker.Object, name string) bool {
	for _, o := range objs {
		for i := range o.Symbols {
			if o.Symbols[i].Name == name && o.Symbols[i].IsDefined {
				return true
			}
		}
	}
	return false
}

// mainSymbolName picks the spelling of main the inputs actually define, so
// the synthesized _start binds against the right name.
func mainSymbolName(objs []*linker.Object) string {
	if definesSymbol(objs, "_main") && !definesSymbol(objs, "main") {
		return "_main"
	}
	return "main"
}

func entrySymbolName(format arch.Format) string {
	if format == arch.FormatMachO {
		return "_main"
	}
	return "_start"
}

func entryAddress(ctx *linker.Context, format arch.Format) (uint64, bool) {
	candidates := []string{"_start"}
	if format == arch.FormatMachO {
		candidates = []string{"_main", "main", "_start"}
	}
	for _, name := range candidates {
		if def, ok := ctx.Lookup(name); ok {
			return ctx.Objects[def.ObjectIndex].Symbols[def.SymbolIndex].FinalAddress, true
		}
	}
	return 0, false
}

// startObject synthesizes a _start trampoline object: zero the frame
// pointer, call main, and exit with main's return value. It is a regular
// relocatable object, so the call to main flows through the ordinary
// resolve/layout/patch phases like any input.
func startObject(machine arch.Machine, mainName string) *linker.Object {
	var text []byte
	var relocs []linker.Relocation

	if machine == arch.MachineARM64 {
		text = binary.LittleEndian.AppendUint32(text, 0xd280001d) // mov x29, #0
		relocs = append(relocs, linker.Relocation{
			Offset: uint64(len(text)),
			Target: linker.TargetSymbol(1),
			Type:   linker.RelocARM64_CALL26,
		})
		text = binary.LittleEndian.AppendUint32(text, 0x94000000) // bl main
		text = binary.LittleEndian.AppendUint32(text, 0xd2800ba8) // mov x8, #93
		text = binary.LittleEndian.AppendUint32(text, 0xd4000001) // svc #0
	} else {
		text = append(text, 0x31, 0xed) // xor ebp, ebp
		text = append(text, 0xe8)       // call main
		relocs = append(relocs, linker.Relocation{
			Offset: uint64(len(text)),
			Addend: -4,
			Target: linker.TargetSymbol(1),
			Type:   linker.RelocX64_PC32,
		})
		text = append(text, 0, 0, 0, 0)
		text = append(text, 0x48, 0x89, 0xc7)                         // mov rdi, rax
		text = append(text, 0x48, 0xc7, 0xc0, 0x3c, 0x00, 0x00, 0x00) // mov rax, 60
		text = append(text, 0x0f, 0x05)                               // syscall
	}

	return &linker.Object{
		Filename: "<start>",
		Format:   arch.FormatELF,
		Machine:  machine,
		Sections: []linker.Section{{
			Name:  ".text",
			Type:  linker.SectionText,
			Size:  uint64(len(text)),
			Align: 4,
			Flags: linker.FlagAllocatable | linker.FlagExecutable,
			Content: text,
		}},
		Symbols: []linker.Symbol{
			{
				Name: "_start", Type: linker.SymFunc, Bind: linker.BindGlobal,
				SectionIndex: 0, Size: uint64(len(text)), IsDefined: true,
			},
			{
				Name: mainName, Type: linker.SymNoType, Bind: linker.BindGlobal,
				SectionIndex: -1,
			},
		},
		Relocations: relocs,
	}
}

func presentSectionTypes(ctx *linker.Context) map[linker.SectionType]bool {
	types := map[linker.SectionType]bool{}
	for _, o := range ctx.Objects {
		for i := range o.Sections {
			if o.Sections[i].Type != linker.SectionUnknown {
				types[o.Sections[i].Type] = true
			}
		}
	}
	return types
}

// traceMachODynlink prints the planned stub/GOT apparatus when the
// SOX_MACHO_GOT_DEBUG / SOX_MACHO_TLV_DEBUG toggles were set at context
// construction.
func traceMachODynlink(ctx *linker.Context) {
	dyn := ctx.MachODyn
	if dyn == nil {
		return
	}
	if ctx.Debug.GOT {
		for i, ref := range dyn.Stubs {
			fmt.Fprintf(os.Stderr, "got: stub %d -> %s\n", i, ref.Name)
		}
		for i, ref := range dyn.GOTEntries {
			fmt.Fprintf(os.Stderr, "got: slot %d -> %s\n", len(dyn.Stubs)+i, ref.Name)
		}
	}
	if ctx.Debug.TLV {
		if m := ctx.MergedOf(linker.SectionTLV); m != nil {
			fmt.Fprintf(os.Stderr, "tlv: %d descriptor bytes\n", m.Size)
		}
	}
}
