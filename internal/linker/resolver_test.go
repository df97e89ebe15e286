package linker

import (
	"testing"
)

func defObject(name string, bind SymbolBinding) *Object {
	return &Object{
		Filename: name + ".o",
		Sections: []Section{{Name: ".text", Type: SectionText, Size: 4, Align: 4, Content: []byte{0, 0, 0, 0}}},
		Symbols: []Symbol{{
			Name: name, Type: SymFunc, Bind: bind, SectionIndex: 0, IsDefined: true,
		}},
	}
}

// TestResolveDuplicateGlobal verifies that two GLOBAL definitions of the
// same name produce exactly one DUPLICATE_DEFINITION error.
func TestResolveDuplicateGlobal(t *testing.T) {
	ctx := NewContext(0x400000)
	ctx.AddObject(defObject("dup", BindGlobal))
	ctx.AddObject(defObject("dup", BindGlobal))

	errs := ctx.Resolve()
	if len(errs.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d: %s", len(errs.Errors), errs.Format())
	}
	e := errs.Errors[0]
	if e.Kind != ErrDuplicateDefinition {
		t.Errorf("expected DUPLICATE_DEFINITION, got %s", e.Kind)
	}
	if e.Symbol != "dup" {
		t.Errorf("expected symbol dup, got %s", e.Symbol)
	}
	if e.ObjectIndex != 1 {
		t.Errorf("expected the second definer (object 1), got %d", e.ObjectIndex)
	}
}

// TestResolveWeakPrecedence verifies the full precedence table: GLOBAL
// replaces WEAK, GLOBAL survives a later WEAK, and the first WEAK wins
// against later WEAKs.
func TestResolveWeakPrecedence(t *testing.T) {
	// weak then global: global wins
	ctx := NewContext(0x400000)
	ctx.AddObject(defObject("f", BindWeak))
	ctx.AddObject(defObject("f", BindGlobal))
	if errs := ctx.Resolve(); errs.HasErrors() {
		t.Fatalf("unexpected errors: %s", errs.Format())
	}
	if def, _ := ctx.Lookup("f"); def.ObjectIndex != 1 {
		t.Errorf("GLOBAL should replace WEAK: defining object = %d, want 1", def.ObjectIndex)
	}

	// global then weak: global stays
	ctx = NewContext(0x400000)
	ctx.AddObject(defObject("g", BindGlobal))
	ctx.AddObject(defObject("g", BindWeak))
	if errs := ctx.Resolve(); errs.HasErrors() {
		t.Fatalf("unexpected errors: %s", errs.Format())
	}
	if def, _ := ctx.Lookup("g"); def.ObjectIndex != 0 {
		t.Errorf("GLOBAL should survive a later WEAK: defining object = %d, want 0", def.ObjectIndex)
	}

	// weak then weak: first wins
	ctx = NewContext(0x400000)
	ctx.AddObject(defObject("h", BindWeak))
	ctx.AddObject(defObject("h", BindWeak))
	if errs := ctx.Resolve(); errs.HasErrors() {
		t.Fatalf("unexpected errors: %s", errs.Format())
	}
	if def, _ := ctx.Lookup("h"); def.ObjectIndex != 0 {
		t.Errorf("first WEAK should win: defining object = %d, want 0", def.ObjectIndex)
	}
}

// TestResolveBindsReferences verifies pass B: an undefined reference is
// bound to its defining object, a libc name becomes external, and an
// unknown name is an UNDEFINED_SYMBOL error.
func TestResolveBindsReferences(t *testing.T) {
	ctx := NewContext(0x400000)
	ctx.AddObject(defObject("callee", BindGlobal))

	ref := &Object{
		Filename: "ref.o",
		Sections: []Section{{Name: ".text", Type: SectionText, Size: 4, Align: 4, Content: []byte{0, 0, 0, 0}}},
		Symbols: []Symbol{
			{Name: "callee", Bind: BindGlobal, SectionIndex: -1},
			{Name: "printf", Bind: BindGlobal, SectionIndex: -1},
			{Name: "nowhere", Bind: BindGlobal, SectionIndex: -1},
		},
	}
	ctx.AddObject(ref)

	errs := ctx.Resolve()
	if len(errs.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d: %s", len(errs.Errors), errs.Format())
	}
	if errs.Errors[0].Kind != ErrUndefinedSymbol || errs.Errors[0].Symbol != "nowhere" {
		t.Errorf("expected UNDEFINED_SYMBOL for nowhere, got %s", errs.Errors[0].Format())
	}

	if ref.Symbols[0].DefiningObject != 0 {
		t.Errorf("callee should bind to object 0, got %d", ref.Symbols[0].DefiningObject)
	}
	if ref.Symbols[1].DefiningObject != -1 {
		t.Errorf("printf should be external (-1), got %d", ref.Symbols[1].DefiningObject)
	}
}

// TestRuntimeSymbolPredicate exercises the curated-name and prefix paths.
func TestRuntimeSymbolPredicate(t *testing.T) {
	for _, name := range []string{"printf", "_printf", "malloc", "_malloc", "__stack_chk_fail", "_tlv_bootstrap"} {
		if !IsRuntimeSymbol(name) {
			t.Errorf("%s should be a runtime symbol", name)
		}
	}
	for _, name := range []string{"main", "_main", "helper", "my_printf"} {
		if IsRuntimeSymbol(name) {
			t.Errorf("%s should not be a runtime symbol", name)
		}
	}
}
