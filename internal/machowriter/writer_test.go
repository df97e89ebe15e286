package machowriter

import (
	"testing"

	"github.com/tinylink/tinylink/internal/linker"
)

// TestTextFileOffsetAligned verifies the derived TEXT start is 16-aligned
// and leaves room for the header plus every load command.
func TestTextFileOffsetAligned(t *testing.T) {
	types := map[linker.SectionType]bool{
		linker.SectionText:   true,
		linker.SectionRodata: true,
		linker.SectionData:   true,
		linker.SectionBSS:    true,
	}
	dyn := &linker.MachODynlink{
		Stubs:      []linker.ExternalRef{{Name: "_printf"}},
		GOTEntries: []linker.ExternalRef{{Name: "_environ"}},
		Libraries:  []string{"/usr/lib/libSystem.B.dylib"},
	}

	off := TextFileOffset(types, dyn)
	if off%16 != 0 {
		t.Errorf("text file offset %#x not 16-aligned", off)
	}
	if off < headerSize+uint64(LoadCommandsSize(types, dyn)) {
		t.Errorf("text file offset %#x overlaps the load commands", off)
	}

	// Dropping the dynamic-link apparatus must shrink the load commands.
	if LoadCommandsSize(types, nil) >= LoadCommandsSize(types, dyn) {
		t.Error("stub/GOT sections did not grow the load-command region")
	}
}

// TestDeterministicUUID pins the UUID to its inputs: same (entry, size) in,
// same bytes out; different inputs, different bytes; RFC variant bits set.
func TestDeterministicUUID(t *testing.T) {
	a := deterministicUUID(0x100004000, 128)
	b := deterministicUUID(0x100004000, 128)
	if a != b {
		t.Error("same inputs produced different UUIDs")
	}
	c := deterministicUUID(0x100004000, 129)
	if a == c {
		t.Error("different text size produced the same UUID")
	}
	if a[6]>>4 != 4 {
		t.Errorf("UUID version nibble = %d, want 4", a[6]>>4)
	}
	if a[8]&0xc0 != 0x80 {
		t.Errorf("UUID variant bits = %#x, want 10xxxxxx", a[8])
	}
}

// TestBuildExportTrie walks the degenerate trie for two symbols and checks
// each terminal's uleb-encoded image offset.
func TestBuildExportTrie(t *testing.T) {
	defs := []definedSymbol{
		{name: "_main", addr: 0x100000500},
		{name: "helper", addr: 0x100000510},
	}
	trie := buildExportTrie(defs, 0x100000000)
	if len(trie) == 0 {
		t.Fatal("empty trie")
	}

	if trie[0] != 0 {
		t.Fatalf("root terminal size = %d, want 0", trie[0])
	}
	if trie[1] != 2 {
		t.Fatalf("root child count = %d, want 2", trie[1])
	}

	pos := 2
	readEdge := func() (string, int) {
		start := pos
		for trie[pos] != 0 {
			pos++
		}
		name := string(trie[start:pos])
		pos++ // NUL
		off := 0
		shift := 0
		for {
			b := trie[pos]
			pos++
			off |= int(b&0x7f) << shift
			shift += 7
			if b&0x80 == 0 {
				break
			}
		}
		return name, off
	}

	wantOffsets := map[string]uint64{"_main": 0x500, "_helper": 0x510}
	for i := 0; i < 2; i++ {
		name, nodeOff := readEdge()
		want, ok := wantOffsets[name]
		if !ok {
			t.Fatalf("unexpected edge %q", name)
		}
		node := trie[nodeOff:]
		if node[0] == 0 {
			t.Fatalf("%s: child node has no terminal info", name)
		}
		// terminal payload: uleb flags (0), uleb address offset
		payload := node[1:]
		if payload[0] != 0 {
			t.Errorf("%s: flags = %d, want 0 (regular)", name, payload[0])
		}
		got := uint64(0)
		shift := 0
		for i := 1; ; i++ {
			b := payload[i]
			got |= uint64(b&0x7f) << shift
			shift += 7
			if b&0x80 == 0 {
				break
			}
		}
		if got != want {
			t.Errorf("%s: exported offset = %#x, want %#x", name, got, want)
		}
	}
}
