package linker

import "strings"

// knownRuntimeSymbols is the curated libc name set backing the
// runtime-symbol predicate: a reference to one of these is satisfied by
// libSystem/libc at load time rather than by any input object.
var knownRuntimeSymbols = map[string]bool{
	"printf":  true,
	"sprintf": true,
	"snprintf": true,
	"puts":    true,
	"malloc":  true,
	"free":    true,
	"calloc":  true,
	"realloc": true,
	"memcpy":  true,
	"memset":  true,
	"memmove": true,
	"strlen":  true,
	"strcmp":  true,
	"strcpy":  true,
	"exit":    true,
	"abort":   true,
	"write":   true,
	"read":    true,
	"open":    true,
	"close":   true,
}

// runtimePrefixes covers dynamic-loader and libc internal helpers that
// don't fit a flat name list (e.g. the whole __stack_chk_* family).
var runtimePrefixes = []string{
	"__stack_chk_",
	"__libc_",
	"_tlv_",
	"dyld_",
}

// IsRuntimeSymbol reports whether name is expected to be satisfied by the
// platform runtime (libSystem/libc/dyld) rather than by any input object,
// and so should be marked external instead of UNDEFINED_SYMBOL. Both the
// raw spelling and the Mach-O underscore-prefixed spelling are accepted.
func IsRuntimeSymbol(name string) bool {
	trimmed := strings.TrimPrefix(name, "_")
	if knownRuntimeSymbols[name] || knownRuntimeSymbols[trimmed] {
		return true
	}
	for _, p := range runtimePrefixes {
		if strings.HasPrefix(name, p) || strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}
