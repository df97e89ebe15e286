package linker

import "fmt"

// ErrorKind classifies a link-time diagnostic.
type ErrorKind int

const (
	ErrDuplicateDefinition ErrorKind = iota
	ErrUndefinedSymbol
	ErrWeakSymbolConflict // reserved, never constructed — see DESIGN.md
	ErrTypeMismatch       // reserved, never constructed — see DESIGN.md
	ErrAllocationFailed
	ErrRangeOverflow
	ErrInvalidType
	ErrAlignment
	ErrInvalidSection
	ErrPatchFailed
)

func (k ErrorKind) String() string {
	switch k {
	case ErrDuplicateDefinition:
		return "DUPLICATE_DEFINITION"
	case ErrUndefinedSymbol:
		return "UNDEFINED_SYMBOL"
	case ErrWeakSymbolConflict:
		return "WEAK_SYMBOL_CONFLICT"
	case ErrTypeMismatch:
		return "TYPE_MISMATCH"
	case ErrAllocationFailed:
		return "ALLOCATION_FAILED"
	case ErrRangeOverflow:
		return "RANGE_OVERFLOW"
	case ErrInvalidType:
		return "INVALID_TYPE"
	case ErrAlignment:
		return "ALIGNMENT"
	case ErrInvalidSection:
		return "INVALID_SECTION"
	case ErrPatchFailed:
		return "PATCH_FAILED"
	default:
		return "UNKNOWN"
	}
}

// LinkError is one diagnostic produced by a pipeline phase. Phases collect
// these rather than returning on the first one, so a single pass yields a
// maximal diagnostic set.
type LinkError struct {
	Kind         ErrorKind
	Symbol       string // empty when not applicable
	ObjectIndex  int    // -1 when not applicable
	SectionIndex int    // -1 when not applicable
	Offset       uint64
	Message      string
}

// Error implements the error interface.
func (e *LinkError) Error() string {
	return e.Format()
}

// Format renders one line: kind, symbol (if any), source object index,
// source section index, and offset.
func (e *LinkError) Format() string {
	s := e.Kind.String()
	if e.Symbol != "" {
		s += fmt.Sprintf(" symbol=%s", e.Symbol)
	}
	if e.ObjectIndex >= 0 {
		s += fmt.Sprintf(" object=%d", e.ObjectIndex)
	}
	if e.SectionIndex >= 0 {
		s += fmt.Sprintf(" section=%d", e.SectionIndex)
	}
	if e.Offset != 0 {
		s += fmt.Sprintf(" offset=0x%x", e.Offset)
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	return s
}

// ErrorList accumulates LinkErrors across a phase. A non-empty ErrorList
// after a phase fails the overall link.
type ErrorList struct {
	Errors []*LinkError
}

// Add appends a diagnostic.
func (l *ErrorList) Add(e *LinkError) {
	l.Errors = append(l.Errors, e)
}

// HasErrors reports whether any diagnostic was recorded.
func (l *ErrorList) HasErrors() bool {
	return len(l.Errors) > 0
}

// Format renders one line per error, in recorded order.
func (l *ErrorList) Format() string {
	out := ""
	for i, e := range l.Errors {
		if i > 0 {
			out += "\n"
		}
		out += e.Format()
	}
	return out
}
