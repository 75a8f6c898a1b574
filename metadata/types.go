// Package metadata models the signature surface of a compiled module:
// the types, imports, exports and declarations an engine needs to link
// and instantiate an artifact without re-parsing the original bytecode.
package metadata

import (
	"strconv"
	"strings"
)

// ValType represents a WebAssembly value type, using the binary format
// encoding values.
type ValType byte

const (
	ValI32       ValType = 0x7F // 32-bit integer
	ValI64       ValType = 0x7E // 64-bit integer
	ValF32       ValType = 0x7D // 32-bit float
	ValF64       ValType = 0x7C // 64-bit float
	ValV128      ValType = 0x7B // 128-bit vector (SIMD)
	ValFuncRef   ValType = 0x70 // Function reference
	ValExternRef ValType = 0x6F // External reference
)

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExternRef:
		return "externref"
	}
	return "unknown"
}

// Import/export kinds identify the sort of item being linked.
const (
	KindFunc   byte = 0 // Function import/export
	KindTable  byte = 1 // Table import/export
	KindMemory byte = 2 // Memory import/export
	KindGlobal byte = 3 // Global import/export
)

// KindName returns a human-readable name for an import/export kind.
func KindName(kind byte) string {
	switch kind {
	case KindFunc:
		return "function"
	case KindTable:
		return "table"
	case KindMemory:
		return "memory"
	case KindGlobal:
		return "global"
	}
	return "unknown"
}

// FuncType represents a function signature with parameter and result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether both signatures have identical parameter and
// result types.
func (f FuncType) Equal(other FuncType) bool {
	if len(f.Params) != len(other.Params) || len(f.Results) != len(other.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != other.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != other.Results[i] {
			return false
		}
	}
	return true
}

func (f FuncType) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range f.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteString(") -> (")
	for i, r := range f.Results {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(r.String())
	}
	b.WriteByte(')')
	return b.String()
}

// Limits describes size constraints for tables and memories, in pages
// for memories and elements for tables.
type Limits struct {
	Min    uint64
	Max    *uint64
	Shared bool
}

// Bounded reports whether a maximum is declared.
func (l Limits) Bounded() bool { return l.Max != nil }

// Satisfies reports whether an item with limits l can stand in for a
// declaration requiring required: the provided minimum covers the
// required minimum, and any required maximum bounds the provided one.
func (l Limits) Satisfies(required Limits) bool {
	if l.Min < required.Min {
		return false
	}
	if required.Max == nil {
		return true
	}
	return l.Max != nil && *l.Max <= *required.Max
}

func (l Limits) String() string {
	var b strings.Builder
	b.WriteString("min=")
	b.WriteString(strconv.FormatUint(l.Min, 10))
	if l.Max != nil {
		b.WriteString(" max=")
		b.WriteString(strconv.FormatUint(*l.Max, 10))
	}
	if l.Shared {
		b.WriteString(" shared")
	}
	return b.String()
}

// MemoryType describes a linear memory with size limits in 64KiB pages.
type MemoryType struct {
	Limits Limits
}

// TableType describes a table with element type and size limits.
type TableType struct {
	ElemType ValType
	Limits   Limits
}

// GlobalType describes a global variable's value type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Import is an imported item in declaration order. Exactly one of Func,
// Table, Memory and Global is set, according to Kind.
type Import struct {
	Module string
	Name   string
	Kind   byte

	Func   *FuncType
	Table  *TableType
	Memory *MemoryType
	Global *GlobalType
}

// Export names an item by its index in the module's combined
// (imports first) index space for its kind.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// FuncName associates a defined or imported function index with the
// name recorded for it at compile time.
type FuncName struct {
	Index uint32
	Name  string
}
