// Package tunables decides how memories and tables are allocated for a
// compiled module: a static reservation sized to the declared maximum
// (branch-free bounds checks, guard-page trapping, more address space)
// or a dynamic reservation grown on demand (per-access bounds check,
// smaller footprint).
//
// The decision is made once, at compile time, and baked into the
// artifact. Instantiation allocates per the stored styles and never
// re-derives them.
package tunables

import (
	"fmt"

	"github.com/c2h5oh/datasize"

	"github.com/vlakreeh/wasmer/metadata"
)

// PageSize is the WebAssembly linear memory page size in bytes.
const PageSize = 64 * 1024

// MaxMemoryPages is the largest page count addressable by a 32-bit
// linear memory. Memories without a declared maximum are treated as
// bounded by it.
const MaxMemoryPages = 65536

// StyleKind selects between the two allocation strategies.
type StyleKind uint8

const (
	StyleDynamic StyleKind = iota
	StyleStatic
)

func (k StyleKind) String() string {
	switch k {
	case StyleDynamic:
		return "dynamic"
	case StyleStatic:
		return "static"
	}
	return fmt.Sprintf("stylekind(%d)", uint8(k))
}

// MemoryStyle is the allocation plan for one linear memory.
type MemoryStyle struct {
	Kind StyleKind

	// Bound is the reservation size in pages when Kind is StyleStatic.
	Bound uint64

	// OffsetGuardSize is the size in bytes of the inaccessible guard
	// region placed after the reservation.
	OffsetGuardSize uint64
}

func (s MemoryStyle) String() string {
	guard := datasize.ByteSize(s.OffsetGuardSize).String()
	if s.Kind == StyleStatic {
		reserved := datasize.ByteSize(s.Bound * PageSize).String()
		return fmt.Sprintf("static(bound=%d pages/%s, guard=%s)", s.Bound, reserved, guard)
	}
	return fmt.Sprintf("dynamic(guard=%s)", guard)
}

// TableStyle is the allocation plan for one table.
type TableStyle struct {
	Kind StyleKind

	// Bound is the reservation size in elements when Kind is StyleStatic.
	Bound uint64
}

func (s TableStyle) String() string {
	if s.Kind == StyleStatic {
		return fmt.Sprintf("static(bound=%d elements)", s.Bound)
	}
	return "dynamic"
}

// Tunables derives allocation styles from declared limits. Implementations
// must be stateless: the same declaration always yields the same style.
type Tunables interface {
	MemoryStyle(mem metadata.MemoryType) MemoryStyle
	TableStyle(tab metadata.TableType) TableStyle
}

// DeriveStyles applies t to every memory and table of a module, in
// combined index order.
func DeriveStyles(t Tunables, m *metadata.Module) ([]MemoryStyle, []TableStyle) {
	mems := m.AllMemories()
	tabs := m.AllTables()
	memStyles := make([]MemoryStyle, len(mems))
	for i, mem := range mems {
		memStyles[i] = t.MemoryStyle(mem)
	}
	tabStyles := make([]TableStyle, len(tabs))
	for i, tab := range tabs {
		tabStyles[i] = t.TableStyle(tab)
	}
	return memStyles, tabStyles
}

// CheckStyles verifies that t would derive exactly the styles stored in
// an artifact. A mismatch means the caller supplied a policy that
// disagrees with the one the artifact was compiled under.
func CheckStyles(t Tunables, m *metadata.Module, memStyles []MemoryStyle, tabStyles []TableStyle) error {
	wantMem, wantTab := DeriveStyles(t, m)
	if len(wantMem) != len(memStyles) || len(wantTab) != len(tabStyles) {
		return fmt.Errorf("tunables: style count mismatch: %d/%d memories, %d/%d tables",
			len(memStyles), len(wantMem), len(tabStyles), len(wantTab))
	}
	for i := range wantMem {
		if wantMem[i] != memStyles[i] {
			return fmt.Errorf("tunables: memory %d style conflict: artifact %s, supplied policy %s",
				i, memStyles[i], wantMem[i])
		}
	}
	for i := range wantTab {
		if wantTab[i] != tabStyles[i] {
			return fmt.Errorf("tunables: table %d style conflict: artifact %s, supplied policy %s",
				i, tabStyles[i], wantTab[i])
		}
	}
	return nil
}
