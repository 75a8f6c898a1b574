package tunables

import (
	"github.com/pbnjay/memory"

	"github.com/vlakreeh/wasmer/metadata"
	"github.com/vlakreeh/wasmer/target"
)

// Base derives styles from three thresholds, in the shape native code
// generators expect: memories whose maximum fits under the static bound
// get a fixed reservation sized to that maximum, everything else grows
// dynamically.
type Base struct {
	// StaticMemoryBound is the largest declared maximum, in pages, that
	// still gets a static reservation.
	StaticMemoryBound uint64

	// StaticGuardSize is the guard region in bytes for static
	// reservations. Large guards let generated code fold constant
	// offsets into the guard instead of emitting bounds checks.
	StaticGuardSize uint64

	// DynamicGuardSize is the guard region in bytes for dynamic
	// reservations.
	DynamicGuardSize uint64

	// StaticTableBound is the largest declared maximum, in elements,
	// that still gets a static table reservation.
	StaticTableBound uint64
}

var _ Tunables = Base{}

func spaciousProfile() Base {
	return Base{
		StaticMemoryBound: MaxMemoryPages, // 4GiB of pages
		StaticGuardSize:   2 << 30,        // 2GiB
		DynamicGuardSize:  64 << 10,       // 64KiB
		StaticTableBound:  1 << 20,
	}
}

func constrainedProfile() Base {
	return Base{
		StaticMemoryBound: 16384, // 1GiB of pages
		StaticGuardSize:   64 << 10,
		DynamicGuardSize:  64 << 10,
		StaticTableBound:  1 << 16,
	}
}

// ForTarget returns the default policy for a compilation target.
// 64-bit targets spend address space freely; 32-bit targets cannot.
func ForTarget(t target.Target) Base {
	if t.Triple.PointerWidth() == 8 {
		return spaciousProfile()
	}
	return constrainedProfile()
}

// ForHost returns the default policy for the current machine. Hosts
// with less than 4GiB of physical memory use the constrained profile
// even on 64-bit architectures.
func ForHost() Base {
	if total := memory.TotalMemory(); total != 0 && total < 4<<30 {
		return constrainedProfile()
	}
	return ForTarget(target.Host())
}

// MemoryStyle implements Tunables. A memory with no declared maximum is
// treated as bounded by MaxMemoryPages.
func (b Base) MemoryStyle(mem metadata.MemoryType) MemoryStyle {
	max := uint64(MaxMemoryPages)
	if mem.Limits.Max != nil {
		max = *mem.Limits.Max
	}
	if max <= b.StaticMemoryBound {
		return MemoryStyle{
			Kind:            StyleStatic,
			Bound:           max,
			OffsetGuardSize: b.StaticGuardSize,
		}
	}
	return MemoryStyle{
		Kind:            StyleDynamic,
		OffsetGuardSize: b.DynamicGuardSize,
	}
}

// TableStyle implements Tunables.
func (b Base) TableStyle(tab metadata.TableType) TableStyle {
	if tab.Limits.Max != nil && *tab.Limits.Max <= b.StaticTableBound {
		return TableStyle{Kind: StyleStatic, Bound: *tab.Limits.Max}
	}
	return TableStyle{Kind: StyleDynamic}
}
