package resolver

import (
	"fmt"

	"github.com/vlakreeh/wasmer/errors"
	"github.com/vlakreeh/wasmer/metadata"
)

// Binding pairs an import declaration with the extern that satisfies it.
type Binding struct {
	Import metadata.Import
	Extern Extern
}

// BuildBindings resolves and type-checks every import of m against r, in
// declaration order. On success it returns one Binding per import. On
// failure it returns a *errors.LinkError naming every import that could
// not be satisfied; no partial binding list is returned, so instantiation
// either links completely or not at all.
func BuildBindings(m *metadata.Module, r Resolver) ([]Binding, error) {
	bindings := make([]Binding, 0, len(m.Imports))
	var unsatisfied []errors.UnsatisfiedImport

	for _, imp := range m.Imports {
		ext, ok := r.Resolve(imp.Module, imp.Name)
		if !ok {
			unsatisfied = append(unsatisfied, errors.UnsatisfiedImport{
				Module: imp.Module,
				Name:   imp.Name,
				Kind:   metadata.KindName(imp.Kind),
			})
			continue
		}
		if reason := checkExtern(imp, ext); reason != "" {
			unsatisfied = append(unsatisfied, errors.UnsatisfiedImport{
				Module: imp.Module,
				Name:   imp.Name,
				Kind:   metadata.KindName(imp.Kind),
				Reason: reason,
			})
			continue
		}
		bindings = append(bindings, Binding{Import: imp, Extern: ext})
	}

	if len(unsatisfied) > 0 {
		return nil, &errors.LinkError{Unsatisfied: unsatisfied}
	}
	return bindings, nil
}

// checkExtern verifies ext against the declared import type. It returns a
// reason string for mismatches and "" when the extern is acceptable.
func checkExtern(imp metadata.Import, ext Extern) string {
	if got := ext.Kind(); got != imp.Kind {
		return fmt.Sprintf("kind mismatch: import requires a %s, provided a %s",
			metadata.KindName(imp.Kind), metadata.KindName(got))
	}

	switch imp.Kind {
	case metadata.KindFunc:
		want, got := imp.Func, ext.(Func).Type
		if want == nil {
			return "import declares no function type"
		}
		if !got.Equal(*want) {
			return fmt.Sprintf("signature mismatch: import requires %s, provided %s", want, got)
		}
	case metadata.KindMemory:
		want, got := imp.Memory, ext.(Memory).Type
		if want == nil {
			return "import declares no memory type"
		}
		if got.Limits.Shared != want.Limits.Shared {
			return fmt.Sprintf("shared flag mismatch: import requires shared=%v, provided shared=%v",
				want.Limits.Shared, got.Limits.Shared)
		}
		if !got.Limits.Satisfies(want.Limits) {
			return fmt.Sprintf("limits mismatch: import requires %s, provided %s",
				want.Limits, got.Limits)
		}
	case metadata.KindTable:
		want, got := imp.Table, ext.(Table).Type
		if want == nil {
			return "import declares no table type"
		}
		if got.ElemType != want.ElemType {
			return fmt.Sprintf("element type mismatch: import requires %s, provided %s",
				want.ElemType, got.ElemType)
		}
		if !got.Limits.Satisfies(want.Limits) {
			return fmt.Sprintf("limits mismatch: import requires %s, provided %s",
				want.Limits, got.Limits)
		}
	case metadata.KindGlobal:
		want, got := imp.Global, ext.(Global).Type
		if want == nil {
			return "import declares no global type"
		}
		if got.ValType != want.ValType {
			return fmt.Sprintf("value type mismatch: import requires %s, provided %s",
				want.ValType, got.ValType)
		}
		if got.Mutable != want.Mutable {
			return fmt.Sprintf("mutability mismatch: import requires mutable=%v, provided mutable=%v",
				want.Mutable, got.Mutable)
		}
	default:
		return fmt.Sprintf("unsupported import kind 0x%02x", imp.Kind)
	}
	return ""
}
