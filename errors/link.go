package errors

import (
	"fmt"
	"strings"
)

// UnsatisfiedImport describes one import that could not be linked.
type UnsatisfiedImport struct {
	Module string
	Name   string
	Kind   string // "function", "memory", "table", "global"
	Reason string // "missing", or a type/limits mismatch description
}

func (u UnsatisfiedImport) String() string {
	if u.Reason == "missing" || u.Reason == "" {
		return fmt.Sprintf("%s %q.%q is not provided", u.Kind, u.Module, u.Name)
	}
	return fmt.Sprintf("%s %q.%q: %s", u.Kind, u.Module, u.Name, u.Reason)
}

// LinkError is returned when import resolution fails. It names every
// unsatisfiable import in declaration order.
type LinkError struct {
	Unsatisfied []UnsatisfiedImport
}

func (e *LinkError) Error() string {
	if len(e.Unsatisfied) == 0 {
		return "[link] missing_import: no imports specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "failed to link %d import(s):\n", len(e.Unsatisfied))

	// Group by module for cleaner output.
	byModule := make(map[string][]UnsatisfiedImport)
	var moduleOrder []string
	for _, imp := range e.Unsatisfied {
		if _, exists := byModule[imp.Module]; !exists {
			moduleOrder = append(moduleOrder, imp.Module)
		}
		byModule[imp.Module] = append(byModule[imp.Module], imp)
	}

	for _, mod := range moduleOrder {
		b.WriteString("\n  ")
		b.WriteString(mod)
		b.WriteString(":\n")
		for _, imp := range byModule[mod] {
			b.WriteString("    - ")
			b.WriteString(imp.String())
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type.
func (e *LinkError) Is(target error) bool {
	_, ok := target.(*LinkError)
	return ok
}
