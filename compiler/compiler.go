// Package compiler defines the boundary to the code-generation
// subsystem. An engine hands bytecode and its tunables to a Compiler and
// receives machine code, layout tables and module metadata back; it
// never inspects bytecode itself.
package compiler

import (
	"context"
	"fmt"

	"github.com/vlakreeh/wasmer/artifact"
	"github.com/vlakreeh/wasmer/metadata"
	"github.com/vlakreeh/wasmer/target"
	"github.com/vlakreeh/wasmer/tunables"
)

// Compiler turns WebAssembly bytecode into executable code for one
// target. Implementations are safe for concurrent use.
type Compiler interface {
	// Name identifies the code generator, such as "singlepass".
	Name() string

	// Target reports the machine target the compiler emits code for.
	Target() target.Target

	// Compile validates and compiles a complete bytecode module. The
	// tunables decide the memory and table styles baked into the
	// result. Failures are reported as compilation errors carrying the
	// underlying cause.
	Compile(ctx context.Context, bytecode []byte, tun tunables.Tunables) (*Result, error)
}

// Result is everything a compiler produces for one module. The engine
// wraps it into an artifact without further transformation.
type Result struct {
	// Metadata describes the module's types, imports, exports and
	// declarations as recovered from the bytecode.
	Metadata *metadata.Module

	// MemoryStyles and TableStyles record the allocation decisions
	// made from the tunables at compile time, in combined index order.
	MemoryStyles []tunables.MemoryStyle
	TableStyles  []tunables.TableStyle

	// Code is the emitted machine code region.
	Code []byte

	// FuncTable holds each defined function's entry offset into Code,
	// in definition order.
	FuncTable []uint32

	// AddrMap maps code offsets back to bytecode offsets, sorted by
	// code offset.
	AddrMap artifact.AddrMap

	// Diagnostics are non-fatal findings from compilation.
	Diagnostics []Diagnostic
}

// Severity grades a diagnostic.
type Severity int

const (
	Info Severity = iota
	Warning
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	}
	return "unknown"
}

// Diagnostic is a non-fatal finding emitted during compilation, such as
// a deprecated construct or a missed optimization.
type Diagnostic struct {
	Severity Severity

	// FuncIndex is the function the finding applies to, in the
	// combined index space. Zero with Module true means the finding is
	// module level.
	FuncIndex uint32
	Module    bool

	Message string
}

func (d Diagnostic) String() string {
	if d.Module {
		return d.Severity.String() + ": " + d.Message
	}
	return fmt.Sprintf("%s: func %d: %s", d.Severity, d.FuncIndex, d.Message)
}
