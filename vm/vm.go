// Package vm defines the boundary to the execution subsystem that turns
// finished artifacts into running instances.
//
// A Runtime owns the machine resources behind instances: memory
// reservations, signal handling and table storage. The engine hands it a
// compiled artifact plus resolved import bindings and gets an isolated
// Instance back. Instances created from the same artifact share its code
// region and nothing else; memories, tables and globals are always
// per-instance.
//
// When compiled code faults, call results carry a *trap.Fault with the
// raw machine state. Classifying and symbolicating the fault is the
// engine's job, not the runtime's.
package vm

import (
	"context"

	"github.com/vlakreeh/wasmer/artifact"
	"github.com/vlakreeh/wasmer/metadata"
	"github.com/vlakreeh/wasmer/resolver"
)

// Runtime creates instances from artifacts. Implementations are safe for
// concurrent use.
type Runtime interface {
	// Name identifies the execution backend.
	Name() string

	// LoadCode places the artifact's code region in executable memory
	// and returns its base address. The release function unmaps it;
	// the engine calls it from the artifact's release hook, after
	// which no instance of the artifact exists.
	LoadCode(a *artifact.Artifact) (base uintptr, release func(), err error)

	// NewInstance allocates memories and tables per the artifact's
	// baked styles, wires the bindings, and runs the module's start
	// function if it declares one. A start-function fault is returned
	// as a *trap.Fault. The instance retains the artifact until Close.
	//
	// The artifact's code must have been loaded with LoadCode first.
	// Bindings must be complete and type-checked; building them is the
	// resolver package's job.
	NewInstance(ctx context.Context, a *artifact.Artifact, bindings []resolver.Binding) (Instance, error)

	// Close releases runtime-wide resources. Instances created by this
	// runtime must be closed first.
	Close(ctx context.Context) error
}

// Instance is one isolated activation of an artifact.
type Instance interface {
	// Artifact returns the artifact this instance executes. The
	// reference stays valid until Close.
	Artifact() *artifact.Artifact

	// Function looks up an exported function by name.
	Function(name string) (Function, error)

	// Memory looks up an exported memory by name.
	Memory(name string) (Memory, bool)

	// Close tears the instance down and releases its artifact
	// reference. Close is idempotent.
	Close(ctx context.Context) error
}

// Function is a callable export.
type Function interface {
	// Type reports the function's signature.
	Type() metadata.FuncType

	// Call invokes the function with raw argument cells and returns
	// raw result cells; i32/f32 values use the low bits of a cell.
	// Faults in compiled code surface as *trap.Fault errors; errors
	// returned by host imports pass through unchanged.
	Call(ctx context.Context, args ...uint64) ([]uint64, error)
}

// Memory is a linear memory belonging to one instance. Offsets and
// lengths are in bytes unless stated otherwise; accesses past the current
// size fail rather than grow.
type Memory interface {
	// Size returns the current size in bytes.
	Size() uint32

	// Grow extends the memory by delta pages and returns the previous
	// size in pages. Growth past the baked allocation style's bound
	// fails.
	Grow(delta uint32) (uint32, error)

	Read(offset, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error

	ReadU8(offset uint32) (uint8, error)
	ReadU16(offset uint32) (uint16, error)
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)

	WriteU8(offset uint32, value uint8) error
	WriteU16(offset uint32, value uint16) error
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
}
