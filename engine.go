package wasmer

import (
	"context"

	"github.com/vlakreeh/wasmer/artifact"
	"github.com/vlakreeh/wasmer/metadata"
	"github.com/vlakreeh/wasmer/resolver"
	"github.com/vlakreeh/wasmer/target"
	"github.com/vlakreeh/wasmer/tunables"
	"github.com/vlakreeh/wasmer/vm"
)

// Engine compiles WebAssembly modules into artifacts, moves artifacts in
// and out of their serialized form, and activates them into instances.
// The set of implementations is closed: the engine subpackage provides a
// native backend driven by a code generator and a portable backend that
// re-compiles bytecode on load.
//
// Engines are safe for concurrent use. Artifacts are tied to the engine
// kind that produced them; handing an artifact to an engine of another
// kind fails.
type Engine interface {
	// Name identifies the engine kind, such as "native" or "wazero".
	// Artifacts record this and only deserialize on the same kind.
	Name() string

	// ID uniquely identifies this engine instance within the process.
	ID() string

	// Target reports what the engine compiles for and what it accepts
	// when deserializing.
	Target() target.Target

	// Tunables returns the allocation policy baked into artifacts this
	// engine compiles.
	Tunables() tunables.Tunables

	// Compile validates and compiles bytecode into a ready-to-run
	// artifact. The caller owns the returned reference and releases it
	// with Release when done; live instances keep their own references.
	Compile(ctx context.Context, bytecode []byte) (*artifact.Artifact, error)

	// Serialize encodes an artifact this engine produced into its
	// portable byte form.
	Serialize(a *artifact.Artifact) ([]byte, error)

	// SerializeToFile writes the serialized form to path.
	SerializeToFile(a *artifact.Artifact, path string) error

	// Deserialize validates and loads a previously serialized
	// artifact. Compatibility with the engine's target is established
	// before any code byte is trusted; incompatible and corrupt inputs
	// fail with distinguishable errors.
	Deserialize(data []byte) (*artifact.Artifact, error)

	// DeserializeFromFile maps the file at path and loads it like
	// Deserialize. The artifact holds the mapping until released.
	DeserializeFromFile(path string) (*artifact.Artifact, error)

	// Instantiate links an artifact's imports through r and activates
	// an isolated instance, running the start function if the module
	// declares one. Linking is atomic: on any unsatisfied import the
	// returned error names every offender and no instance exists.
	Instantiate(ctx context.Context, a *artifact.Artifact, r resolver.Resolver, opts ...InstantiateOption) (Instance, error)

	// Close shuts the engine down. Artifacts and instances created by
	// the engine must be released first.
	Close(ctx context.Context) error
}

// Instance is one running activation of an artifact. Instances never
// share mutable state: memories, tables and globals are private even
// among instances of the same artifact.
type Instance interface {
	// Artifact returns the artifact this instance runs.
	Artifact() *artifact.Artifact

	// Function looks up an exported function by name.
	Function(name string) (Function, error)

	// Memory looks up an exported memory by name.
	Memory(name string) (Memory, bool)

	// Close tears down the instance and releases its artifact
	// reference. Close is idempotent.
	Close(ctx context.Context) error
}

// Function is a callable export of an instance. Traps raised while
// executing surface as *trap.Trap errors with a symbolicated stack trace
// where available.
type Function interface {
	Type() metadata.FuncType
	Call(ctx context.Context, args ...uint64) ([]uint64, error)
}

// Memory is an instance's linear memory, as exposed by the execution
// backend.
type Memory = vm.Memory

// InstantiateOptions adjust a single Instantiate call.
type InstantiateOptions struct {
	// Tunables lets the caller state the allocation policy it expects
	// the artifact to carry. Styles are baked at compile time, so this
	// is a cross-check only: a conflict fails instantiation, it never
	// re-derives styles.
	Tunables tunables.Tunables

	// Name labels the instance in logs and traces.
	Name string
}

// InstantiateOption mutates InstantiateOptions.
type InstantiateOption func(*InstantiateOptions)

// WithTunables declares the expected allocation policy for a cross-check
// against the artifact's baked styles.
func WithTunables(t tunables.Tunables) InstantiateOption {
	return func(o *InstantiateOptions) { o.Tunables = t }
}

// WithInstanceName labels the instance in logs and traces.
func WithInstanceName(name string) InstantiateOption {
	return func(o *InstantiateOptions) { o.Name = name }
}

// NewInstantiateOptions folds opts into a settled options value.
func NewInstantiateOptions(opts ...InstantiateOption) InstantiateOptions {
	var o InstantiateOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
