// Package wasmer provides a WebAssembly execution-engine abstraction: a
// stable host-facing surface for compiling modules into artifacts,
// persisting compiled artifacts across processes and machines, and
// instantiating them with host-supplied imports.
//
// The engine owns everything between a module's bytecode and a running
// instance: compilation scheduling, artifact lifetime, serialization
// with compatibility gating, import linking and runtime trap recovery.
// Code generation and instance execution sit behind narrow interfaces
// so the same surface drives both a native machine-code backend and a
// portable backend that regenerates code on load.
//
// # Architecture Overview
//
// The library is organized into packages with distinct responsibilities:
//
//	wasmer/              Root package with the Engine, Instance and Function surface
//	├── engine/          The two engine backends: native and portable (wazero)
//	├── artifact/        Immutable compiled modules and their binary serialization
//	├── metadata/        Module signature surface: types, imports, exports, names
//	├── resolver/        Import resolution and link-time type checking
//	├── tunables/        Memory/table allocation policy fixed at compile time
//	├── target/          Compilation targets and host compatibility gating
//	├── trap/            Trap taxonomy, code-region registry, stack recovery
//	├── cache/           Filesystem artifact cache keyed by bytecode hash
//	├── compiler/        Boundary to code-generation backends
//	├── vm/              Boundary to instance execution backends
//	└── errors/          Structured errors for every engine phase
//
// # Quick Start
//
// Compile and run a module on the portable engine:
//
//	eng, err := engine.NewWazero(engine.WazeroConfig{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(ctx)
//
//	art, err := eng.Compile(ctx, wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer art.Release()
//
//	imports := resolver.NewMap().DefineFunc("env", "now", metadata.FuncType{
//	    Results: []metadata.ValType{metadata.ValI64},
//	}, func(ctx context.Context, args []uint64) ([]uint64, error) {
//	    return []uint64{uint64(time.Now().Unix())}, nil
//	})
//
//	inst, err := eng.Instantiate(ctx, art, imports)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close(ctx)
//
//	run, err := inst.Function("run")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	results, err := run.Call(ctx, 42)
//
// # Artifacts
//
// Compile produces an Artifact: metadata, generated code, the address
// map back to bytecode offsets and the allocation styles chosen at
// compile time. Artifacts serialize to a versioned binary format that
// records the producing engine kind, the compilation target and a
// payload hash; Deserialize rejects foreign, incompatible or corrupt
// inputs before trusting a single code byte, with errors that
// distinguish corruption from incompatibility.
//
// Artifacts are reference counted. Instances and caches call Retain,
// and backing resources unmap exactly once, when the last reference is
// released.
//
// # Traps
//
// When compiled code faults, the engine rebuilds a wasm-level stack
// trace from the raw machine state through the artifact's address map
// and reports a *trap.Trap whose Kind distinguishes memory violations,
// arithmetic faults, signature mismatches and stack exhaustion. Errors
// returned by host functions are never rewritten; they come back to
// the caller as passed.
//
// # Thread Safety
//
// Engines, artifacts and resolvers are safe for concurrent use.
// Instances are not; confine each instance to one goroutine or
// synchronize access.
package wasmer
