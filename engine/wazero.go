package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vlakreeh/wasmer"
	"github.com/vlakreeh/wasmer/artifact"
	"github.com/vlakreeh/wasmer/errors"
	"github.com/vlakreeh/wasmer/internal/wasmscan"
	"github.com/vlakreeh/wasmer/metadata"
	"github.com/vlakreeh/wasmer/resolver"
	"github.com/vlakreeh/wasmer/target"
	"github.com/vlakreeh/wasmer/tunables"
)

// wazeroKind tags artifacts produced by the portable engine. Their code
// region is the original bytecode; machine code is regenerated on load,
// which is what makes them portable across hosts.
const wazeroKind = "wazero"

// WazeroConfig configures a portable engine.
type WazeroConfig struct {
	// Tunables fix the allocation policy baked into compiled
	// artifacts. Defaults to tunables.ForTarget of the portable
	// target.
	Tunables tunables.Tunables

	// CacheDir persists regenerated machine code between processes.
	// Empty keeps the compilation cache in memory.
	CacheDir string

	// Metrics receives the engine's collectors. Nil leaves them
	// unregistered.
	Metrics prometheus.Registerer
}

// WazeroEngine runs modules through wazero, re-compiling bytecode on
// load. Its artifacts carry the portable pseudo-target and deserialize
// on any host.
type WazeroEngine struct {
	id      string
	tgt     target.Target
	tun     tunables.Tunables
	cache   wazero.CompilationCache
	metrics *engineMetrics
	tracer  trace.Tracer
	log     *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

var _ wasmer.Engine = (*WazeroEngine)(nil)

// NewWazero creates a portable engine.
func NewWazero(cfg WazeroConfig) (*WazeroEngine, error) {
	tgt := target.Portable()
	tun := cfg.Tunables
	if tun == nil {
		tun = tunables.ForTarget(tgt)
	}

	var cache wazero.CompilationCache
	if cfg.CacheDir != "" {
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(cfg.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("engine: compilation cache at %s: %w", cfg.CacheDir, err)
		}
	} else {
		cache = wazero.NewCompilationCache()
	}

	e := &WazeroEngine{
		id:      uuid.NewString(),
		tgt:     tgt,
		tun:     tun,
		cache:   cache,
		metrics: newEngineMetrics(cfg.Metrics, wazeroKind),
		tracer:  otel.Tracer("github.com/vlakreeh/wasmer/engine"),
		closed:  make(chan struct{}),
	}
	e.log = Logger().With(zap.String("engine", wazeroKind), zap.String("engine_id", e.id))

	e.log.Debug("portable engine created", zap.String("cache_dir", cfg.CacheDir))
	return e, nil
}

// Name implements wasmer.Engine.
func (e *WazeroEngine) Name() string { return wazeroKind }

// ID implements wasmer.Engine.
func (e *WazeroEngine) ID() string { return e.id }

// Target implements wasmer.Engine.
func (e *WazeroEngine) Target() target.Target { return e.tgt }

// Tunables implements wasmer.Engine.
func (e *WazeroEngine) Tunables() tunables.Tunables { return e.tun }

func (e *WazeroEngine) isClosed() bool {
	select {
	case <-e.closed:
		return true
	default:
		return false
	}
}

// runtimeConfig builds the per-instantiation runtime configuration. Each
// instance gets its own wazero runtime for isolation; the shared
// compilation cache keeps re-compilation from repeating work.
func (e *WazeroEngine) runtimeConfig(a *artifact.Artifact) wazero.RuntimeConfig {
	cfg := wazero.NewRuntimeConfig().
		WithCompilationCache(e.cache).
		WithCloseOnContextDone(true)

	// Memory styles were baked at compile time. A static style turns
	// into an up-front reservation of the bound; dynamic memories rely
	// on the declared limits alone.
	if styles := a.MemoryStyles(); len(styles) > 0 && styles[0].Kind == tunables.StyleStatic {
		cfg = cfg.
			WithMemoryCapacityFromMax(true).
			WithMemoryLimitPages(uint32(styles[0].Bound))
	}
	return cfg
}

// Compile implements wasmer.Engine.
func (e *WazeroEngine) Compile(ctx context.Context, bytecode []byte) (*artifact.Artifact, error) {
	ctx, span := e.tracer.Start(ctx, "wasmer.Engine.Compile", trace.WithAttributes(
		attribute.String("engine.id", e.id),
		attribute.Int("bytecode.size", len(bytecode)),
	))
	defer span.End()

	a, err := e.compile(ctx, bytecode)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return a, nil
}

func (e *WazeroEngine) compile(ctx context.Context, bytecode []byte) (*artifact.Artifact, error) {
	if e.isClosed() {
		return nil, errors.Closed(errors.PhaseCompile, "engine")
	}

	started := time.Now()
	scan, err := wasmscan.Module(bytecode)
	if err != nil {
		return nil, errors.Compile(err)
	}

	// wazero performs full validation and warms the shared cache, so
	// instantiation later hits compiled code.
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCompilationCache(e.cache))
	compiled, err := rt.CompileModule(ctx, bytecode)
	if err != nil {
		rt.Close(ctx)
		return nil, errors.Compile(err)
	}
	compiled.Close(ctx)
	rt.Close(ctx)

	memStyles, tabStyles := tunables.DeriveStyles(e.tun, scan.Module)

	// The portable artifact's code region is the bytecode itself. The
	// address map points each function at its body so offset lookups
	// resolve to function granularity.
	code := append([]byte(nil), bytecode...)
	funcTable := make([]uint32, len(scan.Bodies))
	addrMap := make(artifact.AddrMap, len(scan.Bodies))
	imported := uint32(scan.Module.NumImportedFuncs())
	for i, body := range scan.Bodies {
		funcTable[i] = body.Offset
		addrMap[i] = artifact.AddrEntry{
			CodeOffset: body.Offset,
			FuncIndex:  imported + uint32(i),
			WasmOffset: 0,
		}
	}

	a, err := artifact.New(artifact.Config{
		Metadata:     scan.Module,
		Target:       e.tgt,
		EngineID:     wazeroKind,
		Code:         code,
		FuncTable:    funcTable,
		AddrMap:      addrMap,
		MemoryStyles: memStyles,
		TableStyles:  tabStyles,
	})
	if err != nil {
		return nil, errors.Compile(err)
	}

	e.metrics.compiles.Inc()
	e.metrics.artifactsLive.Inc()
	a.OnRelease(func() { e.metrics.artifactsLive.Dec() })
	e.metrics.compileSeconds.Observe(time.Since(started).Seconds())
	e.log.Debug("module compiled",
		zap.String("module", scan.Module.Name),
		zap.Int("bytecode_size", len(bytecode)),
		zap.Duration("elapsed", time.Since(started)))
	return a, nil
}

func (e *WazeroEngine) owned(phase errors.Phase, a *artifact.Artifact) error {
	if a.EngineID() != wazeroKind {
		return errors.New(phase, errors.KindInvalidInput).
			Detail("artifact was produced by engine kind %q, this engine is %q", a.EngineID(), wazeroKind).
			Build()
	}
	return nil
}

// Serialize implements wasmer.Engine.
func (e *WazeroEngine) Serialize(a *artifact.Artifact) ([]byte, error) {
	if err := e.owned(errors.PhaseSerialize, a); err != nil {
		return nil, err
	}
	data, err := a.Encode()
	if err != nil {
		return nil, err
	}
	e.metrics.serializes.Inc()
	return data, nil
}

// SerializeToFile implements wasmer.Engine.
func (e *WazeroEngine) SerializeToFile(a *artifact.Artifact, path string) error {
	if err := e.owned(errors.PhaseSerialize, a); err != nil {
		return err
	}
	if err := a.EncodeToFile(path); err != nil {
		return err
	}
	e.metrics.serializes.Inc()
	return nil
}

// Deserialize implements wasmer.Engine.
func (e *WazeroEngine) Deserialize(data []byte) (*artifact.Artifact, error) {
	return e.deserialize(func() (*artifact.Artifact, error) {
		return artifact.Decode(data, e.tgt)
	})
}

// DeserializeFromFile implements wasmer.Engine.
func (e *WazeroEngine) DeserializeFromFile(path string) (*artifact.Artifact, error) {
	return e.deserialize(func() (*artifact.Artifact, error) {
		return artifact.DecodeFile(path, e.tgt)
	})
}

func (e *WazeroEngine) deserialize(decode func() (*artifact.Artifact, error)) (*artifact.Artifact, error) {
	if e.isClosed() {
		return nil, errors.Closed(errors.PhaseDeserialize, "engine")
	}
	a, err := decode()
	if err != nil {
		return nil, err
	}
	if err := e.owned(errors.PhaseDeserialize, a); err != nil {
		a.Release()
		return nil, err
	}
	e.metrics.deserializes.Inc()
	e.metrics.artifactsLive.Inc()
	a.OnRelease(func() { e.metrics.artifactsLive.Dec() })
	return a, nil
}

// Instantiate implements wasmer.Engine.
func (e *WazeroEngine) Instantiate(ctx context.Context, a *artifact.Artifact, r resolver.Resolver, opts ...wasmer.InstantiateOption) (wasmer.Instance, error) {
	o := wasmer.NewInstantiateOptions(opts...)

	ctx, span := e.tracer.Start(ctx, "wasmer.Engine.Instantiate", trace.WithAttributes(
		attribute.String("engine.id", e.id),
		attribute.String("instance.name", o.Name),
	))
	defer span.End()

	inst, err := e.instantiate(ctx, a, r, o)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return inst, nil
}

func (e *WazeroEngine) instantiate(ctx context.Context, a *artifact.Artifact, r resolver.Resolver, o wasmer.InstantiateOptions) (wasmer.Instance, error) {
	if e.isClosed() {
		return nil, errors.Closed(errors.PhaseInstantiate, "engine")
	}
	if err := e.owned(errors.PhaseInstantiate, a); err != nil {
		return nil, err
	}
	if a.Code() == nil {
		return nil, errors.Closed(errors.PhaseInstantiate, "artifact")
	}

	if o.Tunables != nil {
		if err := tunables.CheckStyles(o.Tunables, a.Metadata(), a.MemoryStyles(), a.TableStyles()); err != nil {
			return nil, errors.Instantiation(err)
		}
	}

	if r == nil {
		r = resolver.Null{}
	}
	bindings, err := resolver.BuildBindings(a.Metadata(), r)
	if err != nil {
		e.metrics.linkFailures.Inc()
		return nil, err
	}
	for _, b := range bindings {
		if _, ok := b.Extern.(resolver.Func); !ok {
			return nil, errors.Unsupported(errors.PhaseInstantiate,
				fmt.Sprintf("%s import %q.%q on the portable engine",
					metadata.KindName(b.Import.Kind), b.Import.Module, b.Import.Name))
		}
	}

	if err := a.Retain(); err != nil {
		return nil, errors.Closed(errors.PhaseInstantiate, "artifact")
	}

	rt := wazero.NewRuntimeWithConfig(ctx, e.runtimeConfig(a))
	inst, err := e.activate(ctx, rt, a, bindings, o)
	if err != nil {
		rt.Close(ctx)
		a.Release()
		return nil, err
	}
	return inst, nil
}

// activate builds host modules for the bindings, re-compiles the
// bytecode through the shared cache and instantiates the module. The
// module's start function runs inside InstantiateModule.
func (e *WazeroEngine) activate(ctx context.Context, rt wazero.Runtime, a *artifact.Artifact, bindings []resolver.Binding, o wasmer.InstantiateOptions) (wasmer.Instance, error) {
	byModule := make(map[string][]resolver.Binding)
	var moduleOrder []string
	for _, b := range bindings {
		if _, seen := byModule[b.Import.Module]; !seen {
			moduleOrder = append(moduleOrder, b.Import.Module)
		}
		byModule[b.Import.Module] = append(byModule[b.Import.Module], b)
	}

	for _, modName := range moduleOrder {
		builder := rt.NewHostModuleBuilder(modName)
		for _, b := range byModule[modName] {
			fn := b.Extern.(resolver.Func)
			builder = builder.NewFunctionBuilder().
				WithGoModuleFunction(hostFunc(fn), toAPITypes(fn.Type.Params), toAPITypes(fn.Type.Results)).
				Export(b.Import.Name)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return nil, errors.Instantiation(fmt.Errorf("host module %q: %w", modName, err))
		}
	}

	compiled, err := rt.CompileModule(ctx, a.Code())
	if err != nil {
		return nil, errors.Instantiation(err)
	}

	name := o.Name
	if name == "" {
		name = a.Metadata().Name
	}
	cfg := wazero.NewModuleConfig().WithName(name).WithStartFunctions()
	mod, err := rt.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		if tr, ok := classifyTrap(a, err); ok {
			e.metrics.traps.WithLabelValues(tr.Kind.String()).Inc()
			return nil, errors.Instantiation(tr)
		}
		return nil, errors.Instantiation(err)
	}

	e.metrics.instances.Inc()
	e.metrics.instancesLive.Inc()
	e.log.Debug("instance created",
		zap.String("module", a.Metadata().Name),
		zap.String("instance", o.Name))

	return &wazeroInstance{engine: e, rt: rt, mod: mod, art: a, name: o.Name}, nil
}

// hostFunc adapts a resolver host function to wazero's stack calling
// convention. An error from the host function unwinds the wasm stack as
// a panic; wazero converts it back into an error at the call boundary.
func hostFunc(fn resolver.Func) api.GoModuleFunc {
	nResults := len(fn.Type.Results)
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		args := make([]uint64, len(fn.Type.Params))
		copy(args, stack)
		out, err := fn.Call(ctx, args)
		if err != nil {
			panic(err)
		}
		copy(stack[:nResults], out)
	}
}

func toAPITypes(vals []metadata.ValType) []api.ValueType {
	if len(vals) == 0 {
		return nil
	}
	out := make([]api.ValueType, len(vals))
	for i, v := range vals {
		out[i] = api.ValueType(v)
	}
	return out
}

// Close implements wasmer.Engine.
func (e *WazeroEngine) Close(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		e.log.Debug("engine closed")
		err = e.cache.Close(ctx)
	})
	return err
}
