// Package engine provides the two execution-engine backends behind the
// wasmer.Engine interface: a native engine that runs machine code
// produced by a compiler, and a portable engine that re-compiles
// bytecode on load through wazero.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vlakreeh/wasmer"
	"github.com/vlakreeh/wasmer/artifact"
	"github.com/vlakreeh/wasmer/compiler"
	"github.com/vlakreeh/wasmer/errors"
	"github.com/vlakreeh/wasmer/resolver"
	"github.com/vlakreeh/wasmer/target"
	"github.com/vlakreeh/wasmer/trap"
	"github.com/vlakreeh/wasmer/tunables"
	"github.com/vlakreeh/wasmer/vm"
)

// nativeKind tags artifacts produced by any native engine. Serialized
// native artifacts interoperate across native engines with compatible
// targets.
const nativeKind = "native"

// NativeConfig configures a native engine.
type NativeConfig struct {
	// Compiler generates machine code. Nil creates a headless engine
	// that only runs artifacts compiled elsewhere.
	Compiler compiler.Compiler

	// Runtime executes finished artifacts. Required.
	Runtime vm.Runtime

	// Tunables fix the allocation policy baked into compiled
	// artifacts. Defaults to tunables.ForTarget of the engine target.
	Tunables tunables.Tunables

	// Metrics receives the engine's collectors. Nil leaves them
	// unregistered.
	Metrics prometheus.Registerer
}

// NativeEngine compiles modules to machine code and runs them directly.
// A headless native engine has no compiler and serves deserialized
// artifacts only.
type NativeEngine struct {
	id       string
	compiler compiler.Compiler
	runtime  vm.Runtime
	tgt      target.Target
	tun      tunables.Tunables
	traps    *trap.Registry
	metrics  *engineMetrics
	tracer   trace.Tracer
	log      *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

var _ wasmer.Engine = (*NativeEngine)(nil)

// NewNative creates a native engine.
func NewNative(cfg NativeConfig) (*NativeEngine, error) {
	if cfg.Runtime == nil {
		return nil, fmt.Errorf("engine: native engine needs a runtime")
	}

	tgt := target.Host()
	if cfg.Compiler != nil {
		tgt = cfg.Compiler.Target()
	}
	tun := cfg.Tunables
	if tun == nil {
		tun = tunables.ForTarget(tgt)
	}

	e := &NativeEngine{
		id:       uuid.NewString(),
		compiler: cfg.Compiler,
		runtime:  cfg.Runtime,
		tgt:      tgt,
		tun:      tun,
		traps:    trap.NewRegistry(),
		metrics:  newEngineMetrics(cfg.Metrics, nativeKind),
		tracer:   otel.Tracer("github.com/vlakreeh/wasmer/engine"),
		closed:   make(chan struct{}),
	}
	e.log = Logger().With(zap.String("engine", nativeKind), zap.String("engine_id", e.id))

	e.log.Debug("native engine created",
		zap.String("target", tgt.String()),
		zap.Bool("headless", cfg.Compiler == nil),
		zap.String("runtime", cfg.Runtime.Name()))
	return e, nil
}

// Name implements wasmer.Engine.
func (e *NativeEngine) Name() string { return nativeKind }

// ID implements wasmer.Engine.
func (e *NativeEngine) ID() string { return e.id }

// Target implements wasmer.Engine.
func (e *NativeEngine) Target() target.Target { return e.tgt }

// Tunables implements wasmer.Engine.
func (e *NativeEngine) Tunables() tunables.Tunables { return e.tun }

// Traps exposes the engine's code-region registry. The registry outlives
// individual artifacts; symbolication for a fault must go through the
// registry of the engine that loaded the code.
func (e *NativeEngine) Traps() *trap.Registry { return e.traps }

func (e *NativeEngine) isClosed() bool {
	select {
	case <-e.closed:
		return true
	default:
		return false
	}
}

// Compile implements wasmer.Engine.
func (e *NativeEngine) Compile(ctx context.Context, bytecode []byte) (*artifact.Artifact, error) {
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
	span.SetAttributes(attribute.Int("code.size", len(a.Code())))
	return a, nil
}

func (e *NativeEngine) compile(ctx context.Context, bytecode []byte) (*artifact.Artifact, error) {
	if e.isClosed() {
		return nil, errors.Closed(errors.PhaseCompile, "engine")
	}
	if e.compiler == nil {
		return nil, errors.Headless("compile")
	}

	started := time.Now()
	res, err := e.compiler.Compile(ctx, bytecode, e.tun)
	if err != nil {
		if _, ok := err.(*errors.Error); ok {
			return nil, err
		}
		return nil, errors.Compile(err)
	}

	// The compiler derives styles from the same tunables; a mismatch
	// here is a backend bug, not a user error, but it must never reach
	// an artifact.
	if err := tunables.CheckStyles(e.tun, res.Metadata, res.MemoryStyles, res.TableStyles); err != nil {
		return nil, errors.Compile(err)
	}

	a, err := artifact.New(artifact.Config{
		Metadata:     res.Metadata,
		Target:       e.tgt,
		EngineID:     nativeKind,
		Code:         res.Code,
		FuncTable:    res.FuncTable,
		AddrMap:      res.AddrMap,
		MemoryStyles: res.MemoryStyles,
		TableStyles:  res.TableStyles,
	})
	if err != nil {
		return nil, errors.Compile(err)
	}

	if err := e.finish(a); err != nil {
		a.Release()
		return nil, errors.Compile(err)
	}

	for _, d := range res.Diagnostics {
		e.log.Info("compile diagnostic", zap.String("diagnostic", d.String()))
	}
	e.metrics.compiles.Inc()
	e.metrics.compileSeconds.Observe(time.Since(started).Seconds())
	e.log.Debug("module compiled",
		zap.String("module", res.Metadata.Name),
		zap.Int("bytecode_size", len(bytecode)),
		zap.Int("code_size", len(res.Code)),
		zap.Duration("elapsed", time.Since(started)))
	return a, nil
}

// finish makes an artifact executable: the runtime loads its code and
// the code region joins the trap registry. Both are undone when the
// artifact's refcount hits zero.
func (e *NativeEngine) finish(a *artifact.Artifact) error {
	base, release, err := e.runtime.LoadCode(a)
	if err != nil {
		return fmt.Errorf("load code: %w", err)
	}
	unregister, err := e.traps.Register(a, base)
	if err != nil {
		release()
		return fmt.Errorf("register code region: %w", err)
	}

	e.metrics.artifactsLive.Inc()
	a.OnRelease(func() {
		unregister()
		release()
		e.metrics.artifactsLive.Dec()
	})
	return nil
}

// owned rejects artifacts produced by another engine kind.
func (e *NativeEngine) owned(phase errors.Phase, a *artifact.Artifact) error {
	if a.EngineID() != nativeKind {
		return errors.New(phase, errors.KindInvalidInput).
			Detail("artifact was produced by engine kind %q, this engine is %q", a.EngineID(), nativeKind).
			Build()
	}
	return nil
}

// Serialize implements wasmer.Engine.
func (e *NativeEngine) Serialize(a *artifact.Artifact) ([]byte, error) {
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
func (e *NativeEngine) SerializeToFile(a *artifact.Artifact, path string) error {
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
func (e *NativeEngine) Deserialize(data []byte) (*artifact.Artifact, error) {
	return e.deserialize(func() (*artifact.Artifact, error) {
		return artifact.Decode(data, e.tgt)
	})
}

// DeserializeFromFile implements wasmer.Engine.
func (e *NativeEngine) DeserializeFromFile(path string) (*artifact.Artifact, error) {
	return e.deserialize(func() (*artifact.Artifact, error) {
		return artifact.DecodeFile(path, e.tgt)
	})
}

func (e *NativeEngine) deserialize(decode func() (*artifact.Artifact, error)) (*artifact.Artifact, error) {
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
	if err := e.finish(a); err != nil {
		a.Release()
		return nil, errors.New(errors.PhaseDeserialize, errors.KindResourceLimit).
			Detail("loading code").Cause(err).Build()
	}
	e.metrics.deserializes.Inc()
	return a, nil
}

// Instantiate implements wasmer.Engine.
func (e *NativeEngine) Instantiate(ctx context.Context, a *artifact.Artifact, r resolver.Resolver, opts ...wasmer.InstantiateOption) (wasmer.Instance, error) {
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

func (e *NativeEngine) instantiate(ctx context.Context, a *artifact.Artifact, r resolver.Resolver, o wasmer.InstantiateOptions) (wasmer.Instance, error) {
	if e.isClosed() {
		return nil, errors.Closed(errors.PhaseInstantiate, "engine")
	}
	if err := e.owned(errors.PhaseInstantiate, a); err != nil {
		return nil, err
	}
	if a.Code() == nil {
		return nil, errors.Closed(errors.PhaseInstantiate, "artifact")
	}

	// Styles were fixed when the artifact was compiled. Caller-supplied
	// tunables only assert expectations; a disagreement is an error,
	// never a re-derivation.
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

	if err := a.Retain(); err != nil {
		return nil, errors.Closed(errors.PhaseInstantiate, "artifact")
	}

	vmInst, err := e.runtime.NewInstance(ctx, a, bindings)
	if err != nil {
		a.Release()
		return nil, e.instantiationError(err)
	}

	e.metrics.instances.Inc()
	e.metrics.instancesLive.Inc()
	e.log.Debug("instance created",
		zap.String("module", a.Metadata().Name),
		zap.String("instance", o.Name))

	return &nativeInstance{engine: e, vm: vmInst, art: a, name: o.Name}, nil
}

// instantiationError shapes a runtime failure from instance creation.
// Start-function faults become symbolicated traps inside an
// instantiation error; structured resource errors pass through.
func (e *NativeEngine) instantiationError(err error) error {
	if fault, ok := err.(*trap.Fault); ok {
		tr := trap.Symbolicate(e.traps, fault)
		e.metrics.traps.WithLabelValues(tr.Kind.String()).Inc()
		return errors.Instantiation(tr)
	}
	if structured, ok := err.(*errors.Error); ok {
		return structured
	}
	return errors.Instantiation(err)
}

// Close implements wasmer.Engine.
func (e *NativeEngine) Close(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		e.log.Debug("engine closed")
		err = e.runtime.Close(ctx)
	})
	return err
}
