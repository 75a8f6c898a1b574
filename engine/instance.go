package engine

import (
	"context"
	"sync"

	"github.com/vlakreeh/wasmer"
	"github.com/vlakreeh/wasmer/artifact"
	"github.com/vlakreeh/wasmer/metadata"
	"github.com/vlakreeh/wasmer/trap"
	"github.com/vlakreeh/wasmer/vm"
)

// nativeInstance wraps a vm instance and owns one artifact reference.
type nativeInstance struct {
	engine *NativeEngine
	vm     vm.Instance
	art    *artifact.Artifact
	name   string

	closeOnce sync.Once
}

var _ wasmer.Instance = (*nativeInstance)(nil)

func (i *nativeInstance) Artifact() *artifact.Artifact { return i.art }

func (i *nativeInstance) Function(name string) (wasmer.Function, error) {
	fn, err := i.vm.Function(name)
	if err != nil {
		return nil, err
	}
	return &nativeFunction{inst: i, fn: fn}, nil
}

func (i *nativeInstance) Memory(name string) (wasmer.Memory, bool) {
	return i.vm.Memory(name)
}

func (i *nativeInstance) Close(ctx context.Context) error {
	var err error
	i.closeOnce.Do(func() {
		err = i.vm.Close(ctx)
		i.art.Release()
		i.engine.metrics.instancesLive.Dec()
	})
	return err
}

// nativeFunction converts raw faults from the vm into symbolicated traps
// on the way out.
type nativeFunction struct {
	inst *nativeInstance
	fn   vm.Function
}

var _ wasmer.Function = (*nativeFunction)(nil)

func (f *nativeFunction) Type() metadata.FuncType { return f.fn.Type() }

func (f *nativeFunction) Call(ctx context.Context, args ...uint64) ([]uint64, error) {
	out, err := f.fn.Call(ctx, args...)
	if err != nil {
		return out, f.inst.engine.callError(err)
	}
	return out, nil
}

// callError elevates a fault from compiled code into a trap with a
// stack trace. Errors from host imports pass through untouched so the
// caller can match them directly.
func (e *NativeEngine) callError(err error) error {
	switch v := err.(type) {
	case *trap.Fault:
		tr := trap.Symbolicate(e.traps, v)
		e.metrics.traps.WithLabelValues(tr.Kind.String()).Inc()
		return tr
	case *trap.Trap:
		e.metrics.traps.WithLabelValues(v.Kind.String()).Inc()
		return v
	}
	return err
}
