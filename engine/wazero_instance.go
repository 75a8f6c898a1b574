package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/vlakreeh/wasmer"
	"github.com/vlakreeh/wasmer/artifact"
	"github.com/vlakreeh/wasmer/errors"
	"github.com/vlakreeh/wasmer/metadata"
	"github.com/vlakreeh/wasmer/trap"
)

// wazeroInstance owns a dedicated wazero runtime so that closing one
// instance never disturbs another built from the same artifact.
type wazeroInstance struct {
	engine *WazeroEngine
	rt     wazero.Runtime
	mod    api.Module
	art    *artifact.Artifact
	name   string

	closeOnce sync.Once
}

var _ wasmer.Instance = (*wazeroInstance)(nil)

func (i *wazeroInstance) Artifact() *artifact.Artifact { return i.art }

func (i *wazeroInstance) Function(name string) (wasmer.Function, error) {
	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return nil, errors.New(errors.PhaseCall, errors.KindInvalidInput).
			Detail("no exported function %q", name).
			Build()
	}
	return &wazeroFunction{inst: i, fn: fn}, nil
}

func (i *wazeroInstance) Memory(name string) (wasmer.Memory, bool) {
	mem := i.mod.ExportedMemory(name)
	if mem == nil {
		return nil, false
	}
	return &wazeroMemory{mem: mem}, true
}

func (i *wazeroInstance) Close(ctx context.Context) error {
	var err error
	i.closeOnce.Do(func() {
		if cerr := i.mod.Close(ctx); cerr != nil {
			err = cerr
		}
		if cerr := i.rt.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
		i.art.Release()
		i.engine.metrics.instancesLive.Dec()
	})
	return err
}

// wazeroFunction converts wazero's textual runtime errors into traps so
// callers see the same taxonomy on every backend.
type wazeroFunction struct {
	inst *wazeroInstance
	fn   api.Function
}

var _ wasmer.Function = (*wazeroFunction)(nil)

func (f *wazeroFunction) Type() metadata.FuncType {
	def := f.fn.Definition()
	return metadata.FuncType{
		Params:  fromAPITypes(def.ParamTypes()),
		Results: fromAPITypes(def.ResultTypes()),
	}
}

func (f *wazeroFunction) Call(ctx context.Context, args ...uint64) ([]uint64, error) {
	results, err := f.fn.Call(ctx, args...)
	if err == nil {
		return results, nil
	}
	if _, ok := err.(*sys.ExitError); ok {
		return nil, err
	}
	if tr, ok := classifyTrap(f.inst.art, err); ok {
		f.inst.engine.metrics.traps.WithLabelValues(tr.Kind.String()).Inc()
		return nil, tr
	}
	return nil, err
}

// fromAPITypes converts wazero value types back to metadata value
// types. Both use the binary-format encoding, so this is a cast per
// element.
func fromAPITypes(vals []api.ValueType) []metadata.ValType {
	if len(vals) == 0 {
		return nil
	}
	out := make([]metadata.ValType, len(vals))
	for i, v := range vals {
		out[i] = metadata.ValType(v)
	}
	return out
}

// wazeroTrapKinds maps wazero's runtime error wording onto trap kinds.
// Ordering matters only for readability; the substrings are disjoint.
var wazeroTrapKinds = []struct {
	substr string
	kind   trap.Kind
}{
	{"out of bounds memory access", trap.MemoryOutOfBounds},
	{"out of bounds table access", trap.TableOutOfBounds},
	{"invalid table access", trap.TableOutOfBounds},
	{"uninitialized element", trap.IndirectCallToNull},
	{"null reference", trap.IndirectCallToNull},
	{"indirect call type mismatch", trap.BadSignature},
	{"integer divide by zero", trap.IntegerDivideByZero},
	{"integer overflow", trap.IntegerOverflow},
	{"invalid conversion to integer", trap.BadConversionToInteger},
	{"stack overflow", trap.StackExhausted},
	{"call stack exhausted", trap.StackExhausted},
	{"unaligned atomic", trap.UnalignedAtomic},
	{"unreachable", trap.Unreachable},
}

// classifyTrap recognizes a wazero runtime fault from its error text and
// rebuilds it as a *trap.Trap with function-granularity frames. Errors
// raised by host imports and context errors do not match and pass
// through unchanged.
func classifyTrap(a *artifact.Artifact, err error) (*trap.Trap, bool) {
	text := err.Error()
	reason, stack, _ := strings.Cut(text, "\nwasm stack trace:\n")
	reason = strings.TrimPrefix(reason, "wasm error: ")

	kind := trap.Unknown
	for _, m := range wazeroTrapKinds {
		if strings.Contains(reason, m.substr) {
			kind = m.kind
			break
		}
	}
	if kind == trap.Unknown {
		return nil, false
	}

	tr := trap.New(kind)
	tr.Frames = parseFrames(a.Metadata(), stack)
	return tr, true
}

// parseFrames reads wazero's stack trace lines, one frame per line in
// the form "\t<module>.<func>(<params>)". Unnamed functions appear as
// $N where N is the function index.
func parseFrames(m *metadata.Module, stack string) []trap.Frame {
	var frames []trap.Frame
	for _, line := range strings.Split(stack, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "...") {
			continue
		}
		open := strings.IndexByte(line, '(')
		if open < 0 {
			continue
		}
		qualified := line[:open]
		dot := strings.LastIndexByte(qualified, '.')
		if dot < 0 {
			continue
		}
		frames = append(frames, resolveFrame(m, qualified[dot+1:]))
		if len(frames) == trap.MaxFrames {
			break
		}
	}
	return frames
}

func resolveFrame(m *metadata.Module, name string) trap.Frame {
	if rest, ok := strings.CutPrefix(name, "$"); ok {
		if idx, err := strconv.ParseUint(rest, 10, 32); err == nil {
			fr := trap.Frame{FuncIndex: uint32(idx)}
			if n, ok := m.FuncName(uint32(idx)); ok {
				fr.FuncName = trap.Demangle(n)
			}
			return fr
		}
	}
	fr := trap.Frame{FuncName: trap.Demangle(name)}
	for _, fn := range m.FuncNames {
		if fn.Name == name {
			fr.FuncIndex = fn.Index
			return fr
		}
	}
	if exp, ok := m.Export(name, metadata.KindFunc); ok {
		fr.FuncIndex = exp.Index
	}
	return fr
}

// wazeroMemory adapts api.Memory's ok-style accessors to error returns.
type wazeroMemory struct {
	mem api.Memory
}

var _ wasmer.Memory = (*wazeroMemory)(nil)

func (m *wazeroMemory) Size() uint32 { return m.mem.Size() }

func (m *wazeroMemory) Grow(delta uint32) (uint32, error) {
	prev, ok := m.mem.Grow(delta)
	if !ok {
		return 0, fmt.Errorf("memory grow by %d page(s) exceeds the allocation bound", delta)
	}
	return prev, nil
}

func (m *wazeroMemory) Read(offset, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("memory read out of bounds: offset=%d, length=%d", offset, length)
	}
	return data, nil
}

func (m *wazeroMemory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return fmt.Errorf("memory write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	return nil
}

func (m *wazeroMemory) ReadU8(offset uint32) (uint8, error) {
	v, ok := m.mem.ReadByte(offset)
	if !ok {
		return 0, fmt.Errorf("memory read out of bounds: offset=%d", offset)
	}
	return v, nil
}

func (m *wazeroMemory) ReadU16(offset uint32) (uint16, error) {
	v, ok := m.mem.ReadUint16Le(offset)
	if !ok {
		return 0, fmt.Errorf("memory read out of bounds: offset=%d", offset)
	}
	return v, nil
}

func (m *wazeroMemory) ReadU32(offset uint32) (uint32, error) {
	v, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, fmt.Errorf("memory read out of bounds: offset=%d", offset)
	}
	return v, nil
}

func (m *wazeroMemory) ReadU64(offset uint32) (uint64, error) {
	v, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, fmt.Errorf("memory read out of bounds: offset=%d", offset)
	}
	return v, nil
}

func (m *wazeroMemory) WriteU8(offset uint32, value uint8) error {
	if !m.mem.WriteByte(offset, value) {
		return fmt.Errorf("memory write out of bounds: offset=%d", offset)
	}
	return nil
}

func (m *wazeroMemory) WriteU16(offset uint32, value uint16) error {
	if !m.mem.WriteUint16Le(offset, value) {
		return fmt.Errorf("memory write out of bounds: offset=%d", offset)
	}
	return nil
}

func (m *wazeroMemory) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return fmt.Errorf("memory write out of bounds: offset=%d", offset)
	}
	return nil
}

func (m *wazeroMemory) WriteU64(offset uint32, value uint64) error {
	if !m.mem.WriteUint64Le(offset, value) {
		return fmt.Errorf("memory write out of bounds: offset=%d", offset)
	}
	return nil
}
