package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/vlakreeh/wasmer"
	"github.com/vlakreeh/wasmer/artifact"
	"github.com/vlakreeh/wasmer/compiler"
	"github.com/vlakreeh/wasmer/errors"
	"github.com/vlakreeh/wasmer/metadata"
	"github.com/vlakreeh/wasmer/resolver"
	"github.com/vlakreeh/wasmer/target"
	"github.com/vlakreeh/wasmer/trap"
	"github.com/vlakreeh/wasmer/tunables"
	"github.com/vlakreeh/wasmer/vm"
)

func testTarget() target.Target {
	return target.New(target.Triple{Arch: "amd64", OS: "linux", ABI: "gnu"})
}

// testModule declares four local functions and one memory with limits
// min=1 max=10, which the default 64-bit policy turns into a static
// 10-page reservation.
func testModule() *metadata.Module {
	ten := uint64(10)
	return &metadata.Module{
		Name:  "fixture",
		Types: []metadata.FuncType{{}},
		Funcs: []uint32{0, 0, 0, 0},
		Memories: []metadata.MemoryType{
			{Limits: metadata.Limits{Min: 1, Max: &ten}},
		},
		Exports: []metadata.Export{
			{Name: "_start", Kind: metadata.KindFunc, Index: 2},
			{Name: "run", Kind: metadata.KindFunc, Index: 3},
			{Name: "mem", Kind: metadata.KindMemory, Index: 0},
		},
		FuncNames: []metadata.FuncName{
			{Index: 2, Name: "_start"},
			{Index: 3, Name: "_ZN5inner4main17h0123456789abcdefE"},
		},
	}
}

func importingModule() *metadata.Module {
	addType := metadata.FuncType{
		Params:  []metadata.ValType{metadata.ValI32, metadata.ValI32},
		Results: []metadata.ValType{metadata.ValI32},
	}
	return &metadata.Module{
		Name:  "importer",
		Types: []metadata.FuncType{{}, addType},
		Imports: []metadata.Import{
			{Module: "env", Name: "missing_fn", Kind: metadata.KindFunc, Func: &addType},
		},
		Funcs:   []uint32{0},
		Exports: []metadata.Export{{Name: "run", Kind: metadata.KindFunc, Index: 1}},
	}
}

// fakeCompiler emits sixteen bytes of code per function with address
// map entries at body start and at wasm offset 12, enough structure for
// symbolication to resolve exact frames.
type fakeCompiler struct {
	tgt    target.Target
	module *metadata.Module
	diags  []compiler.Diagnostic
	err    error
}

func (c *fakeCompiler) Name() string          { return "fakecc" }
func (c *fakeCompiler) Target() target.Target { return c.tgt }

func (c *fakeCompiler) Compile(_ context.Context, _ []byte, tun tunables.Tunables) (*compiler.Result, error) {
	if c.err != nil {
		return nil, c.err
	}
	memStyles, tabStyles := tunables.DeriveStyles(tun, c.module)

	imported := uint32(c.module.NumImportedFuncs())
	code := make([]byte, len(c.module.Funcs)*16)
	for i := range code {
		code[i] = byte(i)
	}
	funcTable := make([]uint32, len(c.module.Funcs))
	addrMap := make(artifact.AddrMap, 0, len(c.module.Funcs)*2)
	for i := range c.module.Funcs {
		start := uint32(i * 16)
		funcTable[i] = start
		addrMap = append(addrMap,
			artifact.AddrEntry{CodeOffset: start, FuncIndex: imported + uint32(i), WasmOffset: 0},
			artifact.AddrEntry{CodeOffset: start + 12, FuncIndex: imported + uint32(i), WasmOffset: 12},
		)
	}
	return &compiler.Result{
		Metadata:     c.module,
		MemoryStyles: memStyles,
		TableStyles:  tabStyles,
		Code:         code,
		FuncTable:    funcTable,
		AddrMap:      addrMap,
		Diagnostics:  c.diags,
	}, nil
}

// fakeRuntime hands out non-overlapping fake code bases and builds
// instances whose memories honor the artifact's baked styles.
type fakeRuntime struct {
	mu       sync.Mutex
	nextBase uintptr
	bases    map[*artifact.Artifact]uintptr
	loads    int
	releases int
	closed   bool

	startErr func(a *artifact.Artifact, base uintptr) error
	callHook func(inst *fakeVMInstance, name string, args []uint64) ([]uint64, error)
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		nextBase: 0x7f1200000000,
		bases:    make(map[*artifact.Artifact]uintptr),
	}
}

func (r *fakeRuntime) Name() string { return "fakevm" }

func (r *fakeRuntime) LoadCode(a *artifact.Artifact) (uintptr, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	base := r.nextBase
	r.nextBase += (uintptr(len(a.Code())) + 0xfff) &^ uintptr(0xfff)
	r.bases[a] = base
	r.loads++
	return base, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.bases, a)
		r.releases++
	}, nil
}

func (r *fakeRuntime) base(a *artifact.Artifact) uintptr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bases[a]
}

func (r *fakeRuntime) releaseCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.releases
}

func (r *fakeRuntime) NewInstance(_ context.Context, a *artifact.Artifact, _ []resolver.Binding) (vm.Instance, error) {
	base := r.base(a)
	if r.startErr != nil {
		if err := r.startErr(a, base); err != nil {
			return nil, err
		}
	}

	inst := &fakeVMInstance{rt: r, art: a, base: base, mems: make(map[string]*fakeMemory)}
	memTypes := a.Metadata().AllMemories()
	styles := a.MemoryStyles()
	for _, exp := range a.Metadata().Exports {
		if exp.Kind != metadata.KindMemory {
			continue
		}
		inst.mems[exp.Name] = newFakeMemory(memTypes[exp.Index], styles[exp.Index])
	}
	return inst, nil
}

func (r *fakeRuntime) Close(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type fakeVMInstance struct {
	rt     *fakeRuntime
	art    *artifact.Artifact
	base   uintptr
	mems   map[string]*fakeMemory
	closed bool
}

func (i *fakeVMInstance) Artifact() *artifact.Artifact { return i.art }

func (i *fakeVMInstance) Function(name string) (vm.Function, error) {
	exp, ok := i.art.Metadata().Export(name, metadata.KindFunc)
	if !ok {
		return nil, fmt.Errorf("no exported function %q", name)
	}
	return &fakeVMFunction{inst: i, name: name, index: exp.Index}, nil
}

func (i *fakeVMInstance) Memory(name string) (vm.Memory, bool) {
	m, ok := i.mems[name]
	if !ok {
		return nil, false
	}
	return m, true
}

func (i *fakeVMInstance) Close(context.Context) error {
	i.closed = true
	return nil
}

type fakeVMFunction struct {
	inst  *fakeVMInstance
	name  string
	index uint32
}

func (f *fakeVMFunction) Type() metadata.FuncType {
	if t := f.inst.art.Metadata().FuncType(f.index); t != nil {
		return *t
	}
	return metadata.FuncType{}
}

func (f *fakeVMFunction) Call(_ context.Context, args ...uint64) ([]uint64, error) {
	if hook := f.inst.rt.callHook; hook != nil {
		return hook(f.inst, f.name, args)
	}
	return args, nil
}

// fakeMemory allocates per the baked style: static reserves the bound
// up front and growth only extends the accessible window, dynamic
// reallocates on growth.
type fakeMemory struct {
	style    tunables.MemoryStyle
	maxPages uint64
	data     []byte
}

func newFakeMemory(mt metadata.MemoryType, style tunables.MemoryStyle) *fakeMemory {
	maxPages := uint64(tunables.MaxMemoryPages)
	if mt.Limits.Max != nil {
		maxPages = *mt.Limits.Max
	}
	m := &fakeMemory{style: style, maxPages: maxPages}
	initial := int(mt.Limits.Min) * tunables.PageSize
	if style.Kind == tunables.StyleStatic {
		m.data = make([]byte, int(style.Bound)*tunables.PageSize)[:initial]
	} else {
		m.data = make([]byte, initial)
	}
	return m
}

func (m *fakeMemory) Size() uint32 { return uint32(len(m.data)) }

func (m *fakeMemory) Grow(delta uint32) (uint32, error) {
	prevPages := uint32(len(m.data) / tunables.PageSize)
	newPages := uint64(prevPages) + uint64(delta)
	if newPages > m.maxPages {
		return 0, fmt.Errorf("memory grow to %d pages exceeds maximum of %d", newPages, m.maxPages)
	}
	newSize := int(newPages) * tunables.PageSize
	if m.style.Kind == tunables.StyleStatic {
		m.data = m.data[:newSize]
	} else {
		m.data = append(m.data, make([]byte, newSize-len(m.data))...)
	}
	return prevPages, nil
}

func (m *fakeMemory) Read(offset, length uint32) ([]byte, error) {
	if uint64(offset)+uint64(length) > uint64(len(m.data)) {
		return nil, fmt.Errorf("memory read out of bounds: offset=%d, length=%d", offset, length)
	}
	return m.data[offset : offset+length], nil
}

func (m *fakeMemory) Write(offset uint32, data []byte) error {
	if uint64(offset)+uint64(len(data)) > uint64(len(m.data)) {
		return fmt.Errorf("memory write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	copy(m.data[offset:], data)
	return nil
}

func (m *fakeMemory) ReadU8(offset uint32) (uint8, error) {
	b, err := m.Read(offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (m *fakeMemory) ReadU16(offset uint32) (uint16, error) {
	b, err := m.Read(offset, 2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

func (m *fakeMemory) ReadU32(offset uint32) (uint32, error) {
	b, err := m.Read(offset, 4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

func (m *fakeMemory) ReadU64(offset uint32) (uint64, error) {
	lo, err := m.ReadU32(offset)
	if err != nil {
		return 0, err
	}
	hi, err := m.ReadU32(offset + 4)
	if err != nil {
		return 0, err
	}
	return uint64(lo) | uint64(hi)<<32, nil
}

func (m *fakeMemory) WriteU8(offset uint32, value uint8) error {
	return m.Write(offset, []byte{value})
}

func (m *fakeMemory) WriteU16(offset uint32, value uint16) error {
	return m.Write(offset, []byte{byte(value), byte(value >> 8)})
}

func (m *fakeMemory) WriteU32(offset uint32, value uint32) error {
	return m.Write(offset, []byte{byte(value), byte(value >> 8), byte(value >> 16), byte(value >> 24)})
}

func (m *fakeMemory) WriteU64(offset uint32, value uint64) error {
	if err := m.WriteU32(offset, uint32(value)); err != nil {
		return err
	}
	return m.WriteU32(offset+4, uint32(value>>32))
}

func newTestEngine(t *testing.T, mod *metadata.Module) (*NativeEngine, *fakeRuntime) {
	t.Helper()
	rt := newFakeRuntime()
	e, err := NewNative(NativeConfig{
		Compiler: &fakeCompiler{tgt: testTarget(), module: mod},
		Runtime:  rt,
	})
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	return e, rt
}

func TestNewNative_RequiresRuntime(t *testing.T) {
	if _, err := NewNative(NativeConfig{}); err == nil {
		t.Fatal("expected error for missing runtime")
	}
}

func TestNativeEngine_Identity(t *testing.T) {
	e, _ := newTestEngine(t, testModule())
	defer e.Close(context.Background())

	if e.Name() != "native" {
		t.Errorf("Name() = %q, want native", e.Name())
	}
	if e.ID() == "" {
		t.Error("ID() is empty")
	}
	if got := e.Target(); got.Triple != testTarget().Triple {
		t.Errorf("Target() = %v, want %v", got, testTarget())
	}

	e2, _ := newTestEngine(t, testModule())
	defer e2.Close(context.Background())
	if e.ID() == e2.ID() {
		t.Error("two engines share an ID")
	}
}

func TestNativeEngine_Compile(t *testing.T) {
	e, rt := newTestEngine(t, testModule())
	defer e.Close(context.Background())

	a, err := e.Compile(context.Background(), []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if a.EngineID() != "native" {
		t.Errorf("EngineID = %q, want native", a.EngineID())
	}
	if len(a.Code()) != 64 {
		t.Errorf("code size = %d, want 64", len(a.Code()))
	}
	if len(a.FuncTable()) != 4 {
		t.Errorf("func table has %d entries, want 4", len(a.FuncTable()))
	}

	styles := a.MemoryStyles()
	if len(styles) != 1 {
		t.Fatalf("memory styles = %d, want 1", len(styles))
	}
	if styles[0].Kind != tunables.StyleStatic || styles[0].Bound != 10 {
		t.Errorf("memory style = %v, want static bound 10", styles[0])
	}

	if rt.loads != 1 {
		t.Errorf("LoadCode calls = %d, want 1", rt.loads)
	}
	if e.Traps().Len() != 1 {
		t.Errorf("registered code regions = %d, want 1", e.Traps().Len())
	}

	a.Release()
	if rt.releaseCount() != 1 {
		t.Errorf("code releases = %d, want 1", rt.releaseCount())
	}
	if e.Traps().Len() != 0 {
		t.Errorf("code region still registered after release")
	}
}

func TestNativeEngine_CompileHeadless(t *testing.T) {
	rt := newFakeRuntime()
	e, err := NewNative(NativeConfig{Runtime: rt})
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer e.Close(context.Background())

	_, err = e.Compile(context.Background(), []byte{1})
	if !stderrors.Is(err, &errors.Error{Kind: errors.KindHeadless}) {
		t.Fatalf("Compile on headless engine: %v, want headless error", err)
	}
}

func TestNativeEngine_SerializeRoundTrip(t *testing.T) {
	e, rt := newTestEngine(t, testModule())
	defer e.Close(context.Background())

	a, err := e.Compile(context.Background(), []byte{1})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer a.Release()

	data, err := e.Serialize(a)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	b, err := e.Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	defer b.Release()

	if b.EngineID() != a.EngineID() {
		t.Errorf("engine id: got %q, want %q", b.EngineID(), a.EngineID())
	}
	if b.Metadata().Name != a.Metadata().Name {
		t.Errorf("module name: got %q, want %q", b.Metadata().Name, a.Metadata().Name)
	}
	if len(b.Metadata().Funcs) != len(a.Metadata().Funcs) {
		t.Errorf("func count: got %d, want %d", len(b.Metadata().Funcs), len(a.Metadata().Funcs))
	}
	if string(b.Code()) != string(a.Code()) {
		t.Error("code region differs after round trip")
	}
	if len(b.FuncTable()) != len(a.FuncTable()) {
		t.Errorf("func table: got %d, want %d", len(b.FuncTable()), len(a.FuncTable()))
	}
	if got, want := b.MemoryStyles(), a.MemoryStyles(); len(got) != len(want) || got[0] != want[0] {
		t.Errorf("memory styles: got %v, want %v", got, want)
	}
	if rt.loads != 2 {
		t.Errorf("LoadCode calls = %d, want 2 (compile + deserialize)", rt.loads)
	}

	// The restored artifact symbolicates like the original.
	fault := &trap.Fault{Kind: trap.Unreachable, PC: rt.base(b) + 60}
	tr := trap.Symbolicate(e.Traps(), fault)
	if len(tr.Frames) != 1 || tr.Frames[0].FuncIndex != 3 || tr.Frames[0].WasmOffset != 12 {
		t.Errorf("frames after round trip = %v", tr.Frames)
	}
}

// rawArtifact builds an artifact directly, bypassing the engine, so
// tests can vary target and engine kind.
func rawArtifact(t *testing.T, tgt target.Target, engineID string) *artifact.Artifact {
	t.Helper()
	fc := &fakeCompiler{tgt: tgt, module: testModule()}
	res, err := fc.Compile(context.Background(), nil, tunables.ForTarget(tgt))
	if err != nil {
		t.Fatalf("fake compile: %v", err)
	}
	a, err := artifact.New(artifact.Config{
		Metadata:     res.Metadata,
		Target:       tgt,
		EngineID:     engineID,
		Code:         res.Code,
		FuncTable:    res.FuncTable,
		AddrMap:      res.AddrMap,
		MemoryStyles: res.MemoryStyles,
		TableStyles:  res.TableStyles,
	})
	if err != nil {
		t.Fatalf("artifact.New: %v", err)
	}
	return a
}

func TestNativeEngine_RejectsForeignArtifacts(t *testing.T) {
	e, _ := newTestEngine(t, testModule())
	defer e.Close(context.Background())

	foreign := rawArtifact(t, testTarget(), "wazero")
	defer foreign.Release()

	if _, err := e.Serialize(foreign); !stderrors.Is(err, &errors.Error{Kind: errors.KindInvalidInput}) {
		t.Errorf("Serialize foreign artifact: %v, want invalid_input", err)
	}
	if _, err := e.Instantiate(context.Background(), foreign, nil); !stderrors.Is(err, &errors.Error{Kind: errors.KindInvalidInput}) {
		t.Errorf("Instantiate foreign artifact: %v, want invalid_input", err)
	}

	data, err := foreign.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := e.Deserialize(data); !stderrors.Is(err, &errors.Error{Kind: errors.KindInvalidInput}) {
		t.Errorf("Deserialize foreign artifact: %v, want invalid_input", err)
	}
}

func TestNativeEngine_DeserializeFailures(t *testing.T) {
	e, _ := newTestEngine(t, testModule())
	defer e.Close(context.Background())

	a, err := e.Compile(context.Background(), []byte{1})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer a.Release()
	data, err := e.Serialize(a)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	t.Run("bad magic", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[0] ^= 0xFF
		if _, err := e.Deserialize(bad); !stderrors.Is(err, &errors.Error{Kind: errors.KindBadMagic}) {
			t.Errorf("got %v, want bad_magic", err)
		}
	})

	t.Run("payload corruption", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[len(bad)-1] ^= 0xFF
		if _, err := e.Deserialize(bad); !stderrors.Is(err, &errors.Error{Kind: errors.KindHashMismatch}) {
			t.Errorf("got %v, want hash_mismatch", err)
		}
	})

	t.Run("incompatible target", func(t *testing.T) {
		other := rawArtifact(t, target.New(target.Triple{Arch: "arm64", OS: "linux", ABI: "gnu"}), "native")
		defer other.Release()
		enc, err := other.Encode()
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if _, err := e.Deserialize(enc); !stderrors.Is(err, &errors.Error{Kind: errors.KindIncompatibleTarget}) {
			t.Errorf("got %v, want incompatible_target", err)
		}
	})
}

func TestNativeEngine_Instantiate(t *testing.T) {
	e, _ := newTestEngine(t, testModule())
	defer e.Close(context.Background())
	ctx := context.Background()

	a, err := e.Compile(ctx, []byte{1})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer a.Release()

	inst, err := e.Instantiate(ctx, a, nil)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer inst.Close(ctx)

	if inst.Artifact() != a {
		t.Error("instance does not report its artifact")
	}

	fn, err := inst.Function("run")
	if err != nil {
		t.Fatalf("Function: %v", err)
	}
	out, err := fn.Call(ctx, 7)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(out) != 1 || out[0] != 7 {
		t.Errorf("Call result = %v, want [7]", out)
	}

	if _, err := inst.Function("nope"); err == nil {
		t.Error("expected error for unknown function")
	}
	if _, ok := inst.Memory("nope"); ok {
		t.Error("expected no memory named nope")
	}
}

func TestNativeEngine_MemoryStyles(t *testing.T) {
	e, _ := newTestEngine(t, testModule())
	defer e.Close(context.Background())
	ctx := context.Background()

	a, err := e.Compile(ctx, []byte{1})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer a.Release()

	inst, err := e.Instantiate(ctx, a, nil)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer inst.Close(ctx)

	mem, ok := inst.Memory("mem")
	if !ok {
		t.Fatal("no exported memory")
	}
	if mem.Size() != tunables.PageSize {
		t.Errorf("initial size = %d, want one page", mem.Size())
	}

	// Static style reserved the full bound up front.
	fm := mem.(*fakeMemory)
	if cap(fm.data) != 10*tunables.PageSize {
		t.Errorf("reserved capacity = %d pages, want 10", cap(fm.data)/tunables.PageSize)
	}

	prev, err := mem.Grow(2)
	if err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if prev != 1 {
		t.Errorf("Grow returned previous size %d, want 1", prev)
	}
	if mem.Size() != 3*tunables.PageSize {
		t.Errorf("size after grow = %d, want 3 pages", mem.Size())
	}
	if _, err := mem.Grow(20); err == nil {
		t.Error("expected error growing past the declared maximum")
	}

	if err := mem.WriteU32(16, 0xCAFEBABE); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
	v, err := mem.ReadU32(16)
	if err != nil {
		t.Fatalf("ReadU32: %v", err)
	}
	if v != 0xCAFEBABE {
		t.Errorf("ReadU32 = %#x, want 0xCAFEBABE", v)
	}
}

func TestNativeEngine_InstantiateMissingImport(t *testing.T) {
	e, _ := newTestEngine(t, importingModule())
	defer e.Close(context.Background())
	ctx := context.Background()

	a, err := e.Compile(ctx, []byte{1})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer a.Release()

	_, err = e.Instantiate(ctx, a, resolver.Null{})
	if err == nil {
		t.Fatal("expected link error")
	}
	var le *errors.LinkError
	if !stderrors.As(err, &le) {
		t.Fatalf("error %T is not a LinkError: %v", err, err)
	}
	if len(le.Unsatisfied) != 1 {
		t.Fatalf("unsatisfied imports = %d, want 1", len(le.Unsatisfied))
	}
	if u := le.Unsatisfied[0]; u.Module != "env" || u.Name != "missing_fn" {
		t.Errorf("unsatisfied import = %q.%q, want env.missing_fn", u.Module, u.Name)
	}
	if !strings.Contains(err.Error(), `"env"."missing_fn" is not provided`) {
		t.Errorf("error does not name the missing import: %v", err)
	}
}

func TestNativeEngine_InstantiateStartFault(t *testing.T) {
	e, rt := newTestEngine(t, testModule())
	defer e.Close(context.Background())
	ctx := context.Background()

	a, err := e.Compile(ctx, []byte{1})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer a.Release()

	rt.startErr = func(a *artifact.Artifact, base uintptr) error {
		return &trap.Fault{Kind: trap.Unreachable, PC: base + 60}
	}
	_, err = e.Instantiate(ctx, a, nil)
	if err == nil {
		t.Fatal("expected instantiation error")
	}
	if !stderrors.Is(err, &errors.Error{Kind: errors.KindInstantiation}) {
		t.Errorf("error kind: %v, want instantiation", err)
	}
	if !stderrors.Is(err, trap.Unreachable) {
		t.Errorf("error does not wrap the unreachable trap: %v", err)
	}
	var tr *trap.Trap
	if !stderrors.As(err, &tr) {
		t.Fatalf("error %T does not wrap a trap", err)
	}
	if len(tr.Frames) != 1 || tr.Frames[0].FuncIndex != 3 || tr.Frames[0].WasmOffset != 12 {
		t.Errorf("frames = %v, want func 3 at offset 12", tr.Frames)
	}

	// The failed instantiation returned its reference; the caller's is
	// the only one left.
	if rt.releaseCount() != 0 {
		t.Errorf("code released while the caller still holds the artifact")
	}
}

func TestNativeEngine_InstantiateTunablesConflict(t *testing.T) {
	e, _ := newTestEngine(t, testModule())
	defer e.Close(context.Background())
	ctx := context.Background()

	a, err := e.Compile(ctx, []byte{1})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer a.Release()

	// A policy that would have made this memory dynamic conflicts with
	// the static style baked into the artifact.
	conflicting := tunables.Base{
		StaticMemoryBound: 4,
		StaticGuardSize:   64 << 10,
		DynamicGuardSize:  64 << 10,
		StaticTableBound:  1 << 16,
	}
	_, err = e.Instantiate(ctx, a, nil, wasmer.WithTunables(conflicting))
	if err == nil {
		t.Fatal("expected style conflict")
	}
	if !stderrors.Is(err, &errors.Error{Kind: errors.KindInstantiation}) {
		t.Errorf("error kind: %v, want instantiation", err)
	}
	if !strings.Contains(err.Error(), "style conflict") {
		t.Errorf("error does not describe the conflict: %v", err)
	}

	// The engine's own policy matches what was baked in.
	inst, err := e.Instantiate(ctx, a, nil, wasmer.WithTunables(e.Tunables()))
	if err != nil {
		t.Fatalf("Instantiate with matching tunables: %v", err)
	}
	inst.Close(ctx)
}

func TestNativeEngine_CallFaultSymbolicated(t *testing.T) {
	e, rt := newTestEngine(t, testModule())
	defer e.Close(context.Background())
	ctx := context.Background()

	a, err := e.Compile(ctx, []byte{1})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer a.Release()

	inst, err := e.Instantiate(ctx, a, nil)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer inst.Close(ctx)

	rt.callHook = func(i *fakeVMInstance, _ string, _ []uint64) ([]uint64, error) {
		return nil, &trap.Fault{Kind: trap.MemoryOutOfBounds, PC: i.base + 60}
	}
	fn, err := inst.Function("run")
	if err != nil {
		t.Fatalf("Function: %v", err)
	}
	_, err = fn.Call(ctx)
	if err == nil {
		t.Fatal("expected trap")
	}

	var tr *trap.Trap
	if !stderrors.As(err, &tr) {
		t.Fatalf("error %T is not a trap: %v", err, err)
	}
	if tr.Kind != trap.MemoryOutOfBounds {
		t.Errorf("kind = %v, want out of bounds memory access", tr.Kind)
	}
	if len(tr.Frames) != 1 {
		t.Fatalf("frames = %v, want one", tr.Frames)
	}
	if f := tr.Frames[0]; f.FuncIndex != 3 || f.WasmOffset != 12 || f.FuncName != "inner::main" {
		t.Errorf("frame = %+v, want func 3 offset 12 inner::main", f)
	}
	if !strings.Contains(err.Error(), "inner::main (func 3, offset 12)") {
		t.Errorf("message does not locate the fault: %v", err)
	}
}

func TestNativeEngine_HostErrorPassthrough(t *testing.T) {
	e, rt := newTestEngine(t, testModule())
	defer e.Close(context.Background())
	ctx := context.Background()

	a, err := e.Compile(ctx, []byte{1})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer a.Release()

	inst, err := e.Instantiate(ctx, a, nil)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer inst.Close(ctx)

	hostErr := stderrors.New("database unavailable")
	rt.callHook = func(*fakeVMInstance, string, []uint64) ([]uint64, error) {
		return nil, hostErr
	}
	fn, err := inst.Function("run")
	if err != nil {
		t.Fatalf("Function: %v", err)
	}
	_, err = fn.Call(ctx)
	if !stderrors.Is(err, hostErr) {
		t.Errorf("host error was rewritten: %v", err)
	}
	var tr *trap.Trap
	if stderrors.As(err, &tr) {
		t.Error("host error was converted into a trap")
	}
}

func TestNativeEngine_InstanceIsolation(t *testing.T) {
	e, rt := newTestEngine(t, testModule())
	defer e.Close(context.Background())
	ctx := context.Background()

	a, err := e.Compile(ctx, []byte{1})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	first, err := e.Instantiate(ctx, a, nil)
	if err != nil {
		t.Fatalf("Instantiate first: %v", err)
	}
	second, err := e.Instantiate(ctx, a, nil)
	if err != nil {
		t.Fatalf("Instantiate second: %v", err)
	}

	m1, _ := first.Memory("mem")
	m2, _ := second.Memory("mem")
	if err := m1.WriteU32(0, 0xDEADBEEF); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
	v, err := m2.ReadU32(0)
	if err != nil {
		t.Fatalf("ReadU32: %v", err)
	}
	if v != 0 {
		t.Errorf("write to one instance leaked into another: %#x", v)
	}

	// Closing one instance leaves the other callable.
	if err := first.Close(ctx); err != nil {
		t.Fatalf("Close first: %v", err)
	}
	fn, err := second.Function("run")
	if err != nil {
		t.Fatalf("Function after sibling close: %v", err)
	}
	if _, err := fn.Call(ctx, 1); err != nil {
		t.Errorf("Call after sibling close: %v", err)
	}

	// Code stays loaded until every holder lets go.
	a.Release()
	if rt.releaseCount() != 0 {
		t.Error("code released while an instance is live")
	}
	second.Close(ctx)
	if rt.releaseCount() != 1 {
		t.Errorf("code releases = %d, want 1 after last holder closed", rt.releaseCount())
	}
}

func TestNativeEngine_Close(t *testing.T) {
	e, rt := newTestEngine(t, testModule())
	ctx := context.Background()

	a, err := e.Compile(ctx, []byte{1})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	data, err := e.Serialize(a)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	a.Release()

	if err := e.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !rt.closed {
		t.Error("runtime not closed")
	}
	if err := e.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}

	if _, err := e.Compile(ctx, []byte{1}); !stderrors.Is(err, &errors.Error{Kind: errors.KindClosed}) {
		t.Errorf("Compile after close: %v, want closed", err)
	}
	if _, err := e.Deserialize(data); !stderrors.Is(err, &errors.Error{Kind: errors.KindClosed}) {
		t.Errorf("Deserialize after close: %v, want closed", err)
	}
}
