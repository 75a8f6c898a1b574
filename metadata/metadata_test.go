package metadata

import "testing"

func u64(v uint64) *uint64 { return &v }

func TestFuncTypeString(t *testing.T) {
	tests := []struct {
		name string
		ft   FuncType
		want string
	}{
		{"nullary", FuncType{}, "() -> ()"},
		{"add", FuncType{Params: []ValType{ValI32, ValI32}, Results: []ValType{ValI32}}, "(i32, i32) -> (i32)"},
		{"mixed", FuncType{Params: []ValType{ValI64, ValF64}, Results: []ValType{ValF32, ValExternRef}}, "(i64, f64) -> (f32, externref)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ft.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFuncTypeEqual(t *testing.T) {
	a := FuncType{Params: []ValType{ValI32, ValI32}, Results: []ValType{ValI32}}
	tests := []struct {
		name  string
		other FuncType
		want  bool
	}{
		{"identical", FuncType{Params: []ValType{ValI32, ValI32}, Results: []ValType{ValI32}}, true},
		{"fewer params", FuncType{Params: []ValType{ValI32}, Results: []ValType{ValI32}}, false},
		{"different param type", FuncType{Params: []ValType{ValI32, ValI64}, Results: []ValType{ValI32}}, false},
		{"different result", FuncType{Params: []ValType{ValI32, ValI32}, Results: []ValType{ValI64}}, false},
		{"no results", FuncType{Params: []ValType{ValI32, ValI32}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Equal(tt.other); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLimitsSatisfies(t *testing.T) {
	tests := []struct {
		name     string
		provided Limits
		required Limits
		want     bool
	}{
		{"equal unbounded", Limits{Min: 1}, Limits{Min: 1}, true},
		{"larger min ok", Limits{Min: 4}, Limits{Min: 1}, true},
		{"smaller min rejected", Limits{Min: 0}, Limits{Min: 1}, false},
		{"bounded within required max", Limits{Min: 1, Max: u64(8)}, Limits{Min: 1, Max: u64(10)}, true},
		{"bounded at required max", Limits{Min: 1, Max: u64(10)}, Limits{Min: 1, Max: u64(10)}, true},
		{"exceeds required max", Limits{Min: 1, Max: u64(16)}, Limits{Min: 1, Max: u64(10)}, false},
		{"unbounded against required max", Limits{Min: 1}, Limits{Min: 1, Max: u64(10)}, false},
		{"bounded against unbounded requirement", Limits{Min: 1, Max: u64(2)}, Limits{Min: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.provided.Satisfies(tt.required); got != tt.want {
				t.Errorf("Satisfies() = %v, want %v", got, tt.want)
			}
		})
	}
}

func testModule() *Module {
	return &Module{
		Types: []FuncType{
			{Params: []ValType{ValI32}, Results: []ValType{ValI32}},
			{Params: []ValType{ValI32, ValI32}, Results: []ValType{ValI32}},
		},
		Imports: []Import{
			{Module: "env", Name: "log", Kind: KindFunc, Func: &FuncType{Params: []ValType{ValI32}}},
			{Module: "env", Name: "mem", Kind: KindMemory, Memory: &MemoryType{Limits: Limits{Min: 1}}},
			{Module: "env", Name: "tick", Kind: KindFunc, Func: &FuncType{Results: []ValType{ValI64}}},
		},
		Funcs:    []uint32{1, 0},
		Memories: []MemoryType{{Limits: Limits{Min: 2, Max: u64(10)}}},
		Exports: []Export{
			{Name: "add", Kind: KindFunc, Index: 2},
			{Name: "main", Kind: KindFunc, Index: 3},
		},
		FuncNames: []FuncName{{Index: 3, Name: "real_main"}},
	}
}

func TestModuleFuncType(t *testing.T) {
	m := testModule()
	tests := []struct {
		idx  uint32
		want string
	}{
		{0, "(i32) -> ()"},       // first imported
		{1, "() -> (i64)"},       // second imported
		{2, "(i32, i32) -> (i32)"}, // first defined, type index 1
		{3, "(i32) -> (i32)"},    // second defined, type index 0
	}
	for _, tt := range tests {
		ft := m.FuncType(tt.idx)
		if ft == nil {
			t.Fatalf("FuncType(%d) = nil", tt.idx)
		}
		if got := ft.String(); got != tt.want {
			t.Errorf("FuncType(%d) = %s, want %s", tt.idx, got, tt.want)
		}
	}
	if m.FuncType(4) != nil {
		t.Error("FuncType(4) should be nil for out-of-range index")
	}
}

func TestModuleCounts(t *testing.T) {
	m := testModule()
	if got := m.NumImportedFuncs(); got != 2 {
		t.Errorf("NumImportedFuncs() = %d, want 2", got)
	}
	if got := m.NumImportedMemories(); got != 1 {
		t.Errorf("NumImportedMemories() = %d, want 1", got)
	}
	if got := m.NumImportedTables(); got != 0 {
		t.Errorf("NumImportedTables() = %d, want 0", got)
	}
}

func TestAllMemoriesOrder(t *testing.T) {
	m := testModule()
	mems := m.AllMemories()
	if len(mems) != 2 {
		t.Fatalf("AllMemories() returned %d, want 2", len(mems))
	}
	if mems[0].Limits.Min != 1 {
		t.Errorf("imported memory should come first, got min=%d", mems[0].Limits.Min)
	}
	if mems[1].Limits.Min != 2 || mems[1].Limits.Max == nil {
		t.Errorf("defined memory out of place: %+v", mems[1])
	}
}

func TestFuncNameLookup(t *testing.T) {
	m := testModule()

	// Recorded name wins over the export table.
	if name, ok := m.FuncName(3); !ok || name != "real_main" {
		t.Errorf("FuncName(3) = %q, %v; want real_main, true", name, ok)
	}
	// Export name as fallback.
	if name, ok := m.FuncName(2); !ok || name != "add" {
		t.Errorf("FuncName(2) = %q, %v; want add, true", name, ok)
	}
	// Nothing known.
	if _, ok := m.FuncName(0); ok {
		t.Error("FuncName(0) should not resolve")
	}
}

func TestSortFuncNames(t *testing.T) {
	m := &Module{FuncNames: []FuncName{{Index: 5, Name: "b"}, {Index: 1, Name: "a"}}}
	m.SortFuncNames()
	if name, ok := m.FuncName(1); !ok || name != "a" {
		t.Errorf("FuncName(1) after sort = %q, %v", name, ok)
	}
	if name, ok := m.FuncName(5); !ok || name != "b" {
		t.Errorf("FuncName(5) after sort = %q, %v", name, ok)
	}
}

func TestExportLookup(t *testing.T) {
	m := testModule()
	if exp, ok := m.Export("add", KindFunc); !ok || exp.Index != 2 {
		t.Errorf("Export(add) = %+v, %v", exp, ok)
	}
	if _, ok := m.Export("add", KindMemory); ok {
		t.Error("Export(add, memory) should not resolve")
	}
	if _, ok := m.Export("missing", KindFunc); ok {
		t.Error("Export(missing) should not resolve")
	}
}
