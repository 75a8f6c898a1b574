package metadata

import "sort"

// Module is the linkable surface of a compiled module. Imports keep
// their declaration order; Funcs, Tables, Memories and Globals describe
// locally defined items, indexed after the imported ones of their kind.
type Module struct {
	Name string

	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // Type indices for locally defined functions
	Tables   []TableType
	Memories []MemoryType
	Globals  []GlobalType
	Exports  []Export
	Start    *uint32

	// FuncNames carries symbol names recovered at compile time (name
	// section or equivalent), sorted by function index.
	FuncNames []FuncName
}

func (m *Module) NumImportedFuncs() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Kind == KindFunc {
			count++
		}
	}
	return count
}

func (m *Module) NumImportedTables() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Kind == KindTable {
			count++
		}
	}
	return count
}

func (m *Module) NumImportedMemories() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Kind == KindMemory {
			count++
		}
	}
	return count
}

func (m *Module) NumImportedGlobals() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Kind == KindGlobal {
			count++
		}
	}
	return count
}

// FuncType returns the signature of the function at funcIdx in the
// combined index space, or nil if the index is out of range.
func (m *Module) FuncType(funcIdx uint32) *FuncType {
	remaining := funcIdx
	for i := range m.Imports {
		if m.Imports[i].Kind != KindFunc {
			continue
		}
		if remaining == 0 {
			return m.Imports[i].Func
		}
		remaining--
	}
	if int(remaining) >= len(m.Funcs) {
		return nil
	}
	typeIdx := m.Funcs[remaining]
	if int(typeIdx) >= len(m.Types) {
		return nil
	}
	return &m.Types[typeIdx]
}

// AllMemories returns memory types in the combined index space,
// imported memories first.
func (m *Module) AllMemories() []MemoryType {
	out := make([]MemoryType, 0, m.NumImportedMemories()+len(m.Memories))
	for i := range m.Imports {
		if m.Imports[i].Kind == KindMemory && m.Imports[i].Memory != nil {
			out = append(out, *m.Imports[i].Memory)
		}
	}
	return append(out, m.Memories...)
}

// AllTables returns table types in the combined index space, imported
// tables first.
func (m *Module) AllTables() []TableType {
	out := make([]TableType, 0, m.NumImportedTables()+len(m.Tables))
	for i := range m.Imports {
		if m.Imports[i].Kind == KindTable && m.Imports[i].Table != nil {
			out = append(out, *m.Imports[i].Table)
		}
	}
	return append(out, m.Tables...)
}

// Export returns the export with the given name and kind.
func (m *Module) Export(name string, kind byte) (Export, bool) {
	for _, exp := range m.Exports {
		if exp.Name == name && exp.Kind == kind {
			return exp, true
		}
	}
	return Export{}, false
}

// FuncName returns the recorded name for a function index. When no name
// was recorded it falls back to an export with that index, if any.
func (m *Module) FuncName(funcIdx uint32) (string, bool) {
	i := sort.Search(len(m.FuncNames), func(i int) bool {
		return m.FuncNames[i].Index >= funcIdx
	})
	if i < len(m.FuncNames) && m.FuncNames[i].Index == funcIdx {
		return m.FuncNames[i].Name, true
	}
	for _, exp := range m.Exports {
		if exp.Kind == KindFunc && exp.Index == funcIdx {
			return exp.Name, true
		}
	}
	return "", false
}

// SortFuncNames restores the index order FuncName lookups rely on.
// Call it after appending names out of order.
func (m *Module) SortFuncNames() {
	sort.Slice(m.FuncNames, func(i, j int) bool {
		return m.FuncNames[i].Index < m.FuncNames[j].Index
	})
}
