package artifact

import (
	"fmt"

	"github.com/vlakreeh/wasmer/metadata"
	"github.com/vlakreeh/wasmer/tunables"

	"github.com/vlakreeh/wasmer/internal/binary"
)

// Metadata section codec. Every collection is length-prefixed and kept
// in its in-memory order, which New has already validated, so encoding
// is deterministic by construction.

func encodeSection(w *binary.Writer, a *Artifact) {
	w.WriteName(a.engineID)
	encodeModule(w, a.meta)

	w.WriteU32(uint32(len(a.funcTable)))
	for _, off := range a.funcTable {
		w.WriteU32(off)
	}

	w.WriteU32(uint32(len(a.addrMap)))
	for _, e := range a.addrMap {
		w.WriteU32(e.CodeOffset)
		w.WriteU32(e.FuncIndex)
		w.WriteU32(e.WasmOffset)
	}

	w.WriteU32(uint32(len(a.memStyles)))
	for _, s := range a.memStyles {
		w.Byte(byte(s.Kind))
		w.WriteU64(s.Bound)
		w.WriteU64(s.OffsetGuardSize)
	}

	w.WriteU32(uint32(len(a.tabStyles)))
	for _, s := range a.tabStyles {
		w.Byte(byte(s.Kind))
		w.WriteU64(s.Bound)
	}
}

type section struct {
	engineID  string
	module    *metadata.Module
	funcTable []uint32
	addrMap   AddrMap
	memStyles []tunables.MemoryStyle
	tabStyles []tunables.TableStyle
}

func decodeSection(data []byte) (*section, error) {
	r := binary.NewReader(data)
	s := &section{}

	var err error
	if s.engineID, err = r.ReadName(); err != nil {
		return nil, err
	}
	if s.module, err = decodeModule(r); err != nil {
		return nil, err
	}

	n, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	s.funcTable = make([]uint32, n)
	for i := range s.funcTable {
		if s.funcTable[i], err = r.ReadU32(); err != nil {
			return nil, err
		}
	}

	if n, err = r.ReadU32(); err != nil {
		return nil, err
	}
	s.addrMap = make(AddrMap, n)
	for i := range s.addrMap {
		e := &s.addrMap[i]
		if e.CodeOffset, err = r.ReadU32(); err != nil {
			return nil, err
		}
		if e.FuncIndex, err = r.ReadU32(); err != nil {
			return nil, err
		}
		if e.WasmOffset, err = r.ReadU32(); err != nil {
			return nil, err
		}
	}

	if n, err = r.ReadU32(); err != nil {
		return nil, err
	}
	s.memStyles = make([]tunables.MemoryStyle, n)
	for i := range s.memStyles {
		kind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		s.memStyles[i].Kind = tunables.StyleKind(kind)
		if s.memStyles[i].Bound, err = r.ReadU64(); err != nil {
			return nil, err
		}
		if s.memStyles[i].OffsetGuardSize, err = r.ReadU64(); err != nil {
			return nil, err
		}
	}

	if n, err = r.ReadU32(); err != nil {
		return nil, err
	}
	s.tabStyles = make([]tunables.TableStyle, n)
	for i := range s.tabStyles {
		kind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		s.tabStyles[i].Kind = tunables.StyleKind(kind)
		if s.tabStyles[i].Bound, err = r.ReadU64(); err != nil {
			return nil, err
		}
	}

	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after metadata section", r.Remaining())
	}
	return s, nil
}

func encodeModule(w *binary.Writer, m *metadata.Module) {
	w.WriteName(m.Name)

	w.WriteU32(uint32(len(m.Types)))
	for i := range m.Types {
		encodeFuncType(w, &m.Types[i])
	}

	w.WriteU32(uint32(len(m.Imports)))
	for i := range m.Imports {
		imp := &m.Imports[i]
		w.WriteName(imp.Module)
		w.WriteName(imp.Name)
		w.Byte(imp.Kind)
		switch imp.Kind {
		case metadata.KindFunc:
			encodeFuncType(w, imp.Func)
		case metadata.KindTable:
			encodeTableType(w, imp.Table)
		case metadata.KindMemory:
			encodeLimits(w, imp.Memory.Limits)
		case metadata.KindGlobal:
			w.Byte(byte(imp.Global.ValType))
			w.WriteBool(imp.Global.Mutable)
		}
	}

	w.WriteU32(uint32(len(m.Funcs)))
	for _, typeIdx := range m.Funcs {
		w.WriteU32(typeIdx)
	}

	w.WriteU32(uint32(len(m.Tables)))
	for i := range m.Tables {
		encodeTableType(w, &m.Tables[i])
	}

	w.WriteU32(uint32(len(m.Memories)))
	for i := range m.Memories {
		encodeLimits(w, m.Memories[i].Limits)
	}

	w.WriteU32(uint32(len(m.Globals)))
	for i := range m.Globals {
		w.Byte(byte(m.Globals[i].ValType))
		w.WriteBool(m.Globals[i].Mutable)
	}

	w.WriteU32(uint32(len(m.Exports)))
	for i := range m.Exports {
		w.WriteName(m.Exports[i].Name)
		w.Byte(m.Exports[i].Kind)
		w.WriteU32(m.Exports[i].Index)
	}

	w.WriteBool(m.Start != nil)
	if m.Start != nil {
		w.WriteU32(*m.Start)
	}

	w.WriteU32(uint32(len(m.FuncNames)))
	for i := range m.FuncNames {
		w.WriteU32(m.FuncNames[i].Index)
		w.WriteName(m.FuncNames[i].Name)
	}
}

func decodeModule(r *binary.Reader) (*metadata.Module, error) {
	m := &metadata.Module{}

	var err error
	if m.Name, err = r.ReadName(); err != nil {
		return nil, err
	}

	n, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	m.Types = make([]metadata.FuncType, n)
	for i := range m.Types {
		if m.Types[i], err = decodeFuncType(r); err != nil {
			return nil, err
		}
	}

	if n, err = r.ReadU32(); err != nil {
		return nil, err
	}
	m.Imports = make([]metadata.Import, n)
	for i := range m.Imports {
		imp := &m.Imports[i]
		if imp.Module, err = r.ReadName(); err != nil {
			return nil, err
		}
		if imp.Name, err = r.ReadName(); err != nil {
			return nil, err
		}
		if imp.Kind, err = r.ReadByte(); err != nil {
			return nil, err
		}
		switch imp.Kind {
		case metadata.KindFunc:
			ft, err := decodeFuncType(r)
			if err != nil {
				return nil, err
			}
			imp.Func = &ft
		case metadata.KindTable:
			tt, err := decodeTableType(r)
			if err != nil {
				return nil, err
			}
			imp.Table = &tt
		case metadata.KindMemory:
			limits, err := decodeLimits(r)
			if err != nil {
				return nil, err
			}
			imp.Memory = &metadata.MemoryType{Limits: limits}
		case metadata.KindGlobal:
			vt, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			mutable, err := r.ReadBool()
			if err != nil {
				return nil, err
			}
			imp.Global = &metadata.GlobalType{ValType: metadata.ValType(vt), Mutable: mutable}
		default:
			return nil, fmt.Errorf("import %d has unknown kind %d", i, imp.Kind)
		}
	}

	if n, err = r.ReadU32(); err != nil {
		return nil, err
	}
	m.Funcs = make([]uint32, n)
	for i := range m.Funcs {
		if m.Funcs[i], err = r.ReadU32(); err != nil {
			return nil, err
		}
		if int(m.Funcs[i]) >= len(m.Types) {
			return nil, fmt.Errorf("function %d references type %d of %d", i, m.Funcs[i], len(m.Types))
		}
	}

	if n, err = r.ReadU32(); err != nil {
		return nil, err
	}
	m.Tables = make([]metadata.TableType, n)
	for i := range m.Tables {
		if m.Tables[i], err = decodeTableType(r); err != nil {
			return nil, err
		}
	}

	if n, err = r.ReadU32(); err != nil {
		return nil, err
	}
	m.Memories = make([]metadata.MemoryType, n)
	for i := range m.Memories {
		limits, err := decodeLimits(r)
		if err != nil {
			return nil, err
		}
		m.Memories[i] = metadata.MemoryType{Limits: limits}
	}

	if n, err = r.ReadU32(); err != nil {
		return nil, err
	}
	m.Globals = make([]metadata.GlobalType, n)
	for i := range m.Globals {
		vt, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		mutable, err := r.ReadBool()
		if err != nil {
			return nil, err
		}
		m.Globals[i] = metadata.GlobalType{ValType: metadata.ValType(vt), Mutable: mutable}
	}

	if n, err = r.ReadU32(); err != nil {
		return nil, err
	}
	m.Exports = make([]metadata.Export, n)
	for i := range m.Exports {
		if m.Exports[i].Name, err = r.ReadName(); err != nil {
			return nil, err
		}
		if m.Exports[i].Kind, err = r.ReadByte(); err != nil {
			return nil, err
		}
		if m.Exports[i].Index, err = r.ReadU32(); err != nil {
			return nil, err
		}
	}

	hasStart, err := r.ReadBool()
	if err != nil {
		return nil, err
	}
	if hasStart {
		start, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		m.Start = &start
	}

	if n, err = r.ReadU32(); err != nil {
		return nil, err
	}
	m.FuncNames = make([]metadata.FuncName, n)
	for i := range m.FuncNames {
		if m.FuncNames[i].Index, err = r.ReadU32(); err != nil {
			return nil, err
		}
		if m.FuncNames[i].Name, err = r.ReadName(); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func encodeFuncType(w *binary.Writer, ft *metadata.FuncType) {
	w.WriteU32(uint32(len(ft.Params)))
	for _, p := range ft.Params {
		w.Byte(byte(p))
	}
	w.WriteU32(uint32(len(ft.Results)))
	for _, res := range ft.Results {
		w.Byte(byte(res))
	}
}

func decodeFuncType(r *binary.Reader) (metadata.FuncType, error) {
	var ft metadata.FuncType
	n, err := r.ReadU32()
	if err != nil {
		return ft, err
	}
	if n > 0 {
		ft.Params = make([]metadata.ValType, n)
		for i := range ft.Params {
			b, err := r.ReadByte()
			if err != nil {
				return ft, err
			}
			ft.Params[i] = metadata.ValType(b)
		}
	}
	if n, err = r.ReadU32(); err != nil {
		return ft, err
	}
	if n > 0 {
		ft.Results = make([]metadata.ValType, n)
		for i := range ft.Results {
			b, err := r.ReadByte()
			if err != nil {
				return ft, err
			}
			ft.Results[i] = metadata.ValType(b)
		}
	}
	return ft, nil
}

func encodeTableType(w *binary.Writer, tt *metadata.TableType) {
	w.Byte(byte(tt.ElemType))
	encodeLimits(w, tt.Limits)
}

func decodeTableType(r *binary.Reader) (metadata.TableType, error) {
	var tt metadata.TableType
	b, err := r.ReadByte()
	if err != nil {
		return tt, err
	}
	tt.ElemType = metadata.ValType(b)
	tt.Limits, err = decodeLimits(r)
	return tt, err
}

func encodeLimits(w *binary.Writer, l metadata.Limits) {
	w.WriteU64(l.Min)
	w.WriteBool(l.Max != nil)
	if l.Max != nil {
		w.WriteU64(*l.Max)
	}
	w.WriteBool(l.Shared)
}

func decodeLimits(r *binary.Reader) (metadata.Limits, error) {
	var l metadata.Limits
	var err error
	if l.Min, err = r.ReadU64(); err != nil {
		return l, err
	}
	hasMax, err := r.ReadBool()
	if err != nil {
		return l, err
	}
	if hasMax {
		max, err := r.ReadU64()
		if err != nil {
			return l, err
		}
		l.Max = &max
	}
	l.Shared, err = r.ReadBool()
	return l, err
}
