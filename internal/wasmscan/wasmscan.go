// Package wasmscan extracts the linkable surface of a WebAssembly binary
// module: types, imports, exports, declarations, the start function,
// function names and the layout of function bodies. It decodes no
// instructions beyond constant expressions, leaving validation and code
// generation to the execution backend.
package wasmscan

import (
	"fmt"

	"github.com/vlakreeh/wasmer/internal/binary"
	"github.com/vlakreeh/wasmer/metadata"
)

const (
	magic   uint32 = 0x6D736100 // "\0asm"
	version uint32 = 1
)

// Section IDs per the binary format.
const (
	sectionCustom   byte = 0
	sectionType     byte = 1
	sectionImport   byte = 2
	sectionFunction byte = 3
	sectionTable    byte = 4
	sectionMemory   byte = 5
	sectionGlobal   byte = 6
	sectionExport   byte = 7
	sectionStart    byte = 8
	sectionElement  byte = 9
	sectionCode     byte = 10
	sectionData     byte = 11
	sectionDataCnt  byte = 12
)

// Body locates one defined function's body inside the scanned bytecode.
type Body struct {
	// Offset is the byte offset of the body (its size prefix excluded)
	// from the start of the module.
	Offset uint32

	// Size is the body's length in bytes.
	Size uint32
}

// Scan is the result of scanning one module.
type Scan struct {
	Module *metadata.Module

	// Bodies holds the location of each defined function's body, in
	// definition order. len(Bodies) == len(Module.Funcs).
	Bodies []Body
}

// Module scans a complete binary module. The input must start with the
// module preamble; trailing bytes after the last section are rejected.
func Module(data []byte) (*Scan, error) {
	r := binary.NewReader(data)

	m, err := r.ReadU32LE()
	if err != nil {
		return nil, fmt.Errorf("preamble: %w", err)
	}
	if m != magic {
		return nil, fmt.Errorf("invalid magic number %#08x", m)
	}
	v, err := r.ReadU32LE()
	if err != nil {
		return nil, fmt.Errorf("preamble: %w", err)
	}
	if v != version {
		return nil, fmt.Errorf("unsupported version %d", v)
	}

	s := &Scan{Module: &metadata.Module{}}
	var lastOrder int

	for r.Remaining() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("section header: %w", err)
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, fmt.Errorf("section %d size: %w", id, err)
		}

		if id != sectionCustom {
			order := sectionOrder(id)
			if order < 0 {
				return nil, fmt.Errorf("unknown section id 0x%02x", id)
			}
			if order <= lastOrder {
				return nil, fmt.Errorf("section %d out of order", id)
			}
			lastOrder = order
		}

		// Body offsets are absolute, so remember where the payload
		// starts before carving it out.
		payloadStart := r.Position()
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, fmt.Errorf("section %d payload: %w", id, err)
		}
		sr := binary.NewReader(payload)

		switch id {
		case sectionCustom:
			err = s.scanCustom(sr)
		case sectionType:
			err = s.scanTypes(sr)
		case sectionImport:
			err = s.scanImports(sr)
		case sectionFunction:
			err = s.scanFunctions(sr)
		case sectionTable:
			err = s.scanTables(sr)
		case sectionMemory:
			err = s.scanMemories(sr)
		case sectionGlobal:
			err = s.scanGlobals(sr)
		case sectionExport:
			err = s.scanExports(sr)
		case sectionStart:
			err = s.scanStart(sr)
		case sectionCode:
			err = s.scanCode(sr, uint32(payloadStart))
		case sectionElement, sectionData, sectionDataCnt:
			// Contents are the backend's concern.
		default:
			return nil, fmt.Errorf("unknown section id 0x%02x", id)
		}
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", id, err)
		}
	}

	if len(s.Bodies) != len(s.Module.Funcs) {
		return nil, fmt.Errorf("code section has %d bodies, function section declares %d",
			len(s.Bodies), len(s.Module.Funcs))
	}
	s.Module.SortFuncNames()
	return s, nil
}

// sectionOrder maps a section id to its required position. DataCount
// precedes Code despite its higher id.
func sectionOrder(id byte) int {
	switch id {
	case sectionType:
		return 1
	case sectionImport:
		return 2
	case sectionFunction:
		return 3
	case sectionTable:
		return 4
	case sectionMemory:
		return 5
	case sectionGlobal:
		return 6
	case sectionExport:
		return 7
	case sectionStart:
		return 8
	case sectionElement:
		return 9
	case sectionDataCnt:
		return 10
	case sectionCode:
		return 11
	case sectionData:
		return 12
	}
	return -1
}

func (s *Scan) scanTypes(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	s.Module.Types = make([]metadata.FuncType, 0, count)
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != 0x60 {
			return fmt.Errorf("type %d: unsupported form 0x%02x", i, form)
		}
		ft, err := readFuncType(r)
		if err != nil {
			return fmt.Errorf("type %d: %w", i, err)
		}
		s.Module.Types = append(s.Module.Types, ft)
	}
	return nil
}

func readFuncType(r *binary.Reader) (metadata.FuncType, error) {
	params, err := readValTypes(r)
	if err != nil {
		return metadata.FuncType{}, err
	}
	results, err := readValTypes(r)
	if err != nil {
		return metadata.FuncType{}, err
	}
	return metadata.FuncType{Params: params, Results: results}, nil
}

func readValTypes(r *binary.Reader) ([]metadata.ValType, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	out := make([]metadata.ValType, count)
	for i := range out {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		out[i] = metadata.ValType(b)
	}
	return out, nil
}

func (s *Scan) scanImports(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	s.Module.Imports = make([]metadata.Import, 0, count)
	for i := uint32(0); i < count; i++ {
		module, err := r.ReadName()
		if err != nil {
			return fmt.Errorf("import %d: %w", i, err)
		}
		name, err := r.ReadName()
		if err != nil {
			return fmt.Errorf("import %d: %w", i, err)
		}
		kind, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("import %d: %w", i, err)
		}

		imp := metadata.Import{Module: module, Name: name, Kind: kind}
		switch kind {
		case metadata.KindFunc:
			typeIdx, err := r.ReadU32()
			if err != nil {
				return fmt.Errorf("import %d: %w", i, err)
			}
			if int(typeIdx) >= len(s.Module.Types) {
				return fmt.Errorf("import %d: type index %d out of range", i, typeIdx)
			}
			ft := s.Module.Types[typeIdx]
			imp.Func = &ft
		case metadata.KindTable:
			tt, err := readTableType(r)
			if err != nil {
				return fmt.Errorf("import %d: %w", i, err)
			}
			imp.Table = &tt
		case metadata.KindMemory:
			limits, err := readLimits(r)
			if err != nil {
				return fmt.Errorf("import %d: %w", i, err)
			}
			imp.Memory = &metadata.MemoryType{Limits: limits}
		case metadata.KindGlobal:
			gt, err := readGlobalType(r)
			if err != nil {
				return fmt.Errorf("import %d: %w", i, err)
			}
			imp.Global = &gt
		default:
			return fmt.Errorf("import %d: invalid kind 0x%02x", i, kind)
		}
		s.Module.Imports = append(s.Module.Imports, imp)
	}
	return nil
}

func (s *Scan) scanFunctions(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	s.Module.Funcs = make([]uint32, count)
	for i := range s.Module.Funcs {
		typeIdx, err := r.ReadU32()
		if err != nil {
			return fmt.Errorf("func %d: %w", i, err)
		}
		if int(typeIdx) >= len(s.Module.Types) {
			return fmt.Errorf("func %d: type index %d out of range", i, typeIdx)
		}
		s.Module.Funcs[i] = typeIdx
	}
	return nil
}

func (s *Scan) scanTables(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	s.Module.Tables = make([]metadata.TableType, count)
	for i := range s.Module.Tables {
		tt, err := readTableType(r)
		if err != nil {
			return fmt.Errorf("table %d: %w", i, err)
		}
		s.Module.Tables[i] = tt
	}
	return nil
}

func (s *Scan) scanMemories(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	s.Module.Memories = make([]metadata.MemoryType, count)
	for i := range s.Module.Memories {
		limits, err := readLimits(r)
		if err != nil {
			return fmt.Errorf("memory %d: %w", i, err)
		}
		s.Module.Memories[i] = metadata.MemoryType{Limits: limits}
	}
	return nil
}

func (s *Scan) scanGlobals(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	s.Module.Globals = make([]metadata.GlobalType, count)
	for i := range s.Module.Globals {
		gt, err := readGlobalType(r)
		if err != nil {
			return fmt.Errorf("global %d: %w", i, err)
		}
		if err := skipConstExpr(r); err != nil {
			return fmt.Errorf("global %d init: %w", i, err)
		}
		s.Module.Globals[i] = gt
	}
	return nil
}

func (s *Scan) scanExports(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	s.Module.Exports = make([]metadata.Export, count)
	for i := range s.Module.Exports {
		name, err := r.ReadName()
		if err != nil {
			return fmt.Errorf("export %d: %w", i, err)
		}
		kind, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("export %d: %w", i, err)
		}
		if kind > metadata.KindGlobal {
			return fmt.Errorf("export %d: invalid kind 0x%02x", i, kind)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return fmt.Errorf("export %d: %w", i, err)
		}
		s.Module.Exports[i] = metadata.Export{Name: name, Kind: kind, Index: idx}
	}
	return nil
}

func (s *Scan) scanStart(r *binary.Reader) error {
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	s.Module.Start = &idx
	return nil
}

func (s *Scan) scanCode(r *binary.Reader, sectionStart uint32) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	s.Bodies = make([]Body, count)
	for i := range s.Bodies {
		size, err := r.ReadU32()
		if err != nil {
			return fmt.Errorf("body %d: %w", i, err)
		}
		offset := sectionStart + uint32(r.Position())
		if _, err := r.ReadBytes(int(size)); err != nil {
			return fmt.Errorf("body %d: %w", i, err)
		}
		s.Bodies[i] = Body{Offset: offset, Size: size}
	}
	return nil
}

// scanCustom picks function names out of the "name" section and ignores
// every other custom section.
func (s *Scan) scanCustom(r *binary.Reader) error {
	name, err := r.ReadName()
	if err != nil {
		// A malformed custom section is ignorable by spec, but a name
		// that does not fit its section is not worth continuing with.
		return nil
	}
	if name != "name" {
		return nil
	}

	for r.Remaining() > 0 {
		subID, err := r.ReadByte()
		if err != nil {
			return nil
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return nil
		}
		sr := binary.NewReader(payload)

		switch subID {
		case 0: // module name
			if moduleName, err := sr.ReadName(); err == nil {
				s.Module.Name = moduleName
			}
		case 1: // function names
			count, err := sr.ReadU32()
			if err != nil {
				continue
			}
			for i := uint32(0); i < count; i++ {
				idx, err := sr.ReadU32()
				if err != nil {
					break
				}
				fname, err := sr.ReadName()
				if err != nil {
					break
				}
				s.Module.FuncNames = append(s.Module.FuncNames, metadata.FuncName{Index: idx, Name: fname})
			}
		}
	}
	return nil
}

func readLimits(r *binary.Reader) (metadata.Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return metadata.Limits{}, err
	}
	if flags > 0x03 {
		return metadata.Limits{}, fmt.Errorf("invalid limits flags 0x%02x", flags)
	}

	min, err := r.ReadU32()
	if err != nil {
		return metadata.Limits{}, err
	}
	limits := metadata.Limits{Min: uint64(min), Shared: flags&0x02 != 0}

	if flags&0x01 != 0 {
		max, err := r.ReadU32()
		if err != nil {
			return metadata.Limits{}, err
		}
		if uint64(max) < limits.Min {
			return metadata.Limits{}, fmt.Errorf("limits maximum %d below minimum %d", max, min)
		}
		m := uint64(max)
		limits.Max = &m
	} else if limits.Shared {
		return metadata.Limits{}, fmt.Errorf("shared limits require a maximum")
	}
	return limits, nil
}

func readTableType(r *binary.Reader) (metadata.TableType, error) {
	elem, err := r.ReadByte()
	if err != nil {
		return metadata.TableType{}, err
	}
	et := metadata.ValType(elem)
	if et != metadata.ValFuncRef && et != metadata.ValExternRef {
		return metadata.TableType{}, fmt.Errorf("invalid element type 0x%02x", elem)
	}
	limits, err := readLimits(r)
	if err != nil {
		return metadata.TableType{}, err
	}
	return metadata.TableType{ElemType: et, Limits: limits}, nil
}

func readGlobalType(r *binary.Reader) (metadata.GlobalType, error) {
	vt, err := r.ReadByte()
	if err != nil {
		return metadata.GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return metadata.GlobalType{}, err
	}
	if mut > 1 {
		return metadata.GlobalType{}, fmt.Errorf("invalid mutability 0x%02x", mut)
	}
	return metadata.GlobalType{ValType: metadata.ValType(vt), Mutable: mut == 1}, nil
}

// Constant-expression opcodes allowed in global initializers.
const (
	opEnd       byte = 0x0B
	opGlobalGet byte = 0x23
	opI32Const  byte = 0x41
	opI64Const  byte = 0x42
	opF32Const  byte = 0x43
	opF64Const  byte = 0x44
	opRefNull   byte = 0xD0
	opRefFunc   byte = 0xD2
	opVecPrefix byte = 0xFD
)

// skipConstExpr consumes a constant expression up to and including its
// end opcode.
func skipConstExpr(r *binary.Reader) error {
	for {
		op, err := r.ReadByte()
		if err != nil {
			return err
		}
		switch op {
		case opEnd:
			return nil
		case opI32Const, opGlobalGet, opRefNull, opRefFunc:
			if _, err := r.ReadU32(); err != nil {
				return err
			}
		case opI64Const:
			if _, err := r.ReadU64(); err != nil {
				return err
			}
		case opF32Const:
			if _, err := r.ReadBytes(4); err != nil {
				return err
			}
		case opF64Const:
			if _, err := r.ReadBytes(8); err != nil {
				return err
			}
		case opVecPrefix:
			// v128.const: sub-opcode 12 then 16 literal bytes.
			sub, err := r.ReadU32()
			if err != nil {
				return err
			}
			if sub != 12 {
				return fmt.Errorf("vector opcode %d not constant", sub)
			}
			if _, err := r.ReadBytes(16); err != nil {
				return err
			}
		default:
			return fmt.Errorf("opcode 0x%02x not constant", op)
		}
	}
}
