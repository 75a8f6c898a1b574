package trap

// Symbolicate resolves a raw fault into a Trap with a symbolicated stack
// trace. Each recovered program counter is mapped through the registry to
// an artifact code offset, then through the artifact's address map to a
// function index and bytecode offset, and finally to a demangled name
// from the module's metadata. PCs without an address-map entry are
// dropped from the trace.
func Symbolicate(reg *Registry, f *Fault) *Trap {
	pcs := Unwind(f, reg.InText, MaxFrames)

	frames := make([]Frame, 0, len(pcs))
	for _, pc := range pcs {
		art, codeOff, ok := reg.Resolve(pc)
		if !ok {
			continue
		}
		entry, ok := art.AddrMap().Lookup(codeOff)
		if !ok {
			continue
		}
		name, _ := art.Metadata().FuncName(entry.FuncIndex)
		frames = append(frames, Frame{
			FuncIndex:  entry.FuncIndex,
			FuncName:   Demangle(name),
			WasmOffset: entry.WasmOffset,
			PC:         pc,
		})
	}

	return &Trap{Kind: f.Kind, Message: f.Message, Frames: frames}
}
