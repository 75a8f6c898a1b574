package artifact

import "sort"

// AddrEntry maps a native code offset to the WebAssembly instruction it
// was generated from.
type AddrEntry struct {
	CodeOffset uint32 // offset into the artifact's code region
	FuncIndex  uint32 // function index in the combined index space
	WasmOffset uint32 // byte offset within the function body
}

// AddrMap translates native code offsets back to (function, byte
// offset) pairs. Entries are sorted by CodeOffset and mark instruction
// starts; an offset is attributed to the nearest entry at or before it.
type AddrMap []AddrEntry

// Sorted reports whether the entries are in CodeOffset order.
func (m AddrMap) Sorted() bool {
	return sort.SliceIsSorted(m, func(i, j int) bool {
		return m[i].CodeOffset < m[j].CodeOffset
	})
}

// Lookup resolves a native code offset. It returns false when the
// offset precedes the first entry or the map is empty.
func (m AddrMap) Lookup(codeOffset uint32) (AddrEntry, bool) {
	i := sort.Search(len(m), func(i int) bool {
		return m[i].CodeOffset > codeOffset
	})
	if i == 0 {
		return AddrEntry{}, false
	}
	return m[i-1], true
}
