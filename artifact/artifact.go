// Package artifact defines the immutable compiled representation of one
// module and its versioned binary serialization.
//
// An Artifact owns the module's metadata, its compiled code region
// (optionally memory-mapped from storage), the finished-function table,
// the native-to-wasm address map and the memory/table allocation styles
// fixed at compile time. Artifacts are reference-counted: instances and
// caches call Retain, and the backing mapping is released exactly once,
// when the last reference drops.
package artifact

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/vlakreeh/wasmer/metadata"
	"github.com/vlakreeh/wasmer/target"
	"github.com/vlakreeh/wasmer/tunables"

	"github.com/vlakreeh/wasmer/internal/mmap"
)

// Config carries everything needed to construct an Artifact.
type Config struct {
	Metadata *metadata.Module
	Target   target.Target
	EngineID string

	// Code is the compiled code region. When Mapping is non-nil, Code
	// must alias it and the mapping is owned by the artifact.
	Code    []byte
	Mapping *mmap.Mapping

	// FuncTable holds the code offset of every locally defined
	// function, indexed by defined-function index.
	FuncTable []uint32

	AddrMap AddrMap

	// Styles in combined index order, one per memory/table.
	MemoryStyles []tunables.MemoryStyle
	TableStyles  []tunables.TableStyle
}

// Artifact is an immutable compiled module. It is safe to share across
// any number of concurrently running instances.
type Artifact struct {
	meta      *metadata.Module
	tgt       target.Target
	engineID  string
	code      []byte
	mapping   *mmap.Mapping
	funcTable []uint32
	addrMap   AddrMap
	memStyles []tunables.MemoryStyle
	tabStyles []tunables.TableStyle

	hashOnce sync.Once
	hash     uint64

	refs      atomic.Int64
	releaseMu sync.Mutex
	releasers []func()
}

// New validates cfg and constructs an Artifact holding one reference,
// owned by the caller.
func New(cfg Config) (*Artifact, error) {
	if cfg.Metadata == nil {
		return nil, fmt.Errorf("artifact: nil metadata")
	}
	if len(cfg.FuncTable) != len(cfg.Metadata.Funcs) {
		return nil, fmt.Errorf("artifact: function table has %d entries, module defines %d functions",
			len(cfg.FuncTable), len(cfg.Metadata.Funcs))
	}
	if want := len(cfg.Metadata.AllMemories()); len(cfg.MemoryStyles) != want {
		return nil, fmt.Errorf("artifact: %d memory styles for %d memories", len(cfg.MemoryStyles), want)
	}
	if want := len(cfg.Metadata.AllTables()); len(cfg.TableStyles) != want {
		return nil, fmt.Errorf("artifact: %d table styles for %d tables", len(cfg.TableStyles), want)
	}
	if !cfg.AddrMap.Sorted() {
		return nil, fmt.Errorf("artifact: address map not sorted by code offset")
	}
	for _, off := range cfg.FuncTable {
		if int64(off) > int64(len(cfg.Code)) {
			return nil, fmt.Errorf("artifact: function offset %d outside code region of %d bytes", off, len(cfg.Code))
		}
	}

	a := &Artifact{
		meta:      cfg.Metadata,
		tgt:       cfg.Target,
		engineID:  cfg.EngineID,
		code:      cfg.Code,
		mapping:   cfg.Mapping,
		funcTable: cfg.FuncTable,
		addrMap:   cfg.AddrMap,
		memStyles: cfg.MemoryStyles,
		tabStyles: cfg.TableStyles,
	}
	a.refs.Store(1)
	return a, nil
}

// Metadata returns the module's signature surface. Callers must not
// mutate it.
func (a *Artifact) Metadata() *metadata.Module { return a.meta }

// Target returns the target the code was compiled for.
func (a *Artifact) Target() target.Target { return a.tgt }

// EngineID identifies the engine that produced the artifact.
func (a *Artifact) EngineID() string { return a.engineID }

// Code returns the compiled code region. Read-only; valid until the
// last reference is released.
func (a *Artifact) Code() []byte { return a.code }

// Mapped reports whether the code region is backed by a file mapping.
func (a *Artifact) Mapped() bool { return a.mapping != nil && a.mapping.Mapped() }

// FuncTable returns the code offsets of locally defined functions.
func (a *Artifact) FuncTable() []uint32 { return a.funcTable }

// AddrMap returns the native-to-wasm address map.
func (a *Artifact) AddrMap() AddrMap { return a.addrMap }

// MemoryStyles returns the allocation styles fixed at compile time, in
// combined memory index order.
func (a *Artifact) MemoryStyles() []tunables.MemoryStyle { return a.memStyles }

// TableStyles returns the table allocation styles fixed at compile
// time, in combined table index order.
func (a *Artifact) TableStyles() []tunables.TableStyle { return a.tabStyles }

// Hash returns the 64-bit content hash of the code region, computed on
// first use. Artifacts with equal hashes carry identical code.
func (a *Artifact) Hash() uint64 {
	a.hashOnce.Do(func() {
		a.hash = xxhash.Sum64(a.code)
	})
	return a.hash
}

// Retain adds a reference. Every Retain must be paired with a Release.
func (a *Artifact) Retain() error {
	for {
		refs := a.refs.Load()
		if refs <= 0 {
			return fmt.Errorf("artifact: retain after release")
		}
		if a.refs.CompareAndSwap(refs, refs+1) {
			return nil
		}
	}
}

// Release drops a reference. When the last reference drops, release
// hooks run in reverse registration order and the backing mapping is
// unmapped.
func (a *Artifact) Release() error {
	refs := a.refs.Add(-1)
	if refs > 0 {
		return nil
	}
	if refs < 0 {
		return fmt.Errorf("artifact: release of already-released artifact")
	}

	a.releaseMu.Lock()
	releasers := a.releasers
	a.releasers = nil
	a.releaseMu.Unlock()
	for i := len(releasers) - 1; i >= 0; i-- {
		releasers[i]()
	}

	a.code = nil
	if a.mapping != nil {
		return a.mapping.Close()
	}
	return nil
}

// Close releases the caller's reference. It implements io.Closer for
// use with defer.
func (a *Artifact) Close() error { return a.Release() }

// OnRelease registers fn to run when the last reference drops. If the
// artifact is already released, fn runs immediately.
func (a *Artifact) OnRelease(fn func()) {
	a.releaseMu.Lock()
	if a.refs.Load() <= 0 {
		a.releaseMu.Unlock()
		fn()
		return
	}
	a.releasers = append(a.releasers, fn)
	a.releaseMu.Unlock()
}
