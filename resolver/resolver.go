// Package resolver provides import resolution for module instantiation.
//
// A compiled module declares imports as (module, name, type) triples. A
// Resolver supplies the external values those imports bind to. Resolution
// returns candidates only; type checking against the declared import types
// happens in BuildBindings so that every unsatisfied import can be reported
// at once.
package resolver

import (
	"context"
	"sync"

	"github.com/vlakreeh/wasmer/metadata"
)

// Extern is an external value a module import can bind to.
//
// The concrete types are Func, Memory, Table and Global. Memory, table and
// global externs carry an opaque backend handle; the engine that produced
// the handle is the only consumer.
type Extern interface {
	// Kind reports the entity kind as a metadata.Kind* constant.
	Kind() byte

	isExtern()
}

// Func is a host function extern.
type Func struct {
	Type metadata.FuncType

	// Call receives raw argument cells and returns raw result cells.
	// Wider types occupy one cell each; i32/f32 use the low bits.
	Call func(ctx context.Context, args []uint64) ([]uint64, error)
}

func (Func) Kind() byte { return metadata.KindFunc }
func (Func) isExtern()  {}

// Memory is a linear memory extern, usually exported by another instance.
type Memory struct {
	Type metadata.MemoryType

	// Value is the backend memory handle.
	Value any
}

func (Memory) Kind() byte { return metadata.KindMemory }
func (Memory) isExtern()  {}

// Table is a table extern.
type Table struct {
	Type metadata.TableType

	// Value is the backend table handle.
	Value any
}

func (Table) Kind() byte { return metadata.KindTable }
func (Table) isExtern()  {}

// Global is a global extern. Value holds the raw bits of the current value.
type Global struct {
	Type  metadata.GlobalType
	Value uint64
}

func (Global) Kind() byte { return metadata.KindGlobal }
func (Global) isExtern()  {}

// Resolver locates an extern for an import by module and field name.
type Resolver interface {
	// Resolve returns the extern registered under (module, name), or
	// false when nothing is registered. Type compatibility is not
	// checked here.
	Resolve(module, name string) (Extern, bool)
}

// Null resolves nothing. Instantiating a module with imports against Null
// fails with every import reported missing.
type Null struct{}

func (Null) Resolve(module, name string) (Extern, bool) { return nil, false }

// Map is a Resolver backed by an in-memory table of externs.
// Map is safe for concurrent use.
type Map struct {
	mu      sync.RWMutex
	externs map[string]Extern
}

// NewMap creates an empty Map resolver.
func NewMap() *Map {
	return &Map{externs: make(map[string]Extern)}
}

func mapKey(module, name string) string {
	return module + "::" + name
}

// Define registers ext under (module, name), replacing any previous entry.
// It returns the Map for chaining.
func (m *Map) Define(module, name string, ext Extern) *Map {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.externs[mapKey(module, name)] = ext
	return m
}

// DefineFunc registers a host function under (module, name).
func (m *Map) DefineFunc(module, name string, ty metadata.FuncType, fn func(ctx context.Context, args []uint64) ([]uint64, error)) *Map {
	return m.Define(module, name, Func{Type: ty, Call: fn})
}

// Resolve implements Resolver.
func (m *Map) Resolve(module, name string) (Extern, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ext, ok := m.externs[mapKey(module, name)]
	return ext, ok
}

// Len reports the number of registered externs.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.externs)
}

// Chain tries each resolver in order and returns the first hit.
type Chain []Resolver

// Resolve implements Resolver.
func (c Chain) Resolve(module, name string) (Extern, bool) {
	for _, r := range c {
		if ext, ok := r.Resolve(module, name); ok {
			return ext, true
		}
	}
	return nil, false
}

var (
	_ Resolver = Null{}
	_ Resolver = (*Map)(nil)
	_ Resolver = Chain(nil)
)
