package trap

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vlakreeh/wasmer/artifact"
)

// Registry tracks the executable code regions of live artifacts so that a
// native program counter can be traced back to the artifact and code
// offset it belongs to. Each engine owns one Registry.
type Registry struct {
	mu      sync.RWMutex
	regions []region
}

type region struct {
	base uintptr
	size uintptr
	art  *artifact.Artifact
}

// NewRegistry creates an empty code-region registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register records that a's code is executable at [base, base+len(code)).
// It returns an idempotent unregister function; callers typically hand it
// to the artifact's release hook so the region disappears with the code.
func (r *Registry) Register(a *artifact.Artifact, base uintptr) (func(), error) {
	if base == 0 {
		return nil, fmt.Errorf("register code region: zero base address")
	}
	size := uintptr(len(a.Code()))
	if size == 0 {
		return nil, fmt.Errorf("register code region: artifact has no code")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i := sort.Search(len(r.regions), func(i int) bool {
		return r.regions[i].base > base
	})
	if i > 0 && r.regions[i-1].base+r.regions[i-1].size > base {
		return nil, fmt.Errorf("register code region: %#x overlaps region at %#x", base, r.regions[i-1].base)
	}
	if i < len(r.regions) && base+size > r.regions[i].base {
		return nil, fmt.Errorf("register code region: %#x overlaps region at %#x", base, r.regions[i].base)
	}

	r.regions = append(r.regions, region{})
	copy(r.regions[i+1:], r.regions[i:])
	r.regions[i] = region{base: base, size: size, art: a}

	var once sync.Once
	return func() {
		once.Do(func() { r.unregister(base) })
	}, nil
}

func (r *Registry) unregister(base uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, reg := range r.regions {
		if reg.base == base {
			r.regions = append(r.regions[:i], r.regions[i+1:]...)
			return
		}
	}
}

// Resolve maps a native program counter to the artifact whose code
// contains it and the offset into that code region.
func (r *Registry) Resolve(pc uintptr) (*artifact.Artifact, uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := sort.Search(len(r.regions), func(i int) bool {
		return r.regions[i].base > pc
	})
	if i == 0 {
		return nil, 0, false
	}
	reg := r.regions[i-1]
	if pc >= reg.base+reg.size {
		return nil, 0, false
	}
	return reg.art, uint32(pc - reg.base), true
}

// InText reports whether pc falls inside any registered code region.
func (r *Registry) InText(pc uintptr) bool {
	_, _, ok := r.Resolve(pc)
	return ok
}

// Len reports the number of registered regions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.regions)
}
