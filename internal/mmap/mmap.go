// Package mmap provides read-only file mappings for artifact loading.
//
// A Mapping's bytes must not be mutated, and the backing file must not
// be truncated or removed while the Mapping is alive. The mapping is
// released exactly once, when Close is first called; Close is safe to
// call multiple times.
package mmap

import "sync"

// Mapping is a read-only view of file contents, memory-mapped where the
// platform supports it and heap-backed otherwise.
type Mapping struct {
	data   []byte
	mapped bool

	once     sync.Once
	closeErr error
}

// Anonymous wraps an in-memory byte slice in the Mapping interface, for
// artifacts decoded from buffers rather than files. Close is a no-op.
func Anonymous(data []byte) *Mapping {
	return &Mapping{data: data}
}

// Bytes returns the mapped contents. The slice is only valid until
// Close.
func (m *Mapping) Bytes() []byte {
	return m.data
}

// Len returns the length of the mapped contents.
func (m *Mapping) Len() int {
	return len(m.data)
}

// Mapped reports whether the data is an OS-level mapping, meaning the
// backing file must outlive the Mapping.
func (m *Mapping) Mapped() bool {
	return m.mapped
}

// Close releases the mapping. Only the first call does anything; later
// calls return the first call's result.
func (m *Mapping) Close() error {
	m.once.Do(func() {
		if m.mapped {
			m.closeErr = release(m.data)
		}
		m.data = nil
	})
	return m.closeErr
}
