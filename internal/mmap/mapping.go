package mmap

import (
	"os"
	"sync/atomic"
	"unsafe"
)

// Descriptor is an open file that can be mapped (*os.File satisfies it).
type Descriptor interface {
	Fd() uintptr
}

// Mapping is a shared mapping of the start of a file. It outlives the
// descriptor it was created from.
type Mapping struct {
	data     []byte
	writable bool
	closed   atomic.Bool
	unmap    func([]byte) error
}

// Open maps the whole file at path read-only.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return Map(f, int(fi.Size()), false)
}

// Map maps the first size bytes of f, which must be at least that long.
// Stores into a writable mapping reach the file; Sync flushes them.
func Map(f Descriptor, size int, writable bool) (*Mapping, error) {
	if size < 0 {
		return nil, ErrInvalidSize
	}
	m := &Mapping{writable: writable}
	if size == 0 {
		return m, nil
	}
	data, unmap, err := osMap(f, size, writable)
	if err != nil {
		return nil, err
	}
	m.data, m.unmap = data, unmap
	return m, nil
}

// Bytes returns the mapped memory, or nil once closed. The slice must not
// be used after Close.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Len returns the mapped length in bytes.
func (m *Mapping) Len() int { return len(m.data) }

// Advise passes a paging hint for the whole mapping.
func (m *Mapping) Advise(pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return osAdvise(m.data, pattern)
}

// Sync writes dirty pages of a writable mapping back to the file.
func (m *Mapping) Sync() error {
	if m.closed.Load() {
		return ErrClosed
	}
	if !m.writable || len(m.data) == 0 {
		return nil
	}
	return osSync(m.data)
}

// Close unmaps the memory. Later calls do nothing.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) || m.unmap == nil {
		return nil
	}
	return m.unmap(m.data)
}

// Slice views the mapping as elements of T. Trailing bytes that do not fill
// a whole element are left out. The view shares the mapping's lifetime.
func Slice[T any](m *Mapping) []T {
	data := m.Bytes()
	var zero T
	n := len(data) / int(unsafe.Sizeof(zero))
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(data))), n)
}
