package fs

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrInjected is returned by injected faults unless FaultyFS.Err is set.
var ErrInjected = errors.New("fs: injected fault")

// Op selects the file operations a fault applies to.
type Op uint8

const (
	OpOpen Op = 1 << iota
	OpWrite
	OpSync
	OpClose
)

type fault struct {
	pattern string
	ops     Op
	// after is the per-file byte budget for OpWrite; negative fails every
	// write.
	after int64
}

// FaultyFS wraps a FileSystem and fails operations on demand. A device
// limit, set with SetLimit, is shared by all files: bytes added by WriteAt
// and by growing Truncate calls count against it.
type FaultyFS struct {
	inner FileSystem
	// Err is the injected error.
	Err error

	mu     sync.Mutex
	faults []fault
	used   int64
	limit  int64
}

// NewFaultyFS wraps inner, or Default when inner is nil.
func NewFaultyFS(inner FileSystem) *FaultyFS {
	if inner == nil {
		inner = Default
	}
	return &FaultyFS{inner: inner, Err: ErrInjected, limit: -1}
}

// SetLimit sets the device size in bytes; -1 removes it.
func (f *FaultyFS) SetLimit(limit int64) {
	f.mu.Lock()
	f.limit = limit
	f.mu.Unlock()
}

// Used returns the bytes charged against the device.
func (f *FaultyFS) Used() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.used
}

// FailOn makes ops fail for files whose name contains pattern.
func (f *FaultyFS) FailOn(pattern string, ops Op) {
	f.add(fault{pattern: pattern, ops: ops, after: -1})
}

// FailAfter lets files whose name contains pattern take n written bytes
// each before writes fail.
func (f *FaultyFS) FailAfter(pattern string, n int64) {
	f.add(fault{pattern: pattern, ops: OpWrite, after: n})
}

func (f *FaultyFS) add(ft fault) {
	f.mu.Lock()
	f.faults = append(f.faults, ft)
	f.mu.Unlock()
}

// match merges the faults that apply to name.
func (f *FaultyFS) match(name string) (ops Op, after int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	after = -1
	for _, ft := range f.faults {
		if !strings.Contains(name, ft.pattern) {
			continue
		}
		if ft.after >= 0 {
			after = ft.after
		} else {
			ops |= ft.ops
		}
	}
	return ops, after
}

func (f *FaultyFS) charge(n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.limit >= 0 && f.used+n > f.limit {
		return f.Err
	}
	f.used += n
	return nil
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	ops, after := f.match(name)
	if ops&OpOpen != 0 {
		return nil, f.Err
	}
	file, err := f.inner.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	ff := &faultyFile{File: file, fs: f, ops: ops, budget: after}
	if fi, err := file.Stat(); err == nil {
		ff.size = fi.Size()
	}
	return ff, nil
}

func (f *FaultyFS) Remove(name string) error                     { return f.inner.Remove(name) }
func (f *FaultyFS) MkdirAll(path string, perm os.FileMode) error { return f.inner.MkdirAll(path, perm) }

type faultyFile struct {
	File
	fs     *FaultyFS
	ops    Op
	budget int64 // remaining write bytes; negative is unlimited
	size   int64
}

func (ff *faultyFile) grow(n int64) error {
	if ff.ops&OpWrite != 0 || (ff.budget >= 0 && n > ff.budget) {
		return ff.fs.Err
	}
	if err := ff.fs.charge(n); err != nil {
		return err
	}
	if ff.budget >= 0 {
		ff.budget -= n
	}
	return nil
}

func (ff *faultyFile) WriteAt(p []byte, off int64) (int, error) {
	if err := ff.grow(int64(len(p))); err != nil {
		return 0, err
	}
	ff.size = max(ff.size, off+int64(len(p)))
	return ff.File.WriteAt(p, off)
}

func (ff *faultyFile) Truncate(size int64) error {
	if size > ff.size {
		if err := ff.grow(size - ff.size); err != nil {
			return err
		}
	}
	ff.size = size
	return ff.File.Truncate(size)
}

func (ff *faultyFile) Sync() error {
	if ff.ops&OpSync != 0 {
		return ff.fs.Err
	}
	return ff.File.Sync()
}

func (ff *faultyFile) Close() error {
	err := ff.File.Close()
	if ff.ops&OpClose != 0 {
		return ff.fs.Err
	}
	return err
}
