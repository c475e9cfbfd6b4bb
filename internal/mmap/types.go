package mmap

import "errors"

// AccessPattern is a paging hint passed to madvise.
type AccessPattern int

const (
	// AccessNormal clears earlier hints.
	AccessNormal AccessPattern = iota
	// AccessSequential suits row-band scans: pages ahead are read early
	// and pages behind are dropped first.
	AccessSequential
	// AccessDontNeed lets the kernel reclaim the pages of an idle cache.
	// Shared file mappings keep their contents.
	AccessDontNeed
)

var (
	ErrClosed      = errors.New("mmap: mapping is closed")
	ErrInvalidSize = errors.New("mmap: invalid size")
)
