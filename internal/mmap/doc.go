// Package mmap maps scratch files into memory so map-type pixel caches
// can address their pixels in place.
//
//	m, err := mmap.Map(f, n, true)
//	if err != nil { ... }
//	defer m.Close()
//	pix := mmap.Slice[pixel.Quantum](m) // stores reach the file
//	_ = m.Sync()
//
// Unix uses mmap(2), msync(2) and madvise(2). Windows uses file mapping
// views and ignores paging hints. Slices from a Mapping must not be used
// after Close.
package mmap
