// Package fs abstracts the scratch files behind disk and map pixel caches.
//
// [LocalFS] is the host file system. [FaultyFS] wraps another FileSystem
// and injects errors by file name or once a byte budget is spent, which
// models a full disk:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.SetLimit(1024)
//	mgr := cache.NewManager(acct, cache.WithFileSystem(ffs))
package fs
