// Package cache implements the on-demand pixel cache.
//
// A Store holds the pixels of one image. The Manager picks its backing
// when the store is acquired, in this order:
//
//	memory ──► memory-mapped scratch file ──► scratch file ──► remote
//	   │                                                          │
//	   └── evicts idle memory stores (LRU) before giving up        └── dpc / blobcache
//
// Every step is admitted against the resource Accountant's ceilings. When
// nothing admits the request, Acquire fails with a ResourceLimitError
// (CacheResourcesExhausted).
//
// # Windows
//
// Pixels are accessed through short-lived windows:
//
//	w, err := store.OpenWindow(cache.Rect(-2, -2, 8, 8), cache.Virtual)
//	if err != nil { ... }
//	defer w.Close(ctx)
//	pix, err := w.Pixels(ctx)
//
// Virtual windows may extend outside the image; coordinates outside are
// resolved by the store's VirtualPixelMethod. Authentic windows are
// read-write, must lie inside the image and are written back on Close.
// Full-width windows on memory and mapped stores alias the pixel buffer.
//
// Evicting a memory store moves its pixels to a scratch file and bumps the
// store's generation; windows opened earlier then fail with ErrStaleWindow
// until reopened.
//
// Disk and remote stores fault rows in pages through an LRU page cache that
// is charged to the memory ceiling.
package cache
