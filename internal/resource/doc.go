// Package resource implements the Accountant, the process-wide ledger for
// pixel cache resources.
//
// The Accountant governs five resources:
//
//   - Memory, Map, Disk: byte ceilings for in-process, memory-mapped and
//     scratch file caches (non-blocking, fail-fast)
//   - Workers: slots bounding row-parallel work and server connections
//   - IO: a token bucket throttling scratch file and network transfers
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                         Accountant                           │
//	├──────────────────────┬─────────────────┬─────────────────────┤
//	│  Byte ceilings       │  Worker slots   │  IO rate limiter    │
//	│  memory / map / disk │  (semaphore)    │  (token bucket)     │
//	├──────────────────────┼─────────────────┼─────────────────────┤
//	│  TryAcquire          │  AcquireWorker  │  AcquireIO          │
//	│  TryAcquireAll       │  TryAcquire-    │  RateLimitedWriter  │
//	│  Release / Usage     │  Worker         │  RateLimitedReader  │
//	└──────────────────────┴─────────────────┴─────────────────────┘
//
// # Byte Ceilings
//
// Each ceiling is a weighted semaphore plus an atomic usage counter. A zero
// limit means "track only". Reservations never block: the cache manager
// decides whether to evict, demote or fail.
//
//	a := resource.NewAccountant(resource.Config{
//	    MemoryLimitBytes: 256 << 20,
//	    MapLimitBytes:    1 << 30,
//	})
//
//	if err := a.TryAcquire(resource.Memory, n); err != nil {
//	    // errors.Is(err, resource.ErrLimitExceeded)
//	}
//	defer a.Release(resource.Memory, n)
//
// A memory-mapped scratch file consumes both address space and disk, so it
// is reserved with TryAcquireAll(n, resource.Map, resource.Disk), which is
// all-or-nothing.
//
// Tests inject tiny limits to drive eviction and spilling without
// allocating real gigabytes.
//
// All methods are safe on a nil *Accountant, which behaves as unlimited.
package resource
