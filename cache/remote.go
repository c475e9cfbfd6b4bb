package cache

import (
	"context"

	"github.com/hupe1980/pixcache/pixel"
)

// Remote opens pixel caches on another process or service. The dpc client
// and the blob-backed cache implement it.
type Remote interface {
	Open(ctx context.Context, columns, rows, channels int) (RemoteSession, error)
}

// RemoteSession is one remote pixel cache. Regions are always inside the
// cache; samples are row-major with channels interleaved.
type RemoteSession interface {
	ReadRegion(ctx context.Context, r Region, dst []pixel.Quantum) error
	WriteRegion(ctx context.Context, r Region, src []pixel.Quantum) error
	Close(ctx context.Context) error
}
