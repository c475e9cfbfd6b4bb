package blobcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/hupe1980/pixcache/blobstore"
)

// Registry leases session ids to owners so that two processes never write
// the same remote pixel cache. Acquire fails with an error matching
// blobstore.ErrConflict when another owner holds the session.
type Registry interface {
	Acquire(ctx context.Context, session, owner string) error
	Release(ctx context.Context, session, owner string) error
}

// MemoryRegistry is a process-local Registry.
type MemoryRegistry struct {
	mu     sync.Mutex
	leases map[string]string
}

// NewMemoryRegistry returns an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{leases: make(map[string]string)}
}

func (r *MemoryRegistry) Acquire(_ context.Context, session, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.leases[session]; ok && cur != owner {
		return fmt.Errorf("%w: session %s is leased by %s", blobstore.ErrConflict, session, cur)
	}
	r.leases[session] = owner
	return nil
}

func (r *MemoryRegistry) Release(_ context.Context, session, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.leases[session]; !ok || cur != owner {
		return fmt.Errorf("%w: session %s is not leased by %s", blobstore.ErrConflict, session, owner)
	}
	delete(r.leases, session)
	return nil
}

// Len reports the number of live leases.
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.leases)
}

// LeaseStore is a blob store with create-only writes.
type LeaseStore interface {
	blobstore.BlobStore
	blobstore.ConditionalPutter
}

// StoreRegistry keeps leases as marker blobs `<prefix>/<session>.lease`
// created with a conditional write. It needs no service beyond the blob
// store itself but, unlike a DynamoDB registry, leases never expire.
type StoreRegistry struct {
	store  LeaseStore
	prefix string
}

// NewStoreRegistry creates a StoreRegistry.
func NewStoreRegistry(store LeaseStore, prefix string) *StoreRegistry {
	return &StoreRegistry{store: store, prefix: prefix}
}

func (r *StoreRegistry) name(session string) string {
	return path.Join(r.prefix, session+".lease")
}

func (r *StoreRegistry) Acquire(ctx context.Context, session, owner string) error {
	err := r.store.PutIfNotExists(ctx, r.name(session), []byte(owner))
	if errors.Is(err, blobstore.ErrConflict) {
		cur, rerr := blobstore.ReadAll(ctx, r.store, r.name(session))
		if rerr == nil && bytes.Equal(cur, []byte(owner)) {
			return nil
		}
		return fmt.Errorf("%w: session %s is leased", blobstore.ErrConflict, session)
	}
	return err
}

func (r *StoreRegistry) Release(ctx context.Context, session, owner string) error {
	cur, err := blobstore.ReadAll(ctx, r.store, r.name(session))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return fmt.Errorf("%w: session %s is not leased", blobstore.ErrConflict, session)
		}
		return err
	}
	if !bytes.Equal(cur, []byte(owner)) {
		return fmt.Errorf("%w: session %s is not leased by %s", blobstore.ErrConflict, session, owner)
	}
	return r.store.Delete(ctx, r.name(session))
}
