package s3

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/pixcache/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDDB is an in-memory table that evaluates the registry's conditions.
type fakeDDB struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newFakeDDB() *fakeDDB {
	return &fakeDDB{items: make(map[string]map[string]types.AttributeValue)}
}

func str(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	}
	return ""
}

func num(av types.AttributeValue) int64 {
	n, _ := strconv.ParseInt(str(av), 10, 64)
	return n
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
}

func (f *fakeDDB) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := str(in.Item["session_id"])
	if cur, ok := f.items[id]; ok {
		sameOwner := str(cur["owner"]) == str(in.ExpressionAttributeValues[":owner"])
		expired := num(cur["expires_at"]) < num(in.ExpressionAttributeValues[":now"])
		if !sameOwner && !expired {
			return nil, conditionFailed()
		}
	}
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[str(in.Key["session_id"])]}, nil
}

func (f *fakeDDB) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := str(in.Key["session_id"])
	cur, ok := f.items[id]
	if !ok || str(cur["owner"]) != str(in.ExpressionAttributeValues[":owner"]) {
		return nil, conditionFailed()
	}
	delete(f.items, id)
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestDDBRegistry_Lease(t *testing.T) {
	ctx := t.Context()
	reg := NewDDBRegistry(newFakeDDB(), "pixcache-sessions", time.Hour)

	require.NoError(t, reg.Acquire(ctx, "s1", "host-a"))
	require.NoError(t, reg.Acquire(ctx, "s1", "host-a"), "renewal by the holder")

	err := reg.Acquire(ctx, "s1", "host-b")
	require.ErrorIs(t, err, blobstore.ErrConflict)

	owner, err := reg.Owner(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "host-a", owner)

	require.ErrorIs(t, reg.Release(ctx, "s1", "host-b"), blobstore.ErrConflict)
	require.NoError(t, reg.Release(ctx, "s1", "host-a"))

	owner, err = reg.Owner(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, owner)

	require.NoError(t, reg.Acquire(ctx, "s1", "host-b"))
}

func TestDDBRegistry_ExpiredLeaseIsTakenOver(t *testing.T) {
	ctx := t.Context()
	reg := NewDDBRegistry(newFakeDDB(), "pixcache-sessions", time.Minute)

	start := time.Unix(1_700_000_000, 0)
	reg.now = func() time.Time { return start }
	require.NoError(t, reg.Acquire(ctx, "s1", "host-a"))

	reg.now = func() time.Time { return start.Add(2 * time.Minute) }
	owner, err := reg.Owner(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, owner, "expired lease reads as free")

	require.NoError(t, reg.Acquire(ctx, "s1", "host-b"))
	owner, err = reg.Owner(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "host-b", owner)
}

func TestDDBRegistry_ConcurrentAcquire(t *testing.T) {
	ctx := t.Context()
	reg := NewDDBRegistry(newFakeDDB(), "pixcache-sessions", 0)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := reg.Acquire(ctx, "shared", "host-"+strconv.Itoa(i))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else {
				assert.ErrorIs(t, err, blobstore.ErrConflict)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
