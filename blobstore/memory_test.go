package blobstore

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := t.Context()
	m := NewMemoryStore()

	w, err := m.Create(ctx, "s/1/rows")
	require.NoError(t, err)
	_, err = w.Write([]byte("pixels"))
	require.NoError(t, err)

	_, err = m.Open(ctx, "s/1/rows")
	assert.ErrorIs(t, err, ErrNotFound, "visible before Close")

	require.NoError(t, w.Close())
	assert.Error(t, w.Close())
	_, err = w.Write([]byte("x"))
	assert.Error(t, err)

	require.NoError(t, m.PutIfNotExists(ctx, "s/1/lease", []byte("a")))
	assert.ErrorIs(t, m.PutIfNotExists(ctx, "s/1/lease", []byte("b")), ErrConflict)
	require.NoError(t, m.Put(ctx, "t/2", []byte("zz")))

	names, err := m.List(ctx, "s/")
	require.NoError(t, err)
	assert.Equal(t, []string{"s/1/lease", "s/1/rows"}, names)
	assert.Equal(t, int64(9), m.Size())

	b, err := m.Open(ctx, "s/1/rows")
	require.NoError(t, err)
	rc, err := b.ReadRange(ctx, 2, 100)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "xels", string(got))

	require.NoError(t, m.Delete(ctx, "s/1/rows"))
	require.NoError(t, m.Delete(ctx, "s/1/rows"))
	_, err = m.Open(ctx, "s/1/rows")
	assert.ErrorIs(t, err, ErrNotFound)
}
