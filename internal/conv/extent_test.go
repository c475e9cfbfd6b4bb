package conv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtent(t *testing.T) {
	n, err := Extent(640, 480, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(640*480*4*2), n)

	n, err = Extent()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = Extent(0, math.MaxInt64)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = Extent(math.MaxInt32, math.MaxInt32, math.MaxInt32)
	assert.ErrorIs(t, err, ErrOverflow)
	_, err = Extent(-1, 2)
	assert.ErrorIs(t, err, ErrOverflow)
}
