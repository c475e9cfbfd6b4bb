package compress

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	flat := bytes.Repeat([]byte{0x12, 0x34}, 4096)
	noise := make([]byte, 4096)
	_, _ = rand.Read(noise)

	for _, codec := range []Codec{None, LZ4, ZSTD} {
		t.Run(codec.String(), func(t *testing.T) {
			frame, err := Encode(flat, codec)
			require.NoError(t, err)
			if codec != None {
				assert.Less(t, len(frame), len(flat)/2)
				assert.Equal(t, byte(codec), frame[0])
			}
			got, err := Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, flat, got)

			frame, err = Encode(noise, codec)
			require.NoError(t, err)
			assert.Equal(t, byte(None), frame[0], "incompressible data is stored raw")
			got, err = Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, noise, got)
		})
	}
}

func TestDecode_Corrupt(t *testing.T) {
	frame, err := Encode(bytes.Repeat([]byte("pixel"), 100), ZSTD)
	require.NoError(t, err)

	_, err = Decode(frame[:5])
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = Decode(frame[:len(frame)-1])
	assert.ErrorIs(t, err, ErrCorrupt)

	bad := bytes.Clone(frame)
	bad[9] ^= 0xff
	_, err = Decode(bad)
	assert.ErrorIs(t, err, ErrCorrupt)

	bad = bytes.Clone(frame)
	bad[0] = 9
	_, err = Decode(bad)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestParseCodec(t *testing.T) {
	c, err := ParseCodec("lz4")
	require.NoError(t, err)
	assert.Equal(t, LZ4, c)
	_, err = ParseCodec("brotli")
	assert.Error(t, err)
}
