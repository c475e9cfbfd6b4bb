package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/pixcache/internal/hash"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec defines the compression algorithm used for a frame.
type Codec uint8

const (
	// None stores the payload as is.
	None Codec = 0
	// LZ4 is LZ4 block compression (fast).
	LZ4 Codec = 1
	// ZSTD is Zstandard compression (better ratio).
	ZSTD Codec = 2
)

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCodec maps a codec name to its id.
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return ZSTD, nil
	}
	return None, fmt.Errorf("compress: unknown codec %q", s)
}

var (
	// ErrCorrupt is returned when a frame fails validation.
	ErrCorrupt = errors.New("compress: corrupt frame")
)

// HeaderSize is the size of the frame header:
// [codec u8][raw size u32][stored size u32][crc32c of raw u32].
const HeaderSize = 13

// ZSTD encoder/decoder pools for efficiency
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Encode frames data with the given codec. If compression does not shrink
// the payload below 90% of its size, the frame stores it raw.
func Encode(data []byte, codec Codec) ([]byte, error) {
	var body []byte
	switch codec {
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		body = buf[:n] // n == 0: incompressible
	case ZSTD:
		enc := getZstdEncoder()
		body = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	case None:
	default:
		return nil, fmt.Errorf("compress: unknown codec %d", codec)
	}

	if len(body) == 0 || float64(len(body)) > float64(len(data))*0.9 {
		codec, body = None, data
	}

	out := make([]byte, HeaderSize+len(body))
	out[0] = byte(codec)
	binary.LittleEndian.PutUint32(out[1:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[5:], uint32(len(body)))
	binary.LittleEndian.PutUint32(out[9:], hash.CRC32C(data))
	copy(out[HeaderSize:], body)
	return out, nil
}

// Decode validates a frame and returns its payload.
func Decode(frame []byte) ([]byte, error) {
	if len(frame) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(frame))
	}

	codec := Codec(frame[0])
	rawSize := binary.LittleEndian.Uint32(frame[1:])
	storedSize := binary.LittleEndian.Uint32(frame[5:])
	checksum := binary.LittleEndian.Uint32(frame[9:])

	if uint64(len(frame)) < HeaderSize+uint64(storedSize) {
		return nil, fmt.Errorf("%w: truncated body", ErrCorrupt)
	}
	body := frame[HeaderSize : HeaderSize+storedSize]

	var raw []byte
	switch codec {
	case None:
		raw = body
	case LZ4:
		raw = make([]byte, rawSize)
		n, err := lz4.UncompressBlock(body, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		raw = raw[:n]
	case ZSTD:
		dec := getZstdDecoder()
		decoded, err := dec.DecodeAll(body, make([]byte, 0, rawSize))
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		raw = decoded
	default:
		return nil, fmt.Errorf("%w: unknown codec %d", ErrCorrupt, codec)
	}

	if uint32(len(raw)) != rawSize {
		return nil, fmt.Errorf("%w: size mismatch", ErrCorrupt)
	}
	if err := hash.VerifyCRC32C(raw, checksum); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return raw, nil
}
