package hash

import (
	"errors"
	"fmt"
	"hash/crc32"
)

// ErrChecksum reports a payload that does not match its recorded checksum.
var ErrChecksum = errors.New("hash: checksum mismatch")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CRC32C returns the CRC32-Castagnoli checksum of data. The standard library
// switches to the SSE4.2 or ARMv8 instructions for this table.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// VerifyCRC32C returns an error wrapping ErrChecksum when data does not
// hash to want.
func VerifyCRC32C(data []byte, want uint32) error {
	if got := CRC32C(data); got != want {
		return fmt.Errorf("%w: crc32c %08x, recorded %08x", ErrChecksum, got, want)
	}
	return nil
}
