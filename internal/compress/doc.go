// Package compress frames blocks of pixel data with optional LZ4 or ZSTD
// compression and a CRC32C checksum of the uncompressed payload.
//
// Frame format:
//
//	┌───────┬──────────┬─────────────┬─────────────┬──────────┐
//	│ codec │ raw size │ stored size │ crc32c(raw) │ body ... │
//	│  u8   │   u32    │     u32     │     u32     │          │
//	└───────┴──────────┴─────────────┴─────────────┴──────────┘
//
// Bodies that do not compress below 90% of their size are stored raw with
// codec None, so Decode never has to guess.
package compress
