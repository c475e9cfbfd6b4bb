// Package hash provides the checksums and keyed digests used by the pixel
// cache.
//
// # CRC32-Castagnoli (CRC32C)
//
// Compressed row chunks carry a CRC32C of their uncompressed payload:
//
//	checksum := hash.CRC32C(data)
//
// # Session keys
//
// The distributed cache handshake authenticates clients with a keyed
// BLAKE2b-256 digest of the server's nonce, truncated to 64 bits:
//
//	key := hash.SessionKey(secret, nonce)
package hash
