package hash

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// NonceSize is the length of a distributed cache handshake nonce.
const NonceSize = 8

// SessionKey derives the distributed cache session key from the shared
// secret and the server's nonce. Both ends compute it independently; a
// client without the secret cannot produce a matching key.
func SessionKey(secret, nonce []byte) uint64 {
	key := secret
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	h, _ := blake2b.New256(key) // only fails for keys longer than blake2b.Size
	h.Write(nonce)
	return binary.LittleEndian.Uint64(h.Sum(nil))
}
