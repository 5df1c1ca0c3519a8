// Package crypto provides the cryptographic primitives the core is allowed
// to use: Ed25519 sign/verify, BLAKE3 hashing, nonce generation, and HKDF/
// PBKDF2 key derivation. Ed25519 is the only signature algorithm and BLAKE3
// the only general-purpose hash exposed here; the key-derivation functions
// in kdf.go are built on SHA-256.
package crypto

import (
	"lukechampine.com/blake3"
)

// HashSize is the BLAKE3 digest length used throughout the core, in bytes.
const HashSize = 32

// Hash computes the BLAKE3 digest of message and returns the default
// 32-byte output.
//
// NodeID derivation (node_id = BLAKE3(hardware_id || public_key || salt)) is
// the one protocol-normative use of this function; its output must be
// bit-identical across implementations, so callers must never substitute a
// different hash here.
func Hash(message ...[]byte) [HashSize]byte {
	h := blake3.New(HashSize, nil)
	for _, m := range message {
		h.Write(m)
	}
	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HashSlice is a convenience wrapper over Hash that returns a slice instead
// of a fixed-size array, for call sites that need to pass the digest on to
// something expecting []byte (e.g. a signature payload).
func HashSlice(message ...[]byte) []byte {
	out := Hash(message...)
	return out[:]
}

// NewHasher returns a streaming BLAKE3 hasher for incrementally hashing
// large or multi-part input, such as a TPM quote payload.
func NewHasher() *blake3.Hasher {
	return blake3.New(HashSize, nil)
}
