package crypto

import (
	cryptorand "crypto/rand"
	"fmt"
)

// NonceSize is the length of a challenge/counter-challenge nonce, in bytes.
const NonceSize = 16

// SaltSize is the length of the salt folded into node_id derivation.
const SaltSize = 16

// RandomNonce returns a fresh NonceSize-byte random value suitable for use
// as a handshake challenge_nonce, counter_challenge_nonce, or heartbeat
// nonce-replay guard.
func RandomNonce() ([NonceSize]byte, error) {
	var n [NonceSize]byte
	if _, err := cryptorand.Read(n[:]); err != nil {
		return n, fmt.Errorf("crypto: generate nonce: %w", err)
	}
	return n, nil
}

// RandomSalt returns a fresh SaltSize-byte random value for node_id
// derivation at enrollment time.
func RandomSalt() ([SaltSize]byte, error) {
	var s [SaltSize]byte
	if _, err := cryptorand.Read(s[:]); err != nil {
		return s, fmt.Errorf("crypto: generate salt: %w", err)
	}
	return s, nil
}
