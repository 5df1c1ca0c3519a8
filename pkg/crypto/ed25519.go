package crypto

import (
	"crypto/ed25519"
	cryptorand "crypto/rand"
	"errors"
	"fmt"
)

// Ed25519 size constants.
const (
	// PublicKeySize is the Ed25519 public key length, in bytes.
	PublicKeySize = ed25519.PublicKeySize

	// SignatureSize is the Ed25519 signature length, in bytes.
	SignatureSize = ed25519.SignatureSize
)

// ErrInvalidPublicKey is returned when a public key is not PublicKeySize bytes.
var ErrInvalidPublicKey = errors.New("crypto: invalid ed25519 public key length")

// KeyPair wraps an Ed25519 key pair.
//
// Private keys are opaque to everything above this package: a KeyPair is
// produced only by GenerateKeyPair or KeyPairFromSeed, or by the TPM
// Capability (hardware or software variant) which never returns the raw
// scalar to its caller. Code
// outside this package signs through Sign, never by touching private key
// bytes directly.
type KeyPair struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// GenerateKeyPair creates a new random Ed25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(cryptorand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate ed25519 key: %w", err)
	}
	return &KeyPair{public: pub, private: priv}, nil
}

// KeyPairFromSeed reconstructs a key pair from a 32-byte seed, so the same
// seed always yields the same key pair.
func KeyPairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &KeyPair{public: priv.Public().(ed25519.PublicKey), private: priv}, nil
}

// PublicKey returns the 32-byte public key.
func (kp *KeyPair) PublicKey() []byte {
	out := make([]byte, PublicKeySize)
	copy(out, kp.public)
	return out
}

// Sign signs message and returns the 64-byte signature.
func (kp *KeyPair) Sign(message []byte) []byte {
	return ed25519.Sign(kp.private, message)
}

// Verify checks an Ed25519 signature over message under publicKey.
// Returns false (never an error) for a malformed signature or key, so
// call sites can treat every failure mode as "verification failed"
// without special-casing malformed input.
func Verify(publicKey, message, signature []byte) bool {
	if len(publicKey) != PublicKeySize {
		return false
	}
	if len(signature) != SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, message, signature)
}
