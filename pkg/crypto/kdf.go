package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 iteration bounds for the software TPM key-sealing path, which
// uses PBKDF2IterationsMin. PBKDF2SHA256 does not check iterations against
// these bounds.
const (
	// PBKDF2IterationsMin is the minimum iteration count.
	PBKDF2IterationsMin = 1000

	// PBKDF2IterationsMax is the maximum iteration count.
	PBKDF2IterationsMax = 100000
)

// HKDFSHA256 derives key material using HKDF-SHA256 (RFC 5869).
//
// Parameters:
//   - inputKey: Input keying material (IKM)
//   - salt: Optional salt value (can be nil or empty)
//   - info: Optional context/application-specific info (can be nil or empty)
//   - length: Number of bytes to derive
//
// Used by the hardware TPM variant to derive its seal-wrapping key (see
// pkg/tpm).
func HKDFSHA256(inputKey, salt, info []byte, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, inputKey, salt, info)
	result := make([]byte, length)
	if _, err := io.ReadFull(reader, result); err != nil {
		return nil, err
	}
	return result, nil
}

// HKDFExtractSHA256 performs only the HKDF-Extract step, producing a
// pseudorandom key (PRK) from input keying material.
func HKDFExtractSHA256(inputKey, salt []byte) []byte {
	return hkdf.Extract(sha256.New, inputKey, salt)
}

// HKDFExpandSHA256 performs only the HKDF-Expand step.
func HKDFExpandSHA256(prk, info []byte, length int) ([]byte, error) {
	reader := hkdf.Expand(sha256.New, prk, info)
	result := make([]byte, length)
	if _, err := io.ReadFull(reader, result); err != nil {
		return nil, err
	}
	return result, nil
}

// PBKDF2SHA256 derives a key from a passphrase using PBKDF2-HMAC-SHA256.
// The software TPM variant uses this to derive its sealing key from its own
// device public key and a random salt, instead of a hardware root of trust.
func PBKDF2SHA256(password, salt []byte, iterations, keyLen int) []byte {
	return pbkdf2.Key(password, salt, iterations, keyLen, sha256.New)
}
