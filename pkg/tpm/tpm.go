// Package tpm provides the TPM Capability: quote generation, PCR read, and
// key sealing, abstracted behind a Provider interface so the Attestation
// Handshake Engine never depends on whether real hardware is present.
//
// Two variants are provided: Hardware (backed by a real TPM 2.0 device
// through github.com/google/go-attestation) and Software (a deterministic
// simulation, always yielding reduced trust). DetectProvider chooses between
// them automatically. Software is not restricted to test builds:
// DetectProvider returns it in any build when allowSoftwareFallback is true
// and no hardware TPM is found.
package tpm

import (
	"errors"
	"time"
)

// PCRSelection names which Platform Configuration Registers a quote must
// cover.
type PCRSelection []int

// DefaultPCRSelection covers the boot-chain PCRs most deployments attest.
var DefaultPCRSelection = PCRSelection{0, 1, 2, 3, 7}

// Quote is a hardware- or software-signed assertion over a nonce and a set
// of PCR values.
type Quote struct {
	// Nonce is the challenge value the quote was generated over.
	Nonce []byte

	// PCRs maps PCR index to its current digest.
	PCRs map[int][]byte

	// Signature is the signature over the quote structure, under the
	// attestation key.
	Signature []byte

	// AttestationKeyPublic is the public key the signature verifies under.
	AttestationKeyPublic []byte

	// CreatedAt is when the quote was produced.
	CreatedAt time.Time
}

// SealedKey is an opaque reference to a private key sealed by the
// provider. It never carries raw key material outside this package.
type SealedKey struct {
	handle []byte
}

// Variant identifies which Provider implementation is active.
type Variant int

const (
	// VariantSoftware indicates a software-simulated TPM.
	VariantSoftware Variant = iota
	// VariantHardware indicates a real TPM 2.0 device.
	VariantHardware
)

// String returns a human-readable variant name.
func (v Variant) String() string {
	switch v {
	case VariantHardware:
		return "hardware"
	case VariantSoftware:
		return "software"
	default:
		return "unknown"
	}
}

// Errors returned by Provider implementations.
var (
	ErrUnavailable     = errors.New("tpm: device unavailable")
	ErrQuoteFailed     = errors.New("tpm: quote generation failed")
	ErrSealFailed      = errors.New("tpm: key seal failed")
	ErrUnsealFailed    = errors.New("tpm: key unseal failed")
	ErrSoftwareInProd  = errors.New("tpm: software provider is not permitted outside test mode")
	ErrInvalidPCRIndex = errors.New("tpm: invalid PCR index")
)

// Provider abstracts TPM hardware. The same interface is satisfied by a
// real device and by the software simulation; callers branch on Variant()
// only to decide how much trust to place in the result, never to change
// control flow.
type Provider interface {
	// Variant reports which implementation is active.
	Variant() Variant

	// GenerateQuote produces a Quote over nonce, covering sel.
	GenerateQuote(nonce []byte, sel PCRSelection) (*Quote, error)

	// VerifyQuote checks a quote's signature under attestationKey. It does
	// not evaluate PCR policy; callers do that separately against their
	// configured expected values.
	VerifyQuote(q *Quote, attestationKey []byte) bool

	// Seal wraps a private key reference so it never leaves the provider
	// as raw bytes.
	Seal(keyMaterial []byte) (*SealedKey, error)

	// Unseal recovers key material previously sealed by this provider.
	// Implementations must refuse to unseal a key sealed by a different
	// provider instance.
	Unseal(sk *SealedKey) ([]byte, error)

	// Close releases any held resources (device handles, file descriptors).
	Close() error
}

// DetectProvider probes for real TPM hardware and returns a Hardware
// Provider if found. If allowSoftwareFallback is true and no hardware is
// present, a Software Provider is returned instead; callers in production
// should pass false and treat ErrUnavailable as fatal for TPM-required
// policy.
func DetectProvider(allowSoftwareFallback bool) (Provider, error) {
	hw, err := newHardwareProvider()
	if err == nil {
		return hw, nil
	}
	if !allowSoftwareFallback {
		return nil, ErrUnavailable
	}
	return NewSoftwareProvider(), nil
}
