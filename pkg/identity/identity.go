// Package identity implements the Identity Registry — colloquially the
// "Great Gospel" — the authoritative, signature-gated store of enrolled
// public keys, their attestation evidence, and revocation state.
package identity

import (
	"time"

	"github.com/meshguard/attestmesh/pkg/crypto"
)

// NodeIDSize is the length of a node identifier: BLAKE3(hardware_id ||
// public_key || salt).
const NodeIDSize = crypto.HashSize

// NodeID uniquely and immutably identifies an enrolled identity.
type NodeID [NodeIDSize]byte

// ComputeNodeID derives the protocol-normative node identifier. This
// definition must be bit-identical across every implementation that
// participates in the mesh.
func ComputeNodeID(hardwareID, publicKey, salt []byte) NodeID {
	return NodeID(crypto.Hash(hardwareID, publicKey, salt))
}

// AttestationKind tags which evidence shape an Attestation carries.
type AttestationKind int

const (
	// AttestationTpm is hardware-rooted evidence; trust score 1.0.
	AttestationTpm AttestationKind = iota
	// AttestationSoftware is software-rooted evidence; trust score 0.7.
	AttestationSoftware
	// AttestationNone carries no evidence; permitted only in test builds,
	// trust score 0.0, and always fails verification.
	AttestationNone
)

// String returns a human-readable attestation kind name.
func (k AttestationKind) String() string {
	switch k {
	case AttestationTpm:
		return "tpm"
	case AttestationSoftware:
		return "software"
	case AttestationNone:
		return "none"
	default:
		return "unknown"
	}
}

// TrustScore returns the fixed trust score associated with an attestation
// kind, per the registry's evidence-to-trust mapping.
func (k AttestationKind) TrustScore() float64 {
	switch k {
	case AttestationTpm:
		return 1.0
	case AttestationSoftware:
		return 0.7
	default:
		return 0.0
	}
}

// Attestation is the tagged-variant evidence attached to an identity.
type Attestation struct {
	Kind AttestationKind

	// Tpm fields.
	Quote              []byte
	PCRs               []byte
	AttestationKeyCert []byte

	// Software field.
	Certificate []byte
}

// RevocationState tracks whether an identity's right to speak has been
// withdrawn.
type RevocationState int

const (
	// StateActive identities pass verification.
	StateActive RevocationState = iota
	// StateRevoked identities always fail verification with trust 0.0, but
	// remain queryable — the audit trail requires it.
	StateRevoked
)

// String returns a human-readable revocation state name.
func (s RevocationState) String() string {
	if s == StateRevoked {
		return "revoked"
	}
	return "active"
}

// Record is a single enrolled identity. NodeID and PublicKey are immutable
// once registered; only Attestation (on re-attestation) and Revocation may
// change thereafter.
type Record struct {
	NodeID      NodeID
	PublicKey   []byte
	Attestation Attestation
	CreatedAt   time.Time
	Metadata    map[string]string
	Revocation  RevocationState
	RevokedAt   time.Time
	RevokeReason string
}

// Clone returns a deep-enough copy safe for callers to retain without
// aliasing the registry's internal state.
func (r *Record) Clone() *Record {
	cp := *r
	if r.PublicKey != nil {
		cp.PublicKey = append([]byte(nil), r.PublicKey...)
	}
	if r.Metadata != nil {
		cp.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// VerificationResult is the outcome of a verify() call.
type VerificationResult struct {
	Verified   bool
	TrustScore float64
	Reason     string
}
