package identity

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/meshguard/attestmesh/pkg/audit"
	"github.com/meshguard/attestmesh/pkg/crypto"
	"github.com/pion/logging"
)

// Registry errors.
var (
	ErrNotFound          = errors.New("identity: node not found")
	ErrNodeIDMismatch    = errors.New("identity: computed node_id does not match asserted node_id")
	ErrIdentityConflict  = errors.New("identity: node_id already enrolled with different evidence")
	ErrAttestationNone   = errors.New("identity: attestation=None is not permitted outside test mode")
	ErrAlreadyRevoked    = errors.New("identity: node already revoked")
	ErrAdminAuthRequired = errors.New("identity: revocation requires a valid admin authority signature")
)

// RevokeAuthorizer validates a multi-signature revocation command, as
// produced by the Admin Authority. It is satisfied by *admin.Authority.
type RevokeAuthorizer interface {
	Authorize(nodeID [NodeIDSize]byte, reason string, at time.Time, signatures [][]byte) error
}

// Config configures a Registry.
type Config struct {
	Storage       Storage
	Audit         *audit.Sink
	Authorizer    RevokeAuthorizer
	AllowTestMode bool // permits AttestationNone to register
	LoggerFactory logging.LoggerFactory
	Now           func() time.Time
}

// Registry is the Identity Registry: the authoritative mapping from
// NodeID to IdentityRecord, with enrollment, lookup, verification, and
// revocation. The Registry is the exclusive owner of all identity
// records; callers never mutate a Record returned by Lookup in place.
type Registry struct {
	mu            sync.Mutex
	storage       Storage
	audit         *audit.Sink
	authorizer    RevokeAuthorizer
	allowTestMode bool
	log           logging.LeveledLogger
	now           func() time.Time
}

// New creates a Registry. cfg.Storage must be non-nil.
func New(cfg Config) *Registry {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	r := &Registry{
		storage:       cfg.Storage,
		audit:         cfg.Audit,
		authorizer:    cfg.Authorizer,
		allowTestMode: cfg.AllowTestMode,
		now:           cfg.Now,
	}
	if cfg.LoggerFactory != nil {
		r.log = cfg.LoggerFactory.NewLogger("identity")
	}
	return r
}

func (r *Registry) emit(kind audit.Kind, nodeID NodeID, meta map[string]string) {
	if r.audit == nil {
		return
	}
	r.audit.Emit(kind, fmt.Sprintf("%x", nodeID[:]), meta)
}

// Register enrolls a new identity, or — if node_id already exists with
// identical evidence — is a no-op (idempotent under identical input).
// hardwareID and salt are the inputs the caller asserts were used to
// derive identity.NodeID; Register recomputes the hash and rejects a
// mismatch.
func (r *Registry) Register(identity *Record, hardwareID, salt []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	computed := ComputeNodeID(hardwareID, identity.PublicKey, salt)
	if computed != identity.NodeID {
		r.emit(audit.KindNodeIdMismatch, identity.NodeID, nil)
		return ErrNodeIDMismatch
	}

	if identity.Attestation.Kind == AttestationNone && !r.allowTestMode {
		return ErrAttestationNone
	}

	existing, found, err := r.storage.Get(identity.NodeID)
	if err != nil {
		r.emit(audit.KindPersistenceError, identity.NodeID, nil)
		return err
	}
	if found {
		if sameEvidence(existing, identity) {
			return nil // idempotent re-registration
		}
		r.emit(audit.KindIdentityConflict, identity.NodeID, nil)
		return ErrIdentityConflict
	}

	rec := identity.Clone()
	rec.CreatedAt = r.now()
	rec.Revocation = StateActive
	if err := r.storage.Put(rec); err != nil {
		r.emit(audit.KindPersistenceError, identity.NodeID, nil)
		return err
	}
	r.emit(audit.KindNodeRegistered, identity.NodeID, map[string]string{
		"attestation": identity.Attestation.Kind.String(),
	})
	return nil
}

func sameEvidence(a, b *Record) bool {
	if a.Attestation.Kind != b.Attestation.Kind {
		return false
	}
	switch a.Attestation.Kind {
	case AttestationTpm:
		return bytes.Equal(a.Attestation.Quote, b.Attestation.Quote) &&
			bytes.Equal(a.Attestation.PCRs, b.Attestation.PCRs) &&
			bytes.Equal(a.Attestation.AttestationKeyCert, b.Attestation.AttestationKeyCert)
	case AttestationSoftware:
		return bytes.Equal(a.Attestation.Certificate, b.Attestation.Certificate)
	default:
		return true
	}
}

// Lookup returns the identity record for id using constant-time equality
// on the node identifier, or (nil, false) if unenrolled.
func (r *Registry) Lookup(id NodeID) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *Record
	err := r.storage.Iterate(func(rec *Record) bool {
		if subtle.ConstantTimeCompare(rec.NodeID[:], id[:]) == 1 {
			found = rec
		}
		return true
	})
	if err != nil || found == nil {
		return nil, false
	}
	return found, true
}

// Verify checks signature over message against the registered public key
// for id. Unknown, revoked and AttestationNone identities verify=false with
// trust 0.0; a revoked identity's reason is always "Revoked" regardless of
// signature validity.
func (r *Registry) Verify(id NodeID, message, signature []byte) VerificationResult {
	r.mu.Lock()
	rec, ok, err := r.storage.Get(id)
	r.mu.Unlock()

	if err != nil || !ok {
		r.emit(audit.KindVerifyUnknown, id, nil)
		return VerificationResult{Verified: false, TrustScore: 0.0, Reason: "Unknown"}
	}
	if rec.Revocation == StateRevoked {
		r.emit(audit.KindVerifyRevoked, id, nil)
		return VerificationResult{Verified: false, TrustScore: 0.0, Reason: "Revoked"}
	}
	if rec.Attestation.Kind == AttestationNone {
		return VerificationResult{Verified: false, TrustScore: 0.0, Reason: "AttestationNone"}
	}
	if !crypto.Verify(rec.PublicKey, message, signature) {
		return VerificationResult{Verified: false, TrustScore: 0.0, Reason: "InvalidSignature"}
	}
	return VerificationResult{
		Verified:   true,
		TrustScore: rec.Attestation.Kind.TrustScore(),
		Reason:     "",
	}
}

// Revoke transitions id to Revoked, provided signatures satisfy the
// configured Admin Authority threshold over (node_id || reason ||
// timestamp). Revocation is monotonic: revoking an already-revoked
// identity returns ErrAlreadyRevoked without re-emitting side effects.
func (r *Registry) Revoke(id NodeID, reason string, signatures [][]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok, err := r.storage.Get(id)
	if err != nil {
		r.emit(audit.KindPersistenceError, id, nil)
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if rec.Revocation == StateRevoked {
		return ErrAlreadyRevoked
	}

	if r.authorizer == nil {
		r.emit(audit.KindAdminAuthMissing, id, nil)
		return ErrAdminAuthRequired
	}
	at := r.now()
	if err := r.authorizer.Authorize(id, reason, at, signatures); err != nil {
		r.emit(audit.KindAdminAuthMissing, id, map[string]string{"error": err.Error()})
		return fmt.Errorf("%w: %v", ErrAdminAuthRequired, err)
	}

	if err := r.storage.MarkRevoked(id, reason, at); err != nil {
		r.emit(audit.KindPersistenceError, id, nil)
		return err
	}
	r.emit(audit.KindNodeRevoked, id, map[string]string{"reason": reason})
	return nil
}

// Reattest replaces the attestation evidence on an existing, non-revoked
// identity. NodeID and PublicKey remain immutable.
func (r *Registry) Reattest(id NodeID, att Attestation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok, err := r.storage.Get(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if rec.Revocation == StateRevoked {
		return ErrAlreadyRevoked
	}
	rec.Attestation = att
	return r.storage.Put(rec)
}
