package trustchain

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/meshguard/attestmesh/pkg/crypto"
)

// Validation errors. Wrapped with context via fmt.Errorf("%w: ...").
var (
	ErrEmptyChain         = errors.New("trustchain: certificate chain is empty")
	ErrExpired            = errors.New("trustchain: certificate outside its validity window")
	ErrIssuerMismatch     = errors.New("trustchain: issuer does not match next certificate's subject")
	ErrSignatureInvalid   = errors.New("trustchain: certificate signature does not verify")
	ErrUntrustedRoot      = errors.New("trustchain: chain root is not in the trust-anchor set")
	ErrSelfSignedNonRoot  = errors.New("trustchain: only the final chain element may be self-signed")
)

// AnchorSet holds the trusted root certificates (or their fingerprints) a
// chain's final element must match.
//
// The Validator itself is stateless; AnchorSet is the one
// piece of configuration it needs, injected at construction and safe for
// concurrent read-only use across goroutines.
type AnchorSet struct {
	mu       sync.RWMutex
	anchors  map[[crypto.HashSize]byte]*Certificate
}

// NewAnchorSet builds an AnchorSet from the given trusted roots.
func NewAnchorSet(roots ...*Certificate) *AnchorSet {
	a := &AnchorSet{anchors: make(map[[crypto.HashSize]byte]*Certificate, len(roots))}
	for _, r := range roots {
		a.anchors[r.Fingerprint()] = r
	}
	return a
}

// Add registers an additional trust anchor.
func (a *AnchorSet) Add(root *Certificate) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.anchors[root.Fingerprint()] = root
}

// Contains reports whether cert's fingerprint matches a configured anchor.
func (a *AnchorSet) Contains(cert *Certificate) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.anchors[cert.Fingerprint()]
	return ok
}

// Validator verifies certificate chains against a configured AnchorSet. It
// holds no per-call state; a single Validator is safe to share across every
// handshake session.
type Validator struct {
	anchors *AnchorSet
	now     func() time.Time
}

// NewValidator creates a Validator bound to anchors. nowFn may be nil to use
// time.Now; tests inject a fixed clock to exercise the validity-window
// boundary cases deterministically.
func NewValidator(anchors *AnchorSet, nowFn func() time.Time) *Validator {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Validator{anchors: anchors, now: nowFn}
}

// Validate checks chain (ordered leaf-to-root): every certificate's
// validity window contains now, issuer/subject linkage holds between
// adjacent certificates, every non-root signature verifies under the next
// certificate's public key, and the root is a configured trust anchor.
//
// The first failing check is returned; callers are expected to audit it
// as InvalidCertChain.
func (v *Validator) Validate(chain []*Certificate) error {
	if len(chain) == 0 {
		return ErrEmptyChain
	}

	now := v.now()
	for i, cert := range chain {
		if !cert.validAt(now) {
			return fmt.Errorf("%w: subject=%s not_before=%s not_after=%s now=%s",
				ErrExpired, cert.Subject, cert.NotBefore, cert.NotAfter, now)
		}

		isRoot := i == len(chain)-1
		if isRoot {
			continue
		}

		next := chain[i+1]
		if cert.Issuer != next.Subject {
			return fmt.Errorf("%w: %s issuer=%q next.subject=%q", ErrIssuerMismatch, cert.Subject, cert.Issuer, next.Subject)
		}
		if !crypto.Verify(next.PublicKey, cert.TBSBytes(), cert.Signature) {
			return fmt.Errorf("%w: subject=%s", ErrSignatureInvalid, cert.Subject)
		}
	}

	root := chain[len(chain)-1]
	if !v.anchors.Contains(root) {
		return fmt.Errorf("%w: subject=%s", ErrUntrustedRoot, root.Subject)
	}

	return nil
}
