// Package admin implements the Admin Authority: the multi-signature
// revocation command validator the Identity Registry delegates to before
// honoring a revoke() call.
package admin

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/meshguard/attestmesh/pkg/crypto"
)

// Errors returned by Authorize.
var (
	ErrNoAdminsConfigured = errors.New("admin: no admin node_ids configured, all revocations rejected")
	ErrThresholdNotMet    = errors.New("admin: fewer than the configured threshold of admin signatures verified")
)

// DefaultThresholdIsAll, when Config.Threshold is left at zero, requires
// every configured admin to sign. Zero-means-"require all" is the
// stricter of the plausible defaults and never admits a forged quorum
// smaller than the configured admin set.
const DefaultThresholdIsAll = 0

// Admin identifies a single admin signer by node_id and verification key.
type Admin struct {
	NodeID    [32]byte
	PublicKey []byte
}

// Config configures an Authority.
type Config struct {
	Admins    []Admin
	Threshold int // 0 means "require all configured admins"
}

// Authority validates multi-signature revocation commands against a
// configured set of admin identities.
type Authority struct {
	admins    []Admin
	threshold int
}

// New creates an Authority. An empty admin set is valid and causes every
// Authorize call to fail closed.
func New(cfg Config) *Authority {
	threshold := cfg.Threshold
	if threshold <= 0 || threshold > len(cfg.Admins) {
		threshold = len(cfg.Admins)
	}
	return &Authority{admins: cfg.Admins, threshold: threshold}
}

// payload reconstructs the exact bytes a revocation command's signatures
// must cover: node_id || reason || timestamp, with timestamp rendered as
// decimal Unix nanoseconds to avoid any ambiguity in how "timestamp"
// serializes.
func payload(nodeID [32]byte, reason string, at time.Time) []byte {
	out := make([]byte, 0, len(nodeID)+len(reason)+32)
	out = append(out, nodeID[:]...)
	out = append(out, reason...)
	out = append(out, strconv.FormatInt(at.UnixNano(), 10)...)
	return out
}

// Authorize reports whether signatures satisfies the configured threshold
// of distinct admin signatures over (node_id, reason, at). With no admins
// configured, every call is rejected regardless of signatures supplied.
func (a *Authority) Authorize(nodeID [32]byte, reason string, at time.Time, signatures [][]byte) error {
	if len(a.admins) == 0 {
		return ErrNoAdminsConfigured
	}

	msg := payload(nodeID, reason, at)
	usedAdmin := make(map[int]bool, len(a.admins))
	verified := 0

	for _, sig := range signatures {
		for i, adm := range a.admins {
			if usedAdmin[i] {
				continue
			}
			if crypto.Verify(adm.PublicKey, msg, sig) {
				usedAdmin[i] = true
				verified++
				break
			}
		}
	}

	if verified < a.threshold {
		return fmt.Errorf("%w: got %d valid signatures, need %d", ErrThresholdNotMet, verified, a.threshold)
	}
	return nil
}
