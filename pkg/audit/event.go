// Package audit implements the Audit Event Sink: an append-only channel of
// structured decision events with pluggable backends, whose contract is
// never lossy for Critical severity.
package audit

import "time"

// Severity classifies an event's audit priority. Critical events must never
// be dropped by the Sink's backpressure policy; Info events are dropped
// first under load.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

// String returns a human-readable severity name.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Kind is the closed enumeration of audit event kinds emitted by the core.
// Every decision point in the Handshake Engine, Identity Registry, and
// Heartbeat Link emits exactly one of these.
type Kind int

const (
	KindHandshakeStarted Kind = iota
	KindChallengeSent
	KindResponseVerified
	KindHandshakeCompleted
	KindHandshakeFailed
	KindVersionMismatch
	KindStaleTimestamp
	KindReplayDetected
	KindInvalidCertChain
	KindInvalidSignature
	KindInvalidTpmQuote
	KindHandshakeTimeout
	KindDuplicateHandshake
	KindNodeRegistered
	KindNodeIdMismatch
	KindIdentityConflict
	KindNodeRevoked
	KindVerifyUnknown
	KindVerifyRevoked
	KindHeartbeatAck
	KindHeartbeatRejected
	KindHeartbeatTimeout
	KindLinkSevered
	KindAdminAuthMissing
	KindPersistenceError
)

var kindNames = map[Kind]string{
	KindHandshakeStarted:   "HandshakeStarted",
	KindChallengeSent:      "ChallengeSent",
	KindResponseVerified:   "ResponseVerified",
	KindHandshakeCompleted: "HandshakeCompleted",
	KindHandshakeFailed:    "HandshakeFailed",
	KindVersionMismatch:    "VersionMismatch",
	KindStaleTimestamp:     "StaleTimestamp",
	KindReplayDetected:     "ReplayDetected",
	KindInvalidCertChain:   "InvalidCertChain",
	KindInvalidSignature:   "InvalidSignature",
	KindInvalidTpmQuote:    "InvalidTpmQuote",
	KindHandshakeTimeout:   "HandshakeTimeout",
	KindDuplicateHandshake: "DuplicateHandshake",
	KindNodeRegistered:     "NodeRegistered",
	KindNodeIdMismatch:     "NodeIdMismatch",
	KindIdentityConflict:   "IdentityConflict",
	KindNodeRevoked:        "NodeRevoked",
	KindVerifyUnknown:      "VerifyUnknown",
	KindVerifyRevoked:      "VerifyRevoked",
	KindHeartbeatAck:       "HeartbeatAck",
	KindHeartbeatRejected:  "HeartbeatRejected",
	KindHeartbeatTimeout:   "HeartbeatTimeout",
	KindLinkSevered:        "LinkSevered",
	KindAdminAuthMissing:   "AdminAuthMissing",
	KindPersistenceError:   "PersistenceError",
}

// String returns the event kind's name, or "Unknown" for an out-of-range
// value.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// criticalKinds marks the kinds that must never be dropped under
// backpressure: critical failures are always emitted at Critical
// severity, and the sink is never lossy for that severity.
var criticalKinds = map[Kind]bool{
	KindReplayDetected:    true,
	KindInvalidSignature:  true,
	KindInvalidTpmQuote:   true,
	KindNodeIdMismatch:    true,
	KindHeartbeatRejected: true,
	KindAdminAuthMissing:  true,
	KindPersistenceError:  true,
}

// DefaultSeverity returns the severity assigned to kind by default. Callers
// may override it (e.g. KindNodeRegistered carries no fixed severity in the
// taxonomy and defaults to Info), but the Critical kinds above always
// resolve to SeverityCritical regardless of caller intent, since the core's
// fail-visible policy must not be weakened by a misconfigured emit site.
func DefaultSeverity(k Kind) Severity {
	if criticalKinds[k] {
		return SeverityCritical
	}
	switch k {
	case KindVersionMismatch, KindStaleTimestamp, KindInvalidCertChain,
		KindHandshakeTimeout, KindDuplicateHandshake, KindIdentityConflict,
		KindVerifyUnknown, KindVerifyRevoked, KindHeartbeatTimeout:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Event is a single structured audit record.
type Event struct {
	EventID       string
	Kind          Kind
	Severity      Severity
	Timestamp     time.Time
	SubjectNodeID string
	Metadata      map[string]string
}
