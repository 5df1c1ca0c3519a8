package mesh

import "errors"

// Package-level errors.
var (
	// ErrNotInitialized is returned when an operation requires an initialized node.
	ErrNotInitialized = errors.New("mesh: node not initialized")

	// ErrAlreadyStarted is returned when Start() is called on a running node.
	ErrAlreadyStarted = errors.New("mesh: node already started")

	// ErrNotStarted is returned when an operation requires a running node.
	ErrNotStarted = errors.New("mesh: node not started")

	// ErrAlreadyStopped is returned when Stop() is called on a stopped node.
	ErrAlreadyStopped = errors.New("mesh: node already stopped")

	// ErrHardwareIDRequired is returned when NodeConfig.HardwareID is empty.
	ErrHardwareIDRequired = errors.New("mesh: hardware id is required")

	// ErrAnchorsRequired is returned when NodeConfig.Anchors is nil.
	ErrAnchorsRequired = errors.New("mesh: trust anchor set is required")

	// ErrAuditBackendRequired is returned when NodeConfig.AuditBackend is nil.
	ErrAuditBackendRequired = errors.New("mesh: audit backend is required")

	// ErrUnknownPeer is returned when a message arrives from a peer address
	// the node has no pending or established state for.
	ErrUnknownPeer = errors.New("mesh: no pending state for this peer address")

	// ErrPeerNotConnected is returned when attempting to operate on a peer
	// with no established heartbeat connection.
	ErrPeerNotConnected = errors.New("mesh: peer has no established connection")
)
