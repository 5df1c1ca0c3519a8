// Package heartbeat implements the Signed Heartbeat Link: a periodic
// cryptographic liveness protocol with a Dead-Man's-Switch that severs
// connections on signing failure, verification failure, or missed pulses.
package heartbeat

import (
	"fmt"
	"time"
)

// ConnectionState is a heartbeat connection's position in its lifecycle.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateUnverified
	StateConnected
	StateSevered
)

// String returns a human-readable connection state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateUnverified:
		return "Unverified"
	case StateConnected:
		return "Connected"
	case StateSevered:
		return "Severed"
	default:
		return "Unknown"
	}
}

// SeveranceReason names one of the four client-side conditions that
// immediately sever a link, a server-initiated DeadMan timeout, or an
// operator disconnect.
type SeveranceReason string

const (
	ReasonSigningFailed    SeveranceReason = "SigningFailed"
	ReasonRejected         SeveranceReason = "Rejected"
	ReasonForceDisconnect  SeveranceReason = "ForceDisconnect"
	ReasonTransportClosed  SeveranceReason = "TransportClosed"
	ReasonDeadManTimeout   SeveranceReason = "DeadManTimeout"
	ReasonOperatorDisconnect SeveranceReason = "OperatorDisconnect"
)

// Connection is the server-side record of a single client's heartbeat
// link: (connection_id, device_id, public_key, last_ack_at, verified).
type Connection struct {
	ConnectionID string
	DeviceID     [32]byte
	PublicKey    []byte
	LastAckAt    time.Time
	Verified     bool
}

// Pulse is the signed payload a client emits every pulse interval.
// signature = Sign(device_private_key, device_id || ":" || timestamp).
type Pulse struct {
	DeviceID  [32]byte
	Signature []byte
	Timestamp time.Time
}

// CanonicalPayload returns the exact bytes a Pulse's signature covers.
func (p Pulse) CanonicalPayload() []byte {
	ts := p.Timestamp.UTC().Format(time.RFC3339Nano)
	out := make([]byte, 0, len(p.DeviceID)+1+len(ts))
	out = append(out, p.DeviceID[:]...)
	out = append(out, ':')
	out = append(out, ts...)
	return out
}

// Ack is sent by the server after a pulse verifies.
type Ack struct {
	ConnectionID string
	AckedAt      time.Time
}

// Rejected is sent by the server when a pulse fails verification, or when
// the presenting device is unknown/revoked.
type Rejected struct {
	ConnectionID string
	Reason       string
}

// ForceDisconnect is the remote kill-switch: a server-initiated command
// that immediately severs the named connection on the client.
type ForceDisconnect struct {
	ConnectionID string
	Reason       string
}

// LinkSevered is the user-visible signal emitted on the client when any
// of the four severance conditions fires.
type LinkSevered struct {
	ConnectionID string
	Reason       SeveranceReason
	At           time.Time
}

func (l LinkSevered) String() string {
	return fmt.Sprintf("link severed: connection=%s reason=%s at=%s", l.ConnectionID, l.Reason, l.At.Format(time.RFC3339))
}
