package mesh

import (
	"time"

	"github.com/meshguard/attestmesh/pkg/admin"
	"github.com/meshguard/attestmesh/pkg/audit"
	"github.com/meshguard/attestmesh/pkg/crypto"
	"github.com/meshguard/attestmesh/pkg/handshake"
	"github.com/meshguard/attestmesh/pkg/heartbeat"
	"github.com/meshguard/attestmesh/pkg/identity"
	"github.com/meshguard/attestmesh/pkg/transport"
	"github.com/meshguard/attestmesh/pkg/trustchain"
	"github.com/pion/logging"
)

// DefaultPort is the default mesh transport/discovery port.
const DefaultPort = 5540

// NodeConfig holds all configuration for a mesh Node.
type NodeConfig struct {
	// Identity - HardwareID required
	HardwareID []byte // device-bound identifier folded into node_id
	Salt       []byte // enrollment salt folded into node_id; random if empty
	KeyPair    *crypto.KeyPair // signing key pair; generated if nil
	CertChain  []*trustchain.Certificate // this node's chain, leaf first

	// Trust - Required
	Anchors *trustchain.AnchorSet

	// Storage - Optional, defaults to an in-memory registry
	Storage identity.Storage

	// Audit - Required
	AuditBackend audit.Backend

	// Admin Authority - Optional; an empty admin set fails every revocation closed
	Admins         []admin.Admin
	AdminThreshold int

	// TPM
	AllowSoftwareTPM bool
	PCRPolicy        handshake.PCRPolicy

	// Heartbeat
	HeartbeatInterval time.Duration

	// Network
	Port             int
	TransportFactory transport.Factory // virtual network testing

	// InstanceLabel is an optional human-readable label advertised over mDNS.
	InstanceLabel string

	// Observability
	LoggerFactory logging.LoggerFactory

	// Callbacks - Optional
	OnStateChanged   func(state NodeState)
	OnPeerAttested   func(peer identity.NodeID, trustScore float64)
	OnPeerSevered    func(peer identity.NodeID, reason heartbeat.SeveranceReason)

	// Advanced - Internal use / Testing
	Now func() time.Time
}

// Validate checks the configuration for errors.
func (c *NodeConfig) Validate() error {
	if len(c.HardwareID) == 0 {
		return ErrHardwareIDRequired
	}
	if c.Anchors == nil {
		return ErrAnchorsRequired
	}
	if c.AuditBackend == nil {
		return ErrAuditBackendRequired
	}
	return nil
}

// applyDefaults fills in default values for unset fields.
func (c *NodeConfig) applyDefaults() {
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.Storage == nil {
		c.Storage = identity.NewMemStorage()
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = heartbeat.DefaultPulseInterval
	}
}
