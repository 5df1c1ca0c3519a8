package discovery

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/meshguard/attestmesh/pkg/identity"
)

// ManagerConfig holds configuration for the discovery Manager.
type ManagerConfig struct {
	// HostName is the mDNS host name (e.g., derived from MAC address). It
	// is forwarded to the Advertiser, which does not pass it on to the
	// mDNS server.
	HostName string

	// Port is the port to advertise (default: DefaultPort).
	Port int

	// Interfaces specifies which network interfaces to use.
	// If nil, all interfaces are used.
	Interfaces []net.Interface

	// BrowseTimeout is the default timeout for browse operations.
	// If zero, DefaultBrowseTimeout is used.
	BrowseTimeout time.Duration

	// LookupTimeout is the default timeout for lookup operations.
	// If zero, DefaultLookupTimeout is used.
	LookupTimeout time.Duration

	// ServerFactory is the factory for creating mDNS servers (for testing).
	ServerFactory MDNSServerFactory

	// MDNSResolver is the mDNS resolver implementation (for testing).
	MDNSResolver MDNSResolver
}

// Manager coordinates DNS-SD advertising and resolution for mesh nodes.
type Manager struct {
	config     ManagerConfig
	advertiser *Advertiser
	resolver   *Resolver

	mu     sync.RWMutex
	closed bool
}

// NewManager creates a new discovery Manager with the given configuration.
func NewManager(config ManagerConfig) (*Manager, error) {
	// Apply defaults
	if config.Port <= 0 {
		config.Port = DefaultPort
	}
	if config.BrowseTimeout == 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}
	if config.LookupTimeout == 0 {
		config.LookupTimeout = DefaultLookupTimeout
	}

	// Create advertiser
	advertiser, err := NewAdvertiser(AdvertiserConfig{
		HostName:      config.HostName,
		Port:          config.Port,
		Interfaces:    config.Interfaces,
		ServerFactory: config.ServerFactory,
	})
	if err != nil {
		return nil, err
	}

	// Create resolver
	resolver, err := NewResolver(ResolverConfig{
		MDNSResolver:  config.MDNSResolver,
		BrowseTimeout: config.BrowseTimeout,
		LookupTimeout: config.LookupTimeout,
	})
	if err != nil {
		return nil, err
	}

	return &Manager{
		config:     config,
		advertiser: advertiser,
		resolver:   resolver,
	}, nil
}

// Close stops all services and releases resources.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.closed = true

	if m.advertiser != nil {
		m.advertiser.Close()
	}

	return nil
}

// ---- Advertising Methods ----

// StartAdvertising begins advertising this node's mesh discovery service.
func (m *Manager) StartAdvertising(nodeID identity.NodeID, txt NodeTXT) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	m.mu.RUnlock()

	return m.advertiser.Start(nodeID, txt)
}

// StopAdvertising stops advertising this node.
func (m *Manager) StopAdvertising() error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	m.mu.RUnlock()

	return m.advertiser.Stop()
}

// IsAdvertising returns true if the node is currently being advertised.
func (m *Manager) IsAdvertising() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false
	}

	return m.advertiser.IsAdvertising()
}

// ---- Resolution Methods ----

// BrowseNodes discovers mesh nodes on the network.
func (m *Manager) BrowseNodes(ctx context.Context) (<-chan ResolvedService, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	m.mu.RUnlock()

	return m.resolver.BrowseNodes(ctx)
}

// BrowseNodesByAttestation discovers mesh nodes matching an attestation hint.
func (m *Manager) BrowseNodesByAttestation(ctx context.Context, hint AttestationHint) (<-chan ResolvedService, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	m.mu.RUnlock()

	return m.resolver.BrowseNodesByAttestation(ctx, hint)
}

// LookupNode looks up a specific node by its node identifier.
func (m *Manager) LookupNode(ctx context.Context, nodeID identity.NodeID) (*ResolvedService, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	m.mu.RUnlock()

	return m.resolver.LookupNode(ctx, nodeID)
}

// Advertiser returns the underlying Advertiser for advanced usage.
func (m *Manager) Advertiser() *Advertiser {
	return m.advertiser
}

// Resolver returns the underlying Resolver for advanced usage.
func (m *Manager) Resolver() *Resolver {
	return m.resolver
}
