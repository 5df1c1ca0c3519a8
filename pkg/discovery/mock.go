package discovery

import (
	"context"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"

	"github.com/meshguard/attestmesh/pkg/identity"
)

// MockMDNSResolver provides a mock mDNS resolver for testing without real network I/O.
// It allows registering services and simulating discovery responses.
type MockMDNSResolver struct {
	mu       sync.RWMutex
	services map[string][]*zeroconf.ServiceEntry
}

// NewMockMDNSResolver creates a new mock resolver.
func NewMockMDNSResolver() *MockMDNSResolver {
	return &MockMDNSResolver{
		services: make(map[string][]*zeroconf.ServiceEntry),
	}
}

// RegisterService registers a service that will be returned by Browse/Lookup.
func (m *MockMDNSResolver) RegisterService(service string, entry *zeroconf.ServiceEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[service] = append(m.services[service], entry)
}

// ClearServices removes all registered services.
func (m *MockMDNSResolver) ClearServices() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = make(map[string][]*zeroconf.ServiceEntry)
}

// Browse implements MDNSResolver.
func (m *MockMDNSResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	m.mu.RLock()
	svcEntries := make([]*zeroconf.ServiceEntry, len(m.services[service]))
	copy(svcEntries, m.services[service])
	m.mu.RUnlock()

	// Send entries synchronously to avoid races with channel closing.
	// This is test code so blocking behavior is acceptable.
	for _, entry := range svcEntries {
		select {
		case entries <- entry:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// Lookup implements MDNSResolver.
func (m *MockMDNSResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	m.mu.RLock()
	svcEntries := make([]*zeroconf.ServiceEntry, len(m.services[service]))
	copy(svcEntries, m.services[service])
	m.mu.RUnlock()

	// Send entries synchronously to avoid races with channel closing.
	for _, entry := range svcEntries {
		if entry.Instance == instance {
			select {
			case entries <- entry:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		}
	}

	return nil
}

// MockNodeService creates a mock mesh node service entry for testing.
func MockNodeService(nodeID identity.NodeID, port int, ip net.IP, txt NodeTXT) *zeroconf.ServiceEntry {
	instanceName := NodeInstanceName(nodeID)
	txt.NodeIDHex = instanceName
	return &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: instanceName,
			Service:  ServiceMeshNode,
			Domain:   DefaultDomain,
		},
		HostName: instanceName + ".local.",
		Port:     port,
		AddrIPv4: []net.IP{ip},
		Text:     txt.Encode(),
	}
}
