package discovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/meshguard/attestmesh/pkg/identity"
)

// DefaultBrowseTimeout is the default timeout for browse operations.
const DefaultBrowseTimeout = 10 * time.Second

// DefaultLookupTimeout is the default timeout for lookup operations.
const DefaultLookupTimeout = 5 * time.Second

// ResolvedService contains information about a discovered DNS-SD service.
type ResolvedService struct {
	// InstanceName is the DNS-SD instance name.
	InstanceName string

	// HostName is the target host name.
	HostName string

	// Port is the service port.
	Port int

	// IPs contains the resolved IP addresses, sorted by preference.
	IPs []net.IP

	// Text contains the raw TXT record key-value pairs.
	Text map[string]string
}

// PreferredIP returns the most preferred IP address (first in the sorted list).
// Returns nil if no addresses are available.
func (r *ResolvedService) PreferredIP() net.IP {
	if len(r.IPs) > 0 {
		return r.IPs[0]
	}
	return nil
}

// IPv6Addresses returns only IPv6 addresses from the service.
func (r *ResolvedService) IPv6Addresses() []net.IP {
	return FilterIPv6(r.IPs)
}

// IPv4Addresses returns only IPv4 addresses from the service.
func (r *ResolvedService) IPv4Addresses() []net.IP {
	return FilterIPv4(r.IPs)
}

// NodeID parses the discovered instance name back into a node identifier.
func (r *ResolvedService) NodeID() (identity.NodeID, error) {
	return ParseNodeInstanceName(r.InstanceName)
}

// MDNSResolver is the interface for mDNS service resolution.
// This allows for dependency injection in tests.
type MDNSResolver interface {
	// Browse browses for services of the given type.
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

	// Lookup looks up a specific service instance.
	Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// zeroconfResolver is the production implementation using grandcat/zeroconf.
type zeroconfResolver struct {
	resolver *zeroconf.Resolver
}

func newZeroconfResolver() (*zeroconfResolver, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	return &zeroconfResolver{resolver: r}, nil
}

func (z *zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	return z.resolver.Browse(ctx, service, domain, entries)
}

func (z *zeroconfResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	return z.resolver.Lookup(ctx, instance, service, domain, entries)
}

// ResolverConfig holds configuration for the Resolver.
type ResolverConfig struct {
	// MDNSResolver is the underlying mDNS resolver implementation.
	// If nil, the default zeroconf resolver is used.
	MDNSResolver MDNSResolver

	// BrowseTimeout is the timeout for browse operations.
	// If zero, DefaultBrowseTimeout is used.
	BrowseTimeout time.Duration

	// LookupTimeout is the timeout for lookup operations.
	// If zero, DefaultLookupTimeout is used.
	LookupTimeout time.Duration
}

// Resolver discovers mesh node services via DNS-SD.
type Resolver struct {
	config   ResolverConfig
	resolver MDNSResolver
}

// NewResolver creates a new Resolver with the given configuration.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	resolver := config.MDNSResolver
	if resolver == nil {
		zr, err := newZeroconfResolver()
		if err != nil {
			return nil, err
		}
		resolver = zr
	}

	if config.BrowseTimeout == 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}
	if config.LookupTimeout == 0 {
		config.LookupTimeout = DefaultLookupTimeout
	}

	return &Resolver{
		config:   config,
		resolver: resolver,
	}, nil
}

// BrowseNodes discovers mesh nodes on the network.
// Returns a channel that receives discovered services until the context is
// cancelled or the browse timeout expires.
func (r *Resolver) BrowseNodes(ctx context.Context) (<-chan ResolvedService, error) {
	return r.browse(ctx, ServiceMeshNode)
}

// BrowseNodesByAttestation discovers mesh nodes advertising a specific
// attestation hint (e.g. only hardware-attested nodes).
func (r *Resolver) BrowseNodesByAttestation(ctx context.Context, hint AttestationHint) (<-chan ResolvedService, error) {
	service := fmt.Sprintf("_A%d._sub.%s", hint, ServiceMeshNode)
	return r.browse(ctx, service)
}

// browse performs a generic browse operation.
func (r *Resolver) browse(ctx context.Context, service string) (<-chan ResolvedService, error) {
	results := make(chan ResolvedService)
	entries := make(chan *zeroconf.ServiceEntry)

	// Apply browse timeout if context doesn't have a deadline; the timeout
	// context is released when the browse goroutine finishes.
	cancel := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, r.config.BrowseTimeout)
	}

	// Start browsing in a goroutine
	go func() {
		defer cancel()
		defer close(results)

		// Start the browse
		go func() {
			defer close(entries)
			r.resolver.Browse(ctx, service, DefaultDomain, entries)
		}()

		// Convert entries to ResolvedService
		for entry := range entries {
			svc := entryToResolvedService(entry)
			select {
			case results <- svc:
			case <-ctx.Done():
				return
			}
		}
	}()

	return results, nil
}

// LookupNode looks up a specific node by its node identifier.
func (r *Resolver) LookupNode(ctx context.Context, nodeID identity.NodeID) (*ResolvedService, error) {
	instanceName := NodeInstanceName(nodeID)
	return r.Lookup(ctx, instanceName)
}

// Lookup looks up a specific service instance by name.
func (r *Resolver) Lookup(ctx context.Context, instanceName string) (*ResolvedService, error) {
	// Apply lookup timeout if context doesn't have a deadline
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.LookupTimeout)
		defer cancel()
	}

	entries := make(chan *zeroconf.ServiceEntry)

	// Start lookup in a goroutine
	go func() {
		defer close(entries)
		r.resolver.Lookup(ctx, instanceName, ServiceMeshNode, DefaultDomain, entries)
	}()

	// Wait for first result or timeout
	select {
	case entry, ok := <-entries:
		if !ok || entry == nil {
			return nil, ErrServiceNotFound
		}
		svc := entryToResolvedService(entry)
		return &svc, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// entryToResolvedService converts a zeroconf.ServiceEntry to ResolvedService.
func entryToResolvedService(entry *zeroconf.ServiceEntry) ResolvedService {
	// Combine IPv4 and IPv6 addresses
	var allIPs []net.IP
	for _, ip := range entry.AddrIPv6 {
		allIPs = append(allIPs, ip)
	}
	for _, ip := range entry.AddrIPv4 {
		allIPs = append(allIPs, ip)
	}

	// Sort by preference (IPv6 global > IPv6 ULA > IPv6 link-local > IPv4)
	sortedIPs := SortIPsByPreference(allIPs)

	// Parse TXT records
	txtMap := ParseTXT(entry.Text)

	return ResolvedService{
		InstanceName: entry.Instance,
		HostName:     entry.HostName,
		Port:         entry.Port,
		IPs:          sortedIPs,
		Text:         txtMap,
	}
}
