package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"

	"github.com/meshguard/attestmesh/pkg/identity"
)

// DefaultPort is the default listen port for mesh node traffic.
const DefaultPort = 5540

// MDNSServer is the interface for mDNS service registration.
// This allows for dependency injection in tests.
type MDNSServer interface {
	// Shutdown stops the server.
	Shutdown()
}

// MDNSServerFactory creates MDNSServer instances.
type MDNSServerFactory interface {
	// Register creates a new mDNS server for the given service.
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

// zeroconfServerFactory is the production implementation using grandcat/zeroconf.
type zeroconfServerFactory struct{}

func (z *zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// AdvertiserConfig holds configuration for the Advertiser.
type AdvertiserConfig struct {
	// HostName is the mDNS host name (e.g., from MAC address). It is not
	// passed to the MDNSServerFactory; the default zeroconf factory
	// registers under the operating system's host name.
	HostName string

	// Port is the port to advertise (default: DefaultPort).
	Port int

	// Interfaces specifies which network interfaces to advertise on.
	// If nil, all interfaces are used.
	Interfaces []net.Interface

	// ServerFactory is the factory for creating mDNS servers.
	// If nil, the default zeroconf factory is used.
	ServerFactory MDNSServerFactory

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Advertiser publishes a mesh node's DNS-SD service to the network.
type Advertiser struct {
	config       AdvertiserConfig
	factory      MDNSServerFactory
	log          logging.LeveledLogger
	mu           sync.RWMutex
	server       MDNSServer
	instanceName string
	closed       bool
}

// NewAdvertiser creates a new Advertiser with the given configuration.
func NewAdvertiser(config AdvertiserConfig) (*Advertiser, error) {
	if config.Port <= 0 || config.Port > 65535 {
		config.Port = DefaultPort
	}

	factory := config.ServerFactory
	if factory == nil {
		factory = &zeroconfServerFactory{}
	}

	a := &Advertiser{
		config:  config,
		factory: factory,
	}

	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("discovery")
	}

	return a, nil
}

// Start begins advertising the node's mesh discovery service.
// The instance name is derived from nodeID so peers can look the node up
// directly via LookupNode once discovered. An empty txt.NodeIDHex is filled
// in from nodeID.
func (a *Advertiser) Start(nodeID identity.NodeID, txt NodeTXT) error {
	if txt.NodeIDHex == "" {
		txt.NodeIDHex = NodeInstanceName(nodeID)
	}
	if err := txt.Validate(); err != nil {
		return fmt.Errorf("advertiser: txt validation failed: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.server != nil {
		return ErrAlreadyStarted
	}

	instanceName := NodeInstanceName(nodeID)

	// Subtype filter so peers can browse by trust level without resolving
	// every advertised node.
	subtype := fmt.Sprintf("_A%d", txt.Attestation)
	service := ServiceMeshNode + "," + subtype

	txtRecords := txt.Encode()
	if a.log != nil {
		a.log.Debugf("registering mDNS service: instance=%s service=%s domain=%s port=%d",
			instanceName, service, DefaultDomain, a.config.Port)
		a.log.Tracef("TXT records: %v", txtRecords)
	}

	server, err := a.factory.Register(
		instanceName,
		service,
		DefaultDomain,
		a.config.Port,
		txtRecords,
		a.config.Interfaces,
	)
	if err != nil {
		return fmt.Errorf("advertiser: mDNS registration failed for %s: %w", service, err)
	}

	if a.log != nil {
		a.log.Infof("mDNS registration successful for %s", service)
	}

	a.server = server
	a.instanceName = instanceName
	return nil
}

// Stop stops advertising.
func (a *Advertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.server == nil {
		return ErrNotStarted
	}

	a.server.Shutdown()
	a.server = nil
	a.instanceName = ""
	return nil
}

// Close stops advertising and closes the advertiser.
func (a *Advertiser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	a.closed = true
	return nil
}

// IsAdvertising returns true if the advertiser currently has an active registration.
func (a *Advertiser) IsAdvertising() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.server != nil
}

// InstanceName returns the instance name of the active registration, or
// empty string if not advertising.
func (a *Advertiser) InstanceName() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.instanceName
}

// AdvertiserWithContext wraps an Advertiser with context support.
type AdvertiserWithContext struct {
	*Advertiser
	ctx    context.Context
	cancel context.CancelFunc
}

// NewAdvertiserWithContext creates an Advertiser that can be cancelled via context.
func NewAdvertiserWithContext(ctx context.Context, config AdvertiserConfig) (*AdvertiserWithContext, error) {
	adv, err := NewAdvertiser(config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)

	awc := &AdvertiserWithContext{
		Advertiser: adv,
		ctx:        ctx,
		cancel:     cancel,
	}

	// Monitor context for cancellation
	go func() {
		<-ctx.Done()
		adv.Close()
	}()

	return awc, nil
}

// Close cancels the context and closes the advertiser.
func (a *AdvertiserWithContext) Close() error {
	a.cancel()
	return a.Advertiser.Close()
}
