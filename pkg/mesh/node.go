// Package mesh wires the Identity Registry, Attestation Handshake Engine,
// Heartbeat Link, TPM Capability, Trust Chain Validator, Replay Cache,
// Admin Authority, and Audit Sink into a single running Node: a process
// that discovers peers over mDNS, mutually attests them, and maintains a
// signed liveness link with each one.
package mesh

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/meshguard/attestmesh/pkg/admin"
	"github.com/meshguard/attestmesh/pkg/audit"
	"github.com/meshguard/attestmesh/pkg/crypto"
	"github.com/meshguard/attestmesh/pkg/discovery"
	"github.com/meshguard/attestmesh/pkg/handshake"
	"github.com/meshguard/attestmesh/pkg/heartbeat"
	"github.com/meshguard/attestmesh/pkg/identity"
	"github.com/meshguard/attestmesh/pkg/replay"
	"github.com/meshguard/attestmesh/pkg/tpm"
	"github.com/meshguard/attestmesh/pkg/transport"
	"github.com/meshguard/attestmesh/pkg/trustchain"
	"github.com/meshguard/attestmesh/pkg/wire"
	"github.com/pion/logging"
)

// Node represents a running mesh node. It coordinates every protocol layer
// and manages the attestation/liveness lifecycle of each peer it speaks to.
type Node struct {
	config NodeConfig
	state  NodeState
	log    logging.LeveledLogger

	nodeID  identity.NodeID
	keyPair *crypto.KeyPair

	tpmProvider tpm.Provider
	auditSink   *audit.Sink
	adminAuth   *admin.Authority
	registry    *identity.Registry
	validator   *trustchain.Validator
	replayCache *replay.Cache
	engine      *handshake.Engine
	hbServer    *heartbeat.Server

	transportMgr *transport.Manager
	discoveryMgr *discovery.Manager

	mu                sync.RWMutex
	pendingResponders map[string]pendingResponder
	serverConns       map[string]string
	clientLinks       map[string]*meshHeartbeatTransport

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewNode creates a mesh Node with the given configuration. The node is
// created but not started; call Start to begin listening, advertising, and
// accepting handshakes.
func NewNode(config NodeConfig) (*Node, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	n := &Node{
		config:            config,
		state:             NodeStateUninitialized,
		pendingResponders: make(map[string]pendingResponder),
		serverConns:       make(map[string]string),
		clientLinks:       make(map[string]*meshHeartbeatTransport),
	}
	if config.LoggerFactory != nil {
		n.log = config.LoggerFactory.NewLogger("mesh")
	}

	keyPair := config.KeyPair
	if keyPair == nil {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("mesh: generating key pair: %w", err)
		}
		keyPair = kp
	}
	n.keyPair = keyPair

	salt := config.Salt
	if len(salt) == 0 {
		s, err := crypto.RandomSalt()
		if err != nil {
			return nil, fmt.Errorf("mesh: generating salt: %w", err)
		}
		salt = s[:]
	}
	n.nodeID = identity.ComputeNodeID(config.HardwareID, keyPair.PublicKey(), salt)

	provider, err := tpm.DetectProvider(config.AllowSoftwareTPM)
	if err != nil {
		return nil, fmt.Errorf("mesh: detecting tpm provider: %w", err)
	}
	n.tpmProvider = provider

	n.auditSink = audit.NewSink(audit.Config{
		Backend:       config.AuditBackend,
		LoggerFactory: config.LoggerFactory,
	})

	n.adminAuth = admin.New(admin.Config{
		Admins:    config.Admins,
		Threshold: config.AdminThreshold,
	})

	n.registry = identity.New(identity.Config{
		Storage:       config.Storage,
		Audit:         n.auditSink,
		Authorizer:    n.adminAuth,
		LoggerFactory: config.LoggerFactory,
		Now:           config.Now,
	})

	n.validator = trustchain.NewValidator(config.Anchors, config.Now)
	n.replayCache = replay.New(0, 0)

	n.engine = handshake.New(handshake.Config{
		Local: handshake.LocalIdentity{
			NodeID:    n.nodeID,
			KeyPair:   n.keyPair,
			CertChain: config.CertChain,
		},
		Registry:      n.registry,
		Validator:     n.validator,
		ReplayCache:   n.replayCache,
		Audit:         n.auditSink,
		TpmProvider:   n.tpmProvider,
		PCRPolicy:     config.PCRPolicy,
		LoggerFactory: config.LoggerFactory,
		Now:           config.Now,
	})

	n.hbServer = heartbeat.NewServer(heartbeat.ServerConfig{
		Registry:      n.registry,
		Audit:         n.auditSink,
		LoggerFactory: config.LoggerFactory,
		Now:           config.Now,
	})

	n.state = NodeStateInitialized
	return n, nil
}

// Start brings up the transport and discovery layers and begins
// advertising this node's attestation trust hint over mDNS.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.state.CanStart() {
		if n.state.IsRunning() {
			return ErrAlreadyStarted
		}
		return ErrNotInitialized
	}
	n.state = NodeStateStarting

	n.ctx, n.cancel = context.WithCancel(ctx)

	if err := n.startTransport(); err != nil {
		n.state = NodeStateInitialized
		return err
	}

	if err := n.startDiscovery(); err != nil {
		n.stopTransport()
		n.state = NodeStateInitialized
		return err
	}

	if err := n.advertise(); err != nil {
		n.stopDiscovery()
		n.stopTransport()
		n.state = NodeStateInitialized
		return err
	}

	n.state = NodeStateRunning
	if n.log != nil {
		n.log.Infof("node started, node_id=%x", n.nodeID)
	}
	if n.config.OnStateChanged != nil {
		n.config.OnStateChanged(n.state)
	}
	return nil
}

func (n *Node) startTransport() error {
	var udpConn net.PacketConn
	var tcpListener net.Listener
	var err error

	if n.config.TransportFactory != nil {
		udpConn, err = n.config.TransportFactory.CreateUDPConn(n.config.Port)
		if err != nil {
			return err
		}
		tcpListener, err = n.config.TransportFactory.CreateTCPListener(n.config.Port)
		if err != nil {
			return err
		}
	}

	n.transportMgr, err = transport.NewManager(transport.ManagerConfig{
		Port:           n.config.Port,
		UDPEnabled:     true,
		TCPEnabled:     true,
		UDPConn:        udpConn,
		TCPListener:    tcpListener,
		MessageHandler: n.onMessage,
	})
	if err != nil {
		return err
	}
	return n.transportMgr.Start()
}

func (n *Node) stopTransport() {
	if n.transportMgr != nil {
		n.transportMgr.Stop()
	}
}

func (n *Node) startDiscovery() error {
	var err error
	n.discoveryMgr, err = discovery.NewManager(discovery.ManagerConfig{
		Port: n.config.Port,
	})
	return err
}

func (n *Node) stopDiscovery() {
	if n.discoveryMgr != nil {
		n.discoveryMgr.Close()
	}
}

// attestationHint maps this node's active TPM variant to the discovery
// package's coarse advertisement hint.
func (n *Node) attestationHint() discovery.AttestationHint {
	if n.tpmProvider != nil && n.tpmProvider.Variant() == tpm.VariantHardware {
		return discovery.AttestationHintTpm
	}
	return discovery.AttestationHintSoftware
}

func (n *Node) advertise() error {
	txt := discovery.NodeTXT{
		ProtocolVersion:   handshake.ProtocolVersion,
		Attestation:       n.attestationHint(),
		HeartbeatInterval: n.config.HeartbeatInterval,
		TCPSupported:      true,
		InstanceLabel:     n.config.InstanceLabel,
	}
	return n.discoveryMgr.StartAdvertising(n.nodeID, txt)
}

// Stop gracefully shuts down the node: all heartbeat links are closed, the
// background sweeps stop, and the transport and discovery layers are torn
// down.
func (n *Node) Stop() error {
	n.mu.Lock()
	if !n.state.CanStop() {
		if n.state == NodeStateStopped {
			n.mu.Unlock()
			return ErrAlreadyStopped
		}
		n.mu.Unlock()
		return ErrNotStarted
	}
	n.state = NodeStateStopping

	for _, link := range n.clientLinks {
		link.Close()
	}
	n.clientLinks = make(map[string]*meshHeartbeatTransport)
	n.mu.Unlock()

	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()

	n.hbServer.Close()
	n.engine.Close()
	n.stopDiscovery()
	n.stopTransport()
	n.auditSink.Close()

	n.mu.Lock()
	n.state = NodeStateStopped
	n.mu.Unlock()

	if n.log != nil {
		n.log.Info("node stopped")
	}
	if n.config.OnStateChanged != nil {
		n.config.OnStateChanged(NodeStateStopped)
	}
	return nil
}

// State returns the node's current lifecycle state.
func (n *Node) State() NodeState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// NodeID returns this node's BLAKE3-derived identifier.
func (n *Node) NodeID() identity.NodeID {
	return n.nodeID
}

// Connect initiates the Attestation Handshake as Initiator against addr,
// which is expected to own peerNodeID. The handshake completes
// asynchronously: the node's message handler drives M2/M3 and, on
// success, starts a heartbeat.Client pulsing to addr.
func (n *Node) Connect(peerNodeID identity.NodeID, addr transport.PeerAddress) error {
	if n.State() != NodeStateRunning {
		return ErrNotStarted
	}

	req, err := n.engine.StartHandshake(peerNodeID)
	if err != nil {
		return fmt.Errorf("mesh: starting handshake with %s: %w", addr, err)
	}

	payload, err := wire.EncodeRequest(req)
	if err != nil {
		return fmt.Errorf("mesh: encoding request: %w", err)
	}
	return n.transportMgr.Send(payload, addr)
}

// PeerAddressFromResolved derives a UDP transport.PeerAddress from a
// discovery.ResolvedService, preferring the resolved host's best address.
func PeerAddressFromResolved(resolved *discovery.ResolvedService) (transport.PeerAddress, error) {
	ip := resolved.PreferredIP()
	if ip == nil {
		return transport.PeerAddress{}, fmt.Errorf("mesh: resolved service %s has no usable address", resolved.InstanceName)
	}
	udpAddr := &net.UDPAddr{IP: ip, Port: resolved.Port}
	return transport.NewUDPPeerAddress(udpAddr), nil
}

// Registry exposes the node's Identity Registry for enrollment and
// revocation by an operator (see cmd/meshctl).
func (n *Node) Registry() *identity.Registry { return n.registry }

// AdminAuthority exposes the node's Admin Authority.
func (n *Node) AdminAuthority() *admin.Authority { return n.adminAuth }

// AuditSink exposes the node's Audit Event Sink.
func (n *Node) AuditSink() *audit.Sink { return n.auditSink }

// DiscoveryManager exposes the node's mDNS advertiser/resolver.
func (n *Node) DiscoveryManager() *discovery.Manager { return n.discoveryMgr }

// TransportManager exposes the node's UDP/TCP transport manager.
func (n *Node) TransportManager() *transport.Manager { return n.transportMgr }

// ConnectionCount returns the number of peer connections this node's
// Heartbeat Link server side currently tracks, whether or not their first
// pulse has been verified yet.
func (n *Node) ConnectionCount() int {
	return n.hbServer.ConnectionCount()
}

// LoggerFactory returns the node's logger factory, or nil if unconfigured.
func (n *Node) LoggerFactory() logging.LoggerFactory {
	return n.config.LoggerFactory
}
