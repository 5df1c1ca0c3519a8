package mesh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/meshguard/attestmesh/pkg/audit"
	"github.com/meshguard/attestmesh/pkg/crypto"
	"github.com/meshguard/attestmesh/pkg/discovery"
	"github.com/meshguard/attestmesh/pkg/identity"
	"github.com/meshguard/attestmesh/pkg/transport"
	"github.com/meshguard/attestmesh/pkg/trustchain"
)

// testBackend collects audit events for assertions instead of writing them
// anywhere; nodeA and nodeB each get their own so tests can tell whose
// sink emitted what.
type testBackend struct {
	events []audit.Event
}

func (b *testBackend) Write(ev audit.Event) error {
	b.events = append(b.events, ev)
	return nil
}

// selfSignedCert builds a one-certificate chain that is its own root: the
// Subject and Issuer match and the certificate is signed by the same key
// pair it carries. A test AnchorSet trusting this certificate is
// sufficient for trustchain.Validator.Validate to accept it, without
// standing up a separate CA hierarchy.
func selfSignedCert(t *testing.T, kp *crypto.KeyPair, subject string) *trustchain.Certificate {
	t.Helper()
	cert := &trustchain.Certificate{
		Serial:    []byte(subject),
		Subject:   subject,
		Issuer:    subject,
		PublicKey: kp.PublicKey(),
		NotBefore: time.Now().Add(-time.Hour),
		NotAfter:  time.Now().Add(time.Hour),
	}
	cert.Signature = kp.Sign(cert.TBSBytes())
	return cert
}

// newTestNodeConfig builds a NodeConfig for node `label` over factory,
// trusting peerCert as its sole anchor. The returned KeyPair/Certificate
// let the caller register this node as a trust anchor for its peer.
func newTestNodeConfig(t *testing.T, label string, hardwareID []byte, factory transport.Factory, peerCerts ...*trustchain.Certificate) (NodeConfig, *crypto.KeyPair, *trustchain.Certificate) {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("%s: generating key pair: %v", label, err)
	}
	cert := selfSignedCert(t, kp, label)

	anchors := trustchain.NewAnchorSet(peerCerts...)

	cfg := NodeConfig{
		HardwareID:        hardwareID,
		KeyPair:           kp,
		CertChain:         []*trustchain.Certificate{cert},
		Anchors:           anchors,
		AuditBackend:      &testBackend{},
		AllowSoftwareTPM:  true,
		PCRPolicy:         func(pcrs map[int][]byte) bool { return true },
		HeartbeatInterval: 20 * time.Millisecond,
		Port:              DefaultPort,
		TransportFactory:  factory,
		InstanceLabel:     label,
	}
	return cfg, kp, cert
}

// newConnectedPair builds two Nodes sharing a virtual-network Pipe, each
// trusting the other's self-signed certificate as its sole anchor.
// onAttestedA/onAttestedB, if non-nil, become each node's OnPeerAttested
// callback from construction, before either node starts processing
// messages.
func newConnectedPair(t *testing.T, onAttestedA, onAttestedB func(identity.NodeID, float64)) (*Node, *Node) {
	t.Helper()
	f0, f1 := transport.NewPipeFactoryPair()

	kpA, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generating node A key pair: %v", err)
	}
	certA := selfSignedCert(t, kpA, "node-a")

	kpB, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generating node B key pair: %v", err)
	}
	certB := selfSignedCert(t, kpB, "node-b")

	cfgA := NodeConfig{
		HardwareID:        []byte("hardware-a"),
		KeyPair:           kpA,
		CertChain:         []*trustchain.Certificate{certA},
		Anchors:           trustchain.NewAnchorSet(certB),
		AuditBackend:      &testBackend{},
		AllowSoftwareTPM:  true,
		PCRPolicy:         func(pcrs map[int][]byte) bool { return true },
		HeartbeatInterval: 20 * time.Millisecond,
		Port:              17540, // distinct from node B's TCP fallback listener
		TransportFactory:  f0,
		InstanceLabel:     "node-a",
		OnPeerAttested:    onAttestedA,
	}
	cfgB := NodeConfig{
		HardwareID:        []byte("hardware-b"),
		KeyPair:           kpB,
		CertChain:         []*trustchain.Certificate{certB},
		Anchors:           trustchain.NewAnchorSet(certA),
		AuditBackend:      &testBackend{},
		AllowSoftwareTPM:  true,
		PCRPolicy:         func(pcrs map[int][]byte) bool { return true },
		HeartbeatInterval: 20 * time.Millisecond,
		Port:              17541, // distinct from node A's TCP fallback listener
		TransportFactory:  f1,
		InstanceLabel:     "node-b",
		OnPeerAttested:    onAttestedB,
	}

	nodeA, err := NewNode(cfgA)
	if err != nil {
		t.Fatalf("creating node A: %v", err)
	}
	nodeB, err := NewNode(cfgB)
	if err != nil {
		t.Fatalf("creating node B: %v", err)
	}

	ctx := context.Background()
	if err := nodeA.Start(ctx); err != nil {
		t.Fatalf("starting node A: %v", err)
	}
	if err := nodeB.Start(ctx); err != nil {
		nodeA.Stop()
		t.Fatalf("starting node B: %v", err)
	}

	return nodeA, nodeB
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestNewNodeRequiresAnchors(t *testing.T) {
	_, err := NewNode(NodeConfig{
		HardwareID:   []byte("hw"),
		AuditBackend: &testBackend{},
	})
	if err != ErrAnchorsRequired {
		t.Fatalf("expected ErrAnchorsRequired, got %v", err)
	}
}

func TestNewNodeRequiresHardwareID(t *testing.T) {
	_, err := NewNode(NodeConfig{
		Anchors:      trustchain.NewAnchorSet(),
		AuditBackend: &testBackend{},
	})
	if err != ErrHardwareIDRequired {
		t.Fatalf("expected ErrHardwareIDRequired, got %v", err)
	}
}

func TestNewNodeRequiresAuditBackend(t *testing.T) {
	_, err := NewNode(NodeConfig{
		HardwareID: []byte("hw"),
		Anchors:    trustchain.NewAnchorSet(),
	})
	if err != ErrAuditBackendRequired {
		t.Fatalf("expected ErrAuditBackendRequired, got %v", err)
	}
}

func TestNodeConnectBeforeStartFails(t *testing.T) {
	f0, _ := transport.NewPipeFactoryPair()
	cfg, _, _ := newTestNodeConfig(t, "unstarted", []byte("hw"), f0)
	node, err := NewNode(cfg)
	if err != nil {
		t.Fatalf("creating node: %v", err)
	}
	var peer identity.NodeID
	if err := node.Connect(peer, transport.PeerAddress{}); err != ErrNotStarted {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

// TestMutualAttestationAndHeartbeat drives a full Initiator/Responder
// handshake over a virtual-network Pipe and confirms both sides report the
// peer as attested and the responder's heartbeat server tracks the link.
func TestMutualAttestationAndHeartbeat(t *testing.T) {
	var mu sync.Mutex
	var attestedA, attestedB identity.NodeID
	var gotA, gotB bool

	nodeA, nodeB := newConnectedPair(t,
		func(peer identity.NodeID, score float64) {
			mu.Lock()
			defer mu.Unlock()
			attestedA, gotA = peer, true
		},
		func(peer identity.NodeID, score float64) {
			mu.Lock()
			defer mu.Unlock()
			attestedB, gotB = peer, true
		},
	)
	defer nodeA.Stop()
	defer nodeB.Stop()

	pf, ok := nodeA.config.TransportFactory.(*transport.PipeFactory)
	if !ok {
		t.Fatalf("expected *transport.PipeFactory")
	}
	peerAddr := transport.NewUDPPeerAddress(pf.PeerAddr())

	if err := nodeA.Connect(nodeB.NodeID(), peerAddr); err != nil {
		t.Fatalf("node A connecting to node B: %v", err)
	}

	waitForCondition(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotA && gotB
	})

	mu.Lock()
	gotAttestedA, gotAttestedB := attestedA, attestedB
	mu.Unlock()
	if gotAttestedA != nodeB.NodeID() {
		t.Fatalf("node A attested wrong peer: got %x want %x", gotAttestedA[:], nodeB.NodeID())
	}
	if gotAttestedB != nodeA.NodeID() {
		t.Fatalf("node B attested wrong peer: got %x want %x", gotAttestedB[:], nodeA.NodeID())
	}

	waitForCondition(t, time.Second, func() bool { return nodeB.ConnectionCount() == 1 })
}

func TestPeerAddressFromResolvedNoAddress(t *testing.T) {
	resolved := &discovery.ResolvedService{InstanceName: "deadbeef._attestmesh._udp.local."}
	if _, err := PeerAddressFromResolved(resolved); err == nil {
		t.Fatalf("expected error for a resolved service with no IPs")
	}
}
