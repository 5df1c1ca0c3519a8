// Command meshnode runs a long-lived attestmesh node: it advertises
// itself over mDNS, mutually attests any peer it discovers or is
// discovered by, and maintains a signed heartbeat link with every peer it
// has attested.
//
// Usage:
//
//	meshnode [options]
//
// Options:
//
//	-port              UDP/TCP port (default: 5540)
//	-hardware-id       hex-encoded hardware identifier (required)
//	-registry          path to a JSON identity registry file (default: in-memory)
//	-allow-software-tpm   permit software-attested peers and fall back to a
//	                      software TPM if no hardware TPM is present
//	-heartbeat-interval   client pulse interval, e.g. "5s" (default: 5s)
//	-admin             repeatable "node_id_hex:public_key_hex" admin signer
//	-admin-threshold   number of admin signatures required to revoke (default: len(admins))
//	-anchor            repeatable path to a JSON trustchain.Certificate trust anchor
//	-cert              repeatable path to a JSON trustchain.Certificate for this
//	                    node's own chain, leaf first
//	-label             human-readable instance label advertised over mDNS
//	-discover          browse for and auto-attest discovered peers (default: true)
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/meshguard/attestmesh/pkg/admin"
	"github.com/meshguard/attestmesh/pkg/audit"
	"github.com/meshguard/attestmesh/pkg/heartbeat"
	"github.com/meshguard/attestmesh/pkg/identity"
	"github.com/meshguard/attestmesh/pkg/mesh"
	"github.com/meshguard/attestmesh/pkg/trustchain"
	"github.com/pion/logging"
)

type repeatedFlag []string

func (r *repeatedFlag) String() string     { return strings.Join(*r, ",") }
func (r *repeatedFlag) Set(v string) error { *r = append(*r, v); return nil }

func main() {
	var (
		port              int
		hardwareIDHex     string
		registryPath      string
		allowSoftwareTPM  bool
		heartbeatInterval time.Duration
		admins            repeatedFlag
		adminThreshold    int
		anchorPaths       repeatedFlag
		certPaths         repeatedFlag
		label             string
		discoverPeers     bool
	)

	flag.IntVar(&port, "port", mesh.DefaultPort, "UDP/TCP port")
	flag.StringVar(&hardwareIDHex, "hardware-id", "", "hex-encoded hardware identifier (required)")
	flag.StringVar(&registryPath, "registry", "", "path to a JSON identity registry file (empty = in-memory)")
	flag.BoolVar(&allowSoftwareTPM, "allow-software-tpm", true, "permit software attestation when no hardware TPM is present")
	flag.DurationVar(&heartbeatInterval, "heartbeat-interval", 5*time.Second, "heartbeat client pulse interval")
	flag.Var(&admins, "admin", "admin signer as node_id_hex:public_key_hex (repeatable)")
	flag.IntVar(&adminThreshold, "admin-threshold", 0, "admin signatures required to revoke (0 = all configured admins)")
	flag.Var(&anchorPaths, "anchor", "path to a JSON trust anchor certificate (repeatable)")
	flag.Var(&certPaths, "cert", "path to a JSON certificate for this node's own chain, leaf first (repeatable)")
	flag.StringVar(&label, "label", "", "human-readable instance label advertised over mDNS")
	flag.BoolVar(&discoverPeers, "discover", true, "browse for and auto-attest discovered peers")
	flag.Parse()

	if hardwareIDHex == "" {
		log.Fatal("meshnode: -hardware-id is required")
	}
	hardwareID, err := hex.DecodeString(hardwareIDHex)
	if err != nil {
		log.Fatalf("meshnode: invalid -hardware-id: %v", err)
	}

	admConfigs, err := parseAdmins(admins)
	if err != nil {
		log.Fatalf("meshnode: %v", err)
	}
	anchorSet, err := loadAnchors(anchorPaths)
	if err != nil {
		log.Fatalf("meshnode: %v", err)
	}
	certChain, err := loadCertChain(certPaths)
	if err != nil {
		log.Fatalf("meshnode: %v", err)
	}

	var storage identity.Storage
	if registryPath != "" {
		storage, err = identity.NewFileStorage(registryPath)
		if err != nil {
			log.Fatalf("meshnode: opening registry file: %v", err)
		}
	}

	loggerFactory := logging.NewDefaultLoggerFactory()
	auditBackend := audit.NewLogBackend(loggerFactory)

	config := mesh.NodeConfig{
		HardwareID:       hardwareID,
		CertChain:        certChain,
		Anchors:          anchorSet,
		Storage:          storage,
		AuditBackend:     auditBackend,
		Admins:           admConfigs,
		AdminThreshold:   adminThreshold,
		AllowSoftwareTPM: allowSoftwareTPM,
		PCRPolicy:        func(pcrs map[int][]byte) bool { return true }, // no PCR allowlist configured
		HeartbeatInterval: heartbeatInterval,
		Port:              port,
		InstanceLabel:     label,
		LoggerFactory:     loggerFactory,
		OnStateChanged: func(state mesh.NodeState) {
			log.Printf("node state: %s", state)
		},
		OnPeerAttested: func(peer identity.NodeID, trustScore float64) {
			log.Printf("peer attested: %x trust_score=%.1f", peer[:], trustScore)
		},
		OnPeerSevered: func(peer identity.NodeID, reason heartbeat.SeveranceReason) {
			log.Printf("peer link severed: %x reason=%v", peer[:], reason)
		},
	}

	node, err := mesh.NewNode(config)
	if err != nil {
		log.Fatalf("meshnode: creating node: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := node.Start(ctx); err != nil {
		log.Fatalf("meshnode: starting node: %v", err)
	}
	log.Printf("meshnode listening on port %d, node_id=%x", port, node.NodeID())

	if discoverPeers {
		go runDiscoveryLoop(ctx, node)
	}

	<-ctx.Done()
	log.Println("meshnode: shutting down")
	if err := node.Stop(); err != nil {
		log.Fatalf("meshnode: stopping node: %v", err)
	}
}

// runDiscoveryLoop browses for other attestmesh nodes and initiates a
// handshake with any newly discovered peer. Peers already attested are
// left alone; the dispatcher tracks connection state internally.
func runDiscoveryLoop(ctx context.Context, node *mesh.Node) {
	ch, err := node.DiscoveryManager().BrowseNodes(ctx)
	if err != nil {
		log.Printf("meshnode: browse failed: %v", err)
		return
	}
	attempted := make(map[identity.NodeID]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case resolved, ok := <-ch:
			if !ok {
				return
			}
			peerID, err := resolved.NodeID()
			if err != nil {
				continue
			}
			if peerID == node.NodeID() || attempted[peerID] {
				continue
			}
			attempted[peerID] = true

			addr, err := mesh.PeerAddressFromResolved(&resolved)
			if err != nil {
				log.Printf("meshnode: resolving address for %x: %v", peerID[:], err)
				continue
			}
			if err := node.Connect(peerID, addr); err != nil {
				log.Printf("meshnode: connecting to %x: %v", peerID[:], err)
			}
		}
	}
}

func parseAdmins(raw []string) ([]admin.Admin, error) {
	out := make([]admin.Admin, 0, len(raw))
	for _, entry := range raw {
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid -admin %q, expected node_id_hex:public_key_hex", entry)
		}
		idBytes, err := hex.DecodeString(parts[0])
		if err != nil || len(idBytes) != 32 {
			return nil, fmt.Errorf("invalid admin node_id in %q", entry)
		}
		pub, err := hex.DecodeString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid admin public_key in %q", entry)
		}
		var a admin.Admin
		copy(a.NodeID[:], idBytes)
		a.PublicKey = pub
		out = append(out, a)
	}
	return out, nil
}

func loadAnchors(paths []string) (*trustchain.AnchorSet, error) {
	roots := make([]*trustchain.Certificate, 0, len(paths))
	for _, p := range paths {
		cert, err := loadCertificate(p)
		if err != nil {
			return nil, err
		}
		roots = append(roots, cert)
	}
	return trustchain.NewAnchorSet(roots...), nil
}

func loadCertChain(paths []string) ([]*trustchain.Certificate, error) {
	chain := make([]*trustchain.Certificate, 0, len(paths))
	for _, p := range paths {
		cert, err := loadCertificate(p)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cert)
	}
	return chain, nil
}

func loadCertificate(path string) (*trustchain.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading certificate %s: %w", path, err)
	}
	var cert trustchain.Certificate
	if err := json.Unmarshal(data, &cert); err != nil {
		return nil, fmt.Errorf("parsing certificate %s: %w", path, err)
	}
	return &cert, nil
}
