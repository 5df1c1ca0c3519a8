// Command meshctl is the operator CLI for an attestmesh Identity Registry.
// It operates directly on the same JSON registry file a running meshnode
// process uses via its -registry flag: enrollment and revocation are
// administrative acts, not side effects of the attestation handshake.
//
// Usage:
//
//	meshctl register -registry FILE -hardware-id HEX -public-key HEX -salt HEX [options]
//	meshctl inspect  -registry FILE [-node-id HEX]
//	meshctl revoke   -registry FILE -node-id HEX -reason REASON -admin ID:KEY [-admin ID:KEY ...] -signature HEX [-signature HEX ...]
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/meshguard/attestmesh/pkg/admin"
	"github.com/meshguard/attestmesh/pkg/identity"
)

type repeatedFlag []string

func (r *repeatedFlag) String() string     { return strings.Join(*r, ",") }
func (r *repeatedFlag) Set(v string) error { *r = append(*r, v); return nil }

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "register":
		err = runRegister(os.Args[2:])
	case "inspect":
		err = runInspect(os.Args[2:])
	case "revoke":
		err = runRevoke(os.Args[2:])
	case "-h", "-help", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "meshctl: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: meshctl <register|inspect|revoke> [options]")
}

func runRegister(args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	registryPath := fs.String("registry", "", "path to the JSON identity registry file (required)")
	hardwareIDHex := fs.String("hardware-id", "", "hex-encoded hardware identifier (required)")
	publicKeyHex := fs.String("public-key", "", "hex-encoded Ed25519 public key (required)")
	saltHex := fs.String("salt", "", "hex-encoded enrollment salt (required)")
	attestationKind := fs.String("attestation", "software", "attestation kind: tpm, software, or none")
	quoteHex := fs.String("quote", "", "hex-encoded TPM quote (attestation=tpm)")
	pcrsHex := fs.String("pcrs", "", "hex-encoded PCR digest blob (attestation=tpm)")
	akCertHex := fs.String("ak-cert", "", "hex-encoded attestation key certificate (attestation=tpm)")
	certHex := fs.String("certificate", "", "hex-encoded device certificate (attestation=software)")
	fs.Parse(args)

	if *registryPath == "" || *hardwareIDHex == "" || *publicKeyHex == "" || *saltHex == "" {
		return fmt.Errorf("register requires -registry, -hardware-id, -public-key, and -salt")
	}

	hardwareID, err := hex.DecodeString(*hardwareIDHex)
	if err != nil {
		return fmt.Errorf("invalid -hardware-id: %w", err)
	}
	publicKey, err := hex.DecodeString(*publicKeyHex)
	if err != nil {
		return fmt.Errorf("invalid -public-key: %w", err)
	}
	salt, err := hex.DecodeString(*saltHex)
	if err != nil {
		return fmt.Errorf("invalid -salt: %w", err)
	}

	att, err := buildAttestation(*attestationKind, *quoteHex, *pcrsHex, *akCertHex, *certHex)
	if err != nil {
		return err
	}

	nodeID := identity.ComputeNodeID(hardwareID, publicKey, salt)
	rec := &identity.Record{
		NodeID:      nodeID,
		PublicKey:   publicKey,
		Attestation: att,
	}

	registry, _, err := openRegistry(*registryPath)
	if err != nil {
		return err
	}

	if err := registry.Register(rec, hardwareID, salt); err != nil {
		return fmt.Errorf("registering node: %w", err)
	}
	fmt.Printf("registered node_id=%x attestation=%s\n", nodeID[:], att.Kind)
	return nil
}

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	registryPath := fs.String("registry", "", "path to the JSON identity registry file (required)")
	nodeIDHex := fs.String("node-id", "", "hex-encoded node_id to show (omit to list all)")
	fs.Parse(args)

	if *registryPath == "" {
		return fmt.Errorf("inspect requires -registry")
	}
	registry, storage, err := openRegistry(*registryPath)
	if err != nil {
		return err
	}

	if *nodeIDHex != "" {
		id, err := parseNodeID(*nodeIDHex)
		if err != nil {
			return err
		}
		rec, ok := registry.Lookup(id)
		if !ok {
			return fmt.Errorf("node_id %s not found", *nodeIDHex)
		}
		printRecord(rec)
		return nil
	}

	count := 0
	err = storage.Iterate(func(rec *identity.Record) bool {
		printRecord(rec)
		count++
		return true
	})
	if err != nil {
		return fmt.Errorf("listing registry: %w", err)
	}
	if count == 0 {
		fmt.Println("(no enrolled identities)")
	}
	return nil
}

func runRevoke(args []string) error {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	registryPath := fs.String("registry", "", "path to the JSON identity registry file (required)")
	nodeIDHex := fs.String("node-id", "", "hex-encoded node_id to revoke (required)")
	reason := fs.String("reason", "", "human-readable revocation reason (required)")
	var admins, signatures repeatedFlag
	fs.Var(&admins, "admin", "admin signer as node_id_hex:public_key_hex (repeatable, must match the node's configured admin set)")
	fs.Var(&signatures, "signature", "hex-encoded admin signature over the revocation payload (repeatable)")
	fs.Parse(args)

	if *registryPath == "" || *nodeIDHex == "" || *reason == "" {
		return fmt.Errorf("revoke requires -registry, -node-id, and -reason")
	}
	if len(admins) == 0 {
		return fmt.Errorf("revoke requires at least one -admin matching the node's configured admin set")
	}

	id, err := parseNodeID(*nodeIDHex)
	if err != nil {
		return err
	}
	admConfigs, err := parseAdmins(admins)
	if err != nil {
		return err
	}
	sigs := make([][]byte, 0, len(signatures))
	for _, s := range signatures {
		b, err := hex.DecodeString(s)
		if err != nil {
			return fmt.Errorf("invalid -signature %q: %w", s, err)
		}
		sigs = append(sigs, b)
	}

	authority := admin.New(admin.Config{Admins: admConfigs})
	registry, _, err := openRegistryWithAuthority(*registryPath, authority)
	if err != nil {
		return err
	}

	if err := registry.Revoke(id, *reason, sigs); err != nil {
		return fmt.Errorf("revoking node: %w", err)
	}
	fmt.Printf("revoked node_id=%x reason=%q\n", id[:], *reason)
	return nil
}

func openRegistry(path string) (*identity.Registry, identity.Storage, error) {
	return openRegistryWithAuthority(path, nil)
}

func openRegistryWithAuthority(path string, authority identity.RevokeAuthorizer) (*identity.Registry, identity.Storage, error) {
	storage, err := identity.NewFileStorage(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening registry file: %w", err)
	}
	registry := identity.New(identity.Config{
		Storage:    storage,
		Authorizer: authority,
		Now:        time.Now,
	})
	return registry, storage, nil
}

func buildAttestation(kind, quoteHex, pcrsHex, akCertHex, certHex string) (identity.Attestation, error) {
	switch kind {
	case "tpm":
		quote, err := hex.DecodeString(quoteHex)
		if err != nil {
			return identity.Attestation{}, fmt.Errorf("invalid -quote: %w", err)
		}
		pcrs, err := hex.DecodeString(pcrsHex)
		if err != nil {
			return identity.Attestation{}, fmt.Errorf("invalid -pcrs: %w", err)
		}
		akCert, err := hex.DecodeString(akCertHex)
		if err != nil {
			return identity.Attestation{}, fmt.Errorf("invalid -ak-cert: %w", err)
		}
		return identity.Attestation{Kind: identity.AttestationTpm, Quote: quote, PCRs: pcrs, AttestationKeyCert: akCert}, nil
	case "software":
		cert, err := hex.DecodeString(certHex)
		if err != nil {
			return identity.Attestation{}, fmt.Errorf("invalid -certificate: %w", err)
		}
		return identity.Attestation{Kind: identity.AttestationSoftware, Certificate: cert}, nil
	case "none":
		return identity.Attestation{Kind: identity.AttestationNone}, nil
	default:
		return identity.Attestation{}, fmt.Errorf("unknown -attestation %q, expected tpm, software, or none", kind)
	}
}

func parseNodeID(s string) (identity.NodeID, error) {
	var id identity.NodeID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != identity.NodeIDSize {
		return id, fmt.Errorf("invalid node_id %q: expected %d hex bytes", s, identity.NodeIDSize)
	}
	copy(id[:], b)
	return id, nil
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

func printRecord(rec *identity.Record) {
	fmt.Printf("node_id=%x attestation=%s revocation=%s created_at=%s\n",
		rec.NodeID[:], rec.Attestation.Kind, rec.Revocation, rec.CreatedAt.Format(time.RFC3339))
}
