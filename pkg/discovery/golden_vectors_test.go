package discovery

import (
	"testing"
	"time"

	"github.com/meshguard/attestmesh/pkg/identity"
)

// TestGoldenVectors_NodeInstanceName checks the instance-name encoding is a
// fixed 64-character uppercase hex rendering of the node identifier, and
// that it round-trips exactly.
func TestGoldenVectors_NodeInstanceName(t *testing.T) {
	tests := []struct {
		name   string
		nodeID identity.NodeID
	}{
		{
			name:   "all zero",
			nodeID: identity.NodeID{},
		},
		{
			name:   "incrementing bytes",
			nodeID: incrementingNodeID(),
		},
		{
			name:   "all 0xFF",
			nodeID: allOnesNodeID(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NodeInstanceName(tt.nodeID)
			if len(got) != identity.NodeIDSize*2 {
				t.Fatalf("NodeInstanceName() length = %d, want %d", len(got), identity.NodeIDSize*2)
			}

			roundTripped, err := ParseNodeInstanceName(got)
			if err != nil {
				t.Fatalf("ParseNodeInstanceName() error = %v", err)
			}
			if roundTripped != tt.nodeID {
				t.Errorf("roundtrip mismatch: got %x, want %x", roundTripped, tt.nodeID)
			}
		})
	}
}

func incrementingNodeID() identity.NodeID {
	var n identity.NodeID
	for i := range n {
		n[i] = byte(i)
	}
	return n
}

func allOnesNodeID() identity.NodeID {
	var n identity.NodeID
	for i := range n {
		n[i] = 0xFF
	}
	return n
}

func TestGoldenVectors_ParseNodeInstanceNameRejectsWrongLength(t *testing.T) {
	tests := []string{
		"",
		"AB",
		"00112233445566778899AABBCCDDEEFF0011223344556677889900AABBCCDDEEFF", // too long
		"ZZ112233445566778899AABBCCDDEEFF0011223344556677889900AABBCCDDEE",   // invalid hex, right length
	}
	for _, instanceName := range tests {
		if _, err := ParseNodeInstanceName(instanceName); err != ErrInvalidInstanceName {
			t.Errorf("ParseNodeInstanceName(%q) error = %v, want ErrInvalidInstanceName", instanceName, err)
		}
	}
}

// TestGoldenVectors_NodeTXT_MinimalExample checks the minimal TXT encoding
// for a node advertising no optional fields.
func TestGoldenVectors_NodeTXT_MinimalExample(t *testing.T) {
	txt := NodeTXT{
		NodeIDHex:   "00112233445566778899AABBCCDDEEFF0011223344556677889900AABBCCDD",
		Attestation: AttestationHintTpm,
	}

	encoded := txt.Encode()
	want := []string{
		"N=00112233445566778899AABBCCDDEEFF0011223344556677889900AABBCCDD",
		"PV=0",
		"A=0",
	}
	if len(encoded) != len(want) {
		t.Fatalf("Encode() = %v, want %v", encoded, want)
	}
	for i := range want {
		if encoded[i] != want[i] {
			t.Errorf("Encode()[%d] = %q, want %q", i, encoded[i], want[i])
		}
	}

	parsed, err := ParseNodeTXT(encoded)
	if err != nil {
		t.Fatalf("ParseNodeTXT() error = %v", err)
	}
	if parsed.NodeIDHex != txt.NodeIDHex {
		t.Errorf("NodeIDHex = %q, want %q", parsed.NodeIDHex, txt.NodeIDHex)
	}
	if parsed.Attestation != AttestationHintTpm {
		t.Errorf("Attestation = %v, want %v", parsed.Attestation, AttestationHintTpm)
	}
}

// TestGoldenVectors_NodeTXT_FullExample checks every optional field round-trips.
func TestGoldenVectors_NodeTXT_FullExample(t *testing.T) {
	txt := NodeTXT{
		NodeIDHex:         "AABBCCDDEEFF00112233445566778899AABBCCDDEEFF00112233445566778899",
		ProtocolVersion:   3,
		Attestation:       AttestationHintSoftware,
		HeartbeatInterval: 5 * time.Second,
		TCPSupported:      true,
		InstanceLabel:     "rack-3-sensor",
	}

	encoded := txt.Encode()
	parsed, err := ParseNodeTXT(encoded)
	if err != nil {
		t.Fatalf("ParseNodeTXT() error = %v", err)
	}

	if parsed.ProtocolVersion != 3 {
		t.Errorf("ProtocolVersion = %d, want 3", parsed.ProtocolVersion)
	}
	if parsed.Attestation != AttestationHintSoftware {
		t.Errorf("Attestation = %v, want %v", parsed.Attestation, AttestationHintSoftware)
	}
	if parsed.HeartbeatInterval != 5*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 5s", parsed.HeartbeatInterval)
	}
	if !parsed.TCPSupported {
		t.Errorf("TCPSupported = false, want true")
	}
	if parsed.InstanceLabel != "rack-3-sensor" {
		t.Errorf("InstanceLabel = %q, want %q", parsed.InstanceLabel, "rack-3-sensor")
	}
}
