package discovery

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TXT record key constants for mesh node advertisements.
const (
	// TXTKeyNodeID is the enrolled node identifier, hex-encoded.
	TXTKeyNodeID = "N"

	// TXTKeyProtocolVersion is the handshake protocol version key.
	TXTKeyProtocolVersion = "PV"

	// TXTKeyAttestation is the attestation hint key.
	TXTKeyAttestation = "A"

	// TXTKeyHeartbeatInterval is the client pulse interval key (milliseconds).
	TXTKeyHeartbeatInterval = "HI"

	// TXTKeyTCPSupported indicates TCP support.
	TXTKeyTCPSupported = "T"

	// TXTKeyInstanceName is the human-readable instance label (optional).
	TXTKeyInstanceName = "IN"
)

// MaxInstanceLabelLength is the maximum length of the optional human-readable label.
const MaxInstanceLabelLength = 32

// NodeTXT holds TXT records for _attestmesh._tcp.
type NodeTXT struct {
	// NodeIDHex is the enrolled node identifier, hex-encoded (required).
	NodeIDHex string

	// ProtocolVersion is the handshake protocol version this node speaks.
	ProtocolVersion uint32

	// Attestation is the coarse attestation hint for this node.
	Attestation AttestationHint

	// HeartbeatInterval is the node's client pulse interval (optional).
	HeartbeatInterval time.Duration

	// TCPSupported indicates whether the node accepts TCP connections.
	TCPSupported bool

	// InstanceLabel is a human-readable label for operators (optional, max 32 chars).
	InstanceLabel string
}

// Encode converts the TXT record to DNS-SD format strings.
func (n *NodeTXT) Encode() []string {
	var txt []string

	txt = append(txt, fmt.Sprintf("%s=%s", TXTKeyNodeID, n.NodeIDHex))
	txt = append(txt, fmt.Sprintf("%s=%d", TXTKeyProtocolVersion, n.ProtocolVersion))
	txt = append(txt, fmt.Sprintf("%s=%d", TXTKeyAttestation, n.Attestation))

	if n.HeartbeatInterval > 0 {
		txt = append(txt, fmt.Sprintf("%s=%d", TXTKeyHeartbeatInterval, n.HeartbeatInterval.Milliseconds()))
	}

	if n.TCPSupported {
		txt = append(txt, fmt.Sprintf("%s=1", TXTKeyTCPSupported))
	}

	if n.InstanceLabel != "" {
		label := n.InstanceLabel
		if len(label) > MaxInstanceLabelLength {
			label = label[:MaxInstanceLabelLength]
		}
		txt = append(txt, fmt.Sprintf("%s=%s", TXTKeyInstanceName, label))
	}

	return txt
}

// Validate checks that the TXT record values are well-formed.
func (n *NodeTXT) Validate() error {
	if n.NodeIDHex == "" {
		return ErrInvalidNodeID
	}
	if len(n.InstanceLabel) > MaxInstanceLabelLength {
		return ErrInvalidInstanceName
	}
	if !n.Attestation.IsValid() {
		return ErrInvalidTXTRecord
	}
	return nil
}

// ParseTXT parses raw TXT record strings into a map.
func ParseTXT(records []string) map[string]string {
	result := make(map[string]string)
	for _, record := range records {
		if idx := strings.IndexByte(record, '='); idx > 0 {
			key := record[:idx]
			value := record[idx+1:]
			result[key] = value
		}
	}
	return result
}

// ParseNodeTXT parses raw TXT records into a NodeTXT.
func ParseNodeTXT(records []string) (*NodeTXT, error) {
	m := ParseTXT(records)
	txt := &NodeTXT{}

	if v, ok := m[TXTKeyNodeID]; ok {
		txt.NodeIDHex = v
	} else {
		return nil, ErrInvalidNodeID
	}

	if v, ok := m[TXTKeyProtocolVersion]; ok {
		pv, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, ErrInvalidTXTRecord
		}
		txt.ProtocolVersion = uint32(pv)
	}

	if v, ok := m[TXTKeyAttestation]; ok {
		a, err := strconv.ParseInt(v, 10, 8)
		if err != nil {
			return nil, ErrInvalidTXTRecord
		}
		txt.Attestation = AttestationHint(a)
	}

	if v, ok := m[TXTKeyHeartbeatInterval]; ok {
		hi, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, ErrInvalidTXTRecord
		}
		txt.HeartbeatInterval = time.Duration(hi) * time.Millisecond
	}

	if v, ok := m[TXTKeyTCPSupported]; ok {
		txt.TCPSupported = v == "1"
	}

	if v, ok := m[TXTKeyInstanceName]; ok {
		txt.InstanceLabel = v
	}

	return txt, nil
}
