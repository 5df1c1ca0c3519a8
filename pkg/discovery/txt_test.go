package discovery

import (
	"reflect"
	"testing"
	"time"
)

func TestNodeTXT_Validate(t *testing.T) {
	tests := []struct {
		name    string
		txt     NodeTXT
		wantErr error
	}{
		{
			name: "valid",
			txt: NodeTXT{
				NodeIDHex:   "00112233",
				Attestation: AttestationHintTpm,
			},
			wantErr: nil,
		},
		{
			name: "missing node id",
			txt: NodeTXT{
				Attestation: AttestationHintTpm,
			},
			wantErr: ErrInvalidNodeID,
		},
		{
			name: "label too long",
			txt: NodeTXT{
				NodeIDHex:     "00112233",
				Attestation:   AttestationHintTpm,
				InstanceLabel: "this instance label is way too long for the field limit",
			},
			wantErr: ErrInvalidInstanceName,
		},
		{
			name: "invalid attestation hint",
			txt: NodeTXT{
				NodeIDHex:   "00112233",
				Attestation: AttestationHint(99),
			},
			wantErr: ErrInvalidTXTRecord,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.txt.Validate()
			if err != tt.wantErr {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseTXT(t *testing.T) {
	tests := []struct {
		name    string
		records []string
		want    map[string]string
	}{
		{
			name:    "empty",
			records: nil,
			want:    map[string]string{},
		},
		{
			name:    "single",
			records: []string{"N=AABBCC"},
			want:    map[string]string{"N": "AABBCC"},
		},
		{
			name:    "multiple",
			records: []string{"N=AABBCC", "PV=1", "A=0"},
			want: map[string]string{
				"N":  "AABBCC",
				"PV": "1",
				"A":  "0",
			},
		},
		{
			name:    "with empty value",
			records: []string{"N=", "PV=1"},
			want: map[string]string{
				"N":  "",
				"PV": "1",
			},
		},
		{
			name:    "malformed ignored",
			records: []string{"N=AABBCC", "invalid", "PV=1"},
			want: map[string]string{
				"N":  "AABBCC",
				"PV": "1",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTXT(tt.records)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseTXT() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseNodeTXT_MissingNodeID(t *testing.T) {
	_, err := ParseNodeTXT([]string{"PV=1", "A=0"})
	if err != ErrInvalidNodeID {
		t.Errorf("ParseNodeTXT() error = %v, want %v", err, ErrInvalidNodeID)
	}
}

func TestParseNodeTXT_InvalidProtocolVersion(t *testing.T) {
	_, err := ParseNodeTXT([]string{"N=AABBCC", "PV=notanumber"})
	if err != ErrInvalidTXTRecord {
		t.Errorf("ParseNodeTXT() error = %v, want %v", err, ErrInvalidTXTRecord)
	}
}

func TestParseNodeTXT_InvalidHeartbeatInterval(t *testing.T) {
	_, err := ParseNodeTXT([]string{"N=AABBCC", "HI=notanumber"})
	if err != ErrInvalidTXTRecord {
		t.Errorf("ParseNodeTXT() error = %v, want %v", err, ErrInvalidTXTRecord)
	}
}

func TestNodeTXT_EncodeOmitsUnsetOptionalFields(t *testing.T) {
	txt := NodeTXT{NodeIDHex: "AABBCC", Attestation: AttestationHintNone}
	encoded := txt.Encode()

	for _, record := range encoded {
		if len(record) >= 2 && (record[:2] == "HI" || record[:1] == "T") {
			t.Errorf("Encode() unexpectedly included optional field: %s", record)
		}
	}

	parsed, err := ParseNodeTXT(encoded)
	if err != nil {
		t.Fatalf("ParseNodeTXT() error = %v", err)
	}
	if parsed.HeartbeatInterval != 0 {
		t.Errorf("HeartbeatInterval = %v, want 0", parsed.HeartbeatInterval)
	}
	if parsed.TCPSupported {
		t.Errorf("TCPSupported = true, want false")
	}
}

func TestNodeTXT_HeartbeatIntervalRoundTrip(t *testing.T) {
	txt := NodeTXT{
		NodeIDHex:         "AABBCC",
		Attestation:       AttestationHintTpm,
		HeartbeatInterval: 5 * time.Second,
	}
	parsed, err := ParseNodeTXT(txt.Encode())
	if err != nil {
		t.Fatalf("ParseNodeTXT() error = %v", err)
	}
	if parsed.HeartbeatInterval != 5*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 5s", parsed.HeartbeatInterval)
	}
}
