package discovery

import "testing"

func TestServiceType_String(t *testing.T) {
	tests := []struct {
		s    ServiceType
		want string
	}{
		{ServiceTypeUnknown, "Unknown"},
		{ServiceTypeMeshNode, "MeshNode"},
		{ServiceType(99), "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("ServiceType(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestServiceType_IsValid(t *testing.T) {
	tests := []struct {
		s    ServiceType
		want bool
	}{
		{ServiceTypeUnknown, false},
		{ServiceTypeMeshNode, true},
		{ServiceType(99), false},
	}

	for _, tt := range tests {
		if got := tt.s.IsValid(); got != tt.want {
			t.Errorf("ServiceType(%d).IsValid() = %v, want %v", tt.s, got, tt.want)
		}
	}
}

func TestServiceType_ServiceString(t *testing.T) {
	tests := []struct {
		s    ServiceType
		want string
	}{
		{ServiceTypeMeshNode, "_attestmesh._tcp"},
		{ServiceTypeUnknown, ""},
		{ServiceType(99), ""},
	}

	for _, tt := range tests {
		if got := tt.s.ServiceString(); got != tt.want {
			t.Errorf("ServiceType(%d).ServiceString() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestAttestationHint_String(t *testing.T) {
	tests := []struct {
		a    AttestationHint
		want string
	}{
		{AttestationHintTpm, "tpm"},
		{AttestationHintSoftware, "software"},
		{AttestationHintNone, "none"},
		{AttestationHint(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.a.String(); got != tt.want {
			t.Errorf("AttestationHint(%d).String() = %q, want %q", tt.a, got, tt.want)
		}
	}
}

func TestAttestationHint_IsValid(t *testing.T) {
	tests := []struct {
		a    AttestationHint
		want bool
	}{
		{AttestationHintTpm, true},
		{AttestationHintSoftware, true},
		{AttestationHintNone, true},
		{AttestationHint(-1), false},
		{AttestationHint(99), false},
	}

	for _, tt := range tests {
		if got := tt.a.IsValid(); got != tt.want {
			t.Errorf("AttestationHint(%d).IsValid() = %v, want %v", tt.a, got, tt.want)
		}
	}
}
