package discovery

import (
	"net"
	"sync"
	"testing"

	"github.com/meshguard/attestmesh/pkg/identity"
)

// mockMDNSServer is a mock implementation of MDNSServer for testing.
type mockMDNSServer struct {
	shutdownCalled bool
}

func (m *mockMDNSServer) Shutdown() {
	m.shutdownCalled = true
}

// mockMDNSServerFactory is a mock implementation of MDNSServerFactory for testing.
type mockMDNSServerFactory struct {
	mu       sync.Mutex
	servers  []*mockMDNSServer
	lastArgs struct {
		instance string
		service  string
		domain   string
		port     int
		txt      []string
	}
	shouldFail bool
}

func newMockMDNSServerFactory() *mockMDNSServerFactory {
	return &mockMDNSServerFactory{}
}

func (f *mockMDNSServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.shouldFail {
		return nil, ErrClosed
	}

	f.lastArgs.instance = instance
	f.lastArgs.service = service
	f.lastArgs.domain = domain
	f.lastArgs.port = port
	f.lastArgs.txt = txt

	server := &mockMDNSServer{}
	f.servers = append(f.servers, server)
	return server, nil
}

func testNodeID() identity.NodeID {
	var n identity.NodeID
	n[0] = 0x87
	n[1] = 0xE1
	return n
}

func TestNewAdvertiser(t *testing.T) {
	t.Run("default config", func(t *testing.T) {
		adv, err := NewAdvertiser(AdvertiserConfig{})
		if err != nil {
			t.Fatalf("NewAdvertiser() error = %v", err)
		}
		if adv == nil {
			t.Fatal("NewAdvertiser() returned nil")
		}
		if adv.config.Port != DefaultPort {
			t.Errorf("Port = %d, want %d", adv.config.Port, DefaultPort)
		}
	})

	t.Run("custom port", func(t *testing.T) {
		adv, err := NewAdvertiser(AdvertiserConfig{Port: 12345})
		if err != nil {
			t.Fatalf("NewAdvertiser() error = %v", err)
		}
		if adv.config.Port != 12345 {
			t.Errorf("Port = %d, want 12345", adv.config.Port)
		}
	})

	t.Run("invalid port uses default", func(t *testing.T) {
		adv, err := NewAdvertiser(AdvertiserConfig{Port: -1})
		if err != nil {
			t.Fatalf("NewAdvertiser() error = %v", err)
		}
		if adv.config.Port != DefaultPort {
			t.Errorf("Port = %d, want %d", adv.config.Port, DefaultPort)
		}
	})
}

func TestAdvertiser_Start(t *testing.T) {
	factory := newMockMDNSServerFactory()
	adv, err := NewAdvertiser(AdvertiserConfig{
		Port:          5540,
		ServerFactory: factory,
	})
	if err != nil {
		t.Fatalf("NewAdvertiser() error = %v", err)
	}

	nodeID := testNodeID()
	txt := NodeTXT{
		Attestation:  AttestationHintTpm,
		TCPSupported: true,
	}

	t.Run("starts successfully", func(t *testing.T) {
		err := adv.Start(nodeID, txt)
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}

		if !adv.IsAdvertising() {
			t.Error("IsAdvertising() = false, want true")
		}

		if factory.lastArgs.port != 5540 {
			t.Errorf("port = %d, want 5540", factory.lastArgs.port)
		}
		if factory.lastArgs.domain != DefaultDomain {
			t.Errorf("domain = %q, want %q", factory.lastArgs.domain, DefaultDomain)
		}

		expectedInstance := NodeInstanceName(nodeID)
		if factory.lastArgs.instance != expectedInstance {
			t.Errorf("instance = %q, want %q", factory.lastArgs.instance, expectedInstance)
		}
	})

	t.Run("already started", func(t *testing.T) {
		err := adv.Start(nodeID, txt)
		if err != ErrAlreadyStarted {
			t.Errorf("Start() error = %v, want %v", err, ErrAlreadyStarted)
		}
	})

	t.Run("stop and restart", func(t *testing.T) {
		err := adv.Stop()
		if err != nil {
			t.Fatalf("Stop() error = %v", err)
		}

		if adv.IsAdvertising() {
			t.Error("IsAdvertising() = true after stop, want false")
		}

		err = adv.Start(nodeID, txt)
		if err != nil {
			t.Fatalf("Start() after stop error = %v", err)
		}
	})
}

func TestAdvertiser_Close(t *testing.T) {
	factory := newMockMDNSServerFactory()
	adv, err := NewAdvertiser(AdvertiserConfig{
		ServerFactory: factory,
	})
	if err != nil {
		t.Fatalf("NewAdvertiser() error = %v", err)
	}

	adv.Start(testNodeID(), NodeTXT{Attestation: AttestationHintTpm})

	t.Run("close stops the service", func(t *testing.T) {
		err := adv.Close()
		if err != nil {
			t.Fatalf("Close() error = %v", err)
		}

		for i, server := range factory.servers {
			if !server.shutdownCalled {
				t.Errorf("server[%d].shutdownCalled = false, want true", i)
			}
		}
	})

	t.Run("close again returns error", func(t *testing.T) {
		err := adv.Close()
		if err != ErrClosed {
			t.Errorf("Close() error = %v, want %v", err, ErrClosed)
		}
	})

	t.Run("operations after close fail", func(t *testing.T) {
		err := adv.Start(testNodeID(), NodeTXT{Attestation: AttestationHintTpm})
		if err != ErrClosed {
			t.Errorf("Start() after Close() error = %v, want %v", err, ErrClosed)
		}
	})
}

func TestAdvertiser_InstanceName(t *testing.T) {
	factory := newMockMDNSServerFactory()
	adv, err := NewAdvertiser(AdvertiserConfig{
		ServerFactory: factory,
	})
	if err != nil {
		t.Fatalf("NewAdvertiser() error = %v", err)
	}

	t.Run("returns empty for non-active service", func(t *testing.T) {
		name := adv.InstanceName()
		if name != "" {
			t.Errorf("InstanceName() = %q, want empty", name)
		}
	})

	t.Run("returns instance name for active service", func(t *testing.T) {
		nodeID := testNodeID()
		adv.Start(nodeID, NodeTXT{Attestation: AttestationHintTpm})

		name := adv.InstanceName()
		expected := NodeInstanceName(nodeID)
		if name != expected {
			t.Errorf("InstanceName() = %q, want %q", name, expected)
		}
	})
}

func TestAdvertiser_StopNotStarted(t *testing.T) {
	factory := newMockMDNSServerFactory()
	adv, err := NewAdvertiser(AdvertiserConfig{
		ServerFactory: factory,
	})
	if err != nil {
		t.Fatalf("NewAdvertiser() error = %v", err)
	}

	err = adv.Stop()
	if err != ErrNotStarted {
		t.Errorf("Stop() error = %v, want %v", err, ErrNotStarted)
	}
}
