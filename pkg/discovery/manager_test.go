package discovery

import (
	"context"
	"testing"
	"time"
)

func TestNewManager(t *testing.T) {
	t.Run("default config", func(t *testing.T) {
		factory := newMockMDNSServerFactory()
		mgr, err := NewManager(ManagerConfig{
			ServerFactory: factory,
		})
		if err != nil {
			t.Fatalf("NewManager() error = %v", err)
		}
		if mgr == nil {
			t.Fatal("NewManager() returned nil")
		}
		if mgr.config.Port != DefaultPort {
			t.Errorf("Port = %d, want %d", mgr.config.Port, DefaultPort)
		}
		if mgr.config.BrowseTimeout != DefaultBrowseTimeout {
			t.Errorf("BrowseTimeout = %v, want %v", mgr.config.BrowseTimeout, DefaultBrowseTimeout)
		}
		if mgr.config.LookupTimeout != DefaultLookupTimeout {
			t.Errorf("LookupTimeout = %v, want %v", mgr.config.LookupTimeout, DefaultLookupTimeout)
		}
	})

	t.Run("custom config", func(t *testing.T) {
		factory := newMockMDNSServerFactory()
		mgr, err := NewManager(ManagerConfig{
			Port:          12345,
			BrowseTimeout: 5 * time.Second,
			LookupTimeout: 2 * time.Second,
			ServerFactory: factory,
		})
		if err != nil {
			t.Fatalf("NewManager() error = %v", err)
		}
		if mgr.config.Port != 12345 {
			t.Errorf("Port = %d, want 12345", mgr.config.Port)
		}
		if mgr.config.BrowseTimeout != 5*time.Second {
			t.Errorf("BrowseTimeout = %v, want 5s", mgr.config.BrowseTimeout)
		}
	})
}

func TestManager_Advertising(t *testing.T) {
	factory := newMockMDNSServerFactory()
	mgr, err := NewManager(ManagerConfig{
		Port:          5540,
		ServerFactory: factory,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	nodeID := testNodeID()

	t.Run("StartAdvertising", func(t *testing.T) {
		err := mgr.StartAdvertising(nodeID, NodeTXT{
			Attestation: AttestationHintTpm,
		})
		if err != nil {
			t.Fatalf("StartAdvertising() error = %v", err)
		}

		if !mgr.IsAdvertising() {
			t.Error("IsAdvertising() = false, want true")
		}
	})

	t.Run("StopAdvertising", func(t *testing.T) {
		err := mgr.StopAdvertising()
		if err != nil {
			t.Fatalf("StopAdvertising() error = %v", err)
		}

		if mgr.IsAdvertising() {
			t.Error("IsAdvertising() = true after stop, want false")
		}
	})

	t.Run("restart after stop", func(t *testing.T) {
		err := mgr.StartAdvertising(nodeID, NodeTXT{Attestation: AttestationHintSoftware})
		if err != nil {
			t.Fatalf("StartAdvertising() after stop error = %v", err)
		}
		if !mgr.IsAdvertising() {
			t.Error("IsAdvertising() = false, want true")
		}
	})
}

func TestManager_Close(t *testing.T) {
	factory := newMockMDNSServerFactory()
	mgr, err := NewManager(ManagerConfig{
		ServerFactory: factory,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	mgr.StartAdvertising(testNodeID(), NodeTXT{Attestation: AttestationHintTpm})

	t.Run("close succeeds", func(t *testing.T) {
		err := mgr.Close()
		if err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	})

	t.Run("close again returns error", func(t *testing.T) {
		err := mgr.Close()
		if err != ErrClosed {
			t.Errorf("Close() error = %v, want %v", err, ErrClosed)
		}
	})

	t.Run("operations after close fail", func(t *testing.T) {
		err := mgr.StartAdvertising(testNodeID(), NodeTXT{Attestation: AttestationHintTpm})
		if err != ErrClosed {
			t.Errorf("StartAdvertising() after Close() error = %v, want %v", err, ErrClosed)
		}

		_, err = mgr.BrowseNodes(context.Background())
		if err != ErrClosed {
			t.Errorf("BrowseNodes() after Close() error = %v, want %v", err, ErrClosed)
		}

		_, err = mgr.LookupNode(context.Background(), testNodeID())
		if err != ErrClosed {
			t.Errorf("LookupNode() after Close() error = %v, want %v", err, ErrClosed)
		}
	})
}

func TestManager_Accessors(t *testing.T) {
	factory := newMockMDNSServerFactory()
	mgr, err := NewManager(ManagerConfig{
		ServerFactory: factory,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if mgr.Advertiser() == nil {
		t.Error("Advertiser() returned nil")
	}

	if mgr.Resolver() == nil {
		t.Error("Resolver() returned nil")
	}
}

func TestManager_BrowseNodesByAttestation(t *testing.T) {
	factory := newMockMDNSServerFactory()
	mockResolver := NewMockMDNSResolver()
	mgr, err := NewManager(ManagerConfig{
		ServerFactory: factory,
		MDNSResolver:  mockResolver,
		BrowseTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer mgr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	ch, err := mgr.BrowseNodesByAttestation(ctx, AttestationHintTpm)
	if err != nil {
		t.Fatalf("BrowseNodesByAttestation() error = %v", err)
	}
	if ch == nil {
		t.Fatal("BrowseNodesByAttestation() returned nil channel")
	}
}
