package heartbeat

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meshguard/attestmesh/pkg/audit"
	"github.com/meshguard/attestmesh/pkg/identity"
	"github.com/pion/logging"
)

// DefaultFreshnessWindow bounds how old or far in the future a pulse's
// timestamp may be before it is rejected as stale/replay (3 s, distinct
// from the 30 s handshake-message freshness window).
const DefaultFreshnessWindow = 3 * time.Second

// DefaultDeadManThreshold is the server-side liveness bound: a connection
// with no acknowledged pulse for longer than this is unconditionally
// severed (10 s, equivalent to two missed 5 s pulses).
const DefaultDeadManThreshold = 10 * time.Second

// DefaultSweepInterval is how often the Dead-Man's-Switch sweep runs.
const DefaultSweepInterval = 2 * time.Second

// ServerConfig configures a Server.
type ServerConfig struct {
	Registry         *identity.Registry
	Audit            *audit.Sink
	FreshnessWindow  time.Duration
	DeadManThreshold time.Duration
	SweepInterval    time.Duration
	LoggerFactory    logging.LoggerFactory
	Now              func() time.Time
}

// Server is the server side of the Heartbeat Link: per-pulse verification
// against the Identity Registry and a background Dead-Man's-Switch sweep.
type Server struct {
	registry  *identity.Registry
	audit     *audit.Sink
	freshness time.Duration
	deadMan   time.Duration
	now       func() time.Time
	log       logging.LeveledLogger

	mu          sync.Mutex
	connections map[string]*Connection

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// NewServer creates a Server and starts its Dead-Man's-Switch sweep.
func NewServer(cfg ServerConfig) *Server {
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = DefaultFreshnessWindow
	}
	if cfg.DeadManThreshold <= 0 {
		cfg.DeadManThreshold = DefaultDeadManThreshold
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{
		registry:    cfg.Registry,
		audit:       cfg.Audit,
		freshness:   cfg.FreshnessWindow,
		deadMan:     cfg.DeadManThreshold,
		now:         cfg.Now,
		connections: make(map[string]*Connection),
		stopSweep:   make(chan struct{}),
		sweepDone:   make(chan struct{}),
	}
	if cfg.LoggerFactory != nil {
		s.log = cfg.LoggerFactory.NewLogger("heartbeat")
	}
	go s.sweepLoop(cfg.SweepInterval)
	return s
}

func (s *Server) emit(kind audit.Kind, deviceID [32]byte, meta map[string]string) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(kind, fmt.Sprintf("%x", deviceID[:]), meta)
}

// Accept registers a new, not-yet-verified connection for deviceID and
// returns its connection ID.
func (s *Server) Accept(deviceID [32]byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.connections[id] = &Connection{ConnectionID: id, DeviceID: deviceID}
	return id
}

// HandlePulse verifies an incoming Pulse for connectionID, checking
// freshness, registry lookup, and signature in that order. On
// success it updates last_ack_at and returns an Ack; on failure it
// terminates the connection and returns a Rejected.
func (s *Server) HandlePulse(connectionID string, pulse Pulse) (*Ack, *Rejected) {
	now := s.now()

	if pulse.Timestamp.Before(now.Add(-s.freshness)) || pulse.Timestamp.After(now.Add(s.freshness)) {
		s.emit(audit.KindHeartbeatRejected, pulse.DeviceID, map[string]string{"reason": "stale_timestamp"})
		s.terminate(connectionID)
		return nil, &Rejected{ConnectionID: connectionID, Reason: "StaleTimestamp"}
	}

	var nodeID identity.NodeID
	copy(nodeID[:], pulse.DeviceID[:])
	result := s.registry.Verify(nodeID, pulse.CanonicalPayload(), pulse.Signature)
	if !result.Verified {
		s.emit(audit.KindHeartbeatRejected, pulse.DeviceID, map[string]string{"reason": result.Reason})
		s.terminate(connectionID)
		return nil, &Rejected{ConnectionID: connectionID, Reason: result.Reason}
	}

	s.mu.Lock()
	conn, ok := s.connections[connectionID]
	if !ok {
		conn = &Connection{ConnectionID: connectionID, DeviceID: pulse.DeviceID}
		s.connections[connectionID] = conn
	}
	conn.LastAckAt = now
	conn.Verified = true
	s.mu.Unlock()

	s.emit(audit.KindHeartbeatAck, pulse.DeviceID, nil)
	return &Ack{ConnectionID: connectionID, AckedAt: now}, nil
}

func (s *Server) terminate(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connections, connectionID)
}

// sweepLoop runs the Dead-Man's-Switch: any connection whose last_ack_at
// is older than the configured threshold is unconditionally severed.
func (s *Server) sweepLoop(interval time.Duration) {
	defer close(s.sweepDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

func (s *Server) sweepExpired() {
	now := s.now()
	s.mu.Lock()
	var expired []*Connection
	for id, conn := range s.connections {
		if conn.LastAckAt.IsZero() {
			continue
		}
		if now.Sub(conn.LastAckAt) > s.deadMan {
			expired = append(expired, conn)
			delete(s.connections, id)
		}
	}
	s.mu.Unlock()

	for _, conn := range expired {
		s.emit(audit.KindHeartbeatTimeout, conn.DeviceID, map[string]string{"connection_id": conn.ConnectionID})
		if s.log != nil {
			s.log.Debugf("heartbeat: connection %s timed out (dead man's switch)", conn.ConnectionID)
		}
	}
}

// Close stops the Dead-Man's-Switch sweep.
func (s *Server) Close() {
	close(s.stopSweep)
	<-s.sweepDone
}

// ConnectionCount returns the number of connections currently tracked.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections)
}
