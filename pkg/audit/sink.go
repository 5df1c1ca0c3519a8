package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
)

// Backend persists audit events. Implementations are expected to be
// durable in proportion to their own guarantees (a ring buffer loses
// history on restart; a file or remote collector does not) — the Sink's
// own job is only to never drop a Critical event before it reaches
// whichever Backend is configured.
type Backend interface {
	Write(Event) error
}

// DefaultQueueSize bounds the number of buffered events awaiting a slow
// backend before Info events start being dropped.
const DefaultQueueSize = 4096

// Sink is the Audit Event Sink. It accepts events from every decision
// point in the core and forwards them to a Backend through a bounded
// priority queue: Critical events are buffered without limit (up to
// process memory), Warning/Info events share a bounded buffer and the
// oldest Info event is dropped first when that buffer is full.
type Sink struct {
	backend Backend
	log     logging.LeveledLogger

	mu           sync.Mutex
	criticalBuf  []Event
	normalBuf    []Event
	normalCap    int
	droppedInfo  uint64
	cond         *sync.Cond
	closed       bool
	drainStopped chan struct{}
}

// Config configures a Sink.
type Config struct {
	Backend       Backend
	LoggerFactory logging.LoggerFactory
	QueueSize     int
}

// NewSink creates a Sink and starts its background drain loop. Close
// should be called during graceful shutdown to flush remaining events.
func NewSink(cfg Config) *Sink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	s := &Sink{
		backend:      cfg.Backend,
		normalCap:    cfg.QueueSize,
		drainStopped: make(chan struct{}),
	}
	if cfg.LoggerFactory != nil {
		s.log = cfg.LoggerFactory.NewLogger("audit")
	}
	s.cond = sync.NewCond(&s.mu)
	go s.drainLoop()
	return s
}

// Emit records an event. kind's DefaultSeverity is used unless overridden
// via EmitWithSeverity. A fresh EventID and Timestamp are assigned if not
// already set.
func (s *Sink) Emit(kind Kind, subjectNodeID string, metadata map[string]string) {
	s.EmitWithSeverity(kind, DefaultSeverity(kind), subjectNodeID, metadata)
}

// EmitWithSeverity records an event at an explicit severity. Kinds whose
// DefaultSeverity is Critical are always recorded at SeverityCritical.
func (s *Sink) EmitWithSeverity(kind Kind, sev Severity, subjectNodeID string, metadata map[string]string) {
	if criticalKinds[kind] {
		sev = SeverityCritical
	}
	ev := Event{
		EventID:       uuid.NewString(),
		Kind:          kind,
		Severity:      sev,
		Timestamp:     time.Now(),
		SubjectNodeID: subjectNodeID,
		Metadata:      metadata,
	}
	s.enqueue(ev)
}

func (s *Sink) enqueue(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if ev.Severity == SeverityCritical {
		s.criticalBuf = append(s.criticalBuf, ev)
		s.cond.Signal()
		return
	}

	if len(s.normalBuf) >= s.normalCap {
		// Drop the oldest Info event to make room; if everything queued
		// is Warning, drop the oldest Warning rather than block the
		// caller (protocol paths must never stall on the audit sink).
		dropped := false
		for i, queued := range s.normalBuf {
			if queued.Severity == SeverityInfo {
				s.normalBuf = append(s.normalBuf[:i], s.normalBuf[i+1:]...)
				s.droppedInfo++
				dropped = true
				break
			}
		}
		if !dropped {
			s.normalBuf = s.normalBuf[1:]
		}
	}
	s.normalBuf = append(s.normalBuf, ev)
	s.cond.Signal()
}

// drainLoop writes queued events to the backend in Critical-first order,
// preserving emission order within each priority band ("for all emitted
// Critical events, the sink preserves ordering with
// respect to the operation that caused them").
func (s *Sink) drainLoop() {
	defer close(s.drainStopped)
	for {
		s.mu.Lock()
		for len(s.criticalBuf) == 0 && len(s.normalBuf) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed && len(s.criticalBuf) == 0 && len(s.normalBuf) == 0 {
			s.mu.Unlock()
			return
		}

		var ev Event
		if len(s.criticalBuf) > 0 {
			ev = s.criticalBuf[0]
			s.criticalBuf = s.criticalBuf[1:]
		} else {
			ev = s.normalBuf[0]
			s.normalBuf = s.normalBuf[1:]
		}
		s.mu.Unlock()

		if err := s.backend.Write(ev); err != nil && s.log != nil {
			s.log.Errorf("audit: backend write failed for %s event %s: %v", ev.Severity, ev.Kind, err)
		}
	}
}

// DroppedInfoCount returns the number of Info events dropped due to
// backpressure since the Sink was created. Warning events dropped because
// no Info event was queued are not included in this count.
func (s *Sink) DroppedInfoCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.droppedInfo
}

// Close stops accepting new events, drains what remains, and waits for the
// drain loop to exit.
func (s *Sink) Close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.drainStopped
}
