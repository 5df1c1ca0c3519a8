package audit

import (
	"fmt"

	"github.com/pion/logging"
)

// LogBackend writes every audit event to a pion/logging.LeveledLogger at a
// level matching its Severity. It is the default Backend for a standalone
// node process; a deployment with a durable audit requirement supplies its
// own Backend (a file, a message queue, a SIEM forwarder) instead.
type LogBackend struct {
	log logging.LeveledLogger
}

// NewLogBackend creates a LogBackend writing through factory's "audit"
// logger.
func NewLogBackend(factory logging.LoggerFactory) *LogBackend {
	return &LogBackend{log: factory.NewLogger("audit")}
}

// Write implements Backend.
func (b *LogBackend) Write(ev Event) error {
	line := fmt.Sprintf("kind=%s subject=%s id=%s meta=%v", ev.Kind, ev.SubjectNodeID, ev.EventID, ev.Metadata)
	switch ev.Severity {
	case SeverityCritical:
		b.log.Error(line)
	case SeverityWarning:
		b.log.Warn(line)
	default:
		b.log.Info(line)
	}
	return nil
}
