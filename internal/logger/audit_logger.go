package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/beaconsec/identra/internal/core"
)

// AuditLogger wraps a logger and persists significant events as audit records
type AuditLogger struct {
	*Logger
	store core.IdentityStore
	actor string
}

// NewAuditLogger creates a logger that writes events to both stdout and the audit table
func NewAuditLogger(logger *Logger, store core.IdentityStore, actor string) *AuditLogger {
	return &AuditLogger{
		Logger: logger,
		store:  store,
		actor:  actor,
	}
}

// Infow logs and saves info events to the audit trail
func (l *AuditLogger) Infow(msg string, keysAndValues ...interface{}) {
	l.Logger.Infow(msg, keysAndValues...)
	l.persist("info", msg, keysAndValues)
}

// Warnw logs and saves warning events to the audit trail
func (l *AuditLogger) Warnw(msg string, keysAndValues ...interface{}) {
	l.Logger.Warnw(msg, keysAndValues...)
	l.persist("warning", msg, keysAndValues)
}

// Errorw logs and saves error events to the audit trail
func (l *AuditLogger) Errorw(msg string, keysAndValues ...interface{}) {
	l.Logger.Errorw(msg, keysAndValues...)
	l.persist("error", msg, keysAndValues)
}

// persist writes the event asynchronously so logging never blocks a sync
func (l *AuditLogger) persist(level, msg string, keysAndValues []interface{}) {
	metadata := extractMetadata(keysAndValues)
	metadata["level"] = level
	metadata["message"] = msg

	actor := l.actor
	if component, ok := metadata["component"]; ok {
		actor = component
		delete(metadata, "component")
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := l.store.SaveAuditEvent(ctx, msg, actor, metadata); err != nil {
			l.Logger.Errorw("Failed to save audit event",
				"error", err,
				"actor", actor,
				"message", msg,
			)
		}
	}()
}

// extractMetadata converts key-value pairs to a string map
func extractMetadata(keysAndValues []interface{}) map[string]string {
	metadata := make(map[string]string)

	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			metadata[key] = fmt.Sprintf("%v", keysAndValues[i+1])
		}
	}

	return metadata
}
