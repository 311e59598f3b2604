package audit

import (
	"context"

	"github.com/platinummonkey/tenancy/pkg/observability"
)

// LogLogger writes audit events to the structured application log
type LogLogger struct {
	logger *observability.Logger
}

// NewLogLogger creates an audit logger backed by logger
func NewLogLogger(logger *observability.Logger) *LogLogger {
	return &LogLogger{logger: logger.WithField("component", "audit")}
}

func (l *LogLogger) Log(ctx context.Context, event *Event) error {
	fields := map[string]interface{}{
		"audit_id":     event.ID,
		"event_type":   string(event.Type),
		"status":       string(event.Status),
		"organization": event.Organization,
	}
	if event.ActorID != nil {
		fields["actor_id"] = *event.ActorID
	}
	if event.TargetUserID != nil {
		fields["target_user_id"] = *event.TargetUserID
	}
	if event.Role != "" {
		fields["role"] = event.Role
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}

	message := event.Message
	if message == "" {
		message = string(event.Type)
	}
	l.logger.WithFields(fields).Info(message)
	return nil
}

func (l *LogLogger) Close() error { return nil }
