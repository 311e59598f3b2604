package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenancy/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// NewEvent builds a successful event of the given type stamped with a fresh
// id, the current time and the request's correlation id.
func NewEvent(ctx context.Context, eventType EventType) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Status:    EventStatusSuccess,
		RequestID: contextkeys.GetRequestID(ctx),
	}
}

// NoopLogger discards every event
type NoopLogger struct{}

func (NoopLogger) Log(ctx context.Context, event *Event) error { return nil }
func (NoopLogger) Close() error                                 { return nil }

// MemoryLogger keeps events in memory
type MemoryLogger struct {
	mu     sync.Mutex
	events []*Event
}

// NewMemoryLogger creates an empty in-memory logger
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

func (l *MemoryLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *MemoryLogger) Close() error { return nil }

// Events returns a snapshot of the recorded events in order
func (l *MemoryLogger) Events() []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Event(nil), l.events...)
}

// EventsOfType returns the recorded events with the given type
func (l *MemoryLogger) EventsOfType(eventType EventType) []*Event {
	var out []*Event
	for _, e := range l.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
