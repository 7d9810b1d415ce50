package sessionauth

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// AuditEvent is one security-relevant engine outcome. It never carries tokens
// or passwords.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	ActorID   string            `json:"actor_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives events on the dispatcher goroutine, one at a time.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc func(ctx context.Context, event AuditEvent)

func (f AuditSinkFunc) Emit(ctx context.Context, event AuditEvent) { f(ctx, event) }

// NoOpSink discards events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink hands events to a consumer through a buffered channel. Emit
// waits for room unless ctx ends first.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{events: make(chan AuditEvent, max(buffer, 1))}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent { return s.events }

// JSONWriterSink writes each event as one JSON line. Write errors are ignored.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		return &JSONWriterSink{}
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, event AuditEvent) {
	if s == nil || s.enc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(event)
}
