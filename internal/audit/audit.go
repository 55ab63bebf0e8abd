package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Event is one security-relevant record emitted by the gate.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Subject   string            `json:"subject,omitempty"`
	Family    string            `json:"family,omitempty"`
	ClientKey string            `json:"client_key,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.writer.Write(data)
}

// LogrusSink writes each event as one structured log entry. Failed events
// are logged at warn level, the rest at info.
type LogrusSink struct {
	log logrus.FieldLogger
}

func NewLogrusSink(log logrus.FieldLogger) *LogrusSink {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogrusSink{log: log}
}

func (s *LogrusSink) Emit(_ context.Context, event Event) {
	if s == nil {
		return
	}
	fields := logrus.Fields{
		"audit":   event.EventType,
		"success": event.Success,
	}
	if event.Subject != "" {
		fields["subject"] = event.Subject
	}
	if event.Family != "" {
		fields["family"] = event.Family
	}
	if event.ClientKey != "" {
		fields["client_key"] = event.ClientKey
	}
	if event.Error != "" {
		fields["error_code"] = event.Error
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	entry := s.log.WithFields(fields)
	if !event.Timestamp.IsZero() {
		entry = entry.WithTime(event.Timestamp)
	}
	if event.Success {
		entry.Info("audit event")
		return
	}
	entry.Warn("audit event")
}
