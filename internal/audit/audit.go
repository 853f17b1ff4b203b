package audit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// EventType represents the type of audit event.
type EventType string

const (
	// EventTypeDerive represents a key derivation operation.
	EventTypeDerive EventType = "derive"
	// EventTypeEncrypt represents an envelope encryption operation.
	EventTypeEncrypt EventType = "encrypt"
	// EventTypeWrap represents a KMS key wrap operation.
	EventTypeWrap EventType = "wrap"
	// EventTypeUpload represents an object upload operation.
	EventTypeUpload EventType = "upload"
	// EventTypeFetch represents a retrieve-and-decrypt operation.
	EventTypeFetch EventType = "fetch"
)

// Event represents a single audit log event. Key material never appears
// here; only operation outcomes and non-secret parameters are recorded.
type Event struct {
	Timestamp time.Time     `json:"timestamp"`
	EventType EventType     `json:"event_type"`
	File      string        `json:"file,omitempty"`
	Bucket    string        `json:"bucket,omitempty"`
	Key       string        `json:"key,omitempty"`
	Algorithm string        `json:"algorithm,omitempty"`
	KMSKeyID  string        `json:"kms_key_id,omitempty"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ms"`
}

// Recorder is the interface for recording pipeline audit events.
type Recorder interface {
	// Record stores an audit event.
	Record(event *Event)

	// Events returns a copy of the stored events, oldest first.
	Events() []*Event

	// ExportJSON serializes the stored events to JSON.
	ExportJSON() ([]byte, error)
}

// recorder implements the Recorder interface with a bounded in-memory buffer.
type recorder struct {
	mu        sync.Mutex
	events    []*Event
	maxEvents int
	writer    EventWriter
}

// EventWriter is an interface for mirroring audit events to an external sink.
type EventWriter interface {
	WriteEvent(event *Event) error
}

// NewRecorder creates a new audit recorder keeping at most maxEvents in
// memory. Older events are discarded first. A nil writer disables mirroring.
func NewRecorder(maxEvents int, writer EventWriter) Recorder {
	return &recorder{
		events:    make([]*Event, 0, maxEvents),
		maxEvents: maxEvents,
		writer:    writer,
	}
}

// Record stores an audit event.
func (r *recorder) Record(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer != nil {
		// Mirroring failures must not fail the pipeline.
		_ = r.writer.WriteEvent(event)
	}

	r.events = append(r.events, event)
	if len(r.events) > r.maxEvents {
		r.events = r.events[len(r.events)-r.maxEvents:]
	}
}

// Events returns a copy of the stored events.
func (r *recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := make([]*Event, len(r.events))
	copy(events, r.events)
	return events
}

// ExportJSON serializes the stored events to JSON.
func (r *recorder) ExportJSON() ([]byte, error) {
	events := r.Events()
	data, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("failed to export audit events: %w", err)
	}
	return data, nil
}

// Stage builds an event for a completed pipeline stage.
func Stage(eventType EventType, file, bucket, key, algorithm, kmsKeyID string, err error, duration time.Duration) *Event {
	event := &Event{
		Timestamp: time.Now(),
		EventType: eventType,
		File:      file,
		Bucket:    bucket,
		Key:       key,
		Algorithm: algorithm,
		KMSKeyID:  kmsKeyID,
		Success:   err == nil,
		Duration:  duration,
	}
	if err != nil {
		event.Error = err.Error()
	}
	return event
}
