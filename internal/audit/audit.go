// Package audit implements a structured audit trail of key-access
// events: which key id resolved which column (or the footer), and which
// columns were denied or failed verification. Key and plaintext bytes
// never appear in an event.
package audit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// EventType names the kind of audit event.
type EventType string

const (
	// EventColumnKeyResolved fires once a column's data-encryption key
	// has been unwrapped.
	EventColumnKeyResolved EventType = "column_key_resolved"
	// EventFooterKeyResolved fires once the file's footer key has been
	// unwrapped.
	EventFooterKeyResolved EventType = "footer_key_resolved"
	// EventHiddenColumn fires when a column's key could not be
	// resolved and the column was skipped instead of aborting the read.
	EventHiddenColumn EventType = "hidden_column"
	// EventFooterSignatureFailed fires when a signed plaintext footer's
	// signature does not verify.
	EventFooterSignatureFailed EventType = "footer_signature_failed"
)

// Event is a single audit log entry. It never carries key or plaintext
// bytes, only identifiers: the master/footer key id and the column path.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	EventType   EventType `json:"event_type"`
	MasterKeyID string    `json:"master_key_id,omitempty"`
	ColumnPath  []string  `json:"column_path,omitempty"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
}

// Logger is the interface for audit logging.
type Logger interface {
	Log(event *Event)

	// LogColumnKeyResolved records a successful column key unwrap.
	LogColumnKeyResolved(masterKeyID string, columnPath []string)
	// LogFooterKeyResolved records a successful footer key unwrap.
	LogFooterKeyResolved(masterKeyID string)
	// LogHiddenColumn records a column whose key the KMS denied.
	LogHiddenColumn(columnPath []string, err error)
	// LogFooterSignatureFailed records a signed plaintext footer whose
	// signature did not verify.
	LogFooterSignatureFailed(err error)
}

// EventWriter persists one event as it is logged. WriteEvent errors are
// swallowed by Logger.Log: a broken audit sink must never fail the read
// it is observing.
type EventWriter interface {
	WriteEvent(event *Event) error
}

type memLogger struct {
	mu        sync.Mutex
	events    []*Event
	maxEvents int
	writer    EventWriter
}

// NewLogger returns a Logger that keeps the last maxEvents events in
// memory (for GetEvents) and forwards each one to writer. A nil writer
// defaults to writing newline-delimited JSON to stdout.
func NewLogger(maxEvents int, writer EventWriter) Logger {
	if writer == nil {
		writer = &stdoutWriter{}
	}
	return &memLogger{
		events:    make([]*Event, 0, maxEvents),
		maxEvents: maxEvents,
		writer:    writer,
	}
}

func (l *memLogger) Log(event *Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer != nil {
		_ = l.writer.WriteEvent(event)
	}

	l.events = append(l.events, event)
	if l.maxEvents > 0 && len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}
}

func (l *memLogger) LogColumnKeyResolved(masterKeyID string, columnPath []string) {
	l.Log(&Event{
		Timestamp:   time.Now(),
		EventType:   EventColumnKeyResolved,
		MasterKeyID: masterKeyID,
		ColumnPath:  columnPath,
		Success:     true,
	})
}

func (l *memLogger) LogFooterKeyResolved(masterKeyID string) {
	l.Log(&Event{
		Timestamp:   time.Now(),
		EventType:   EventFooterKeyResolved,
		MasterKeyID: masterKeyID,
		Success:     true,
	})
}

func (l *memLogger) LogHiddenColumn(columnPath []string, err error) {
	e := &Event{
		Timestamp:  time.Now(),
		EventType:  EventHiddenColumn,
		ColumnPath: columnPath,
		Success:    false,
	}
	if err != nil {
		e.Error = err.Error()
	}
	l.Log(e)
}

func (l *memLogger) LogFooterSignatureFailed(err error) {
	e := &Event{
		Timestamp: time.Now(),
		EventType: EventFooterSignatureFailed,
		Success:   false,
	}
	if err != nil {
		e.Error = err.Error()
	}
	l.Log(e)
}

// GetEvents returns a copy of every event retained so far, oldest first.
func (l *memLogger) GetEvents() []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	events := make([]*Event, len(l.events))
	copy(events, l.events)
	return events
}

type stdoutWriter struct{}

func (w *stdoutWriter) WriteEvent(event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshaling event: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
