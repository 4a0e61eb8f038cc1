// Package audit keeps a bounded in-memory record of completed treasury
// operations and exports it for backup.
package audit

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the number of events kept when no capacity is configured.
const DefaultCapacity = 500

// Event records one completed operation.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"ts"`
	Actor     string    `json:"actor,omitempty"`
	Wallet    string    `json:"wallet"`
	TokenURI  string    `json:"token_uri,omitempty"`
	MintTx    string    `json:"mint_tx,omitempty"`
	GrantTx   string    `json:"grant_tx,omitempty"`
	Note      string    `json:"note,omitempty"`
}

// Log is a bounded ring buffer of events. When full, the oldest event is
// dropped. Safe for concurrent use.
type Log struct {
	mu       sync.Mutex
	events   []Event
	next     int
	full     bool
	appended uint64
	now      func() time.Time
}

// NewLog creates a log holding at most capacity events.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		events: make([]Event, capacity),
		now:    time.Now,
	}
}

// Append stores e, assigning an id and timestamp when they are unset, and
// returns the stored event.
func (l *Log) Append(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	l.events[l.next] = e
	l.next = (l.next + 1) % len(l.events)
	if l.next == 0 {
		l.full = true
	}
	l.appended++
	return e
}

// Len returns the number of events currently held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lenLocked()
}

func (l *Log) lenLocked() int {
	if l.full {
		return len(l.events)
	}
	return l.next
}

// Capacity returns the maximum number of events held.
func (l *Log) Capacity() int {
	return len(l.events)
}

// Dropped returns how many events were evicted to make room.
func (l *Log) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appended - uint64(l.lenLocked())
}

// Recent returns up to n events, newest first. n <= 0 returns all events.
func (l *Log) Recent(n int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.lenLocked()
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.events)) % len(l.events)
		out = append(out, l.events[idx])
	}
	return out
}

// Events implements the bot's event source for an in-process log.
func (l *Log) Events(_ context.Context, limit int) ([]Event, error) {
	return l.Recent(limit), nil
}

// Export writes every event, oldest first, as a JSON array.
func (l *Log) Export(w io.Writer) error {
	return WriteJSON(w, l.Recent(0))
}

// ExportZip writes a zip archive holding the JSON export as events.json.
func (l *Log) ExportZip(w io.Writer) error {
	return WriteZip(w, l.Recent(0), l.now().UTC())
}

// WriteJSON writes events, given newest first, as a JSON array ordered
// oldest first.
func WriteJSON(w io.Writer, events []Event) error {
	ordered := make([]Event, len(events))
	for i, e := range events {
		ordered[len(events)-1-i] = e
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ordered); err != nil {
		return fmt.Errorf("failed to encode events: %w", err)
	}
	return nil
}

// WriteZip writes a zip archive holding WriteJSON's output as events.json.
func WriteZip(w io.Writer, events []Event, modified time.Time) error {
	zw := zip.NewWriter(w)

	f, err := zw.CreateHeader(&zip.FileHeader{
		Name:     "events.json",
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("failed to create archive entry: %w", err)
	}
	if err := WriteJSON(f, events); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}
