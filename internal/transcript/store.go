// Package transcript keeps a bounded history of final recognition results
// and fans out live pipeline events to observers such as the websocket
// server.
package transcript

import (
	"sync"
	"time"
)

// EventKind tags a live pipeline event.
type EventKind string

const (
	EventPartial            EventKind = "partial"
	EventFinal              EventKind = "final"
	EventFrameDropped       EventKind = "frame_dropped"
	EventDeviceDisconnected EventKind = "device_disconnected"
	EventError              EventKind = "error"
)

// Event is a live notification. Partials and finals carry Text; frame drops
// carry Count; errors carry Error.
type Event struct {
	Kind   EventKind `json:"kind"`
	Time   time.Time `json:"time"`
	Text   string    `json:"text,omitempty"`
	Engine string    `json:"engine,omitempty"`
	Count  int       `json:"count,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// Entry is one finalized utterance.
type Entry struct {
	Timestamp  time.Time     `json:"timestamp"`
	Text       string        `json:"text"`
	Engine     string        `json:"engine"`
	Confidence float64       `json:"confidence,omitempty"`
	Duration   time.Duration `json:"duration"`
	Action     string        `json:"action,omitempty"`
	Handled    bool          `json:"handled"`
}

// Store is an in-memory ring of recent entries plus a non-blocking event
// channel. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
	maxSize int
	events  chan Event
}

// NewStore bounds history at maxEntries and buffers eventBuffer undelivered
// events.
func NewStore(maxEntries, eventBuffer int) *Store {
	return &Store{
		entries: make([]Entry, 0, maxEntries),
		maxSize: maxEntries,
		events:  make(chan Event, eventBuffer),
	}
}

// Add appends an entry, evicting the oldest beyond the size bound.
func (s *Store) Add(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, e)
	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
}

// Recent returns entries no older than the window, oldest first.
func (s *Store) Recent(window time.Duration) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	var out []Entry
	for _, e := range s.entries {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the most recent entry.
func (s *Store) Last() (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return Entry{}, false
	}
	return s.entries[len(s.entries)-1], true
}

// Entries returns a copy of the full history.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Events returns the live event channel.
func (s *Store) Events() <-chan Event {
	return s.events
}

// Emit sends an event without blocking; with no listener the event is lost.
func (s *Store) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	select {
	case s.events <- e:
	default:
	}
}
