package transcript

import (
	"testing"
	"time"
)

func TestStoreAdd(t *testing.T) {
	s := NewStore(30, 10)
	s.Add(Entry{Timestamp: time.Now(), Text: "open the browser", Engine: "vosk", Handled: true, Action: "browser"})

	entries := s.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Text != "open the browser" || entries[0].Engine != "vosk" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}

func TestStoreMaxSize(t *testing.T) {
	s := NewStore(5, 10)
	for i := 0; i < 10; i++ {
		s.Add(Entry{Timestamp: time.Now(), Text: "msg"})
	}

	if len(s.Entries()) != 5 {
		t.Errorf("expected 5 entries, got %d", len(s.Entries()))
	}
}

func TestRecent(t *testing.T) {
	s := NewStore(30, 10)
	s.Add(Entry{Timestamp: time.Now().Add(-5 * time.Minute), Text: "old"})
	s.Add(Entry{Timestamp: time.Now(), Text: "recent"})

	got := s.Recent(time.Minute)
	if len(got) != 1 || got[0].Text != "recent" {
		t.Errorf("Recent = %+v, want only the recent entry", got)
	}
}

func TestLast(t *testing.T) {
	s := NewStore(30, 10)
	if _, ok := s.Last(); ok {
		t.Error("Last on empty store reported an entry")
	}
	s.Add(Entry{Text: "first"})
	s.Add(Entry{Text: "second"})
	if e, ok := s.Last(); !ok || e.Text != "second" {
		t.Errorf("Last = (%+v, %v), want second", e, ok)
	}
}

func TestEmit(t *testing.T) {
	s := NewStore(30, 10)
	go s.Emit(Event{Kind: EventFinal, Text: "test"})

	select {
	case e := <-s.Events():
		if e.Kind != EventFinal || e.Text != "test" {
			t.Errorf("unexpected event: %+v", e)
		}
		if e.Time.IsZero() {
			t.Error("Emit did not stamp the event time")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestEmitNonBlocking(t *testing.T) {
	s := NewStore(30, 1)
	s.Emit(Event{Kind: EventPartial, Text: "1"})

	done := make(chan struct{})
	go func() {
		s.Emit(Event{Kind: EventPartial, Text: "2"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Error("Emit blocked when channel was full")
	}
}
