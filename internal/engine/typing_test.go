package engine

import (
	"sync"
	"testing"
	"time"
)

func TestTypingNotifierDebounces(t *testing.T) {
	var mu sync.Mutex
	sent := make(map[string]int)
	n := NewTypingNotifier(20*time.Millisecond, func(roomID string) error {
		mu.Lock()
		sent[roomID]++
		mu.Unlock()
		return nil
	})
	defer n.Stop()

	// A burst of keystrokes collapses into one notification.
	for i := 0; i < 10; i++ {
		n.Notify("room-1")
		time.Sleep(2 * time.Millisecond)
	}

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	got := sent["room-1"]
	mu.Unlock()
	if got != 1 {
		t.Fatalf("expected 1 debounced notification, got %d", got)
	}
}

func TestTypingNotifierTracksRoomsIndependently(t *testing.T) {
	var mu sync.Mutex
	sent := make(map[string]int)
	n := NewTypingNotifier(10*time.Millisecond, func(roomID string) error {
		mu.Lock()
		sent[roomID]++
		mu.Unlock()
		return nil
	})
	defer n.Stop()

	n.Notify("room-1")
	n.Notify("room-2")

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if sent["room-1"] != 1 || sent["room-2"] != 1 {
		t.Fatalf("expected one notification per room, got %v", sent)
	}
}

func TestTypingNotifierStopCancelsPending(t *testing.T) {
	var mu sync.Mutex
	count := 0
	n := NewTypingNotifier(20*time.Millisecond, func(string) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	n.Notify("room-1")
	n.Stop()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Fatalf("expected pending notification cancelled, got %d", count)
	}
}

func TestTypingTrackerExpires(t *testing.T) {
	tr := NewTypingTracker(20 * time.Millisecond)

	tr.Mark("room-1", "alice", true)
	if user, ok := tr.Active("room-1"); !ok || user != "alice" {
		t.Fatalf("expected alice typing, got %q ok=%v", user, ok)
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := tr.Active("room-1"); ok {
		t.Fatal("expected indicator expired")
	}
}

func TestTypingTrackerExplicitStop(t *testing.T) {
	tr := NewTypingTracker(time.Minute)

	tr.Mark("room-1", "alice", true)
	tr.Mark("room-1", "alice", false)
	if _, ok := tr.Active("room-1"); ok {
		t.Fatal("expected stop event to clear indicator")
	}
}
