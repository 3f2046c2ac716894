package engine

import (
	"sync"
	"time"
)

const (
	typingDebounce = 300 * time.Millisecond
	typingTTL      = 3 * time.Second
)

// TypingNotifier debounces outbound typing notifications per room: rapid
// keystrokes collapse into a single notification 300ms after the last one.
type TypingNotifier struct {
	send  func(roomID string) error
	delay time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewTypingNotifier(delay time.Duration, send func(roomID string) error) *TypingNotifier {
	if delay <= 0 {
		delay = typingDebounce
	}
	return &TypingNotifier{
		send:   send,
		delay:  delay,
		timers: make(map[string]*time.Timer),
	}
}

// Notify schedules a typing notification for the room, resetting any pending
// one.
func (t *TypingNotifier) Notify(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[roomID]; ok {
		timer.Stop()
	}
	t.timers[roomID] = time.AfterFunc(t.delay, func() {
		_ = t.send(roomID)
		t.mu.Lock()
		delete(t.timers, roomID)
		t.mu.Unlock()
	})
}

// Stop cancels all pending notifications.
func (t *TypingNotifier) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for roomID, timer := range t.timers {
		timer.Stop()
		delete(t.timers, roomID)
	}
}

// TypingTracker keeps inbound typing indicators per room. Entries expire on
// read, so a peer that stops typing without sending a stop event goes quiet
// after the TTL.
type TypingTracker struct {
	mu     sync.Mutex
	active map[string]typingState
	ttl    time.Duration
}

type typingState struct {
	user  string
	until time.Time
}

func NewTypingTracker(ttl time.Duration) *TypingTracker {
	if ttl <= 0 {
		ttl = typingTTL
	}
	return &TypingTracker{
		active: make(map[string]typingState),
		ttl:    ttl,
	}
}

// Mark records a typing indicator change for a room.
func (t *TypingTracker) Mark(roomID, user string, typing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !typing {
		delete(t.active, roomID)
		return
	}
	t.active[roomID] = typingState{user: user, until: time.Now().Add(t.ttl)}
}

// Active reports whether someone is currently typing in the room and who.
func (t *TypingTracker) Active(roomID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.active[roomID]
	if !ok {
		return "", false
	}
	if time.Now().After(state.until) {
		delete(t.active, roomID)
		return "", false
	}
	return state.user, true
}
