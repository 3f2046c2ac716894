package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type memOutbox struct {
	mu    sync.Mutex
	next  int64
	items []OutboxItem
}

func (o *memOutbox) Enqueue(ctx context.Context, roomID string, payload []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.next++
	o.items = append(o.items, OutboxItem{Seq: o.next, RoomID: roomID, Payload: payload})
	return nil
}

func (o *memOutbox) Pending(ctx context.Context) ([]OutboxItem, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]OutboxItem, len(o.items))
	copy(out, o.items)
	return out, nil
}

func (o *memOutbox) Delete(ctx context.Context, seq int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, item := range o.items {
		if item.Seq == seq {
			o.items = append(o.items[:i], o.items[i+1:]...)
			break
		}
	}
	return nil
}

func newTestEngine(t *testing.T, transport Transport, outbox Outbox) *Engine {
	t.Helper()
	e, err := New(Config{
		Transport:   transport,
		History:     newScriptedFetcher(),
		Token:       func() string { return "token" },
		Nickname:    "alice",
		Outbox:      outbox,
		BaseBackoff: 5 * time.Millisecond,
		MaxBackoff:  20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func waitForEngineStatus(t *testing.T, e *Engine, want Status) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for e.Status() != want {
		select {
		case <-deadline:
			t.Fatalf("status never reached %v, still %v", want, e.Status())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestEngineConnectSubscribesUserChannel(t *testing.T) {
	sess := newFakeSession()
	e := newTestEngine(t, newFakeTransport(connectResult{sess: sess}), nil)
	defer e.Disconnect()

	e.Connect()
	waitForEngineStatus(t, e, StatusConnected)

	if sess.sub("/queue/chatroom/alice") == nil {
		t.Fatal("user channel not subscribed after connect")
	}
}

func TestEngineOpenRoomSubscribesAndLoads(t *testing.T) {
	sess := newFakeSession()
	e := newTestEngine(t, newFakeTransport(connectResult{sess: sess}), nil)
	defer e.Disconnect()

	e.Connect()
	waitForEngineStatus(t, e, StatusConnected)

	if err := e.OpenRoom(context.Background(), "room-1"); err != nil {
		t.Fatalf("OpenRoom: %v", err)
	}
	if sess.sub("/topic/chatroom/room-1") == nil {
		t.Fatal("room channel not subscribed")
	}
	if _, ok := e.Snapshot("room-1"); !ok {
		t.Fatal("conversation state missing after open")
	}
}

func TestEngineSendTextAppearsImmediately(t *testing.T) {
	sess := newFakeSession()
	e := newTestEngine(t, newFakeTransport(connectResult{sess: sess}), nil)
	defer e.Disconnect()

	e.Connect()
	waitForEngineStatus(t, e, StatusConnected)

	msg, err := e.SendText(context.Background(), "room-1", "hello")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if msg.ID == "" {
		t.Fatal("expected generated message id")
	}

	conv, ok := e.Snapshot("room-1")
	if !ok || len(conv.Messages) != 1 || conv.Messages[0].Body != "hello" {
		t.Fatalf("expected optimistic insert, got %+v ok=%v", conv, ok)
	}

	frames := sess.sentFrames()
	if len(frames) != 1 || frames[0].destination != "/app/chat/send" {
		t.Fatalf("unexpected sent frames %+v", frames)
	}
	var wire Message
	if err := json.Unmarshal(frames[0].body, &wire); err != nil {
		t.Fatalf("decode sent frame: %v", err)
	}
	if wire.ID != msg.ID || wire.SenderName != "alice" {
		t.Fatalf("unexpected wire message %+v", wire)
	}
}

func TestEngineServerEchoDeduplicates(t *testing.T) {
	sess := newFakeSession()
	e := newTestEngine(t, newFakeTransport(connectResult{sess: sess}), nil)
	defer e.Disconnect()

	e.Connect()
	waitForEngineStatus(t, e, StatusConnected)
	if err := e.OpenRoom(context.Background(), "room-1"); err != nil {
		t.Fatalf("OpenRoom: %v", err)
	}

	msg, err := e.SendText(context.Background(), "room-1", "hello")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}

	echo, _ := json.Marshal(msg)
	sess.sub("/topic/chatroom/room-1").push(Frame{Body: echo})

	deadline := time.After(time.Second)
	for {
		conv, _ := e.Snapshot("room-1")
		if len(conv.Messages) == 1 {
			break
		}
		select {
		case <-deadline:
			conv, _ := e.Snapshot("room-1")
			t.Fatalf("expected echo collapsed, got %d messages", len(conv.Messages))
		case <-time.After(time.Millisecond):
		}
	}
}

func TestEngineQueuesSendsWhileDisconnected(t *testing.T) {
	outbox := &memOutbox{}
	sess := newFakeSession()
	transport := newFakeTransport(connectResult{sess: sess})
	e := newTestEngine(t, transport, outbox)
	defer e.Disconnect()

	// Not connected yet: the send must land in the outbox, not fail.
	if _, err := e.SendText(context.Background(), "room-1", "offline"); err != nil {
		t.Fatalf("SendText while disconnected: %v", err)
	}
	pending, _ := outbox.Pending(context.Background())
	if len(pending) != 1 {
		t.Fatalf("expected 1 queued send, got %d", len(pending))
	}

	e.Connect()
	waitForEngineStatus(t, e, StatusConnected)

	deadline := time.After(2 * time.Second)
	for {
		pending, _ = outbox.Pending(context.Background())
		if len(pending) == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("outbox never flushed, %d pending", len(pending))
		case <-time.After(time.Millisecond):
		}
	}
	frames := sess.sentFrames()
	if len(frames) != 1 {
		t.Fatalf("expected queued frame sent after connect, got %d", len(frames))
	}
}

func TestEngineResubscribesAfterReconnect(t *testing.T) {
	first := newFakeSession()
	second := newFakeSession()
	e := newTestEngine(t, newFakeTransport(
		connectResult{sess: first},
		connectResult{sess: second},
	), nil)
	defer e.Disconnect()

	e.Connect()
	waitForEngineStatus(t, e, StatusConnected)
	if err := e.OpenRoom(context.Background(), "room-1"); err != nil {
		t.Fatalf("OpenRoom: %v", err)
	}

	first.fail(errors.New("peer reset"))

	deadline := time.After(2 * time.Second)
	for second.sub("/topic/chatroom/room-1") == nil {
		select {
		case <-deadline:
			t.Fatal("room subscription not replayed on new session")
		case <-time.After(time.Millisecond):
		}
	}
	if second.sub("/queue/chatroom/alice") == nil {
		t.Fatal("user subscription not replayed on new session")
	}
}

func TestEngineDispatchesTypingEvents(t *testing.T) {
	sess := newFakeSession()
	e := newTestEngine(t, newFakeTransport(connectResult{sess: sess}), nil)
	defer e.Disconnect()

	e.Connect()
	waitForEngineStatus(t, e, StatusConnected)
	if err := e.OpenRoom(context.Background(), "room-1"); err != nil {
		t.Fatalf("OpenRoom: %v", err)
	}

	sess.sub("/topic/chatroom/room-1").push(Frame{
		Body: []byte(`{"type": "TYPING", "roomId": "room-1", "user": "bob", "typing": true}`),
	})

	deadline := time.After(time.Second)
	for {
		if user, ok := e.TypingUser("room-1"); ok && user == "bob" {
			return
		}
		select {
		case <-deadline:
			t.Fatal("typing indicator never tracked")
		case <-time.After(time.Millisecond):
		}
	}
}
