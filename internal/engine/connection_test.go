package engine

import (
	"errors"
	"testing"
	"time"
)

func newTestManager(t *testing.T, transport Transport) *ConnectionManager {
	t.Helper()
	return NewConnectionManager(ConnectionConfig{
		Transport:   transport,
		Token:       func() string { return "token" },
		BaseBackoff: 5 * time.Millisecond,
		MaxBackoff:  20 * time.Millisecond,
	})
}

func waitForStatus(t *testing.T, m *ConnectionManager, want Status) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if m.Status() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("status never reached %v, still %v", want, m.Status())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestConnectEstablishesSession(t *testing.T) {
	sess := newFakeSession()
	transport := newFakeTransport(connectResult{sess: sess})
	m := newTestManager(t, transport)
	defer m.Disconnect()

	connected := make(chan struct{}, 1)
	m.OnConnected = func(Session) { connected <- struct{}{} }

	m.Connect()
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnected never fired")
	}
	waitForStatus(t, m, StatusConnected)
}

func TestConnectIsIdempotent(t *testing.T) {
	sess := newFakeSession()
	transport := newFakeTransport(connectResult{sess: sess})
	m := newTestManager(t, transport)
	defer m.Disconnect()

	m.Connect()
	waitForStatus(t, m, StatusConnected)
	m.Connect()
	m.Connect()

	time.Sleep(20 * time.Millisecond)
	if got := transport.dialCount(); got != 1 {
		t.Fatalf("expected 1 dial, got %d", got)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	m := newTestManager(t, newFakeTransport())
	if err := m.Send("/app/chat/send", nil, []byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestReconnectAfterSessionDrop(t *testing.T) {
	first := newFakeSession()
	second := newFakeSession()
	transport := newFakeTransport(
		connectResult{sess: first},
		connectResult{sess: second},
	)
	m := newTestManager(t, transport)
	defer m.Disconnect()

	connects := make(chan Session, 2)
	m.OnConnected = func(s Session) { connects <- s }
	disconnected := make(chan struct{}, 1)
	m.OnDisconnected = func() { disconnected <- struct{}{} }

	m.Connect()
	<-connects

	first.fail(errors.New("peer reset"))

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnected never fired")
	}
	select {
	case got := <-connects:
		if got != second {
			t.Fatal("expected second session after reconnect")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("never reconnected")
	}
	waitForStatus(t, m, StatusConnected)
}

func TestRetriesTransientDialFailures(t *testing.T) {
	sess := newFakeSession()
	transport := newFakeTransport(
		connectResult{err: errors.New("connection refused")},
		connectResult{err: errors.New("connection refused")},
		connectResult{sess: sess},
	)
	m := newTestManager(t, transport)
	defer m.Disconnect()

	m.Connect()
	waitForStatus(t, m, StatusConnected)
	if got := transport.dialCount(); got != 3 {
		t.Fatalf("expected 3 dials, got %d", got)
	}
}

func TestAuthRejectionStopsRetrying(t *testing.T) {
	transport := newFakeTransport(
		connectResult{err: &AuthError{Reason: "401 Unauthorized"}},
	)
	m := newTestManager(t, transport)

	down := make(chan error, 1)
	m.OnDown = func(err error) { down <- err }

	m.Connect()
	select {
	case err := <-down:
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			t.Fatalf("expected AuthError, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnDown never fired")
	}

	waitForStatus(t, m, StatusDisconnected)
	time.Sleep(50 * time.Millisecond)
	if got := transport.dialCount(); got != 1 {
		t.Fatalf("expected no retry after auth rejection, got %d dials", got)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	sess := newFakeSession()
	transport := newFakeTransport(connectResult{sess: sess})
	m := newTestManager(t, transport)

	m.Connect()
	waitForStatus(t, m, StatusConnected)

	m.Disconnect()
	m.Disconnect()
	if m.Status() != StatusDisconnected {
		t.Fatalf("expected disconnected, got %v", m.Status())
	}
}

func TestConnectAfterAuthFailureStartsFresh(t *testing.T) {
	sess := newFakeSession()
	transport := newFakeTransport(
		connectResult{err: &AuthError{Reason: "expired"}},
		connectResult{sess: sess},
	)
	m := newTestManager(t, transport)
	defer m.Disconnect()

	down := make(chan error, 1)
	m.OnDown = func(err error) { down <- err }

	m.Connect()
	<-down
	waitForStatus(t, m, StatusDisconnected)

	// A fresh token justifies a new attempt.
	m.Connect()
	waitForStatus(t, m, StatusConnected)
}
