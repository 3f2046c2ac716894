// Package stompws implements the engine's Transport over STOMP frames
// carried on a WebSocket, matching what the chat backend speaks.
package stompws

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"

	"stompchat/internal/engine"
)

// Dialer connects STOMP sessions over WebSocket. URL is the ws:// or wss://
// endpoint of the backend's STOMP handler.
type Dialer struct {
	URL              string
	HandshakeTimeout time.Duration
	Heartbeat        time.Duration
}

// Connect dials the WebSocket, performs the STOMP handshake with the bearer
// token, and returns a live session. An HTTP 401 or 403 during the upgrade
// becomes an engine.AuthError so the supervision loop stops retrying.
func (d *Dialer) Connect(ctx context.Context, token string) (engine.Session, error) {
	wsDialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	ws, resp, err := wsDialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &engine.AuthError{Reason: resp.Status}
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}

	heartbeat := d.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 10 * time.Second
	}
	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.HeartBeat(heartbeat, heartbeat),
		stomp.ConnOpt.Host("/"),
	}
	if token != "" {
		opts = append(opts, stomp.ConnOpt.Header("Authorization", "Bearer "+token))
	}

	conn, err := stomp.Connect(&messageStream{ws: ws}, opts...)
	if err != nil {
		_ = ws.Close()
		if isAuthRejection(err) {
			return nil, &engine.AuthError{Reason: err.Error()}
		}
		return nil, fmt.Errorf("stomp handshake: %w", err)
	}

	return newSession(conn, ws), nil
}

// isAuthRejection checks for a server ERROR frame that indicates a rejected
// CONNECT, which the broker reports before closing the socket.
func isAuthRejection(err error) bool {
	frameErr, ok := err.(stomp.Error)
	if !ok || frameErr.Frame == nil {
		return false
	}
	msg := frameErr.Frame.Header.Get("message")
	return msg == "Access refused" || msg == "Bad CONNECT" || msg == "Unauthorized"
}

// messageStream adapts a WebSocket connection to the io.ReadWriteCloser the
// STOMP codec expects. Each Write becomes one text message; Read drains
// messages in order across frame boundaries.
type messageStream struct {
	ws     *websocket.Conn
	reader io.Reader

	writeMu sync.Mutex
}

func (s *messageStream) Read(p []byte) (int, error) {
	for {
		if s.reader == nil {
			_, r, err := s.ws.NextReader()
			if err != nil {
				return 0, err
			}
			s.reader = r
		}
		n, err := s.reader.Read(p)
		if err == io.EOF {
			s.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *messageStream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *messageStream) Close() error {
	return s.ws.Close()
}

// session wraps one STOMP connection. It reports exactly one terminal error
// through Done, whichever failure wins the race.
type session struct {
	conn *stomp.Conn
	ws   *websocket.Conn

	done   chan error
	once   sync.Once
	closed atomic.Bool
}

func newSession(conn *stomp.Conn, ws *websocket.Conn) *session {
	return &session{
		conn: conn,
		ws:   ws,
		done: make(chan error, 1),
	}
}

func (s *session) fail(err error) {
	s.once.Do(func() {
		s.done <- err
	})
}

func (s *session) Subscribe(destination string) (engine.Subscription, error) {
	stompSub, err := s.conn.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", destination, err)
	}

	sub := &subscription{sub: stompSub, frames: make(chan engine.Frame, 32)}
	go sub.pump(s)
	return sub, nil
}

func (s *session) Send(destination string, headers map[string]string, body []byte) error {
	opts := make([]func(*frame.Frame) error, 0, len(headers))
	for k, v := range headers {
		opts = append(opts, stomp.SendOpt.Header(k, v))
	}
	if err := s.conn.Send(destination, "application/json", body, opts...); err != nil {
		s.fail(err)
		return err
	}
	return nil
}

func (s *session) Done() <-chan error {
	return s.done
}

func (s *session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.conn.Disconnect()
	wsErr := s.ws.Close()
	if err != nil {
		return err
	}
	return wsErr
}

// subscription pumps STOMP messages into engine frames. An explicit
// Unsubscribe closes the channel quietly; a broker-side termination fails the
// whole session.
type subscription struct {
	sub    *stomp.Subscription
	frames chan engine.Frame
	closed atomic.Bool
}

func (u *subscription) pump(owner *session) {
	defer close(u.frames)
	for msg := range u.sub.C {
		if msg.Err != nil {
			if !u.closed.Load() {
				owner.fail(msg.Err)
			}
			return
		}
		u.frames <- engine.Frame{Destination: msg.Destination, Body: msg.Body}
	}
}

func (u *subscription) Frames() <-chan engine.Frame {
	return u.frames
}

func (u *subscription) Unsubscribe() error {
	u.closed.Store(true)
	return u.sub.Unsubscribe()
}
