package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Status is the connection lifecycle state.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// ErrNotConnected is returned by Send when no live session exists.
var ErrNotConnected = errors.New("not connected")

// AuthError marks an authentication rejection. Unlike transient transport
// failures, it stops the reconnect loop: retrying with the same token would
// just be rejected again.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "authentication rejected: " + e.Reason
}

// Frame is one inbound protocol message, already stripped to its payload.
type Frame struct {
	Destination string
	Body        []byte
}

// Subscription delivers frames for a single destination. Frames() closes when
// the subscription or its connection dies.
type Subscription interface {
	Frames() <-chan Frame
	Unsubscribe() error
}

// Session is one live, authenticated connection. Done() yields the terminal
// error when the transport drops.
type Session interface {
	Subscribe(destination string) (Subscription, error)
	Send(destination string, headers map[string]string, body []byte) error
	Done() <-chan error
	Close() error
}

// Transport dials sessions. The real implementation lives in
// internal/stompws; tests supply fakes.
type Transport interface {
	Connect(ctx context.Context, token string) (Session, error)
}

// ConnectionConfig configures a ConnectionManager. Zero durations fall back
// to the defaults below.
type ConnectionConfig struct {
	Transport      Transport
	Token          func() string
	Logger         *slog.Logger
	Metrics        *Metrics
	ConnectTimeout time.Duration
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	// WarnAfter is the number of consecutive failed attempts before the
	// failure is surfaced through OnDown. Retrying continues regardless.
	WarnAfter int
}

const (
	defaultConnectTimeout = 10 * time.Second
	defaultBaseBackoff    = time.Second
	defaultMaxBackoff     = 30 * time.Second
	defaultWarnAfter      = 10
)

// ConnectionManager owns at most one live session and hides reconnect churn
// from its callers. Subscriptions are connection-scoped, so OnConnected fires
// on every successful dial and the registry re-subscribes there.
type ConnectionManager struct {
	transport      Transport
	token          func() string
	logger         *slog.Logger
	metrics        *Metrics
	connectTimeout time.Duration
	baseBackoff    time.Duration
	maxBackoff     time.Duration
	warnAfter      int

	// Hooks must be set before Connect is called.
	OnConnected    func(Session)
	OnDisconnected func()
	OnDown         func(error)

	mu      sync.Mutex
	status  Status
	session Session
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewConnectionManager(cfg ConnectionConfig) *ConnectionManager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.WarnAfter <= 0 {
		cfg.WarnAfter = defaultWarnAfter
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}
	return &ConnectionManager{
		transport:      cfg.Transport,
		token:          cfg.Token,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		connectTimeout: cfg.ConnectTimeout,
		baseBackoff:    cfg.BaseBackoff,
		maxBackoff:     cfg.MaxBackoff,
		warnAfter:      cfg.WarnAfter,
	}
}

// Connect starts the supervision loop. Calling it while already connecting or
// connected is a no-op.
func (m *ConnectionManager) Connect() {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.status = StatusConnecting
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx)
}

// Disconnect tears the connection down and cancels any pending reconnect.
// Idempotent.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	sess := m.session
	m.session = nil
	m.status = StatusDisconnected
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sess != nil {
		_ = sess.Close()
	}
	m.wg.Wait()
}

// Send writes a frame on the live session. It fails with ErrNotConnected
// rather than blocking or panicking while the connection is down.
func (m *ConnectionManager) Send(destination string, headers map[string]string, body []byte) error {
	m.mu.Lock()
	sess := m.session
	connected := m.status == StatusConnected
	m.mu.Unlock()

	if !connected || sess == nil {
		return ErrNotConnected
	}
	if err := sess.Send(destination, headers, body); err != nil {
		m.metrics.IncSendFailure()
		return fmt.Errorf("send to %s: %w", destination, err)
	}
	return nil
}

func (m *ConnectionManager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *ConnectionManager) run(ctx context.Context) {
	defer m.wg.Done()

	delay := m.baseBackoff
	failures := 0

	for ctx.Err() == nil {
		m.setStatus(StatusConnecting)

		dialCtx, cancelDial := context.WithTimeout(ctx, m.connectTimeout)
		sess, err := m.transport.Connect(dialCtx, m.token())
		cancelDial()

		if err != nil {
			var authErr *AuthError
			if errors.As(err, &authErr) {
				m.logger.Error("connection refused by server, giving up", "error", err)
				m.stopLoop()
				m.notifyDown(err)
				return
			}
			failures++
			m.logger.Warn("connect failed", "error", err, "attempt", failures, "retry_in", delay)
			if failures == m.warnAfter {
				m.notifyDown(fmt.Errorf("still disconnected after %d attempts: %w", failures, err))
			}
			m.setStatus(StatusReconnecting)
			select {
			case <-ctx.Done():
				return
			case <-time.After(jitter(delay)):
			}
			delay = min(delay*2, m.maxBackoff)
			continue
		}

		m.mu.Lock()
		if ctx.Err() != nil {
			m.mu.Unlock()
			_ = sess.Close()
			return
		}
		m.session = sess
		m.status = StatusConnected
		m.mu.Unlock()

		failures = 0
		delay = m.baseBackoff
		m.metrics.IncConnect()
		m.logger.Info("connected")
		if m.OnConnected != nil {
			m.OnConnected(sess)
		}

		select {
		case <-ctx.Done():
			_ = sess.Close()
			return
		case err := <-sess.Done():
			m.logger.Warn("connection lost", "error", err)
			_ = sess.Close()
			m.mu.Lock()
			m.session = nil
			if m.cancel != nil {
				m.status = StatusReconnecting
			}
			m.mu.Unlock()
			m.metrics.IncReconnect()
			if m.OnDisconnected != nil {
				m.OnDisconnected()
			}
		}
	}
}

// stopLoop clears the cancel handle so a later Connect, e.g. with a fresh
// token, can start a new loop.
func (m *ConnectionManager) stopLoop() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.status = StatusDisconnected
	m.mu.Unlock()
}

func (m *ConnectionManager) setStatus(s Status) {
	m.mu.Lock()
	if m.cancel != nil {
		m.status = s
	}
	m.mu.Unlock()
}

func (m *ConnectionManager) notifyDown(err error) {
	if m.OnDown != nil {
		m.OnDown(err)
	}
}

// jitter spreads reconnect attempts across 50-150% of the nominal delay so
// many clients do not stampede the server in lockstep.
func jitter(d time.Duration) time.Duration {
	return d/2 + time.Duration(rand.Int63n(int64(d)))
}
