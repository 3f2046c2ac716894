package engine

import (
	"context"
	"sync"
)

// fakeTransport hands out scripted sessions. Each call to Connect consumes
// the next result; when the script runs out it blocks until ctx is done.
type fakeTransport struct {
	mu      sync.Mutex
	script  []connectResult
	dials   int
	dialled chan struct{}
}

type connectResult struct {
	sess *fakeSession
	err  error
}

func newFakeTransport(script ...connectResult) *fakeTransport {
	return &fakeTransport{
		script:  script,
		dialled: make(chan struct{}, 64),
	}
}

func (t *fakeTransport) Connect(ctx context.Context, token string) (Session, error) {
	t.mu.Lock()
	t.dials++
	var next connectResult
	hasNext := len(t.script) > 0
	if hasNext {
		next = t.script[0]
		t.script = t.script[1:]
	}
	t.mu.Unlock()

	select {
	case t.dialled <- struct{}{}:
	default:
	}

	if !hasNext {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if next.err != nil {
		return nil, next.err
	}
	return next.sess, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

// fakeSession is an in-memory Session. Tests push inbound frames through
// subscriptions obtained from subs() and kill the session with fail().
type fakeSession struct {
	mu            sync.Mutex
	subs          map[string]*fakeSubscription
	subscribeCall int
	sent          []sentFrame
	done          chan error
	once          sync.Once
	closed        bool
}

type sentFrame struct {
	destination string
	headers     map[string]string
	body        []byte
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		subs: make(map[string]*fakeSubscription),
		done: make(chan error, 1),
	}
}

func (s *fakeSession) Subscribe(destination string) (Subscription, error) {
	sub := &fakeSubscription{frames: make(chan Frame, 16)}
	s.mu.Lock()
	s.subs[destination] = sub
	s.subscribeCall++
	s.mu.Unlock()
	return sub, nil
}

func (s *fakeSession) Send(destination string, headers map[string]string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentFrame{destination: destination, headers: headers, body: body})
	return nil
}

func (s *fakeSession) Done() <-chan error {
	return s.done
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, sub := range s.subs {
		sub.closeOnce()
	}
	return nil
}

func (s *fakeSession) fail(err error) {
	s.once.Do(func() {
		s.done <- err
	})
}

func (s *fakeSession) sub(destination string) *fakeSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[destination]
}

func (s *fakeSession) sentFrames() []sentFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentFrame, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *fakeSession) subscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribeCall
}

type fakeSubscription struct {
	frames chan Frame
	once   sync.Once
	unsubs int
	mu     sync.Mutex
}

func (f *fakeSubscription) Frames() <-chan Frame {
	return f.frames
}

func (f *fakeSubscription) Unsubscribe() error {
	f.mu.Lock()
	f.unsubs++
	f.mu.Unlock()
	f.closeOnce()
	return nil
}

func (f *fakeSubscription) closeOnce() {
	f.once.Do(func() { close(f.frames) })
}

func (f *fakeSubscription) push(frame Frame) {
	f.frames <- frame
}

// collectSink records events routed to it.
type collectSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

type sinkEvent struct {
	key string
	evt Event
}

func (c *collectSink) HandleEvent(key string, evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, sinkEvent{key: key, evt: evt})
}

func (c *collectSink) all() []sinkEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sinkEvent, len(c.events))
	copy(out, c.events)
	return out
}
