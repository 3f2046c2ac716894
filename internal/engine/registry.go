package engine

import (
	"log/slog"
	"sync"
)

const sendDestination = "/app/chat/send"

func userChannelKey(nickname string) string { return "user:" + nickname }
func roomChannelKey(roomID string) string   { return "room:" + roomID }

func userDestination(nickname string) string { return "/queue/chatroom/" + nickname }
func roomDestination(roomID string) string   { return "/topic/chatroom/" + roomID }
func typingDestination(roomID string) string { return "/app/chat/" + roomID + "/typing" }

// EventSink receives parsed events from the registry. The engine implements
// it and fans out to the reconciler and typing tracker.
type EventSink interface {
	HandleEvent(channelKey string, evt Event)
}

// SubscriptionRegistry tracks which logical channels should be subscribed and
// keeps the wire state in line with that intent. Wire subscriptions die with
// their session, so the full intent set is replayed on every reconnect.
type SubscriptionRegistry struct {
	sink    EventSink
	logger  *slog.Logger
	metrics *Metrics

	mu       sync.Mutex
	intended map[string]string // channel key -> destination
	active   map[string]Subscription
	session  Session
}

func NewSubscriptionRegistry(sink EventSink, logger *slog.Logger, metrics *Metrics) *SubscriptionRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &SubscriptionRegistry{
		sink:     sink,
		logger:   logger,
		metrics:  metrics,
		intended: make(map[string]string),
		active:   make(map[string]Subscription),
	}
}

// SubscribeUser registers the private notification channel for a nickname.
func (r *SubscriptionRegistry) SubscribeUser(nickname string) {
	r.subscribe(userChannelKey(nickname), userDestination(nickname))
}

// SubscribeRoom registers a room broadcast channel. Idempotent: calling it
// again for an already-tracked room does not open a second wire subscription.
func (r *SubscriptionRegistry) SubscribeRoom(roomID string) {
	r.subscribe(roomChannelKey(roomID), roomDestination(roomID))
}

func (r *SubscriptionRegistry) subscribe(key, destination string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intended[key] = destination
	if r.session != nil {
		r.openLocked(key, destination)
	}
}

// UnsubscribeRoom drops the binding for a room. Frames that still arrive for
// it are logged and discarded.
func (r *SubscriptionRegistry) UnsubscribeRoom(roomID string) {
	key := roomChannelKey(roomID)
	r.mu.Lock()
	delete(r.intended, key)
	sub := r.active[key]
	delete(r.active, key)
	r.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			r.logger.Warn("unsubscribe failed", "channel", key, "error", err)
		}
	}
}

// ActiveChannels returns the channel keys currently subscribed on the wire.
func (r *SubscriptionRegistry) ActiveChannels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.active))
	for key := range r.active {
		keys = append(keys, key)
	}
	return keys
}

// OnConnected binds the registry to a fresh session and replays every
// intended channel onto it. The connection manager calls this after each
// successful dial, first connect and reconnects alike.
func (r *SubscriptionRegistry) OnConnected(sess Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = sess
	r.active = make(map[string]Subscription)
	for key, destination := range r.intended {
		r.openLocked(key, destination)
	}
}

// OnDisconnected clears wire state. Intent is kept so the channels come back
// on the next OnConnected.
func (r *SubscriptionRegistry) OnDisconnected() {
	r.mu.Lock()
	r.session = nil
	r.active = make(map[string]Subscription)
	r.mu.Unlock()
}

func (r *SubscriptionRegistry) openLocked(key, destination string) {
	if _, ok := r.active[key]; ok {
		return
	}
	sub, err := r.session.Subscribe(destination)
	if err != nil {
		r.logger.Error("subscribe failed", "channel", key, "destination", destination, "error", err)
		return
	}
	r.active[key] = sub
	r.logger.Debug("subscribed", "channel", key, "destination", destination)
	go r.pump(key, sub)
}

func (r *SubscriptionRegistry) pump(key string, sub Subscription) {
	for frame := range sub.Frames() {
		r.route(key, frame)
	}
}

// route parses one frame and hands it to the sink. A malformed frame is
// logged and dropped without touching the connection or the subscription.
func (r *SubscriptionRegistry) route(key string, frame Frame) {
	r.metrics.IncFrame()

	evt, err := ParseEvent(frame.Body)
	if err != nil {
		r.metrics.IncBadFrame()
		r.logger.Warn("dropping undecodable frame", "channel", key, "error", err)
		return
	}

	r.mu.Lock()
	_, wanted := r.intended[key]
	r.mu.Unlock()
	if !wanted {
		r.logger.Debug("frame for unsubscribed channel dropped", "channel", key)
		return
	}

	r.sink.HandleEvent(key, evt)
}
