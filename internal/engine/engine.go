package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Outbox queues outbound messages while the connection is down. The queue is
// flushed in order after every reconnect. internal/storage provides the
// durable implementation.
type Outbox interface {
	Enqueue(ctx context.Context, roomID string, payload []byte) error
	Pending(ctx context.Context) ([]OutboxItem, error)
	Delete(ctx context.Context, seq int64) error
}

// OutboxItem is one queued send.
type OutboxItem struct {
	Seq     int64
	RoomID  string
	Payload []byte
}

// Cache persists merged messages locally so the next start can render before
// the network answers. Failures are logged, never fatal.
type Cache interface {
	SaveMessage(ctx context.Context, msg Message) error
	DeleteMessage(ctx context.Context, messageID string) error
}

// Config assembles an Engine. Transport, History, Token and Nickname are
// required; the rest have working defaults.
type Config struct {
	Transport Transport
	History   HistoryFetcher
	Token     func() string
	Nickname  string
	Outbox    Outbox
	Cache     Cache
	Logger    *slog.Logger
	Metrics   *Metrics
	// OnDown receives terminal connection failures: auth rejection, or the
	// retry-count warning.
	OnDown func(error)

	ConnectTimeout time.Duration
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
}

// Engine is the message synchronization core: one connection manager, one
// subscription registry and one reconciler wired together behind a small
// API. It owns no UI concerns; callers drain Deltas() and render.
type Engine struct {
	conn       *ConnectionManager
	registry   *SubscriptionRegistry
	reconciler *Reconciler
	notifier   *TypingNotifier
	tracker    *TypingTracker
	outbox     Outbox
	cache      Cache
	metrics    *Metrics
	logger     *slog.Logger
	token      func() string
	nickname   string
}

func New(cfg Config) (*Engine, error) {
	if cfg.Transport == nil {
		return nil, errors.New("engine: transport is required")
	}
	if cfg.History == nil {
		return nil, errors.New("engine: history fetcher is required")
	}
	if cfg.Token == nil {
		return nil, errors.New("engine: token source is required")
	}
	if cfg.Nickname == "" {
		return nil, errors.New("engine: nickname is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}

	e := &Engine{
		outbox:   cfg.Outbox,
		cache:    cfg.Cache,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		token:    cfg.Token,
		nickname: cfg.Nickname,
	}
	e.reconciler = NewReconciler(cfg.History, cfg.Logger, cfg.Metrics)
	e.registry = NewSubscriptionRegistry(e, cfg.Logger, cfg.Metrics)
	e.tracker = NewTypingTracker(0)
	e.notifier = NewTypingNotifier(0, e.sendTyping)
	e.conn = NewConnectionManager(ConnectionConfig{
		Transport:      cfg.Transport,
		Token:          cfg.Token,
		Logger:         cfg.Logger,
		Metrics:        cfg.Metrics,
		ConnectTimeout: cfg.ConnectTimeout,
		BaseBackoff:    cfg.BaseBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	})
	e.conn.OnConnected = e.handleConnected
	e.conn.OnDisconnected = e.registry.OnDisconnected
	e.conn.OnDown = cfg.OnDown
	return e, nil
}

// Connect registers the private user channel and starts the connection
// supervision loop.
func (e *Engine) Connect() {
	e.registry.SubscribeUser(e.nickname)
	e.conn.Connect()
}

// Disconnect tears everything down. Intent state survives, so a later
// Connect resumes the same channels.
func (e *Engine) Disconnect() {
	e.notifier.Stop()
	e.conn.Disconnect()
}

// OpenRoom subscribes to the room channel and loads its REST history.
// Subscribing first means pushes arriving during the fetch are queued by the
// reconciler rather than missed.
func (e *Engine) OpenRoom(ctx context.Context, roomID string) error {
	e.registry.SubscribeRoom(roomID)
	return e.reconciler.LoadHistory(ctx, roomID)
}

// CloseRoom drops the room subscription. Conversation state stays warm for
// the session.
func (e *Engine) CloseRoom(roomID string) {
	e.registry.UnsubscribeRoom(roomID)
}

// SendText composes and sends a text message, inserting it optimistically so
// the sender sees it immediately. While disconnected the message is queued
// to the outbox, if one is configured, and flushed after reconnect.
func (e *Engine) SendText(ctx context.Context, roomID, body string) (Message, error) {
	return e.send(ctx, roomID, body, KindText)
}

// SendFile sends a file-reference message; fileURL comes from the upload
// collaborator.
func (e *Engine) SendFile(ctx context.Context, roomID, fileURL string) (Message, error) {
	return e.send(ctx, roomID, fileURL, KindFile)
}

func (e *Engine) send(ctx context.Context, roomID, body string, kind Kind) (Message, error) {
	msg := Message{
		ID:         uuid.NewString(),
		RoomID:     roomID,
		SenderName: e.nickname,
		Body:       body,
		Kind:       kind,
		CreatedAt:  time.Now().UTC(),
	}
	e.reconciler.ApplySelfSend(roomID, msg)
	e.cacheSave(msg)

	payload, err := json.Marshal(msg)
	if err != nil {
		return msg, fmt.Errorf("encode message: %w", err)
	}

	err = e.conn.Send(sendDestination, e.authHeaders(), payload)
	if errors.Is(err, ErrNotConnected) && e.outbox != nil {
		if qErr := e.outbox.Enqueue(ctx, roomID, payload); qErr != nil {
			return msg, fmt.Errorf("queue message while disconnected: %w", qErr)
		}
		e.metrics.IncQueuedSend()
		e.logger.Info("message queued while disconnected", "room", roomID, "id", msg.ID)
		return msg, nil
	}
	return msg, err
}

// NotifyTyping reports local typing activity; notifications are debounced
// before hitting the wire.
func (e *Engine) NotifyTyping(roomID string) {
	e.notifier.Notify(roomID)
}

// TypingUser returns who is typing in the room right now, if anyone.
func (e *Engine) TypingUser(roomID string) (string, bool) {
	return e.tracker.Active(roomID)
}

// Deltas streams state changes for rendering.
func (e *Engine) Deltas() <-chan Delta {
	return e.reconciler.Deltas()
}

// Snapshot returns a copy of the current view of one conversation.
func (e *Engine) Snapshot(roomID string) (Conversation, bool) {
	return e.reconciler.Snapshot(roomID)
}

func (e *Engine) Status() Status {
	return e.conn.Status()
}

func (e *Engine) Metrics() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// HandleEvent dispatches parsed frames from the registry. Each event type is
// handled explicitly; ParseEvent already rejected unknown tags.
func (e *Engine) HandleEvent(channelKey string, evt Event) {
	switch evt.Type {
	case EventMessage:
		msg := *evt.Message
		if e.reconciler.ApplyEvent(msg.RoomID, msg) {
			e.cacheSave(msg)
		}
		if msg.Kind == KindRename && evt.NewName != "" {
			e.reconciler.RenameRoom(msg.RoomID, evt.NewName)
		}
	case EventTyping:
		e.tracker.Mark(evt.RoomID, evt.User, evt.Typing)
		e.reconciler.EmitTyping(evt.RoomID, evt.Typing, evt.User)
	case EventDeleteMessage:
		e.reconciler.RemoveMessage(evt.RoomID, evt.MessageID)
		if e.cache != nil {
			if err := e.cache.DeleteMessage(context.Background(), evt.MessageID); err != nil {
				e.logger.Warn("cache delete failed", "id", evt.MessageID, "error", err)
			}
		}
	case EventRoomAdded:
		e.reconciler.AddRoom(*evt.Room)
	case EventRoomRemoved:
		e.reconciler.RemoveRoom(evt.RoomID)
	case EventUserRenamed:
		e.logger.Info("user renamed", "channel", channelKey, "user", evt.User, "new_name", evt.NewName)
	case EventServerError:
		e.logger.Warn("server error event", "channel", channelKey, "message", evt.ErrorText)
	}
}

func (e *Engine) handleConnected(sess Session) {
	e.registry.OnConnected(sess)
	e.flushOutbox()
}

func (e *Engine) flushOutbox() {
	if e.outbox == nil {
		return
	}
	ctx := context.Background()
	items, err := e.outbox.Pending(ctx)
	if err != nil {
		e.logger.Warn("outbox read failed", "error", err)
		return
	}
	for _, item := range items {
		if err := e.conn.Send(sendDestination, e.authHeaders(), item.Payload); err != nil {
			e.logger.Warn("outbox flush interrupted", "seq", item.Seq, "error", err)
			return
		}
		if err := e.outbox.Delete(ctx, item.Seq); err != nil {
			e.logger.Warn("outbox delete failed", "seq", item.Seq, "error", err)
			return
		}
	}
	if len(items) > 0 {
		e.logger.Info("outbox flushed", "count", len(items))
	}
}

func (e *Engine) cacheSave(msg Message) {
	if e.cache == nil {
		return
	}
	if err := e.cache.SaveMessage(context.Background(), msg); err != nil {
		e.logger.Warn("cache write failed", "id", msg.ID, "error", err)
	}
}

func (e *Engine) sendTyping(roomID string) error {
	payload, err := json.Marshal(map[string]bool{"typing": true})
	if err != nil {
		return err
	}
	return e.conn.Send(typingDestination(roomID), e.authHeaders(), payload)
}

func (e *Engine) authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + e.token()}
}
