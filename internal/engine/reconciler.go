package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// HistoryFetcher loads persisted messages for a room over REST. The endpoint
// serves newest-first; the reconciler reverses on ingestion.
type HistoryFetcher interface {
	Messages(ctx context.Context, roomID string) ([]Message, error)
}

// Conversation is the per-room aggregate: an id-unique message sequence
// sorted by CreatedAt (ties keep arrival order) plus the participants seen
// so far.
type Conversation struct {
	RoomID       string
	Name         string
	Participants map[string]struct{}
	Messages     []Message

	seen map[string]struct{}
}

func newConversation(roomID string) *Conversation {
	return &Conversation{
		RoomID:       roomID,
		Participants: make(map[string]struct{}),
		seen:         make(map[string]struct{}),
	}
}

// Reconciler merges REST-fetched history and push-delivered events into one
// consistent ordered view per room. It is the only writer of conversation
// state; everything else reads through Snapshot or the delta stream.
type Reconciler struct {
	fetcher HistoryFetcher
	logger  *slog.Logger
	metrics *Metrics

	mu            sync.Mutex
	conversations map[string]*Conversation
	loading       map[string]bool
	pending       map[string][]Message

	deltas chan Delta
}

func NewReconciler(fetcher HistoryFetcher, logger *slog.Logger, metrics *Metrics) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Reconciler{
		fetcher:       fetcher,
		logger:        logger,
		metrics:       metrics,
		conversations: make(map[string]*Conversation),
		loading:       make(map[string]bool),
		pending:       make(map[string][]Message),
		deltas:        make(chan Delta, 256),
	}
}

// Deltas streams state changes to the UI layer.
func (r *Reconciler) Deltas() <-chan Delta {
	return r.deltas
}

// LoadHistory fetches REST history for a room and replaces the local message
// sequence with it. Push events that arrive while the fetch is in flight are
// queued and merged in after the replace, so a replace never clobbers a
// newer push-delivered message. A fetch failure is returned as an error and
// leaves existing state untouched; it is never presented as an empty room.
func (r *Reconciler) LoadHistory(ctx context.Context, roomID string) error {
	r.mu.Lock()
	if r.loading[roomID] {
		r.mu.Unlock()
		return nil
	}
	r.loading[roomID] = true
	r.mu.Unlock()

	history, err := r.fetcher.Messages(ctx, roomID)

	r.mu.Lock()
	delete(r.loading, roomID)

	if err == nil {
		conv := r.conversationLocked(roomID)
		conv.Messages = conv.Messages[:0]
		conv.seen = make(map[string]struct{})
		// Newest-first on the wire; walk backwards to insert oldest-first.
		for i := len(history) - 1; i >= 0; i-- {
			r.insertLocked(conv, history[i])
		}
	}

	queued := r.pending[roomID]
	delete(r.pending, roomID)
	merged := 0
	for _, msg := range queued {
		if r.insertLocked(r.conversationLocked(roomID), msg) {
			merged++
		}
	}
	r.mu.Unlock()

	if err != nil {
		return fmt.Errorf("load history for room %s: %w", roomID, err)
	}
	if len(queued) > 0 {
		r.logger.Debug("merged events queued during history load", "room", roomID, "queued", len(queued), "merged", merged)
	}
	r.emit(Delta{Kind: DeltaHistory, RoomID: roomID})
	return nil
}

// ApplyEvent merges one push-delivered message. Re-delivery of an id already
// in the sequence is discarded, so the operation is idempotent and a server
// echo of an optimistic send collapses into the local copy. Reports whether
// the message was inserted.
func (r *Reconciler) ApplyEvent(roomID string, msg Message) bool {
	r.mu.Lock()
	if r.loading[roomID] {
		r.pending[roomID] = append(r.pending[roomID], msg)
		r.mu.Unlock()
		return false
	}
	inserted := r.insertLocked(r.conversationLocked(roomID), msg)
	r.mu.Unlock()

	if inserted {
		r.emit(Delta{Kind: DeltaMessage, RoomID: roomID, Message: &msg})
	}
	return inserted
}

// ApplySelfSend inserts a locally composed message before network
// confirmation. It uses the same insertion path as ApplyEvent, so the later
// server echo with the same id deduplicates naturally.
func (r *Reconciler) ApplySelfSend(roomID string, msg Message) {
	r.ApplyEvent(roomID, msg)
}

// RemoveMessage deletes a message by id, for delete-for-all events.
func (r *Reconciler) RemoveMessage(roomID, messageID string) {
	r.mu.Lock()
	conv, ok := r.conversations[roomID]
	removed := false
	if ok {
		for i := range conv.Messages {
			if conv.Messages[i].ID == messageID {
				conv.Messages = append(conv.Messages[:i], conv.Messages[i+1:]...)
				delete(conv.seen, messageID)
				removed = true
				break
			}
		}
	}
	r.mu.Unlock()

	if removed {
		r.emit(Delta{Kind: DeltaRemove, RoomID: roomID, MessageID: messageID})
	}
}

// RenameRoom records a new display name for the room.
func (r *Reconciler) RenameRoom(roomID, name string) {
	r.mu.Lock()
	r.conversationLocked(roomID).Name = name
	r.mu.Unlock()
	r.emit(Delta{Kind: DeltaRename, RoomID: roomID, Name: name})
}

// AddRoom creates a placeholder conversation for a room pushed onto the
// chat list.
func (r *Reconciler) AddRoom(room RoomSummary) {
	r.mu.Lock()
	conv := r.conversationLocked(room.ID)
	if room.Name != "" {
		conv.Name = room.Name
	}
	r.mu.Unlock()
	r.emit(Delta{Kind: DeltaRoomAdded, RoomID: room.ID, Room: &room})
}

// RemoveRoom evicts a room's conversation state.
func (r *Reconciler) RemoveRoom(roomID string) {
	r.mu.Lock()
	delete(r.conversations, roomID)
	delete(r.pending, roomID)
	r.mu.Unlock()
	r.emit(Delta{Kind: DeltaRoomRemoved, RoomID: roomID})
}

// EmitTyping forwards a typing indicator change to the delta stream.
func (r *Reconciler) EmitTyping(roomID string, typing bool, user string) {
	r.emit(Delta{Kind: DeltaTyping, RoomID: roomID, Typing: typing, Name: user})
}

// Snapshot returns a copy of a conversation's current view.
func (r *Reconciler) Snapshot(roomID string) (Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[roomID]
	if !ok {
		return Conversation{}, false
	}
	out := Conversation{
		RoomID:       conv.RoomID,
		Name:         conv.Name,
		Participants: make(map[string]struct{}, len(conv.Participants)),
		Messages:     make([]Message, len(conv.Messages)),
	}
	for p := range conv.Participants {
		out.Participants[p] = struct{}{}
	}
	copy(out.Messages, conv.Messages)
	return out, true
}

func (r *Reconciler) conversationLocked(roomID string) *Conversation {
	conv, ok := r.conversations[roomID]
	if !ok {
		conv = newConversation(roomID)
		r.conversations[roomID] = conv
	}
	return conv
}

// insertLocked places msg into the sorted sequence, keeping ids unique and
// CreatedAt non-decreasing. Equal timestamps keep arrival order so display
// derivations downstream stay deterministic.
func (r *Reconciler) insertLocked(conv *Conversation, msg Message) bool {
	if _, dup := conv.seen[msg.ID]; dup {
		r.metrics.IncDuplicate()
		return false
	}
	idx := sort.Search(len(conv.Messages), func(i int) bool {
		return conv.Messages[i].CreatedAt.After(msg.CreatedAt)
	})
	conv.Messages = append(conv.Messages, Message{})
	copy(conv.Messages[idx+1:], conv.Messages[idx:])
	conv.Messages[idx] = msg
	conv.seen[msg.ID] = struct{}{}
	if msg.SenderName != "" {
		conv.Participants[msg.SenderName] = struct{}{}
	}
	r.metrics.IncMerged()
	return true
}

// emit never blocks the routing path: if the UI is not draining deltas fast
// enough the delta is dropped and the UI recovers from its next Snapshot.
func (r *Reconciler) emit(d Delta) {
	select {
	case r.deltas <- d:
	default:
		r.logger.Warn("delta buffer full, dropping", "room", d.RoomID, "kind", d.Kind)
	}
}
