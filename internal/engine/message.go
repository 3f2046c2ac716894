package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a message within a conversation. The wire values match the
// backend's type tags.
type Kind string

const (
	KindText   Kind = "MESSAGE"
	KindFile   Kind = "FILE"
	KindJoin   Kind = "JOIN"
	KindLeave  Kind = "LEAVE"
	KindInvite Kind = "INVITE"
	KindRename Kind = "NAME_UPDATE"
	KindSystem Kind = "SYSTEM"
)

// Message is a single immutable event in a conversation. The JSON field names
// follow the backend's wire format, including the createAt spelling.
type Message struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"roomId"`
	SenderName string    `json:"senderName"`
	Body       string    `json:"message"`
	Kind       Kind      `json:"type"`
	CreatedAt  time.Time `json:"createAt"`
}

// RoomSummary is a row in the chat-room list, as served by the room-list
// endpoint and carried on room-added events.
type RoomSummary struct {
	ID              string    `json:"chatRoomId"`
	Name            string    `json:"roomName"`
	UserCount       int       `json:"userCount"`
	LastMessage     string    `json:"lastMessage"`
	LastMessageTime time.Time `json:"lastMessageTime"`
	UnreadCount     int       `json:"unreadCount"`
}

// EventType discriminates parsed inbound frames. Message-bearing types are
// folded into EventMessage with the Kind preserved on the message itself.
type EventType int

const (
	EventMessage EventType = iota
	EventTyping
	EventDeleteMessage
	EventRoomAdded
	EventRoomRemoved
	EventUserRenamed
	EventServerError
)

// Event is a parsed inbound frame ready for dispatch.
type Event struct {
	Type      EventType
	Message   *Message
	RoomID    string
	MessageID string
	NewName   string
	Typing    bool
	User      string
	Room      *RoomSummary
	ErrorText string
}

// wireEvent is the superset of fields any inbound frame may carry.
type wireEvent struct {
	Type        string       `json:"type"`
	ID          string       `json:"id"`
	Body        string       `json:"message"`
	SenderName  string       `json:"senderName"`
	RoomID      string       `json:"roomId"`
	CreatedAt   time.Time    `json:"createAt"`
	ChatRoomID  string       `json:"chatRoomId"`
	MessageID   string       `json:"messageId"`
	NewName     string       `json:"newName"`
	Typing      bool         `json:"typing"`
	User        string       `json:"user"`
	InvitedUser string       `json:"invitedUser"`
	ChatRoom    *RoomSummary `json:"chatRoom"`
	Content     string       `json:"content"`
}

// ParseEvent decodes a frame payload into an Event. Unknown type tags are an
// error so that new backend event kinds surface in logs instead of vanishing
// in a default branch.
func ParseEvent(payload []byte) (Event, error) {
	var raw wireEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Event{}, fmt.Errorf("decode frame: %w", err)
	}

	roomID := raw.RoomID
	if roomID == "" {
		roomID = raw.ChatRoomID
	}

	switch raw.Type {
	case string(KindText), "CHAT", string(KindFile), string(KindJoin),
		string(KindLeave), string(KindInvite), string(KindRename), string(KindSystem):
		msg := Message{
			ID:         raw.ID,
			RoomID:     roomID,
			SenderName: raw.SenderName,
			Body:       raw.Body,
			Kind:       Kind(raw.Type),
			CreatedAt:  raw.CreatedAt,
		}
		if raw.Type == "CHAT" {
			msg.Kind = KindText
		}
		if msg.SenderName == "" {
			msg.SenderName = raw.User
		}
		// System events from older backend versions arrive without an id.
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		evt := Event{Type: EventMessage, Message: &msg, RoomID: roomID, User: raw.User}
		if msg.Kind == KindRename {
			evt.NewName = raw.NewName
		}
		return evt, nil
	case "TYPING":
		return Event{Type: EventTyping, RoomID: roomID, Typing: raw.Typing, User: raw.User}, nil
	case "DELETE_MESSAGE":
		return Event{Type: EventDeleteMessage, RoomID: roomID, MessageID: raw.MessageID}, nil
	case "ROOM_ADDED":
		room := raw.ChatRoom
		if room == nil {
			room = &RoomSummary{ID: roomID}
		}
		return Event{Type: EventRoomAdded, RoomID: room.ID, Room: room}, nil
	case "ROOM_REMOVED":
		return Event{Type: EventRoomRemoved, RoomID: roomID}, nil
	case "USER_NAME_UPDATE":
		return Event{Type: EventUserRenamed, RoomID: roomID, User: raw.User, NewName: raw.NewName}, nil
	case "ERROR":
		return Event{Type: EventServerError, RoomID: roomID, ErrorText: raw.Content}, nil
	default:
		return Event{}, fmt.Errorf("unknown event type %q", raw.Type)
	}
}

// DeltaKind tags the change a Delta describes.
type DeltaKind int

const (
	DeltaMessage DeltaKind = iota
	DeltaHistory
	DeltaRemove
	DeltaRename
	DeltaRoomAdded
	DeltaRoomRemoved
	DeltaTyping
)

// Delta describes a single state change for UI consumption.
type Delta struct {
	Kind      DeltaKind
	RoomID    string
	Message   *Message
	MessageID string
	Name      string
	Typing    bool
	Room      *RoomSummary
}
