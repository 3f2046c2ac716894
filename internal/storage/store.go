// Package storage is the client-side SQLite cache: the last-known room list
// and message history for offline rendering, plus the durable outbox for
// sends attempted while disconnected.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"stompchat/internal/engine"
)

const defaultBusyTimeout = 5000

// Store wraps the SQLite handle and exposes the cache and outbox methods.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the SQLite database at the provided path. Call
// Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "stompchat.db"
	}
	dsn := buildDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			user_count INTEGER NOT NULL DEFAULT 0,
			last_message TEXT NOT NULL DEFAULT '',
			last_message_time DATETIME,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			sender TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL DEFAULT 'MESSAGE',
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_time
			ON messages(room_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS outbox (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			room_id TEXT NOT NULL,
			payload BLOB NOT NULL,
			queued_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveRoom upserts one room-list entry.
func (s *Store) SaveRoom(ctx context.Context, room engine.RoomSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms(id, name, user_count, last_message, last_message_time, updated_at)
		VALUES(?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			user_count=excluded.user_count,
			last_message=excluded.last_message,
			last_message_time=excluded.last_message_time,
			updated_at=CURRENT_TIMESTAMP
	`, room.ID, room.Name, room.UserCount, room.LastMessage, room.LastMessageTime.UTC())
	return err
}

// DeleteRoom removes a room and its cached messages.
func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE room_id = ?`, roomID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, roomID); err != nil {
		return err
	}
	return tx.Commit()
}

// ListRooms returns the cached room list, most recently active first.
func (s *Store) ListRooms(ctx context.Context) ([]engine.RoomSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, user_count, last_message, last_message_time
		FROM rooms
		ORDER BY last_message_time DESC, name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []engine.RoomSummary
	for rows.Next() {
		var room engine.RoomSummary
		var lastTime sql.NullTime
		if err := rows.Scan(&room.ID, &room.Name, &room.UserCount, &room.LastMessage, &lastTime); err != nil {
			return nil, err
		}
		if lastTime.Valid {
			room.LastMessageTime = lastTime.Time
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// ReplaceMessages swaps the cached history of one room for a fresh fetch.
func (s *Store) ReplaceMessages(ctx context.Context, roomID string, messages []engine.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE room_id = ?`, roomID); err != nil {
		return err
	}
	for _, msg := range messages {
		if _, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO messages(id, room_id, sender, body, kind, created_at)
			VALUES(?, ?, ?, ?, ?, ?)
		`, msg.ID, roomID, msg.SenderName, msg.Body, string(msg.Kind), msg.CreatedAt.UTC()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveMessage caches one message. Re-saving an id already present is a no-op,
// matching the id-unique invariant upstream.
func (s *Store) SaveMessage(ctx context.Context, msg engine.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages(id, room_id, sender, body, kind, created_at)
		VALUES(?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.RoomID, msg.SenderName, msg.Body, string(msg.Kind), msg.CreatedAt.UTC())
	return err
}

// DeleteMessage removes one cached message by id.
func (s *Store) DeleteMessage(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, messageID)
	return err
}

// RoomMessages returns a room's cached history, oldest first.
func (s *Store) RoomMessages(ctx context.Context, roomID string) ([]engine.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, sender, body, kind, created_at
		FROM messages
		WHERE room_id = ?
		ORDER BY created_at ASC
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []engine.Message
	for rows.Next() {
		var msg engine.Message
		var kind string
		var createdAt time.Time
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderName, &msg.Body, &kind, &createdAt); err != nil {
			return nil, err
		}
		msg.Kind = engine.Kind(kind)
		msg.CreatedAt = createdAt
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Enqueue appends a payload to the outbox. Implements part of engine.Outbox.
func (s *Store) Enqueue(ctx context.Context, roomID string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO outbox(room_id, payload) VALUES(?, ?)`, roomID, payload)
	return err
}

// Pending returns queued sends in enqueue order.
func (s *Store) Pending(ctx context.Context) ([]engine.OutboxItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, room_id, payload FROM outbox ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []engine.OutboxItem
	for rows.Next() {
		var item engine.OutboxItem
		if err := rows.Scan(&item.Seq, &item.RoomID, &item.Payload); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Delete removes a flushed outbox entry.
func (s *Store) Delete(ctx context.Context, seq int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE seq = ?`, seq)
	return err
}
