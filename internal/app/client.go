package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	intrnl "stompchat/internal"
	"stompchat/internal/api"
	"stompchat/internal/engine"
	"stompchat/internal/storage"
	"stompchat/internal/stompws"
)

// tokenHolder hands the access token obtained at login to the components
// built before login happened.
type tokenHolder struct {
	mu    sync.RWMutex
	token string
}

func (h *tokenHolder) set(token string) {
	h.mu.Lock()
	h.token = token
	h.mu.Unlock()
}

func (h *tokenHolder) get() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token
}

// RunClient wires the REST client, transport, local store and sync engine
// together and launches the Bubble Tea TUI.
func RunClient(cfg ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}

	httpBase := cfg.HTTPBase
	if httpBase == "" {
		derived, err := api.HTTPBaseFromWSURL(cfg.ServerURL)
		if err != nil {
			return fmt.Errorf("derive http base: %w", err)
		}
		httpBase = derived
	}

	logger, closeLog, err := openLogger(cfg.LogPath)
	if err != nil {
		return err
	}
	defer closeLog()

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = DefaultDBPath()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := storage.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("migrate local store: %w", err)
	}

	holder := &tokenHolder{}
	backend := &cachedBackend{
		Client: api.NewClient(httpBase, holder.get),
		store:  store,
		logger: logger,
	}
	dialer := &stompws.Dialer{URL: cfg.ServerURL}

	factory := func(nickname string) (*engine.Engine, error) {
		return engine.New(engine.Config{
			Transport: dialer,
			History:   backend,
			Token:     holder.get,
			Nickname:  nickname,
			Outbox:    store,
			Cache:     store,
			Logger:    logger,
			OnDown: func(err error) {
				logger.Error("connection down", "error", err)
			},
		})
	}

	return intrnl.RunClient(backend, factory, holder.set, cfg.LoginID)
}

// cachedBackend layers the sqlite cache over the REST client: successful
// fetches refresh the cache, failed ones fall back to it so a warm start
// still renders while the backend is unreachable.
type cachedBackend struct {
	*api.Client
	store  *storage.Store
	logger *slog.Logger
}

func (b *cachedBackend) Rooms(ctx context.Context, loginID string) ([]engine.RoomSummary, error) {
	rooms, err := b.Client.Rooms(ctx, loginID)
	if err != nil {
		cached, cacheErr := b.store.ListRooms(ctx)
		if cacheErr == nil && len(cached) > 0 {
			b.logger.Warn("room list fetch failed, serving cache", "error", err)
			return cached, nil
		}
		return nil, err
	}

	fresh := make(map[string]bool, len(rooms))
	for _, room := range rooms {
		fresh[room.ID] = true
		if err := b.store.SaveRoom(ctx, room); err != nil {
			b.logger.Warn("room cache write failed", "room", room.ID, "error", err)
		}
	}
	if cached, err := b.store.ListRooms(ctx); err == nil {
		for _, room := range cached {
			if !fresh[room.ID] {
				if err := b.store.DeleteRoom(ctx, room.ID); err != nil {
					b.logger.Warn("room cache prune failed", "room", room.ID, "error", err)
				}
			}
		}
	}
	return rooms, nil
}

func (b *cachedBackend) Messages(ctx context.Context, roomID string) ([]engine.Message, error) {
	messages, err := b.Client.Messages(ctx, roomID)
	if err != nil {
		cached, cacheErr := b.store.RoomMessages(ctx, roomID)
		if cacheErr == nil && len(cached) > 0 {
			b.logger.Warn("history fetch failed, serving cache", "room", roomID, "error", err)
			return cached, nil
		}
		return nil, err
	}
	if err := b.store.ReplaceMessages(ctx, roomID, messages); err != nil {
		b.logger.Warn("history cache write failed", "room", roomID, "error", err)
	}
	return messages, nil
}

// openLogger writes structured logs to a file so they do not fight the TUI
// for the terminal.
func openLogger(path string) (*slog.Logger, func(), error) {
	if path == "" {
		path = DefaultLogPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo}))
	return logger, func() { _ = f.Close() }, nil
}
