package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/user/login" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"accessToken": "tok-123", "nickname": "alice", "loginId": "alice01"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil)
	result, err := c.Login(context.Background(), "alice01", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.Token != "tok-123" || result.Nickname != "alice" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestLoginRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil)
	if _, err := c.Login(context.Background(), "alice01", "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRoomsSendsTokenAndQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("missing bearer token, got %q", got)
		}
		if got := r.URL.Query().Get("loginId"); got != "alice01" {
			t.Errorf("missing loginId query, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"chatRoomId": "room-1", "roomName": "general", "userCount": 4}]`))
	}))
	defer server.Close()

	c := NewClient(server.URL, func() string { return "tok-123" })
	rooms, err := c.Rooms(context.Background(), "alice01")
	if err != nil {
		t.Fatalf("Rooms: %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != "room-1" || rooms[0].UserCount != 4 {
		t.Fatalf("unexpected rooms %+v", rooms)
	}
}

func TestMessagesReturnsAsServed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("chatRoomId"); got != "room-1" {
			t.Errorf("missing chatRoomId query, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id": "m2", "roomId": "room-1", "message": "newer", "type": "MESSAGE", "createAt": "2025-06-01T12:01:00Z"},
			{"id": "m1", "roomId": "room-1", "message": "older", "type": "MESSAGE", "createAt": "2025-06-01T12:00:00Z"}
		]`))
	}))
	defer server.Close()

	c := NewClient(server.URL, func() string { return "tok" })
	messages, err := c.Messages(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	// Newest-first as the backend serves it; ordering is a downstream concern.
	if len(messages) != 2 || messages[0].ID != "m2" || messages[1].ID != "m1" {
		t.Fatalf("unexpected messages %+v", messages)
	}
}

func TestCreateRoom(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/create" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"chatRoomId": "room-9", "roomName": "incident"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, func() string { return "tok" })
	room, err := c.CreateRoom(context.Background(), "incident", []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if room.ID != "room-9" || room.Name != "incident" {
		t.Fatalf("unexpected room %+v", room)
	}
}

func TestServerErrorIncludesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error": "room name taken"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil)
	_, err := c.CreateRoom(context.Background(), "dup", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "server returned 409: room name taken" {
		t.Fatalf("unexpected error message %q", got)
	}
}

func TestUploadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("attachment body"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chatRoom/room-1/upload" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		if header.Filename != "notes.txt" {
			t.Errorf("unexpected filename %q", header.Filename)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"fileUrl": "https://cdn.example/notes.txt"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, func() string { return "tok" })
	url, err := c.UploadFile(context.Background(), "room-1", path)
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if url != "https://cdn.example/notes.txt" {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestUploadDirectoryRefused(t *testing.T) {
	c := NewClient("http://unused", nil)
	if _, err := c.UploadFile(context.Background(), "room-1", t.TempDir()); err == nil {
		t.Fatal("expected directory upload refused")
	}
}

func TestHTTPBaseFromWSURL(t *testing.T) {
	cases := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "ws://chat.example:8080/ws", want: "http://chat.example:8080"},
		{in: "wss://chat.example/ws", want: "https://chat.example"},
		{in: "ftp://chat.example", wantErr: true},
	}
	for _, tc := range cases {
		got, err := HTTPBaseFromWSURL(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.in, got, tc.want)
		}
	}
}
