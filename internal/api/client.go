// Package api is the REST client for the chat backend: login, room listing,
// history fetch, room creation and file uploads.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stompchat/internal/engine"
)

var httpTimeout = 10 * time.Second

// ErrUnauthorized is returned when the backend rejects the credentials or
// token. Callers treat it as "log in again", not "retry".
var ErrUnauthorized = errors.New("unauthorized")

// Client talks to the chat backend over HTTP. Token returns the current
// access token; it is read per request so a re-login takes effect without
// rebuilding the client.
type Client struct {
	baseURL string
	http    *http.Client
	token   func() string
}

func NewClient(baseURL string, token func() string) *Client {
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: httpTimeout},
		token:   token,
	}
}

// LoginResult carries the session established by Login.
type LoginResult struct {
	Token    string `json:"accessToken"`
	Nickname string `json:"nickname"`
	LoginID  string `json:"loginId"`
}

// Login authenticates and returns the access token plus profile fields.
func (c *Client) Login(ctx context.Context, loginID, password string) (*LoginResult, error) {
	payload := map[string]string{"loginId": loginID, "password": password}
	var resp LoginResult
	if err := c.doJSON(ctx, http.MethodPost, "/user/login", nil, payload, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, errors.New("login response missing access token")
	}
	return &resp, nil
}

// Rooms lists the chat rooms the user belongs to.
func (c *Client) Rooms(ctx context.Context, loginID string) ([]engine.RoomSummary, error) {
	query := url.Values{"loginId": {loginID}}
	var rooms []engine.RoomSummary
	if err := c.doJSON(ctx, http.MethodGet, "/chat/find/list", query, nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// Messages fetches the persisted history of one room. The backend serves
// newest-first; the slice is returned as served and reordered downstream.
// Implements engine.HistoryFetcher.
func (c *Client) Messages(ctx context.Context, roomID string) ([]engine.Message, error) {
	query := url.Values{"chatRoomId": {roomID}}
	var messages []engine.Message
	if err := c.doJSON(ctx, http.MethodGet, "/chat/find/message", query, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// CreateRoom creates a room with the given name and participants and returns
// its summary.
func (c *Client) CreateRoom(ctx context.Context, name string, participants []string) (*engine.RoomSummary, error) {
	payload := map[string]any{"roomName": name, "participants": participants}
	var room engine.RoomSummary
	if err := c.doJSON(ctx, http.MethodPost, "/chat/create", nil, payload, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, readResponseError(resp.Body))
	}
	if out != nil {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return err
			}
		}
	}
	return nil
}

func readResponseError(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return "request failed"
	}
	var parsed map[string]string
	if err := json.Unmarshal(data, &parsed); err == nil {
		if msg, ok := parsed["error"]; ok {
			return msg
		}
		if msg, ok := parsed["message"]; ok {
			return msg
		}
	}
	return strings.TrimSpace(string(data))
}

// HTTPBaseFromWSURL derives the REST base URL from a ws:// or wss:// endpoint
// so configs only need to name the server once.
func HTTPBaseFromWSURL(wsURL string) (string, error) {
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %s", parsed.Scheme)
	}
	parsed.Path = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}
