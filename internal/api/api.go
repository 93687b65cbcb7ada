// Package api is the HTTP side of the relay contract: the online-user list
// and per-room history.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fakeyudi/roomchat/internal/chat"
)

const defaultTimeout = 10 * time.Second

// FetchError is returned when a request fails or the server answers with a
// non-success status. Status is zero when no response was received.
type FetchError struct {
	Op     string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: server returned %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Client fetches presence and history from the relay's HTTP endpoints.
type Client struct {
	base string
	http *http.Client
	log  zerolog.Logger
}

// New returns a Client rooted at baseURL (e.g. "http://localhost:3030").
// A nil hc gets a client with a ten second timeout.
func New(baseURL string, hc *http.Client, log zerolog.Logger) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc, log: log}
}

// OnlineUsers returns every connected user across all rooms.
// Entries with an unknown room are dropped.
func (c *Client) OnlineUsers(ctx context.Context) ([]chat.PresenceEntry, error) {
	const op = "GET /online-users"
	var body chat.OnlineUsersResponse
	if err := c.get(ctx, op, "/online-users", &body); err != nil {
		return nil, err
	}

	entries := make([]chat.PresenceEntry, 0, len(body.OnlineUsers))
	for _, e := range body.OnlineUsers {
		if !e.Room.Valid() || e.Username == "" {
			c.log.Warn().Str("username", e.Username).Str("room", string(e.Room)).Msg("skipping malformed presence entry")
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// RoomHistory returns the persisted messages of room, oldest first.
// Messages failing validation are dropped; the rest keep their order.
func (c *Client) RoomHistory(ctx context.Context, room chat.Room) ([]chat.Message, error) {
	op := "GET /rooms/" + string(room)
	var body []chat.Message
	if err := c.get(ctx, op, "/rooms/"+url.PathEscape(string(room)), &body); err != nil {
		return nil, err
	}

	msgs := make([]chat.Message, 0, len(body))
	for _, m := range body {
		if err := m.Validate(); err != nil {
			c.log.Warn().Err(&chat.ProtocolError{Event: "history", Err: err}).Msg("skipping malformed message")
			continue
		}
		if m.Room == "" {
			m.Room = room
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (c *Client) get(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return &FetchError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &FetchError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &FetchError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(snippet)))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &FetchError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decoding body: %w", err)}
	}
	return nil
}
