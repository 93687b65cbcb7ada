// Package chat holds the value types shared by every part of the client:
// rooms, messages and presence entries, plus their validation rules.
package chat

import (
	"errors"
	"fmt"
	"strings"
)

// Room identifies one partition of chat history and presence.
type Room string

const (
	RoomBlue Room = "blue"
	RoomRed  Room = "red"
)

// Rooms is the fixed set of rooms; there is no dynamic creation.
var Rooms = []Room{RoomBlue, RoomRed}

// ErrUnknownRoom is returned by ParseRoom for names outside Rooms.
var ErrUnknownRoom = errors.New("unknown room")

// ParseRoom maps a user supplied name onto a Room.
func ParseRoom(s string) (Room, error) {
	r := Room(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRoom, s)
	}
	return r, nil
}

// Valid reports whether r is one of Rooms.
func (r Room) Valid() bool {
	for _, known := range Rooms {
		if r == known {
			return true
		}
	}
	return false
}

func (r Room) String() string { return string(r) }

// Message is one chat line. Values are never modified after construction.
type Message struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // milliseconds since the Unix epoch
	Room      Room   `json:"room,omitempty"`
}

// Validate checks the fields every message on the wire must carry.
func (m Message) Validate() error {
	if m.ID == "" {
		return errors.New("message id is empty")
	}
	if m.Sender == "" {
		return errors.New("message sender is empty")
	}
	if m.Room != "" && !m.Room.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownRoom, string(m.Room))
	}
	return nil
}

// PresenceEntry is one connected user as reported by the server.
type PresenceEntry struct {
	ConnectionID string `json:"id"`
	Username     string `json:"username"`
	Room         Room   `json:"room"`
}

// ProtocolError reports an inbound payload that failed shape validation.
// Frames producing it are dropped; it is never fatal.
type ProtocolError struct {
	Event string
	Err   error
}

func (e *ProtocolError) Error() string {
	return "protocol violation in " + e.Event + " event: " + e.Err.Error()
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
