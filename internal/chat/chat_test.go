package chat

import (
	"errors"
	"testing"

	"pgregory.net/rapid"
)

func TestParseRoom(t *testing.T) {
	cases := map[string]Room{
		"blue":  RoomBlue,
		" Red ": RoomRed,
		"BLUE":  RoomBlue,
	}
	for in, want := range cases {
		got, err := ParseRoom(in)
		if err != nil {
			t.Fatalf("ParseRoom(%q): unexpected error: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseRoom(%q): want %q, got %q", in, want, got)
		}
	}
}

func TestParseRoomRejectsUnknown(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.StringMatching(`[a-z]{0,12}`).Draw(t, "name")
		if name == "blue" || name == "red" {
			t.Skip("known room")
		}
		_, err := ParseRoom(name)
		if !errors.Is(err, ErrUnknownRoom) {
			t.Fatalf("ParseRoom(%q): expected ErrUnknownRoom, got %v", name, err)
		}
	})
}

func TestMessageValidate(t *testing.T) {
	ok := Message{ID: "abc", Sender: "alice", Text: "hi", Timestamp: 1000}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid message rejected: %v", err)
	}

	bad := []Message{
		{Sender: "alice"},
		{ID: "abc"},
		{ID: "abc", Sender: "alice", Room: "green"},
	}
	for _, m := range bad {
		if err := m.Validate(); err == nil {
			t.Errorf("expected %+v to be rejected", m)
		}
	}
}

func TestProtocolErrorUnwraps(t *testing.T) {
	inner := errors.New("boom")
	err := error(&ProtocolError{Event: "message", Err: inner})
	if !errors.Is(err, inner) {
		t.Errorf("expected ProtocolError to unwrap to the inner error")
	}
	var pe *ProtocolError
	if !errors.As(err, &pe) || pe.Event != "message" {
		t.Errorf("expected *ProtocolError with event %q, got %v", "message", err)
	}
}
