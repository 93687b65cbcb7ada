package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fakeyudi/roomchat/internal/chat"
	"github.com/fakeyudi/roomchat/internal/connection"
	"github.com/fakeyudi/roomchat/internal/relay"
	"github.com/fakeyudi/roomchat/internal/session"
)

const waitFor = 5 * time.Second

func newRelay(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(relay.New(0, zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, srv *httptest.Server, room chat.Room) *Client {
	t.Helper()
	c := New(Options{
		ServerURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		APIURL:    srv.URL,
		Room:      room,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func eventually(t *testing.T, c *Client, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	var last Snapshot
	require.Eventually(t, func() bool {
		last = c.Snapshot()
		return cond(last)
	}, waitFor, 10*time.Millisecond)
	return last
}

func loggedIn(s Snapshot) bool {
	return s.Login == session.LoggedIn && !s.Loading
}

func countID(msgs []chat.Message, id string) int {
	n := 0
	for _, m := range msgs {
		if m.ID == id {
			n++
		}
	}
	return n
}

// stored waits until the relay has persisted id in room.
func stored(t *testing.T, srv *httptest.Server, room chat.Room, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		msgs, err := RoomHistory(context.Background(), srv.URL, nil, room, zerolog.Nop())
		return err == nil && countID(msgs, id) == 1
	}, waitFor, 20*time.Millisecond)
}

func usernames(entries []chat.PresenceEntry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.Username)
	}
	return out
}

func TestLoginLoadsHistoryAndPresence(t *testing.T) {
	srv := newRelay(t)

	bob := newClient(t, srv, chat.RoomBlue)
	require.NoError(t, bob.SubmitUsername("bob", chat.RoomBlue))
	eventually(t, bob, loggedIn)
	earlier, err := bob.SendMessage("earlier")
	require.NoError(t, err)
	stored(t, srv, chat.RoomBlue, earlier.ID)

	alice := newClient(t, srv, chat.RoomBlue)
	require.Equal(t, connection.Connected, alice.Snapshot().Connection)
	require.NoError(t, alice.SubmitUsername("alice", chat.RoomBlue))

	snap := eventually(t, alice, func(s Snapshot) bool {
		return loggedIn(s) && countID(s.Messages, earlier.ID) == 1 && len(s.Online) == 2
	})
	require.Equal(t, "alice", snap.Username)
	require.Equal(t, chat.RoomBlue, snap.Room)
	require.ElementsMatch(t, []string{"alice", "bob"}, usernames(snap.Online))
	require.NoError(t, snap.HistoryErr)
	require.NoError(t, snap.PresenceErr)

	// bob learns about alice through newConnection.
	eventually(t, bob, func(s Snapshot) bool { return len(s.Online) == 2 })
}

func TestTwoClientsSeeEachOthersMessagesOnce(t *testing.T) {
	srv := newRelay(t)
	alice := newClient(t, srv, chat.RoomBlue)
	bob := newClient(t, srv, chat.RoomBlue)
	require.NoError(t, alice.SubmitUsername("alice", chat.RoomBlue))
	require.NoError(t, bob.SubmitUsername("bob", chat.RoomBlue))
	eventually(t, alice, loggedIn)
	eventually(t, bob, loggedIn)

	hi, err := alice.SendMessage("hi bob")
	require.NoError(t, err)
	require.Equal(t, chat.RoomBlue, hi.Room)
	require.Equal(t, "alice", hi.Sender)

	eventually(t, bob, func(s Snapshot) bool { return countID(s.Messages, hi.ID) == 1 })
	// The relay echoes to the sender; the local copy must not double.
	require.Never(t, func() bool { return countID(alice.Snapshot().Messages, hi.ID) != 1 }, 300*time.Millisecond, 20*time.Millisecond)

	reply, err := bob.SendMessage("hi alice")
	require.NoError(t, err)
	snap := eventually(t, alice, func(s Snapshot) bool { return countID(s.Messages, reply.ID) == 1 })
	require.Equal(t, hi.ID, snap.Messages[len(snap.Messages)-2].ID)
}

func TestRoomsAreIsolated(t *testing.T) {
	srv := newRelay(t)
	alice := newClient(t, srv, chat.RoomBlue)
	carol := newClient(t, srv, chat.RoomRed)
	require.NoError(t, alice.SubmitUsername("alice", chat.RoomBlue))
	require.NoError(t, carol.SubmitUsername("carol", chat.RoomRed))
	eventually(t, alice, loggedIn)
	eventually(t, carol, loggedIn)

	blue, err := alice.SendMessage("blue only")
	require.NoError(t, err)
	red, err := carol.SendMessage("red only")
	require.NoError(t, err)

	snap := eventually(t, carol, func(s Snapshot) bool { return countID(s.Messages, red.ID) == 1 && len(s.Online) == 1 })
	require.Zero(t, countID(snap.Messages, blue.ID))
	require.Equal(t, []string{"carol"}, usernames(snap.Online))

	snap = eventually(t, alice, func(s Snapshot) bool { return countID(s.Messages, blue.ID) == 1 })
	require.Zero(t, countID(snap.Messages, red.ID))
}

func TestSwitchRoomReloadsHistory(t *testing.T) {
	srv := newRelay(t)
	carol := newClient(t, srv, chat.RoomRed)
	require.NoError(t, carol.SubmitUsername("carol", chat.RoomRed))
	eventually(t, carol, loggedIn)
	red, err := carol.SendMessage("in red")
	require.NoError(t, err)
	stored(t, srv, chat.RoomRed, red.ID)

	alice := newClient(t, srv, chat.RoomBlue)
	require.NoError(t, alice.SubmitUsername("alice", chat.RoomBlue))
	eventually(t, alice, loggedIn)

	require.NoError(t, alice.SwitchRoom(chat.RoomRed))
	snap := eventually(t, alice, func(s Snapshot) bool {
		return s.Room == chat.RoomRed && !s.Loading && countID(s.Messages, red.ID) == 1 && len(s.Online) == 1
	})
	require.Equal(t, session.LoggedIn, snap.Login)
	require.Equal(t, []string{"carol"}, usernames(snap.Online))

	require.ErrorIs(t, alice.SwitchRoom("green"), chat.ErrUnknownRoom)
}

func TestActionsRejectedOutOfState(t *testing.T) {
	srv := newRelay(t)
	c := newClient(t, srv, chat.RoomBlue)

	_, err := c.SendMessage("too early")
	require.ErrorIs(t, err, session.ErrNotLoggedIn)

	require.NoError(t, c.SubmitUsername("alice", chat.RoomBlue))
	require.ErrorIs(t, c.SubmitUsername("alice", chat.RoomBlue), session.ErrInvalidState)
	eventually(t, c, loggedIn)
	require.ErrorIs(t, c.SubmitUsername("mallory", chat.RoomRed), session.ErrInvalidState)
	require.Equal(t, "alice", c.Snapshot().Username)

	_, err = c.SendMessage("   ")
	require.ErrorIs(t, err, session.ErrEmptyMessage)
}

func TestUpdatesSignalChanges(t *testing.T) {
	srv := newRelay(t)
	c := newClient(t, srv, chat.RoomBlue)
	require.NoError(t, c.SubmitUsername("alice", chat.RoomBlue))

	select {
	case <-c.Updates():
	case <-time.After(waitFor):
		t.Fatal("no update after login request")
	}
}

func TestStartWithoutServerReportsDisconnected(t *testing.T) {
	c := New(Options{ServerURL: "ws://127.0.0.1:1/ws", APIURL: "http://127.0.0.1:1", Logger: zerolog.Nop()})
	t.Cleanup(func() { c.Close() })
	require.Error(t, c.Start(context.Background()))

	snap := c.Snapshot()
	require.Equal(t, connection.Disconnected, snap.Connection)
	require.Equal(t, session.LoggedOut, snap.Login)
	require.Equal(t, chat.RoomBlue, snap.Room)

	require.ErrorIs(t, c.SubmitUsername("alice", chat.RoomBlue), connection.ErrDisconnected)
	require.Equal(t, session.LoggedOut, c.Snapshot().Login)
}

func TestOneShotQueries(t *testing.T) {
	srv := newRelay(t)
	c := newClient(t, srv, chat.RoomRed)
	require.NoError(t, c.SubmitUsername("carol", chat.RoomRed))
	eventually(t, c, loggedIn)
	m, err := c.SendMessage("hello")
	require.NoError(t, err)
	eventually(t, c, func(s Snapshot) bool { return countID(s.Messages, m.ID) == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	online, err := Online(ctx, srv.URL, nil, chat.RoomRed, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, []string{"carol"}, usernames(online))

	online, err = Online(ctx, srv.URL, nil, chat.RoomBlue, zerolog.Nop())
	require.NoError(t, err)
	require.Empty(t, online)

	stored(t, srv, chat.RoomRed, m.ID)
}
