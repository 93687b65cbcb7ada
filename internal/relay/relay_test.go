package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fakeyudi/roomchat/internal/chat"
)

func newTestRelay(t *testing.T, backlog int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(backlog, zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

type testPeer struct {
	t  *testing.T
	ws *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server) *testPeer {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return &testPeer{t: t, ws: ws}
}

func (p *testPeer) emit(event string, payload any) {
	p.t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(p.t, err)
	require.NoError(p.t, p.ws.WriteJSON(chat.Envelope{Event: event, Data: data}))
}

func (p *testPeer) next() chat.Envelope {
	p.t.Helper()
	require.NoError(p.t, p.ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env chat.Envelope
	require.NoError(p.t, p.ws.ReadJSON(&env))
	return env
}

// silent reports whether nothing arrives within d.
func (p *testPeer) silent(d time.Duration) bool {
	p.ws.SetReadDeadline(time.Now().Add(d))
	_, _, err := p.ws.ReadMessage()
	return err != nil
}

func (p *testPeer) login(name string, room chat.Room) {
	p.t.Helper()
	p.emit(chat.EventSetUsername, chat.LoginRequest{Username: name, Room: room})
	require.Equal(p.t, chat.EventLoggedIn, p.next().Event)
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestLoginAnnouncesToOthers(t *testing.T) {
	srv := newTestRelay(t, 0)
	alice := dial(t, srv)
	alice.login("alice", chat.RoomBlue)

	bob := dial(t, srv)
	bob.login("bob", chat.RoomRed)
	require.Equal(t, chat.EventNewConnection, alice.next().Event)

	var online chat.OnlineUsersResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/online-users", &online))
	require.Len(t, online.OnlineUsers, 2)
	byName := map[string]chat.Room{}
	for _, e := range online.OnlineUsers {
		require.NotEmpty(t, e.ConnectionID)
		byName[e.Username] = e.Room
	}
	require.Equal(t, map[string]chat.Room{"alice": chat.RoomBlue, "bob": chat.RoomRed}, byName)
}

func TestMessageBroadcastStaysInRoom(t *testing.T) {
	srv := newTestRelay(t, 0)
	alice := dial(t, srv)
	alice.login("alice", chat.RoomBlue)
	bob := dial(t, srv)
	bob.login("bob", chat.RoomBlue)
	require.Equal(t, chat.EventNewConnection, alice.next().Event)
	carol := dial(t, srv)
	carol.login("carol", chat.RoomRed)
	require.Equal(t, chat.EventNewConnection, alice.next().Event)
	require.Equal(t, chat.EventNewConnection, bob.next().Event)

	msg := chat.Message{ID: "m1", Sender: "alice", Text: "hi", Timestamp: 1000}
	alice.emit(chat.EventSendMessage, chat.SendRequest{Message: msg, Room: chat.RoomBlue})

	want := msg
	want.Room = chat.RoomBlue
	for _, p := range []*testPeer{alice, bob} {
		env := p.next()
		require.Equal(t, chat.EventMessage, env.Event)
		var got chat.Message
		require.NoError(t, json.Unmarshal(env.Data, &got))
		require.Equal(t, want, got)
	}
	require.True(t, carol.silent(200*time.Millisecond))

	var blue []chat.Message
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/rooms/blue", &blue))
	require.Equal(t, []chat.Message{want}, blue)

	var red []chat.Message
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/rooms/red", &red))
	require.Empty(t, red)
}

func TestUnknownRoomIsNotFound(t *testing.T) {
	srv := newTestRelay(t, 0)
	var v []chat.Message
	require.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/rooms/green", &v))
}

func TestBacklogIsBounded(t *testing.T) {
	srv := newTestRelay(t, 2)
	alice := dial(t, srv)
	alice.login("alice", chat.RoomRed)

	for _, id := range []string{"a", "b", "c"} {
		alice.emit(chat.EventSendMessage, chat.SendRequest{
			Message: chat.Message{ID: id, Sender: "alice", Text: id},
			Room:    chat.RoomRed,
		})
		require.Equal(t, chat.EventMessage, alice.next().Event)
	}

	var red []chat.Message
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/rooms/red", &red))
	require.Len(t, red, 2)
	require.Equal(t, "b", red[0].ID)
	require.Equal(t, "c", red[1].ID)
}

func TestMessagesBeforeLoginAreIgnored(t *testing.T) {
	srv := newTestRelay(t, 0)
	p := dial(t, srv)
	p.emit(chat.EventSendMessage, chat.SendRequest{
		Message: chat.Message{ID: "x", Sender: "ghost"},
		Room:    chat.RoomBlue,
	})
	require.True(t, p.silent(200*time.Millisecond))

	var blue []chat.Message
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/rooms/blue", &blue))
	require.Empty(t, blue)
}

func TestDisconnectLeavesPresence(t *testing.T) {
	srv := newTestRelay(t, 0)
	p := dial(t, srv)
	p.login("alice", chat.RoomBlue)
	p.ws.Close()

	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/online-users")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var online chat.OnlineUsersResponse
		return json.NewDecoder(resp.Body).Decode(&online) == nil && len(online.OnlineUsers) == 0
	}, 5*time.Second, 20*time.Millisecond)
}
