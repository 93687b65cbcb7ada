package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fakeyudi/roomchat/internal/chat"
)

func serve(t *testing.T, routes map[string]string, status int) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", nil, zerolog.Nop())
}

func TestOnlineUsers(t *testing.T) {
	c := serve(t, map[string]string{
		"/online-users": `{"onlineUsers":[
			{"id":"c1","username":"alice","room":"blue"},
			{"id":"c2","username":"bob","room":"red"},
			{"id":"c3","username":"mallory","room":"green"}
		]}`,
	}, http.StatusOK)

	got, err := c.OnlineUsers(context.Background())
	require.NoError(t, err)
	require.Equal(t, []chat.PresenceEntry{
		{ConnectionID: "c1", Username: "alice", Room: chat.RoomBlue},
		{ConnectionID: "c2", Username: "bob", Room: chat.RoomRed},
	}, got)
}

func TestRoomHistoryKeepsOrderAndTagsRoom(t *testing.T) {
	c := serve(t, map[string]string{
		"/rooms/blue": `[
			{"id":"1","sender":"alice","text":"first","timestamp":1},
			{"id":"","sender":"ghost","text":"dropped","timestamp":2},
			{"id":"3","sender":"bob","text":"third","timestamp":3}
		]`,
	}, http.StatusOK)

	got, err := c.RoomHistory(context.Background(), chat.RoomBlue)
	require.NoError(t, err)
	require.Equal(t, []chat.Message{
		{ID: "1", Sender: "alice", Text: "first", Timestamp: 1, Room: chat.RoomBlue},
		{ID: "3", Sender: "bob", Text: "third", Timestamp: 3, Room: chat.RoomBlue},
	}, got)
}

func TestEmptyHistory(t *testing.T) {
	c := serve(t, map[string]string{"/rooms/blue": `[]`}, http.StatusOK)
	got, err := c.RoomHistory(context.Background(), chat.RoomBlue)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestNonSuccessStatusIsFetchError(t *testing.T) {
	c := serve(t, map[string]string{"/online-users": `overloaded`}, http.StatusServiceUnavailable)

	_, err := c.OnlineUsers(context.Background())
	var fe *FetchError
	require.True(t, errors.As(err, &fe), "expected *FetchError, got %T", err)
	require.Equal(t, http.StatusServiceUnavailable, fe.Status)
	require.Contains(t, err.Error(), "overloaded")
}

func TestMalformedBodyIsFetchError(t *testing.T) {
	c := serve(t, map[string]string{"/rooms/red": `{"not":"a list"}`}, http.StatusOK)

	_, err := c.RoomHistory(context.Background(), chat.RoomRed)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "GET /rooms/red", fe.Op)
}

func TestUnreachableServerIsFetchError(t *testing.T) {
	c := New("http://127.0.0.1:1", nil, zerolog.Nop())
	_, err := c.OnlineUsers(context.Background())
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Zero(t, fe.Status)
}
