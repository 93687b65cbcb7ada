// Package client is the single object the presentation layer talks to. It
// assembles the connection, presence tracker, history store and session
// controller around one event loop and exposes the user actions plus
// immutable snapshots of the resulting state.
package client

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/fakeyudi/roomchat/internal/api"
	"github.com/fakeyudi/roomchat/internal/chat"
	"github.com/fakeyudi/roomchat/internal/connection"
	"github.com/fakeyudi/roomchat/internal/eventloop"
	"github.com/fakeyudi/roomchat/internal/history"
	"github.com/fakeyudi/roomchat/internal/logging"
	"github.com/fakeyudi/roomchat/internal/presence"
	"github.com/fakeyudi/roomchat/internal/session"
)

// Options configure a Client.
type Options struct {
	ServerURL    string // websocket endpoint, e.g. ws://localhost:3030/ws
	APIURL       string // HTTP base, e.g. http://localhost:3030
	Room         chat.Room
	LoginTimeout time.Duration
	HTTPClient   *http.Client
	Logger       zerolog.Logger
}

// Snapshot is everything the presentation layer renders. Its slices are
// never modified after the snapshot is taken.
type Snapshot struct {
	Connection  connection.State
	Login       session.LoginState
	Username    string
	Room        chat.Room
	Messages    []chat.Message
	Online      []chat.PresenceEntry
	Loading     bool
	HistoryErr  error
	PresenceErr error
}

// Client is the chat client facade.
type Client struct {
	log      zerolog.Logger
	loop     *eventloop.Loop
	conn     *connection.Conn
	presence *presence.Tracker
	history  *history.Store
	session  *session.Controller

	updates chan struct{}
	stop    context.CancelFunc
}

// New wires up a Client. Nothing touches the network until Start.
func New(opts Options) *Client {
	if !opts.Room.Valid() {
		opts.Room = chat.RoomBlue
	}
	log := opts.Logger
	loop := eventloop.New(logging.Component(log, "loop"))
	conn := connection.New(opts.ServerURL, loop, logging.Component(log, "connection"))
	src := api.New(opts.APIURL, opts.HTTPClient, logging.Component(log, "api"))

	c := &Client{
		log:      logging.Component(log, "client"),
		loop:     loop,
		conn:     conn,
		presence: presence.New(src, loop, logging.Component(log, "presence")),
		history:  history.New(src, loop, logging.Component(log, "history")),
		updates:  make(chan struct{}, 1),
	}
	c.session = session.New(conn, c.presence, c.history, loop, opts.Room,
		logging.Component(log, "session"), session.Options{LoginTimeout: opts.LoginTimeout})

	c.presence.OnChange(c.changed)
	c.history.OnChange(c.changed)
	c.session.OnChange(c.changed)
	c.session.Start()
	return c
}

// Start runs the event loop and connects. When the dial fails the loop keeps
// running, so snapshots still work and report Disconnected.
func (c *Client) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	c.stop = cancel
	go c.loop.Run(runCtx)
	return c.conn.Connect(ctx)
}

// Close disconnects and stops the event loop.
func (c *Client) Close() error {
	err := c.conn.Close()
	if c.stop != nil {
		// Let the Disconnected transition run before the loop goes away.
		_ = c.loop.Call(func() {})
		c.stop()
	}
	c.loop.Stop()
	return err
}

// Updates delivers a signal after state changes. Signals are coalesced: one
// pending signal may stand for many changes.
func (c *Client) Updates() <-chan struct{} {
	return c.updates
}

// SubmitUsername starts logging in as name into room.
func (c *Client) SubmitUsername(name string, room chat.Room) error {
	return c.do(func() error { return c.session.SubmitUsername(name, room) })
}

// SendMessage sends text to the current room. When not logged in it does
// nothing and returns session.ErrNotLoggedIn.
func (c *Client) SendMessage(text string) (chat.Message, error) {
	var m chat.Message
	err := c.do(func() error {
		var err error
		m, err = c.session.Send(text)
		return err
	})
	if errors.Is(err, session.ErrNotLoggedIn) {
		c.log.Warn().Msg("message not sent: not logged in")
	}
	return m, err
}

// SwitchRoom selects room.
func (c *Client) SwitchRoom(room chat.Room) error {
	return c.do(func() error { return c.session.SwitchRoom(room) })
}

// Snapshot returns a consistent view of the session, history and presence.
func (c *Client) Snapshot() Snapshot {
	var s Snapshot
	err := c.loop.Call(func() {
		room := c.session.Room()
		h := c.history.Snapshot()
		s = Snapshot{
			Login:       c.session.State(),
			Username:    c.session.Username(),
			Room:        room,
			Online:      slices.Collect(c.presence.View(room)),
			PresenceErr: c.presence.Err(),
		}
		if h.Room == room {
			s.Messages = h.Messages
			s.Loading = h.Loading
			s.HistoryErr = c.history.Err()
		}
	})
	if err != nil {
		c.log.Debug().Err(err).Msg("snapshot after shutdown")
	}
	s.Connection = c.conn.State()
	return s
}

func (c *Client) do(fn func() error) error {
	var err error
	if callErr := c.loop.Call(func() { err = fn() }); callErr != nil {
		return callErr
	}
	return err
}

func (c *Client) changed() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}
