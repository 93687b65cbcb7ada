// Package session implements the login state machine that drives the client.
//
// The Controller owns the session (username, room, login state) and the
// lifetime of the listeners for server pushes. It runs entirely on the event
// loop: its public methods and every handler it installs must only be
// invoked from there.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fakeyudi/roomchat/internal/chat"
	"github.com/fakeyudi/roomchat/internal/connection"
)

// LoginState is the position of the session in the login state machine.
type LoginState int

const (
	LoggedOut LoginState = iota
	Authenticating
	LoggedIn
)

func (s LoginState) String() string {
	switch s {
	case Authenticating:
		return "authenticating"
	case LoggedIn:
		return "logged in"
	default:
		return "logged out"
	}
}

var (
	// ErrInvalidState is returned for an action the current login state forbids.
	ErrInvalidState = errors.New("not allowed in the current login state")
	// ErrNotLoggedIn is returned by Send before the server confirmed the login.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrEmptyUsername is returned by SubmitUsername for a blank name.
	ErrEmptyUsername = errors.New("username is empty")
	// ErrEmptyMessage is returned by Send for a blank message.
	ErrEmptyMessage = errors.New("message is empty")
)

// Channel is the part of the connection the controller drives.
type Channel interface {
	On(event string, h connection.Handler) connection.Subscription
	Off(sub connection.Subscription)
	Emit(event string, payload any) error
	OnStateChange(fn func(connection.State))
}

// Presence is refreshed after login and whenever a peer joins.
type Presence interface {
	Refresh()
}

// History receives reloads and messages for the active room.
type History interface {
	Reload(room chat.Room)
	AppendLocal(m chat.Message)
	AppendRemote(m chat.Message) bool
}

// Poster schedules work on the event loop.
type Poster interface {
	Post(fn func()) bool
}

// Options tune a Controller. The zero value is usable.
type Options struct {
	// LoginTimeout returns an unanswered login to LoggedOut. Zero waits forever.
	LoginTimeout time.Duration
	// Now and NewID default to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

// Controller is the session state machine.
type Controller struct {
	ch       Channel
	presence Presence
	history  History
	loop     Poster
	log      zerolog.Logger
	opts     Options

	state    LoginState
	username string
	room     chat.Room
	attempt  uint64

	started bool
	live    []connection.Subscription

	onChange func()
}

// New returns a LoggedOut controller with room selected.
func New(ch Channel, presence Presence, history History, loop Poster, room chat.Room, log zerolog.Logger, opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Controller{
		ch:       ch,
		presence: presence,
		history:  history,
		loop:     loop,
		log:      log,
		opts:     opts,
		room:     room,
		onChange: func() {},
	}
}

// OnChange sets the callback run after every session change.
func (c *Controller) OnChange(fn func()) {
	c.onChange = fn
}

// Start installs the login-confirmation listener and the connectivity
// watcher. It may be called before the loop runs; later calls do nothing.
func (c *Controller) Start() {
	if c.started {
		return
	}
	c.started = true
	c.ch.On(chat.EventLoggedIn, c.handleLoggedIn)
	c.ch.OnStateChange(c.handleConnState)
}

// State returns the login state.
func (c *Controller) State() LoginState { return c.state }

// Username returns the name of the current or last login attempt.
func (c *Controller) Username() string { return c.username }

// Room returns the selected room.
func (c *Controller) Room() chat.Room { return c.room }

// ListenersInstalled reports how many push listeners are currently registered.
func (c *Controller) ListenersInstalled() int { return len(c.live) }

// SubmitUsername asks the server to log in as name into room. Only allowed
// while LoggedOut; it returns before the server answers.
func (c *Controller) SubmitUsername(name string, room chat.Room) error {
	if c.state != LoggedOut {
		return fmt.Errorf("%w: already %s", ErrInvalidState, c.state)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyUsername
	}
	if !room.Valid() {
		return fmt.Errorf("%w: %q", chat.ErrUnknownRoom, string(room))
	}

	if err := c.ch.Emit(chat.EventSetUsername, chat.LoginRequest{Username: name, Room: room}); err != nil {
		return fmt.Errorf("sending login: %w", err)
	}

	c.username = name
	c.room = room
	c.state = Authenticating
	c.attempt++
	c.log.Info().Str("username", name).Str("room", string(room)).Msg("login requested")

	if c.opts.LoginTimeout > 0 {
		attempt := c.attempt
		time.AfterFunc(c.opts.LoginTimeout, func() {
			c.loop.Post(func() { c.loginTimedOut(attempt) })
		})
	}
	c.onChange()
	return nil
}

// SwitchRoom selects room. While LoggedIn the room's history is reloaded; the
// login is never re-sent.
func (c *Controller) SwitchRoom(room chat.Room) error {
	if !room.Valid() {
		return fmt.Errorf("%w: %q", chat.ErrUnknownRoom, string(room))
	}
	c.room = room
	c.log.Info().Str("room", string(room)).Str("state", c.state.String()).Msg("room switched")
	if c.state == LoggedIn {
		c.history.Reload(room)
	}
	c.onChange()
	return nil
}

// Send emits text as a new message in the current room and shows it locally
// at once. The room is fixed when Send runs.
func (c *Controller) Send(text string) (chat.Message, error) {
	if c.state != LoggedIn {
		return chat.Message{}, ErrNotLoggedIn
	}
	if strings.TrimSpace(text) == "" {
		return chat.Message{}, ErrEmptyMessage
	}

	m := chat.Message{
		ID:        c.opts.NewID(),
		Sender:    c.username,
		Text:      text,
		Timestamp: c.opts.Now().UnixMilli(),
		Room:      c.room,
	}
	if err := c.ch.Emit(chat.EventSendMessage, chat.SendRequest{Message: m, Room: m.Room}); err != nil {
		return chat.Message{}, fmt.Errorf("sending message: %w", err)
	}
	c.history.AppendLocal(m)
	return m, nil
}

func (c *Controller) handleLoggedIn(json.RawMessage) {
	if c.state == LoggedOut {
		c.log.Warn().Msg("ignoring login confirmation with no login pending")
		return
	}
	c.attempt++
	c.state = LoggedIn
	c.installListeners()
	c.log.Info().Str("username", c.username).Str("room", string(c.room)).Msg("logged in")

	c.presence.Refresh()
	c.history.Reload(c.room)
	c.onChange()
}

// installListeners registers the push listeners, dropping any previous
// instance first so a repeated confirmation cannot double-deliver.
func (c *Controller) installListeners() {
	c.removeListeners()
	c.live = []connection.Subscription{
		c.ch.On(chat.EventNewConnection, c.handlePeerJoined),
		c.ch.On(chat.EventMessage, c.handleMessage),
	}
}

func (c *Controller) removeListeners() {
	for _, sub := range c.live {
		c.ch.Off(sub)
	}
	c.live = nil
}

func (c *Controller) handlePeerJoined(json.RawMessage) {
	if c.state != LoggedIn {
		return
	}
	c.presence.Refresh()
}

func (c *Controller) handleMessage(data json.RawMessage) {
	if c.state != LoggedIn {
		return
	}
	var m chat.Message
	if err := json.Unmarshal(data, &m); err != nil {
		c.log.Warn().Err(&chat.ProtocolError{Event: chat.EventMessage, Err: err}).Msg("dropping message")
		return
	}
	if err := m.Validate(); err != nil {
		c.log.Warn().Err(&chat.ProtocolError{Event: chat.EventMessage, Err: err}).Msg("dropping message")
		return
	}
	if m.Room == "" {
		m.Room = c.room
	}
	c.history.AppendRemote(m)
}

func (c *Controller) handleConnState(s connection.State) {
	if s == connection.Disconnected && c.state != LoggedOut {
		c.log.Warn().Str("was", c.state.String()).Msg("connection lost, logged out")
		c.state = LoggedOut
		c.attempt++
		c.removeListeners()
	}
	c.onChange()
}

func (c *Controller) loginTimedOut(attempt uint64) {
	if attempt != c.attempt || c.state != Authenticating {
		return
	}
	c.log.Warn().Str("username", c.username).Dur("after", c.opts.LoginTimeout).Msg("login not confirmed, giving up")
	c.state = LoggedOut
	c.onChange()
}
