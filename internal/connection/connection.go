// Package connection owns the single websocket event channel between the
// client and the relay server.
//
// Frames are JSON envelopes {"event": name, "data": payload}. Inbound frames
// are dispatched to registered handlers on the event loop, so handlers never
// run concurrently with each other or with any other client state change.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fakeyudi/roomchat/internal/chat"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// State is the connectivity of the event channel.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

var (
	// ErrDisconnected is returned by Emit while the channel is down. Nothing is sent.
	ErrDisconnected = errors.New("not connected")
	// ErrSendQueueFull is returned by Emit when the writer is too far behind.
	ErrSendQueueFull = errors.New("send queue full")
	// ErrAlreadyConnected is returned by Connect on a live channel.
	ErrAlreadyConnected = errors.New("already connected")
)

// Handler receives the raw data of one inbound event.
type Handler func(data json.RawMessage)

// Subscription identifies one registration made with On.
type Subscription struct {
	Event string
	ID    uint64
}

// Poster schedules work on the event loop.
type Poster interface {
	Post(fn func()) bool
}

type registration struct {
	id uint64
	fn Handler
}

// Conn is one bidirectional event channel. It is created once per process
// and shared by reference; only its owner calls Connect and Close.
type Conn struct {
	url    string
	loop   Poster
	log    zerolog.Logger
	dialer *websocket.Dialer

	mu       sync.Mutex
	state    State
	ws       *websocket.Conn
	send     chan []byte
	closing  chan struct{}
	handlers map[string][]registration
	nextID   uint64
	watchers []func(State)
}

// New returns a disconnected Conn for the websocket endpoint at url.
func New(url string, loop Poster, log zerolog.Logger) *Conn {
	return &Conn{
		url:      url,
		loop:     loop,
		log:      log,
		dialer:   websocket.DefaultDialer,
		handlers: make(map[string][]registration),
	}
}

// Connect dials the server and starts the read and write pumps.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = Connecting
	c.mu.Unlock()
	c.notify(Connecting)

	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()
		c.notify(Disconnected)
		return fmt.Errorf("dialing %s: %w", c.url, err)
	}
	ws.SetReadLimit(maxMessageSize)

	send := make(chan []byte, sendBuffer)
	closing := make(chan struct{})

	c.mu.Lock()
	c.ws = ws
	c.send = send
	c.closing = closing
	c.state = Connected
	c.mu.Unlock()

	c.log.Info().Str("url", c.url).Msg("connected")
	c.notify(Connected)

	go c.writePump(ws, send, closing)
	go c.readPump(ws)
	return nil
}

// Close shuts the channel down. The state watchers see Disconnected.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.ws == nil {
		c.mu.Unlock()
		return nil
	}
	c.ws = nil
	close(c.closing)
	c.state = Disconnected
	c.mu.Unlock()

	c.log.Info().Msg("connection closed")
	c.notify(Disconnected)
	return nil
}

// State returns the current connectivity.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// On registers h for every inbound event named event. Registering twice
// means h runs twice per event.
func (c *Conn) On(event string, h Handler) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.handlers[event] = append(c.handlers[event], registration{id: c.nextID, fn: h})
	return Subscription{Event: event, ID: c.nextID}
}

// Off removes the registration identified by sub. Unknown subscriptions are ignored.
func (c *Conn) Off(sub Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	regs := c.handlers[sub.Event]
	for i, r := range regs {
		if r.id == sub.ID {
			c.handlers[sub.Event] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(c.handlers[sub.Event]) == 0 {
		delete(c.handlers, sub.Event)
	}
}

// OnStateChange registers fn to be called on the event loop after every
// connectivity transition.
func (c *Conn) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// Emit queues one event for sending. There is no delivery acknowledgment.
func (c *Conn) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", event, err)
	}
	frame, err := json.Marshal(chat.Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("encoding %s frame: %w", event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected {
		return ErrDisconnected
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *Conn) notify(s State) {
	c.loop.Post(func() {
		c.mu.Lock()
		watchers := append([]func(State)(nil), c.watchers...)
		c.mu.Unlock()
		for _, fn := range watchers {
			fn(s)
		}
	})
}

// dispatch runs on the event loop.
func (c *Conn) dispatch(env chat.Envelope) {
	c.mu.Lock()
	regs := append([]registration(nil), c.handlers[env.Event]...)
	c.mu.Unlock()

	if len(regs) == 0 {
		c.log.Debug().Str("event", env.Event).Msg("no handler for event")
		return
	}
	for _, r := range regs {
		r.fn(env.Data)
	}
}

func (c *Conn) readPump(ws *websocket.Conn) {
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			c.lost(ws, err)
			return
		}

		var env chat.Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			if err == nil {
				err = errors.New("missing event name")
			}
			c.log.Warn().Err(&chat.ProtocolError{Event: "frame", Err: err}).Msg("dropping inbound frame")
			continue
		}
		c.loop.Post(func() { c.dispatch(env) })
	}
}

func (c *Conn) writePump(ws *websocket.Conn, send <-chan []byte, closing <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case frame := <-send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Warn().Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Warn().Err(err).Msg("ping failed")
				return
			}

		case <-closing:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

// lost handles a read failure on ws. A Close that already ran wins.
func (c *Conn) lost(ws *websocket.Conn, err error) {
	c.mu.Lock()
	if c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	close(c.closing)
	c.state = Disconnected
	c.mu.Unlock()

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.log.Warn().Err(err).Msg("connection lost")
	} else {
		c.log.Info().Err(err).Msg("connection ended")
	}
	c.notify(Disconnected)
}
