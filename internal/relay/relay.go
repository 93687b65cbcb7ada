// Package relay is an in-memory development server speaking the client's
// wire contract: a websocket event channel plus the presence and history
// HTTP endpoints. It keeps everything in memory and forgets it on exit.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fakeyudi/roomchat/internal/chat"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	// DefaultBacklog is how many messages each room keeps.
	DefaultBacklog = 200
)

// peer is one websocket client. Its fields other than ws and writeMu are
// guarded by Server.mu.
type peer struct {
	id       string
	ws       *websocket.Conn
	writeMu  sync.Mutex
	username string
	room     chat.Room
	loggedIn bool
}

// Server holds presence and per-room history.
type Server struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader
	backlog  int

	mu      sync.RWMutex
	peers   map[*peer]struct{}
	history map[chat.Room][]chat.Message
}

// New returns an empty relay keeping backlog messages per room (0 means DefaultBacklog).
func New(backlog int, log zerolog.Logger) *Server {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Server{
		log:     log,
		backlog: backlog,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		peers:   make(map[*peer]struct{}),
		history: make(map[chat.Room][]chat.Message),
	}
}

// Handler routes /ws, /online-users and /rooms/{roomId}.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", s.handleWS)
	r.Get("/online-users", s.handleOnlineUsers)
	r.Get("/rooms/{roomId}", s.handleRoomHistory)
	return r
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", addr).Msg("relay listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	resp := chat.OnlineUsersResponse{OnlineUsers: []chat.PresenceEntry{}}
	for p := range s.peers {
		if p.loggedIn {
			resp.OnlineUsers = append(resp.OnlineUsers, chat.PresenceEntry{ConnectionID: p.id, Username: p.username, Room: p.room})
		}
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRoomHistory(w http.ResponseWriter, r *http.Request) {
	room, err := chat.ParseRoom(chi.URLParam(r, "roomId"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.mu.RLock()
	msgs := append([]chat.Message{}, s.history[room]...)
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	p := &peer{id: uuid.NewString(), ws: ws}

	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()
	s.log.Debug().Str("peer", p.id).Msg("peer connected")

	defer func() {
		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()
		ws.Close()
		s.log.Info().Str("peer", p.id).Str("username", p.username).Msg("peer left")
	}()

	ws.SetReadLimit(maxMessageSize)
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var env chat.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.log.Warn().Err(err).Str("peer", p.id).Msg("bad frame")
			continue
		}
		switch env.Event {
		case chat.EventSetUsername:
			s.login(p, env.Data)
		case chat.EventSendMessage:
			s.relayMessage(p, env.Data)
		default:
			s.log.Debug().Str("event", env.Event).Msg("unhandled event")
		}
	}
}

func (s *Server) login(p *peer, data json.RawMessage) {
	var req chat.LoginRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Username == "" || !req.Room.Valid() {
		s.log.Warn().Str("peer", p.id).Msg("rejecting malformed login")
		return
	}

	s.mu.Lock()
	p.username = req.Username
	p.room = req.Room
	p.loggedIn = true
	others := s.loggedInExcept(p)
	s.mu.Unlock()

	s.log.Info().Str("peer", p.id).Str("username", req.Username).Str("room", string(req.Room)).Msg("login")
	s.send(p, chat.EventLoggedIn, struct{}{})
	for _, o := range others {
		s.send(o, chat.EventNewConnection, struct{}{})
	}
}

// relayMessage stores the message and broadcasts it to everyone in the room,
// the sender included.
func (s *Server) relayMessage(p *peer, data json.RawMessage) {
	var req chat.SendRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.log.Warn().Err(err).Str("peer", p.id).Msg("bad sendmessage")
		return
	}
	m := req.Message
	if req.Room.Valid() {
		m.Room = req.Room
	}
	if err := m.Validate(); err != nil || m.Room == "" {
		s.log.Warn().Str("peer", p.id).Msg("dropping invalid message")
		return
	}

	s.mu.Lock()
	if !p.loggedIn {
		s.mu.Unlock()
		return
	}
	log := append(s.history[m.Room], m)
	if len(log) > s.backlog {
		log = log[len(log)-s.backlog:]
	}
	s.history[m.Room] = log
	var targets []*peer
	for o := range s.peers {
		if o.loggedIn && o.room == m.Room {
			targets = append(targets, o)
		}
	}
	s.mu.Unlock()

	for _, o := range targets {
		s.send(o, chat.EventMessage, m)
	}
}

// loggedInExcept must be called with s.mu held.
func (s *Server) loggedInExcept(p *peer) []*peer {
	var out []*peer
	for o := range s.peers {
		if o != p && o.loggedIn {
			out = append(out, o)
		}
	}
	return out
}

func (s *Server) send(p *peer, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", event).Msg("encoding payload")
		return
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := p.ws.WriteJSON(chat.Envelope{Event: event, Data: data}); err != nil {
		s.log.Debug().Err(err).Str("peer", p.id).Msg("write failed")
	}
}

func (s *Server) closeAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for p := range s.peers {
		p.writeMu.Lock()
		p.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"),
			time.Now().Add(writeWait))
		p.writeMu.Unlock()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}
