// Package history keeps the ordered message log of the active room.
//
// The log follows a replace-then-append discipline: Reload replaces the whole
// log with the server's copy once the fetch resolves, and anything that
// arrived in the meantime is appended afterwards in arrival order. Message
// ids are the de-duplication key, so a broadcast echo of a message this
// client already holds is ignored.
package history

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fakeyudi/roomchat/internal/chat"
)

const fetchTimeout = 10 * time.Second

// Source answers per-room history queries.
type Source interface {
	RoomHistory(ctx context.Context, room chat.Room) ([]chat.Message, error)
}

// Poster schedules work on the event loop.
type Poster interface {
	Post(fn func()) bool
}

// Snapshot is a read-only view of the log at one point in time.
type Snapshot struct {
	Room     chat.Room
	Messages []chat.Message
	Loading  bool
}

// Store is loop-owned: every method must run on the event loop.
type Store struct {
	src  Source
	loop Poster
	log  zerolog.Logger

	room     chat.Room
	messages []chat.Message
	ids      map[string]struct{}

	gen     uint64
	loading bool
	pending []chat.Message
	lastErr error

	onChange func()
}

// New returns an empty Store with no room selected.
func New(src Source, loop Poster, log zerolog.Logger) *Store {
	return &Store{
		src:      src,
		loop:     loop,
		log:      log,
		ids:      make(map[string]struct{}),
		onChange: func() {},
	}
}

// OnChange sets the callback run after every visible change.
func (s *Store) OnChange(fn func()) {
	s.onChange = fn
}

// Reload fetches room's history and replaces the log with it. Switching to
// another room empties the log at once; reloading the same room keeps the
// current log visible until the fetch resolves. A response belonging to a
// superseded Reload is discarded.
func (s *Store) Reload(room chat.Room) {
	s.gen++
	gen := s.gen

	if room != s.room {
		s.room = room
		s.messages = nil
		s.ids = make(map[string]struct{})
		s.pending = nil
	}
	s.loading = true
	s.onChange()

	s.log.Debug().Str("room", string(room)).Uint64("gen", gen).Msg("reloading history")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		msgs, err := s.src.RoomHistory(ctx, room)
		s.loop.Post(func() { s.resolve(gen, room, msgs, err) })
	}()
}

func (s *Store) resolve(gen uint64, room chat.Room, msgs []chat.Message, err error) {
	if gen != s.gen || room != s.room {
		s.log.Debug().Str("room", string(room)).Uint64("gen", gen).Msg("discarding superseded history response")
		return
	}

	queued := s.pending
	s.pending = nil
	s.loading = false

	if err != nil {
		s.log.Warn().Err(err).Str("room", string(room)).Msg("history fetch failed, keeping previous log")
		s.lastErr = err
	} else {
		s.lastErr = nil
		s.messages = make([]chat.Message, 0, len(msgs)+len(queued))
		s.ids = make(map[string]struct{}, len(msgs)+len(queued))
		for _, m := range msgs {
			s.appendUnique(m)
		}
		s.log.Debug().Str("room", string(room)).Int("fetched", len(msgs)).Int("queued", len(queued)).Msg("history replaced")
	}
	for _, m := range queued {
		s.appendUnique(m)
	}
	s.onChange()
}

// AppendLocal shows a message this client just sent, without waiting for the
// server. While a reload is in flight the message is also queued so the
// replace does not wipe it.
func (s *Store) AppendLocal(m chat.Message) {
	if m.Room != "" && m.Room != s.room {
		s.log.Debug().Str("id", m.ID).Str("room", string(m.Room)).Msg("local message for inactive room not shown")
		return
	}
	added := s.appendUnique(m)
	if s.loading {
		s.pending = append(s.pending, m)
	}
	if added {
		s.onChange()
	}
}

// AppendRemote adds a broadcast message unless its id is already present.
// While a reload is in flight it is queued instead. It reports whether the
// message was accepted.
func (s *Store) AppendRemote(m chat.Message) bool {
	if m.Room != "" && m.Room != s.room {
		s.log.Debug().Str("id", m.ID).Str("room", string(m.Room)).Msg("ignoring message for inactive room")
		return false
	}
	if s.loading {
		s.pending = append(s.pending, m)
		return true
	}
	if !s.appendUnique(m) {
		s.log.Debug().Str("id", m.ID).Msg("duplicate message ignored")
		return false
	}
	s.onChange()
	return true
}

// Snapshot returns the current log without copying. Later appends never
// write into the returned slice.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		Room:     s.room,
		Messages: s.messages[:len(s.messages):len(s.messages)],
		Loading:  s.loading,
	}
}

// Err is the failure of the most recent reload, or nil.
func (s *Store) Err() error {
	return s.lastErr
}

func (s *Store) appendUnique(m chat.Message) bool {
	if _, dup := s.ids[m.ID]; dup {
		return false
	}
	s.ids[m.ID] = struct{}{}
	s.messages = append(s.messages, m)
	return true
}
