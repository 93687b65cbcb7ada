// Package presence tracks which users are online and in which room.
package presence

import (
	"context"
	"iter"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/fakeyudi/roomchat/internal/chat"
)

const fetchTimeout = 10 * time.Second

// Source answers the full online-user query.
type Source interface {
	OnlineUsers(ctx context.Context) ([]chat.PresenceEntry, error)
}

// Poster schedules work on the event loop.
type Poster interface {
	Post(fn func()) bool
}

// Tracker holds the global presence set. The set is only ever replaced
// wholesale by a completed Refresh; readers never see a partial update.
type Tracker struct {
	src  Source
	loop Poster
	log  zerolog.Logger

	entries atomic.Pointer[[]chat.PresenceEntry]

	// Loop-owned.
	issued   uint64
	applied  uint64
	lastErr  error
	onChange func()
}

// New returns an empty Tracker.
func New(src Source, loop Poster, log zerolog.Logger) *Tracker {
	t := &Tracker{src: src, loop: loop, log: log, onChange: func() {}}
	empty := []chat.PresenceEntry{}
	t.entries.Store(&empty)
	return t
}

// OnChange sets the callback run on the loop after the set or the last error changes.
func (t *Tracker) OnChange(fn func()) {
	t.onChange = fn
}

// Refresh starts a full query. It must be called on the event loop and is
// safe to call repeatedly: a response is applied only if no newer one has
// been applied already.
func (t *Tracker) Refresh() {
	t.issued++
	seq := t.issued
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		entries, err := t.src.OnlineUsers(ctx)
		t.loop.Post(func() { t.apply(seq, entries, err) })
	}()
}

func (t *Tracker) apply(seq uint64, entries []chat.PresenceEntry, err error) {
	if err != nil {
		t.log.Warn().Err(err).Uint64("seq", seq).Msg("presence refresh failed, keeping previous list")
		t.lastErr = err
		t.onChange()
		return
	}
	if seq <= t.applied {
		t.log.Debug().Uint64("seq", seq).Uint64("applied", t.applied).Msg("discarding stale presence response")
		return
	}
	t.applied = seq
	t.lastErr = nil
	next := slices.Clone(entries)
	t.entries.Store(&next)
	t.log.Debug().Int("online", len(next)).Msg("presence updated")
	t.onChange()
}

// View yields the entries for room from the latest completed refresh.
// Each range over the sequence reads the current set afresh.
func (t *Tracker) View(room chat.Room) iter.Seq[chat.PresenceEntry] {
	return func(yield func(chat.PresenceEntry) bool) {
		for _, e := range *t.entries.Load() {
			if e.Room != room {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

// Err is the failure of the most recent refresh, or nil. Loop only.
func (t *Tracker) Err() error {
	return t.lastErr
}
