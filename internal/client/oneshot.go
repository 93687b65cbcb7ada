package client

import (
	"context"
	"net/http"
	"slices"

	"github.com/rs/zerolog"

	"github.com/fakeyudi/roomchat/internal/api"
	"github.com/fakeyudi/roomchat/internal/chat"
	"github.com/fakeyudi/roomchat/internal/eventloop"
	"github.com/fakeyudi/roomchat/internal/history"
	"github.com/fakeyudi/roomchat/internal/presence"
)

// Online runs a single presence refresh and returns the users in room.
func Online(ctx context.Context, apiURL string, hc *http.Client, room chat.Room, log zerolog.Logger) ([]chat.PresenceEntry, error) {
	loop, stop := runLoop(ctx, log)
	defer stop()

	tr := presence.New(api.New(apiURL, hc, log), loop, log)
	done := make(chan struct{}, 1)
	tr.OnChange(func() { signal(done) })

	if err := loop.Call(tr.Refresh); err != nil {
		return nil, err
	}
	if err := wait(ctx, done); err != nil {
		return nil, err
	}

	var entries []chat.PresenceEntry
	var err error
	if callErr := loop.Call(func() {
		err = tr.Err()
		entries = slices.Collect(tr.View(room))
	}); callErr != nil {
		return nil, callErr
	}
	return entries, err
}

// RoomHistory runs a single history reload and returns the messages of room.
func RoomHistory(ctx context.Context, apiURL string, hc *http.Client, room chat.Room, log zerolog.Logger) ([]chat.Message, error) {
	loop, stop := runLoop(ctx, log)
	defer stop()

	store := history.New(api.New(apiURL, hc, log), loop, log)
	done := make(chan struct{}, 1)
	store.OnChange(func() {
		if !store.Snapshot().Loading {
			signal(done)
		}
	})

	if err := loop.Call(func() { store.Reload(room) }); err != nil {
		return nil, err
	}
	if err := wait(ctx, done); err != nil {
		return nil, err
	}

	var msgs []chat.Message
	var err error
	if callErr := loop.Call(func() {
		err = store.Err()
		msgs = store.Snapshot().Messages
	}); callErr != nil {
		return nil, callErr
	}
	return msgs, err
}

func runLoop(ctx context.Context, log zerolog.Logger) (*eventloop.Loop, func()) {
	loop := eventloop.New(log)
	runCtx, cancel := context.WithCancel(ctx)
	go loop.Run(runCtx)
	return loop, func() {
		cancel()
		<-loop.Done()
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func wait(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
