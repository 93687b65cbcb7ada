package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/roomchat/internal/chat"
	"github.com/fakeyudi/roomchat/internal/client"
	"github.com/fakeyudi/roomchat/internal/config"
	"github.com/fakeyudi/roomchat/internal/logging"
	"github.com/fakeyudi/roomchat/internal/session"
	"github.com/fakeyudi/roomchat/internal/tui"
)

var (
	chatUsername string
	chatRoom     string
	chatPlain    bool
)

// loginWait bounds how long the line client waits for the server to confirm
// a login when no login timeout is configured.
const loginWait = 15 * time.Second

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Join a room and chat",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		room := defaultRoom()
		if chatRoom != "" {
			r, err := chat.ParseRoom(chatRoom)
			if err != nil {
				return err
			}
			room = r
		}
		name := chatUsername
		timestamps := false
		if p := GetProfile(); p != nil {
			if name == "" {
				name = p.Name
			}
			timestamps = p.ShowTimestamps
		}

		c := GetConfig()
		lvl, _ := logging.ParseLevel(c.LogLevel)
		log, closer, err := logging.File(c.LogFile, zerolog.TraceLevel)
		if err != nil {
			return err
		}
		defer closer.Close()
		logging.SetLevel(lvl)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go watchLogLevel(ctx, log)

		cl := client.New(client.Options{
			ServerURL:    c.ServerURL,
			APIURL:       c.APIURL,
			Room:         room,
			LoginTimeout: c.LoginTimeout(),
			Logger:       log,
		})
		defer cl.Close()
		if err := cl.Start(ctx); err != nil {
			return fmt.Errorf("connecting to %s: %w", c.ServerURL, err)
		}

		if chatPlain {
			wait := c.LoginTimeout()
			if wait == 0 {
				wait = loginWait
			}
			return runPlain(ctx, cl, cmd.InOrStdin(), cmd.OutOrStdout(), plainOptions{
				Username:   name,
				Room:       room,
				Timestamps: timestamps,
				LoginWait:  wait,
			})
		}
		return tui.Run(cl, tui.Options{Username: name, Room: room, ShowTimestamps: timestamps})
	},
}

// watchLogLevel applies log_level edits to the global config while chatting.
func watchLogLevel(ctx context.Context, log zerolog.Logger) {
	path, err := config.GlobalPath()
	if err != nil {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	err = config.Watch(ctx, path, func(c *config.Config, err error) {
		if err != nil {
			log.Warn().Err(err).Msg("ignoring config change")
			return
		}
		lvl, err := logging.ParseLevel(c.LogLevel)
		if err != nil {
			log.Warn().Err(err).Msg("ignoring config change")
			return
		}
		logging.SetLevel(lvl)
		log.Info().Str("level", lvl.String()).Msg("log level changed")
	})
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("config watch stopped")
	}
}

// defaultRoom picks the profile's room, then the configured one.
func defaultRoom() chat.Room {
	if p := GetProfile(); p != nil && p.DefaultRoom.Valid() {
		return p.DefaultRoom
	}
	return GetConfig().Room()
}

// oneShotLogger logs warnings and worse to stderr for the query commands.
func oneShotLogger(cmd *cobra.Command) zerolog.Logger {
	lvl, _ := logging.ParseLevel(GetConfig().LogLevel)
	if lvl < zerolog.WarnLevel {
		lvl = zerolog.WarnLevel
	}
	return logging.Console(cmd.ErrOrStderr(), lvl)
}

// ── Line client ───────────────────────────────────────────────────────────────

type plainOptions struct {
	Username   string
	Room       chat.Room
	Timestamps bool
	LoginWait  time.Duration
}

var errLoginRejected = errors.New("login was not confirmed")

// linePrinter writes new messages of the current room exactly once.
type linePrinter struct {
	mu         sync.Mutex
	out        io.Writer
	b          tui.Backend
	timestamps bool
	room       chat.Room
	printed    map[string]bool
}

func (p *linePrinter) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.b.Snapshot()
	if s.Room != p.room {
		p.room = s.Room
		p.printed = make(map[string]bool)
		fmt.Fprintf(p.out, "── #%s ──\n", s.Room)
	}
	for _, m := range s.Messages {
		if p.printed[m.ID] {
			continue
		}
		p.printed[m.ID] = true
		if p.timestamps {
			fmt.Fprintf(p.out, "[%s] ", time.UnixMilli(m.Timestamp).Format("15:04"))
		}
		fmt.Fprintf(p.out, "%s: %s\n", m.Sender, m.Text)
	}
}

func (p *linePrinter) println(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

// runPlain drives the client from line input: plain lines are sent, and
// "/room <name>", "/who" and "/quit" are commands. It returns at end of input.
func runPlain(ctx context.Context, b tui.Backend, in io.Reader, out io.Writer, opts plainOptions) error {
	scanner := bufio.NewScanner(in)

	name := opts.Username
	if name == "" {
		fmt.Fprint(out, "name: ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		name = scanner.Text()
	}
	if err := b.SubmitUsername(name, opts.Room); err != nil {
		return err
	}
	if err := awaitLogin(ctx, b, opts.LoginWait); err != nil {
		return err
	}

	p := &linePrinter{out: out, b: b, timestamps: opts.Timestamps}
	p.println("joined as %s, /quit to leave", strings.TrimSpace(name))
	p.flush()

	printCtx, stopPrinting := context.WithCancel(ctx)
	defer stopPrinting()
	go func() {
		for {
			select {
			case <-printCtx.Done():
				return
			case <-b.Updates():
				p.flush()
			}
		}
	}()

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/who":
			s := b.Snapshot()
			names := make([]string, 0, len(s.Online))
			for _, e := range s.Online {
				names = append(names, e.Username)
			}
			p.println("online in #%s: %s", s.Room, strings.Join(names, ", "))
		case strings.HasPrefix(line, "/room"):
			room, err := chat.ParseRoom(strings.TrimSpace(strings.TrimPrefix(line, "/room")))
			if err == nil {
				err = b.SwitchRoom(room)
			}
			if err != nil {
				p.println("! %v", err)
			}
		default:
			if _, err := b.SendMessage(line); err != nil {
				p.println("! %v", err)
			}
		}
		p.flush()
		if b.Snapshot().Login == session.LoggedOut {
			return errors.New("disconnected from server")
		}
	}
	return scanner.Err()
}

// awaitLogin blocks until the session is LoggedIn, or fails when it falls
// back to LoggedOut or wait elapses.
func awaitLogin(ctx context.Context, b tui.Backend, wait time.Duration) error {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	for {
		switch b.Snapshot().Login {
		case session.LoggedIn:
			return nil
		case session.LoggedOut:
			return errLoginRejected
		}
		select {
		case <-b.Updates():
		case <-deadline.C:
			return fmt.Errorf("%w after %s", errLoginRejected, wait)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func init() {
	chatCmd.Flags().StringVar(&chatUsername, "username", "", "display name (default from profile)")
	chatCmd.Flags().StringVar(&chatRoom, "room", "", "room to join (default from profile or config)")
	chatCmd.Flags().BoolVar(&chatPlain, "plain", false, "line-oriented client instead of the TUI")
	rootCmd.AddCommand(chatCmd)
}
