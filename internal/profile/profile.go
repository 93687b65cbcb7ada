// Package profile manages the user's persistent roomchat profile.
// The profile is stored at ~/.config/roomchat/profile.json and is created
// once via the interactive setup flow, then used to prefill the login.
package profile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fakeyudi/roomchat/internal/chat"
)

// Profile holds user-level preferences set during setup.
type Profile struct {
	Name           string    `json:"name"`         // display name offered at login
	DefaultRoom    chat.Room `json:"default_room"` // room preselected at login
	ShowTimestamps bool      `json:"show_timestamps"`
}

func profilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "profile.json"), nil
}

// ConfigDir returns the roomchat config directory.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "roomchat"), nil
}

// Exists reports whether a profile file is present on disk.
func Exists() bool {
	p, err := profilePath()
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Load reads the profile from disk. Returns an error if the file is missing or malformed.
func Load() (*Profile, error) {
	p, err := profilePath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("profile not found, run 'roomchat setup' to configure: %w", err)
	}
	var prof Profile
	if err := json.Unmarshal(data, &prof); err != nil {
		return nil, fmt.Errorf("malformed profile at %s: %w", p, err)
	}
	if prof.DefaultRoom != "" && !prof.DefaultRoom.Valid() {
		return nil, fmt.Errorf("malformed profile at %s: %w: %q", p, chat.ErrUnknownRoom, string(prof.DefaultRoom))
	}
	return &prof, nil
}

// Save writes the profile through a temp file and rename so a crash never
// leaves a truncated profile behind.
func Save(prof *Profile) (err error) {
	p, err := profilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(prof, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), "profile-*.json.tmp")
	if err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("saving profile: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	if err = os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	return nil
}

// RunSetup runs the interactive setup wizard reading answers from in.
// If existing is non-nil, it is used as the default for each prompt (edit mode).
func RunSetup(in io.Reader, out io.Writer, existing *Profile) (*Profile, error) {
	r := bufio.NewReader(in)

	ask := func(prompt, defaultVal string) (string, error) {
		if defaultVal != "" {
			fmt.Fprintf(out, "%s [%s]: ", prompt, defaultVal)
		} else {
			fmt.Fprintf(out, "%s: ", prompt)
		}
		line, err := r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return defaultVal, nil
		}
		return line, nil
	}

	prof := &Profile{DefaultRoom: chat.RoomBlue}
	if existing != nil {
		*prof = *existing
	}
	if !prof.DefaultRoom.Valid() {
		prof.DefaultRoom = chat.RoomBlue
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "  ┌─────────────────────────────────┐")
	fmt.Fprintln(out, "  │       roomchat profile          │")
	fmt.Fprintln(out, "  └─────────────────────────────────┘")
	fmt.Fprintln(out)

	name, err := ask("  Display name", prof.Name)
	if err != nil {
		return nil, err
	}
	prof.Name = name

	for {
		ans, err := ask("  Default room ("+roomList()+")", string(prof.DefaultRoom))
		if err != nil {
			return nil, err
		}
		room, perr := chat.ParseRoom(ans)
		if perr == nil {
			prof.DefaultRoom = room
			break
		}
		fmt.Fprintf(out, "  unknown room %q\n", ans)
	}

	def := "n"
	if prof.ShowTimestamps {
		def = "y"
	}
	ts, err := ask("  Show message timestamps (y/n)", def)
	if err != nil {
		return nil, err
	}
	prof.ShowTimestamps = strings.EqualFold(ts, "y") || strings.EqualFold(ts, "yes")

	fmt.Fprintln(out)
	return prof, nil
}

func roomList() string {
	names := make([]string, len(chat.Rooms))
	for i, r := range chat.Rooms {
		names[i] = string(r)
	}
	return strings.Join(names, "/")
}
