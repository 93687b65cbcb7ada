package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fakeyudi/roomchat/internal/chat"
)

// Environment variables that override the merged file configuration.
const (
	EnvServerURL = "ROOMCHAT_SERVER_URL"
	EnvAPIURL    = "ROOMCHAT_API_URL"
)

// Config holds all configurable roomchat settings.
type Config struct {
	ServerURL           string `json:"server_url"` // websocket endpoint
	APIURL              string `json:"api_url"`    // HTTP base for presence and history
	DefaultRoom         string `json:"default_room"`
	LogLevel            string `json:"log_level"`
	LogFile             string `json:"log_file"` // empty discards client logs
	LoginTimeoutSeconds int    `json:"login_timeout_seconds"`
	RelayAddr           string `json:"relay_addr"`
}

// Defaults returns the settings for a relay running on localhost.
func Defaults() Config {
	return Config{
		ServerURL:   "ws://localhost:3030/ws",
		APIURL:      "http://localhost:3030",
		DefaultRoom: string(chat.RoomBlue),
		LogLevel:    "info",
		RelayAddr:   ":3030",
	}
}

// Room returns the configured default room, falling back to blue when the
// value is not a known room.
func (c Config) Room() chat.Room {
	r, err := chat.ParseRoom(c.DefaultRoom)
	if err != nil {
		return chat.RoomBlue
	}
	return r
}

// LoginTimeout is zero when no timeout is configured.
func (c Config) LoginTimeout() time.Duration {
	if c.LoginTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.LoginTimeoutSeconds) * time.Second
}

// GlobalPath returns ~/.config/roomchat/config.json.
func GlobalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "roomchat", "config.json"), nil
}

// LoadGlobal reads the global config, returning defaults if it is absent.
func LoadGlobal() (*Config, error) {
	path, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return loadFile(path, true)
}

// LoadProject reads .roomchatconfig in the working directory.
// Returns nil (no error) if the file is absent.
func LoadProject() (*Config, error) {
	return loadFile(".roomchatconfig", false)
}

// Load merges global and project files and applies environment overrides.
func Load() (Config, error) {
	global, err := LoadGlobal()
	if err != nil {
		return Config{}, err
	}
	project, err := LoadProject()
	if err != nil {
		return Config{}, err
	}
	cfg := Merge(global, project)
	ApplyEnv(&cfg, os.Getenv)
	return cfg, nil
}

func loadFile(path string, returnDefaults bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if cfg.DefaultRoom != "" {
		if _, err := chat.ParseRoom(cfg.DefaultRoom); err != nil {
			return nil, &ParseError{Path: path, Err: fmt.Errorf("default_room: %w", err)}
		}
	}
	return &cfg, nil
}

// Merge layers project over global over defaults. Empty and zero values
// count as unset.
func Merge(global, project *Config) Config {
	result := Defaults()
	for _, layer := range []*Config{global, project} {
		if layer == nil {
			continue
		}
		setString(&result.ServerURL, layer.ServerURL)
		setString(&result.APIURL, layer.APIURL)
		setString(&result.DefaultRoom, layer.DefaultRoom)
		setString(&result.LogLevel, layer.LogLevel)
		setString(&result.LogFile, layer.LogFile)
		setString(&result.RelayAddr, layer.RelayAddr)
		if layer.LoginTimeoutSeconds > 0 {
			result.LoginTimeoutSeconds = layer.LoginTimeoutSeconds
		}
	}
	return result
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// ApplyEnv overrides the endpoints from the environment.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	setString(&cfg.ServerURL, getenv(EnvServerURL))
	setString(&cfg.APIURL, getenv(EnvAPIURL))
}

// Watch calls fn with the reparsed file each time path is written or
// replaced, until ctx is cancelled. The parent directory is watched so that
// editors that save by rename are seen too. A parse failure is passed to fn
// and watching continues.
func Watch(ctx context.Context, path string, fn func(*Config, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	name := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				cfg, err := loadFile(path, true)
				fn(cfg, err)
			}

		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
