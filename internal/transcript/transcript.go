// Package transcript saves a room's history to a file and reads it back.
// Two formats exist: plain JSON, and Markdown that embeds the JSON so the
// human readable file still parses losslessly.
package transcript

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fakeyudi/roomchat/internal/chat"
)

// Transcript is one exported room history.
type Transcript struct {
	Room       chat.Room      `json:"room"`
	ExportedAt time.Time      `json:"exported_at"`
	Messages   []chat.Message `json:"messages"`
}

// New builds a transcript. Messages keep their order.
func New(room chat.Room, msgs []chat.Message, at time.Time) *Transcript {
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return &Transcript{Room: room, ExportedAt: at.UTC(), Messages: msgs}
}

// Format names a file format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ErrUnknownFormat is returned for formats other than json and markdown.
var ErrUnknownFormat = errors.New("unknown transcript format")

// ParseFormat accepts "json", "markdown" and "md".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// FormatOf guesses the format from a file name; anything not .json is Markdown.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatMarkdown
}

// Renderer serializes a Transcript to bytes.
type Renderer interface {
	Render(t *Transcript) ([]byte, error)
}

// Parser reads a Transcript back.
type Parser interface {
	Parse(data []byte) (*Transcript, error)
}

// RendererFor returns the renderer for f.
func RendererFor(f Format) Renderer {
	if f == FormatJSON {
		return &JSONRenderer{}
	}
	return &MarkdownRenderer{}
}

// ParserFor returns the parser for f.
func ParserFor(f Format) Parser {
	if f == FormatJSON {
		return &JSONParser{}
	}
	return &MarkdownParser{}
}

// JSONRenderer renders a Transcript as indented JSON.
type JSONRenderer struct{}

func (r *JSONRenderer) Render(t *Transcript) ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

const (
	versionSentinel = "<!-- roomchat-transcript-version: 1 -->"
	dataPrefix      = "<!-- roomchat-data: "
	dataSuffix      = " -->"
)

// MarkdownRenderer renders a Transcript as a Markdown table with an embedded
// base64 JSON payload for lossless parsing.
type MarkdownRenderer struct{}

func (r *MarkdownRenderer) Render(t *Transcript) ([]byte, error) {
	jsonBytes, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal transcript: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(versionSentinel + "\n")
	fmt.Fprintf(&sb, "%s%s%s\n\n", dataPrefix, base64.StdEncoding.EncodeToString(jsonBytes), dataSuffix)

	fmt.Fprintf(&sb, "# #%s\n\n", t.Room)
	fmt.Fprintf(&sb, "- Exported: %s\n", t.ExportedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "- Messages: %d\n\n", len(t.Messages))

	if len(t.Messages) == 0 {
		sb.WriteString("_No messages._\n")
		return []byte(sb.String()), nil
	}
	sb.WriteString("| Time | Sender | Message |\n")
	sb.WriteString("|------|--------|---------|\n")
	for _, m := range t.Messages {
		fmt.Fprintf(&sb, "| %s | %s | %s |\n",
			time.UnixMilli(m.Timestamp).UTC().Format("2006-01-02 15:04:05"),
			cell(m.Sender),
			cell(m.Text),
		)
	}
	return []byte(sb.String()), nil
}

// cell keeps a value on one table row.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", "<br>")
}

// JSONParser parses a JSON transcript.
type JSONParser struct{}

func (p *JSONParser) Parse(data []byte) (*Transcript, error) {
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse JSON transcript: %w", err)
	}
	return validate(&t)
}

// MarkdownParser reads the payload embedded by MarkdownRenderer.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(data []byte) (*Transcript, error) {
	content := string(data)
	if !strings.Contains(content, versionSentinel) {
		return nil, errors.New("not a roomchat transcript: missing version sentinel")
	}

	start := strings.Index(content, dataPrefix)
	if start == -1 {
		return nil, errors.New("not a roomchat transcript: missing data payload")
	}
	start += len(dataPrefix)
	end := strings.Index(content[start:], dataSuffix)
	if end == -1 {
		return nil, errors.New("not a roomchat transcript: malformed data payload")
	}

	jsonBytes, err := base64.StdEncoding.DecodeString(content[start : start+end])
	if err != nil {
		return nil, fmt.Errorf("not a roomchat transcript: corrupted payload: %w", err)
	}
	var t Transcript
	if err := json.Unmarshal(jsonBytes, &t); err != nil {
		return nil, fmt.Errorf("not a roomchat transcript: embedded JSON: %w", err)
	}
	return validate(&t)
}

func validate(t *Transcript) (*Transcript, error) {
	if !t.Room.Valid() {
		return nil, fmt.Errorf("transcript room: %w: %q", chat.ErrUnknownRoom, string(t.Room))
	}
	for i, m := range t.Messages {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("transcript message %d: %w", i, err)
		}
	}
	return t, nil
}
