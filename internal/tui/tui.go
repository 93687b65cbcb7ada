// Package tui provides the Bubble Tea chat interface.
package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fakeyudi/roomchat/internal/chat"
	"github.com/fakeyudi/roomchat/internal/client"
	"github.com/fakeyudi/roomchat/internal/connection"
	"github.com/fakeyudi/roomchat/internal/session"
)

// ── Styles ────────────

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				Background(lipgloss.Color("235")).
				Padding(0, 1)

	tabSepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238")).
			Background(lipgloss.Color("235"))

	sectionHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	senderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	selfStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178"))

	bulletStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)

	onlineColumnStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.NormalBorder()).
				BorderLeft(true).
				BorderForeground(lipgloss.Color("238")).
				PaddingLeft(1)
)

const onlineWidth = 22

// Backend is the part of the chat client the interface drives.
type Backend interface {
	Snapshot() client.Snapshot
	Updates() <-chan struct{}
	SubmitUsername(name string, room chat.Room) error
	SendMessage(text string) (chat.Message, error)
	SwitchRoom(room chat.Room) error
}

// Options preset the login form.
type Options struct {
	Username       string
	Room           chat.Room
	ShowTimestamps bool
}

// updateMsg tells the model the backend state changed.
type updateMsg struct{}

// Model is the root Bubble Tea model.
type Model struct {
	backend    Backend
	snap       client.Snapshot
	timestamps bool

	loginRoom chat.Room
	nameInput textinput.Model
	input     textinput.Model
	messages  viewport.Model

	width  int
	height int
	ready  bool
	err    error
}

// New creates the chat model. The backend should already be started.
func New(b Backend, opts Options) Model {
	name := textinput.New()
	name.Placeholder = "display name"
	name.Prompt = "  name › "
	name.CharLimit = 32
	name.SetValue(opts.Username)
	name.Focus()

	input := textinput.New()
	input.Placeholder = "say something"
	input.Prompt = "› "
	input.CharLimit = 1000
	input.Focus()

	room := opts.Room
	if !room.Valid() {
		room = chat.RoomBlue
	}
	return Model{
		backend:    b,
		snap:       b.Snapshot(),
		timestamps: opts.ShowTimestamps,
		loginRoom:  room,
		nameInput:  name,
		input:      input,
	}
}

// ── Bubble Tea interface ───────────────

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForUpdate(m.backend.Updates()))
}

func waitForUpdate(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return updateMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case updateMsg:
		m.refresh()
		return m, waitForUpdate(m.backend.Updates())

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.layout()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "tab":
			m.cycleRoom()
			return m, nil
		case "enter":
			m.submit()
			return m, nil
		case "pgup", "pgdown", "ctrl+u", "ctrl+d":
			var cmd tea.Cmd
			m.messages, cmd = m.messages.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	if m.atLogin() {
		m.nameInput, cmd = m.nameInput.Update(msg)
	} else {
		m.input, cmd = m.input.Update(msg)
	}
	return m, cmd
}

// atLogin reports whether the login form is shown instead of the chat.
func (m Model) atLogin() bool {
	return m.snap.Login != session.LoggedIn
}

func (m *Model) refresh() {
	m.snap = m.backend.Snapshot()
	if m.ready {
		atBottom := m.messages.AtBottom()
		m.messages.SetContent(m.renderMessages())
		if atBottom {
			m.messages.GotoBottom()
		}
	}
}

func (m *Model) submit() {
	m.err = nil
	switch m.snap.Login {
	case session.LoggedOut:
		m.err = m.backend.SubmitUsername(m.nameInput.Value(), m.loginRoom)
	case session.LoggedIn:
		if _, err := m.backend.SendMessage(m.input.Value()); err != nil {
			m.err = err
			return
		}
		m.input.Reset()
	}
	m.refresh()
}

func (m *Model) cycleRoom() {
	if m.atLogin() {
		m.loginRoom = nextRoom(m.loginRoom)
		return
	}
	m.err = m.backend.SwitchRoom(nextRoom(m.snap.Room))
	m.refresh()
}

func nextRoom(r chat.Room) chat.Room {
	for i, known := range chat.Rooms {
		if known == r {
			return chat.Rooms[(i+1)%len(chat.Rooms)]
		}
	}
	return chat.Rooms[0]
}

func (m Model) View() string {
	if !m.ready {
		return "Connecting…"
	}

	room := m.snap.Room
	if m.atLogin() {
		room = m.loginRoom
	}
	title := titleStyle.Width(m.width).Render("  roomchat  #" + string(room))
	tabs := m.renderTabs(room)

	var body, prompt string
	if m.atLogin() {
		body = m.renderLogin()
		prompt = ""
	} else {
		online := onlineColumnStyle.Width(onlineWidth).Height(m.messages.Height).Render(m.renderOnline())
		body = lipgloss.JoinHorizontal(lipgloss.Top, m.messages.View(), online)
		prompt = m.input.View()
	}

	return lipgloss.JoinVertical(lipgloss.Left, title, tabs, body, prompt, m.renderStatus())
}

// ── Layout ───────────────────────────────────────────────────────────────────

func (m *Model) layout() {
	// title(1) + tabs(1) + prompt(1) + status(1)
	h := m.height - 4
	if h < 1 {
		h = 1
	}
	w := m.width - onlineWidth - 1
	if w < 10 {
		w = 10
	}
	m.messages = viewport.New(w, h)
	m.messages.SetContent(m.renderMessages())
	m.messages.GotoBottom()
	m.input.Width = w - 2
	m.nameInput.Width = 32
}

// ── Renderers ───────────────────────────────────────────────────────────────

func (m Model) renderTabs(current chat.Room) string {
	var parts []string
	for i, r := range chat.Rooms {
		label := " #" + string(r) + " "
		if r == current {
			parts = append(parts, activeTabStyle.Render(label))
		} else {
			parts = append(parts, inactiveTabStyle.Render(label))
		}
		if i < len(chat.Rooms)-1 {
			parts = append(parts, tabSepStyle.Render("│"))
		}
	}
	return lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Width(m.width).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, parts...))
}

func (m Model) renderLogin() string {
	var sb strings.Builder
	sb.WriteString("\n" + sectionHeader.Render("  Join a room") + "\n\n")
	sb.WriteString(m.nameInput.View() + "\n\n")
	sb.WriteString(dimStyle.Render("  room › ") + activeTabStyle.Render("#"+string(m.loginRoom)) + "\n\n")
	if m.snap.Login == session.Authenticating {
		sb.WriteString(dimStyle.Render("  logging in…") + "\n")
	}
	lines := strings.Count(sb.String(), "\n")
	if pad := m.height - 4 - lines; pad > 0 {
		sb.WriteString(strings.Repeat("\n", pad))
	}
	return sb.String()
}

func (m Model) renderMessages() string {
	if m.snap.Loading && len(m.snap.Messages) == 0 {
		return dimStyle.Render("  loading history…")
	}
	if len(m.snap.Messages) == 0 {
		return dimStyle.Render("  (no messages yet)")
	}
	var sb strings.Builder
	for _, msg := range m.snap.Messages {
		sb.WriteString(m.renderMessage(msg))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m Model) renderMessage(msg chat.Message) string {
	var line string
	if m.timestamps && msg.Timestamp > 0 {
		line = timeStyle.Render(time.UnixMilli(msg.Timestamp).Format("15:04")) + " "
	}
	style := senderStyle
	if msg.Sender == m.snap.Username {
		style = selfStyle
	}
	return line + style.Render(msg.Sender) + "  " + msg.Text
}

func (m Model) renderOnline() string {
	var sb strings.Builder
	sb.WriteString(sectionHeader.Render(fmt.Sprintf("Online (%d)", len(m.snap.Online))) + "\n")
	if len(m.snap.Online) == 0 {
		sb.WriteString(dimStyle.Render("(nobody)") + "\n")
	}
	for _, e := range m.snap.Online {
		sb.WriteString(bulletStyle.Render("•") + " " + e.Username + "\n")
	}
	return sb.String()
}

func (m Model) renderStatus() string {
	var parts []string
	parts = append(parts, connLabel(m.snap.Connection))
	parts = append(parts, m.snap.Login.String())
	if m.snap.Username != "" && m.snap.Login != session.LoggedOut {
		parts = append(parts, "as "+m.snap.Username)
	}
	if m.snap.Loading {
		parts = append(parts, "loading")
	}
	status := "  " + strings.Join(parts, " · ")

	switch {
	case m.err != nil:
		status += "  " + errorStyle.Render(describe(m.err))
	case m.snap.HistoryErr != nil:
		status += "  " + errorStyle.Render("history unavailable")
	case m.snap.PresenceErr != nil:
		status += "  " + errorStyle.Render("presence unavailable")
	}

	hint := "tab room  enter send  esc quit"
	if m.atLogin() {
		hint = "tab room  enter join  esc quit"
	}
	pad := m.width - lipgloss.Width(status) - lipgloss.Width(hint) - 2
	if pad < 1 {
		pad = 1
	}
	return statusBarStyle.Width(m.width).Render(status + strings.Repeat(" ", pad) + hint)
}

func connLabel(s connection.State) string {
	switch s {
	case connection.Connected:
		return bulletStyle.Render("●") + " connected"
	case connection.Connecting:
		return timeStyle.Render("●") + " connecting"
	default:
		return errorStyle.Render("●") + " offline"
	}
}

func describe(err error) string {
	switch {
	case errors.Is(err, session.ErrEmptyUsername):
		return "enter a name first"
	case errors.Is(err, session.ErrEmptyMessage):
		return "nothing to send"
	case errors.Is(err, session.ErrNotLoggedIn):
		return "not logged in"
	case errors.Is(err, connection.ErrDisconnected):
		return "not connected to the server"
	}
	return err.Error()
}

// Run starts the interface for an already started client.
func Run(b Backend, opts Options) error {
	p := tea.NewProgram(New(b, opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
