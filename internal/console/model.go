package console

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"glata-console/internal/session"
	"glata-console/internal/transcript"
	"glata-console/internal/ws"
)

// Session is the controller surface the console consumes; *session.Controller
// satisfies it.
type Session interface {
	Submit(ctx context.Context, text string) error
	NewChat()
	ToggleToolDetail(i int)
	Updates() <-chan struct{}
	Snapshot() []transcript.Entry
	Messages() []transcript.Message
	ConnectionState() ws.State
	ChatID() string
}

var _ Session = (*session.Controller)(nil)

const welcomeText = "Start chatting with the agent.\nEnter sends, shift+enter inserts a newline."

// Reserved rows around the viewport: header, input area, status bar, padding.
const chromeHeight = 7

// Model is the root bubbletea model. All transcript state lives in the
// session controller; the model re-reads it on every update signal.
type Model struct {
	session  Session
	viewport viewport.Model
	input    textarea.Model
	spin     spinner.Model
	markdown *glamour.TermRenderer

	width      int
	height     int
	ready      bool
	entryCount int
	submitErr  error
}

func New(sess Session) Model {
	ta := textarea.New()
	ta.Placeholder = "Type a message..."
	ta.Focus()
	ta.CharLimit = 4096
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetKeys("shift+enter")

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = lipgloss.NewStyle().Foreground(colorAccent)

	return Model{
		session: sess,
		input:   ta,
		spin:    sp,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spin.Tick,
		listenForUpdate(m.session.Updates()),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		chatHeight := msg.Height - chromeHeight
		if chatHeight < 5 {
			chatHeight = 5
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, chatHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = chatHeight
		}
		m.input.SetWidth(msg.Width - 4)
		if r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(msg.Width-4),
		); err == nil {
			m.markdown = r
		}
		m.refresh()
		return m, nil

	case sessionUpdateMsg:
		m.refresh()
		return m, listenForUpdate(m.session.Updates())

	case submitResultMsg:
		if msg.err != nil {
			m.submitErr = msg.err
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit

	case "enter":
		// Submitting while a placeholder is still open is allowed: the
		// stream has no closing frame, so the next submit is what ends the
		// previous turn. Only a dead connection blocks input.
		if !m.connected() {
			return m, nil
		}
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		m.submitErr = nil
		return m, submitTurn(m.session, text)

	case "ctrl+n":
		m.submitErr = nil
		m.session.NewChat()
		return m, nil

	case "ctrl+o":
		if i := lastToolCallIndex(m.session.Messages()); i >= 0 {
			m.session.ToggleToolDetail(i)
		}
		return m, nil

	case "pgup":
		m.viewport.ViewUp()
		return m, nil
	case "pgdown":
		m.viewport.ViewDown()
		return m, nil
	}

	if !m.connected() {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, m.renderHeader())

	if m.entryCount == 0 {
		sections = append(sections, welcomeStyle.Width(m.width).Render(welcomeText))
	} else {
		sections = append(sections, m.viewport.View())
	}

	sections = append(sections, m.renderInputArea())
	sections = append(sections, m.renderStatusBar())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader() string {
	title := "glata console"
	if id := m.session.ChatID(); id != "" {
		title += "  ·  chat " + shortID(id)
	}
	return headerStyle.Width(m.width).Render(title)
}

// renderInputArea swaps the textarea for a banner whenever the connection
// cannot carry a turn.
func (m Model) renderInputArea() string {
	switch m.session.ConnectionState() {
	case ws.StateOpen:
		return m.input.View()
	case ws.StateFailed:
		return bannerError.Width(m.width).Render("Connection failed. Restart the console to try again.")
	case ws.StateClosing, ws.StateClosed:
		return bannerError.Width(m.width).Render("Connection closed.")
	default:
		return bannerWarn.Width(m.width).Render(m.spin.View() + " Connecting to the gateway...")
	}
}

func (m Model) renderStatusBar() string {
	left := statusStyle.Render(string(m.session.ConnectionState()))
	if m.streaming() {
		left += " " + m.spin.View() + statusStyle.Render(" streaming")
	}
	if m.submitErr != nil {
		left += " " + errorText.Render(fmt.Sprintf("send failed: %v", m.submitErr))
	}

	help := statusStyle.Render("enter send · ctrl+o tool detail · ctrl+n new chat · ctrl+c quit")
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(help)
	if gap < 1 {
		return left
	}
	return left + strings.Repeat(" ", gap) + help
}

// refresh re-reads the session and rebuilds the viewport content.
func (m *Model) refresh() {
	entries := m.session.Snapshot()
	m.entryCount = len(entries)
	r := entryRenderer{markdown: m.markdown}
	m.viewport.SetContent(r.renderAll(entries))
	m.viewport.GotoBottom()
}

func (m Model) connected() bool {
	return m.session.ConnectionState() == ws.StateOpen
}

// streaming reports whether an assistant placeholder is still open. It is a
// status-bar hint only; input never gates on it because no frame marks the
// end of a stream.
func (m Model) streaming() bool {
	msgs := m.session.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Streaming {
			return true
		}
	}
	return false
}

// submitTurn runs the submit off the update loop; the transcript entries
// appear through the session's update signal, not through this cmd.
func submitTurn(sess Session, text string) tea.Cmd {
	return func() tea.Msg {
		return submitResultMsg{err: sess.Submit(context.Background(), text)}
	}
}

// lastToolCallIndex finds the raw transcript index whose reveal flag drives
// the most recent tool group.
func lastToolCallIndex(msgs []transcript.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		p := msgs[i].Parsed
		if msgs[i].Role == transcript.RoleTool && p != nil && p.Type == transcript.ParsedToolCall {
			return i
		}
	}
	return -1
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
