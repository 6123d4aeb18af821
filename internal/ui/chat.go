package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"convo/internal/models"
	"convo/internal/sync"
)

// ChatPage is the message log plus composer for one room.
type ChatPage struct {
	orch     *sync.Orchestrator
	roomID   string
	viewport viewport.Model
	textbox  textarea.Model
	notice   string
	editing  bool

	meStyle    lipgloss.Style
	otherStyle lipgloss.Style
	metaStyle  lipgloss.Style
}

func InitialChatModel(orch *sync.Orchestrator, roomID string) ChatPage {
	m := ChatPage{orch: orch, roomID: roomID}
	m.viewport = viewport.New(80, 14)

	m.textbox = textarea.New()
	m.textbox.Focus()
	m.textbox.Placeholder = "Send a message..."
	m.textbox.Prompt = "┃ "
	m.textbox.CharLimit = 2000
	m.textbox.ShowLineNumbers = false
	m.textbox.SetHeight(4)
	m.textbox.SetWidth(80)
	m.textbox.FocusedStyle.CursorLine = lipgloss.NewStyle()

	m.meStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff8"))
	m.otherStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#45f"))
	m.metaStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888"))

	m.refresh()
	return m
}

func (m ChatPage) Init() tea.Cmd {
	return nil
}

func (m *ChatPage) refresh() {
	var b strings.Builder
	for _, msg := range m.orch.Messages(m.roomID) {
		b.WriteString(m.messageLine(msg))
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m ChatPage) messageLine(msg models.Message) string {
	style := m.otherStyle
	if msg.SenderID == m.orch.MyID() {
		style = m.meStyle
	}
	line := style.Render("@" + msg.SenderName)
	if msg.EditedAt != "" {
		line += m.metaStyle.Render(" (edited)")
	}
	line += "\n"
	switch msg.Type {
	case models.MessageText:
		line += msg.Content
	case models.MessageFile:
		line += m.metaStyle.Render("[file] " + msg.Filename)
	default:
		line += m.metaStyle.Render("[" + msg.Type + "]")
	}
	if len(msg.Reactions) > 0 {
		var emoji []string
		for _, r := range msg.Reactions {
			emoji = append(emoji, r.Reaction)
		}
		line += "  " + strings.Join(emoji, " ")
	}
	return line + "\n\n"
}

func (m ChatPage) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	cmds := make([]tea.Cmd, 2)
	m.viewport, cmds[0] = m.viewport.Update(msg)
	m.textbox, cmds[1] = m.textbox.Update(msg)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "esc", "left":
			if m.editing {
				m.orch.CancelEdit()
				m.editing = false
				m.textbox.Reset()
				break
			}
			m.orch.CloseRoom()
			return InitialSidebarModel(m.orch), nil
		case "ctrl+s":
			text := strings.TrimSpace(m.textbox.Value())
			if err := m.orch.Send(text); err != nil {
				m.notice = err.Error()
				break
			}
			m.editing = false
			m.textbox.Reset()
		case "ctrl+e":
			m.startEditLast()
		case "ctrl+v":
			if err := m.orch.StartCall(); err != nil {
				m.notice = err.Error()
				break
			}
			return InitialCallModel(m.orch, m), nil
		}
	case StateChangedMsg:
		m.refresh()
	case NoticeMsg:
		m.notice = msg.Title + ": " + msg.Body
	}
	return m, tea.Batch(cmds...)
}

// startEditLast loads the caller's most recent text message into the
// composer.
func (m *ChatPage) startEditLast() {
	msgs := m.orch.Messages(m.roomID)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].SenderID == m.orch.MyID() && msgs[i].Type == models.MessageText {
			original, err := m.orch.StartEdit(m.roomID, msgs[i].ID)
			if err != nil {
				m.notice = err.Error()
				return
			}
			m.editing = true
			m.textbox.SetValue(original)
			return
		}
	}
	m.notice = "nothing to edit"
}

func (m ChatPage) View() string {
	room, _ := m.orch.Room(m.roomID)
	s := fmt.Sprintf("%s\n", roomLabel(room))
	s += "_________________________\n"
	s += m.viewport.View() + "\n"
	s += "‾‾‾‾‾‾‾‾‾‾‾‾‾‾‾‾‾‾‾‾‾‾‾‾‾\n"
	if m.editing {
		s += "editing message (esc to cancel)\n"
	}
	s += m.textbox.View() + "\n"
	s += "ctrl+s send, ctrl+e edit last, ctrl+v call, esc back\n"
	if m.notice != "" {
		s += fmt.Sprintf("Info: %s\n", m.notice)
	}
	return s
}
