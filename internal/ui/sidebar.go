package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"convo/internal/models"
	"convo/internal/sync"
)

const (
	tabRooms = iota
	tabUsers
)

// SidebarPage lists rooms and users; enter opens a chat.
type SidebarPage struct {
	orch   *sync.Orchestrator
	tab    int
	cursor int
	notice string

	cursorStyle lipgloss.Style
	tabStyle    lipgloss.Style
	offStyle    lipgloss.Style
}

func InitialSidebarModel(orch *sync.Orchestrator) SidebarPage {
	m := SidebarPage{orch: orch}
	m.cursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#000")).Background(lipgloss.Color("#FFF"))
	m.tabStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	m.offStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888"))
	return m
}

func (m SidebarPage) Init() tea.Cmd {
	return nil
}

func (m SidebarPage) rows() int {
	if m.tab == tabRooms {
		return len(m.orch.Rooms())
	}
	return len(m.orch.Users())
}

func (m SidebarPage) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.tab = (m.tab + 1) % 2
			m.cursor = 0
		case "down":
			if n := m.rows(); n > 0 {
				m.cursor = (m.cursor + 1) % n
			}
		case "up":
			if n := m.rows(); n > 0 {
				m.cursor = (m.cursor + n - 1) % n
			}
		case "enter", "right":
			return m.open()
		}
	case StateChangedMsg:
		if n := m.rows(); m.cursor >= n && n > 0 {
			m.cursor = n - 1
		}
	case NoticeMsg:
		m.notice = msg.Title + ": " + msg.Body
	}
	return m, nil
}

func (m SidebarPage) open() (tea.Model, tea.Cmd) {
	if m.tab == tabRooms {
		rooms := m.orch.Rooms()
		if m.cursor >= len(rooms) {
			return m, nil
		}
		room := rooms[m.cursor]
		if err := m.orch.OpenRoom(room.ID); err != nil {
			m.notice = err.Error()
			return m, nil
		}
		return InitialChatModel(m.orch, room.ID), nil
	}

	users := m.orch.Users()
	if m.cursor >= len(users) {
		return m, nil
	}
	target := users[m.cursor]
	if target.ID == m.orch.MyID() {
		return m, nil
	}
	// The room arrives later via private_chat_ready; stay here.
	if err := m.orch.StartPrivateChat(target.ID); err != nil {
		m.notice = err.Error()
	}
	return m, nil
}

func (m SidebarPage) View() string {
	var s string
	profile := m.orch.Profile()
	if profile.Name != "" {
		s = fmt.Sprintf("Signed in as %s\n\n", profile.Name)
	}

	if m.tab == tabRooms {
		s += m.tabStyle.Render("Rooms") + "  " + m.offStyle.Render("Users") + "\n\n"
		for i, room := range m.orch.Rooms() {
			label := roomLabel(room)
			if i == m.cursor {
				label = m.cursorStyle.Render(label)
			}
			s += "  " + label + "\n"
		}
	} else {
		s += m.offStyle.Render("Rooms") + "  " + m.tabStyle.Render("Users") + "\n\n"
		for i, user := range m.orch.Users() {
			label := user.Name
			if user.IsOnline {
				label += " •"
			}
			if i == m.cursor {
				label = m.cursorStyle.Render(label)
			}
			s += "  " + label + "\n"
		}
	}

	s += "\ntab switch, enter open, q quit\n"
	if m.notice != "" {
		s += fmt.Sprintf("Info: %s\n", m.notice)
	}
	return s
}

func roomLabel(room models.Room) string {
	if room.Name != "" {
		return room.Name
	}
	return room.ID
}
