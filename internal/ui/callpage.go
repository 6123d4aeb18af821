package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"convo/internal/call"
	"convo/internal/sync"
)

// CallPage shows the call roster and media toggles while a call is
// active.
type CallPage struct {
	orch   *sync.Orchestrator
	back   ChatPage
	notice string
	muted  bool
	camOff bool

	titleStyle lipgloss.Style
	peerStyle  lipgloss.Style
}

func InitialCallModel(orch *sync.Orchestrator, back ChatPage) CallPage {
	m := CallPage{orch: orch, back: back}
	m.titleStyle = lipgloss.NewStyle().Bold(true)
	m.peerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#45f"))
	return m
}

func (m CallPage) Init() tea.Cmd {
	return nil
}

func (m CallPage) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if err := m.orch.EndCall(); err != nil {
				m.notice = err.Error()
			}
			return m, tea.Quit
		case "x", "esc":
			if err := m.orch.EndCall(); err != nil {
				m.notice = err.Error()
			}
			return m.back, nil
		case "m":
			m.muted = !m.orch.Call().ToggleMute()
		case "c":
			m.camOff = !m.orch.Call().ToggleCamera()
		case "s":
			if m.orch.Call().Sharing() {
				break
			}
			if err := m.orch.Call().ShareScreen(); err != nil {
				m.notice = err.Error()
			}
		}
	case StateChangedMsg:
		// A dropped room ends the call under us; fall back to the chat.
		if m.orch.Call().State() == call.StateIdle {
			return m.back, nil
		}
	case NoticeMsg:
		m.notice = msg.Title + ": " + msg.Body
	}
	return m, nil
}

func (m CallPage) View() string {
	session := m.orch.Call()
	s := m.titleStyle.Render("Call") + fmt.Sprintf(" — %s\n\n", session.State())

	peers := session.Peers()
	if len(peers) == 0 {
		s += "  waiting for others...\n"
	}
	for _, id := range peers {
		s += "  " + m.peerStyle.Render(id) + "\n"
	}

	s += "\n"
	if m.muted {
		s += "mic off  "
	} else {
		s += "mic on  "
	}
	if m.camOff {
		s += "camera off"
	} else {
		s += "camera on"
	}
	if session.Sharing() {
		s += "  sharing screen"
	}
	s += "\n\nm mute, c camera, s share screen, x hang up\n"
	if m.notice != "" {
		s += fmt.Sprintf("Info: %s\n", m.notice)
	}
	return s
}
