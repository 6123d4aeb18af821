// Package ui is the terminal presentation layer. Pages read the
// orchestrator's state on every render and turn key presses into
// intents; no chat logic lives here.
package ui

import (
	gosync "sync"

	tea "github.com/charmbracelet/bubbletea"
)

// StateChangedMsg tells the active page to re-read orchestrator state.
type StateChangedMsg struct{}

// NoticeMsg is a toast from the notification sink.
type NoticeMsg struct {
	Title string
	Body  string
}

// Bridge forwards orchestrator callbacks into a bubbletea program. It
// exists because the program and the orchestrator are created in
// either order.
type Bridge struct {
	mu gosync.Mutex
	p  *tea.Program
}

func NewBridge() *Bridge { return &Bridge{} }

func (b *Bridge) Attach(p *tea.Program) {
	b.mu.Lock()
	b.p = p
	b.mu.Unlock()
}

func (b *Bridge) Notify(title, body string) {
	b.send(NoticeMsg{Title: title, Body: body})
}

func (b *Bridge) StateChanged() {
	b.send(StateChangedMsg{})
}

func (b *Bridge) send(msg tea.Msg) {
	b.mu.Lock()
	p := b.p
	b.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}
