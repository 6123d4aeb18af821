// Package messages keeps the per-room ordered message logs and the message
// state machine: sent -> edited* -> hidden-for-viewer | deleted-for-everyone.
// Hidden and deleted messages are removed from the log, not tombstoned.
package messages

import "convo/internal/models"

// EditBuffer is the single in-flight edit. Starting a new edit silently
// discards an unsent previous one; only one message can be in edit mode at a
// time.
type EditBuffer struct {
	MessageID int64
	RoomID    string
	Original  string // plaintext being edited
}

// Attachment is a staged file send. While one is staged, the send path never
// emits a live send_message: the file goes through the upload endpoint and
// comes back as an ordinary new_message push.
type Attachment struct {
	Filename string
	Data     []byte
	Caption  string
}

type Manager struct {
	logs       map[string][]models.Message
	edit       *EditBuffer
	attachment *Attachment
}

func NewManager() *Manager {
	return &Manager{logs: make(map[string][]models.Message)}
}

// LoadHistory replaces a room's log with the server's replay.
func (m *Manager) LoadHistory(roomID string, msgs []models.Message) {
	log := make([]models.Message, len(msgs))
	copy(log, msgs)
	m.logs[roomID] = log
}

// Append adds a pushed message. Delivery is at-least-once, so a known id
// replaces the existing entry in place instead of duplicating it.
func (m *Manager) Append(msg models.Message) {
	log := m.logs[msg.RoomID]
	for i := range log {
		if log[i].ID == msg.ID {
			log[i] = msg
			return
		}
	}
	m.logs[msg.RoomID] = append(log, msg)
}

// ApplyEdit replaces content and stamps the edit time. Unknown messages are
// ignored: they were hidden or deleted locally, and edits after deletion do
// not resurrect anything.
func (m *Manager) ApplyEdit(e models.MessageEdited) bool {
	log := m.logs[e.RoomID]
	for i := range log {
		if log[i].ID == e.ID {
			log[i].Content = e.Content
			log[i].EditedAt = e.EditedAt
			return true
		}
	}
	return false
}

// Remove drops a message from the local log. Both hide-for-viewer and
// delete-for-everyone land here; the difference is only who else receives the
// event.
func (m *Manager) Remove(roomID string, id int64) bool {
	log := m.logs[roomID]
	for i := range log {
		if log[i].ID == id {
			m.logs[roomID] = append(log[:i], log[i+1:]...)
			if m.edit != nil && m.edit.MessageID == id {
				m.edit = nil
			}
			return true
		}
	}
	return false
}

// SetReactions replaces a message's reaction map with the server's
// authoritative one. The same event covers additions and removals.
func (m *Manager) SetReactions(roomID string, id int64, reactions map[string]models.Reaction) bool {
	log := m.logs[roomID]
	for i := range log {
		if log[i].ID == id {
			log[i].Reactions = reactions
			return true
		}
	}
	return false
}

func (m *Manager) Message(roomID string, id int64) (models.Message, bool) {
	for _, msg := range m.logs[roomID] {
		if msg.ID == id {
			return msg, true
		}
	}
	return models.Message{}, false
}

// Messages returns a copy of the room's ordered log.
func (m *Manager) Messages(roomID string) []models.Message {
	log := m.logs[roomID]
	out := make([]models.Message, len(log))
	copy(out, log)
	return out
}

func (m *Manager) ClearRoom(roomID string) {
	delete(m.logs, roomID)
	if m.edit != nil && m.edit.RoomID == roomID {
		m.edit = nil
	}
}

// StartEdit opens the edit buffer for a message. Any previous unsent edit is
// discarded without warning.
func (m *Manager) StartEdit(roomID string, id int64, original string) {
	m.edit = &EditBuffer{MessageID: id, RoomID: roomID, Original: original}
}

func (m *Manager) ActiveEdit() (EditBuffer, bool) {
	if m.edit == nil {
		return EditBuffer{}, false
	}
	return *m.edit, true
}

// FinishEdit closes the buffer and returns it for sending.
func (m *Manager) FinishEdit() (EditBuffer, bool) {
	if m.edit == nil {
		return EditBuffer{}, false
	}
	e := *m.edit
	m.edit = nil
	return e, true
}

func (m *Manager) CancelEdit() { m.edit = nil }

func (m *Manager) StageAttachment(a Attachment) {
	m.attachment = &a
}

func (m *Manager) StagedAttachment() (Attachment, bool) {
	if m.attachment == nil {
		return Attachment{}, false
	}
	return *m.attachment, true
}

// TakeAttachment clears the stage and hands the file to the upload path.
func (m *Manager) TakeAttachment() (Attachment, bool) {
	if m.attachment == nil {
		return Attachment{}, false
	}
	a := *m.attachment
	m.attachment = nil
	return a, true
}

func (m *Manager) CancelAttachment() { m.attachment = nil }
