package messages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convo/internal/models"
)

func msg(id int64, room, sender, content string) models.Message {
	return models.Message{ID: id, RoomID: room, SenderID: sender, Type: models.MessageText, Content: content}
}

func TestAppendKeepsOrderAndDeduplicates(t *testing.T) {
	m := NewManager()
	m.Append(msg(1, "r1", "u1", "a"))
	m.Append(msg(2, "r1", "u2", "b"))
	m.Append(msg(2, "r1", "u2", "b again")) // redelivery replaces in place

	log := m.Messages("r1")
	require.Len(t, log, 2)
	assert.Equal(t, int64(1), log[0].ID)
	assert.Equal(t, "b again", log[1].Content)
}

func TestLoadHistoryReplaces(t *testing.T) {
	m := NewManager()
	m.Append(msg(1, "r1", "u1", "stale"))

	m.LoadHistory("r1", []models.Message{msg(5, "r1", "u2", "x"), msg(6, "r1", "u1", "y")})
	log := m.Messages("r1")
	require.Len(t, log, 2)
	assert.Equal(t, int64(5), log[0].ID)
}

func TestApplyEdit(t *testing.T) {
	m := NewManager()
	m.Append(msg(1, "r1", "u1", "old"))

	ok := m.ApplyEdit(models.MessageEdited{ID: 1, RoomID: "r1", Content: "new", EditedAt: "2024-03-01T10:00:00"})
	require.True(t, ok)

	got, _ := m.Message("r1", 1)
	assert.Equal(t, "new", got.Content)
	assert.Equal(t, "2024-03-01T10:00:00", got.EditedAt)

	// Edits for unknown (hidden/deleted) messages do not resurrect them.
	assert.False(t, m.ApplyEdit(models.MessageEdited{ID: 99, RoomID: "r1", Content: "x"}))
	assert.Len(t, m.Messages("r1"), 1)
}

// Hidden for viewer A removes the message from A's log only. B's manager, fed
// the same history minus the hide, still has it.
func TestHideIsPerViewer(t *testing.T) {
	a := NewManager()
	b := NewManager()
	for _, mgr := range []*Manager{a, b} {
		mgr.Append(msg(1, "r1", "u1", "hello"))
		mgr.Append(msg(2, "r1", "u2", "world"))
	}

	require.True(t, a.Remove("r1", 1)) // message_hidden reaches only A

	assert.Len(t, a.Messages("r1"), 1)
	assert.Len(t, b.Messages("r1"), 2)

	// message_deleted reaches everyone and removes identically.
	require.True(t, a.Remove("r1", 2))
	require.True(t, b.Remove("r1", 2))
	assert.Empty(t, a.Messages("r1"))
}

func TestRemoveUnknown(t *testing.T) {
	m := NewManager()
	assert.False(t, m.Remove("r1", 42))
}

func TestReactionsReplaceWholesale(t *testing.T) {
	m := NewManager()
	m.Append(msg(5, "r1", "u1", "hi"))

	m.SetReactions("r1", 5, map[string]models.Reaction{"u2": {Reaction: "❤️"}})
	m.SetReactions("r1", 5, map[string]models.Reaction{"u2": {Reaction: "👍"}})

	got, _ := m.Message("r1", 5)
	require.Len(t, got.Reactions, 1)
	assert.Equal(t, "👍", got.Reactions["u2"].Reaction)
}

func TestSingleEditBuffer(t *testing.T) {
	m := NewManager()
	m.Append(msg(1, "r1", "u1", "one"))
	m.Append(msg(2, "r1", "u1", "two"))

	m.StartEdit("r1", 1, "one")
	// Starting another edit silently discards the first buffer.
	m.StartEdit("r1", 2, "two")

	e, ok := m.ActiveEdit()
	require.True(t, ok)
	assert.Equal(t, int64(2), e.MessageID)

	done, ok := m.FinishEdit()
	require.True(t, ok)
	assert.Equal(t, int64(2), done.MessageID)

	_, ok = m.ActiveEdit()
	assert.False(t, ok, "finish clears the buffer")
	_, ok = m.FinishEdit()
	assert.False(t, ok)
}

func TestEditBufferDroppedWhenMessageRemoved(t *testing.T) {
	m := NewManager()
	m.Append(msg(1, "r1", "u1", "one"))
	m.StartEdit("r1", 1, "one")

	m.Remove("r1", 1)
	_, ok := m.ActiveEdit()
	assert.False(t, ok)
}

func TestEditBufferDroppedWithRoom(t *testing.T) {
	m := NewManager()
	m.Append(msg(1, "r1", "u1", "one"))
	m.StartEdit("r1", 1, "one")

	m.ClearRoom("r1")
	_, ok := m.ActiveEdit()
	assert.False(t, ok)
	assert.Empty(t, m.Messages("r1"))
}

func TestAttachmentStage(t *testing.T) {
	m := NewManager()

	_, ok := m.TakeAttachment()
	assert.False(t, ok)

	m.StageAttachment(Attachment{Filename: "cat.png", Data: []byte{1, 2}, Caption: "look"})
	staged, ok := m.StagedAttachment()
	require.True(t, ok)
	assert.Equal(t, "cat.png", staged.Filename)

	taken, ok := m.TakeAttachment()
	require.True(t, ok)
	assert.Equal(t, "look", taken.Caption)

	_, ok = m.StagedAttachment()
	assert.False(t, ok, "take clears the stage")
}
