package sync

import (
	"encoding/json"
	gosync "sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convo/internal/apperr"
	"convo/internal/bus"
	"convo/internal/call"
	"convo/internal/cipher"
	"convo/internal/models"
	"convo/internal/permission"
)

type emitted struct {
	name    string
	payload map[string]interface{}
}

type fakeEmitter struct {
	mu     gosync.Mutex
	events []emitted
}

func (f *fakeEmitter) Emit(name string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, _ := payload.(map[string]interface{})
	f.events = append(f.events, emitted{name: name, payload: m})
	return nil
}

func (f *fakeEmitter) named(name string) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeEmitter) reset() {
	f.mu.Lock()
	f.events = nil
	f.mu.Unlock()
}

type upload struct {
	roomID, filename, caption string
	data                      []byte
}

type fakeUploader struct {
	uploads []upload
}

func (f *fakeUploader) UploadFile(roomID, filename string, data []byte, caption string) error {
	f.uploads = append(f.uploads, upload{roomID: roomID, filename: filename, data: data, caption: caption})
	return nil
}

type fixture struct {
	orch     *Orchestrator
	emitter  *fakeEmitter
	uploader *fakeUploader
	cipher   *cipher.Cipher
	net      *call.FakeNetwork
}

func newFixture(t *testing.T, myID string) *fixture {
	t.Helper()
	return newFixtureOnNetwork(t, myID, call.NewFakeNetwork())
}

func newFixtureOnNetwork(t *testing.T, myID string, net *call.FakeNetwork) *fixture {
	t.Helper()
	emitter := &fakeEmitter{}
	uploader := &fakeUploader{}
	c := cipher.New("test-secret")
	orch := New(Config{
		MyID:     myID,
		MyName:   "user-" + myID,
		Token:    func() string { return "tok-" + myID },
		Emitter:  emitter,
		Uploader: uploader,
		Cipher:   c,
		Peering:  net,
		Media:    call.FakeMedia{},
	})
	return &fixture{orch: orch, emitter: emitter, uploader: uploader, cipher: c, net: net}
}

func event(t *testing.T, name string, payload interface{}) bus.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return bus.Event{Name: name, Data: raw}
}

func groupSnapshot() models.DataUpdate {
	return models.DataUpdate{
		Rooms: []models.Room{{
			ID:        "r1",
			Type:      models.RoomGroup,
			Name:      "team",
			CreatedBy: "u1",
			Participants: []models.Participant{
				{ID: "u1", Name: "one", Role: "owner"},
				{ID: "u2", Name: "two", Role: "member"},
				{ID: "u3", Name: "three", Role: "member"},
			},
		}},
		Users: []models.User{
			{ID: "u1", Name: "one"}, {ID: "u2", Name: "two"}, {ID: "u3", Name: "three"},
		},
	}
}

func (f *fixture) loadGroup(t *testing.T) {
	t.Helper()
	f.orch.Dispatch(event(t, models.EvtDataUpdate, groupSnapshot()))
}

func TestConnectRequestsSnapshot(t *testing.T) {
	f := newFixture(t, "u1")
	f.orch.Dispatch(bus.Event{Name: bus.EvtConnect})

	got := f.emitter.named(models.CmdGetData)
	require.Len(t, got, 1)
	assert.Equal(t, "tok-u1", got[0].payload["token"])
}

func TestReconnectRejoinsCurrentRoom(t *testing.T) {
	f := newFixture(t, "u1")
	f.loadGroup(t)
	require.NoError(t, f.orch.OpenRoom("r1"))
	f.emitter.reset()

	f.orch.Dispatch(bus.Event{Name: bus.EvtConnect})
	assert.Len(t, f.emitter.named(models.CmdGetData), 1)
	joins := f.emitter.named(models.CmdJoinChat)
	require.Len(t, joins, 1)
	assert.Equal(t, "r1", joins[0].payload["room_id"])
}

func TestUnknownRoomMessageTriggersResync(t *testing.T) {
	f := newFixture(t, "u1")
	f.loadGroup(t)
	f.emitter.reset()

	f.orch.Dispatch(event(t, models.EvtNewMessage, models.Message{
		ID: 1, RoomID: "r-unknown", SenderID: "u2", Type: models.MessageText,
	}))
	assert.Len(t, f.emitter.named(models.CmdGetData), 1)

	f.orch.Dispatch(event(t, models.EvtNewMessage, models.Message{
		ID: 2, RoomID: "r1", SenderID: "u2", Type: models.MessageText,
	}))
	assert.Len(t, f.emitter.named(models.CmdGetData), 1, "known room must not resync")
}

func TestReactionLastWriteWins(t *testing.T) {
	f := newFixture(t, "u1")
	f.loadGroup(t)
	f.orch.Dispatch(event(t, models.EvtNewMessage, models.Message{
		ID: 5, RoomID: "r1", SenderID: "u1", Type: models.MessageText,
		Content: f.cipher.Encrypt("hello"),
	}))

	f.orch.Dispatch(event(t, models.EvtReactionAdded, models.ReactionUpdate{
		ID: 5, RoomID: "r1",
		Reactions: map[string]models.Reaction{"u2": {Reaction: "❤️", Name: "two"}},
	}))
	f.orch.Dispatch(event(t, models.EvtReactionAdded, models.ReactionUpdate{
		ID: 5, RoomID: "r1",
		Reactions: map[string]models.Reaction{"u2": {Reaction: "👍", Name: "two"}},
	}))

	msgs := f.orch.Messages("r1")
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Reactions, 1)
	assert.Equal(t, "👍", msgs[0].Reactions["u2"].Reaction)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestPromoteGrantsAdminActions(t *testing.T) {
	f := newFixture(t, "u1")
	f.loadGroup(t)

	require.NoError(t, f.orch.PromoteAdmin("r1", "u3"))
	require.Len(t, f.emitter.named(models.CmdPromoteAdmin), 1)

	// The server confirms by pushing the new roster.
	f.orch.Dispatch(event(t, models.EvtGroupUpdate, models.GroupUpdate{
		RoomID: "r1",
		Participants: []models.Participant{
			{ID: "u1", Role: "owner"},
			{ID: "u2", Role: "member"},
			{ID: "u3", Role: "admin"},
		},
	}))

	room, ok := f.orch.Room("r1")
	require.True(t, ok)
	actions := permission.AuthorizedActions(permission.EffectiveRole(room, "u3"), false)
	assert.True(t, actions.Allows(permission.ActionAddParticipant))
	assert.True(t, actions.Allows(permission.ActionRemoveParticipant))
	assert.False(t, actions.Allows(permission.ActionPromote))
	assert.False(t, actions.Allows(permission.ActionDeleteGroup))
}

func TestProfileUpdatedIsIdempotent(t *testing.T) {
	f := newFixture(t, "u1")
	f.loadGroup(t)

	payload := map[string]interface{}{
		"user_id":   "u2",
		"user_data": map[string]interface{}{"bio": "hi there", "real_name": "Two"},
	}
	f.orch.Dispatch(event(t, models.EvtProfileUpdated, payload))
	once := f.orch.Users()
	f.orch.Dispatch(event(t, models.EvtProfileUpdated, payload))
	assert.Equal(t, once, f.orch.Users())
}

func TestOwnRegistrationEchoIgnored(t *testing.T) {
	f := newFixture(t, "u1")
	f.orch.Dispatch(event(t, models.EvtDataUpdate, models.DataUpdate{
		Users: []models.User{{ID: "u2", Name: "two"}},
	}))

	// The broadcast includes the registering user, but snapshots never
	// list the local user; appending ourselves would drift from them.
	f.orch.Dispatch(event(t, models.EvtUserRegistered, models.User{ID: "u1", Name: "one"}))
	for _, u := range f.orch.Users() {
		assert.NotEqual(t, "u1", u.ID, "own registration echo must not appear in the user directory")
	}

	f.orch.Dispatch(event(t, models.EvtUserRegistered, models.User{ID: "u4", Name: "four"}))
	f.orch.Dispatch(event(t, models.EvtUserRegistered, models.User{ID: "u4", Name: "four"}))
	seen := 0
	for _, u := range f.orch.Users() {
		if u.ID == "u4" {
			seen++
		}
	}
	assert.Equal(t, 1, seen)
}

func TestForceJoinSubscribesAndResyncs(t *testing.T) {
	f := newFixture(t, "u1")
	f.loadGroup(t)
	f.emitter.reset()

	f.orch.Dispatch(event(t, models.EvtForceJoinRoom, models.RoomRef{RoomID: "r9"}))

	joins := f.emitter.named(models.CmdJoinChat)
	require.Len(t, joins, 1)
	assert.Equal(t, "r9", joins[0].payload["room_id"])
	assert.Len(t, f.emitter.named(models.CmdGetData), 1)
}

func TestForceLeaveDropsRoomAndCall(t *testing.T) {
	f := newFixture(t, "u1")
	f.loadGroup(t)
	require.NoError(t, f.orch.OpenRoom("r1"))
	require.NoError(t, f.orch.StartCall())
	require.Equal(t, call.StateActive, f.orch.Call().State())

	f.orch.Dispatch(event(t, models.EvtForceLeaveRoom, models.RoomRef{RoomID: "r1"}))

	_, ok := f.orch.Room("r1")
	assert.False(t, ok)
	assert.Empty(t, f.orch.CurrentRoom())
	assert.Empty(t, f.orch.Messages("r1"))
	assert.Equal(t, call.StateIdle, f.orch.Call().State())
}

func TestSendTextEncrypts(t *testing.T) {
	f := newFixture(t, "u1")
	f.loadGroup(t)
	require.NoError(t, f.orch.OpenRoom("r1"))

	require.NoError(t, f.orch.Send("secret plan"))
	sends := f.emitter.named(models.CmdSendMessage)
	require.Len(t, sends, 1)
	assert.Equal(t, "r1", sends[0].payload["room_id"])
	assert.Equal(t, models.MessageText, sends[0].payload["type"])
	ciphertext, _ := sends[0].payload["content"].(string)
	assert.NotEqual(t, "secret plan", ciphertext)
	assert.Equal(t, "secret plan", f.cipher.Decrypt(ciphertext))
}

func TestSendWithoutRoomRejected(t *testing.T) {
	f := newFixture(t, "u1")
	err := f.orch.Send("hi")
	assert.Equal(t, apperr.CodeRejected, apperr.CodeOf(err))
}

func TestSendEditPath(t *testing.T) {
	f := newFixture(t, "u1")
	f.loadGroup(t)
	require.NoError(t, f.orch.OpenRoom("r1"))
	f.orch.Dispatch(event(t, models.EvtNewMessage, models.Message{
		ID: 7, RoomID: "r1", SenderID: "u1", Type: models.MessageText,
		Content: f.cipher.Encrypt("typo"),
	}))

	original, err := f.orch.StartEdit("r1", 7)
	require.NoError(t, err)
	assert.Equal(t, "typo", original)

	require.NoError(t, f.orch.Send("fixed"))
	edits := f.emitter.named(models.CmdEditMessage)
	require.Len(t, edits, 1)
	assert.EqualValues(t, 7, edits[0].payload["id"])
	assert.Empty(t, f.emitter.named(models.CmdSendMessage))

	// The buffer is consumed: the next send is a plain message.
	require.NoError(t, f.orch.Send("new thought"))
	assert.Len(t, f.emitter.named(models.CmdSendMessage), 1)
}

func TestStartEditOnlySender(t *testing.T) {
	f := newFixture(t, "u1")
	f.loadGroup(t)
	f.orch.Dispatch(event(t, models.EvtNewMessage, models.Message{
		ID: 8, RoomID: "r1", SenderID: "u2", Type: models.MessageText,
	}))
	_, err := f.orch.StartEdit("r1", 8)
	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))
}

func TestSendAttachmentUsesUploadTransport(t *testing.T) {
	f := newFixture(t, "u1")
	f.loadGroup(t)
	require.NoError(t, f.orch.OpenRoom("r1"))

	f.orch.StageAttachment("report.pdf", []byte{1, 2, 3}, "")
	require.NoError(t, f.orch.Send("here you go"))

	require.Len(t, f.uploader.uploads, 1)
	up := f.uploader.uploads[0]
	assert.Equal(t, "r1", up.roomID)
	assert.Equal(t, "report.pdf", up.filename)
	assert.Equal(t, "here you go", f.cipher.Decrypt(up.caption))
	assert.Empty(t, f.emitter.named(models.CmdSendMessage), "file sends never emit send_message")
}

func TestGroupManagementGating(t *testing.T) {
	f := newFixture(t, "u2") // plain member
	f.loadGroup(t)

	err := f.orch.UpdateGroupSettings("r1", "new name")
	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))
	err = f.orch.DeleteGroup("r1")
	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))
	err = f.orch.AddParticipant("r1", "u9")
	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))
	assert.Empty(t, f.emitter.named(models.CmdUpdateGroupSettings))
	assert.Empty(t, f.emitter.named(models.CmdDeleteGroup))

	// Leaving is the one thing a member may do and the one thing the
	// owner may not.
	assert.NoError(t, f.orch.LeaveGroup("r1"))

	owner := newFixture(t, "u1")
	owner.loadGroup(t)
	err = owner.orch.LeaveGroup("r1")
	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))
	assert.NoError(t, owner.orch.DeleteGroup("r1"))
}

func TestRemoveEqualOrHigherRejected(t *testing.T) {
	f := newFixture(t, "u3")
	f.orch.Dispatch(event(t, models.EvtDataUpdate, models.DataUpdate{
		Rooms: []models.Room{{
			ID: "r1", Type: models.RoomGroup, CreatedBy: "u1",
			Participants: []models.Participant{
				{ID: "u1", Role: "owner"},
				{ID: "u2", Role: "admin"},
				{ID: "u3", Role: "admin"},
			},
		}},
	}))

	err := f.orch.RemoveParticipant("r1", "u2")
	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))
	err = f.orch.RemoveParticipant("r1", "u1")
	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))
	assert.Empty(t, f.emitter.named(models.CmdRemoveGroupParticipant))
}

func TestStartPrivateChatBlockedLocally(t *testing.T) {
	f := newFixture(t, "u1")
	f.orch.Dispatch(event(t, models.EvtDataUpdate, models.DataUpdate{
		MyProfile: &models.Profile{ID: "u1", BlockedUsers: []string{"u9"}},
	}))

	err := f.orch.StartPrivateChat("u9")
	assert.Equal(t, apperr.CodeRejected, apperr.CodeOf(err))
	assert.NoError(t, f.orch.StartPrivateChat("u2"))
}

func TestCallSignalingRoundTrip(t *testing.T) {
	net := call.NewFakeNetwork()
	a := newFixtureOnNetwork(t, "u1", net)
	b := newFixtureOnNetwork(t, "u2", net)
	a.loadGroup(t)
	b.loadGroup(t)
	require.NoError(t, a.orch.OpenRoom("r1"))
	require.NoError(t, b.orch.OpenRoom("r1"))

	require.NoError(t, a.orch.StartCall())
	joins := a.emitter.named(models.CmdJoinVideoRoom)
	require.Len(t, joins, 1)
	assert.Equal(t, "r1", joins[0].payload["room_id"])
	assert.Equal(t, a.orch.Call().PeerID(), joins[0].payload["peer_id"])

	require.NoError(t, b.orch.StartCall())
	// The server would relay b's announcement to a.
	a.orch.Dispatch(event(t, models.EvtUserConnectedVideo, models.VideoPeer{PeerID: b.orch.Call().PeerID()}))

	assert.Equal(t, []string{b.orch.Call().PeerID()}, a.orch.Call().Peers())
	assert.Equal(t, []string{a.orch.Call().PeerID()}, b.orch.Call().Peers())

	require.NoError(t, b.orch.EndCall())
	a.orch.Dispatch(event(t, models.EvtUserDisconnectedVideo, models.VideoPeer{PeerID: joinPeer(b)}))
	assert.Empty(t, a.orch.Call().Peers())
}

// joinPeer digs b's announced peer id out of the emitted commands,
// since the session forgets it after leaving.
func joinPeer(f *fixture) string {
	joins := f.emitter.named(models.CmdJoinVideoRoom)
	if len(joins) == 0 {
		return ""
	}
	id, _ := joins[0].payload["peer_id"].(string)
	return id
}

func TestMessageRemovalEvents(t *testing.T) {
	f := newFixture(t, "u1")
	f.loadGroup(t)
	for _, id := range []int64{1, 2, 3} {
		f.orch.Dispatch(event(t, models.EvtNewMessage, models.Message{
			ID: id, RoomID: "r1", SenderID: "u2", Type: models.MessageText,
		}))
	}

	f.orch.Dispatch(event(t, models.EvtMessageHidden, models.MessageRef{ID: 2, RoomID: "r1"}))
	f.orch.Dispatch(event(t, models.EvtMessageDeleted, models.MessageRef{ID: 3, RoomID: "r1"}))

	msgs := f.orch.Messages("r1")
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(1), msgs[0].ID)
}

func TestChatHistoryReplacesLog(t *testing.T) {
	f := newFixture(t, "u1")
	f.loadGroup(t)
	f.orch.Dispatch(event(t, models.EvtNewMessage, models.Message{ID: 99, RoomID: "r1", SenderID: "u2"}))

	f.orch.Dispatch(event(t, models.EvtChatHistory, models.ChatHistory{
		RoomID: "r1",
		Messages: []models.Message{
			{ID: 1, RoomID: "r1", SenderID: "u2"},
			{ID: 2, RoomID: "r1", SenderID: "u1"},
		},
	}))

	msgs := f.orch.Messages("r1")
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(1), msgs[0].ID)
	assert.Equal(t, int64(2), msgs[1].ID)
}
