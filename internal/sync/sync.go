// Package sync is the reactor between the event bus and the pure state
// packages. One orchestrator owns the whole session: caches, message
// logs, the current room, and the call session. Every mutation becomes
// visible through a push event, including the ones this client
// originated; intents only validate and emit.
package sync

import (
	"encoding/json"
	"log"
	"os"
	gosync "sync"

	"convo/internal/bus"
	"convo/internal/cache"
	"convo/internal/call"
	"convo/internal/cipher"
	"convo/internal/messages"
	"convo/internal/models"
)

// Emitter is the outbound side of the event bus.
type Emitter interface {
	Emit(event string, payload interface{}) error
}

// Uploader is the slice of the HTTP client the send path needs.
type Uploader interface {
	UploadFile(roomID, filename string, data []byte, caption string) error
}

// Notifier receives toasts. Sound and rendering live outside the core.
type Notifier interface {
	Notify(title, body string)
}

type noopNotifier struct{}

func (noopNotifier) Notify(string, string) {}

// Config wires the orchestrator's collaborators.
type Config struct {
	MyID     string
	MyName   string
	Token    func() string // current bearer token, inlined in every command
	Emitter  Emitter
	Uploader Uploader
	Cipher   *cipher.Cipher
	Notifier Notifier
	Peering  call.Peering
	Media    call.MediaSource
}

type handlerFunc func(data json.RawMessage)

// Orchestrator holds all session state and the handler table. State is
// guarded by one mutex: events arrive on the run loop goroutine while
// intents come from the presentation layer.
type Orchestrator struct {
	myID     string
	myName   string
	token    func() string
	emitter  Emitter
	uploader Uploader
	cipher   *cipher.Cipher
	notifier Notifier
	logger   *log.Logger

	mu          gosync.Mutex
	cache       *cache.Store
	msgs        *messages.Manager
	currentRoom string

	callSession *call.Session
	handlers    map[string]handlerFunc
	changed     func()
}

func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		myID:     cfg.MyID,
		myName:   cfg.MyName,
		token:    cfg.Token,
		emitter:  cfg.Emitter,
		uploader: cfg.Uploader,
		cipher:   cfg.Cipher,
		notifier: cfg.Notifier,
		logger:   log.New(os.Stdout, "[SYNC] ", log.LstdFlags|log.Lshortfile),
		cache:    cache.New(),
		msgs:     messages.NewManager(),
	}
	if o.notifier == nil {
		o.notifier = noopNotifier{}
	}
	o.callSession = call.NewSession(cfg.Peering, cfg.Media, o)
	o.handlers = o.buildHandlers()
	return o
}

// OnChange installs a callback fired after every handled event, for
// the presentation layer to re-read state.
func (o *Orchestrator) OnChange(fn func()) {
	o.mu.Lock()
	o.changed = fn
	o.mu.Unlock()
}

// Run consumes bus events until the channel closes or ctx is done.
// Handlers run to completion on this goroutine, strictly in delivery
// order.
func (o *Orchestrator) Run(events <-chan bus.Event) {
	for evt := range events {
		o.Dispatch(evt)
	}
}

// Dispatch routes one event through the handler table. Unknown events
// are skipped, not errors: the server may grow new ones.
func (o *Orchestrator) Dispatch(evt bus.Event) {
	h, ok := o.handlers[evt.Name]
	if !ok {
		o.logger.Printf("no handler for event %q", evt.Name)
		return
	}
	h(evt.Data)

	o.mu.Lock()
	changed := o.changed
	o.mu.Unlock()
	if changed != nil {
		changed()
	}
}

// buildHandlers constructs the event handler table once at startup.
func (o *Orchestrator) buildHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		bus.EvtConnect:                  o.handleConnect,
		models.EvtDataUpdate:            o.handleDataUpdate,
		models.EvtNewMessage:            o.handleNewMessage,
		models.EvtMessageEdited:         o.handleMessageEdited,
		models.EvtMessageHidden:         o.handleMessageGone,
		models.EvtMessageDeleted:        o.handleMessageGone,
		models.EvtReactionAdded:         o.handleReactionAdded,
		models.EvtUserStatus:            o.handleUserStatus,
		models.EvtUserRegistered:        o.handleUserRegistered,
		models.EvtProfileUpdated:        o.handleProfileUpdated,
		models.EvtUserUpdated:           o.handleUserUpdated,
		models.EvtGroupUpdated:          o.handleGroupUpdated,
		models.EvtGroupUpdate:           o.handleGroupUpdate,
		models.EvtGroupDetails:          o.handleGroupDetails,
		models.EvtParticipantAdded:      o.handleParticipantAdded,
		models.EvtParticipantRemoved:    o.handleParticipantRemoved,
		models.EvtChatDeleted:           o.handleChatDeleted,
		models.EvtForceLeaveRoom:        o.handleForceLeaveRoom,
		models.EvtForceJoinRoom:         o.handleForceJoinRoom,
		models.EvtPrivateChatReady:      o.handlePrivateChatReady,
		models.EvtGroupCreated:          o.handleResync,
		models.EvtChatHistory:           o.handleChatHistory,
		models.EvtUserConnectedVideo:    o.handlePeerJoined,
		models.EvtUserDisconnectedVideo: o.handlePeerLeft,
		models.EvtMessageError:          o.handleMessageError,
		models.EvtNotification:          o.handleNotification,
	}
}

// emit sends a command with the bearer token inlined.
func (o *Orchestrator) emit(cmd string, fields map[string]interface{}) error {
	payload := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		payload[k] = v
	}
	payload["token"] = o.token()
	return o.emitter.Emit(cmd, payload)
}

func (o *Orchestrator) decode(name string, data json.RawMessage, dst interface{}) bool {
	if err := json.Unmarshal(data, dst); err != nil {
		o.logger.Printf("drop malformed %s payload: %v", name, err)
		return false
	}
	return true
}

// handleConnect re-anchors state: an unknown number of events may have
// been missed, so a full snapshot is mandatory on every (re)connect.
func (o *Orchestrator) handleConnect(json.RawMessage) {
	if err := o.emit(models.CmdGetData, nil); err != nil {
		o.logger.Printf("request snapshot: %v", err)
	}
	o.mu.Lock()
	room := o.currentRoom
	o.mu.Unlock()
	if room != "" {
		if err := o.emit(models.CmdJoinChat, map[string]interface{}{"room_id": room}); err != nil {
			o.logger.Printf("rejoin %s: %v", room, err)
		}
	}
}

func (o *Orchestrator) handleResync(json.RawMessage) {
	if err := o.emit(models.CmdGetData, nil); err != nil {
		o.logger.Printf("request snapshot: %v", err)
	}
}

// handleForceJoinRoom subscribes to the new room immediately so its
// live messages start arriving, then reconciles the full state.
func (o *Orchestrator) handleForceJoinRoom(data json.RawMessage) {
	var ref models.RoomRef
	if o.decode(models.EvtForceJoinRoom, data, &ref) && ref.RoomID != "" {
		if err := o.emit(models.CmdJoinChat, map[string]interface{}{"room_id": ref.RoomID}); err != nil {
			o.logger.Printf("join %s: %v", ref.RoomID, err)
		}
	}
	o.handleResync(nil)
}

func (o *Orchestrator) handleDataUpdate(data json.RawMessage) {
	var snapshot models.DataUpdate
	if !o.decode(models.EvtDataUpdate, data, &snapshot) {
		return
	}
	o.mu.Lock()
	o.cache.ApplySnapshot(snapshot)
	if o.currentRoom != "" {
		if _, ok := o.cache.Room(o.currentRoom); !ok {
			o.currentRoom = ""
		}
	}
	o.mu.Unlock()
}

func (o *Orchestrator) handleNewMessage(data json.RawMessage) {
	var msg models.Message
	if !o.decode(models.EvtNewMessage, data, &msg) {
		return
	}
	o.mu.Lock()
	_, known := o.cache.Room(msg.RoomID)
	o.msgs.Append(msg)
	o.mu.Unlock()

	// A message for a room we have never heard of means local state
	// has diverged; fall back to the snapshot.
	if !known {
		o.handleResync(nil)
	}
	if msg.SenderID != o.myID {
		o.notifier.Notify(msg.SenderName, o.previewText(msg))
	}
}

func (o *Orchestrator) previewText(msg models.Message) string {
	switch msg.Type {
	case models.MessageText:
		return o.cipher.Decrypt(msg.Content)
	case models.MessageFile:
		return msg.Filename
	default:
		return msg.Type
	}
}

func (o *Orchestrator) handleMessageEdited(data json.RawMessage) {
	var e models.MessageEdited
	if !o.decode(models.EvtMessageEdited, data, &e) {
		return
	}
	o.mu.Lock()
	o.msgs.ApplyEdit(e)
	o.mu.Unlock()
}

// handleMessageGone covers both hide-for-viewer and delete-for-everyone:
// from this client's perspective both are a removal from the log.
func (o *Orchestrator) handleMessageGone(data json.RawMessage) {
	var ref models.MessageRef
	if !o.decode("message removal", data, &ref) {
		return
	}
	o.mu.Lock()
	o.msgs.Remove(ref.RoomID, ref.ID)
	o.mu.Unlock()
}

func (o *Orchestrator) handleReactionAdded(data json.RawMessage) {
	var r models.ReactionUpdate
	if !o.decode(models.EvtReactionAdded, data, &r) {
		return
	}
	o.mu.Lock()
	o.msgs.SetReactions(r.RoomID, r.ID, r.Reactions)
	o.mu.Unlock()
}

func (o *Orchestrator) handleUserStatus(data json.RawMessage) {
	var s models.UserStatus
	if !o.decode(models.EvtUserStatus, data, &s) {
		return
	}
	o.mu.Lock()
	o.cache.SetUserStatus(s.UserID, s.Status == "online", s.LastActive, s.Gender)
	o.mu.Unlock()
}

func (o *Orchestrator) handleUserRegistered(data json.RawMessage) {
	var u models.User
	if !o.decode(models.EvtUserRegistered, data, &u) {
		return
	}
	// Our own registration is broadcast too, but snapshots never list
	// us among the users; adding ourselves would diverge until the
	// next reconciliation.
	if u.ID == o.myID {
		return
	}
	o.mu.Lock()
	o.cache.AddUser(u)
	o.mu.Unlock()
}

// handleProfileUpdated merges only the fields present in the payload,
// so replaying the same event is idempotent.
func (o *Orchestrator) handleProfileUpdated(data json.RawMessage) {
	var envelope struct {
		UserID   string          `json:"user_id"`
		UserData json.RawMessage `json:"user_data"`
	}
	if !o.decode(models.EvtProfileUpdated, data, &envelope) {
		return
	}
	var patch cache.UserPatch
	if !o.decode(models.EvtProfileUpdated, envelope.UserData, &patch) {
		return
	}
	o.mu.Lock()
	o.cache.MergeUser(envelope.UserID, patch)
	if envelope.UserID == o.myID {
		o.cache.MergeProfile(patch)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) handleUserUpdated(data json.RawMessage) {
	var envelope struct {
		ID string `json:"id"`
	}
	if !o.decode(models.EvtUserUpdated, data, &envelope) {
		return
	}
	var patch cache.UserPatch
	if !o.decode(models.EvtUserUpdated, data, &patch) {
		return
	}
	o.mu.Lock()
	o.cache.MergeUser(envelope.ID, patch)
	if envelope.ID == o.myID {
		o.cache.MergeProfile(patch)
	}
	o.mu.Unlock()
}

// group_updated is keyed by "id", group_update by "room_id"; both are
// field-level merges into the same room.
func (o *Orchestrator) handleGroupUpdated(data json.RawMessage) {
	var envelope struct {
		ID string `json:"id"`
	}
	if !o.decode(models.EvtGroupUpdated, data, &envelope) {
		return
	}
	o.mergeRoomPatch(models.EvtGroupUpdated, envelope.ID, data)
}

func (o *Orchestrator) handleGroupUpdate(data json.RawMessage) {
	var envelope struct {
		RoomID string `json:"room_id"`
	}
	if !o.decode(models.EvtGroupUpdate, data, &envelope) {
		return
	}
	o.mergeRoomPatch(models.EvtGroupUpdate, envelope.RoomID, data)
}

func (o *Orchestrator) mergeRoomPatch(name, roomID string, data json.RawMessage) {
	var patch cache.RoomPatch
	if !o.decode(name, data, &patch) {
		return
	}
	o.mu.Lock()
	o.cache.MergeRoom(roomID, patch)
	o.mu.Unlock()
}

func (o *Orchestrator) handleGroupDetails(data json.RawMessage) {
	var d models.GroupDetails
	if !o.decode(models.EvtGroupDetails, data, &d) {
		return
	}
	o.mu.Lock()
	o.cache.MergeRoom(d.RoomID, cache.RoomPatch{
		CreatedBy:    &d.CreatedBy,
		Participants: &d.Participants,
	})
	o.mu.Unlock()
}

func (o *Orchestrator) handleParticipantAdded(data json.RawMessage) {
	var p models.ParticipantAdded
	if !o.decode(models.EvtParticipantAdded, data, &p) {
		return
	}
	o.mu.Lock()
	o.cache.AddParticipant(p.RoomID, p.User)
	o.mu.Unlock()
}

func (o *Orchestrator) handleParticipantRemoved(data json.RawMessage) {
	var p models.ParticipantRemoved
	if !o.decode(models.EvtParticipantRemoved, data, &p) {
		return
	}
	if p.UserID == o.myID {
		o.dropRoom(p.RoomID)
		return
	}
	o.mu.Lock()
	o.cache.RemoveParticipant(p.RoomID, p.UserID)
	o.mu.Unlock()
}

func (o *Orchestrator) handleChatDeleted(data json.RawMessage) {
	var d models.ChatDeleted
	if !o.decode(models.EvtChatDeleted, data, &d) {
		return
	}
	o.dropRoom(d.ID)
}

func (o *Orchestrator) handleForceLeaveRoom(data json.RawMessage) {
	var ref models.RoomRef
	if !o.decode(models.EvtForceLeaveRoom, data, &ref) {
		return
	}
	o.dropRoom(ref.RoomID)
}

// dropRoom removes every trace of a room, including a call in it.
func (o *Orchestrator) dropRoom(roomID string) {
	o.mu.Lock()
	o.cache.RemoveRoom(roomID)
	o.msgs.ClearRoom(roomID)
	wasCurrent := o.currentRoom == roomID
	if wasCurrent {
		o.currentRoom = ""
	}
	inCall := o.callSession.RoomID() == roomID
	o.mu.Unlock()

	if inCall {
		if err := o.callSession.Leave(); err != nil {
			o.logger.Printf("leave call in removed room %s: %v", roomID, err)
		}
	}
}

func (o *Orchestrator) handlePrivateChatReady(data json.RawMessage) {
	var ref models.RoomRef
	if !o.decode(models.EvtPrivateChatReady, data, &ref) {
		return
	}
	o.handleResync(nil)
	if err := o.OpenRoom(ref.RoomID); err != nil {
		o.logger.Printf("open private chat %s: %v", ref.RoomID, err)
	}
}

func (o *Orchestrator) handleChatHistory(data json.RawMessage) {
	var h models.ChatHistory
	if !o.decode(models.EvtChatHistory, data, &h) {
		return
	}
	o.mu.Lock()
	o.msgs.LoadHistory(h.RoomID, h.Messages)
	o.mu.Unlock()
}

func (o *Orchestrator) handlePeerJoined(data json.RawMessage) {
	var p models.VideoPeer
	if !o.decode(models.EvtUserConnectedVideo, data, &p) {
		return
	}
	o.callSession.HandlePeerJoined(p.PeerID)
}

func (o *Orchestrator) handlePeerLeft(data json.RawMessage) {
	var p models.VideoPeer
	if !o.decode(models.EvtUserDisconnectedVideo, data, &p) {
		return
	}
	o.callSession.HandlePeerLeft(p.PeerID)
}

func (o *Orchestrator) handleMessageError(data json.RawMessage) {
	var e models.MessageError
	if !o.decode(models.EvtMessageError, data, &e) {
		return
	}
	o.logger.Printf("server rejected message: %s", e.Error)
	o.notifier.Notify("Message failed", e.Error)
}

func (o *Orchestrator) handleNotification(data json.RawMessage) {
	var n models.Notification
	if !o.decode(models.EvtNotification, data, &n) {
		return
	}
	o.notifier.Notify(n.Title, n.Body)
}

// AnnounceJoin and AnnounceLeave make the orchestrator the call
// session's signaling transport.
func (o *Orchestrator) AnnounceJoin(roomID, peerID string) error {
	return o.emit(models.CmdJoinVideoRoom, map[string]interface{}{
		"room_id": roomID,
		"peer_id": peerID,
	})
}

func (o *Orchestrator) AnnounceLeave(roomID, peerID string) error {
	return o.emit(models.CmdLeaveVideoRoom, map[string]interface{}{
		"room_id": roomID,
		"peer_id": peerID,
	})
}
