package sync

import (
	"convo/internal/apperr"
	"convo/internal/call"
	"convo/internal/messages"
	"convo/internal/models"
	"convo/internal/permission"
)

// Intents: everything the presentation layer may ask for. Each one
// validates locally against the permission engine before emitting; the
// server re-validates and confirms through a push event, so nothing
// here mutates message or room state directly.

func (o *Orchestrator) MyID() string { return o.myID }

func (o *Orchestrator) CurrentRoom() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentRoom
}

func (o *Orchestrator) Rooms() []models.Room {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cache.Rooms()
}

func (o *Orchestrator) Users() []models.User {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cache.Users()
}

func (o *Orchestrator) Room(id string) (models.Room, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cache.Room(id)
}

func (o *Orchestrator) Profile() models.Profile {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cache.Profile()
}

func (o *Orchestrator) IsBlocked(userID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cache.IsBlocked(userID)
}

// Messages returns the room's log with text bodies decrypted for
// display. The stored log keeps the ciphertext.
func (o *Orchestrator) Messages(roomID string) []models.Message {
	o.mu.Lock()
	msgs := o.msgs.Messages(roomID)
	o.mu.Unlock()
	for i := range msgs {
		if msgs[i].Type == models.MessageText {
			msgs[i].Content = o.cipher.Decrypt(msgs[i].Content)
		}
	}
	return msgs
}

// MyActions answers what the caller may do in a room.
func (o *Orchestrator) MyActions(roomID string) permission.Set {
	o.mu.Lock()
	room, ok := o.cache.Room(roomID)
	o.mu.Unlock()
	if !ok {
		return permission.Set{}
	}
	role := permission.EffectiveRole(room, o.myID)
	return permission.AuthorizedActions(role, room.CreatedBy == o.myID)
}

func (o *Orchestrator) Call() *call.Session { return o.callSession }

// OpenRoom makes a room current and asks the server for its history.
func (o *Orchestrator) OpenRoom(roomID string) error {
	o.mu.Lock()
	o.currentRoom = roomID
	o.mu.Unlock()
	return o.emit(models.CmdJoinChat, map[string]interface{}{"room_id": roomID})
}

func (o *Orchestrator) CloseRoom() {
	o.mu.Lock()
	o.currentRoom = ""
	o.mu.Unlock()
}

// Send is the composer's single entry point. Three mutually exclusive
// paths: a staged attachment goes through the upload transport and
// never emits send_message; an active edit buffer turns into an
// edit_message; otherwise a plain text send. State appears only when
// the server's push event comes back.
func (o *Orchestrator) Send(text string) error {
	o.mu.Lock()
	roomID := o.currentRoom
	if roomID == "" {
		o.mu.Unlock()
		return apperr.Rejected("no room selected")
	}
	if attachment, ok := o.msgs.TakeAttachment(); ok {
		o.mu.Unlock()
		caption := text
		if caption == "" {
			caption = attachment.Caption
		}
		if caption != "" {
			caption = o.cipher.Encrypt(caption)
		}
		if err := o.uploader.UploadFile(roomID, attachment.Filename, attachment.Data, caption); err != nil {
			return err
		}
		// The upload may outlive the room selection; the resulting
		// message re-enters through new_message regardless.
		return nil
	}
	if edit, ok := o.msgs.FinishEdit(); ok {
		o.mu.Unlock()
		if text == "" {
			return apperr.Rejected("empty edit")
		}
		return o.emit(models.CmdEditMessage, map[string]interface{}{
			"id":      edit.MessageID,
			"room_id": edit.RoomID,
			"content": o.cipher.Encrypt(text),
		})
	}
	o.mu.Unlock()
	if text == "" {
		return apperr.Rejected("empty message")
	}
	return o.emit(models.CmdSendMessage, map[string]interface{}{
		"room_id": roomID,
		"content": o.cipher.Encrypt(text),
		"type":    models.MessageText,
	})
}

// SendMedia sends recorded voice or video as a data URI through the
// ordinary message command.
func (o *Orchestrator) SendMedia(kind, dataURI string) error {
	if kind != models.MessageVoice && kind != models.MessageVideo {
		return apperr.Rejected("unsupported media kind " + kind)
	}
	o.mu.Lock()
	roomID := o.currentRoom
	o.mu.Unlock()
	if roomID == "" {
		return apperr.Rejected("no room selected")
	}
	return o.emit(models.CmdSendMessage, map[string]interface{}{
		"room_id": roomID,
		"content": dataURI,
		"type":    kind,
	})
}

// StageAttachment parks a file on the composer; the next Send uploads
// it instead of emitting a message.
func (o *Orchestrator) StageAttachment(filename string, data []byte, caption string) {
	o.mu.Lock()
	o.msgs.StageAttachment(messages.Attachment{Filename: filename, Data: data, Caption: caption})
	o.mu.Unlock()
}

func (o *Orchestrator) CancelAttachment() {
	o.mu.Lock()
	o.msgs.CancelAttachment()
	o.mu.Unlock()
}

// StartEdit loads a message into the edit buffer with its plaintext.
// Only the sender may edit; a previous unsent edit is discarded.
func (o *Orchestrator) StartEdit(roomID string, id int64) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	msg, ok := o.msgs.Message(roomID, id)
	if !ok {
		return "", apperr.NotFound("message not found")
	}
	if !permission.CanEdit(msg, o.myID) {
		return "", apperr.Forbidden("only the sender can edit")
	}
	if msg.Type != models.MessageText {
		return "", apperr.Rejected("only text messages can be edited")
	}
	original := o.cipher.Decrypt(msg.Content)
	o.msgs.StartEdit(roomID, id, original)
	return original, nil
}

func (o *Orchestrator) CancelEdit() {
	o.mu.Lock()
	o.msgs.CancelEdit()
	o.mu.Unlock()
}

// DeleteMessage hides a message for the caller, or removes it for
// everyone when the caller sent it.
func (o *Orchestrator) DeleteMessage(roomID string, id int64, forEveryone bool) error {
	o.mu.Lock()
	msg, ok := o.msgs.Message(roomID, id)
	o.mu.Unlock()
	if !ok {
		return apperr.NotFound("message not found")
	}
	if forEveryone && !permission.CanDeleteForEveryone(msg, o.myID) {
		return apperr.Forbidden("only the sender can delete for everyone")
	}
	return o.emit(models.CmdDeleteMessage, map[string]interface{}{
		"id":           id,
		"room_id":      roomID,
		"for_everyone": forEveryone,
	})
}

func (o *Orchestrator) AddReaction(roomID string, id int64, reaction string) error {
	return o.emit(models.CmdAddReaction, map[string]interface{}{
		"id":       id,
		"room_id":  roomID,
		"reaction": reaction,
	})
}

func (o *Orchestrator) RemoveReaction(roomID string, id int64) error {
	return o.emit(models.CmdRemoveReaction, map[string]interface{}{
		"id":      id,
		"room_id": roomID,
	})
}

func (o *Orchestrator) StartPrivateChat(targetID string) error {
	if o.IsBlocked(targetID) {
		return apperr.Rejected("user is blocked")
	}
	return o.emit(models.CmdStartPrivateChat, map[string]interface{}{"target_id": targetID})
}

func (o *Orchestrator) CreateGroup(name string, members []string) error {
	if name == "" {
		return apperr.Rejected("group needs a name")
	}
	return o.emit(models.CmdCreateGroup, map[string]interface{}{
		"name":    name,
		"members": members,
	})
}

func (o *Orchestrator) UpdateGroupSettings(roomID, name string) error {
	if err := o.requireAction(roomID, permission.ActionEditName); err != nil {
		return err
	}
	return o.emit(models.CmdUpdateGroupSettings, map[string]interface{}{
		"room_id": roomID,
		"name":    name,
	})
}

func (o *Orchestrator) DeleteGroup(roomID string) error {
	if err := o.requireAction(roomID, permission.ActionDeleteGroup); err != nil {
		return err
	}
	return o.emit(models.CmdDeleteGroup, map[string]interface{}{"room_id": roomID})
}

// LeaveGroup is denied to the owner: the group must be deleted
// instead.
func (o *Orchestrator) LeaveGroup(roomID string) error {
	if err := o.requireAction(roomID, permission.ActionLeave); err != nil {
		return err
	}
	return o.emit(models.CmdLeaveGroup, map[string]interface{}{"room_id": roomID})
}

func (o *Orchestrator) AddParticipant(roomID, targetID string) error {
	if err := o.requireAction(roomID, permission.ActionAddParticipant); err != nil {
		return err
	}
	return o.emit(models.CmdAddGroupParticipant, map[string]interface{}{
		"room_id":   roomID,
		"target_id": targetID,
	})
}

// RemoveParticipant rejects equal-or-higher targets before anything
// touches the network. The server enforces the same rule.
func (o *Orchestrator) RemoveParticipant(roomID, targetID string) error {
	if err := o.requireAction(roomID, permission.ActionRemoveParticipant); err != nil {
		return err
	}
	actor, target, err := o.rolesOf(roomID, targetID)
	if err != nil {
		return err
	}
	if !permission.CanRemove(actor, target) {
		return apperr.Forbidden("cannot remove an equal or higher role")
	}
	return o.emit(models.CmdRemoveGroupParticipant, map[string]interface{}{
		"room_id":   roomID,
		"target_id": targetID,
	})
}

func (o *Orchestrator) PromoteAdmin(roomID, targetID string) error {
	return o.changeRole(models.CmdPromoteAdmin, roomID, targetID)
}

func (o *Orchestrator) DemoteAdmin(roomID, targetID string) error {
	return o.changeRole(models.CmdDemoteAdmin, roomID, targetID)
}

func (o *Orchestrator) changeRole(cmd, roomID, targetID string) error {
	actor, target, err := o.rolesOf(roomID, targetID)
	if err != nil {
		return err
	}
	if !permission.CanChangeRole(actor, target) {
		return apperr.Forbidden("only the owner can change roles")
	}
	return o.emit(cmd, map[string]interface{}{
		"room_id":   roomID,
		"target_id": targetID,
	})
}

func (o *Orchestrator) UpdateProfile(realName, birthDate, gender, bio string) error {
	return o.emit(models.CmdUpdateProfile, map[string]interface{}{
		"real_name":  realName,
		"birth_date": birthDate,
		"gender":     gender,
		"bio":        bio,
	})
}

// StartCall joins the current room's call mesh.
func (o *Orchestrator) StartCall() error {
	o.mu.Lock()
	roomID := o.currentRoom
	o.mu.Unlock()
	if roomID == "" {
		return apperr.Rejected("no room selected")
	}
	return o.callSession.Join(roomID)
}

func (o *Orchestrator) EndCall() error {
	return o.callSession.Leave()
}

func (o *Orchestrator) requireAction(roomID string, action permission.Action) error {
	if !o.MyActions(roomID).Allows(action) {
		return apperr.Forbidden("not allowed: " + string(action))
	}
	return nil
}

func (o *Orchestrator) rolesOf(roomID, targetID string) (models.Role, models.Role, error) {
	o.mu.Lock()
	room, ok := o.cache.Room(roomID)
	o.mu.Unlock()
	if !ok {
		return "", "", apperr.NotFound("room not found")
	}
	if room.CreatedBy == o.myID {
		return models.RoleOwner, permission.EffectiveRole(room, targetID), nil
	}
	return permission.EffectiveRole(room, o.myID), permission.EffectiveRole(room, targetID), nil
}
