package models

// Inbound event names pushed by the server. Every mutation, including ones the
// local user originated, becomes visible only through one of these.
const (
	EvtDataUpdate            = "data_update"
	EvtNewMessage            = "new_message"
	EvtMessageEdited         = "message_edited"
	EvtMessageHidden         = "message_hidden"
	EvtMessageDeleted        = "message_deleted"
	EvtReactionAdded         = "reaction_added"
	EvtUserStatus            = "user_status"
	EvtUserRegistered        = "user_registered"
	EvtProfileUpdated        = "profile_updated"
	EvtUserUpdated           = "user_updated"
	EvtGroupUpdated          = "group_updated"
	EvtGroupUpdate           = "group_update"
	EvtGroupDetails          = "group_details"
	EvtParticipantAdded      = "participant_added"
	EvtParticipantRemoved    = "participant_removed"
	EvtChatDeleted           = "chat_deleted"
	EvtForceLeaveRoom        = "force_leave_room"
	EvtForceJoinRoom         = "force_join_room"
	EvtPrivateChatReady      = "private_chat_ready"
	EvtGroupCreated          = "group_created"
	EvtChatHistory           = "chat_history"
	EvtUserConnectedVideo    = "user_connected_video"
	EvtUserDisconnectedVideo = "user_disconnected_video"
	EvtMessageError          = "message_error"
	EvtNotification          = "notification"
)

// Outbound command names. Each command payload carries the bearer token inline;
// the connection is authenticated once, individual commands are re-validated
// server-side.
const (
	CmdGetData                = "get_data"
	CmdJoinChat               = "join_chat"
	CmdSendMessage            = "send_message"
	CmdEditMessage            = "edit_message"
	CmdDeleteMessage          = "delete_message"
	CmdAddReaction            = "add_reaction"
	CmdRemoveReaction         = "remove_reaction"
	CmdCreateGroup            = "create_group"
	CmdUpdateGroupSettings    = "update_group_settings"
	CmdDeleteGroup            = "delete_group"
	CmdLeaveGroup             = "leave_group"
	CmdAddGroupParticipant    = "add_group_participant"
	CmdRemoveGroupParticipant = "remove_group_participant"
	CmdPromoteAdmin           = "promote_admin"
	CmdDemoteAdmin            = "demote_admin"
	CmdUpdateProfile          = "update_profile"
	CmdStartPrivateChat       = "start_private_chat"
	CmdJoinVideoRoom          = "join_video_room"
	CmdLeaveVideoRoom         = "leave_video_room"
)

// DataUpdate is the full snapshot, the reconciliation anchor after a
// (re)connect or whenever local state cannot be trusted.
type DataUpdate struct {
	Rooms     []Room   `json:"rooms"`
	Users     []User   `json:"users"`
	MyProfile *Profile `json:"my_profile,omitempty"`
}

type UserStatus struct {
	UserID     string `json:"user_id"`
	Status     string `json:"status"` // "online" or "offline"
	LastActive string `json:"last_active,omitempty"`
	Gender     string `json:"gender,omitempty"`
}

type ProfileUpdated struct {
	UserID   string `json:"user_id"`
	UserData User   `json:"user_data"`
}

// UserUpdated carries avatar changes; empty fields are not overwrites.
type UserUpdated struct {
	ID             string   `json:"id"`
	Avatar         string   `json:"avatar,omitempty"`
	AvatarsGallery []string `json:"avatars_gallery,omitempty"`
}

// GroupUpdated is the HTTP-originated variant keyed by "id".
type GroupUpdated struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// GroupUpdate is the socket-originated variant keyed by "room_id" and may
// replace the whole participant set.
type GroupUpdate struct {
	RoomID       string        `json:"room_id"`
	Name         string        `json:"name,omitempty"`
	Avatar       string        `json:"avatar,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
}

type GroupDetails struct {
	RoomID       string        `json:"room_id"`
	CreatedBy    string        `json:"created_by"`
	Participants []Participant `json:"participants"`
}

type ParticipantAdded struct {
	RoomID string      `json:"room_id"`
	User   Participant `json:"user"`
}

type ParticipantRemoved struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

type ChatDeleted struct {
	ID     string `json:"id"`
	Mutual bool   `json:"mutual,omitempty"`
}

// RoomRef is the common {room_id} payload (force_join_room, force_leave_room,
// private_chat_ready).
type RoomRef struct {
	RoomID string `json:"room_id"`
}

type GroupCreated struct {
	ID string `json:"id"`
}

type MessageEdited struct {
	ID       int64  `json:"id"`
	RoomID   string `json:"room_id"`
	Content  string `json:"content"`
	EditedAt string `json:"edited_at"`
}

// MessageRef identifies a message for hide/delete events.
type MessageRef struct {
	ID     int64  `json:"id"`
	RoomID string `json:"room_id"`
}

// ReactionUpdate carries the full authoritative reaction map for one message.
// The server emits it for both additions and removals.
type ReactionUpdate struct {
	ID        int64               `json:"id"`
	RoomID    string              `json:"room_id"`
	Reactions map[string]Reaction `json:"reactions"`
}

type ChatHistory struct {
	RoomID   string    `json:"room_id"`
	Messages []Message `json:"messages"`
}

type VideoPeer struct {
	RoomID string `json:"room_id,omitempty"`
	PeerID string `json:"peer_id"`
}

type MessageError struct {
	Error string `json:"error"`
}

type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}
