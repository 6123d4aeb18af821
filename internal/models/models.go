package models

// Role of a participant inside a group room.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// ParseRole maps unknown role strings to member so a malformed payload can
// never grant anything.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleOwner, RoleAdmin:
		return Role(s)
	default:
		return RoleMember
	}
}

// Room kinds.
const (
	RoomPrivate = "private"
	RoomGroup   = "group"
)

// Message types.
const (
	MessageText  = "text"
	MessageFile  = "file"
	MessageVoice = "voice"
	MessageVideo = "video"
)

// User is a directory entry for any account known to the client. Timestamps
// stay as the ISO strings the server sends; the client only displays them.
type User struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	RealName       string   `json:"real_name,omitempty"`
	BirthDate      string   `json:"birth_date,omitempty"`
	Age            *int     `json:"age,omitempty"`
	Gender         string   `json:"gender,omitempty"`
	Bio            string   `json:"bio,omitempty"`
	Avatar         string   `json:"avatar,omitempty"` // base64 PNG
	AvatarsGallery []string `json:"avatars_gallery,omitempty"`
	IsOnline       bool     `json:"is_online"`
	LastActive     string   `json:"last_active,omitempty"`
}

// Profile is the caller's own account, the only place the blocked list lives.
type Profile struct {
	ID             string   `json:"id"`
	Name           string   `json:"name,omitempty"`
	RealName       string   `json:"real_name,omitempty"`
	BirthDate      string   `json:"birth_date,omitempty"`
	Age            *int     `json:"age,omitempty"`
	Gender         string   `json:"gender,omitempty"`
	Bio            string   `json:"bio,omitempty"`
	Avatar         string   `json:"avatar,omitempty"`
	AvatarsGallery []string `json:"avatars_gallery,omitempty"`
	BlockedUsers   []string `json:"blocked_users"`
}

type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Role   string `json:"role,omitempty"`
}

type Room struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"` // "private" or "group"
	Name         string        `json:"name,omitempty"`
	Avatar       string        `json:"avatar,omitempty"`
	CreatedBy    string        `json:"created_by,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
}

// Reaction is one participant's reaction to a message. The map key is the
// participant id, so a participant can hold at most one reaction per message.
type Reaction struct {
	Reaction string `json:"reaction"`
	Name     string `json:"name,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

type Message struct {
	ID           int64               `json:"id"`
	RoomID       string              `json:"room_id"`
	SenderID     string              `json:"sender_id"`
	SenderName   string              `json:"sender_name,omitempty"`
	SenderAvatar string              `json:"sender_avatar,omitempty"`
	Type         string              `json:"type"`
	Content      string              `json:"content"` // ciphertext for text messages
	Filename     string              `json:"filename,omitempty"`
	CreatedAt    string              `json:"created_at"`
	EditedAt     string              `json:"edited_at,omitempty"`
	Reactions    map[string]Reaction `json:"reactions,omitempty"`
}
