// Package permission derives what the caller may do in a room. Everything here
// is pure; the server re-validates every privileged command, these checks just
// stop unauthorized intents before they hit the network.
package permission

import "convo/internal/models"

type Action string

const (
	ActionEditName          Action = "editName"
	ActionUploadAvatar      Action = "uploadAvatar"
	ActionAddParticipant    Action = "addParticipant"
	ActionRemoveParticipant Action = "removeParticipant"
	ActionPromote           Action = "promote"
	ActionDemote            Action = "demote"
	ActionDeleteGroup       Action = "deleteGroup"
	ActionLeave             Action = "leave"
	ActionViewLogs          Action = "viewLogs"
)

// Set is the authorization result for one (role, room) pair.
type Set map[Action]bool

func (s Set) Allows(a Action) bool { return s[a] }

// EffectiveRole resolves the caller's role in a room. Private rooms have no
// role semantics; non-participants degrade to member, the weakest role.
func EffectiveRole(room models.Room, myID string) models.Role {
	if room.Type != models.RoomGroup {
		return models.RoleMember
	}
	for _, p := range room.Participants {
		if p.ID == myID {
			return models.ParseRole(p.Role)
		}
	}
	return models.RoleMember
}

// AuthorizedActions returns the action set a role grants. isOwnerOfRoom covers
// payloads where the participant roster (and so the role) is missing but the
// room's creator id is known; the creator always holds the owner set.
func AuthorizedActions(role models.Role, isOwnerOfRoom bool) Set {
	if isOwnerOfRoom {
		role = models.RoleOwner
	}
	switch role {
	case models.RoleOwner:
		// The owner cannot leave: the group must be deleted (or ownership
		// transferred, which is not supported) instead.
		return Set{
			ActionEditName:          true,
			ActionUploadAvatar:      true,
			ActionAddParticipant:    true,
			ActionRemoveParticipant: true,
			ActionPromote:           true,
			ActionDemote:            true,
			ActionDeleteGroup:       true,
			ActionViewLogs:          true,
		}
	case models.RoleAdmin:
		return Set{
			ActionEditName:          true,
			ActionUploadAvatar:      true,
			ActionAddParticipant:    true,
			ActionRemoveParticipant: true,
			ActionLeave:             true,
			ActionViewLogs:          true,
		}
	default:
		return Set{
			ActionLeave: true,
		}
	}
}

// CanRemove rejects removal of an equal-or-higher role. The owner is never
// removable; admins may only remove members.
func CanRemove(actor, target models.Role) bool {
	if target == models.RoleOwner {
		return false
	}
	switch actor {
	case models.RoleOwner:
		return true
	case models.RoleAdmin:
		return target == models.RoleMember
	default:
		return false
	}
}

// CanChangeRole guards promote/demote: only the owner, and never on itself.
func CanChangeRole(actor, target models.Role) bool {
	return actor == models.RoleOwner && target != models.RoleOwner
}

// CanEdit reports whether the caller may originate an edit of a message:
// original sender only.
func CanEdit(msg models.Message, myID string) bool {
	return msg.SenderID == myID
}

// CanDeleteForEveryone mirrors the server rule: only the sender wipes a
// message for all participants. Self-delete (hide) is always allowed.
func CanDeleteForEveryone(msg models.Message, myID string) bool {
	return msg.SenderID == myID
}
