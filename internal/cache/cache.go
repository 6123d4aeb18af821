// Package cache is the in-memory store of rooms, users and the caller's own
// profile. Pure merge functions, no I/O; the sync orchestrator is the only
// writer.
package cache

import "convo/internal/models"

// UserPatch is a field-level upsert: only non-nil fields overwrite the cached
// entity. Decode an event payload into it to get JSON-presence semantics.
type UserPatch struct {
	Name           *string   `json:"name"`
	RealName       *string   `json:"real_name"`
	BirthDate      *string   `json:"birth_date"`
	Age            *int      `json:"age"`
	Gender         *string   `json:"gender"`
	Bio            *string   `json:"bio"`
	Avatar         *string   `json:"avatar"`
	AvatarsGallery *[]string `json:"avatars_gallery"`
	IsOnline       *bool     `json:"is_online"`
	LastActive     *string   `json:"last_active"`
}

type RoomPatch struct {
	Name         *string               `json:"name"`
	Avatar       *string               `json:"avatar"`
	CreatedBy    *string               `json:"created_by"`
	Participants *[]models.Participant `json:"participants"`
}

// Store keeps server order for rooms and users: snapshots define the order,
// incremental additions append.
type Store struct {
	rooms     map[string]*models.Room
	roomOrder []string
	users     map[string]*models.User
	userOrder []string
	profile   models.Profile
}

func New() *Store {
	return &Store{
		rooms: make(map[string]*models.Room),
		users: make(map[string]*models.User),
	}
}

// ApplySnapshot replaces rooms and users wholesale. This is the reconciliation
// operation: whatever incremental events were lost or misordered, state
// converges to server truth here. A snapshot without a profile leaves the
// cached profile untouched.
func (s *Store) ApplySnapshot(data models.DataUpdate) {
	s.rooms = make(map[string]*models.Room, len(data.Rooms))
	s.roomOrder = s.roomOrder[:0]
	for i := range data.Rooms {
		r := cloneRoom(data.Rooms[i])
		s.rooms[r.ID] = &r
		s.roomOrder = append(s.roomOrder, r.ID)
	}

	s.users = make(map[string]*models.User, len(data.Users))
	s.userOrder = s.userOrder[:0]
	for i := range data.Users {
		u := cloneUser(data.Users[i])
		s.users[u.ID] = &u
		s.userOrder = append(s.userOrder, u.ID)
	}

	if data.MyProfile != nil {
		s.profile = cloneProfile(*data.MyProfile)
	}
}

// AddUser inserts a newly registered user. Reports false if the id is already
// cached (duplicate delivery is expected, not an error).
func (s *Store) AddUser(u models.User) bool {
	if _, ok := s.users[u.ID]; ok {
		return false
	}
	c := cloneUser(u)
	s.users[u.ID] = &c
	s.userOrder = append(s.userOrder, u.ID)
	return true
}

// MergeUser applies the patch to a cached user. Unknown ids are a no-op:
// events can race ahead of the snapshot that introduces the entity.
func (s *Store) MergeUser(id string, p UserPatch) bool {
	u, ok := s.users[id]
	if !ok {
		return false
	}
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.RealName != nil {
		u.RealName = *p.RealName
	}
	if p.BirthDate != nil {
		u.BirthDate = *p.BirthDate
	}
	if p.Age != nil {
		age := *p.Age
		u.Age = &age
	}
	if p.Gender != nil {
		u.Gender = *p.Gender
	}
	if p.Bio != nil {
		u.Bio = *p.Bio
	}
	if p.Avatar != nil {
		u.Avatar = *p.Avatar
	}
	if p.AvatarsGallery != nil {
		u.AvatarsGallery = append([]string(nil), (*p.AvatarsGallery)...)
	}
	if p.IsOnline != nil {
		u.IsOnline = *p.IsOnline
	}
	if p.LastActive != nil {
		u.LastActive = *p.LastActive
	}
	return true
}

// SetUserStatus handles presence flips. Gender rides along only when the
// server includes it (it affects locale-specific status phrasing).
func (s *Store) SetUserStatus(id string, online bool, lastActive, gender string) bool {
	u, ok := s.users[id]
	if !ok {
		return false
	}
	u.IsOnline = online
	if lastActive != "" {
		u.LastActive = lastActive
	}
	if gender != "" {
		u.Gender = gender
	}
	return true
}

func (s *Store) MergeRoom(id string, p RoomPatch) bool {
	r, ok := s.rooms[id]
	if !ok {
		return false
	}
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Avatar != nil {
		r.Avatar = *p.Avatar
	}
	if p.CreatedBy != nil {
		r.CreatedBy = *p.CreatedBy
	}
	if p.Participants != nil {
		r.Participants = append([]models.Participant(nil), (*p.Participants)...)
	}
	return true
}

func (s *Store) AddParticipant(roomID string, p models.Participant) bool {
	r, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	for i := range r.Participants {
		if r.Participants[i].ID == p.ID {
			r.Participants[i] = p
			return true
		}
	}
	r.Participants = append(r.Participants, p)
	return true
}

func (s *Store) RemoveParticipant(roomID, userID string) bool {
	r, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	kept := r.Participants[:0]
	for _, p := range r.Participants {
		if p.ID != userID {
			kept = append(kept, p)
		}
	}
	removed := len(kept) != len(r.Participants)
	r.Participants = kept
	return removed
}

func (s *Store) RemoveRoom(id string) {
	if _, ok := s.rooms[id]; !ok {
		return
	}
	delete(s.rooms, id)
	for i, rid := range s.roomOrder {
		if rid == id {
			s.roomOrder = append(s.roomOrder[:i], s.roomOrder[i+1:]...)
			break
		}
	}
}

// Room returns a copy; missing ids report ok=false instead of an error.
func (s *Store) Room(id string) (models.Room, bool) {
	r, ok := s.rooms[id]
	if !ok {
		return models.Room{}, false
	}
	return cloneRoom(*r), true
}

func (s *Store) User(id string) (models.User, bool) {
	u, ok := s.users[id]
	if !ok {
		return models.User{}, false
	}
	return cloneUser(*u), true
}

func (s *Store) Rooms() []models.Room {
	out := make([]models.Room, 0, len(s.roomOrder))
	for _, id := range s.roomOrder {
		out = append(out, cloneRoom(*s.rooms[id]))
	}
	return out
}

func (s *Store) Users() []models.User {
	out := make([]models.User, 0, len(s.userOrder))
	for _, id := range s.userOrder {
		out = append(out, cloneUser(*s.users[id]))
	}
	return out
}

func (s *Store) Profile() models.Profile {
	return cloneProfile(s.profile)
}

func (s *Store) SetProfile(p models.Profile) {
	s.profile = cloneProfile(p)
}

// MergeProfile reuses UserPatch semantics for the caller's own row.
func (s *Store) MergeProfile(p UserPatch) {
	if p.Name != nil {
		s.profile.Name = *p.Name
	}
	if p.RealName != nil {
		s.profile.RealName = *p.RealName
	}
	if p.BirthDate != nil {
		s.profile.BirthDate = *p.BirthDate
	}
	if p.Age != nil {
		age := *p.Age
		s.profile.Age = &age
	}
	if p.Gender != nil {
		s.profile.Gender = *p.Gender
	}
	if p.Bio != nil {
		s.profile.Bio = *p.Bio
	}
	if p.Avatar != nil {
		s.profile.Avatar = *p.Avatar
	}
	if p.AvatarsGallery != nil {
		s.profile.AvatarsGallery = append([]string(nil), (*p.AvatarsGallery)...)
	}
}

// Block adds the target to the caller's blocked set. Owned by the profile
// owner only; idempotent.
func (s *Store) Block(userID string) {
	for _, id := range s.profile.BlockedUsers {
		if id == userID {
			return
		}
	}
	s.profile.BlockedUsers = append(s.profile.BlockedUsers, userID)
}

func (s *Store) Unblock(userID string) {
	kept := s.profile.BlockedUsers[:0]
	for _, id := range s.profile.BlockedUsers {
		if id != userID {
			kept = append(kept, id)
		}
	}
	s.profile.BlockedUsers = kept
}

func (s *Store) IsBlocked(userID string) bool {
	for _, id := range s.profile.BlockedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func cloneUser(u models.User) models.User {
	u.AvatarsGallery = append([]string(nil), u.AvatarsGallery...)
	if u.Age != nil {
		age := *u.Age
		u.Age = &age
	}
	return u
}

func cloneRoom(r models.Room) models.Room {
	r.Participants = append([]models.Participant(nil), r.Participants...)
	return r
}

func cloneProfile(p models.Profile) models.Profile {
	p.AvatarsGallery = append([]string(nil), p.AvatarsGallery...)
	p.BlockedUsers = append([]string(nil), p.BlockedUsers...)
	if p.Age != nil {
		age := *p.Age
		p.Age = &age
	}
	return p
}
