package call

import (
	"log"
	"os"
	"sync"

	"convo/internal/apperr"
)

// State is the call session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateJoining
	StateActive
	StateLeaving
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateLeaving:
		return "leaving"
	default:
		return "idle"
	}
}

// CallPeer is one remote party in the mesh. The session owns the map
// from peer id to CallPeer for the lifetime of one call.
type CallPeer struct {
	ID     string
	Conn   Connection
	Stream Stream
}

// Session maintains the full-mesh call topology for a single room.
// Every unordered pair of parties holds exactly one connection:
// existing members originate toward a newcomer when its join is
// announced, and the newcomer answers each inbound offer.
type Session struct {
	peering Peering
	media   MediaSource
	signal  Signaler
	logger  *log.Logger

	mu     sync.Mutex
	state  State
	roomID string
	self   Peer
	local  Stream
	peers  map[string]*CallPeer

	screen Track // non-nil while sharing
}

func NewSession(peering Peering, media MediaSource, signal Signaler) *Session {
	return &Session{
		peering: peering,
		media:   media,
		signal:  signal,
		logger:  log.New(os.Stdout, "[CALL] ", log.LstdFlags|log.Lshortfile),
		peers:   make(map[string]*CallPeer),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PeerID returns the local party's peer id, empty when not in a call.
func (s *Session) PeerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.self == nil {
		return ""
	}
	return s.self.ID()
}

func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Peers returns the ids of every connected remote party.
func (s *Session) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	return ids
}

// Join acquires local media, registers with the peer layer, and
// announces the local peer id to the room. The announcement is a
// suspension point: inbound offers may arrive before Join returns, so
// the session is made answerable first.
func (s *Session) Join(roomID string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return apperr.Rejected("already in a call")
	}
	s.state = StateJoining
	s.mu.Unlock()

	fail := func(err error) error {
		s.mu.Lock()
		s.teardownLocked()
		s.mu.Unlock()
		return err
	}

	local, err := s.media.UserMedia(true, true)
	if err != nil {
		return fail(apperr.Wrap(apperr.CodeInternal, "acquire media", err))
	}
	self, err := s.peering.Register()
	if err != nil {
		stopTracks(local)
		return fail(apperr.Wrap(apperr.CodeInternal, "register peer", err))
	}

	s.mu.Lock()
	s.roomID = roomID
	s.self = self
	s.local = local
	s.state = StateActive
	s.mu.Unlock()
	self.OnCall(s.answer)

	if err := s.signal.AnnounceJoin(roomID, self.ID()); err != nil {
		return fail(err)
	}
	s.logger.Printf("joined call in room %s as %s", roomID, self.ID())
	return nil
}

// answer handles an inbound offer from a party that joined after us.
func (s *Session) answer(in IncomingCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return
	}
	if _, ok := s.peers[in.From()]; ok {
		return
	}
	conn, err := in.Answer(s.local)
	if err != nil {
		s.logger.Printf("answer %s: %v", in.From(), err)
		return
	}
	s.peers[in.From()] = &CallPeer{ID: in.From(), Conn: conn, Stream: conn.RemoteStream()}
}

// HandlePeerJoined reacts to a join announcement by originating a
// connection toward the newcomer. Duplicate announcements and our own
// echo are no-ops.
func (s *Session) HandlePeerJoined(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive || peerID == s.self.ID() {
		return
	}
	if _, ok := s.peers[peerID]; ok {
		return
	}
	conn, err := s.self.Call(peerID, s.local)
	if err != nil {
		s.logger.Printf("originate to %s: %v", peerID, err)
		return
	}
	s.peers[peerID] = &CallPeer{ID: peerID, Conn: conn, Stream: conn.RemoteStream()}
}

// HandlePeerLeft closes and evicts the named peer. Unknown ids are
// no-ops; tracks are never reused across peers.
func (s *Session) HandlePeerLeft(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	peer, ok := s.peers[peerID]
	if !ok {
		return
	}
	if err := peer.Conn.Close(); err != nil {
		s.logger.Printf("close peer %s: %v", peerID, err)
	}
	delete(s.peers, peerID)
}

// ToggleMute flips the local audio track and reports whether audio is
// now enabled.
func (s *Session) ToggleMute() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.local == nil {
		return false
	}
	tracks := s.local.AudioTracks()
	if len(tracks) == 0 {
		return false
	}
	t := tracks[0]
	t.SetEnabled(!t.Enabled())
	return t.Enabled()
}

// ToggleCamera flips the local video track and reports whether video
// is now enabled.
func (s *Session) ToggleCamera() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.local == nil {
		return false
	}
	tracks := s.local.VideoTracks()
	if len(tracks) == 0 {
		return false
	}
	t := tracks[0]
	t.SetEnabled(!t.Enabled())
	return t.Enabled()
}

// Sharing reports whether a screen track is currently substituted.
func (s *Session) Sharing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen != nil
}

// ShareScreen swaps the outgoing video track for a screen-capture
// track on every live connection, in place. When the capture ends the
// camera track is restored the same way.
func (s *Session) ShareScreen() error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return apperr.Rejected("no active call")
	}
	if s.screen != nil {
		s.mu.Unlock()
		return apperr.Rejected("already sharing")
	}
	s.mu.Unlock()

	// Capture acquisition blocks on the user, so it happens unlocked.
	display, err := s.media.DisplayMedia()
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "acquire screen", err)
	}
	tracks := display.VideoTracks()
	if len(tracks) == 0 {
		return apperr.Internal("screen stream has no video track")
	}
	screen := tracks[0]

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive || s.screen != nil {
		screen.Stop()
		return apperr.Rejected("no active call")
	}

	cam := s.local.VideoTracks()
	if len(cam) > 0 {
		s.local.RemoveTrack(cam[0])
	}
	s.local.AddTrack(screen)
	s.substituteVideo(screen)
	s.screen = screen

	screen.OnEnded(func() { s.endShare(screen) })
	return nil
}

// endShare restores the camera track after the screen capture ends.
func (s *Session) endShare(screen Track) {
	s.mu.Lock()
	if s.screen != screen || s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	camStream, err := s.media.UserMedia(true, false)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.screen != screen || s.state != StateActive {
		return
	}
	if err != nil {
		s.logger.Printf("restore camera: %v", err)
		s.screen = nil
		return
	}
	tracks := camStream.VideoTracks()
	if len(tracks) == 0 {
		s.screen = nil
		return
	}
	cam := tracks[0]
	s.local.RemoveTrack(screen)
	s.local.AddTrack(cam)
	s.substituteVideo(cam)
	s.screen = nil
}

// substituteVideo replaces the video sender track on every peer
// connection. Callers hold s.mu.
func (s *Session) substituteVideo(t Track) {
	for id, peer := range s.peers {
		replaced := false
		for _, sender := range peer.Conn.Senders() {
			if sender.Track() != nil && sender.Track().Kind() == "video" {
				if err := sender.ReplaceTrack(t); err != nil {
					s.logger.Printf("replace track for %s: %v", id, err)
				}
				replaced = true
				break
			}
		}
		if !replaced {
			s.logger.Printf("peer %s has no video sender", id)
		}
	}
}

// Leave stops local media, announces the departure, destroys every
// peer connection, and clears the map. Calling it with no active
// session is a no-op.
func (s *Session) Leave() error {
	s.mu.Lock()
	if s.state == StateIdle || s.state == StateLeaving {
		s.mu.Unlock()
		return nil
	}
	s.state = StateLeaving
	roomID, self := s.roomID, s.self
	s.mu.Unlock()

	// The departure broadcast echoes back to us too; announce outside
	// the lock so the echo handler cannot wedge the teardown.
	var announceErr error
	if self != nil {
		announceErr = s.signal.AnnounceLeave(roomID, self.ID())
	}

	s.mu.Lock()
	s.teardownLocked()
	s.mu.Unlock()
	return announceErr
}

// teardownLocked destroys all call resources and returns to idle.
// Callers hold s.mu.
func (s *Session) teardownLocked() {
	if s.local != nil {
		stopTracks(s.local)
	}
	for id, peer := range s.peers {
		if err := peer.Conn.Close(); err != nil {
			s.logger.Printf("close peer %s: %v", id, err)
		}
	}
	s.peers = make(map[string]*CallPeer)
	if s.self != nil {
		if err := s.self.Destroy(); err != nil {
			s.logger.Printf("destroy peer: %v", err)
		}
	}
	s.self = nil
	s.local = nil
	s.screen = nil
	s.roomID = ""
	s.state = StateIdle
}

func stopTracks(st Stream) {
	for _, t := range st.Tracks() {
		t.Stop()
	}
}
