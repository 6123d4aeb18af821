package call

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// In-memory peer-connection and media layers. Used by the tests and by
// the offline demo mode; there is no real media transport behind them.

// FakeNetwork routes calls between every peer registered on it.
type FakeNetwork struct {
	mu    sync.Mutex
	peers map[string]*FakePeer
}

func NewFakeNetwork() *FakeNetwork {
	return &FakeNetwork{peers: make(map[string]*FakePeer)}
}

func (n *FakeNetwork) Register() (Peer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p := &FakePeer{id: uuid.NewString(), net: n}
	n.peers[p.id] = p
	return p, nil
}

func (n *FakeNetwork) lookup(id string) *FakePeer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peers[id]
}

func (n *FakeNetwork) remove(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.peers, id)
}

type FakePeer struct {
	id     string
	net    *FakeNetwork
	mu     sync.Mutex
	onCall func(IncomingCall)
}

func (p *FakePeer) ID() string { return p.id }

func (p *FakePeer) OnCall(handler func(IncomingCall)) {
	p.mu.Lock()
	p.onCall = handler
	p.mu.Unlock()
}

func (p *FakePeer) Call(remoteID string, local Stream) (Connection, error) {
	remote := p.net.lookup(remoteID)
	if remote == nil {
		return nil, fmt.Errorf("unknown peer %s", remoteID)
	}
	remote.mu.Lock()
	handler := remote.onCall
	remote.mu.Unlock()
	if handler == nil {
		return nil, fmt.Errorf("peer %s is not answering", remoteID)
	}

	caller := &FakeConnection{remoteID: remoteID, outbound: local}
	handler(&fakeIncomingCall{from: p.id, callerStream: local, caller: caller})
	return caller, nil
}

func (p *FakePeer) Destroy() error {
	p.net.remove(p.id)
	return nil
}

type fakeIncomingCall struct {
	from         string
	callerStream Stream
	caller       *FakeConnection
}

func (c *fakeIncomingCall) From() string { return c.from }

func (c *fakeIncomingCall) Answer(local Stream) (Connection, error) {
	callee := &FakeConnection{remoteID: c.from, outbound: local, remote: c.callerStream}
	c.caller.mu.Lock()
	c.caller.remote = local
	c.caller.twin = callee
	c.caller.mu.Unlock()
	callee.twin = c.caller
	return callee, nil
}

// FakeConnection is one half of a connected pair; closing either half
// closes both.
type FakeConnection struct {
	remoteID string
	mu       sync.Mutex
	outbound Stream
	remote   Stream
	twin     *FakeConnection
	closed   bool
	senders  []Sender
}

func (c *FakeConnection) RemoteID() string { return c.remoteID }

func (c *FakeConnection) RemoteStream() Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *FakeConnection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Senders materializes one sender per outgoing track, lazily, so that
// ReplaceTrack survives across calls.
func (c *FakeConnection) Senders() []Sender {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.senders == nil {
		for _, t := range c.outbound.Tracks() {
			c.senders = append(c.senders, &FakeSender{track: t})
		}
	}
	return c.senders
}

func (c *FakeConnection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	twin := c.twin
	c.mu.Unlock()
	if twin != nil {
		twin.mu.Lock()
		twin.closed = true
		twin.mu.Unlock()
	}
	return nil
}

type FakeSender struct {
	mu    sync.Mutex
	track Track
}

func (s *FakeSender) Track() Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *FakeSender) ReplaceTrack(t Track) error {
	s.mu.Lock()
	s.track = t
	s.mu.Unlock()
	return nil
}

// FakeMedia hands out capture streams made of fake tracks.
type FakeMedia struct{}

func (FakeMedia) UserMedia(video, audio bool) (Stream, error) {
	st := &FakeStream{}
	if audio {
		st.AddTrack(NewFakeTrack("audio"))
	}
	if video {
		st.AddTrack(NewFakeTrack("video"))
	}
	return st, nil
}

func (FakeMedia) DisplayMedia() (Stream, error) {
	st := &FakeStream{}
	st.AddTrack(NewFakeTrack("video"))
	return st, nil
}

type FakeStream struct {
	mu     sync.Mutex
	tracks []Track
}

func (s *FakeStream) Tracks() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *FakeStream) AudioTracks() []Track { return s.kind("audio") }
func (s *FakeStream) VideoTracks() []Track { return s.kind("video") }

func (s *FakeStream) kind(k string) []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Track
	for _, t := range s.tracks {
		if t.Kind() == k {
			out = append(out, t)
		}
	}
	return out
}

func (s *FakeStream) AddTrack(t Track) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

func (s *FakeStream) RemoveTrack(t Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, have := range s.tracks {
		if have == t {
			s.tracks = append(s.tracks[:i], s.tracks[i+1:]...)
			return
		}
	}
}

type FakeTrack struct {
	id      string
	kind    string
	mu      sync.Mutex
	enabled bool
	stopped bool
	onEnded func()
}

func NewFakeTrack(kind string) *FakeTrack {
	return &FakeTrack{id: uuid.NewString(), kind: kind, enabled: true}
}

func (t *FakeTrack) ID() string   { return t.id }
func (t *FakeTrack) Kind() string { return t.kind }

func (t *FakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *FakeTrack) SetEnabled(on bool) {
	t.mu.Lock()
	t.enabled = on
	t.mu.Unlock()
}

func (t *FakeTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *FakeTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *FakeTrack) OnEnded(handler func()) {
	t.mu.Lock()
	t.onEnded = handler
	t.mu.Unlock()
}

// End simulates the capture source ending, firing the OnEnded handler.
func (t *FakeTrack) End() {
	t.mu.Lock()
	handler := t.onEnded
	t.mu.Unlock()
	if handler != nil {
		handler()
	}
}
