package call

// The peer-connection and media layers are external collaborators. The
// interfaces below are the narrow surface the session needs from them;
// fake.go provides in-memory implementations.

// Peering registers the local party with the peer-connection layer.
type Peering interface {
	Register() (Peer, error)
}

// Peer is the local party's handle. Call originates an outbound
// connection; OnCall installs the handler for inbound offers.
type Peer interface {
	ID() string
	Call(remoteID string, local Stream) (Connection, error)
	OnCall(handler func(IncomingCall))
	Destroy() error
}

// IncomingCall is an inbound offer waiting to be answered with the
// local stream.
type IncomingCall interface {
	From() string
	Answer(local Stream) (Connection, error)
}

// Connection is one live leg of the mesh.
type Connection interface {
	RemoteID() string
	RemoteStream() Stream
	Senders() []Sender
	Close() error
}

// Sender carries one outgoing track and supports in-place substitution.
type Sender interface {
	Track() Track
	ReplaceTrack(t Track) error
}

// MediaSource acquires local capture streams.
type MediaSource interface {
	UserMedia(video, audio bool) (Stream, error)
	DisplayMedia() (Stream, error)
}

// Stream is an ordered set of live tracks.
type Stream interface {
	Tracks() []Track
	AudioTracks() []Track
	VideoTracks() []Track
	AddTrack(t Track)
	RemoveTrack(t Track)
}

// Track is a single media track handle.
type Track interface {
	ID() string
	Kind() string // "audio" or "video"
	Enabled() bool
	SetEnabled(on bool)
	Stop()
	OnEnded(handler func())
}

// Signaler announces call membership changes to the room. The
// orchestrator implements it over the event bus.
type Signaler interface {
	AnnounceJoin(roomID, peerID string) error
	AnnounceLeave(roomID, peerID string) error
}
