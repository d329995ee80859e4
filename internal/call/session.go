package call

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/Siddhram/webrtc/internal/media"
	"github.com/Siddhram/webrtc/internal/metrics"
	"github.com/Siddhram/webrtc/internal/peer"
	"github.com/Siddhram/webrtc/internal/signalstore"
)

// Manager wires one call attempt: it selects the role, allocates or looks up
// the room, and binds media, candidate relay, and negotiation coordinator to
// a single engine instance. One Manager serves one attempt.
type Manager struct {
	Store signalstore.Store
	Media media.Source

	// API and ICEServers configure the production engine. NewEngine, when
	// set, overrides both (tests use it to substitute fakes).
	API        *webrtc.API
	ICEServers []webrtc.ICEServer
	NewEngine  func() (Engine, error)

	Log     *slog.Logger
	Metrics *metrics.Metrics

	// OnStatus observes user-facing status transitions. OnRemoteTrack is
	// invoked once per inbound media track.
	OnStatus      func(Status)
	OnRemoteTrack func(*webrtc.TrackRemote)
}

// Session is one active call attempt. All store and engine callbacks are
// serialized onto a single event loop, so exactly one transition is in
// flight at any time without locks in the hot path.
type Session struct {
	role   Role
	roomID string

	engine   Engine
	mediaSet *media.Set
	coord    *Coordinator
	relay    *Relay

	log *slog.Logger

	events chan func()
	done   chan struct{}

	closeOnce sync.Once

	mu         sync.Mutex
	seenTracks map[string]struct{}
}

// Create starts a caller session: local media is acquired strictly before
// the room is allocated so a capture failure never leaves an orphaned empty
// room behind.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	m.defaults()
	m.status(StatusAcquiringMedia)

	set, engine, err := m.acquire(ctx)
	if err != nil {
		m.status(StatusIdle)
		return nil, err
	}

	roomID, err := m.Store.CreateRoom(ctx)
	if err != nil {
		set.Close()
		_ = engine.Close()
		m.status(StatusIdle)
		return nil, fmt.Errorf("create room: %w", err)
	}
	m.Metrics.Inc(metrics.RoomsCreated)

	s := m.newSession(RoleCaller, roomID, engine, set)
	if err := s.start(ctx, m); err != nil {
		s.Close()
		m.status(StatusIdle)
		return nil, err
	}
	return s, nil
}

// Join starts a callee session. An empty identifier is rejected before any
// store access; a missing room or missing offer fails the attempt without
// mutating the store.
func (m *Manager) Join(ctx context.Context, roomID string) (*Session, error) {
	m.defaults()

	if strings.TrimSpace(roomID) == "" {
		return nil, ErrEmptyRoomID
	}
	m.status(StatusAcquiringMedia)

	set, engine, err := m.acquire(ctx)
	if err != nil {
		m.status(StatusIdle)
		return nil, err
	}

	s := m.newSession(RoleCallee, roomID, engine, set)
	if err := s.start(ctx, m); err != nil {
		s.Close()
		m.status(StatusIdle)
		return nil, err
	}
	return s, nil
}

func (m *Manager) defaults() {
	if m.Log == nil {
		m.Log = slog.Default()
	}
	if m.Metrics == nil {
		m.Metrics = metrics.New()
	}
	if m.Media == nil {
		m.Media = media.SilenceSource{}
	}
}

func (m *Manager) status(s Status) {
	if m.OnStatus != nil {
		m.OnStatus(s)
	}
}

// acquire obtains local media and a fresh engine with the outbound tracks
// bound, tearing both down on any failure.
func (m *Manager) acquire(ctx context.Context) (*media.Set, Engine, error) {
	set, err := m.Media.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire local media: %w", err)
	}

	engine, err := m.engine()
	if err != nil {
		set.Close()
		return nil, nil, err
	}

	for _, track := range set.Tracks() {
		if err := engine.AddTrack(track); err != nil {
			set.Close()
			_ = engine.Close()
			return nil, nil, fmt.Errorf("bind outbound track: %w", err)
		}
	}
	return set, engine, nil
}

func (m *Manager) engine() (Engine, error) {
	if m.NewEngine != nil {
		return m.NewEngine()
	}
	return peer.New(m.API, m.ICEServers)
}

func (m *Manager) newSession(role Role, roomID string, engine Engine, set *media.Set) *Session {
	s := &Session{
		role:       role,
		roomID:     roomID,
		engine:     engine,
		mediaSet:   set,
		log:        m.Log.With("room_id", roomID, "role", role),
		events:     make(chan func(), 128),
		done:       make(chan struct{}),
		seenTracks: make(map[string]struct{}),
	}
	s.coord = NewCoordinator(role, m.Store, engine, m.Log, m.Metrics, s.post, m.OnStatus)
	s.relay = NewRelay(m.Store, engine, roomID, role, m.Log, m.Metrics, s.post)
	return s
}

func (s *Session) start(ctx context.Context, m *Manager) error {
	go s.loop()

	s.engine.OnTrack(func(track *webrtc.TrackRemote) {
		s.post(func() { s.handleRemoteTrack(track, m.OnRemoteTrack) })
	})
	s.engine.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.log.Debug("peer connection state", "state", state.String())
		s.post(func() { s.coord.HandleConnectionState(state) })
	})

	// The relay must be live before either side can observe committed
	// candidates, so it starts ahead of the coordinator.
	if err := s.relay.Start(ctx); err != nil {
		return err
	}

	switch s.role {
	case RoleCaller:
		return s.coord.StartCaller(ctx, s.roomID)
	default:
		return s.coord.StartCallee(ctx, s.roomID)
	}
}

func (s *Session) loop() {
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.done:
			return
		}
	}
}

// post hands fn to the session loop; events arriving after close are
// dropped.
func (s *Session) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.done:
	}
}

// handleRemoteTrack surfaces each inbound track exactly once, keyed by the
// engine's track identifier.
func (s *Session) handleRemoteTrack(track *webrtc.TrackRemote, fn func(*webrtc.TrackRemote)) {
	key := track.ID() + "/" + track.RID()
	s.mu.Lock()
	if _, dup := s.seenTracks[key]; dup {
		s.mu.Unlock()
		return
	}
	s.seenTracks[key] = struct{}{}
	s.mu.Unlock()

	s.log.Info("remote track", "track_id", track.ID(), "kind", track.Kind().String())
	if fn != nil {
		fn(track)
	}
}

func (s *Session) RoomID() string { return s.roomID }

func (s *Session) Role() Role { return s.role }

func (s *Session) State() State { return s.coord.State() }

// SetMuted toggles the local audio subset.
func (s *Session) SetMuted(muted bool) { s.mediaSet.SetMuted(muted) }

func (s *Session) Muted() bool { return s.mediaSet.Muted() }

// Close tears the attempt down: watches stopped, engine closed, media
// released. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.relay.Stop()
		s.coord.Stop()
		_ = s.engine.Close()
		s.mediaSet.Close()
		s.log.Debug("session closed")
	})
}
