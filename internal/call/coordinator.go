package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/Siddhram/webrtc/internal/metrics"
	"github.com/Siddhram/webrtc/internal/signalstore"
)

// Coordinator runs one side of the offer/answer handshake through the store.
//
// The two roles are deliberately asymmetric: only the caller does not know
// when its counterpart will act, so only the caller holds a room watch. The
// callee reads the room exactly once and causes its own state transition by
// publishing the answer.
type Coordinator struct {
	role    Role
	store   signalstore.Store
	engine  Engine
	log     *slog.Logger
	metrics *metrics.Metrics

	// post serializes store notifications onto the session's flow of control.
	post     func(func())
	onStatus func(Status)

	mu            sync.Mutex
	state         State
	answerApplied bool
	stopWatch     signalstore.StopFunc
}

func NewCoordinator(role Role, store signalstore.Store, engine Engine, log *slog.Logger, m *metrics.Metrics, post func(func()), onStatus func(Status)) *Coordinator {
	if onStatus == nil {
		onStatus = func(Status) {}
	}
	return &Coordinator{
		role:     role,
		store:    store,
		engine:   engine,
		log:      log.With("role", role),
		metrics:  m,
		post:     post,
		onStatus: onStatus,
		state:    StateIdle,
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()

	c.log.Debug("negotiation state", "state", s.String())
	if status := s.Status(); status != StatusIdle {
		c.onStatus(status)
	}
}

// StartCaller publishes the local offer into the room and watches the room
// document until an answer appears.
//
// The answer is applied exactly once: room change notifications may fire
// repeatedly for the same logical state, so the apply step is guarded by a
// once-flag and by the engine's own remote-description check.
func (c *Coordinator) StartCaller(ctx context.Context, roomID string) error {
	c.setState(StateLocalMediaReady)

	offer, err := c.engine.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := c.engine.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	c.setState(StateOfferCreated)

	desc := signalstore.Description{Type: offer.Type.String(), SDP: offer.SDP}
	if err := c.store.PublishOffer(ctx, roomID, desc); err != nil {
		return fmt.Errorf("publish offer: %w", err)
	}
	c.metrics.Inc(metrics.OffersPublished)
	c.setState(StateOfferPublished)

	stop, err := c.store.WatchRoom(ctx, roomID, func(room signalstore.Room) {
		c.post(func() { c.maybeApplyAnswer(room) })
	})
	if err != nil {
		return fmt.Errorf("watch room: %w", err)
	}
	c.mu.Lock()
	c.stopWatch = stop
	c.mu.Unlock()

	c.setState(StateAwaitingAnswer)
	return nil
}

func (c *Coordinator) maybeApplyAnswer(room signalstore.Room) {
	if room.Answer == nil {
		return
	}

	c.mu.Lock()
	if c.answerApplied {
		c.mu.Unlock()
		return
	}
	c.answerApplied = true
	c.mu.Unlock()

	if c.engine.RemoteDescriptionSet() {
		return
	}

	err := c.engine.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  room.Answer.SDP,
	})
	if err != nil {
		c.log.Error("failed to apply remote answer", "err", err)
		return
	}

	c.stopRoomWatch()
	c.metrics.Inc(metrics.SessionsConnected)
	c.setState(StateConnected)
}

// StartCallee reads the room once, applies its offer, and publishes the
// answer. There is no wait or poll: a missing room or missing offer fails
// this join attempt and the user retries.
func (c *Coordinator) StartCallee(ctx context.Context, roomID string) error {
	c.setState(StateLocalMediaReady)
	c.setState(StateAwaitingOffer)

	room, err := c.store.GetRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("fetch room %q: %w", roomID, err)
	}
	if room.Offer == nil {
		return fmt.Errorf("room %q: %w", roomID, ErrOfferMissing)
	}
	c.setState(StateOfferFetched)

	err = c.engine.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  room.Offer.SDP,
	})
	if err != nil {
		return fmt.Errorf("apply remote offer: %w", err)
	}

	answer, err := c.engine.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := c.engine.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	c.setState(StateAnswerCreated)

	desc := signalstore.Description{Type: answer.Type.String(), SDP: answer.SDP}
	if err := c.store.PublishAnswer(ctx, roomID, desc); err != nil {
		return fmt.Errorf("publish answer: %w", err)
	}
	c.metrics.Inc(metrics.AnswersPublished)
	c.setState(StateAnswerPublished)
	return nil
}

// HandleConnectionState projects the engine's connection lifecycle into the
// session status. For the callee this is the only source of the connected
// signal; the caller usually reaches StateConnected through the answer path
// first.
func (c *Coordinator) HandleConnectionState(s webrtc.PeerConnectionState) {
	if s != webrtc.PeerConnectionStateConnected {
		return
	}

	c.mu.Lock()
	already := c.state == StateConnected
	c.mu.Unlock()
	if already {
		return
	}

	if c.role == RoleCallee {
		c.metrics.Inc(metrics.SessionsConnected)
	}
	c.setState(StateConnected)
}

func (c *Coordinator) stopRoomWatch() {
	c.mu.Lock()
	stop := c.stopWatch
	c.stopWatch = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Stop cancels the caller's room watch, if any.
func (c *Coordinator) Stop() {
	c.stopRoomWatch()
}
