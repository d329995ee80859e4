// Package peer wraps pion's PeerConnection as the negotiation engine consumed
// by the call core: offer/answer creation, description application, trickle
// ICE in both directions, and inbound track delivery.
package peer

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// NewAPI constructs the pion API used for all PeerConnections in this
// process. Tests substitute an API bound to a virtual network via
// webrtc.WithSettingEngine.
func NewAPI() *webrtc.API {
	se := webrtc.SettingEngine{}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

// Peer owns a single PeerConnection for one call attempt.
//
// Candidates that arrive from the signaling channel before the remote
// description is applied are buffered by pion internally; callers feed them
// in as they arrive.
type Peer struct {
	pc *webrtc.PeerConnection

	closeOnce sync.Once
}

func New(api *webrtc.API, iceServers []webrtc.ICEServer) (*Peer, error) {
	if api == nil {
		api = NewAPI()
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return &Peer{pc: pc}, nil
}

func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *Peer) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *Peer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *Peer) RemoteDescriptionSet() bool {
	return p.pc.RemoteDescription() != nil
}

func (p *Peer) AddRemoteCandidate(init webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(init)
}

// OnCandidate registers the local trickle callback. pion signals the end of
// gathering with a nil candidate; that marker is filtered out here since the
// store protocol has no use for it.
func (p *Peer) OnCandidate(fn func(webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

func (p *Peer) OnTrack(fn func(*webrtc.TrackRemote)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(track)
	})
}

func (p *Peer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

// AddTrack binds an outbound media track and drains its RTCP feedback so the
// interceptor pipeline keeps flowing.
func (p *Peer) AddTrack(track webrtc.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}

	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.pc.Close()
	})
	return err
}
