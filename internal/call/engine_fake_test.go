package call

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// fakeEngine is an in-process Engine with scriptable failures. All state is
// mutex-guarded because store watches deliver on their own goroutine.
type fakeEngine struct {
	mu sync.Mutex

	offerErr     error
	answerErr    error
	setLocalErr  error
	setRemoteErr error
	addRemoteErr func(webrtc.ICECandidateInit) error

	localDesc      *webrtc.SessionDescription
	remoteDesc     *webrtc.SessionDescription
	setRemoteCalls int

	remoteCands []webrtc.ICECandidateInit
	tracks      []webrtc.TrackLocal

	onCandidate func(webrtc.ICECandidateInit)
	onTrack     func(*webrtc.TrackRemote)
	onConnState func(webrtc.PeerConnectionState)

	closed bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{}
}

func (e *fakeEngine) CreateOffer() (webrtc.SessionDescription, error) {
	if e.offerErr != nil {
		return webrtc.SessionDescription{}, e.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 fake offer"}, nil
}

func (e *fakeEngine) CreateAnswer() (webrtc.SessionDescription, error) {
	if e.answerErr != nil {
		return webrtc.SessionDescription{}, e.answerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 fake answer"}, nil
}

func (e *fakeEngine) SetLocalDescription(desc webrtc.SessionDescription) error {
	if e.setLocalErr != nil {
		return e.setLocalErr
	}
	e.mu.Lock()
	e.localDesc = &desc
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) SetRemoteDescription(desc webrtc.SessionDescription) error {
	e.mu.Lock()
	e.setRemoteCalls++
	e.mu.Unlock()
	if e.setRemoteErr != nil {
		return e.setRemoteErr
	}
	e.mu.Lock()
	e.remoteDesc = &desc
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) RemoteDescriptionSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remoteDesc != nil
}

func (e *fakeEngine) AddRemoteCandidate(init webrtc.ICECandidateInit) error {
	if e.addRemoteErr != nil {
		if err := e.addRemoteErr(init); err != nil {
			return err
		}
	}
	e.mu.Lock()
	e.remoteCands = append(e.remoteCands, init)
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) OnCandidate(fn func(webrtc.ICECandidateInit)) {
	e.mu.Lock()
	e.onCandidate = fn
	e.mu.Unlock()
}

func (e *fakeEngine) OnTrack(fn func(*webrtc.TrackRemote)) {
	e.mu.Lock()
	e.onTrack = fn
	e.mu.Unlock()
}

func (e *fakeEngine) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	e.mu.Lock()
	e.onConnState = fn
	e.mu.Unlock()
}

func (e *fakeEngine) AddTrack(track webrtc.TrackLocal) error {
	e.mu.Lock()
	e.tracks = append(e.tracks, track)
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) fireCandidate(init webrtc.ICECandidateInit) {
	e.mu.Lock()
	fn := e.onCandidate
	e.mu.Unlock()
	if fn != nil {
		fn(init)
	}
}

func (e *fakeEngine) fireConnectionState(s webrtc.PeerConnectionState) {
	e.mu.Lock()
	fn := e.onConnState
	e.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (e *fakeEngine) remoteSDP() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remoteDesc == nil {
		return ""
	}
	return e.remoteDesc.SDP
}

func (e *fakeEngine) remoteCandidateCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.remoteCands)
}

func (e *fakeEngine) remoteSetCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setRemoteCalls
}
