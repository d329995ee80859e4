package call

import "github.com/pion/webrtc/v4"

// Engine is the negotiation-engine capability consumed by the call core.
// peer.Peer is the production implementation; tests use in-process fakes.
//
// AddRemoteCandidate must tolerate candidates arriving before the remote
// description is applied (the engine buffers them; the relay does not).
type Engine interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	RemoteDescriptionSet() bool
	AddRemoteCandidate(webrtc.ICECandidateInit) error

	OnCandidate(func(webrtc.ICECandidateInit))
	OnTrack(func(*webrtc.TrackRemote))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))

	AddTrack(webrtc.TrackLocal) error
	Close() error
}
