// Package media provides the local media capability: acquisition of the
// outbound track set and the audio mute toggle.
package media

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// ErrCaptureFailed is wrapped by sources when the capture device is
// unavailable or permission is denied. Capture failure is fatal to session
// start; the core never retries.
var ErrCaptureFailed = errors.New("media capture failed")

// Source acquires the local audio/video track set.
type Source interface {
	Acquire(ctx context.Context) (*Set, error)
}

// Set is an acquired local track set. Mute applies to the audio subset only.
type Set struct {
	mu     sync.Mutex
	audio  []webrtc.TrackLocal
	video  []webrtc.TrackLocal
	muted  bool
	closed bool

	onClose func()
}

func NewSet(audio, video []webrtc.TrackLocal, onClose func()) *Set {
	return &Set{audio: audio, video: video, onClose: onClose}
}

// Tracks returns all tracks to bind to the negotiation engine, audio first.
func (s *Set) Tracks() []webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]webrtc.TrackLocal, 0, len(s.audio)+len(s.video))
	out = append(out, s.audio...)
	out = append(out, s.video...)
	return out
}

func (s *Set) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

func (s *Set) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// Close releases the underlying capture resources. Safe to call twice.
func (s *Set) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	onClose := s.onClose
	s.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}
