package media

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

const (
	audioFrameInterval = 20 * time.Millisecond
)

// opusSilence is a single pre-encoded Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SilenceSource produces a synthetic track set: an Opus audio track fed
// silence frames and a VP8 video track with no samples. It stands in for
// device capture on headless clients and in tests; the negotiation flow is
// identical to a real capture source.
type SilenceSource struct{}

func (SilenceSource) Acquire(ctx context.Context) (*Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "local",
	)
	if err != nil {
		return nil, fmt.Errorf("%w: audio track: %v", ErrCaptureFailed, err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "local",
	)
	if err != nil {
		return nil, fmt.Errorf("%w: video track: %v", ErrCaptureFailed, err)
	}

	done := make(chan struct{})
	set := NewSet(
		[]webrtc.TrackLocal{audio},
		[]webrtc.TrackLocal{video},
		func() { close(done) },
	)

	go writeSilence(audio, set, done)
	return set, nil
}

func writeSilence(track *webrtc.TrackLocalStaticSample, set *Set, done <-chan struct{}) {
	ticker := time.NewTicker(audioFrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if set.Muted() {
				continue
			}
			// WriteSample errors until the track is bound; that's fine, the
			// writer just keeps ticking.
			_ = track.WriteSample(pionmedia.Sample{
				Data:     opusSilence,
				Duration: audioFrameInterval,
			})
		}
	}
}
