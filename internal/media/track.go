// Package media owns local capture streams and decides which track every
// peer link sends.
package media

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
)

// Track is a local outbound track. A disabled track keeps its place in
// every sender but discards samples, so toggling never renegotiates.
type Track struct {
	*webrtc.TrackLocalStaticSample

	enabled  atomic.Bool
	stopOnce sync.Once
	ended    chan struct{}
}

func NewTrack(codec webrtc.RTPCodecCapability, id, streamID string) (*Track, error) {
	sample, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, err
	}
	t := &Track{
		TrackLocalStaticSample: sample,
		ended:                  make(chan struct{}),
	}
	t.enabled.Store(true)
	return t, nil
}

func (t *Track) Enabled() bool {
	return t.enabled.Load()
}

func (t *Track) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

// WriteSample forwards to every bound sender unless the track is disabled
// or stopped.
func (t *Track) WriteSample(s pionmedia.Sample) error {
	if !t.Enabled() || t.Stopped() {
		return nil
	}
	return t.TrackLocalStaticSample.WriteSample(s)
}

// Stop ends the track. It is also how a capture source reports that the
// user revoked it.
func (t *Track) Stop() {
	t.stopOnce.Do(func() {
		close(t.ended)
	})
}

func (t *Track) Stopped() bool {
	select {
	case <-t.ended:
		return true
	default:
		return false
	}
}

// Ended is closed once the track stops.
func (t *Track) Ended() <-chan struct{} {
	return t.ended
}

// Stream groups the tracks of one capture. Either track may be nil.
type Stream struct {
	ID    string
	Audio *Track
	Video *Track
}

func (s *Stream) Stop() {
	if s == nil {
		return
	}
	if s.Audio != nil {
		s.Audio.Stop()
	}
	if s.Video != nil {
		s.Video.Stop()
	}
}
