package media

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
)

var (
	videoCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	audioCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
)

// SyntheticSource builds tracks without touching any device. Errors can be
// injected to drive the acquisition paths.
type SyntheticSource struct {
	mu sync.Mutex

	// LocalErrors are returned by successive AcquireLocalMedia calls before
	// it starts succeeding.
	LocalErrors []error
	// ScreenErr, when set, is returned by every AcquireScreenCapture call.
	ScreenErr error
	// NoCamera makes every capture audio only.
	NoCamera bool

	Requests []Constraints
}

func NewSyntheticSource() *SyntheticSource {
	return &SyntheticSource{}
}

func (s *SyntheticSource) AcquireLocalMedia(ctx context.Context, constraints Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.Requests = append(s.Requests, constraints)
	if len(s.LocalErrors) > 0 {
		err := s.LocalErrors[0]
		s.LocalErrors = s.LocalErrors[1:]
		s.mu.Unlock()
		return nil, err
	}
	noCamera := s.NoCamera
	s.mu.Unlock()

	streamID := "camera-" + uuid.NewString()
	stream := &Stream{ID: streamID}

	if constraints.Audio {
		audio, err := NewTrack(audioCodec, "audio-"+uuid.NewString(), streamID)
		if err != nil {
			return nil, err
		}
		stream.Audio = audio
	}
	if constraints.Video && !noCamera {
		video, err := NewTrack(videoCodec, "video-"+uuid.NewString(), streamID)
		if err != nil {
			return nil, err
		}
		stream.Video = video
	}
	return stream, nil
}

func (s *SyntheticSource) AcquireScreenCapture(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	screenErr := s.ScreenErr
	s.mu.Unlock()
	if screenErr != nil {
		return nil, screenErr
	}

	streamID := "screen-" + uuid.NewString()
	video, err := NewTrack(videoCodec, "screen-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, err
	}
	return &Stream{ID: streamID, Video: video}, nil
}

// Feed writes a fixed payload to track every interval until ctx is done
// or the track ends.
func Feed(ctx context.Context, track *Track, payload []byte, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-track.Ended():
			return
		case <-ticker.C:
			// write errors come from links that are closing
			_ = track.WriteSample(pionmedia.Sample{Data: payload, Duration: interval})
		}
	}
}
