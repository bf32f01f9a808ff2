package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/immxrtalbeast/meshconf/lib/logger/sl"
	"github.com/pion/webrtc/v3"
)

type VideoSource string

const (
	VideoSourceNone   VideoSource = "none"
	VideoSourceCamera VideoSource = "camera"
	VideoSourceScreen VideoSource = "screen"
)

// VideoSwitcher swaps the outbound video track on every peer link.
type VideoSwitcher interface {
	ReplaceVideoTrack(ctx context.Context, track webrtc.TrackLocal) error
}

// Controller is the local media state of one session. Switching the video
// source holds the write lock while it fans out, and peer links read the
// current tracks under the read lock, so a link created mid-switch always
// gets the new source.
type Controller struct {
	source Source
	ladder []Constraints
	log    *slog.Logger

	mu       sync.RWMutex
	camera   *Stream
	screen   *Stream
	active   VideoSource
	switcher VideoSwitcher
}

func NewController(source Source, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		source: source,
		ladder: DefaultLadder,
		log:    log,
		active: VideoSourceNone,
	}
}

// SetSwitcher wires the peer link set. It must be called before any link
// exists.
func (c *Controller) SetSwitcher(s VideoSwitcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.switcher = s
}

// AcquireLocal walks the constraint ladder. A permission error stops it at
// once; device and constraint errors fall through to the next rung.
func (c *Controller) AcquireLocal(ctx context.Context) error {
	const op = "media.controller.acquire"
	log := c.log.With(slog.String("op", op))

	var lastErr error
	for _, constraints := range c.ladder {
		stream, err := c.source.AcquireLocalMedia(ctx, constraints)
		if err == nil {
			c.mu.Lock()
			c.camera.Stop()
			c.camera = stream
			if stream.Video != nil {
				c.active = VideoSourceCamera
			} else {
				c.active = VideoSourceNone
			}
			c.mu.Unlock()

			log.Info("local media acquired",
				slog.Bool("audio", stream.Audio != nil),
				slog.Bool("video", stream.Video != nil),
				slog.Int("width", constraints.Width),
				slog.Int("height", constraints.Height),
			)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !Retryable(err) {
			return fmt.Errorf("%s: %w", op, err)
		}
		log.Debug("relaxing constraints", slog.Any("constraints", constraints), sl.Err(err))
		lastErr = err
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}

func (c *Controller) SetAudioEnabled(enabled bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.camera != nil && c.camera.Audio != nil {
		c.camera.Audio.SetEnabled(enabled)
	}
}

// SetVideoEnabled toggles the camera only; a running screen share is not
// affected.
func (c *Controller) SetVideoEnabled(enabled bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.camera != nil && c.camera.Video != nil {
		c.camera.Video.SetEnabled(enabled)
	}
}

func (c *Controller) AudioEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.camera != nil && c.camera.Audio != nil && c.camera.Audio.Enabled()
}

func (c *Controller) VideoEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.camera != nil && c.camera.Video != nil && c.camera.Video.Enabled()
}

func (c *Controller) ActiveVideoSource() VideoSource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

func (c *Controller) CameraStream() *Stream {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.camera
}

func (c *Controller) ScreenStream() *Stream {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.screen
}

// WithOutboundTracks runs fn with the tracks a new link must send. Either
// argument is nil when there is nothing of that kind.
func (c *Controller) WithOutboundTracks(fn func(audio, video webrtc.TrackLocal) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var audio, video webrtc.TrackLocal
	if c.camera != nil && c.camera.Audio != nil {
		audio = c.camera.Audio
	}
	switch c.active {
	case VideoSourceScreen:
		video = c.screen.Video
	case VideoSourceCamera:
		video = c.camera.Video
	}
	return fn(audio, video)
}

// StartScreenShare replaces the camera on every link with a screen
// capture. A denied, cancelled or missing capture leaves everything as it
// was and is not an error.
func (c *Controller) StartScreenShare(ctx context.Context) error {
	const op = "media.controller.startScreenShare"
	log := c.log.With(slog.String("op", op))

	c.mu.RLock()
	active, hasCamera := c.active, c.camera != nil && c.camera.Video != nil
	c.mu.RUnlock()
	if active == VideoSourceScreen {
		return nil
	}
	if !hasCamera {
		return ErrNoVideoSource
	}

	screen, err := c.source.AcquireScreenCapture(ctx)
	if err != nil {
		log.Info("screen capture unavailable", sl.Err(err))
		return nil
	}
	if screen == nil || screen.Video == nil {
		screen.Stop()
		log.Info("screen capture has no video")
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != VideoSourceCamera {
		// a share started or media stopped while capture was pending
		screen.Stop()
		return nil
	}

	if c.switcher != nil {
		if err := c.switcher.ReplaceVideoTrack(ctx, screen.Video); err != nil {
			if rbErr := c.switcher.ReplaceVideoTrack(ctx, c.camera.Video); rbErr != nil {
				log.Error("failed to restore camera", sl.Err(rbErr))
			}
			screen.Stop()
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	c.screen = screen
	c.active = VideoSourceScreen
	go c.watchScreen(screen)

	log.Info("screen share started", slog.String("track", screen.Video.ID()))
	return nil
}

// StopScreenShare puts the camera back on every link and releases the
// screen capture. It is a no-op when nothing is shared.
func (c *Controller) StopScreenShare(ctx context.Context) error {
	return c.stopScreen(ctx, nil)
}

// stopScreen stops the share only if it is still the given stream, or any
// share when only is nil.
func (c *Controller) stopScreen(ctx context.Context, only *Stream) error {
	const op = "media.controller.stopScreenShare"

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != VideoSourceScreen || (only != nil && c.screen != only) {
		return nil
	}

	var err error
	if c.switcher != nil {
		err = c.switcher.ReplaceVideoTrack(ctx, c.camera.Video)
	}

	c.screen.Stop()
	c.screen = nil
	c.active = VideoSourceCamera

	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	c.log.Info("screen share stopped", slog.String("op", op))
	return nil
}

// watchScreen reverts to the camera when the capture ends on its own.
func (c *Controller) watchScreen(screen *Stream) {
	<-screen.Video.Ended()
	if err := c.stopScreen(context.Background(), screen); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Warn("failed to revert ended screen share", sl.Err(err))
	}
}

// Stop releases every capture. The controller can acquire again afterwards.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.screen.Stop()
	c.camera.Stop()
	c.screen = nil
	c.camera = nil
	c.active = VideoSourceNone
}
