package media

import (
	"context"
	"errors"
)

var (
	ErrPermissionDenied         = errors.New("media permission denied")
	ErrDeviceUnavailable        = errors.New("media device unavailable")
	ErrConstraintsUnsatisfiable = errors.New("media constraints unsatisfiable")
	ErrUserCancelled            = errors.New("screen capture cancelled")
	ErrNoVideoSource            = errors.New("no camera video to replace")
	ErrNotAcquired              = errors.New("local media not acquired")
)

type Constraints struct {
	Audio  bool
	Video  bool
	Width  int
	Height int
}

// DefaultLadder is tried top to bottom until a capture succeeds.
var DefaultLadder = []Constraints{
	{Audio: true, Video: true, Width: 1280, Height: 720},
	{Audio: true, Video: true, Width: 640, Height: 480},
	{Audio: true, Video: true},
	{Audio: true},
}

// Source is the platform capture capability.
type Source interface {
	AcquireLocalMedia(ctx context.Context, constraints Constraints) (*Stream, error)
	AcquireScreenCapture(ctx context.Context) (*Stream, error)
}

// Retryable reports whether a smaller constraint set may still succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrDeviceUnavailable) || errors.Is(err, ErrConstraintsUnsatisfiable)
}
