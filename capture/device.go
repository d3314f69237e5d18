package capture

import (
	"context"
	"errors"

	"media-pipeline/constant"
)

var (
	ErrCameraUnavailable    = errors.New("camera unavailable")
	ErrSwitchWhileRecording = errors.New("cannot switch camera while recording")
	ErrNoActiveStream       = errors.New("no active camera stream")
)

// Constraints is the acquisition profile for a device stream. Preview always
// uses the fixed low-resolution profile; callers pick only the facing mode.
type Constraints struct {
	Facing constant.FacingMode
	Width  int
	Height int
}

func PreviewConstraints(facing constant.FacingMode) Constraints {
	return Constraints{
		Facing: facing,
		Width:  constant.PreviewWidth,
		Height: constant.PreviewHeight,
	}
}

// Stream is one open device acquisition. Stop releases the underlying
// tracks; it must be safe to call more than once.
type Stream interface {
	Stop()
}

// DeviceOpener acquires a camera stream. Acquisition failures are
// non-retryable from the controller's perspective; the user retries manually.
type DeviceOpener interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Recorder buffers encoded chunks from a stream at a target bitrate and
// finalizes them into a single blob on stop.
type Recorder interface {
	Start(ctx context.Context, bitrateBps int) error
	Stop() ([]byte, error)
	Discard()
}

// RecorderFactory binds a recorder to an open stream.
type RecorderFactory func(s Stream) Recorder
