package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"media-pipeline/constant"
	"media-pipeline/dto"
)

// Signals are the controller's outbound notifications. Callbacks run on the
// tick goroutine, after the controller has released its lock.
type Signals struct {
	// OnWarning fires exactly once per recording, at the warning mark, with
	// the number of seconds remaining.
	OnWarning func(remainingSeconds int)
	// OnLimit fires when the duration ceiling forces the recording to stop.
	OnLimit func()
}

// Controller owns the camera device for the whole process: at most one
// stream is open at any time, and every transition out of previewing or
// recording releases it before anything else happens.
type Controller struct {
	opener   DeviceOpener
	recorder RecorderFactory
	signals  Signals

	mu           sync.Mutex
	state        constant.CaptureState
	facing       constant.FacingMode
	stream       Stream
	rec          Recorder
	elapsed      int
	recorded     *dto.MediaAsset
	tickStop     chan struct{}
	tickInterval time.Duration
	recordedMime string
}

func NewController(opener DeviceOpener, factory RecorderFactory, signals Signals) *Controller {
	return &Controller{
		opener:       opener,
		recorder:     factory,
		signals:      signals,
		state:        constant.CaptureStateIdle,
		facing:       constant.FacingModeUser,
		tickInterval: time.Second,
		recordedMime: "video/webm",
	}
}

func (c *Controller) State() constant.CaptureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Elapsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

// EstimatedSize derives the live size estimate from the fixed encoder
// bitrate assumption and the elapsed recording time.
func (c *Controller) EstimatedSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(c.elapsed) * constant.RecordingBitrateBps / 8
}

// StartPreview acquires a stream for the given facing mode. Any previous
// stream is fully released first. On acquisition failure the controller
// stays idle and the error is surfaced as a camera-unavailable failure.
func (c *Controller) StartPreview(ctx context.Context, facing constant.FacingMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == constant.CaptureStateRecording {
		return fmt.Errorf("preview requested while recording")
	}
	c.releaseLocked()

	stream, err := c.opener.Open(ctx, PreviewConstraints(facing))
	if err != nil {
		c.state = constant.CaptureStateIdle
		zerolog.Ctx(ctx).Error().Err(err).Str("facing", string(facing)).Msg("failed to acquire camera")
		return errors.Join(ErrCameraUnavailable, err)
	}

	c.stream = stream
	c.facing = facing
	c.state = constant.CaptureStatePreviewing
	zerolog.Ctx(ctx).Info().Str("facing", string(facing)).Msg("camera preview started")
	return nil
}

// SwitchFacing releases the current stream and re-acquires with the opposite
// facing mode, preserving the previewing state. It is rejected while
// recording so an in-flight capture is never corrupted.
func (c *Controller) SwitchFacing(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case constant.CaptureStateRecording:
		return ErrSwitchWhileRecording
	case constant.CaptureStatePreviewing:
	default:
		return ErrNoActiveStream
	}

	c.releaseLocked()
	next := c.facing.Opposite()

	stream, err := c.opener.Open(ctx, PreviewConstraints(next))
	if err != nil {
		c.state = constant.CaptureStateIdle
		zerolog.Ctx(ctx).Error().Err(err).Str("facing", string(next)).Msg("failed to reacquire camera")
		return errors.Join(ErrCameraUnavailable, err)
	}

	c.stream = stream
	c.facing = next
	c.state = constant.CaptureStatePreviewing
	return nil
}

// StartRecording begins buffering encoded chunks from the active stream and
// starts the 1-second elapsed ticker.
func (c *Controller) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != constant.CaptureStatePreviewing || c.stream == nil {
		return ErrNoActiveStream
	}

	rec := c.recorder(c.stream)
	if err := rec.Start(ctx, constant.RecordingBitrateBps); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to start recorder")
		return err
	}

	c.rec = rec
	c.elapsed = 0
	c.recorded = nil
	c.state = constant.CaptureStateRecording
	c.tickStop = make(chan struct{})
	go c.tickLoop(ctx, c.tickStop)

	zerolog.Ctx(ctx).Info().Msg("recording started")
	return nil
}

// StopRecording finalizes the buffered chunks into one recorded asset,
// releases the device and transitions to recorded.
func (c *Controller) StopRecording(ctx context.Context) (dto.MediaAsset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopRecordingLocked(ctx)
}

func (c *Controller) stopRecordingLocked(ctx context.Context) (dto.MediaAsset, error) {
	if c.state != constant.CaptureStateRecording || c.rec == nil {
		return dto.MediaAsset{}, ErrNoActiveStream
	}

	c.stopTickLocked()
	data, err := c.rec.Stop()
	c.rec = nil
	if err != nil {
		c.releaseLocked()
		c.state = constant.CaptureStateIdle
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to finalize recording")
		return dto.MediaAsset{}, err
	}

	if c.stream != nil {
		c.stream.Stop()
		c.stream = nil
	}

	asset := dto.NewMediaAsset(data, c.recordedMime, constant.AssetOriginRecorded)
	c.recorded = &asset
	c.state = constant.CaptureStateRecorded
	zerolog.Ctx(ctx).Info().Int("elapsed", c.elapsed).Int64("size", asset.Size).Msg("recording finalized")
	return asset, nil
}

// TakeRecordedAsset hands the recorded asset to the caller and returns the
// controller to idle. Second call reports no asset.
func (c *Controller) TakeRecordedAsset() (dto.MediaAsset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != constant.CaptureStateRecorded || c.recorded == nil {
		return dto.MediaAsset{}, false
	}
	asset := *c.recorded
	c.recorded = nil
	c.state = constant.CaptureStateIdle
	return asset, true
}

// Cancel discards any buffered chunks, releases the device unconditionally
// and returns to idle. Safe to call from any state.
func (c *Controller) Cancel(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopTickLocked()
	if c.rec != nil {
		c.rec.Discard()
		c.rec = nil
	}
	c.releaseLocked()
	c.recorded = nil
	c.elapsed = 0
	if c.state != constant.CaptureStateIdle {
		zerolog.Ctx(ctx).Info().Str("from", string(c.state)).Msg("capture session cancelled")
	}
	c.state = constant.CaptureStateIdle
}

func (c *Controller) releaseLocked() {
	if c.stream != nil {
		c.stream.Stop()
		c.stream = nil
	}
}

func (c *Controller) stopTickLocked() {
	if c.tickStop != nil {
		close(c.tickStop)
		c.tickStop = nil
	}
}

func (c *Controller) tickLoop(ctx context.Context, stop chan struct{}) {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if done := c.tick(ctx); done {
				return
			}
		}
	}
}

// tick advances the elapsed counter once per interval while recording. At
// the warning mark it emits the remaining-time signal; at the ceiling it
// forces a normal stop, which is a recording → recorded transition, not a
// cancellation.
func (c *Controller) tick(ctx context.Context) bool {
	c.mu.Lock()

	if c.state != constant.CaptureStateRecording {
		c.mu.Unlock()
		return true
	}

	c.elapsed++
	elapsed := c.elapsed

	if elapsed == constant.RecordingWarningSeconds {
		c.mu.Unlock()
		if c.signals.OnWarning != nil {
			c.signals.OnWarning(constant.MaxRecordingSeconds - constant.RecordingWarningSeconds)
		}
		return false
	}

	if elapsed >= constant.MaxRecordingSeconds {
		if _, err := c.stopRecordingLocked(ctx); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("forced stop at duration ceiling failed")
		}
		c.mu.Unlock()
		if c.signals.OnLimit != nil {
			c.signals.OnLimit()
		}
		return true
	}

	c.mu.Unlock()
	return false
}
