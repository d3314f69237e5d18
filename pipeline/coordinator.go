package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"media-pipeline/capture"
	"media-pipeline/constant"
	"media-pipeline/dto"
	"media-pipeline/errclass"
	"media-pipeline/ratelimit"
	"media-pipeline/transcoder"
	"media-pipeline/uploader"
)

var (
	ErrRunInFlight   = errors.New("a submission is already in progress")
	ErrNothingStaged = errors.New("no file selected")
	ErrInvalidType   = errors.New("unsupported file type")
	ErrTooLarge      = errors.New("file is too large")
)

var allowedMimeTypes = map[string]bool{
	"video/mp4":       true,
	"video/webm":      true,
	"video/quicktime": true,
}

// Compressor is the transcoder surface the coordinator needs.
type Compressor interface {
	Compress(ctx context.Context, asset dto.MediaAsset, profile transcoder.QualityProfile, onProgress func(int)) (dto.MediaAsset, error)
}

// FrameExtractor is implemented by engines that can produce a still preview
// frame; the coordinator uses it when available.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, asset dto.MediaAsset, seekSeconds float64) (dto.MediaAsset, error)
}

// Uploader is the orchestrator surface the coordinator needs.
type Uploader interface {
	Upload(ctx context.Context, asset dto.MediaAsset, key string, userId uuid.UUID, obs uploader.Observer) (dto.UploadAttemptResult, error)
}

// Coordinator sequences one pipeline run at a time: selection, optional
// compression, upload, metadata. It owns the working asset until the
// orchestrator takes over, drives the single 0-100 progress scale, and runs
// all cleanup on cancellation and teardown.
type Coordinator struct {
	capture  *capture.Controller
	engine   Compressor
	uploads  Uploader
	limiter  ratelimit.Limiter
	reporter uploader.Reporter

	shouldCompress CompressPolicy
	deviceClass    DeviceClass
	profile        transcoder.QualityProfile

	mu        sync.Mutex
	state     constant.PipelineState
	asset     *dto.MediaAsset
	progress  int
	errMsg    string
	inFlight  bool
	cancelRun context.CancelFunc
	cancelled bool
}

func NewCoordinator(cap *capture.Controller, engine Compressor, uploads Uploader, limiter ratelimit.Limiter, reporter uploader.Reporter, class DeviceClass) *Coordinator {
	return &Coordinator{
		capture:        cap,
		engine:         engine,
		uploads:        uploads,
		limiter:        limiter,
		reporter:       reporter,
		shouldCompress: DefaultCompressPolicy,
		deviceClass:    class,
		profile:        transcoder.ProfileBalanced,
		state:          constant.PipelineStateEmpty,
	}
}

// SetCompressPolicy replaces the default compression decision.
func (c *Coordinator) SetCompressPolicy(policy CompressPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shouldCompress = policy
}

func (c *Coordinator) Status() dto.PipelineStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	estimated := c.capture.EstimatedSize()
	if c.asset != nil {
		estimated = c.asset.Size
	}
	return dto.PipelineStatus{
		State:          c.state,
		Progress:       c.progress,
		EstimatedSize:  estimated,
		ErrorMessage:   c.errMsg,
		CaptureState:   c.capture.State(),
		ElapsedSeconds: c.capture.Elapsed(),
	}
}

// Select validates a picked or recorded asset and stages it for submission.
func (c *Coordinator) Select(ctx context.Context, asset dto.MediaAsset) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight {
		return ErrRunInFlight
	}

	if err := validateAsset(asset); err != nil {
		c.errMsg = userMessageFor(err)
		zerolog.Ctx(ctx).Warn().Err(err).Str("mime", asset.MimeType).Int64("size", asset.Size).Msg("rejected selected file")
		return err
	}

	c.asset = &asset
	c.state = constant.PipelineStateSelected
	c.progress = 0
	c.errMsg = ""
	return nil
}

func validateAsset(asset dto.MediaAsset) error {
	if !allowedMimeTypes[asset.MimeType] {
		return fmt.Errorf("%w: %s", ErrInvalidType, asset.MimeType)
	}
	if asset.Size > constant.AbsoluteUploadCeilingBytes {
		return ErrTooLarge
	}
	// Picked files carry a caller-declared type; sniff the content to catch
	// mislabeled uploads. Recorded assets come from our own recorder. Only a
	// confident non-video detection rejects: text/plain and
	// application/octet-stream are the sniffer's fallbacks for payloads it
	// cannot identify, which proves nothing either way.
	if asset.Origin == constant.AssetOriginPicked {
		detected := mimetype.Detect(asset.Data).String()
		inconclusive := detected == "application/octet-stream" || strings.HasPrefix(detected, "text/plain")
		if !inconclusive && !strings.HasPrefix(detected, "video/") {
			return fmt.Errorf("%w: content looks like %s", ErrInvalidType, detected)
		}
	}
	return nil
}

// Submit runs the whole pipeline for the staged asset. It rejects while a
// run is in flight and consults the rate limiter before acquiring anything.
func (c *Coordinator) Submit(ctx context.Context, userId uuid.UUID) error {
	c.mu.Lock()
	// The run is marked in flight before the lock drops; checking the state
	// alone would leave a window where two concurrent submissions both pass.
	if c.inFlight {
		c.mu.Unlock()
		return ErrRunInFlight
	}
	switch c.state {
	case constant.PipelineStateSelected, constant.PipelineStateReady, constant.PipelineStateError:
	default:
		c.mu.Unlock()
		return ErrNothingStaged
	}
	if c.asset == nil {
		c.mu.Unlock()
		return ErrNothingStaged
	}
	asset := *c.asset

	runCtx, cancel := context.WithCancel(ctx)
	c.inFlight = true
	c.cancelRun = cancel
	c.cancelled = false
	c.progress = 0
	c.errMsg = ""
	c.mu.Unlock()
	defer cancel()

	err := c.run(runCtx, asset, userId)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false
	c.cancelRun = nil

	if c.cancelled {
		// Cancellation already tore the run down; land in an actionable
		// empty state rather than error.
		c.resetLocked()
		return err
	}
	if err != nil {
		c.state = constant.PipelineStateError
		if c.errMsg == "" {
			c.errMsg = errclass.Classify(err).UserMessage
		}
		c.reportEvent(ctx, dto.PipelineEvent{Kind: dto.EventPipelineFailed, UserId: userId, Detail: err.Error()})
		return err
	}

	c.state = constant.PipelineStateSuccess
	c.progress = 100
	c.reportEvent(ctx, dto.PipelineEvent{Kind: dto.EventPipelineCompleted, UserId: userId})
	return nil
}

func (c *Coordinator) run(ctx context.Context, asset dto.MediaAsset, userId uuid.UUID) error {
	defer c.capture.Cancel(ctx)

	decision, err := c.limiter.Check(ctx, userId)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("rate limit check failed")
		return err
	}
	if !decision.Allowed {
		c.setError(fmt.Sprintf("Too many uploads. Try again in %d seconds.", int(decision.RetryAfter.Seconds())))
		return &errclass.HTTPError{StatusCode: 429, Message: "upload rate limit exceeded"}
	}

	compressed := false
	if c.shouldCompress(asset, c.deviceClass) {
		c.setState(constant.PipelineStateCompressing, 5)

		// Compression progress occupies the 5-50 band of the run scale.
		result, err := c.engine.Compress(ctx, asset, c.profile, func(percent int) {
			c.setProgress(5 + percent*45/100)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Compression is a best-effort size reducer; its failure never
			// fails the upload.
			zerolog.Ctx(ctx).Warn().Err(err).Msg("compression failed, falling back to original file")
			c.reportEvent(ctx, dto.PipelineEvent{Kind: dto.EventCompressionFellBack, UserId: userId, Detail: err.Error()})
		} else {
			zerolog.Ctx(ctx).Info().
				Int64("original_size", asset.Size).
				Int64("compressed_size", result.Size).
				Msg("compression finished")
			asset = result
			compressed = true
			c.replaceAsset(result)
		}
	}

	// The working asset is staged for upload; re-validate the ceiling since
	// compression may not have shrunk it enough.
	c.setState(constant.PipelineStateReady, 50)

	if asset.Size > constant.AbsoluteUploadCeilingBytes {
		if compressed {
			c.setError("File is still too large after compression. Try a shorter video.")
		} else {
			c.setError("File is too large to upload. Try a shorter video.")
		}
		return uploader.ErrFileTooLarge
	}

	c.setState(constant.PipelineStateUploading, 50)

	key := fmt.Sprintf("videos/%s/%s.mp4", userId, uuid.New())
	result, err := c.uploads.Upload(ctx, asset, key, userId, uploader.Observer{
		OnObjectStored: func() {
			c.setProgress(80)
		},
		OnRetry: func(attempt int, err error) {
			zerolog.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Msg("upload attempt failed, retrying")
		},
	})
	if err != nil {
		c.setError(errclass.Classify(err).UserMessage)
		return err
	}

	c.setProgress(95)
	zerolog.Ctx(ctx).Info().Str("url", result.PublicURL).Msg("pipeline run committed")
	return nil
}

// Cancel aborts any in-flight run, releases the camera, and returns the
// pipeline to empty. The orchestrator compensates a stored object if the
// cancellation lands between upload and metadata persistence.
func (c *Coordinator) Cancel(ctx context.Context) {
	c.mu.Lock()
	inFlight := c.inFlight
	if inFlight {
		c.cancelled = true
		c.cancelRun()
	}
	c.mu.Unlock()

	c.capture.Cancel(ctx)

	if !inFlight {
		c.mu.Lock()
		c.resetLocked()
		c.mu.Unlock()
	}
}

// Reset returns a settled pipeline to empty. It refuses to interrupt an
// in-flight run; use Cancel for that.
func (c *Coordinator) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight {
		return ErrRunInFlight
	}
	c.capture.Cancel(ctx)
	c.resetLocked()
	return nil
}

// Close is the unmount path: cancel whatever is running and release the
// device before teardown.
func (c *Coordinator) Close(ctx context.Context) {
	c.Cancel(ctx)
}

// StartPreview, SwitchFacing, StartRecording and StopRecording expose the
// capture session through the same surface the UI binds to.

func (c *Coordinator) StartPreview(ctx context.Context, facing constant.FacingMode) error {
	return c.capture.StartPreview(ctx, facing)
}

func (c *Coordinator) SwitchFacing(ctx context.Context) error {
	return c.capture.SwitchFacing(ctx)
}

func (c *Coordinator) StartRecording(ctx context.Context) error {
	return c.capture.StartRecording(ctx)
}

// StopRecording finalizes the capture session and stages the recorded asset
// exactly like a picked file.
func (c *Coordinator) StopRecording(ctx context.Context) error {
	if _, err := c.capture.StopRecording(ctx); err != nil {
		return err
	}
	return c.selectRecorded(ctx)
}

// HandleRecordingLimit is wired to the capture controller's limit signal so
// a ceiling-forced stop stages its asset the same way a manual stop does.
func (c *Coordinator) HandleRecordingLimit(ctx context.Context) {
	c.reportEvent(ctx, dto.PipelineEvent{
		Kind:   dto.EventRecordingLimitForced,
		Detail: fmt.Sprintf("recording stopped at %d seconds", constant.MaxRecordingSeconds),
	})
	if err := c.selectRecorded(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to stage recording after forced stop")
	}
}

func (c *Coordinator) selectRecorded(ctx context.Context) error {
	asset, ok := c.capture.TakeRecordedAsset()
	if !ok {
		return capture.ErrNoActiveStream
	}
	return c.Select(ctx, asset)
}

// Thumbnail extracts a preview frame from the staged asset. It is
// independent of the main upload and never advances the pipeline state.
func (c *Coordinator) Thumbnail(ctx context.Context) (dto.MediaAsset, error) {
	c.mu.Lock()
	asset := c.asset
	c.mu.Unlock()

	if asset == nil {
		return dto.MediaAsset{}, ErrNothingStaged
	}
	extractor, ok := c.engine.(FrameExtractor)
	if !ok {
		return dto.MediaAsset{}, errors.New("frame extraction not supported by this engine")
	}
	return extractor.ExtractFrame(ctx, *asset, 0)
}

func (c *Coordinator) setState(state constant.PipelineState, progress int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	if progress > c.progress {
		c.progress = progress
	}
}

// setProgress only ever raises: the run scale is monotonically
// non-decreasing.
func (c *Coordinator) setProgress(progress int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if progress > c.progress {
		c.progress = progress
	}
}

func (c *Coordinator) setError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errMsg = msg
}

func (c *Coordinator) replaceAsset(asset dto.MediaAsset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.asset = &asset
}

func (c *Coordinator) resetLocked() {
	c.state = constant.PipelineStateEmpty
	c.asset = nil
	c.progress = 0
	c.errMsg = ""
	c.cancelled = false
}

func (c *Coordinator) reportEvent(ctx context.Context, event dto.PipelineEvent) {
	if c.reporter == nil {
		return
	}
	event.At = time.Now().UTC()
	c.reporter.Report(ctx, event)
}

func userMessageFor(err error) string {
	switch {
	case errors.Is(err, ErrInvalidType):
		return "That file type is not supported. Upload an mp4, webm or mov video."
	case errors.Is(err, ErrTooLarge):
		return "File is too large to upload. Try a shorter video."
	default:
		return errclass.Classify(err).UserMessage
	}
}
