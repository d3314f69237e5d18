package pipeline

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-pipeline/capture"
	"media-pipeline/constant"
	"media-pipeline/dto"
	"media-pipeline/ratelimit"
	"media-pipeline/transcoder"
	"media-pipeline/uploader"
)

type stubStream struct{}

func (stubStream) Stop() {}

type stubOpener struct{}

func (stubOpener) Open(_ context.Context, _ capture.Constraints) (capture.Stream, error) {
	return stubStream{}, nil
}

type stubRecorder struct{}

func (stubRecorder) Start(_ context.Context, _ int) error { return nil }
func (stubRecorder) Stop() ([]byte, error)                { return []byte("rec"), nil }
func (stubRecorder) Discard()                             {}

type fakeCompressor struct {
	out        dto.MediaAsset
	err        error
	calls      int
	got        dto.MediaAsset
	onCompress func()
}

func (f *fakeCompressor) Compress(_ context.Context, asset dto.MediaAsset, _ transcoder.QualityProfile, onProgress func(int)) (dto.MediaAsset, error) {
	f.calls++
	f.got = asset
	if f.onCompress != nil {
		f.onCompress()
	}
	if onProgress != nil {
		onProgress(50)
		onProgress(100)
	}
	if f.err != nil {
		return dto.MediaAsset{}, f.err
	}
	return f.out, nil
}

type fakeUploader struct {
	errs    []error
	calls   int
	got     dto.MediaAsset
	gotKey  string
	started chan struct{}
	release chan struct{}
}

func (f *fakeUploader) Upload(ctx context.Context, asset dto.MediaAsset, key string, _ uuid.UUID, obs uploader.Observer) (dto.UploadAttemptResult, error) {
	f.calls++
	f.got = asset
	f.gotKey = key
	if f.started != nil {
		close(f.started)
		f.started = nil
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return dto.UploadAttemptResult{}, ctx.Err()
		}
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return dto.UploadAttemptResult{}, err
		}
	}
	if obs.OnObjectStored != nil {
		obs.OnObjectStored()
	}
	return dto.UploadAttemptResult{Succeeded: true, RemoteObjectKey: key, PublicURL: "https://cdn.test/" + key}, nil
}

type denyLimiter struct{ retryAfter time.Duration }

func (l denyLimiter) Check(_ context.Context, _ uuid.UUID) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: false, RetryAfter: l.retryAfter}, nil
}

// parkedLimiter blocks its first check until released, holding a run at the
// earliest point inside the pipeline.
type parkedLimiter struct {
	entered chan struct{}
	release chan struct{}
}

func (l *parkedLimiter) Check(ctx context.Context, _ uuid.UUID) (ratelimit.Decision, error) {
	close(l.entered)
	select {
	case <-l.release:
	case <-ctx.Done():
		return ratelimit.Decision{}, ctx.Err()
	}
	return ratelimit.Decision{Allowed: true}, nil
}

type fakeReporter struct{ events []dto.PipelineEvent }

func (f *fakeReporter) Report(_ context.Context, event dto.PipelineEvent) {
	f.events = append(f.events, event)
}

func newTestCoordinator(engine Compressor, uploads Uploader, limiter ratelimit.Limiter) *Coordinator {
	ctrl := capture.NewController(stubOpener{}, func(capture.Stream) capture.Recorder { return stubRecorder{} }, capture.Signals{})
	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter()
	}
	return NewCoordinator(ctrl, engine, uploads, limiter, nil, DeviceClassDesktop)
}

func pickedAsset(size int) dto.MediaAsset {
	// Opaque repeated bytes: the sniffer cannot identify them, which must
	// count as inconclusive rather than as a rejection.
	return dto.NewMediaAsset(bytes.Repeat([]byte{0xab}, size), "video/mp4", constant.AssetOriginPicked)
}

// mp4Asset carries a real ISO base media file header so the sniffer
// confidently detects video content.
func mp4Asset(size int) dto.MediaAsset {
	header := []byte{
		0x00, 0x00, 0x00, 0x1c, 'f', 't', 'y', 'p',
		'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00,
		'i', 's', 'o', 'm', 'i', 's', 'o', '2', 'm', 'p', '4', '1',
	}
	data := make([]byte, size)
	copy(data, header)
	return dto.NewMediaAsset(data, "video/mp4", constant.AssetOriginPicked)
}

func TestSelectRejectsUnsupportedType(t *testing.T) {
	c := newTestCoordinator(&fakeCompressor{}, &fakeUploader{}, nil)

	asset := dto.NewMediaAsset([]byte("<html>"), "text/html", constant.AssetOriginPicked)
	err := c.Select(context.Background(), asset)

	assert.ErrorIs(t, err, ErrInvalidType)
	assert.Equal(t, constant.PipelineStateEmpty, c.Status().State)
	assert.NotEmpty(t, c.Status().ErrorMessage)
}

func TestSelectRejectsOversizedFile(t *testing.T) {
	c := newTestCoordinator(&fakeCompressor{}, &fakeUploader{}, nil)

	err := c.Select(context.Background(), pickedAsset(constant.AbsoluteUploadCeilingBytes+1))

	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Equal(t, constant.PipelineStateEmpty, c.Status().State)
}

func TestSelectSniffsPickedContent(t *testing.T) {
	c := newTestCoordinator(&fakeCompressor{}, &fakeUploader{}, nil)
	ctx := context.Background()

	// Confident video detection passes.
	require.NoError(t, c.Select(ctx, mp4Asset(1<<20)))

	// Inconclusive payloads pass: repeated opaque bytes read as latin-1 text
	// to the sniffer, which is its fallback, not a detection.
	require.NoError(t, c.Select(ctx, pickedAsset(1<<20)))

	// A confidently detected non-video payload is rejected even with a video
	// mime label.
	png := make([]byte, 1<<10)
	copy(png, []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a})
	mislabeled := dto.NewMediaAsset(png, "video/mp4", constant.AssetOriginPicked)
	assert.ErrorIs(t, c.Select(ctx, mislabeled), ErrInvalidType)
}

func TestSubmitSkipsCompressionUnderThreshold(t *testing.T) {
	compressor := &fakeCompressor{}
	uploads := &fakeUploader{}
	c := newTestCoordinator(compressor, uploads, nil)
	ctx := context.Background()

	require.NoError(t, c.Select(ctx, pickedAsset(1<<20)))
	require.NoError(t, c.Submit(ctx, uuid.New()))

	assert.Equal(t, 0, compressor.calls)
	assert.Equal(t, 1, uploads.calls)
	assert.Equal(t, constant.PipelineStateSuccess, c.Status().State)
	assert.Equal(t, 100, c.Status().Progress)
}

func TestSubmitCompressesOverThreshold(t *testing.T) {
	// A 12 MiB file crosses the 10 MiB compression threshold; its 8 MiB
	// output re-validates under the 20 MiB ceiling and uploads.
	compressor := &fakeCompressor{out: pickedAsset(8 << 20)}
	uploads := &fakeUploader{}
	c := newTestCoordinator(compressor, uploads, nil)
	ctx := context.Background()

	require.NoError(t, c.Select(ctx, pickedAsset(12<<20)))
	require.NoError(t, c.Submit(ctx, uuid.New()))

	assert.Equal(t, 1, compressor.calls)
	assert.Equal(t, int64(12<<20), compressor.got.Size)
	assert.Equal(t, int64(8<<20), uploads.got.Size, "the compressed asset replaces the original")
	assert.Equal(t, constant.PipelineStateSuccess, c.Status().State)
}

func TestCompressionFailureFallsBackToOriginal(t *testing.T) {
	compressor := &fakeCompressor{err: errors.New("encoder crashed")}
	uploads := &fakeUploader{}
	c := newTestCoordinator(compressor, uploads, nil)
	ctx := context.Background()

	original := pickedAsset(12 << 20)
	require.NoError(t, c.Select(ctx, original))
	require.NoError(t, c.Submit(ctx, uuid.New()))

	assert.Equal(t, 1, uploads.calls, "pipeline still reaches uploading")
	assert.Equal(t, original.Data, uploads.got.Data, "uploaded asset is byte-identical to the pre-compression asset")
	assert.Equal(t, constant.PipelineStateSuccess, c.Status().State)
}

func TestStillTooLargeAfterCompression(t *testing.T) {
	compressor := &fakeCompressor{out: pickedAsset(constant.AbsoluteUploadCeilingBytes + 1)}
	uploads := &fakeUploader{}
	c := newTestCoordinator(compressor, uploads, nil)
	ctx := context.Background()

	require.NoError(t, c.Select(ctx, pickedAsset(12<<20)))
	err := c.Submit(ctx, uuid.New())

	assert.ErrorIs(t, err, uploader.ErrFileTooLarge)
	assert.Equal(t, 0, uploads.calls)
	assert.Equal(t, constant.PipelineStateError, c.Status().State)
	assert.Contains(t, c.Status().ErrorMessage, "after compression")
}

func TestSubmitRejectedWhileRunInFlight(t *testing.T) {
	uploads := &fakeUploader{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	started := uploads.started
	c := newTestCoordinator(&fakeCompressor{}, uploads, nil)
	ctx := context.Background()

	require.NoError(t, c.Select(ctx, pickedAsset(1<<20)))

	firstDone := make(chan error, 1)
	go func() { firstDone <- c.Submit(ctx, uuid.New()) }()
	<-started

	assert.Equal(t, constant.PipelineStateUploading, c.Status().State)
	assert.GreaterOrEqual(t, c.Status().Progress, 50)
	assert.ErrorIs(t, c.Submit(ctx, uuid.New()), ErrRunInFlight)

	close(uploads.release)
	require.NoError(t, <-firstDone)
	assert.Equal(t, constant.PipelineStateSuccess, c.Status().State)
}

func TestSubmitRateLimitedBeforeAnyWork(t *testing.T) {
	compressor := &fakeCompressor{}
	uploads := &fakeUploader{}
	c := newTestCoordinator(compressor, uploads, denyLimiter{retryAfter: 90 * time.Second})
	ctx := context.Background()

	require.NoError(t, c.Select(ctx, pickedAsset(12<<20)))
	err := c.Submit(ctx, uuid.New())

	require.Error(t, err)
	assert.Equal(t, 0, compressor.calls)
	assert.Equal(t, 0, uploads.calls)
	assert.Equal(t, constant.PipelineStateError, c.Status().State)
	assert.Contains(t, c.Status().ErrorMessage, "Try again in 90 seconds")
}

func TestCancelDuringUploadReturnsToEmpty(t *testing.T) {
	uploads := &fakeUploader{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	started := uploads.started
	c := newTestCoordinator(&fakeCompressor{}, uploads, nil)
	ctx := context.Background()

	require.NoError(t, c.Select(ctx, pickedAsset(1<<20)))

	done := make(chan error, 1)
	go func() { done <- c.Submit(ctx, uuid.New()) }()
	<-started

	c.Cancel(ctx)

	require.Error(t, <-done)
	assert.Equal(t, constant.PipelineStateEmpty, c.Status().State)
	assert.Equal(t, 0, c.Status().Progress)
	assert.Empty(t, c.Status().ErrorMessage)
}

func TestErrorStateAllowsResubmission(t *testing.T) {
	uploads := &fakeUploader{errs: []error{errors.New("storage blew up")}}
	c := newTestCoordinator(&fakeCompressor{}, uploads, nil)
	ctx := context.Background()

	require.NoError(t, c.Select(ctx, pickedAsset(1<<20)))
	require.Error(t, c.Submit(ctx, uuid.New()))
	assert.Equal(t, constant.PipelineStateError, c.Status().State)
	assert.NotEmpty(t, c.Status().ErrorMessage)

	require.NoError(t, c.Submit(ctx, uuid.New()))
	assert.Equal(t, constant.PipelineStateSuccess, c.Status().State)
}

func TestSubmitRejectedBeforeFirstStateTransition(t *testing.T) {
	// The in-flight guard must hold from the moment Submit commits to
	// running, not from the first state transition inside the run: a run
	// parked at the rate limiter is already in flight.
	limiter := &parkedLimiter{entered: make(chan struct{}), release: make(chan struct{})}
	uploads := &fakeUploader{}
	c := newTestCoordinator(&fakeCompressor{}, uploads, limiter)
	ctx := context.Background()

	require.NoError(t, c.Select(ctx, pickedAsset(1<<20)))

	done := make(chan error, 1)
	go func() { done <- c.Submit(ctx, uuid.New()) }()
	<-limiter.entered

	assert.ErrorIs(t, c.Submit(ctx, uuid.New()), ErrRunInFlight)

	close(limiter.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, uploads.calls)
}

func TestProgressResetsOnNewRun(t *testing.T) {
	// First run fails at upload after its compression band ran to 50; the
	// retry must start its scale over instead of showing the stale value.
	compressor := &fakeCompressor{out: pickedAsset(11 << 20)}
	uploads := &fakeUploader{errs: []error{errors.New("storage blew up")}}
	c := newTestCoordinator(compressor, uploads, nil)
	var atCompressStart []int
	compressor.onCompress = func() { atCompressStart = append(atCompressStart, c.Status().Progress) }
	ctx := context.Background()

	require.NoError(t, c.Select(ctx, pickedAsset(12<<20)))
	require.Error(t, c.Submit(ctx, uuid.New()))
	assert.GreaterOrEqual(t, c.Status().Progress, 50)

	require.NoError(t, c.Submit(ctx, uuid.New()))

	require.Len(t, atCompressStart, 2)
	assert.Equal(t, 5, atCompressStart[1])
	assert.Equal(t, 100, c.Status().Progress)
}

func TestSubmitAcceptedFromReadyState(t *testing.T) {
	uploads := &fakeUploader{}
	c := newTestCoordinator(&fakeCompressor{}, uploads, nil)
	ctx := context.Background()

	require.NoError(t, c.Select(ctx, pickedAsset(1<<20)))
	c.mu.Lock()
	c.state = constant.PipelineStateReady
	c.mu.Unlock()

	require.NoError(t, c.Submit(ctx, uuid.New()))
	assert.Equal(t, 1, uploads.calls)
	assert.Equal(t, constant.PipelineStateSuccess, c.Status().State)
}

func TestRecordingLimitStagesAssetAndReportsEvent(t *testing.T) {
	reporter := &fakeReporter{}
	ctrl := capture.NewController(stubOpener{}, func(capture.Stream) capture.Recorder { return stubRecorder{} }, capture.Signals{})
	c := NewCoordinator(ctrl, &fakeCompressor{}, &fakeUploader{}, ratelimit.NewMemoryLimiter(), reporter, DeviceClassDesktop)
	ctx := context.Background()

	require.NoError(t, c.StartPreview(ctx, constant.FacingModeUser))
	require.NoError(t, c.StartRecording(ctx))
	_, err := ctrl.StopRecording(ctx)
	require.NoError(t, err)

	c.HandleRecordingLimit(ctx)

	assert.Equal(t, constant.PipelineStateSelected, c.Status().State)
	require.Len(t, reporter.events, 1)
	assert.Equal(t, dto.EventRecordingLimitForced, reporter.events[0].Kind)
}

func TestStopRecordingStagesRecordedAsset(t *testing.T) {
	c := newTestCoordinator(&fakeCompressor{}, &fakeUploader{}, nil)
	ctx := context.Background()

	require.NoError(t, c.StartPreview(ctx, constant.FacingModeUser))
	require.NoError(t, c.StartRecording(ctx))
	require.NoError(t, c.StopRecording(ctx))

	status := c.Status()
	assert.Equal(t, constant.PipelineStateSelected, status.State)
	assert.Equal(t, constant.CaptureStateIdle, status.CaptureState)
}
