package constant

type PipelineState string

const (
	PipelineStateEmpty       PipelineState = "empty"
	PipelineStateSelected    PipelineState = "selected"
	PipelineStateCompressing PipelineState = "compressing"
	PipelineStateReady       PipelineState = "ready"
	PipelineStateUploading   PipelineState = "uploading"
	PipelineStateSuccess     PipelineState = "success"
	PipelineStateError       PipelineState = "error"
)

type CaptureState string

const (
	CaptureStateIdle       CaptureState = "idle"
	CaptureStatePreviewing CaptureState = "previewing"
	CaptureStateRecording  CaptureState = "recording"
	CaptureStateRecorded   CaptureState = "recorded"
)

type FacingMode string

const (
	FacingModeUser        FacingMode = "user"
	FacingModeEnvironment FacingMode = "environment"
)

func (f FacingMode) Opposite() FacingMode {
	if f == FacingModeUser {
		return FacingModeEnvironment
	}
	return FacingModeUser
}

type AssetOrigin string

const (
	AssetOriginPicked   AssetOrigin = "picked"
	AssetOriginRecorded AssetOrigin = "recorded"
)

type ContentStatus string

const (
	ContentStatusPending  ContentStatus = "pending"
	ContentStatusApproved ContentStatus = "approved"
	ContentStatusRejected ContentStatus = "rejected"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}

// Hard limits of the pipeline. The recording ceiling and the upload ceilings
// bound worst-case upload size and are deliberately not configurable.
const (
	MaxRecordingSeconds     = 60
	RecordingWarningSeconds = 50
	RecordingBitrateBps     = 2_500_000

	AbsoluteUploadCeilingBytes = 20 << 20
	CompressionThresholdBytes  = 10 << 20

	NetworkTimeoutSeconds = 30

	PreviewWidth     = 640
	PreviewHeight    = 480
	FrameTargetWidth = 640
)
