package dto

import (
	"time"

	"github.com/google/uuid"

	"media-pipeline/constant"
	"media-pipeline/errclass"
)

// MediaAsset is the working file at one pipeline stage. Stages never mutate
// an asset; compression produces a new one.
type MediaAsset struct {
	Data     []byte
	MimeType string
	Size     int64
	Origin   constant.AssetOrigin
}

func NewMediaAsset(data []byte, mimeType string, origin constant.AssetOrigin) MediaAsset {
	return MediaAsset{
		Data:     data,
		MimeType: mimeType,
		Size:     int64(len(data)),
		Origin:   origin,
	}
}

// UploadAttemptResult is produced once per orchestrator attempt and never
// mutated; a new attempt supersedes it.
type UploadAttemptResult struct {
	Succeeded       bool
	RemoteObjectKey string
	PublicURL       string
	ErrorCategory   errclass.Category
}

// PipelineStatus is the snapshot the UI polls.
type PipelineStatus struct {
	State          constant.PipelineState `json:"state"`
	Progress       int                    `json:"progress"`
	EstimatedSize  int64                  `json:"estimated_size"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	CaptureState   constant.CaptureState  `json:"capture_state"`
	ElapsedSeconds int                    `json:"elapsed_seconds"`
}

// PipelineEvent is published to the telemetry exchange.
type PipelineEvent struct {
	Kind      string    `json:"kind"`
	UserId    uuid.UUID `json:"userId"`
	ObjectKey string    `json:"objectKey,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

const (
	EventPipelineCompleted    = "pipeline.completed"
	EventPipelineFailed       = "pipeline.failed"
	EventOrphanCleanupFailed  = "orphan_cleanup_failed"
	EventCompressionFellBack  = "compression.fell_back"
	EventRecordingLimitForced = "recording.limit_forced"
)
