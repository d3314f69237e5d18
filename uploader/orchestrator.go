package uploader

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"media-pipeline/constant"
	"media-pipeline/dto"
	"media-pipeline/entities"
	"media-pipeline/errclass"
	"media-pipeline/repository"
	"media-pipeline/retry"
	"media-pipeline/storage"
)

// ErrFileTooLarge is the non-retryable size-gate failure. The ceiling is
// enforced here regardless of whether compression ran upstream.
var ErrFileTooLarge = &errclass.HTTPError{
	StatusCode: 413,
	Message:    "file exceeds the maximum upload size",
}

// Reporter receives best-effort telemetry. Implementations must not block
// the pipeline on broker trouble.
type Reporter interface {
	Report(ctx context.Context, event dto.PipelineEvent)
}

// Observer surfaces orchestrator milestones to the coordinator's progress
// scale.
type Observer struct {
	OnObjectStored func()
	OnRetry        func(attempt int, err error)
}

// Orchestrator performs the storage upload and metadata insert as one unit:
// an object key only counts as committed once its content record exists, and
// a late failure deletes the object before the error is surfaced.
type Orchestrator struct {
	store    storage.ObjectStore
	records  repository.ContentRepository
	reporter Reporter

	putOpts    retry.Options
	insertOpts retry.Options
}

func NewOrchestrator(store storage.ObjectStore, records repository.ContentRepository, reporter Reporter) *Orchestrator {
	putOpts := retry.DefaultOptions()
	putOpts.MaxRetries = 2

	// The insert is not idempotent, so it gets at most one automatic retry.
	insertOpts := retry.DefaultOptions()
	insertOpts.MaxRetries = 1

	return &Orchestrator{
		store:      store,
		records:    records,
		reporter:   reporter,
		putOpts:    putOpts,
		insertOpts: insertOpts,
	}
}

func (o *Orchestrator) Upload(ctx context.Context, asset dto.MediaAsset, key string, userId uuid.UUID, obs Observer) (dto.UploadAttemptResult, error) {
	if asset.Size > constant.AbsoluteUploadCeilingBytes {
		return o.failed(ErrFileTooLarge), ErrFileTooLarge
	}

	// A fresh key per attempt and a non-overwrite policy make the put safe
	// to repeat.
	putOpts := o.putOpts
	putOpts.OnRetry = obs.OnRetry

	_, err := retry.Do(ctx, func(ctx context.Context) (struct{}, error) {
		opCtx, cancel := context.WithTimeout(ctx, constant.NetworkTimeoutSeconds*time.Second)
		defer cancel()
		return struct{}{}, o.store.Put(opCtx, key, asset.Data, asset.MimeType)
	}, putOpts)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("key", key).Msg("object upload failed")
		return o.failed(err), err
	}

	if obs.OnObjectStored != nil {
		obs.OnObjectStored()
	}
	publicURL := o.store.PublicURL(key)

	insertOpts := o.insertOpts
	insertOpts.OnRetry = obs.OnRetry

	record, err := retry.Do(ctx, func(ctx context.Context) (*entities.ContentRecord, error) {
		opCtx, cancel := context.WithTimeout(ctx, constant.NetworkTimeoutSeconds*time.Second)
		defer cancel()
		rec := &entities.ContentRecord{
			UserId:   userId,
			Type:     "video",
			MediaUrl: publicURL,
			Status:   constant.ContentStatusPending,
		}
		if err := o.records.InsertContentRecord(opCtx, rec); err != nil {
			return nil, err
		}
		return rec, nil
	}, insertOpts)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("key", key).Msg("metadata insert failed, compensating stored object")
		o.compensate(ctx, key, userId)
		return o.failed(err), err
	}

	zerolog.Ctx(ctx).Info().Str("key", key).Str("record_id", record.ID.String()).Msg("upload committed")
	return dto.UploadAttemptResult{
		Succeeded:       true,
		RemoteObjectKey: key,
		PublicURL:       publicURL,
	}, nil
}

// compensate deletes the uploaded-but-unreferenced object exactly once. The
// delete is best-effort: a failure is logged and reported, never retried,
// and never masks the error that triggered it.
func (o *Orchestrator) compensate(ctx context.Context, key string, userId uuid.UUID) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constant.NetworkTimeoutSeconds*time.Second)
	defer cancel()

	if err := o.store.Remove(cleanupCtx, key); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("key", key).Msg("compensating delete failed, object may be orphaned")
		if o.reporter != nil {
			o.reporter.Report(cleanupCtx, dto.PipelineEvent{
				Kind:      dto.EventOrphanCleanupFailed,
				UserId:    userId,
				ObjectKey: key,
				Detail:    err.Error(),
				At:        time.Now().UTC(),
			})
		}
		return
	}
	zerolog.Ctx(ctx).Info().Str("key", key).Msg("compensating delete completed")
}

func (o *Orchestrator) failed(err error) dto.UploadAttemptResult {
	return dto.UploadAttemptResult{
		Succeeded:     false,
		ErrorCategory: errclass.Classify(err).Category,
	}
}
