package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"video_transcode_pipeline/internal/transcode/domain"
	"video_transcode_pipeline/internal/transcode/repository"
	"video_transcode_pipeline/pkg/logger"
	"video_transcode_pipeline/pkg/queue"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxReasonLen bounds the nak reason stored on dead letters
const maxReasonLen = 1024

// Outcome result of handling one delivery
type Outcome struct {
	MessageID      string
	VideoID        string
	Attempt        int
	Stage          domain.Stage // completed or failed
	FailedStage    domain.Stage // stage the failure happened in
	Err            error
	Acked          bool
	Nacked         bool
	Renditions     []domain.RenditionOutput
	MasterPlaylist string
	Thumbnail      string
}

// Handler processes one delivery
type Handler interface {
	Handle(ctx context.Context, d *queue.Delivery) Outcome
}

// WorkerDeps collaborators of the worker; only Engine and Sources are required
type WorkerDeps struct {
	Engine   Engine
	Sources  SourceResolver
	Mirror   OutputMirror
	Events   EventPublisher
	Callback CallbackNotifier
	Status   repository.StatusRepo
}

// Worker drives received -> validating -> transcoding -> completed | failed
type Worker struct {
	deps        WorkerDeps
	parallelism int
	now         func() time.Time
}

// NewWorker parallelism bounds the renditions of one job running at once
func NewWorker(deps WorkerDeps, parallelism int) *Worker {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Worker{deps: deps, parallelism: parallelism, now: time.Now}
}

// Handle runs one delivery to completion. A delivery is acked only after the
// master manifest is written; every failure, including a poison payload, is
// nacked so the retry policy decides between redelivery and dead-lettering.
// Failures never escape the delivery, panics included.
func (w *Worker) Handle(ctx context.Context, d *queue.Delivery) (out Outcome) {
	out = Outcome{MessageID: d.MessageID, Attempt: d.Count}
	stage := domain.StageReceived
	var job *domain.Job

	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("transcode job panic",
				zap.String("message_id", d.MessageID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			out = w.fail(ctx, d, job, out, stage, fmt.Errorf("panic: %v", r))
		}
	}()

	decoded, err := domain.DecodeJob(d.Data)
	if err != nil {
		return w.fail(ctx, d, nil, out, stage, err)
	}
	job = &decoded
	out.VideoID = job.VideoID
	log := logger.Log.With(
		zap.String("video_id", job.VideoID),
		zap.String("message_id", d.MessageID),
		zap.Int("attempt", d.Count),
	)
	log.Info("transcode job received", zap.Strings("quality", job.Quality))

	stage = domain.StageValidating
	w.saveStatus(ctx, job.VideoID, domain.StatusProcessing, stage, d.Count, "")
	if err := w.validate(ctx, *job); err != nil {
		return w.fail(ctx, d, job, out, stage, err)
	}

	stage = domain.StageTranscoding
	w.saveStatus(ctx, job.VideoID, domain.StatusProcessing, stage, d.Count, "")
	renditions, thumbnail, err := w.transcode(ctx, *job)
	if err != nil {
		return w.fail(ctx, d, job, out, stage, err)
	}

	stage = domain.StageCompleted
	manifest := domain.BuildMasterManifest(job.VideoID, renditions)
	master, err := WriteMasterManifest(job.OutputPath, manifest)
	if err != nil {
		return w.fail(ctx, d, job, out, stage, err)
	}

	var objects []string
	if w.deps.Mirror != nil {
		if objects, err = w.deps.Mirror.Mirror(ctx, job.VideoID, job.OutputPath); err != nil {
			return w.fail(ctx, d, job, out, stage, err)
		}
	}

	out.Renditions = manifest.Renditions
	out.MasterPlaylist = master
	out.Thumbnail = thumbnail

	if err := d.Ack(); err != nil {
		// not confirmed, the broker redelivers and the side effects run then
		log.Error("ack transcode job failed", zap.Error(err))
		out.Stage = domain.StageFailed
		out.FailedStage = stage
		out.Err = err
		return out
	}
	out.Acked = true
	out.Stage = domain.StageCompleted
	log.Info("transcode job completed", zap.String("master_playlist", master), zap.Int("renditions", len(renditions)))

	w.completed(ctx, *job, d.Count, out, objects)
	return out
}

func (w *Worker) validate(ctx context.Context, job domain.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	return w.deps.Sources.Stat(ctx, job.SourcePath)
}

// transcode renders every requested quality; the first failure cancels the rest
func (w *Worker) transcode(ctx context.Context, job domain.Job) ([]domain.RenditionOutput, string, error) {
	qualities, err := job.Qualities()
	if err != nil {
		return nil, "", err
	}

	source, cleanup, err := w.deps.Sources.Resolve(ctx, job.SourcePath, job.VideoID)
	if err != nil {
		return nil, "", err
	}
	defer cleanup()

	if err := os.MkdirAll(job.OutputPath, 0755); err != nil {
		return nil, "", fmt.Errorf("create output dir: %w", err)
	}

	results := make([]domain.RenditionOutput, len(qualities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.parallelism)
	for i, q := range qualities {
		i, q := i, q
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &domain.EngineFailure{Quality: q.Label, Message: fmt.Sprintf("panic: %v", r)}
				}
			}()
			r, err := w.deps.Engine.Transcode(gctx, source, job.OutputPath, q)
			if err != nil {
				var engineErr *domain.EngineFailure
				if !errors.As(err, &engineErr) {
					err = &domain.EngineFailure{Quality: q.Label, Message: err.Error()}
				}
				return err
			}
			results[i] = *r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, "", err
	}

	var thumbnail string
	if job.ThumbnailTime != "" {
		dest := filepath.Join(job.OutputPath, domain.ThumbnailName)
		if err := w.deps.Engine.Thumbnail(ctx, source, dest, job.ThumbnailTime); err != nil {
			logger.Log.Warn("thumbnail failed", zap.String("video_id", job.VideoID), zap.Error(err))
		} else {
			thumbnail = dest
		}
	}
	return results, thumbnail, nil
}

func (w *Worker) fail(ctx context.Context, d *queue.Delivery, job *domain.Job, out Outcome, stage domain.Stage, cause error) Outcome {
	out.Stage = domain.StageFailed
	out.FailedStage = stage
	out.Err = cause

	kind := domain.ErrorKind(cause)
	reason := failureReason(kind, cause)
	terminal := d.Final()

	fields := []zap.Field{
		zap.String("message_id", d.MessageID),
		zap.String("video_id", out.VideoID),
		zap.String("stage", string(stage)),
		zap.String("kind", kind),
		zap.Int("attempt", d.Count),
		zap.Int("max_deliveries", d.Max),
		zap.Bool("terminal", terminal),
		zap.Error(cause),
	}
	var engineErr *domain.EngineFailure
	diagnostics := ""
	if errors.As(cause, &engineErr) {
		diagnostics = engineErr.Diagnostics
		fields = append(fields, zap.String("diagnostics", diagnostics))
	}
	logger.Log.Error("transcode job failed", fields...)

	if err := d.Nak(reason); err != nil {
		logger.Log.Error("nak transcode job failed", zap.String("message_id", d.MessageID), zap.Error(err))
	} else {
		out.Nacked = true
	}

	if out.VideoID != "" {
		status := domain.StatusRetrying
		if terminal {
			status = domain.StatusDeadLettered
		}
		w.saveStatus(ctx, out.VideoID, status, stage, d.Count, reason)
	}

	w.publish(ctx, domain.SubjectFailed, out.VideoID, domain.FailedEvent{
		VideoID:       out.VideoID,
		MessageID:     d.MessageID,
		Stage:         stage,
		Kind:          kind,
		Reason:        reason,
		Diagnostics:   diagnostics,
		Attempt:       d.Count,
		MaxDeliveries: d.Max,
		Terminal:      terminal,
		FailedAt:      w.now().UTC(),
	})
	return out
}

func failureReason(kind string, cause error) string {
	reason := cause.Error()
	if kind == domain.KindDecode {
		reason = "poison message: " + reason
	}
	if len(reason) > maxReasonLen {
		reason = reason[:maxReasonLen]
	}
	return reason
}

// completed runs the post-ack side effects once. Their failures are logged only.
func (w *Worker) completed(ctx context.Context, job domain.Job, attempt int, out Outcome, objects []string) {
	w.saveStatus(ctx, job.VideoID, domain.StatusCompleted, domain.StageCompleted, attempt, "")

	w.publish(ctx, domain.SubjectProcessed, job.VideoID, domain.ProcessedEvent{
		VideoID:        job.VideoID,
		UserID:         job.UserID,
		OutputPath:     job.OutputPath,
		MasterPlaylist: out.MasterPlaylist,
		Thumbnail:      out.Thumbnail,
		Renditions:     out.Renditions,
		Objects:        objects,
		Attempt:        attempt,
		CompletedAt:    w.now().UTC(),
	})
	if out.Thumbnail != "" {
		w.publish(ctx, domain.SubjectThumbnail, job.VideoID, map[string]string{
			"video_id":  job.VideoID,
			"thumbnail": out.Thumbnail,
		})
	}
	playlists := domain.MasterManifest{VideoID: job.VideoID, Renditions: out.Renditions}.Playlists()
	if job.Metadata != nil {
		w.publish(ctx, domain.SubjectMetadata, job.VideoID, domain.MetadataEvent{
			VideoID:    job.VideoID,
			UserID:     job.UserID,
			Metadata:   *job.Metadata,
			Renditions: playlists,
		})
	}

	if job.CallbackURL == "" || w.deps.Callback == nil {
		return
	}
	err := w.deps.Callback.Notify(ctx, job.CallbackURL, domain.CallbackPayload{
		VideoID:        job.VideoID,
		Status:         domain.CallbackStatusProcessed,
		MasterPlaylist: out.MasterPlaylist,
		Renditions:     playlists,
		Thumbnail:      out.Thumbnail,
	})
	if err != nil {
		logger.Log.Warn("completion callback failed", zap.String("video_id", job.VideoID), zap.String("url", job.CallbackURL), zap.Error(err))
	}
}

func (w *Worker) publish(ctx context.Context, subject, key string, event interface{}) {
	if w.deps.Events == nil {
		return
	}
	if err := w.deps.Events.Publish(ctx, subject, key, event); err != nil {
		logger.Log.Warn("publish event failed", zap.String("subject", subject), zap.String("video_id", key), zap.Error(err))
	}
}

func (w *Worker) saveStatus(ctx context.Context, videoID, status string, stage domain.Stage, attempt int, reason string) {
	if w.deps.Status == nil {
		return
	}
	err := w.deps.Status.Save(ctx, domain.JobStatus{
		VideoID:   videoID,
		Status:    status,
		Stage:     stage,
		Attempt:   attempt,
		Error:     reason,
		UpdatedAt: w.now().UTC(),
	})
	if err != nil {
		logger.Log.Warn("save job status failed", zap.String("video_id", videoID), zap.Error(err))
	}
}
