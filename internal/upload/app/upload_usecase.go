package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	transcodeapp "video_transcode_pipeline/internal/transcode/app"
	transcodedomain "video_transcode_pipeline/internal/transcode/domain"
	"video_transcode_pipeline/internal/upload/domain"
	"video_transcode_pipeline/internal/upload/repository"
	"video_transcode_pipeline/pkg"
	"video_transcode_pipeline/pkg/config"
	"video_transcode_pipeline/pkg/database"
	errprocess "video_transcode_pipeline/pkg/err"
	"video_transcode_pipeline/pkg/logger"
	"video_transcode_pipeline/pkg/queue"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// playbackURLExpiry lifetime of presigned playback urls
const playbackURLExpiry = time.Hour

// JobSubmitter enqueues transcoding jobs, implemented by transcode/app.Producer
type JobSubmitter interface {
	Submit(ctx context.Context, job transcodedomain.Job) (transcodeapp.SubmitResult, error)
}

// UploadUseCase upload API application service
type UploadUseCase interface {
	UploadVideo(ctx context.Context, up domain.UploadVideoReq) (*domain.UploadVideoRes, error)
	GetVideo(ctx context.Context, videoID string) (*domain.GetVideoRes, error)
	ListVideos(ctx context.Context, ownerID string, limit int) ([]domain.GetVideoRes, error)
	CompleteVideo(ctx context.Context, videoID string, payload transcodedomain.CallbackPayload) error
}

type uploadUseCase struct {
	videoRepo repository.VideoRepo
	minio     database.MinIOClientRepo
	submitter JobSubmitter
	events    transcodeapp.EventPublisher
	storage   config.StorageConfig
	retryWait time.Duration
}

// NewUploadUseCase minio and events may be nil. Sources go to MinIO when
// storage.backend is "minio", otherwise they stay in storage.upload_dir.
func NewUploadUseCase(repo repository.VideoRepo,
	minio database.MinIOClientRepo,
	submitter JobSubmitter,
	events transcodeapp.EventPublisher,
	storage config.StorageConfig,
) UploadUseCase {
	return &uploadUseCase{
		videoRepo: repo,
		minio:     minio,
		submitter: submitter,
		events:    events,
		storage:   storage.Defaults(),
		retryWait: time.Second,
	}
}

// mockable in tests
var (
	createDir = func(path string) error {
		return os.MkdirAll(path, 0755)
	}

	createFile = func(name string) (*os.File, error) {
		return os.Create(name)
	}

	copyFile = func(dst *os.File, src io.Reader) (written int64, err error) {
		return io.Copy(dst, src)
	}
)

// UploadVideo stores the source, records the video and submits the transcoding job
func (s *uploadUseCase) UploadVideo(ctx context.Context, up domain.UploadVideoReq) (*domain.UploadVideoRes, error) {
	if up.OwnerID == "" {
		return nil, errprocess.SetKind(domain.ErrInvalidUpload, "owner id is required")
	}
	fileName := filepath.Base(strings.TrimSpace(up.FileName))
	if fileName == "" || fileName == "." || fileName == "/" {
		return nil, errprocess.SetKind(domain.ErrInvalidUpload, fmt.Sprintf("fileName[%s] is not a valid file name", up.FileName))
	}
	qualities, err := s.qualities(up.Qualities)
	if err != nil {
		return nil, err
	}

	videoID := uuid.NewString()
	sourcePath, size, err := s.storeSource(ctx, videoID, fileName, up.File)
	if err != nil {
		return nil, err
	}

	video := domain.Video{
		ID:         videoID,
		OwnerID:    up.OwnerID,
		Title:      up.Title,
		FileName:   fileName,
		SourcePath: sourcePath,
		OutputPath: filepath.Join(s.storage.OutputRoot, videoID),
		Qualities:  strings.Join(qualities, ","),
		Status:     string(domain.VideoUploaded),
		Size:       size,
	}
	if err := s.videoRepo.Create(ctx, &video); err != nil {
		return nil, errprocess.Set(fmt.Sprintf("videoID[%s] create video record failed : %v", videoID, err))
	}

	job := transcodedomain.Job{
		VideoID:       videoID,
		SourcePath:    sourcePath,
		OutputPath:    video.OutputPath,
		UserID:        up.OwnerID,
		Quality:       qualities,
		ThumbnailTime: up.ThumbnailTime,
		CallbackURL:   s.callbackURL(videoID),
		Metadata:      &transcodedomain.Metadata{Title: up.Title, Size: size},
	}
	res, err := s.submit(ctx, job)
	if err != nil {
		if uerr := s.videoRepo.UpdateStatus(ctx, videoID, domain.VideoFailed, nil); uerr != nil {
			logger.Log.Error("mark video failed", zap.String("video_id", videoID), zap.Error(uerr))
		}
		return nil, errprocess.SetKind(domain.ErrSubmitFailed, fmt.Sprintf("videoID[%s] %v", videoID, err))
	}

	if err := s.videoRepo.UpdateStatus(ctx, videoID, domain.VideoProcessing, nil); err != nil {
		// the job is queued; the callback will still move the record to ready
		logger.Log.Error("mark video processing", zap.String("video_id", videoID), zap.Error(err))
	}
	s.publishUploaded(ctx, video, qualities)

	logger.Log.Info("transcode job submitted",
		zap.String("video_id", videoID),
		zap.String("owner_id", up.OwnerID),
		zap.Strings("quality", qualities),
		zap.Uint64("sequence", res.Sequence),
	)
	return &domain.UploadVideoRes{
		VideoID:   videoID,
		Status:    string(domain.VideoProcessing),
		Qualities: qualities,
		Sequence:  res.Sequence,
	}, nil
}

// qualities applies the default set, drops duplicates and rejects unknown labels
func (s *uploadUseCase) qualities(requested []string) ([]string, error) {
	var out []string
	for _, q := range requested {
		q = strings.TrimSpace(q)
		if q == "" || pkg.Contains(out, q) {
			continue
		}
		if _, ok := transcodedomain.LookupQuality(q); !ok {
			return nil, errprocess.SetKind(domain.ErrInvalidUpload, fmt.Sprintf("quality[%s] is not supported, use one of %s", q, strings.Join(transcodedomain.QualityLabels(), ",")))
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		out = append(out, s.storage.DefaultQualities...)
	}
	return out, nil
}

// storeSource writes the upload under upload_dir/<id>/ and, for the minio
// backend, moves it to original/<id>/<file>
func (s *uploadUseCase) storeSource(ctx context.Context, videoID, fileName string, src io.Reader) (string, int64, error) {
	dir := filepath.Join(s.storage.UploadDir, videoID)
	if err := createDir(dir); err != nil {
		return "", 0, errprocess.Set(fmt.Sprintf("fileName[%s] create upload dir failed : %v", fileName, err))
	}

	localPath := filepath.Join(dir, fileName)
	f, err := createFile(localPath)
	if err != nil {
		return "", 0, errprocess.Set(fmt.Sprintf("fileName[%s] create file failed : %v", fileName, err))
	}
	size, err := copyFile(f, src)
	f.Close()
	if err != nil {
		os.RemoveAll(dir)
		return "", 0, errprocess.Set(fmt.Sprintf("fileName[%s] save file failed : %v", fileName, err))
	}
	if size == 0 {
		os.RemoveAll(dir)
		return "", 0, errprocess.SetKind(domain.ErrInvalidUpload, fmt.Sprintf("fileName[%s] is empty", fileName))
	}

	if s.storage.Backend != "minio" || s.minio == nil {
		abs, err := filepath.Abs(localPath)
		if err != nil {
			return "", 0, errprocess.Set(fmt.Sprintf("fileName[%s] resolve path failed : %v", fileName, err))
		}
		return abs, size, nil
	}

	objectName := fmt.Sprintf("original/%s/%s", videoID, fileName)
	if err := s.minio.UploadFile(ctx, objectName, localPath, database.ContentType(fileName)); err != nil {
		os.RemoveAll(dir)
		return "", 0, errprocess.Set(fmt.Sprintf("fileName[%s] upload MinIO failed : %v", fileName, err))
	}
	if err := os.RemoveAll(dir); err != nil {
		logger.Log.Warn("remove uploaded temp file", zap.String("path", localPath), zap.Error(err))
	}
	return transcodeapp.ObjectLocation(objectName), size, nil
}

// submit retries while the queue is unavailable
func (s *uploadUseCase) submit(ctx context.Context, job transcodedomain.Job) (transcodeapp.SubmitResult, error) {
	var lastErr error
	for attempt := 1; attempt <= s.storage.SubmitRetries; attempt++ {
		res, err := s.submitter.Submit(ctx, job)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !errors.Is(err, queue.ErrQueueUnavailable) {
			break
		}
		logger.Log.Warn("queue unavailable, retrying submit",
			zap.String("video_id", job.VideoID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == s.storage.SubmitRetries {
			break
		}
		select {
		case <-ctx.Done():
			return transcodeapp.SubmitResult{}, errors.Join(lastErr, ctx.Err())
		case <-time.After(s.retryWait):
		}
	}
	return transcodeapp.SubmitResult{}, lastErr
}

func (s *uploadUseCase) callbackURL(videoID string) string {
	if s.storage.CallbackBaseURL == "" {
		return ""
	}
	return strings.TrimRight(s.storage.CallbackBaseURL, "/") + "/internal/videos/" + videoID + "/callback"
}

func (s *uploadUseCase) publishUploaded(ctx context.Context, v domain.Video, qualities []string) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, transcodedomain.SubjectUpload, v.ID, domain.UploadEvent{
		VideoID:    v.ID,
		UserID:     v.OwnerID,
		Title:      v.Title,
		FileName:   v.FileName,
		Size:       v.Size,
		SourcePath: v.SourcePath,
		Quality:    qualities,
		UploadedAt: time.Now().UTC(),
	})
	if err != nil {
		logger.Log.Warn("publish upload event failed", zap.String("video_id", v.ID), zap.Error(err))
	}
}

// GetVideo returns the record, with a presigned playback url once mirrored output exists
func (s *uploadUseCase) GetVideo(ctx context.Context, videoID string) (*domain.GetVideoRes, error) {
	video, err := s.videoRepo.GetByID(ctx, videoID)
	if err != nil {
		if errors.Is(err, domain.ErrVideoNotFound) {
			return nil, errprocess.SetKind(domain.ErrVideoNotFound, fmt.Sprintf("videoID[%s] not found", videoID))
		}
		return nil, errprocess.Set(fmt.Sprintf("videoID[%s] get video failed : %v", videoID, err))
	}
	res := s.toRes(video)

	if s.minio != nil && video.Status == string(domain.VideoReady) {
		objectName := fmt.Sprintf("processed/%s/%s", video.ID, transcodedomain.MasterPlaylistName)
		if url, err := s.minio.PresignGetURL(ctx, objectName, playbackURLExpiry); err != nil {
			logger.Log.Warn("presign playback url", zap.String("video_id", video.ID), zap.Error(err))
		} else {
			res.PlaybackURL = url
		}
	}
	return res, nil
}

// ListVideos newest videos of an owner
func (s *uploadUseCase) ListVideos(ctx context.Context, ownerID string, limit int) ([]domain.GetVideoRes, error) {
	if ownerID == "" {
		return nil, errprocess.SetKind(domain.ErrInvalidUpload, "owner id is required")
	}
	videos, err := s.videoRepo.ListByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, errprocess.Set(fmt.Sprintf("ownerID[%s] list videos failed : %v", ownerID, err))
	}
	out := make([]domain.GetVideoRes, len(videos))
	for i := range videos {
		out[i] = *s.toRes(&videos[i])
	}
	return out, nil
}

func (s *uploadUseCase) toRes(v *domain.Video) *domain.GetVideoRes {
	return &domain.GetVideoRes{
		VideoID:        v.ID,
		OwnerID:        v.OwnerID,
		Title:          v.Title,
		Status:         v.Status,
		Qualities:      v.QualityList(),
		MasterPlaylist: v.MasterPlaylist,
		Thumbnail:      v.Thumbnail,
		CreatedAt:      v.CreatedAt,
		UpdatedAt:      v.UpdatedAt,
	}
}

// CompleteVideo handles the worker callback. Repeated callbacks are accepted.
func (s *uploadUseCase) CompleteVideo(ctx context.Context, videoID string, payload transcodedomain.CallbackPayload) error {
	if payload.VideoID != "" && payload.VideoID != videoID {
		return errprocess.SetKind(domain.ErrInvalidUpload, fmt.Sprintf("videoID[%s] callback carries video_id %s", videoID, payload.VideoID))
	}
	if payload.Status != transcodedomain.CallbackStatusProcessed {
		return errprocess.SetKind(domain.ErrInvalidUpload, fmt.Sprintf("videoID[%s] unexpected callback status %q", videoID, payload.Status))
	}
	if payload.MasterPlaylist == "" {
		return errprocess.SetKind(domain.ErrInvalidUpload, fmt.Sprintf("videoID[%s] callback without master playlist", videoID))
	}

	err := s.videoRepo.UpdateStatus(ctx, videoID, domain.VideoReady, map[string]interface{}{
		"master_playlist": payload.MasterPlaylist,
		"thumbnail":       payload.Thumbnail,
	})
	if err != nil {
		if errors.Is(err, domain.ErrVideoNotFound) {
			return errprocess.SetKind(domain.ErrVideoNotFound, fmt.Sprintf("videoID[%s] not found", videoID))
		}
		return errprocess.Set(fmt.Sprintf("videoID[%s] mark ready failed : %v", videoID, err))
	}
	logger.Log.Info("video ready", zap.String("video_id", videoID), zap.String("master_playlist", payload.MasterPlaylist))
	return nil
}
