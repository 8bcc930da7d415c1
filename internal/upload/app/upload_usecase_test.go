package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	transcodeapp "video_transcode_pipeline/internal/transcode/app"
	transcodedomain "video_transcode_pipeline/internal/transcode/domain"
	"video_transcode_pipeline/internal/upload/domain"
	"video_transcode_pipeline/pkg/config"
	"video_transcode_pipeline/pkg/logger"
	"video_transcode_pipeline/pkg/queue"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.SetNewNop()
	os.Exit(m.Run())
}

// MockVideoRepo mock of repository.VideoRepo
type MockVideoRepo struct {
	mock.Mock
}

func (m *MockVideoRepo) AutoMigrate() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockVideoRepo) Create(ctx context.Context, video *domain.Video) error {
	args := m.Called(ctx, video)
	return args.Error(0)
}

func (m *MockVideoRepo) GetByID(ctx context.Context, id string) (*domain.Video, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Video), args.Error(1)
}

func (m *MockVideoRepo) UpdateStatus(ctx context.Context, id string, status domain.VideoStatus, fields map[string]interface{}) error {
	args := m.Called(ctx, id, status, fields)
	return args.Error(0)
}

func (m *MockVideoRepo) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Video, error) {
	args := m.Called(ctx, ownerID, limit)
	return args.Get(0).([]domain.Video), args.Error(1)
}

// MockSubmitter mock of JobSubmitter
type MockSubmitter struct {
	mock.Mock
}

func (m *MockSubmitter) Submit(ctx context.Context, job transcodedomain.Job) (transcodeapp.SubmitResult, error) {
	args := m.Called(ctx, job)
	return args.Get(0).(transcodeapp.SubmitResult), args.Error(1)
}

// MockEvents mock of transcode/app.EventPublisher
type MockEvents struct {
	mock.Mock
}

func (m *MockEvents) Publish(ctx context.Context, subject, key string, event interface{}) error {
	args := m.Called(ctx, subject, key, event)
	return args.Error(0)
}

// MockMinIOClient mock of database.MinIOClientRepo
type MockMinIOClient struct {
	mock.Mock
}

func (m *MockMinIOClient) UploadFile(ctx context.Context, objectName, filePath, contentType string) error {
	args := m.Called(ctx, objectName, filePath, contentType)
	return args.Error(0)
}

func (m *MockMinIOClient) UploadDir(ctx context.Context, prefix, dir string) ([]string, error) {
	args := m.Called(ctx, prefix, dir)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockMinIOClient) DownloadFile(ctx context.Context, objectName, destPath string) error {
	args := m.Called(ctx, objectName, destPath)
	return args.Error(0)
}

func (m *MockMinIOClient) StatObject(ctx context.Context, objectName string) (minio.ObjectInfo, error) {
	args := m.Called(ctx, objectName)
	return args.Get(0).(minio.ObjectInfo), args.Error(1)
}

func (m *MockMinIOClient) PresignGetURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, objectName, expiry)
	return args.Get(0).(string), args.Error(1)
}

type fixture struct {
	repo      *MockVideoRepo
	submitter *MockSubmitter
	events    *MockEvents
	minio     *MockMinIOClient
	storage   config.StorageConfig
}

func newFixture(t *testing.T) *fixture {
	dir := t.TempDir()
	return &fixture{
		repo:      new(MockVideoRepo),
		submitter: new(MockSubmitter),
		events:    new(MockEvents),
		minio:     new(MockMinIOClient),
		storage: config.StorageConfig{
			UploadDir:       filepath.Join(dir, "in"),
			OutputRoot:      filepath.Join(dir, "out"),
			CallbackBaseURL: "http://upload:8080/",
			SubmitRetries:   3,
		},
	}
}

func (f *fixture) usecase(withMinIO bool) *uploadUseCase {
	var uc UploadUseCase
	if withMinIO {
		uc = NewUploadUseCase(f.repo, f.minio, f.submitter, f.events, f.storage)
	} else {
		uc = NewUploadUseCase(f.repo, nil, f.submitter, f.events, f.storage)
	}
	s := uc.(*uploadUseCase)
	s.retryWait = time.Millisecond
	return s
}

func uploadReq(qualities ...string) domain.UploadVideoReq {
	return domain.UploadVideoReq{
		OwnerID:   "u1",
		Title:     "Holiday",
		FileName:  "clip.mp4",
		Qualities: qualities,
		File:      strings.NewReader("fake video bytes"),
	}
}

func TestUploadVideo_LocalBackend(t *testing.T) {
	f := newFixture(t)
	var created *domain.Video
	f.repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Video")).Run(func(args mock.Arguments) {
		v := *args.Get(1).(*domain.Video)
		created = &v
	}).Return(nil).Once()

	var submitted transcodedomain.Job
	f.submitter.On("Submit", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		submitted = args.Get(1).(transcodedomain.Job)
	}).Return(transcodeapp.SubmitResult{Sequence: 7}, nil).Once()
	f.repo.On("UpdateStatus", mock.Anything, mock.Anything, domain.VideoProcessing, map[string]interface{}(nil)).Return(nil).Once()
	f.events.On("Publish", mock.Anything, transcodedomain.SubjectUpload, mock.Anything, mock.AnythingOfType("domain.UploadEvent")).Return(nil).Once()

	res, err := f.usecase(false).UploadVideo(context.Background(), uploadReq("720p", "480p", "720p"))
	require.NoError(t, err)

	assert.Equal(t, string(domain.VideoProcessing), res.Status)
	assert.Equal(t, []string{"720p", "480p"}, res.Qualities)
	assert.Equal(t, uint64(7), res.Sequence)

	require.NotNil(t, created)
	assert.Equal(t, res.VideoID, created.ID)
	assert.Equal(t, string(domain.VideoUploaded), created.Status)
	assert.Equal(t, "720p,480p", created.Qualities)
	assert.Equal(t, int64(len("fake video bytes")), created.Size)

	assert.Equal(t, res.VideoID, submitted.VideoID)
	assert.Equal(t, "u1", submitted.UserID)
	assert.Equal(t, []string{"720p", "480p"}, submitted.Quality)
	assert.Equal(t, filepath.Join(f.storage.OutputRoot, res.VideoID), submitted.OutputPath)
	assert.Equal(t, "http://upload:8080/internal/videos/"+res.VideoID+"/callback", submitted.CallbackURL)
	assert.True(t, filepath.IsAbs(submitted.SourcePath))
	data, err := os.ReadFile(submitted.SourcePath)
	require.NoError(t, err)
	assert.Equal(t, "fake video bytes", string(data))
	require.NoError(t, submitted.Validate())

	f.repo.AssertExpectations(t)
	f.submitter.AssertExpectations(t)
	f.events.AssertExpectations(t)
}

func TestUploadVideo_DefaultQualities(t *testing.T) {
	f := newFixture(t)
	f.repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.repo.On("UpdateStatus", mock.Anything, mock.Anything, domain.VideoProcessing, mock.Anything).Return(nil)
	f.submitter.On("Submit", mock.Anything, mock.MatchedBy(func(j transcodedomain.Job) bool {
		return assert.ObjectsAreEqual([]string{"720p", "480p"}, j.Quality)
	})).Return(transcodeapp.SubmitResult{Sequence: 1}, nil).Once()
	f.events.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker gone"))

	res, err := f.usecase(false).UploadVideo(context.Background(), uploadReq())
	require.NoError(t, err, "event failures do not fail the upload")
	assert.Equal(t, []string{"720p", "480p"}, res.Qualities)
	f.submitter.AssertExpectations(t)
}

func TestUploadVideo_InvalidRequest(t *testing.T) {
	tests := []struct {
		name string
		req  domain.UploadVideoReq
	}{
		{"unknown quality", uploadReq("720p", "4k")},
		{"missing owner", domain.UploadVideoReq{FileName: "a.mp4", File: strings.NewReader("x")}},
		{"missing file name", domain.UploadVideoReq{OwnerID: "u1", File: strings.NewReader("x")}},
		{"empty file", domain.UploadVideoReq{OwnerID: "u1", FileName: "a.mp4", File: strings.NewReader("")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.usecase(false).UploadVideo(context.Background(), tt.req)
			assert.ErrorIs(t, err, domain.ErrInvalidUpload)
			f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
			f.submitter.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
		})
	}
}

func TestUploadVideo_MinIOBackend(t *testing.T) {
	f := newFixture(t)
	f.storage.Backend = "minio"
	f.minio.On("UploadFile", mock.Anything, mock.MatchedBy(func(name string) bool {
		return strings.HasPrefix(name, "original/") && strings.HasSuffix(name, "/clip.mp4")
	}), mock.Anything, "video/mp4").Return(nil).Once()
	f.repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.repo.On("UpdateStatus", mock.Anything, mock.Anything, domain.VideoProcessing, mock.Anything).Return(nil)
	f.events.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	var submitted transcodedomain.Job
	f.submitter.On("Submit", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		submitted = args.Get(1).(transcodedomain.Job)
	}).Return(transcodeapp.SubmitResult{Sequence: 1}, nil)

	res, err := f.usecase(true).UploadVideo(context.Background(), uploadReq("360p"))
	require.NoError(t, err)
	assert.Equal(t, "minio://original/"+res.VideoID+"/clip.mp4", submitted.SourcePath)
	assert.NoDirExists(t, filepath.Join(f.storage.UploadDir, res.VideoID))
	f.minio.AssertExpectations(t)
}

func TestUploadVideo_RetriesWhileQueueUnavailable(t *testing.T) {
	f := newFixture(t)
	f.repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.repo.On("UpdateStatus", mock.Anything, mock.Anything, domain.VideoProcessing, mock.Anything).Return(nil).Once()
	f.events.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	unavailable := queue.ErrQueueUnavailable
	f.submitter.On("Submit", mock.Anything, mock.Anything).Return(transcodeapp.SubmitResult{}, unavailable).Twice()
	f.submitter.On("Submit", mock.Anything, mock.Anything).Return(transcodeapp.SubmitResult{Sequence: 3}, nil).Once()

	res, err := f.usecase(false).UploadVideo(context.Background(), uploadReq("480p"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.Sequence)
	f.submitter.AssertNumberOfCalls(t, "Submit", 3)
}

func TestUploadVideo_SubmitFails(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		calls int
	}{
		{"queue stays unavailable", queue.ErrQueueUnavailable, 3},
		{"non retryable", errors.New("encode job: boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.repo.On("Create", mock.Anything, mock.Anything).Return(nil)
			f.repo.On("UpdateStatus", mock.Anything, mock.Anything, domain.VideoFailed, map[string]interface{}(nil)).Return(nil).Once()
			f.submitter.On("Submit", mock.Anything, mock.Anything).Return(transcodeapp.SubmitResult{}, tt.err)

			_, err := f.usecase(false).UploadVideo(context.Background(), uploadReq("480p"))
			assert.ErrorIs(t, err, domain.ErrSubmitFailed)
			f.submitter.AssertNumberOfCalls(t, "Submit", tt.calls)
			f.repo.AssertExpectations(t)
			f.events.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestUploadVideo_CreateFileFails(t *testing.T) {
	orig := createFile
	createFile = func(name string) (*os.File, error) { return nil, errors.New("disk full") }
	defer func() { createFile = orig }()

	f := newFixture(t)
	_, err := f.usecase(false).UploadVideo(context.Background(), uploadReq("480p"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestGetVideo(t *testing.T) {
	f := newFixture(t)
	f.repo.On("GetByID", mock.Anything, "missing").Return(nil, domain.ErrVideoNotFound)
	f.repo.On("GetByID", mock.Anything, "v1").Return(&domain.Video{
		ID: "v1", OwnerID: "u1", Status: string(domain.VideoReady), Qualities: "720p,480p", MasterPlaylist: "/out/v1/master.m3u8",
	}, nil)
	f.minio.On("PresignGetURL", mock.Anything, "processed/v1/master.m3u8", playbackURLExpiry).Return("http://minio/processed/v1/master.m3u8?sig=x", nil)

	uc := f.usecase(true)
	_, err := uc.GetVideo(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrVideoNotFound)

	res, err := uc.GetVideo(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, []string{"720p", "480p"}, res.Qualities)
	assert.Equal(t, "/out/v1/master.m3u8", res.MasterPlaylist)
	assert.Equal(t, "http://minio/processed/v1/master.m3u8?sig=x", res.PlaybackURL)
}

func TestListVideos(t *testing.T) {
	f := newFixture(t)
	f.repo.On("ListByOwner", mock.Anything, "u1", 5).Return([]domain.Video{{ID: "v2"}, {ID: "v1"}}, nil)

	res, err := f.usecase(false).ListVideos(context.Background(), "u1", 5)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "v2", res[0].VideoID)

	_, err = f.usecase(false).ListVideos(context.Background(), "", 5)
	assert.ErrorIs(t, err, domain.ErrInvalidUpload)
}

func TestCompleteVideo(t *testing.T) {
	payload := transcodedomain.CallbackPayload{
		VideoID:        "v1",
		Status:         transcodedomain.CallbackStatusProcessed,
		MasterPlaylist: "/out/v1/master.m3u8",
		Renditions:     []string{"480p.m3u8"},
	}

	t.Run("marks ready", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("UpdateStatus", mock.Anything, "v1", domain.VideoReady, map[string]interface{}{
			"master_playlist": "/out/v1/master.m3u8",
			"thumbnail":       "",
		}).Return(nil).Twice()

		uc := f.usecase(false)
		require.NoError(t, uc.CompleteVideo(context.Background(), "v1", payload))
		require.NoError(t, uc.CompleteVideo(context.Background(), "v1", payload), "repeated callbacks are accepted")
		f.repo.AssertExpectations(t)
	})

	t.Run("id mismatch", func(t *testing.T) {
		f := newFixture(t)
		err := f.usecase(false).CompleteVideo(context.Background(), "v2", payload)
		assert.ErrorIs(t, err, domain.ErrInvalidUpload)
	})

	t.Run("unknown video", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("UpdateStatus", mock.Anything, "v1", domain.VideoReady, mock.Anything).Return(domain.ErrVideoNotFound)
		err := f.usecase(false).CompleteVideo(context.Background(), "v1", payload)
		assert.ErrorIs(t, err, domain.ErrVideoNotFound)
	})
}
