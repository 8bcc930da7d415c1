package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"video_transcode_pipeline/internal/transcode/domain"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestStorageResolver_Local(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "v1.mp4")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	r := NewStorageResolver(nil, dir)
	ctx := context.Background()

	assert.NoError(t, r.Stat(ctx, file))

	var validationErr *domain.ValidationError
	assert.True(t, errors.As(r.Stat(ctx, filepath.Join(dir, "missing.mp4")), &validationErr))
	assert.True(t, errors.As(r.Stat(ctx, dir), &validationErr))
	assert.True(t, errors.As(r.Stat(ctx, "minio://original/v1/a.mp4"), &validationErr))

	path, cleanup, err := r.Resolve(ctx, file, "v1")
	require.NoError(t, err)
	cleanup()
	assert.Equal(t, file, path)
	assert.FileExists(t, file)
}

func TestStorageResolver_MinIO(t *testing.T) {
	mc := new(MockMinIOClient)
	workDir := t.TempDir()
	r := NewStorageResolver(mc, workDir)
	ctx := context.Background()
	location := ObjectLocation("original/v1/clip.mp4")
	assert.Equal(t, "minio://original/v1/clip.mp4", location)

	mc.On("StatObject", mock.Anything, "original/v1/clip.mp4").Return(minio.ObjectInfo{Size: 10}, nil).Once()
	mc.On("StatObject", mock.Anything, "original/v1/gone.mp4").Return(minio.ObjectInfo{}, errors.New("NoSuchKey")).Once()
	assert.NoError(t, r.Stat(ctx, location))
	assert.Error(t, r.Stat(ctx, ObjectLocation("original/v1/gone.mp4")))

	dest := filepath.Join(workDir, "v1", "source.mp4")
	mc.On("DownloadFile", mock.Anything, "original/v1/clip.mp4", dest).Run(func(args mock.Arguments) {
		_ = os.MkdirAll(filepath.Dir(dest), 0755)
		_ = os.WriteFile(dest, []byte("video"), 0644)
	}).Return(nil).Once()

	path, cleanup, err := r.Resolve(ctx, location, "v1")
	require.NoError(t, err)
	assert.Equal(t, dest, path)
	assert.FileExists(t, dest)
	cleanup()
	assert.NoDirExists(t, filepath.Join(workDir, "v1"))
	mc.AssertExpectations(t)
}
