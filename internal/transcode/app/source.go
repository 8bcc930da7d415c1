package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"video_transcode_pipeline/internal/transcode/domain"
	"video_transcode_pipeline/pkg/database"
)

// MinIOScheme prefix of source locations stored in object storage
const MinIOScheme = "minio://"

// SourceResolver locates job sources
type SourceResolver interface {
	// Stat fails when the source is not reachable
	Stat(ctx context.Context, location string) error
	// Resolve returns a local path of the source; cleanup removes any temp copy
	Resolve(ctx context.Context, location, videoID string) (path string, cleanup func(), err error)
}

// StorageResolver reads local paths directly and downloads minio:// objects into workDir
type StorageResolver struct {
	minio   database.MinIOClientRepo
	workDir string
}

// NewStorageResolver minio may be nil when object storage is disabled
func NewStorageResolver(minio database.MinIOClientRepo, workDir string) *StorageResolver {
	return &StorageResolver{minio: minio, workDir: workDir}
}

// ObjectLocation minio:// location of objectName
func ObjectLocation(objectName string) string {
	return MinIOScheme + strings.TrimPrefix(objectName, "/")
}

func (r *StorageResolver) objectName(location string) (string, bool) {
	if !strings.HasPrefix(location, MinIOScheme) {
		return "", false
	}
	return strings.TrimPrefix(location, MinIOScheme), true
}

// Stat checks a local regular file or an existing object
func (r *StorageResolver) Stat(ctx context.Context, location string) error {
	if name, ok := r.objectName(location); ok {
		if r.minio == nil {
			return &domain.ValidationError{Field: "source_path", Reason: "object storage is disabled"}
		}
		if _, err := r.minio.StatObject(ctx, name); err != nil {
			return &domain.ValidationError{Field: "source_path", Reason: "is not reachable", Err: err}
		}
		return nil
	}

	info, err := os.Stat(location)
	if err != nil {
		return &domain.ValidationError{Field: "source_path", Reason: "is not reachable", Err: err}
	}
	if !info.Mode().IsRegular() {
		return &domain.ValidationError{Field: "source_path", Reason: "is not a regular file"}
	}
	return nil
}

// Resolve downloads objects to <workDir>/<videoID>/source<ext>
func (r *StorageResolver) Resolve(ctx context.Context, location, videoID string) (string, func(), error) {
	name, ok := r.objectName(location)
	if !ok {
		return location, func() {}, nil
	}
	if r.minio == nil {
		return "", func() {}, fmt.Errorf("resolve %s: object storage is disabled", location)
	}

	dir := filepath.Join(r.workDir, videoID)
	dest := filepath.Join(dir, "source"+filepath.Ext(name))
	if err := r.minio.DownloadFile(ctx, name, dest); err != nil {
		os.RemoveAll(dir)
		return "", func() {}, fmt.Errorf("resolve %s: %w", location, err)
	}
	return dest, func() { os.RemoveAll(dir) }, nil
}

// OutputMirror copies a finished output directory somewhere durable
type OutputMirror interface {
	Mirror(ctx context.Context, videoID, dir string) ([]string, error)
}

// MinIOMirror uploads outputs to processed/<videoID>/
type MinIOMirror struct {
	minio database.MinIOClientRepo
}

// NewMinIOMirror create MinIOMirror
func NewMinIOMirror(minio database.MinIOClientRepo) *MinIOMirror {
	return &MinIOMirror{minio: minio}
}

// Mirror uploads every file of dir and returns the object names
func (m *MinIOMirror) Mirror(ctx context.Context, videoID, dir string) ([]string, error) {
	objects, err := m.minio.UploadDir(ctx, "processed/"+videoID, dir)
	if err != nil {
		return nil, fmt.Errorf("mirror %s: %w", dir, err)
	}
	return objects, nil
}
