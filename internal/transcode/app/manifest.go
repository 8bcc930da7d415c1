package app

import (
	"fmt"
	"os"
	"path/filepath"

	"video_transcode_pipeline/internal/transcode/domain"
)

// WriteMasterManifest publishes master.m3u8 in dir. The file is written to a
// temp file and renamed, so readers see either no manifest or a complete one.
func WriteMasterManifest(dir string, m domain.MasterManifest) (string, error) {
	path := filepath.Join(dir, domain.MasterPlaylistName)
	if err := writeFileAtomic(path, m.Render(), 0644); err != nil {
		return "", fmt.Errorf("write master manifest: %w", err)
	}
	return path, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
