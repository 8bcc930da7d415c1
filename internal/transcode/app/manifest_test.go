package app

import (
	"os"
	"path/filepath"
	"testing"

	"video_transcode_pipeline/internal/transcode/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteMasterManifest(t *testing.T) {
	dir := t.TempDir()
	q720, _ := domain.LookupQuality("720p")
	q360, _ := domain.LookupQuality("360p")
	m := domain.BuildMasterManifest("v1", []domain.RenditionOutput{
		*domain.NewRenditionOutput(q720, dir),
		*domain.NewRenditionOutput(q360, dir),
	})

	path, err := WriteMasterManifest(dir, m)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "master.m3u8"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, m.Render(), data)

	// overwrite in place, leaving no temp files behind
	_, err = WriteMasterManifest(dir, m)
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "master.m3u8", entries[0].Name())
}

func TestWriteMasterManifest_MissingDir(t *testing.T) {
	_, err := WriteMasterManifest(filepath.Join(t.TempDir(), "nope"), domain.MasterManifest{})
	assert.Error(t, err)
}
