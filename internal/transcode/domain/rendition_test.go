package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func rendition(label string) RenditionOutput {
	q, _ := LookupQuality(label)
	return *NewRenditionOutput(q, "/out/v1")
}

func TestBuildMasterManifest_AscendingBitrate(t *testing.T) {
	m := BuildMasterManifest("v1", []RenditionOutput{rendition("1080p"), rendition("240p"), rendition("720p")})

	assert.Equal(t, []string{"240p.m3u8", "720p.m3u8", "1080p.m3u8"}, m.Playlists())

	want := "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=528000,RESOLUTION=426x240,NAME=\"240p\"\n" +
		"240p.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=2928000,RESOLUTION=1280x720,NAME=\"720p\"\n" +
		"720p.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=5128000,RESOLUTION=1920x1080,NAME=\"1080p\"\n" +
		"1080p.m3u8\n"
	assert.Equal(t, want, string(m.Render()))
}

func TestMasterManifest_RenderIsDeterministic(t *testing.T) {
	a := BuildMasterManifest("v1", []RenditionOutput{rendition("720p"), rendition("480p")})
	b := BuildMasterManifest("v1", []RenditionOutput{rendition("480p"), rendition("720p")})
	assert.Equal(t, a.Render(), b.Render())
}
