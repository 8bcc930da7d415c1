package domain

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
)

// MasterPlaylistName file name of the master playlist in the output directory
const MasterPlaylistName = "master.m3u8"

// ThumbnailName file name of the optional thumbnail in the output directory
const ThumbnailName = "thumbnail.jpg"

// RenditionOutput one transcoded quality variant
type RenditionOutput struct {
	Quality    string   `json:"quality"`
	Playlist   string   `json:"playlist"`
	Segments   []string `json:"segments"`
	Bitrate    int      `json:"bitrate"` // video kbps
	Bandwidth  int      `json:"bandwidth"`
	Resolution string   `json:"resolution"`
	Scale      string   `json:"scale"`
}

// NewRenditionOutput output skeleton of q in dir
func NewRenditionOutput(q Quality, dir string) *RenditionOutput {
	return &RenditionOutput{
		Quality:    q.Label,
		Playlist:   filepath.Join(dir, q.PlaylistName()),
		Bitrate:    q.VideoBitrate,
		Bandwidth:  q.Bandwidth(),
		Resolution: q.Resolution(),
		Scale:      q.ScaleFilter(),
	}
}

// MasterManifest aggregate playlist of a completed job
type MasterManifest struct {
	VideoID    string
	Renditions []RenditionOutput
}

// BuildMasterManifest orders the renditions ascending by bandwidth
func BuildMasterManifest(videoID string, renditions []RenditionOutput) MasterManifest {
	sorted := make([]RenditionOutput, len(renditions))
	copy(sorted, renditions)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Bandwidth != sorted[j].Bandwidth {
			return sorted[i].Bandwidth < sorted[j].Bandwidth
		}
		return sorted[i].Quality < sorted[j].Quality
	})
	return MasterManifest{VideoID: videoID, Renditions: sorted}
}

// Render HLS master playlist. The output only depends on the renditions, so
// reprocessing a job renders identical bytes.
func (m MasterManifest) Render() []byte {
	var buf bytes.Buffer
	buf.WriteString("#EXTM3U\n")
	buf.WriteString("#EXT-X-VERSION:3\n")
	for _, r := range m.Renditions {
		fmt.Fprintf(&buf, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s,NAME=%q\n", r.Bandwidth, r.Resolution, r.Quality)
		buf.WriteString(filepath.Base(r.Playlist))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Playlists relative playlist names in manifest order
func (m MasterManifest) Playlists() []string {
	out := make([]string, len(m.Renditions))
	for i, r := range m.Renditions {
		out[i] = filepath.Base(r.Playlist)
	}
	return out
}
