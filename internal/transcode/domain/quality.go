package domain

import "fmt"

// AudioBitrate audio bitrate of every rendition in kbps
const AudioBitrate = 128

// Quality one entry of the fixed rendition table
type Quality struct {
	Label        string
	Width        int
	Height       int
	VideoBitrate int // kbps
	AudioBitrate int // kbps
}

// qualities ascending by bitrate
var qualities = []Quality{
	{Label: "240p", Width: 426, Height: 240, VideoBitrate: 400, AudioBitrate: AudioBitrate},
	{Label: "360p", Width: 640, Height: 360, VideoBitrate: 800, AudioBitrate: AudioBitrate},
	{Label: "480p", Width: 854, Height: 480, VideoBitrate: 1400, AudioBitrate: AudioBitrate},
	{Label: "720p", Width: 1280, Height: 720, VideoBitrate: 2800, AudioBitrate: AudioBitrate},
	{Label: "1080p", Width: 1920, Height: 1080, VideoBitrate: 5000, AudioBitrate: AudioBitrate},
	{Label: "1440p", Width: 2560, Height: 1440, VideoBitrate: 8000, AudioBitrate: AudioBitrate},
	{Label: "2160p", Width: 3840, Height: 2160, VideoBitrate: 14000, AudioBitrate: AudioBitrate},
}

var qualityByLabel = func() map[string]Quality {
	m := make(map[string]Quality, len(qualities))
	for _, q := range qualities {
		m[q.Label] = q
	}
	return m
}()

// LookupQuality returns the table entry of label
func LookupQuality(label string) (Quality, bool) {
	q, ok := qualityByLabel[label]
	return q, ok
}

// QualityLabels every supported label, ascending by bitrate
func QualityLabels() []string {
	out := make([]string, len(qualities))
	for i, q := range qualities {
		out[i] = q.Label
	}
	return out
}

// Bandwidth peak bandwidth advertised in the master playlist, bits per second
func (q Quality) Bandwidth() int {
	return (q.VideoBitrate + q.AudioBitrate) * 1000
}

// Resolution WIDTHxHEIGHT
func (q Quality) Resolution() string {
	return fmt.Sprintf("%dx%d", q.Width, q.Height)
}

// ScaleFilter ffmpeg scale filter keeping the aspect ratio inside the box
func (q Quality) ScaleFilter() string {
	return fmt.Sprintf("scale=w=%d:h=%d:force_original_aspect_ratio=decrease:force_divisible_by=2", q.Width, q.Height)
}

// PlaylistName file name of the rendition playlist
func (q Quality) PlaylistName() string {
	return q.Label + ".m3u8"
}

// SegmentPattern ffmpeg segment file pattern of the rendition
func (q Quality) SegmentPattern() string {
	return q.Label + "_%03d.ts"
}
