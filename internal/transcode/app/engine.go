package app

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"video_transcode_pipeline/internal/transcode/domain"
	"video_transcode_pipeline/pkg/config"
	"video_transcode_pipeline/pkg/logger"

	"go.uber.org/zap"
)

// diagnosticsTail bytes of ffmpeg output kept on failure
const diagnosticsTail = 4096

// Engine runs the external transcoding tool
type Engine interface {
	// Transcode produces one rendition of source in outputDir
	Transcode(ctx context.Context, source, outputDir string, q domain.Quality) (*domain.RenditionOutput, error)
	// Thumbnail extracts a single frame at the given timestamp
	Thumbnail(ctx context.Context, source, dest, at string) error
}

// mockable in tests, see engine_test.go
var execCommand = exec.CommandContext

// FFmpegEngine Engine backed by the ffmpeg binary
type FFmpegEngine struct {
	path           string
	preset         string
	segmentSeconds int
}

// NewFFmpegEngine create FFmpegEngine
func NewFFmpegEngine(cfg config.TranscodeConfig) *FFmpegEngine {
	cfg = cfg.Defaults()
	return &FFmpegEngine{
		path:           cfg.FFmpegPath,
		preset:         cfg.Preset,
		segmentSeconds: cfg.SegmentSeconds,
	}
}

// Transcode renders one HLS VOD rendition. Existing files of the rendition are
// removed first so a retried job overwrites instead of mixing segments.
func (e *FFmpegEngine) Transcode(ctx context.Context, source, outputDir string, q domain.Quality) (*domain.RenditionOutput, error) {
	if err := removeRendition(outputDir, q); err != nil {
		return nil, &domain.EngineFailure{Quality: q.Label, Message: err.Error()}
	}

	out := domain.NewRenditionOutput(q, outputDir)
	args := e.renditionArgs(source, outputDir, q)
	logger.Log.Debug("run ffmpeg", zap.String("quality", q.Label), zap.Strings("args", args))

	cmd := execCommand(ctx, e.path, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, &domain.EngineFailure{
			Quality:     q.Label,
			Message:     fmt.Sprintf("ffmpeg: %v", err),
			Diagnostics: tail(output, diagnosticsTail),
		}
	}

	segments, err := readSegments(out.Playlist)
	if err != nil {
		return nil, &domain.EngineFailure{Quality: q.Label, Message: err.Error(), Diagnostics: tail(output, diagnosticsTail)}
	}
	if len(segments) == 0 {
		return nil, &domain.EngineFailure{Quality: q.Label, Message: "playlist has no segments", Diagnostics: tail(output, diagnosticsTail)}
	}
	out.Segments = segments
	return out, nil
}

func (e *FFmpegEngine) renditionArgs(source, outputDir string, q domain.Quality) []string {
	return []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", source,
		"-vf", q.ScaleFilter(),
		"-c:v", "libx264",
		"-preset", e.preset,
		"-profile:v", "main",
		"-b:v", strconv.Itoa(q.VideoBitrate) + "k",
		"-maxrate", strconv.Itoa(q.VideoBitrate*107/100) + "k",
		"-bufsize", strconv.Itoa(q.VideoBitrate*3/2) + "k",
		"-g", strconv.Itoa(e.segmentSeconds * 30),
		"-sc_threshold", "0",
		"-c:a", "aac",
		"-b:a", strconv.Itoa(q.AudioBitrate) + "k",
		"-ac", "2",
		"-f", "hls",
		"-hls_time", strconv.Itoa(e.segmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(outputDir, q.SegmentPattern()),
		filepath.Join(outputDir, q.PlaylistName()),
	}
}

// Thumbnail writes one jpeg frame taken at `at` to dest
func (e *FFmpegEngine) Thumbnail(ctx context.Context, source, dest, at string) error {
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-ss", at,
		"-i", source,
		"-frames:v", "1",
		"-q:v", "2",
		dest,
	}
	cmd := execCommand(ctx, e.path, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return &domain.EngineFailure{
			Quality:     "thumbnail",
			Message:     fmt.Sprintf("ffmpeg: %v", err),
			Diagnostics: tail(output, diagnosticsTail),
		}
	}
	return nil
}

// removeRendition deletes the playlist and segments of q left by an earlier attempt
func removeRendition(outputDir string, q domain.Quality) error {
	stale, err := filepath.Glob(filepath.Join(outputDir, q.Label+"_*.ts"))
	if err != nil {
		return err
	}
	stale = append(stale, filepath.Join(outputDir, q.PlaylistName()))
	for _, path := range stale {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale %s: %w", path, err)
		}
	}
	return nil
}

// readSegments lists the media segments referenced by a playlist
func readSegments(playlist string) ([]string, error) {
	f, err := os.Open(playlist)
	if err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}
	defer f.Close()

	dir := filepath.Dir(playlist)
	var segments []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		segments = append(segments, filepath.Join(dir, line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}
	return segments, nil
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return strings.TrimSpace(string(b))
}
