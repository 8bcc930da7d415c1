package domain

import (
	"strings"
)

// Metadata opaque passthrough information of the upload
type Metadata struct {
	Title    string  `json:"title,omitempty"`
	Duration float64 `json:"duration,omitempty"` // seconds
	Size     int64   `json:"size,omitempty"`     // bytes
}

// Job one transcoding request. A job is immutable once published;
// redeliveries replay the same payload.
type Job struct {
	VideoID       string    `json:"video_id"`
	SourcePath    string    `json:"source_path"`
	OutputPath    string    `json:"output_path"`
	UserID        string    `json:"user_id"`
	Quality       []string  `json:"quality"`
	ThumbnailTime string    `json:"thumbnail_time,omitempty"`
	CallbackURL   string    `json:"callback_url,omitempty"`
	Metadata      *Metadata `json:"metadata,omitempty"`
}

// Validate checks required fields and the requested quality labels
func (j Job) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"video_id", j.VideoID},
		{"source_path", j.SourcePath},
		{"output_path", j.OutputPath},
		{"user_id", j.UserID},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &ValidationError{Field: r.field, Reason: "is required"}
		}
	}

	if len(j.Quality) == 0 {
		return &ValidationError{Field: "quality", Reason: "at least one quality is required"}
	}
	seen := make(map[string]bool, len(j.Quality))
	for _, label := range j.Quality {
		if _, ok := LookupQuality(label); !ok {
			return &ValidationError{Field: "quality", Reason: "unknown quality " + label}
		}
		if seen[label] {
			return &ValidationError{Field: "quality", Reason: "duplicate quality " + label}
		}
		seen[label] = true
	}
	return nil
}

// Qualities resolves the requested labels, in request order
func (j Job) Qualities() ([]Quality, error) {
	out := make([]Quality, 0, len(j.Quality))
	for _, label := range j.Quality {
		q, ok := LookupQuality(label)
		if !ok {
			return nil, &ValidationError{Field: "quality", Reason: "unknown quality " + label}
		}
		out = append(out, q)
	}
	return out, nil
}
