package domain

import (
	"errors"
	"io"
	"strings"
	"time"
)

// VideoStatus definition video status
type VideoStatus string

const (
	// VideoUploaded source stored, job not submitted yet
	VideoUploaded VideoStatus = "uploaded"
	// VideoProcessing job accepted by the queue
	VideoProcessing VideoStatus = "processing"
	// VideoReady master playlist written
	VideoReady VideoStatus = "ready"
	// VideoFailed the job could not be submitted
	VideoFailed VideoStatus = "failed"
)

var (
	// ErrInvalidUpload the request cannot be accepted
	ErrInvalidUpload = errors.New("invalid upload")
	// ErrVideoNotFound no video with this id
	ErrVideoNotFound = errors.New("video not found")
	// ErrSubmitFailed the job never reached the queue
	ErrSubmitFailed = errors.New("submit transcode job failed")
)

// Video uploaded video and its processing state
type Video struct {
	ID             string `gorm:"primaryKey;type:varchar(36)"`
	OwnerID        string `gorm:"index;not null"`
	Title          string
	FileName       string
	SourcePath     string // local path or minio://original/<id>/<file>
	OutputPath     string
	Qualities      string // comma separated labels
	Status         string `gorm:"index;not null"`
	MasterPlaylist string
	Thumbnail      string
	Size           int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// QualityList requested labels
func (v *Video) QualityList() []string {
	if v.Qualities == "" {
		return nil
	}
	return strings.Split(v.Qualities, ",")
}

// UploadVideoReq usecase upload video request
type UploadVideoReq struct {
	OwnerID       string
	Title         string
	FileName      string
	Qualities     []string
	ThumbnailTime string
	File          io.Reader
}

// UploadVideoRes usecase upload video response
type UploadVideoRes struct {
	VideoID   string   `json:"video_id"`
	Status    string   `json:"status"`
	Qualities []string `json:"quality"`
	Sequence  uint64   `json:"sequence"`
}

// GetVideoRes usecase get video response
type GetVideoRes struct {
	VideoID        string    `json:"video_id"`
	OwnerID        string    `json:"owner_id"`
	Title          string    `json:"title"`
	Status         string    `json:"status"`
	Qualities      []string  `json:"quality"`
	MasterPlaylist string    `json:"master_playlist,omitempty"`
	Thumbnail      string    `json:"thumbnail,omitempty"`
	PlaybackURL    string    `json:"playback_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UploadEvent published on video.upload once the job is queued
type UploadEvent struct {
	VideoID    string    `json:"video_id"`
	UserID     string    `json:"user_id"`
	Title      string    `json:"title"`
	FileName   string    `json:"file_name"`
	Size       int64     `json:"size"`
	SourcePath string    `json:"source_path"`
	Quality    []string  `json:"quality"`
	UploadedAt time.Time `json:"uploaded_at"`
}
