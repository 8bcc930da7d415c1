package domain

import "time"

// Stage state of a delivery inside the worker
type Stage string

const (
	StageReceived    Stage = "received"
	StageValidating  Stage = "validating"
	StageTranscoding Stage = "transcoding"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
)

// ProcessedEvent published on video.processed
type ProcessedEvent struct {
	VideoID        string            `json:"video_id"`
	UserID         string            `json:"user_id"`
	OutputPath     string            `json:"output_path"`
	MasterPlaylist string            `json:"master_playlist"`
	Thumbnail      string            `json:"thumbnail,omitempty"`
	Renditions     []RenditionOutput `json:"renditions"`
	Objects        []string          `json:"objects,omitempty"`
	Attempt        int               `json:"attempt"`
	CompletedAt    time.Time         `json:"completed_at"`
}

// MetadataEvent published on video.metadata when the upload carried metadata
type MetadataEvent struct {
	VideoID    string   `json:"video_id"`
	UserID     string   `json:"user_id"`
	Metadata   Metadata `json:"metadata"`
	Renditions []string `json:"renditions"`
}

// FailedEvent published on video.failed
type FailedEvent struct {
	VideoID       string    `json:"video_id,omitempty"`
	MessageID     string    `json:"message_id"`
	Stage         Stage     `json:"stage"`
	Kind          string    `json:"kind"`
	Reason        string    `json:"reason"`
	Diagnostics   string    `json:"diagnostics,omitempty"`
	Attempt       int       `json:"attempt"`
	MaxDeliveries int       `json:"max_deliveries"`
	Terminal      bool      `json:"terminal"`
	FailedAt      time.Time `json:"failed_at"`
}

// CallbackStatusProcessed status sent on the completion callback
const CallbackStatusProcessed = "processed"

// CallbackPayload body of the completion callback
type CallbackPayload struct {
	VideoID        string   `json:"video_id"`
	Status         string   `json:"status"`
	MasterPlaylist string   `json:"master_playlist"`
	Renditions     []string `json:"renditions"`
	Thumbnail      string   `json:"thumbnail,omitempty"`
}
