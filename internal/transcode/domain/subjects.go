package domain

// Queue subjects
const (
	SubjectUpload    = "video.upload"
	SubjectProcess   = "video.process"
	SubjectProcessed = "video.processed"
	SubjectFailed    = "video.failed"
	SubjectThumbnail = "video.thumbnail"
	SubjectMetadata  = "video.metadata"
)
