package errprocess

import (
	"errors"
	"fmt"

	"video_transcode_pipeline/pkg/logger"
)

// Set logs errMsg and returns it as an error
func Set(errMsg string) error {
	logger.Log.Error(errMsg)
	return errors.New(errMsg)
}

// SetKind logs errMsg and returns it wrapping kind, so callers can match it with errors.Is
func SetKind(kind error, errMsg string) error {
	logger.Log.Error(errMsg)
	return fmt.Errorf("%w: %s", kind, errMsg)
}
