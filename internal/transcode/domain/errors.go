package domain

import (
	"errors"
	"fmt"
)

// DecodeError the payload cannot be parsed (poison message)
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode job: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ValidationError structurally valid but semantically invalid job
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid job: %s %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid job: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// EngineFailure the transcoding tool failed for one quality.
// Diagnostics holds the tail of the tool's own output.
type EngineFailure struct {
	Quality     string
	Message     string
	Diagnostics string
}

func (e *EngineFailure) Error() string {
	if e.Quality == "" {
		return "engine failure: " + e.Message
	}
	return fmt.Sprintf("engine failure [%s]: %s", e.Quality, e.Message)
}

// Error kinds reported on failure events
const (
	KindDecode     = "decode"
	KindValidation = "validation"
	KindEngine     = "engine"
	KindInternal   = "internal"
)

// ErrorKind classifies a job failure
func ErrorKind(err error) string {
	var decodeErr *DecodeError
	var validationErr *ValidationError
	var engineErr *EngineFailure
	switch {
	case errors.As(err, &decodeErr):
		return KindDecode
	case errors.As(err, &validationErr):
		return KindValidation
	case errors.As(err, &engineErr):
		return KindEngine
	default:
		return KindInternal
	}
}
