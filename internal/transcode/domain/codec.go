package domain

import (
	"bytes"
	"encoding/json"
	"errors"
)

// EncodeJob marshals the job into its wire format
func EncodeJob(job Job) ([]byte, error) {
	return json.Marshal(job)
}

// DecodeJob parses a wire payload. Unknown fields are ignored. Every failure is
// a *DecodeError; semantic checks are left to Job.Validate.
func DecodeJob(data []byte) (Job, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Job{}, &DecodeError{Err: errors.New("empty payload")}
	}
	if trimmed[0] != '{' {
		return Job{}, &DecodeError{Err: errors.New("payload is not a JSON object")}
	}

	var job Job
	if err := json.Unmarshal(trimmed, &job); err != nil {
		return Job{}, &DecodeError{Err: err}
	}
	return job, nil
}
