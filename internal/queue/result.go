package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ErrorInfo is the structured failure of a publish attempt.
type ErrorInfo struct {
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
	Payload    any    `json:"payload,omitempty"`
}

// Result is the write-once outcome record stored next to a finalized job.
type Result struct {
	Status    string            `json:"status"`
	JobID     string            `json:"job_id,omitempty"`
	AttemptID string            `json:"attempt_id"`
	Uploads   []json.RawMessage `json:"uploads,omitempty"`
	Tweet     json.RawMessage   `json:"tweet,omitempty"`
	Error     *ErrorInfo        `json:"error,omitempty"`
	Errors    []string          `json:"errors,omitempty"`
	TS        time.Time         `json:"ts"`
}

func Success(jobID string, uploads []json.RawMessage, tweet json.RawMessage) Result {
	return Result{
		Status:    StatusSuccess,
		JobID:     jobID,
		AttemptID: uuid.NewString(),
		Uploads:   uploads,
		Tweet:     tweet,
		TS:        time.Now().UTC(),
	}
}

// Failure builds an error result. problems lists every individual violation
// when the failure came from parsing or validation.
func Failure(jobID string, info ErrorInfo, problems []string) Result {
	return Result{
		Status:    StatusError,
		JobID:     jobID,
		AttemptID: uuid.NewString(),
		Error:     &info,
		Errors:    problems,
		TS:        time.Now().UTC(),
	}
}

func (r Result) OK() bool { return r.Status == StatusSuccess }

// RawPayload keeps a response body as JSON when it is JSON, else as text.
func RawPayload(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return json.RawMessage(append([]byte(nil), b...))
	}
	return string(b)
}
