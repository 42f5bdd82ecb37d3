package pipeline

import (
	"errors"
	"fmt"
)

// Stage identifies which part of the dubbing pipeline an error came
// from. Callers rely on the distinction: a submission rejection, a
// provider-side job failure, and a broken artifact download are
// different operational problems.
type Stage string

const (
	StageSubmission Stage = "submission"
	StagePolling    Stage = "polling"
	StageFetch      Stage = "fetch"
	StageUpload     Stage = "upload"
)

// Error kinds recorded on a failed exchange. Job failures and poll
// timeouts both happen during polling but are kept distinct so callers
// and telemetry can tell them apart.
const (
	ErrKindSubmission = "submission"
	ErrKindJob        = "job"
	ErrKindTimeout    = "timeout"
	ErrKindFetch      = "fetch"
)

// ErrJobTimeout is returned when a job exhausts the poll ceiling
// without reaching a terminal provider status.
var ErrJobTimeout = errors.New("dubbing job timed out")

// ErrPipelineClosed is returned when submitting to a closed pipeline.
var ErrPipelineClosed = errors.New("pipeline is closed")

// Error is a stage-aware pipeline failure.
type Error struct {
	Stage   Stage
	Message string
	Err     error
}

// Error formats the failure for logs and API responses.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func stageError(stage Stage, message string, err error) *Error {
	return &Error{Stage: stage, Message: message, Err: err}
}
