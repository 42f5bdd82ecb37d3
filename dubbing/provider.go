// Package dubbing defines the remote dubbing provider capability: submit
// a recording, poll the resulting job, and fetch the translated audio.
// The provider is treated as an opaque remote job processor.
package dubbing

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned when a submission carries no audio bytes.
var ErrEmptyAudio = errors.New("audio artifact is empty")

// ErrMissingTargetLanguage is returned when a submission omits the
// target language.
var ErrMissingTargetLanguage = errors.New("target language is required")

// Language is one language offered by the provider.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// SubmitRequest carries one finished recording into the provider.
// SourceLanguage may be empty when the provider auto-detects.
type SubmitRequest struct {
	Audio          []byte
	SourceLanguage string
	TargetLanguage string
}

// Validate checks the submission input constraints.
func (r SubmitRequest) Validate() error {
	if len(r.Audio) == 0 {
		return ErrEmptyAudio
	}
	if r.TargetLanguage == "" {
		return ErrMissingTargetLanguage
	}
	return nil
}

// Provider is the remote dubbing service consumed by the pipeline.
type Provider interface {
	// Submit sends a recording for dubbing and returns the created job,
	// normally in pending or processing state.
	Submit(ctx context.Context, req SubmitRequest) (Job, error)

	// JobStatus queries the current state of a previously submitted job.
	JobStatus(ctx context.Context, jobID string) (Job, error)

	// FetchAudio downloads the dubbed audio once the job reached the
	// dubbed state. The returned bytes are audio/mpeg.
	FetchAudio(ctx context.Context, jobID, targetLanguage string) ([]byte, error)

	// Languages lists the languages the provider can dub into.
	Languages(ctx context.Context) ([]Language, error)
}
