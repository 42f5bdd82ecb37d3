package dubbing

import "time"

// JobStatus is the provider-side lifecycle state of a dubbing job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobDubbed     JobStatus = "dubbed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status ends the job lifecycle.
func (s JobStatus) Terminal() bool {
	return s == JobDubbed || s == JobFailed
}

// Job is the provider's unit of work for translating one audio artifact.
// Jobs are transient: they live only while the pipeline drives the
// owning exchange to a terminal state and are never persisted.
type Job struct {
	ID             string    `json:"jobId"`
	Status         JobStatus `json:"status"`
	TargetLanguage string    `json:"targetLanguage"`
	CreatedAt      time.Time `json:"createdAt"`
	Error          string    `json:"error,omitempty"`
}
