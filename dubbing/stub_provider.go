package dubbing

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// StubProviderConfig configures the stub provider behavior.
type StubProviderConfig struct {
	// PollsUntilDubbed is how many status calls a job reports processing
	// before turning dubbed. Zero means dubbed on the first poll.
	PollsUntilDubbed int
	// FailWith, when non-empty, makes every job report failed with this
	// provider error message instead of ever reaching dubbed.
	FailWith string
	// NeverFinish keeps every job in processing forever, for exercising
	// poll ceilings.
	NeverFinish bool
	// Audio is the dubbed artifact returned by FetchAudio.
	Audio []byte
	// SubmitErr, when set, makes Submit fail without creating a job.
	SubmitErr error
	// FetchErr, when set, makes FetchAudio fail even for dubbed jobs.
	FetchErr error
	// SupportedLanguages is returned by Languages.
	SupportedLanguages []Language
}

// DefaultStubProviderConfig returns sensible defaults for testing.
func DefaultStubProviderConfig() *StubProviderConfig {
	return &StubProviderConfig{
		PollsUntilDubbed: 1,
		Audio:            []byte("stub-dubbed-audio"),
		SupportedLanguages: []Language{
			{Code: "en", Name: "English"},
			{Code: "es", Name: "Spanish"},
			{Code: "fr", Name: "French"},
			{Code: "pt", Name: "Portuguese"},
		},
	}
}

// StubProvider is a deterministic in-memory Provider for development
// and tests. Each submitted job advances through the configured number
// of processing polls before reporting dubbed or failed.
type StubProvider struct {
	config *StubProviderConfig

	mu    sync.Mutex
	next  int
	polls map[string]int
	jobs  map[string]Job
}

// NewStubProvider creates a stub provider with the given config.
func NewStubProvider(config *StubProviderConfig) *StubProvider {
	if config == nil {
		config = DefaultStubProviderConfig()
	}
	return &StubProvider{
		config: config,
		polls:  make(map[string]int),
		jobs:   make(map[string]Job),
	}
}

// Submit registers a new stub job in pending state.
func (p *StubProvider) Submit(_ context.Context, req SubmitRequest) (Job, error) {
	if err := req.Validate(); err != nil {
		return Job{}, err
	}
	if p.config.SubmitErr != nil {
		return Job{}, p.config.SubmitErr
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.next++
	job := Job{
		ID:             fmt.Sprintf("stub-job-%d", p.next),
		Status:         JobPending,
		TargetLanguage: req.TargetLanguage,
		CreatedAt:      time.Now().UTC(),
	}
	p.jobs[job.ID] = job
	return job, nil
}

// JobStatus advances the stub job one poll step and returns its state.
func (p *StubProvider) JobStatus(_ context.Context, jobID string) (Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	job, ok := p.jobs[jobID]
	if !ok {
		return Job{}, fmt.Errorf("unknown job: %s", jobID)
	}
	if job.Status.Terminal() {
		return job, nil
	}

	p.polls[jobID]++
	switch {
	case p.config.NeverFinish:
		job.Status = JobProcessing
	case p.config.FailWith != "":
		job.Status = JobFailed
		job.Error = p.config.FailWith
	case p.polls[jobID] > p.config.PollsUntilDubbed:
		job.Status = JobDubbed
	default:
		job.Status = JobProcessing
	}

	p.jobs[jobID] = job
	return job, nil
}

// FetchAudio returns the configured dubbed artifact.
func (p *StubProvider) FetchAudio(_ context.Context, jobID, _ string) ([]byte, error) {
	if p.config.FetchErr != nil {
		return nil, p.config.FetchErr
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	job, ok := p.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("unknown job: %s", jobID)
	}
	if job.Status != JobDubbed {
		return nil, fmt.Errorf("job %s is not dubbed yet", jobID)
	}
	return append([]byte(nil), p.config.Audio...), nil
}

// Languages returns the configured language list.
func (p *StubProvider) Languages(_ context.Context) ([]Language, error) {
	return append([]Language(nil), p.config.SupportedLanguages...), nil
}

// PollCount reports how many status calls a job has received.
func (p *StubProvider) PollCount(jobID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls[jobID]
}
