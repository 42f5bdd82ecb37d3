// Package pipeline drives one recording through the dubbing lifecycle:
// submit to the provider, poll the job until a terminal state, fetch
// the dubbed artifact, reconcile audio into durable storage, and
// persist the exchange on its conversation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nimaibhat/medimoji-sub000/blobstore"
	"github.com/nimaibhat/medimoji-sub000/conversation"
	"github.com/nimaibhat/medimoji-sub000/dubbing"
	"github.com/nimaibhat/medimoji-sub000/status"
)

const (
	// DefaultPollInterval is the fixed wait between job status polls.
	DefaultPollInterval = 5 * time.Second
	// DefaultMaxPollAttempts caps polls per job (~10 minutes at the
	// default interval). After the ceiling the exchange fails
	// terminally; the clinician must re-record.
	DefaultMaxPollAttempts = 120
)

// ConversationStore persists conversation aggregates. Update runs its
// closure atomically against the stored aggregate, serializing
// concurrent writes to the same conversation.
type ConversationStore interface {
	Create(ctx context.Context, c conversation.Conversation) error
	Get(ctx context.Context, id string) (conversation.Conversation, error)
	Update(ctx context.Context, id string, fn func(*conversation.Conversation) error) error
	ListByOwner(ctx context.Context, ownerID string, includeArchived bool) ([]conversation.Conversation, error)
	Delete(ctx context.Context, id string) error
	DeleteEmptyActive(ctx context.Context, ownerID string) (int, error)
}

// Config tunes the pipeline. The zero value picks the defaults above.
type Config struct {
	PollInterval    time.Duration
	MaxPollAttempts int
	Clock           Clock
}

// Pipeline is the dubbing pipeline service. Multiple exchanges may be
// mid-flight concurrently, each with its own poll loop; nothing
// serializes exchanges within a conversation beyond the store itself.
type Pipeline struct {
	provider  dubbing.Provider
	store     ConversationStore
	audio     *blobstore.AudioStore
	publisher status.Publisher
	logger    *zap.SugaredLogger

	pollInterval    time.Duration
	maxPollAttempts int
	clock           Clock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	inJob  map[string]struct{}
	closed bool
}

// New constructs a pipeline. A nil config uses the defaults; a nil
// publisher discards status events.
func New(provider dubbing.Provider, store ConversationStore, audio *blobstore.AudioStore, publisher status.Publisher, logger *zap.SugaredLogger, cfg *Config) *Pipeline {
	if publisher == nil {
		publisher = status.NopPublisher{}
	}
	if cfg == nil {
		cfg = &Config{}
	}

	p := &Pipeline{
		provider:        provider,
		store:           store,
		audio:           audio,
		publisher:       publisher,
		logger:          logger,
		pollInterval:    cfg.PollInterval,
		maxPollAttempts: cfg.MaxPollAttempts,
		clock:           cfg.Clock,
		inJob:           make(map[string]struct{}),
	}
	if p.pollInterval <= 0 {
		p.pollInterval = DefaultPollInterval
	}
	if p.maxPollAttempts <= 0 {
		p.maxPollAttempts = DefaultMaxPollAttempts
	}
	if p.clock == nil {
		p.clock = systemClock{}
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

// Close stops local polling for every in-flight exchange and waits for
// their goroutines. Remote jobs are not canceled; late results are
// simply ignored.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// StartNewConversation creates an active conversation for the owner,
// after removing any of the owner's abandoned empty active sessions.
func (p *Pipeline) StartNewConversation(ctx context.Context, ownerID string, patient conversation.PatientInfo) (conversation.Conversation, error) {
	removed, err := p.store.DeleteEmptyActive(ctx, ownerID)
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("clean up empty conversations: %w", err)
	}
	if removed > 0 {
		p.logger.Infow("removed abandoned empty conversations", "ownerID", ownerID, "count", removed)
	}

	c := conversation.New(ownerID, patient)
	if err := p.store.Create(ctx, *c); err != nil {
		return conversation.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return c.Clone(), nil
}

// SubmitRecording appends a processing exchange for the finished
// recording and starts its dubbing pipeline asynchronously. The
// returned exchange id is final; callers watch status events or reload
// the conversation to observe progress. Exchanges keep the order their
// recordings were submitted in, not the order their jobs complete.
func (p *Pipeline) SubmitRecording(ctx context.Context, conversationID string, audio []byte, sourceLanguage, targetLanguage string) (string, error) {
	if len(audio) == 0 {
		return "", stageError(StageSubmission, "", dubbing.ErrEmptyAudio)
	}
	if targetLanguage == "" {
		return "", stageError(StageSubmission, "", dubbing.ErrMissingTargetLanguage)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrPipelineClosed
	}
	p.mu.Unlock()

	original := p.audio.Cache().Add(audio)
	ex := conversation.NewExchange(sourceLanguage, targetLanguage, original)

	if err := p.store.Update(ctx, conversationID, func(c *conversation.Conversation) error {
		return c.AppendExchange(ex)
	}); err != nil {
		p.audio.Cache().Remove(original)
		return "", err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		// The exchange is already stored; fail it so it does not sit
		// in processing forever with no pipeline behind it.
		p.audio.Cache().Remove(original)
		if err := p.store.Update(ctx, conversationID, func(c *conversation.Conversation) error {
			return c.FailExchange(ex.ID, ErrKindSubmission, "pipeline closed before dubbing started")
		}); err != nil {
			p.logger.Errorw("failed to fail exchange after close", "exchangeID", ex.ID, "error", err)
		}
		return "", ErrPipelineClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.publish(conversationID, ex.ID, string(StageSubmission), "submitted", "")

	go p.runExchange(p.ctx, conversationID, ex, audio)

	return ex.ID, nil
}

// runExchange owns one exchange from submission to its terminal state.
func (p *Pipeline) runExchange(ctx context.Context, conversationID string, ex conversation.Exchange, audio []byte) {
	defer p.wg.Done()

	job, err := p.provider.Submit(ctx, dubbing.SubmitRequest{
		Audio:          audio,
		SourceLanguage: ex.SourceLanguage,
		TargetLanguage: ex.TargetLanguage,
	})
	if err != nil {
		p.failExchange(ctx, conversationID, ex.ID, ErrKindSubmission, fmt.Sprintf("dubbing submission failed: %v", err))
		return
	}

	if !p.acquireJob(job.ID) {
		p.logger.Errorw("poller already running for job", "jobID", job.ID, "exchangeID", ex.ID)
		p.failExchange(ctx, conversationID, ex.ID, ErrKindJob,
			fmt.Sprintf("dubbing job %s is already being tracked by another exchange", job.ID))
		return
	}
	defer p.releaseJob(job.ID)

	p.publish(conversationID, ex.ID, string(StagePolling), string(job.Status), "job "+job.ID)

	final, err := p.pollUntilTerminal(ctx, job.ID)
	switch {
	case errors.Is(err, context.Canceled):
		// Session closed; the remote job keeps running unobserved.
		return
	case errors.Is(err, ErrJobTimeout):
		p.failExchange(ctx, conversationID, ex.ID, ErrKindTimeout,
			fmt.Sprintf("dubbing job timed out after %d polls", p.maxPollAttempts))
		return
	}

	if final.Status == dubbing.JobFailed {
		message := final.Error
		if message == "" {
			message = "dubbing job failed"
		}
		p.failExchange(ctx, conversationID, ex.ID, ErrKindJob, message)
		return
	}

	dubbed, err := p.provider.FetchAudio(ctx, job.ID, ex.TargetLanguage)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		// The job reached dubbed but the artifact download broke; this
		// is a distinct failure point from the job itself.
		p.failExchange(ctx, conversationID, ex.ID, ErrKindFetch, fmt.Sprintf("dubbed audio fetch failed: %v", err))
		return
	}

	p.completeExchange(ctx, conversationID, ex, dubbed)
}

// pollUntilTerminal runs the retry-until-terminal state machine for one
// job. Transport errors count against the ceiling but do not abort the
// schedule.
func (p *Pipeline) pollUntilTerminal(ctx context.Context, jobID string) (dubbing.Job, error) {
	for attempt := 1; attempt <= p.maxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return dubbing.Job{}, context.Canceled
		case <-p.clock.After(p.pollInterval):
		}

		job, err := p.provider.JobStatus(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return dubbing.Job{}, context.Canceled
			}
			p.logger.Warnw("dubbing status poll failed", "jobID", jobID, "attempt", attempt, "error", err)
			continue
		}

		if job.Status.Terminal() {
			return job, nil
		}
	}
	return dubbing.Job{}, ErrJobTimeout
}

// completeExchange stages the dubbed audio, attempts the durable
// upload, and persists the completed exchange. Upload failures degrade
// to ephemeral references instead of failing the exchange.
func (p *Pipeline) completeExchange(ctx context.Context, conversationID string, ex conversation.Exchange, dubbed []byte) {
	translated := p.audio.Cache().Add(dubbed)
	original := ex.OriginalAudio

	durableOriginal, durableTranslated, err := p.audio.UploadExchange(ctx, conversationID, ex.ID, original, translated, ex.SourceLanguage, ex.TargetLanguage)
	if err != nil {
		p.logger.Errorw("durable upload failed, keeping ephemeral audio",
			"conversationID", conversationID,
			"exchangeID", ex.ID,
			"error", stageError(StageUpload, "", err),
		)
		p.publish(conversationID, ex.ID, string(StageUpload), "degraded", "audio kept in session only")
	} else {
		original = durableOriginal
		translated = durableTranslated
	}

	err = p.store.Update(ctx, conversationID, func(c *conversation.Conversation) error {
		return c.CompleteExchange(ex.ID, original, translated, 0)
	})
	switch {
	case errors.Is(err, conversation.ErrExchangeTerminal):
		p.logger.Infow("ignoring late dubbing result for terminal exchange", "exchangeID", ex.ID)
		return
	case err != nil:
		p.logger.Errorw("failed to persist completed exchange", "exchangeID", ex.ID, "error", err)
		return
	}

	p.publish(conversationID, ex.ID, string(StagePolling), string(conversation.ExchangeCompleted), "")
}

// failExchange terminally fails the exchange; a late failure against an
// already-terminal exchange is a no-op.
func (p *Pipeline) failExchange(ctx context.Context, conversationID, exchangeID, kind, message string) {
	err := p.store.Update(ctx, conversationID, func(c *conversation.Conversation) error {
		return c.FailExchange(exchangeID, kind, message)
	})
	switch {
	case errors.Is(err, conversation.ErrExchangeTerminal):
		return
	case err != nil:
		p.logger.Errorw("failed to persist failed exchange", "exchangeID", exchangeID, "error", err)
		return
	}

	p.logger.Warnw("exchange failed", "conversationID", conversationID, "exchangeID", exchangeID, "kind", kind, "reason", message)
	p.publish(conversationID, exchangeID, kind, string(conversation.ExchangeFailed), message)
}

// GetConversation loads one conversation with its exchanges.
func (p *Pipeline) GetConversation(ctx context.Context, conversationID string) (conversation.Conversation, error) {
	return p.store.Get(ctx, conversationID)
}

// ListConversations returns the owner's conversations, most recent
// first.
func (p *Pipeline) ListConversations(ctx context.Context, ownerID string, includeArchived bool) ([]conversation.Conversation, error) {
	return p.store.ListByOwner(ctx, ownerID, includeArchived)
}

// CompleteConversation finalizes a conversation.
func (p *Pipeline) CompleteConversation(ctx context.Context, conversationID string) error {
	return p.store.Update(ctx, conversationID, func(c *conversation.Conversation) error {
		return c.Complete()
	})
}

// ArchiveConversation archives a completed conversation.
func (p *Pipeline) ArchiveConversation(ctx context.Context, conversationID string) error {
	return p.store.Update(ctx, conversationID, func(c *conversation.Conversation) error {
		return c.Archive()
	})
}

// DeleteConversation hard-deletes a conversation and its exchanges.
func (p *Pipeline) DeleteConversation(ctx context.Context, conversationID string) error {
	return p.store.Delete(ctx, conversationID)
}

// Languages lists the provider's dubbing targets.
func (p *Pipeline) Languages(ctx context.Context) ([]dubbing.Language, error) {
	return p.provider.Languages(ctx)
}

// Track selects which side of an exchange to play back.
type Track string

const (
	TrackOriginal   Track = "original"
	TrackTranslated Track = "translated"
)

// OpenExchangeAudio resolves one side of an exchange to playable audio.
// Expired ephemeral references surface as blobstore.ErrExpired so the
// caller can report them gracefully instead of failing the whole
// conversation view.
func (p *Pipeline) OpenExchangeAudio(ctx context.Context, conversationID, exchangeID string, track Track) (blobstore.Audio, error) {
	c, err := p.store.Get(ctx, conversationID)
	if err != nil {
		return blobstore.Audio{}, err
	}

	ex, ok := c.Exchange(exchangeID)
	if !ok {
		return blobstore.Audio{}, conversation.ErrExchangeNotFound
	}

	ref := ex.OriginalAudio
	if track == TrackTranslated {
		ref = ex.TranslatedAudio
	}
	return p.audio.Open(ctx, ref)
}

func (p *Pipeline) acquireJob(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inJob[jobID]; ok {
		return false
	}
	p.inJob[jobID] = struct{}{}
	return true
}

func (p *Pipeline) releaseJob(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inJob, jobID)
}

func (p *Pipeline) publish(conversationID, exchangeID, stage, state, detail string) {
	event := status.ExchangeStatusEvent{
		ConversationID: conversationID,
		ExchangeID:     exchangeID,
		Stage:          stage,
		State:          state,
		Detail:         detail,
		Timestamp:      p.clock.Now().UTC(),
	}
	if err := p.publisher.Publish(p.ctx, event); err != nil {
		p.logger.Errorw("failed to publish status event", "exchangeID", exchangeID, "error", err)
	}
}
