// Package conversation models a clinical interpretation session: an
// ordered sequence of exchanges (one recorded utterance plus its dubbed
// counterpart) grouped under patient and visit metadata.
package conversation

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nimaibhat/medimoji-sub000/audioref"
)

// Status is the lifecycle state of a conversation. Transitions only
// move forward: active → completed → archived.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// ExchangeStatus is the lifecycle state of one exchange. Completed and
// failed are terminal and never change afterwards.
type ExchangeStatus string

const (
	ExchangeProcessing ExchangeStatus = "processing"
	ExchangeCompleted  ExchangeStatus = "completed"
	ExchangeFailed     ExchangeStatus = "failed"
)

// Terminal reports whether the status ends the exchange lifecycle.
func (s ExchangeStatus) Terminal() bool {
	return s == ExchangeCompleted || s == ExchangeFailed
}

// Exchange is one translation round: the clinician's recording and the
// dubbed audio the provider produced for it.
type Exchange struct {
	ID              string         `json:"id"`
	Sequence        int            `json:"sequence"`
	SourceLanguage  string         `json:"sourceLanguage,omitempty"`
	TargetLanguage  string         `json:"targetLanguage"`
	OriginalAudio   audioref.Ref   `json:"originalAudioRef"`
	TranslatedAudio audioref.Ref   `json:"translatedAudioRef"`
	Status          ExchangeStatus `json:"status"`
	ErrorKind       string         `json:"errorKind,omitempty"`
	ErrorMessage    string         `json:"errorMessage,omitempty"`
	DurationSeconds float64        `json:"durationSeconds,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// PatientInfo is visit metadata supplied by the surrounding UI. The
// core treats it as opaque.
type PatientInfo struct {
	Name        string `json:"name"`
	ExternalID  string `json:"externalId,omitempty"`
	VisitReason string `json:"visitReason,omitempty"`
}

// SessionInfo carries statistics derived from the exchange list. It is
// recomputed after every mutation and never edited directly.
type SessionInfo struct {
	StartedAt       time.Time `json:"startedAt"`
	EndedAt         time.Time `json:"endedAt"`
	DurationSeconds float64   `json:"durationSeconds"`
	LanguagePairs   []string  `json:"languagePairs"`
	ExchangeCount   int       `json:"exchangeCount"`
}

// Conversation is the aggregate root owning its exchanges. Exchanges
// are never shared across conversations.
type Conversation struct {
	ID        string      `json:"id"`
	OwnerID   string      `json:"ownerId"`
	Patient   PatientInfo `json:"patientInfo"`
	Exchanges []Exchange  `json:"exchanges"`
	Session   SessionInfo `json:"sessionInfo"`
	Status    Status      `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// New creates an active conversation with zero exchanges.
func New(ownerID string, patient PatientInfo) *Conversation {
	now := time.Now().UTC()
	c := &Conversation{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Patient:   patient,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.Session.StartedAt = now
	c.recomputeSession()
	return c
}

// NewExchange builds a processing exchange for a just-finished
// recording. The sequence is assigned by AppendExchange.
func NewExchange(sourceLanguage, targetLanguage string, original audioref.Ref) Exchange {
	return Exchange{
		ID:             uuid.NewString(),
		SourceLanguage: sourceLanguage,
		TargetLanguage: targetLanguage,
		OriginalAudio:  original,
		Status:         ExchangeProcessing,
		CreatedAt:      time.Now().UTC(),
	}
}

// AppendExchange adds an exchange to the conversation. When the
// exchange carries no sequence it receives the next one; exchanges with
// an explicit sequence are inserted at their recording position, so the
// stored order always matches recording order even when dubbing jobs
// complete out of order.
func (c *Conversation) AppendExchange(ex Exchange) error {
	if c.Status != StatusActive {
		return ErrConversationNotActive
	}
	if ex.ID == "" {
		return ErrExchangeMissingID
	}
	if _, ok := c.findExchange(ex.ID); ok {
		return ErrExchangeExists
	}

	if ex.Sequence == 0 {
		ex.Sequence = c.nextSequence()
	}
	c.Exchanges = append(c.Exchanges, ex)
	sort.SliceStable(c.Exchanges, func(i, j int) bool {
		return c.Exchanges[i].Sequence < c.Exchanges[j].Sequence
	})

	c.touch()
	return nil
}

// CompleteExchange marks an exchange completed with both audio
// references. The translated reference is mandatory: completed without
// translated audio would break the ledger invariant.
func (c *Conversation) CompleteExchange(exchangeID string, original, translated audioref.Ref, durationSeconds float64) error {
	ex, ok := c.findExchange(exchangeID)
	if !ok {
		return ErrExchangeNotFound
	}
	if ex.Status.Terminal() {
		return ErrExchangeTerminal
	}
	if translated.IsZero() {
		return ErrMissingTranslatedAudio
	}

	if !original.IsZero() {
		ex.OriginalAudio = original
	}
	ex.TranslatedAudio = translated
	ex.DurationSeconds = durationSeconds
	ex.Status = ExchangeCompleted
	ex.ErrorKind = ""
	ex.ErrorMessage = ""

	c.touch()
	return nil
}

// FailExchange marks an exchange terminally failed, recording which
// pipeline stage failed and the human-readable message.
func (c *Conversation) FailExchange(exchangeID, kind, message string) error {
	ex, ok := c.findExchange(exchangeID)
	if !ok {
		return ErrExchangeNotFound
	}
	if ex.Status.Terminal() {
		return ErrExchangeTerminal
	}

	ex.Status = ExchangeFailed
	ex.ErrorKind = kind
	ex.ErrorMessage = message
	ex.TranslatedAudio = audioref.Ref{}

	c.touch()
	return nil
}

// Complete finalizes the conversation. At least one exchange must
// exist; an abandoned empty session is cleaned up, not completed.
func (c *Conversation) Complete() error {
	switch c.Status {
	case StatusCompleted, StatusArchived:
		return ErrConversationNotActive
	}
	if len(c.Exchanges) == 0 {
		return ErrNoExchanges
	}

	c.Status = StatusCompleted
	c.Session.EndedAt = time.Now().UTC()
	c.touch()
	return nil
}

// Archive moves a completed conversation to archived. Archiving an
// active conversation is rejected, and a second archive attempt fails
// rather than double-archiving.
func (c *Conversation) Archive() error {
	switch c.Status {
	case StatusActive:
		return ErrArchiveActive
	case StatusArchived:
		return ErrAlreadyArchived
	}

	c.Status = StatusArchived
	c.touch()
	return nil
}

// Exchange returns a copy of the exchange with the given id.
func (c *Conversation) Exchange(exchangeID string) (Exchange, bool) {
	ex, ok := c.findExchange(exchangeID)
	if !ok {
		return Exchange{}, false
	}
	return *ex, true
}

func (c *Conversation) findExchange(exchangeID string) (*Exchange, bool) {
	for i := range c.Exchanges {
		if c.Exchanges[i].ID == exchangeID {
			return &c.Exchanges[i], true
		}
	}
	return nil, false
}

func (c *Conversation) nextSequence() int {
	max := 0
	for i := range c.Exchanges {
		if c.Exchanges[i].Sequence > max {
			max = c.Exchanges[i].Sequence
		}
	}
	return max + 1
}

func (c *Conversation) touch() {
	c.UpdatedAt = time.Now().UTC()
	c.recomputeSession()
}

// recomputeSession derives the session statistics from the exchange
// list. Duration is the sum of known per-exchange durations, falling
// back to the wall-clock span when none are recorded.
func (c *Conversation) recomputeSession() {
	c.Session.ExchangeCount = len(c.Exchanges)

	pairs := make([]string, 0, len(c.Exchanges))
	seen := make(map[string]struct{}, len(c.Exchanges))
	var total float64
	for i := range c.Exchanges {
		ex := &c.Exchanges[i]
		total += ex.DurationSeconds

		source := ex.SourceLanguage
		if source == "" {
			source = "auto"
		}
		pair := source + "→" + ex.TargetLanguage
		if _, ok := seen[pair]; !ok {
			seen[pair] = struct{}{}
			pairs = append(pairs, pair)
		}
	}
	c.Session.LanguagePairs = pairs

	if total > 0 {
		c.Session.DurationSeconds = total
		return
	}

	end := c.Session.EndedAt
	if end.IsZero() {
		end = c.UpdatedAt
	}
	if !end.IsZero() && end.After(c.Session.StartedAt) {
		c.Session.DurationSeconds = end.Sub(c.Session.StartedAt).Seconds()
	} else {
		c.Session.DurationSeconds = 0
	}
}

// RecomputeDerived refreshes the derived session statistics. Stores
// that assemble an aggregate from row data call it after loading.
func (c *Conversation) RecomputeDerived() {
	c.recomputeSession()
}

// Clone returns a deep copy safe to hand across goroutines.
func (c *Conversation) Clone() Conversation {
	out := *c
	out.Exchanges = append([]Exchange(nil), c.Exchanges...)
	out.Session.LanguagePairs = append([]string(nil), c.Session.LanguagePairs...)
	return out
}
