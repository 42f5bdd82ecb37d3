// Package status carries progress events for exchanges moving through
// the dubbing pipeline, so surrounding UI layers can render live state
// without polling the store.
package status

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ExchangeStatusEvent represents a progress update for one exchange.
type ExchangeStatusEvent struct {
	ConversationID string    `json:"conversationId"`
	ExchangeID     string    `json:"exchangeId"`
	Stage          string    `json:"stage"`
	State          string    `json:"state"`
	Detail         string    `json:"detail,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Publisher delivers status events to interested subscribers.
type Publisher interface {
	Publish(ctx context.Context, event ExchangeStatusEvent) error
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish discards the event.
func (NopPublisher) Publish(context.Context, ExchangeStatusEvent) error { return nil }

// LogPublisher writes events to the structured log.
type LogPublisher struct {
	logger *zap.SugaredLogger
}

// NewLogPublisher creates a publisher backed by the given logger.
func NewLogPublisher(logger *zap.SugaredLogger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the event with key-value context.
func (p *LogPublisher) Publish(_ context.Context, event ExchangeStatusEvent) error {
	p.logger.Infow("exchange status",
		"conversationID", event.ConversationID,
		"exchangeID", event.ExchangeID,
		"stage", event.Stage,
		"state", event.State,
		"detail", event.Detail,
	)
	return nil
}

// Broadcaster fans events out to in-process subscribers. Slow
// subscribers drop events rather than blocking the pipeline.
type Broadcaster struct {
	mu   sync.Mutex
	next int
	subs map[int]chan ExchangeStatusEvent
}

// NewBroadcaster creates a broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan ExchangeStatusEvent)}
}

// Subscribe registers a buffered subscription. The returned cancel
// function removes the subscription and closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan ExchangeStatusEvent, func()) {
	if buffer <= 0 {
		buffer = 8
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	id := b.next
	ch := make(chan ExchangeStatusEvent, buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking.
func (b *Broadcaster) Publish(_ context.Context, event ExchangeStatusEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		select {
		case sub <- event:
		default:
		}
	}
	return nil
}

// Combine fans a single Publish out to several publishers. The first
// error wins but every publisher still sees the event.
func Combine(publishers ...Publisher) Publisher {
	return multiPublisher(publishers)
}

type multiPublisher []Publisher

func (m multiPublisher) Publish(ctx context.Context, event ExchangeStatusEvent) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
