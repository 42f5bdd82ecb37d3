package di

import (
	"go.uber.org/zap"

	"github.com/nimaibhat/medimoji-sub000/blobstore"
	"github.com/nimaibhat/medimoji-sub000/conversation"
	"github.com/nimaibhat/medimoji-sub000/dubbing"
	"github.com/nimaibhat/medimoji-sub000/pipeline"
	"github.com/nimaibhat/medimoji-sub000/playback"
	"github.com/nimaibhat/medimoji-sub000/status"
)

// Container holds all service dependencies for the dubbing pipeline.
// It enables dependency injection for both production and test environments.
type Container struct {
	Provider  dubbing.Provider
	Store     pipeline.ConversationStore
	Audio     *blobstore.AudioStore
	Publisher status.Publisher
	Player    *playback.Player
	Logger    *zap.SugaredLogger
	Pipeline  *pipeline.Pipeline

	cfg *pipeline.Config
}

// ContainerOption configures a container during construction.
type ContainerOption func(*Container)

// WithProvider sets the dubbing provider implementation.
func WithProvider(p dubbing.Provider) ContainerOption {
	return func(c *Container) { c.Provider = p }
}

// WithStore sets the conversation store implementation.
func WithStore(s pipeline.ConversationStore) ContainerOption {
	return func(c *Container) { c.Store = s }
}

// WithAudio sets the audio store implementation.
func WithAudio(a *blobstore.AudioStore) ContainerOption {
	return func(c *Container) { c.Audio = a }
}

// WithPublisher sets the status publisher implementation.
func WithPublisher(p status.Publisher) ContainerOption {
	return func(c *Container) { c.Publisher = p }
}

// WithLogger sets the logger used by the pipeline.
func WithLogger(l *zap.SugaredLogger) ContainerOption {
	return func(c *Container) { c.Logger = l }
}

// WithPipelineConfig builds the pipeline with the given configuration
// instead of the defaults.
func WithPipelineConfig(cfg *pipeline.Config) ContainerOption {
	return func(c *Container) { c.cfg = cfg }
}

// NewContainer creates a container with the given options. Components
// not set by an option fall back to in-process defaults, so callers
// only override what their environment replaces.
func NewContainer(opts ...ContainerOption) *Container {
	c := &Container{}
	for _, opt := range opts {
		opt(c)
	}

	if c.Provider == nil {
		c.Provider = dubbing.NewStubProvider(nil)
	}
	if c.Store == nil {
		c.Store = conversation.NewMemoryStore()
	}
	if c.Audio == nil {
		c.Audio = blobstore.NewAudioStore(blobstore.NewMemoryStore(), blobstore.NewSessionCache())
	}
	if c.Publisher == nil {
		c.Publisher = status.NopPublisher{}
	}
	if c.Player == nil {
		c.Player = playback.NewPlayer()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	if c.Pipeline == nil {
		c.Pipeline = pipeline.New(c.Provider, c.Store, c.Audio, c.Publisher, c.Logger, c.cfg)
	}
	return c
}

// NewTestContainer creates a container with all stub implementations
// for testing without external dependencies.
func NewTestContainer() *Container {
	return NewContainer()
}
