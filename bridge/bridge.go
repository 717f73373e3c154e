// Package bridge connects NATS to the view registry: it consumes source
// topic events and remote server state changes from configured subjects and
// drives them through the registry on a worker pool.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/topicviews/errors"
	"github.com/c360/topicviews/metric"
	"github.com/c360/topicviews/pkg/worker"
	"github.com/c360/topicviews/registry"
	"github.com/c360/topicviews/store"
	"github.com/c360/topicviews/topic"
)

// Subscriber is the slice of the NATS client the bridge needs
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error
}

// Config holds bridge configuration
type Config struct {
	// SourceSubject carries source topic events (default: "topicviews.source.>")
	SourceSubject string `json:"source_subject,omitempty"`

	// ServerSubject carries remote server state changes
	// (default: "topicviews.server.state")
	ServerSubject string `json:"server_subject,omitempty"`

	// QueueSize is the event queue capacity (default: 1024). Events that
	// arrive while the queue is full are dropped.
	QueueSize int `json:"queue_size,omitempty"`
}

// Validate applies defaults and checks the configuration
func (c *Config) Validate() error {
	if c.SourceSubject == "" {
		c.SourceSubject = "topicviews.source.>"
	}
	if c.ServerSubject == "" {
		c.ServerSubject = "topicviews.server.state"
	}
	if c.QueueSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("queue_size cannot be negative, got %d", c.QueueSize))
	}
	if c.QueueSize == 0 {
		c.QueueSize = 1024
	}
	return nil
}

// serverStateMessage is the wire form of a remote server state change
type serverStateMessage struct {
	Server    string `json:"server"`
	Connected bool   `json:"connected"`
}

// Bridge feeds decoded NATS messages into the registry
type Bridge struct {
	config   Config
	client   Subscriber
	registry *registry.Registry
	topics   *store.MemoryTopicStore
	logger   *slog.Logger

	// Source events run through a single worker: view evaluation depends on
	// update order per topic, and one lane keeps arrival order intact.
	pool *worker.Pool[topic.SourceEvent]
}

// Option configures a Bridge
type Option func(*Bridge)

// WithLogger sets the bridge's logger
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// WithTopicStore keeps the given topic store current with incoming source
// events so insert transformations can resolve their insertion topics.
func WithTopicStore(topics *store.MemoryTopicStore) Option {
	return func(b *Bridge) { b.topics = topics }
}

// New creates a Bridge consuming through client into reg
func New(client Subscriber, reg *registry.Registry, config Config, opts ...Option) (*Bridge, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Bridge", "New",
			"registry is required")
	}

	b := &Bridge{
		config:   config,
		client:   client,
		registry: reg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// WithMetrics registers the event pool's metrics with the given registry.
// Must be applied before Start.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(b *Bridge) {
		if registry == nil {
			return
		}
		b.pool = worker.NewPool(1, b.config.QueueSize, b.process,
			worker.WithMetricsRegistry[topic.SourceEvent](registry, "bridge_events"))
	}
}

func (b *Bridge) process(ctx context.Context, ev topic.SourceEvent) error {
	// Topic store first so insert lookups during evaluation see this event
	if b.topics != nil && ev.RemoteServer == "" {
		b.topics.Apply(ev)
	}
	b.registry.HandleEvent(ctx, ev)
	return nil
}

// Start subscribes to the configured subjects and begins processing
func (b *Bridge) Start(ctx context.Context) error {
	if b.pool == nil {
		b.pool = worker.NewPool(1, b.config.QueueSize, b.process)
	}
	if err := b.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "Bridge", "Start", "start event pool")
	}

	if b.client != nil {
		if err := b.client.Subscribe(ctx, b.config.SourceSubject, b.HandleSourceMessage); err != nil {
			return err
		}
		if err := b.client.Subscribe(ctx, b.config.ServerSubject, b.HandleServerMessage); err != nil {
			return err
		}
		b.logger.Info("bridge started",
			"source_subject", b.config.SourceSubject,
			"server_subject", b.config.ServerSubject)
	}
	return nil
}

// Stop drains the event pool
func (b *Bridge) Stop(timeout time.Duration) error {
	if b.pool == nil {
		return nil
	}
	return b.pool.Stop(timeout)
}

// Stats returns the event pool's statistics
func (b *Bridge) Stats() worker.PoolStats {
	if b.pool == nil {
		return worker.PoolStats{}
	}
	return b.pool.Stats()
}

// HandleSourceMessage decodes a source topic event and queues it for the
// registry. Undecodable messages are logged and dropped.
func (b *Bridge) HandleSourceMessage(_ context.Context, data []byte) {
	var ev topic.SourceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		b.logger.Warn("dropping undecodable source event", "error", err)
		return
	}
	if !topic.ValidPath(ev.Path) {
		b.logger.Warn("dropping source event with invalid path", "path", ev.Path)
		return
	}

	if err := b.pool.Submit(ev); err != nil {
		b.logger.Error("dropping source event", "path", ev.Path, "error", err)
	}
}

// HandleServerMessage decodes a remote server state change and applies it
// immediately; server state is not ordered against source events.
func (b *Bridge) HandleServerMessage(ctx context.Context, data []byte) {
	var msg serverStateMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		b.logger.Warn("dropping undecodable server state message", "error", err)
		return
	}
	if msg.Server == "" {
		b.logger.Warn("dropping server state message without server name")
		return
	}
	b.registry.SetServerState(ctx, msg.Server, msg.Connected)
}
