package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/time/rate"

	"github.com/c360/topicviews/errors"
	"github.com/c360/topicviews/topic"
)

// Reference event kinds published by NATSSink
const (
	RefEventCreated = "created"
	RefEventUpdated = "updated"
	RefEventRemoved = "removed"
)

// ReferenceEvent is the wire form of a reference topic change
type ReferenceEvent struct {
	Kind       string           `json:"kind"`
	Path       string           `json:"path"`
	Type       topic.Type       `json:"type,omitempty"`
	Value      *topic.Value     `json:"value,omitempty"`
	Properties topic.Properties `json:"properties,omitempty"`
}

// NATSSink publishes reference topic changes to JetStream subjects under a
// configurable prefix, one subject token per path segment.
type NATSSink struct {
	js      jetstream.JetStream
	prefix  string
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NATSSinkOption configures a NATSSink
type NATSSinkOption func(*NATSSink)

// WithSubjectPrefix overrides the default "topicviews.reference" prefix
func WithSubjectPrefix(prefix string) NATSSinkOption {
	return func(s *NATSSink) { s.prefix = prefix }
}

// WithPublishRateLimit caps outbound publishes. Zero limit means unlimited.
func WithPublishRateLimit(limit rate.Limit, burst int) NATSSinkOption {
	return func(s *NATSSink) {
		if limit > 0 {
			s.limiter = rate.NewLimiter(limit, burst)
		}
	}
}

// WithSinkLogger sets the sink's logger
func WithSinkLogger(logger *slog.Logger) NATSSinkOption {
	return func(s *NATSSink) { s.logger = logger }
}

// NewNATSSink creates a reference sink publishing through js
func NewNATSSink(js jetstream.JetStream, opts ...NATSSinkOption) *NATSSink {
	s := &NATSSink{
		js:     js,
		prefix: "topicviews.reference",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubjectFor maps a topic path to the sink's NATS subject. Path segments
// become subject tokens; characters NATS reserves are replaced with '_'.
func (s *NATSSink) SubjectFor(path string) string {
	segments := topic.SplitPath(path)
	tokens := make([]string, len(segments))
	for i, seg := range segments {
		tokens[i] = sanitizeToken(seg)
	}
	return s.prefix + "." + strings.Join(tokens, ".")
}

func sanitizeToken(seg string) string {
	if seg == "" {
		return "_"
	}
	var b strings.Builder
	for _, r := range seg {
		switch r {
		case '.', '*', '>', ' ', '\t':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (s *NATSSink) publish(ctx context.Context, ev ReferenceEvent) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return errors.WrapTransient(err, "NATSSink", "publish", "rate limit wait")
		}
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return errors.WrapInvalid(err, "NATSSink", "publish", "encode reference event")
	}

	subject := s.SubjectFor(ev.Path)
	if _, err := s.js.Publish(ctx, subject, data); err != nil {
		return errors.WrapTransient(err, "NATSSink", "publish", "publish to "+subject)
	}

	s.logger.Debug("published reference event",
		"kind", ev.Kind,
		"path", ev.Path,
		"subject", subject)
	return nil
}

// Create implements ReferenceSink
func (s *NATSSink) Create(ctx context.Context, path string, typ topic.Type, props topic.Properties) error {
	return s.publish(ctx, ReferenceEvent{
		Kind:       RefEventCreated,
		Path:       path,
		Type:       typ,
		Properties: props,
	})
}

// Publish implements ReferenceSink
func (s *NATSSink) Publish(ctx context.Context, path string, value topic.Value) error {
	return s.publish(ctx, ReferenceEvent{
		Kind:  RefEventUpdated,
		Path:  path,
		Type:  value.Type,
		Value: &value,
	})
}

// Remove implements ReferenceSink
func (s *NATSSink) Remove(ctx context.Context, path string) error {
	return s.publish(ctx, ReferenceEvent{
		Kind: RefEventRemoved,
		Path: path,
	})
}
