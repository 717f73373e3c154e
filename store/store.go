// Package store defines the storage and transport boundaries of the view
// engine: source topic lookup, reference topic output, permission checks, and
// view persistence. In-memory implementations back tests; NATS JetStream
// implementations back deployments.
package store

import (
	"context"

	"github.com/c360/topicviews/topic"
)

// TopicStore gives read access to current source topic values. Insert
// transformations resolve their insertion topics through it.
type TopicStore interface {
	// Value returns the current value and properties of the topic at path.
	// Returns errors.ErrTopicNotFound when no such topic exists.
	Value(ctx context.Context, path string) (topic.Value, topic.Properties, error)
}

// ReferenceSink receives the reference topics a view maintains. Implementations
// must be safe for concurrent use.
type ReferenceSink interface {
	// Create binds a reference topic at path with the given type and
	// properties. Returns errors.ErrPathBound if the path is already taken.
	Create(ctx context.Context, path string, typ topic.Type, props topic.Properties) error

	// Publish sets the current value of the reference topic at path. For
	// TIME_SERIES reference topics each publish appends an event.
	Publish(ctx context.Context, path string, value topic.Value) error

	// Remove unbinds the reference topic at path. Removing an unbound path
	// is not an error.
	Remove(ctx context.Context, path string) error
}

// PermissionChecker gates view evaluation by path. A view only maps source
// topics its principal can read, and only creates reference topics its
// principal can modify.
type PermissionChecker interface {
	CanReadTopic(path string) bool
	CanModifyTopic(path string) bool
}

// ViewRecord is a persisted view definition. Sequence is the creation order
// used for precedence between views deriving the same reference path.
type ViewRecord struct {
	Name     string `json:"name"`
	Spec     string `json:"spec"`
	Sequence uint64 `json:"sequence"`
}

// ViewStore persists view definitions across restarts
type ViewStore interface {
	// Save creates or replaces the record for rec.Name
	Save(ctx context.Context, rec ViewRecord) error

	// Load returns all persisted records ordered by Sequence
	Load(ctx context.Context) ([]ViewRecord, error)

	// Delete removes the record for name. Returns errors.ErrViewNotFound
	// when no such record exists.
	Delete(ctx context.Context, name string) error
}
