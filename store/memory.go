package store

import (
	"context"
	"sort"
	"sync"

	"github.com/c360/topicviews/errors"
	"github.com/c360/topicviews/topic"
)

// MemoryTopicStore is an in-memory TopicStore. It doubles as a source topic
// simulator: Set and Remove produce source events on the Events channel.
type MemoryTopicStore struct {
	mu     sync.RWMutex
	topics map[string]memoryTopic
	events chan topic.SourceEvent
}

type memoryTopic struct {
	value topic.Value
	props topic.Properties
}

// NewMemoryTopicStore creates an empty in-memory topic store
func NewMemoryTopicStore() *MemoryTopicStore {
	return &MemoryTopicStore{
		topics: make(map[string]memoryTopic),
		events: make(chan topic.SourceEvent, 256),
	}
}

// Value implements TopicStore
func (s *MemoryTopicStore) Value(_ context.Context, path string) (topic.Value, topic.Properties, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.topics[path]
	if !ok {
		return topic.Value{}, nil, errors.Wrap(
			errors.ErrTopicNotFound, "MemoryTopicStore", "Value", "lookup "+path)
	}
	return t.value, t.props, nil
}

// Set stores a topic value and emits the corresponding source event
func (s *MemoryTopicStore) Set(path string, value topic.Value, props topic.Properties) topic.SourceEvent {
	s.mu.Lock()
	s.topics[path] = memoryTopic{value: value, props: props}
	s.mu.Unlock()

	ev := topic.NewSourceEvent(path, value.Type, value)
	ev.Properties = props
	s.events <- ev
	return ev
}

// Remove deletes a topic and emits a removal event. Removing an absent path
// emits nothing.
func (s *MemoryTopicStore) Remove(path string) (topic.SourceEvent, bool) {
	s.mu.Lock()
	t, ok := s.topics[path]
	if ok {
		delete(s.topics, path)
	}
	s.mu.Unlock()

	if !ok {
		return topic.SourceEvent{}, false
	}
	ev := topic.NewRemovalEvent(path, t.value.Type)
	s.events <- ev
	return ev, true
}

// Apply updates the store from an externally sourced event without emitting
// on the Events channel. Removal events delete the topic.
func (s *MemoryTopicStore) Apply(ev topic.SourceEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.IsRemoval {
		delete(s.topics, ev.Path)
		return
	}
	s.topics[ev.Path] = memoryTopic{value: ev.Value, props: ev.Properties}
}

// Paths returns all stored topic paths in lexicographic order
func (s *MemoryTopicStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]string, 0, len(s.topics))
	for p := range s.topics {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Events returns the source event stream fed by Set and Remove
func (s *MemoryTopicStore) Events() <-chan topic.SourceEvent {
	return s.events
}

// RefTopic is the observable state of a reference topic held by a
// MemorySink.
type RefTopic struct {
	Type       topic.Type
	Properties topic.Properties
	Value      topic.Value
	HasValue   bool

	// Events accumulates published values for TIME_SERIES reference topics
	Events []topic.Value
}

// MemorySink is an in-memory ReferenceSink for tests
type MemorySink struct {
	mu     sync.RWMutex
	topics map[string]*RefTopic
}

// NewMemorySink creates an empty in-memory reference sink
func NewMemorySink() *MemorySink {
	return &MemorySink{topics: make(map[string]*RefTopic)}
}

// Create implements ReferenceSink
func (s *MemorySink) Create(_ context.Context, path string, typ topic.Type, props topic.Properties) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.topics[path]; ok {
		return errors.Wrap(errors.ErrPathBound, "MemorySink", "Create", "bind "+path)
	}
	s.topics[path] = &RefTopic{Type: typ, Properties: props}
	return nil
}

// Publish implements ReferenceSink
func (s *MemorySink) Publish(_ context.Context, path string, value topic.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.topics[path]
	if !ok {
		return errors.Wrap(errors.ErrTopicNotFound, "MemorySink", "Publish", "publish to "+path)
	}
	t.Value = value
	t.HasValue = true
	if t.Type == topic.TypeTimeSeries {
		t.Events = append(t.Events, value)
	}
	return nil
}

// Remove implements ReferenceSink
func (s *MemorySink) Remove(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.topics, path)
	return nil
}

// Topic returns the reference topic at path, if bound
func (s *MemorySink) Topic(path string) (RefTopic, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.topics[path]
	if !ok {
		return RefTopic{}, false
	}
	cp := *t
	cp.Events = append([]topic.Value(nil), t.Events...)
	return cp, true
}

// Paths returns all bound reference paths in lexicographic order
func (s *MemorySink) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]string, 0, len(s.topics))
	for p := range s.topics {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// AllowAll is a PermissionChecker that permits everything
type AllowAll struct{}

// CanReadTopic implements PermissionChecker
func (AllowAll) CanReadTopic(string) bool { return true }

// CanModifyTopic implements PermissionChecker
func (AllowAll) CanModifyTopic(string) bool { return true }

// PathPermissions is a PermissionChecker backed by explicit deny lists,
// keyed by path prefix.
type PathPermissions struct {
	DenyRead   []string
	DenyModify []string
}

// CanReadTopic implements PermissionChecker
func (p PathPermissions) CanReadTopic(path string) bool {
	return !hasAnyPrefix(path, p.DenyRead)
}

// CanModifyTopic implements PermissionChecker
func (p PathPermissions) CanModifyTopic(path string) bool {
	return !hasAnyPrefix(path, p.DenyModify)
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if path == prefix {
			return true
		}
		if len(path) > len(prefix) && path[:len(prefix)] == prefix &&
			path[len(prefix)] == '/' {
			return true
		}
	}
	return false
}

// MemoryViewStore is an in-memory ViewStore for tests
type MemoryViewStore struct {
	mu      sync.RWMutex
	records map[string]ViewRecord
}

// NewMemoryViewStore creates an empty in-memory view store
func NewMemoryViewStore() *MemoryViewStore {
	return &MemoryViewStore{records: make(map[string]ViewRecord)}
}

// Save implements ViewStore
func (s *MemoryViewStore) Save(_ context.Context, rec ViewRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Name] = rec
	return nil
}

// Load implements ViewStore
func (s *MemoryViewStore) Load(_ context.Context) ([]ViewRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]ViewRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Sequence < records[j].Sequence })
	return records, nil
}

// Delete implements ViewStore
func (s *MemoryViewStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[name]; !ok {
		return errors.Wrap(errors.ErrViewNotFound, "MemoryViewStore", "Delete", "delete "+name)
	}
	delete(s.records, name)
	return nil
}
