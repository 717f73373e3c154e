// Package topic contains shared domain types used across the topicviews
// platform: topic types, values, properties, paths, and source topic events.
package topic

import (
	"strings"

	"github.com/google/uuid"
)

// Type represents the data type of a topic
type Type string

// Topic type constants
const (
	TypeJSON       Type = "JSON"
	TypeString     Type = "STRING"
	TypeInt64      Type = "INT64"
	TypeDouble     Type = "DOUBLE"
	TypeBinary     Type = "BINARY"
	TypeTimeSeries Type = "TIME_SERIES"
	TypeRouting    Type = "ROUTING"
)

// String implements fmt.Stringer for Type
func (t Type) String() string {
	return string(t)
}

// ParseType parses a case-insensitive topic type name. The second return
// value reports whether the name is a known type.
func ParseType(s string) (Type, bool) {
	switch Type(strings.ToUpper(s)) {
	case TypeJSON:
		return TypeJSON, true
	case TypeString:
		return TypeString, true
	case TypeInt64:
		return TypeInt64, true
	case TypeDouble:
		return TypeDouble, true
	case TypeBinary:
		return TypeBinary, true
	case TypeTimeSeries:
		return TypeTimeSeries, true
	case TypeRouting:
		return TypeRouting, true
	default:
		return "", false
	}
}

// Value is the current value of a topic.
//
// Data holds the native representation for the topic type:
//
//	JSON        any (nil, bool, string, int64/float64, []any, map[string]any)
//	STRING      string
//	INT64       int64
//	DOUBLE      float64
//	BINARY      []byte
//	TIME_SERIES the latest event value, typed per EventType
type Value struct {
	Type Type `json:"type"`
	Data any  `json:"data"`

	// EventType is the event value type of a TIME_SERIES topic. Unset for
	// other topic types.
	EventType Type `json:"event_type,omitempty"`
}

// EffectiveType returns the type that governs value semantics: the event
// value type for time series topics, the topic type otherwise.
func (v Value) EffectiveType() Type {
	if v.Type == TypeTimeSeries && v.EventType != "" {
		return v.EventType
	}
	return v.Type
}

// IsJSON reports whether the value carries JSON data, directly or as the
// event type of a time series.
func (v Value) IsJSON() bool {
	return v.EffectiveType() == TypeJSON
}

// SourceEvent describes a create, update, or removal of a source topic.
// It is immutable for the duration of one evaluation pass.
type SourceEvent struct {
	ID         string     `json:"id"`
	Path       string     `json:"path"`
	Type       Type       `json:"type"`
	Value      Value      `json:"value"`
	IsRemoval  bool       `json:"is_removal"`
	Properties Properties `json:"properties,omitempty"`

	// RemoteServer names the remote server the event originated from, empty
	// for local source topics.
	RemoteServer string `json:"remote_server,omitempty"`
}

// NewSourceEvent creates a source event with a fresh event ID
func NewSourceEvent(path string, typ Type, value Value) SourceEvent {
	return SourceEvent{
		ID:    uuid.NewString(),
		Path:  path,
		Type:  typ,
		Value: value,
	}
}

// NewRemovalEvent creates a source removal event with a fresh event ID
func NewRemovalEvent(path string, typ Type) SourceEvent {
	return SourceEvent{
		ID:        uuid.NewString(),
		Path:      path,
		Type:      typ,
		IsRemoval: true,
	}
}

// PathSeparator is the structural topic path separator
const PathSeparator = "/"

// SplitPath splits a topic path into its segments. Empty paths yield an
// empty slice.
func SplitPath(path string) []string {
	path = strings.Trim(path, PathSeparator)
	if path == "" {
		return nil
	}
	return strings.Split(path, PathSeparator)
}

// JoinPath joins path segments with the structural separator
func JoinPath(segments ...string) string {
	return strings.Join(segments, PathSeparator)
}

// ValidPath reports whether a path is non-empty and has no empty segments
func ValidPath(path string) bool {
	if path == "" {
		return false
	}
	for _, seg := range strings.Split(path, PathSeparator) {
		if seg == "" {
			return false
		}
	}
	return true
}
