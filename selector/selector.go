// Package selector implements topic selector parsing and matching. A
// selector identifies the set of source topics a view applies to.
//
// Supported forms:
//
//	a/b/c      path selector, matches exactly one topic path
//	>a/b/c     explicit path selector, same as above
//	?a/b/      pattern selector, matches strict descendants of the
//	           expression
//	?a/b//     pattern selector, matches the expression and all descendants
//
// Pattern expression segments may use the '*' wildcard to match any single
// path segment.
package selector

import (
	"fmt"
	"strings"

	"github.com/c360/topicviews/errors"
	"github.com/c360/topicviews/topic"
)

// Qualifier controls how a pattern treats descendants of the matched path
type Qualifier int

const (
	// QualifierNone matches the expression path only
	QualifierNone Qualifier = iota
	// QualifierDescendants matches strict descendants of the expression path
	QualifierDescendants
	// QualifierSelfAndDescendants matches the expression path and all descendants
	QualifierSelfAndDescendants
)

// Selector is a parsed, immutable topic selector
type Selector struct {
	expression string
	segments   []string
	qualifier  Qualifier
	pattern    bool
}

// Parse parses a selector expression
func Parse(expr string) (*Selector, error) {
	if expr == "" {
		return nil, errors.WrapInvalid(
			errors.ErrInvalidSpecification, "Selector", "Parse", "empty selector")
	}

	original := expr
	pattern := false

	switch expr[0] {
	case '?':
		pattern = true
		expr = expr[1:]
	case '>':
		expr = expr[1:]
	}

	qualifier := QualifierNone
	if pattern {
		switch {
		case strings.HasSuffix(expr, "//"):
			qualifier = QualifierSelfAndDescendants
			expr = strings.TrimSuffix(expr, "//")
		case strings.HasSuffix(expr, "/"):
			qualifier = QualifierDescendants
			expr = strings.TrimSuffix(expr, "/")
		}
	}

	if !topic.ValidPath(expr) {
		return nil, errors.WrapInvalid(
			errors.ErrInvalidSpecification, "Selector", "Parse",
			fmt.Sprintf("malformed selector path %q", original))
	}

	return &Selector{
		expression: original,
		segments:   topic.SplitPath(expr),
		qualifier:  qualifier,
		pattern:    pattern,
	}, nil
}

// String returns the original selector expression
func (s *Selector) String() string {
	return s.expression
}

// Matches reports whether a topic path is selected
func (s *Selector) Matches(path string) bool {
	segments := topic.SplitPath(path)

	if !s.pattern || s.qualifier == QualifierNone {
		return s.matchSegments(segments, true)
	}

	switch s.qualifier {
	case QualifierDescendants:
		return len(segments) > len(s.segments) && s.matchSegments(segments, false)
	case QualifierSelfAndDescendants:
		return len(segments) >= len(s.segments) && s.matchSegments(segments, false)
	default:
		return false
	}
}

// matchSegments matches the expression segments against the start of the
// path segments. If exact is set the lengths must agree.
func (s *Selector) matchSegments(segments []string, exact bool) bool {
	if exact && len(segments) != len(s.segments) {
		return false
	}
	if len(segments) < len(s.segments) {
		return false
	}
	for i, want := range s.segments {
		if s.pattern && want == "*" {
			continue
		}
		if segments[i] != want {
			return false
		}
	}
	return true
}

// PathPrefix returns the longest literal path prefix of the selector. The
// registry uses it to route source events to candidate views cheaply.
func (s *Selector) PathPrefix() string {
	var prefix []string
	for _, seg := range s.segments {
		if s.pattern && seg == "*" {
			break
		}
		prefix = append(prefix, seg)
	}
	return topic.JoinPath(prefix...)
}
