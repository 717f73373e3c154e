// Package eval evaluates a parsed view specification against source topic
// events, producing the derived reference topics. Evaluation is pure with
// respect to the view registry: it reports what reference topics an event
// implies, and the registry reconciles that against what exists.
package eval

import (
	"context"
	"log/slog"

	"github.com/c360/topicviews/pkg/jsonval"
	"github.com/c360/topicviews/store"
	"github.com/c360/topicviews/topic"
	"github.com/c360/topicviews/view"
)

// Derived is one reference topic produced by evaluating a view against a
// source event.
type Derived struct {
	Path       string
	Value      topic.Value
	Properties topic.Properties
}

// Evaluator applies view specifications to source events
type Evaluator struct {
	topics store.TopicStore
	perms  store.PermissionChecker
	logger *slog.Logger
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithLogger sets the evaluator's logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = logger }
}

// New creates an Evaluator. topics resolves insert transformation lookups;
// perms gates which source topics are mapped.
func New(topics store.TopicStore, perms store.PermissionChecker, opts ...Option) *Evaluator {
	e := &Evaluator{
		topics: topics,
		perms:  perms,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate derives the reference topics the spec implies for the event. A
// nil slice means the event derives nothing: the source is unreadable, its
// type is incompatible with the view, or every mapping failed. Removal
// events always derive nothing; the registry reconciles removals against
// its own record of what the source previously derived.
//
// When expansion maps more than one value to the same derived path, only
// the first is kept.
func (e *Evaluator) Evaluate(ctx context.Context, spec *view.Spec, ev topic.SourceEvent) ([]Derived, error) {
	if ev.IsRemoval {
		return nil, nil
	}
	// routing topics are never mapped, whatever the selector says
	if ev.Value.Type == topic.TypeRouting {
		return nil, nil
	}
	if !e.perms.CanReadTopic(ev.Path) {
		return nil, nil
	}
	if spec.RequiresJSONSource() && !ev.Value.IsJSON() {
		return nil, nil
	}

	candidates := e.derive(spec, ev)
	if len(candidates) == 0 {
		return nil, nil
	}

	derived := make([]Derived, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))

	for _, cand := range candidates {
		// the first candidate produced for a path owns it, even when a later
		// transformation step drops that candidate
		if _, dup := seen[cand.path]; dup {
			continue
		}
		seen[cand.path] = struct{}{}

		data, ok := e.transform(ctx, spec, ev, cand.data)
		if !ok {
			continue
		}

		if spec.Options.Value != nil {
			// a miss yields a JSON null value, the topic is still created
			v, ok := spec.Options.Value.Pointer.Resolve(data)
			if !ok {
				v = nil
			}
			data = v
		}

		value := ev.Value
		if ev.Value.IsJSON() {
			value.Data = data
		}

		value, ok = convertValue(value, spec.Options.TargetType)
		if !ok {
			e.logger.Debug("dropped unconvertible mapping",
				"source", ev.Path,
				"derived", cand.path,
				"target_type", spec.Options.TargetType)
			continue
		}

		derived = append(derived, Derived{
			Path:       cand.path,
			Value:      value,
			Properties: topic.DeriveReference(ev.Properties, spec.Options.Properties),
		})
	}
	return derived, nil
}

// transform runs the transformation pipeline over one candidate value.
// Returns false when a transformation drops the mapping.
func (e *Evaluator) transform(ctx context.Context, spec *view.Spec, ev topic.SourceEvent, data any) (any, bool) {
	for _, t := range spec.Transformations {
		var ok bool
		switch tr := t.(type) {
		case view.ProcessTransform:
			data, ok = applyProcess(tr, data)
		case view.PatchTransform:
			data, ok = applyPatch(tr, data)
		case view.InsertTransform:
			data, ok = e.applyInsert(ctx, tr, ev, data, spec.Options.Separator)
		default:
			ok = false
		}
		if !ok {
			return nil, false
		}
	}
	return data, true
}

// resolveScalar resolves a pointer to a scalar within data, applying the
// separator option to any path separators in the resulting text.
func resolveScalar(p jsonval.Pointer, data any, separator string) (string, bool) {
	v, ok := p.Resolve(data)
	if !ok {
		return "", false
	}
	s, ok := jsonval.ScalarString(v)
	if !ok {
		return "", false
	}
	return applySeparator(s, separator), true
}
