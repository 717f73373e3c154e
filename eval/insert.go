package eval

import (
	"context"

	"github.com/c360/topicviews/pkg/jsonval"
	"github.com/c360/topicviews/topic"
	"github.com/c360/topicviews/view"
)

// applyInsert splices another topic's value into the current value. When the
// insertion value cannot be obtained, the default value is spliced instead;
// without a default the value flows on unchanged. A splice that cannot land
// (absent or incompatible parent) also leaves the value unchanged.
func (e *Evaluator) applyInsert(
	ctx context.Context, it view.InsertTransform,
	ev topic.SourceEvent, data any, separator string,
) (any, bool) {

	insVal, ok := e.insertionValue(ctx, it, ev, data, separator)
	if !ok {
		if !it.HasDefault {
			return data, true
		}
		insVal = it.Default
	}

	result, err := jsonval.Set(jsonval.DeepCopy(data), it.At, insVal)
	if err != nil {
		return data, true
	}
	return result, true
}

// insertionValue resolves the insertion topic path, reads the topic, and
// extracts the keyed portion of its value.
func (e *Evaluator) insertionValue(
	ctx context.Context, it view.InsertTransform,
	ev topic.SourceEvent, data any, separator string,
) (any, bool) {

	path, ok := insertionPath(it.PathTemplate, ev.Path, data, separator)
	if !ok {
		return nil, false
	}
	if !e.perms.CanReadTopic(path) {
		return nil, false
	}

	value, _, err := e.topics.Value(ctx, path)
	if err != nil {
		return nil, false
	}

	var doc any
	switch value.EffectiveType() {
	case topic.TypeJSON, topic.TypeString, topic.TypeInt64, topic.TypeDouble:
		doc = value.Data
	default:
		return nil, false
	}

	if !it.HasFromKey {
		return jsonval.DeepCopy(doc), true
	}
	v, ok := it.FromKey.Resolve(doc)
	if !ok {
		return nil, false
	}
	return jsonval.DeepCopy(v), true
}

// insertionPath renders an insert path template. Path directives index the
// source topic path, scalar directives the current value.
func insertionPath(template []view.Directive, sourcePath string, data any, separator string) (string, bool) {
	var path string
	for _, d := range template {
		switch d.Kind {
		case view.DirectiveLiteral:
			path += d.Text

		case view.DirectivePath:
			frag, ok := sourcePathFragment(sourcePath, d)
			if !ok {
				return "", false
			}
			path += frag

		case view.DirectiveScalar:
			frag, ok := resolveScalar(d.Pointer, data, separator)
			if !ok {
				return "", false
			}
			path += frag

		default:
			return "", false
		}
	}
	if !topic.ValidPath(path) {
		return "", false
	}
	return path, true
}
