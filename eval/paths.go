package eval

import (
	"sort"
	"strconv"
	"strings"

	"github.com/c360/topicviews/topic"
	"github.com/c360/topicviews/view"
)

// candidate is an intermediate derived mapping: a (possibly partial)
// reference path and the current value flowing through the directive chain.
type candidate struct {
	path string
	data any
}

// derive walks the path template left to right. Literals and path directives
// extend every candidate; scalar directives extend or drop candidates; expand
// directives fork one candidate per child value.
func (e *Evaluator) derive(spec *view.Spec, ev topic.SourceEvent) []candidate {
	states := []candidate{{data: ev.Value.Data}}
	sep := spec.Options.Separator

	for _, d := range spec.PathTemplate {
		switch d.Kind {
		case view.DirectiveLiteral:
			for i := range states {
				states[i].path += d.Text
			}

		case view.DirectivePath:
			frag, ok := sourcePathFragment(ev.Path, d)
			if !ok {
				return nil
			}
			for i := range states {
				states[i].path += frag
			}

		case view.DirectiveScalar:
			next := states[:0]
			for _, st := range states {
				frag, ok := resolveScalar(d.Pointer, st.data, sep)
				if !ok {
					continue
				}
				st.path += frag
				next = append(next, st)
			}
			states = next

		case view.DirectiveExpand:
			var next []candidate
			for _, st := range states {
				next = append(next, expand(st, d, sep)...)
			}
			states = next
		}

		if len(states) == 0 {
			return nil
		}
	}

	valid := states[:0]
	for _, st := range states {
		if topic.ValidPath(st.path) {
			valid = append(valid, st)
		}
	}
	return valid
}

// sourcePathFragment extracts the source path segments a path directive
// selects. An empty selection fails the whole mapping.
func sourcePathFragment(sourcePath string, d view.Directive) (string, bool) {
	segments := topic.SplitPath(sourcePath)
	if d.Start >= len(segments) {
		return "", false
	}
	end := len(segments)
	if d.Count >= 0 && d.Start+d.Count < end {
		end = d.Start + d.Count
	}
	selected := segments[d.Start:end]
	if len(selected) == 0 {
		return "", false
	}
	return topic.JoinPath(selected...), true
}

// expand forks a candidate per direct child of the expansion root. Object
// children contribute their key as the path fragment, array children their
// index, unless a label pointer selects a scalar within the child. A scalar
// root expands to a single candidate with no path fragment.
func expand(st candidate, d view.Directive, separator string) []candidate {
	root := st.data
	if len(d.RootPointer) > 0 {
		v, ok := d.RootPointer.Resolve(st.data)
		if !ok {
			return nil
		}
		root = v
	}

	switch rv := root.(type) {
	case map[string]any:
		keys := make([]string, 0, len(rv))
		for k := range rv {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := make([]candidate, 0, len(keys))
		for _, k := range keys {
			child := rv[k]
			frag := applySeparator(k, separator)
			if d.HasLabel {
				if label, ok := resolveScalar(d.LabelPointer, child, separator); ok {
					frag = label
				}
			}
			out = append(out, candidate{path: st.path + frag, data: child})
		}
		return out

	case []any:
		out := make([]candidate, 0, len(rv))
		for i, child := range rv {
			frag := strconv.Itoa(i)
			if d.HasLabel {
				if label, ok := resolveScalar(d.LabelPointer, child, separator); ok {
					frag = label
				}
			}
			out = append(out, candidate{path: st.path + frag, data: child})
		}
		return out

	default:
		// scalar roots expand once, adding nothing to the path
		return []candidate{{path: st.path, data: root}}
	}
}

// applySeparator replaces structural separators in extracted text with the
// view's separator option. Without the option the separators stand and
// introduce extra path levels.
func applySeparator(text, separator string) string {
	if separator == "" {
		return text
	}
	return strings.ReplaceAll(text, topic.PathSeparator, separator)
}
