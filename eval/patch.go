package eval

import (
	"github.com/c360/topicviews/pkg/jsonval"
	"github.com/c360/topicviews/view"
)

// applyPatch applies a JSON patch transformation atomically: either every
// operation succeeds and the patched value flows on, or the mapping is
// dropped. Patches apply only to JSON arrays and objects.
func applyPatch(pt view.PatchTransform, data any) (any, bool) {
	switch data.(type) {
	case map[string]any, []any:
	default:
		return nil, false
	}

	result := jsonval.DeepCopy(data)
	for _, op := range pt.Ops {
		next, ok := applyPatchOp(result, op)
		if !ok {
			return nil, false
		}
		result = next
	}
	return result, true
}

func applyPatchOp(doc any, op view.PatchOp) (any, bool) {
	switch op.Op {
	case "add":
		next, err := jsonval.Add(doc, op.Path, jsonval.DeepCopy(op.Value))
		return next, err == nil

	case "remove":
		next, err := jsonval.Remove(doc, op.Path)
		return next, err == nil

	case "replace":
		next, err := jsonval.Replace(doc, op.Path, jsonval.DeepCopy(op.Value))
		return next, err == nil

	case "move":
		v, ok := op.From.Resolve(doc)
		if !ok {
			return nil, false
		}
		moved := jsonval.DeepCopy(v)
		next, err := jsonval.Remove(doc, op.From)
		if err != nil {
			return nil, false
		}
		next, err = jsonval.Add(next, op.Path, moved)
		return next, err == nil

	case "copy":
		v, ok := op.From.Resolve(doc)
		if !ok {
			return nil, false
		}
		next, err := jsonval.Add(doc, op.Path, jsonval.DeepCopy(v))
		return next, err == nil

	case "test":
		// byte-for-byte comparison of the canonical encodings
		v, ok := op.Path.Resolve(doc)
		if !ok {
			return nil, false
		}
		return doc, jsonval.CanonicalEqual(v, op.Value)

	default:
		return nil, false
	}
}
