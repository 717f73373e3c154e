package jsonval

import (
	"fmt"
	"strconv"

	"github.com/c360/topicviews/errors"
)

// DeepCopy returns a structural copy of a JSON-like value
func DeepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		cp := make(map[string]any, len(val))
		for k, child := range val {
			cp[k] = DeepCopy(child)
		}
		return cp
	case []any:
		cp := make([]any, len(val))
		for i, child := range val {
			cp[i] = DeepCopy(child)
		}
		return cp
	default:
		return val
	}
}

// Set writes a value at the pointer, replacing an existing node or creating
// a new one. The parent of the target must exist and be a compatible
// container. Array targets may replace an existing entry, use an index one
// past the end, or the append token "-". A root pointer replaces the whole
// document. The input document is not modified.
func Set(doc any, p Pointer, value any) (any, error) {
	return mutate(doc, p, value, opSet)
}

// Add applies RFC 6902 "add" semantics: object members are set, array
// entries are inserted, shifting later entries. The input document is not
// modified.
func Add(doc any, p Pointer, value any) (any, error) {
	return mutate(doc, p, value, opAdd)
}

// Replace applies RFC 6902 "replace" semantics: the target must already
// exist. The input document is not modified.
func Replace(doc any, p Pointer, value any) (any, error) {
	return mutate(doc, p, value, opReplace)
}

// Remove deletes the node at the pointer, failing if it is absent. The input
// document is not modified.
func Remove(doc any, p Pointer) (any, error) {
	return mutate(doc, p, nil, opRemove)
}

// RemoveIfPresent deletes the node at the pointer if it exists, returning
// the document unchanged otherwise.
func RemoveIfPresent(doc any, p Pointer) any {
	if _, ok := p.Resolve(doc); !ok {
		return doc
	}
	result, err := Remove(doc, p)
	if err != nil {
		return doc
	}
	return result
}

type mutateOp int

const (
	opSet mutateOp = iota
	opAdd
	opReplace
	opRemove
)

func mutate(doc any, p Pointer, value any, op mutateOp) (any, error) {
	if p.IsRoot() {
		if op == opRemove {
			return nil, errors.WrapInvalid(
				errors.ErrInvalidPointer, "Value", "Remove", "cannot remove document root")
		}
		if op == opReplace {
			if doc == nil {
				return nil, errors.WrapInvalid(
					errors.ErrKeyNotFound, "Value", "Replace", "no root value to replace")
			}
		}
		return DeepCopy(value), nil
	}

	copied := DeepCopy(doc)
	parentPtr, leaf, _ := p.Parent()

	parent, ok := parentPtr.Resolve(copied)
	if !ok {
		return nil, errors.WrapInvalid(
			errors.ErrKeyNotFound, "Value", "Mutate",
			fmt.Sprintf("parent %q does not exist", parentPtr.String()))
	}

	switch container := parent.(type) {
	case map[string]any:
		if err := mutateObject(container, leaf, value, op); err != nil {
			return nil, err
		}
		return copied, nil

	case []any:
		newArr, err := mutateArray(container, leaf, value, op)
		if err != nil {
			return nil, err
		}
		// Array length changed, so the parent's slot must be rewritten.
		if parentPtr.IsRoot() {
			return newArr, nil
		}
		grandPtr, parentLeaf, _ := parentPtr.Parent()
		grand, _ := grandPtr.Resolve(copied)
		switch g := grand.(type) {
		case map[string]any:
			g[parentLeaf] = newArr
		case []any:
			idx, _ := arrayIndex(parentLeaf, len(g))
			g[idx] = newArr
		}
		return copied, nil

	default:
		return nil, errors.WrapInvalid(
			errors.ErrInvalidData, "Value", "Mutate",
			fmt.Sprintf("parent %q is not a container", parentPtr.String()))
	}
}

func mutateObject(obj map[string]any, key string, value any, op mutateOp) error {
	_, exists := obj[key]
	switch op {
	case opReplace:
		if !exists {
			return errors.WrapInvalid(
				errors.ErrKeyNotFound, "Value", "Replace",
				fmt.Sprintf("key %q does not exist", key))
		}
		obj[key] = value
	case opRemove:
		if !exists {
			return errors.WrapInvalid(
				errors.ErrKeyNotFound, "Value", "Remove",
				fmt.Sprintf("key %q does not exist", key))
		}
		delete(obj, key)
	default:
		obj[key] = value
	}
	return nil
}

func mutateArray(arr []any, tok string, value any, op mutateOp) ([]any, error) {
	if tok == AppendToken {
		if op == opRemove || op == opReplace {
			return nil, errors.WrapInvalid(
				errors.ErrInvalidPointer, "Value", "Mutate",
				"append token not valid for this operation")
		}
		return append(arr, value), nil
	}

	idx, err := strictArrayIndex(tok)
	if err != nil {
		return nil, err
	}

	switch op {
	case opSet:
		// Replace an existing entry or append one past the end.
		if idx < len(arr) {
			arr[idx] = value
			return arr, nil
		}
		if idx == len(arr) {
			return append(arr, value), nil
		}
		return nil, errors.WrapInvalid(
			errors.ErrKeyNotFound, "Value", "Set",
			fmt.Sprintf("array index %d out of range", idx))

	case opAdd:
		if idx > len(arr) {
			return nil, errors.WrapInvalid(
				errors.ErrKeyNotFound, "Value", "Add",
				fmt.Sprintf("array index %d out of range", idx))
		}
		arr = append(arr, nil)
		copy(arr[idx+1:], arr[idx:])
		arr[idx] = value
		return arr, nil

	case opReplace:
		if idx >= len(arr) {
			return nil, errors.WrapInvalid(
				errors.ErrKeyNotFound, "Value", "Replace",
				fmt.Sprintf("array index %d out of range", idx))
		}
		arr[idx] = value
		return arr, nil

	case opRemove:
		if idx >= len(arr) {
			return nil, errors.WrapInvalid(
				errors.ErrKeyNotFound, "Value", "Remove",
				fmt.Sprintf("array index %d out of range", idx))
		}
		return append(arr[:idx], arr[idx+1:]...), nil
	}

	return arr, nil
}

func strictArrayIndex(tok string) (int, error) {
	if len(tok) > 1 && tok[0] == '0' {
		return 0, errors.WrapInvalid(
			errors.ErrInvalidPointer, "Value", "Mutate",
			fmt.Sprintf("array index %q has leading zero", tok))
	}
	idx, err := strconv.Atoi(tok)
	if err != nil || idx < 0 {
		return 0, errors.WrapInvalid(
			errors.ErrInvalidPointer, "Value", "Mutate",
			fmt.Sprintf("%q is not an array index", tok))
	}
	return idx, nil
}
