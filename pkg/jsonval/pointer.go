// Package jsonval provides utilities for working with JSON-like values
// (nil, bool, string, int64, float64, []any, map[string]any): RFC 6901
// pointer resolution and mutation, deep copying, canonical encoding, and
// scalar formatting. All mutating operations copy; input documents are never
// modified in place.
package jsonval

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/topicviews/errors"
)

// Pointer is a parsed RFC 6901 JSON pointer: a sequence of decoded reference
// tokens. The empty pointer refers to the whole document.
type Pointer []string

// ParsePointer parses an RFC 6901 JSON pointer
func ParsePointer(s string) (Pointer, error) {
	if s == "" {
		return Pointer{}, nil
	}
	if !strings.HasPrefix(s, "/") {
		return nil, errors.WrapInvalid(
			errors.ErrInvalidPointer, "Pointer", "Parse",
			fmt.Sprintf("pointer %q must start with '/'", s))
	}

	raw := strings.Split(s[1:], "/")
	tokens := make(Pointer, len(raw))
	for i, tok := range raw {
		if strings.Contains(tok, "~") && !validTildeEscapes(tok) {
			return nil, errors.WrapInvalid(
				errors.ErrInvalidPointer, "Pointer", "Parse",
				fmt.Sprintf("bad escape in token %q", tok))
		}
		tokens[i] = strings.ReplaceAll(strings.ReplaceAll(tok, "~1", "/"), "~0", "~")
	}
	return tokens, nil
}

func validTildeEscapes(tok string) bool {
	for i := 0; i < len(tok); i++ {
		if tok[i] != '~' {
			continue
		}
		if i+1 >= len(tok) || (tok[i+1] != '0' && tok[i+1] != '1') {
			return false
		}
	}
	return true
}

// String re-encodes the pointer in RFC 6901 syntax
func (p Pointer) String() string {
	if len(p) == 0 {
		return ""
	}
	var b strings.Builder
	for _, tok := range p {
		b.WriteByte('/')
		b.WriteString(strings.ReplaceAll(strings.ReplaceAll(tok, "~", "~0"), "/", "~1"))
	}
	return b.String()
}

// IsRoot reports whether the pointer refers to the whole document
func (p Pointer) IsRoot() bool {
	return len(p) == 0
}

// Parent returns the pointer to the parent of the referenced node and the
// final reference token. The root pointer has no parent.
func (p Pointer) Parent() (Pointer, string, bool) {
	if len(p) == 0 {
		return nil, "", false
	}
	return p[:len(p)-1], p[len(p)-1], true
}

// Resolve walks the pointer through a document. The boolean reports whether
// every token resolved.
func (p Pointer) Resolve(doc any) (any, bool) {
	current := doc
	for _, tok := range p {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[tok]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, ok := arrayIndex(tok, len(node))
			if !ok {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// AppendToken is the array-append reference token defined by RFC 6901
const AppendToken = "-"

// arrayIndex parses a reference token as an array index. The append token
// and out-of-range indices are rejected.
func arrayIndex(tok string, length int) (int, bool) {
	if tok == AppendToken {
		return 0, false
	}
	// RFC 6901 forbids leading zeros
	if len(tok) > 1 && tok[0] == '0' {
		return 0, false
	}
	idx, err := strconv.Atoi(tok)
	if err != nil || idx < 0 || idx >= length {
		return 0, false
	}
	return idx, true
}

// IsScalar reports whether a value is a JSON scalar: string, number,
// boolean, or null. Arrays and objects are not scalars.
func IsScalar(v any) bool {
	switch v.(type) {
	case nil, bool, string, int64, float64, int, float32:
		return true
	default:
		return false
	}
}

// ScalarString formats a scalar value as literal text, as used for path
// fragments. null formats as the text "null". The boolean reports whether
// the value was a scalar.
func ScalarString(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "null", true
	case bool:
		return strconv.FormatBool(val), true
	case string:
		return val, true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), true
	default:
		return "", false
	}
}

// AsInt64 reads a value as an integer. Floats never qualify, even when
// integral: relational and calc operands are integer-only.
func AsInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

// AsFloat64 reads a numeric value as a float
func AsFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int64:
		return float64(val), true
	case int:
		return float64(val), true
	default:
		return 0, false
	}
}
