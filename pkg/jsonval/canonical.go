package jsonval

import (
	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"

	"github.com/c360/topicviews/errors"
)

// canonicalOptions produce a deterministic encoding: object keys sorted,
// no indentation.
var canonicalOptions = ojg.Options{Sort: true}

// Parse decodes JSON bytes into the JSON-like value model. Integers decode
// as int64 and decimals as float64.
func Parse(data []byte) (any, error) {
	v, err := oj.Parse(data)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Value", "Parse", "JSON decode")
	}
	return v, nil
}

// ParseString decodes a JSON string into the JSON-like value model
func ParseString(data string) (any, error) {
	v, err := oj.ParseString(data)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Value", "Parse", "JSON decode")
	}
	return v, nil
}

// Canonical encodes a value deterministically: object keys are sorted so
// that two equal values always produce identical bytes.
func Canonical(v any) []byte {
	return []byte(oj.JSON(v, &canonicalOptions))
}

// CanonicalEqual reports whether two values have identical canonical
// encodings. This is the equality used by the patch "test" operation and by
// the registry's no-op update suppression.
func CanonicalEqual(a, b any) bool {
	return string(Canonical(a)) == string(Canonical(b))
}
