package view

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/topicviews/errors"
	"github.com/c360/topicviews/pkg/jsonval"
)

// DirectiveKind discriminates the directive variants embedded in path and
// value templates. The evaluator switches exhaustively on this kind.
type DirectiveKind int

const (
	// DirectiveLiteral is constant template text
	DirectiveLiteral DirectiveKind = iota
	// DirectivePath selects a slice of the source topic path
	DirectivePath
	// DirectiveScalar extracts a scalar from the current value
	DirectiveScalar
	// DirectiveExpand forks the evaluation per child of the current value
	DirectiveExpand
	// DirectiveValue selects the final reference topic value (as clause only)
	DirectiveValue
)

// String returns the directive keyword
func (k DirectiveKind) String() string {
	switch k {
	case DirectiveLiteral:
		return "literal"
	case DirectivePath:
		return "path"
	case DirectiveScalar:
		return "scalar"
	case DirectiveExpand:
		return "expand"
	case DirectiveValue:
		return "value"
	default:
		return "unknown"
	}
}

// Directive is one node of a parsed template
type Directive struct {
	Kind DirectiveKind

	// Literal
	Text string

	// Path: source path segments [Start, Start+Count); Count of -1 extends
	// to the end of the path.
	Start int
	Count int

	// Scalar and Value
	Pointer jsonval.Pointer

	// Expand: root pointer (empty = whole current value) and optional label
	// pointer resolved against each child.
	RootPointer  jsonval.Pointer
	LabelPointer jsonval.Pointer
	HasLabel     bool
}

// templateMode constrains which directives a template accepts
type templateMode int

const (
	modePathTemplate   templateMode = iota // path, scalar, expand
	modeInsertTemplate                     // path, scalar
	modeValueTemplate                      // value only
)

// ParsePathTemplate parses a path mapping template into directives
func ParsePathTemplate(raw string) ([]Directive, error) {
	return parseTemplate(raw, modePathTemplate)
}

// ParseInsertPath parses an insert transformation's topic path template.
// Expand directives are not permitted.
func ParseInsertPath(raw string) ([]Directive, error) {
	return parseTemplate(raw, modeInsertTemplate)
}

// ParseValueDirective parses the single value directive of an "as" clause
func ParseValueDirective(raw string) (Directive, error) {
	directives, err := parseTemplate(raw, modeValueTemplate)
	if err != nil {
		return Directive{}, err
	}
	if len(directives) != 1 || directives[0].Kind != DirectiveValue {
		return Directive{}, errors.WrapInvalid(
			errors.ErrInvalidDirective, "DirectiveParser", "Parse",
			"the as clause takes exactly one value directive")
	}
	return directives[0], nil
}

// parseTemplate parses raw template text (escapes intact) into directives
func parseTemplate(raw string, mode templateMode) ([]Directive, error) {
	var directives []Directive
	var literal strings.Builder

	flushLiteral := func() {
		if literal.Len() > 0 {
			directives = append(directives, Directive{Kind: DirectiveLiteral, Text: literal.String()})
			literal.Reset()
		}
	}

	for i := 0; i < len(raw); {
		ch := raw[i]
		switch ch {
		case '\\':
			if i+1 >= len(raw) {
				return nil, parseErrorAt(i, "dangling escape")
			}
			esc := raw[i+1]
			if esc == '/' && mode != modeValueTemplate {
				// The path separator is always structural in path fragments.
				return nil, parseErrorAt(i, `'\/' is not a valid escape in a path fragment`)
			}
			literal.WriteByte(esc)
			i += 2

		case '<':
			flushLiteral()
			directive, next, err := parseDirective(raw, i)
			if err != nil {
				return nil, err
			}
			if err := checkDirectiveMode(directive, mode, i); err != nil {
				return nil, err
			}
			directives = append(directives, directive)
			i = next

		default:
			literal.WriteByte(ch)
			i++
		}
	}
	flushLiteral()

	if len(directives) == 0 {
		return nil, errors.WrapInvalid(
			errors.ErrInvalidDirective, "DirectiveParser", "Parse", "empty template")
	}
	return directives, nil
}

func checkDirectiveMode(d Directive, mode templateMode, pos int) error {
	switch mode {
	case modePathTemplate:
		if d.Kind == DirectiveValue {
			return parseErrorAt(pos, "value directive not allowed in a path mapping")
		}
	case modeInsertTemplate:
		if d.Kind == DirectiveExpand {
			return parseErrorAt(pos, "expand directive not allowed in an insert path")
		}
		if d.Kind == DirectiveValue {
			return parseErrorAt(pos, "value directive not allowed in an insert path")
		}
	case modeValueTemplate:
		if d.Kind != DirectiveValue {
			return parseErrorAt(pos, "only the value directive is allowed in an as clause")
		}
	}
	return nil
}

// parseDirective parses one <name(params)> directive starting at the '<' at
// offset start. It returns the directive and the offset just past the '>'.
func parseDirective(raw string, start int) (Directive, int, error) {
	i := start + 1

	nameEnd := i
	for nameEnd < len(raw) && raw[nameEnd] != '(' && raw[nameEnd] != '>' {
		nameEnd++
	}
	if nameEnd >= len(raw) {
		return Directive{}, 0, parseErrorAt(start, "unterminated directive")
	}
	name := raw[i:nameEnd]

	var params []string
	i = nameEnd
	if raw[i] == '(' {
		var err error
		params, i, err = parseDirectiveParams(raw, i)
		if err != nil {
			return Directive{}, 0, err
		}
	}
	if i >= len(raw) || raw[i] != '>' {
		return Directive{}, 0, parseErrorAt(start, "unterminated directive")
	}
	i++

	directive, err := buildDirective(name, params, start)
	if err != nil {
		return Directive{}, 0, err
	}
	return directive, i, nil
}

// parseDirectiveParams reads the comma-separated parameter list starting at
// the '(' at offset open. Escapes are applied; an escaped ')' or ',' does
// not terminate a parameter.
func parseDirectiveParams(raw string, open int) ([]string, int, error) {
	params := []string{}
	var current strings.Builder
	i := open + 1
	for i < len(raw) {
		ch := raw[i]
		switch ch {
		case '\\':
			if i+1 >= len(raw) {
				return nil, 0, parseErrorAt(i, "dangling escape")
			}
			current.WriteByte(raw[i+1])
			i += 2
		case ',':
			params = append(params, current.String())
			current.Reset()
			i++
		case ')':
			params = append(params, current.String())
			// '()' is an empty parameter list, not one empty parameter
			if len(params) == 1 && params[0] == "" {
				params = nil
			}
			return params, i + 1, nil
		default:
			current.WriteByte(ch)
			i++
		}
	}
	return nil, 0, parseErrorAt(open, "unterminated parameter list")
}

func buildDirective(name string, params []string, pos int) (Directive, error) {
	switch name {
	case "path":
		if len(params) < 1 || len(params) > 2 {
			return Directive{}, parseErrorAt(pos, "path directive takes one or two parameters")
		}
		start, err := parseNonNegative(params[0])
		if err != nil {
			return Directive{}, parseErrorAt(pos, fmt.Sprintf("bad path start parameter %q", params[0]))
		}
		count := -1
		if len(params) == 2 {
			count, err = parseNonNegative(params[1])
			if err != nil {
				return Directive{}, parseErrorAt(pos, fmt.Sprintf("bad path number parameter %q", params[1]))
			}
		}
		return Directive{Kind: DirectivePath, Start: start, Count: count}, nil

	case "scalar":
		if len(params) != 1 {
			return Directive{}, parseErrorAt(pos, "scalar directive takes exactly one parameter")
		}
		ptr, err := jsonval.ParsePointer(params[0])
		if err != nil {
			return Directive{}, parseErrorAt(pos, fmt.Sprintf("bad JSON pointer %q", params[0]))
		}
		return Directive{Kind: DirectiveScalar, Pointer: ptr}, nil

	case "expand":
		if len(params) > 2 {
			return Directive{}, parseErrorAt(pos, "expand directive takes at most two parameters")
		}
		d := Directive{Kind: DirectiveExpand}
		if len(params) >= 1 && params[0] != "" {
			ptr, err := jsonval.ParsePointer(params[0])
			if err != nil {
				return Directive{}, parseErrorAt(pos, fmt.Sprintf("bad JSON pointer %q", params[0]))
			}
			d.RootPointer = ptr
		}
		if len(params) == 2 && params[1] != "" {
			ptr, err := jsonval.ParsePointer(params[1])
			if err != nil {
				return Directive{}, parseErrorAt(pos, fmt.Sprintf("bad JSON pointer %q", params[1]))
			}
			d.LabelPointer = ptr
			d.HasLabel = true
		}
		return d, nil

	case "value":
		if len(params) != 1 {
			return Directive{}, parseErrorAt(pos, "value directive takes exactly one parameter")
		}
		ptr, err := jsonval.ParsePointer(params[0])
		if err != nil {
			return Directive{}, parseErrorAt(pos, fmt.Sprintf("bad JSON pointer %q", params[0]))
		}
		return Directive{Kind: DirectiveValue, Pointer: ptr}, nil

	default:
		return Directive{}, parseErrorAt(pos, fmt.Sprintf("unknown directive %q", name))
	}
}

func parseNonNegative(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, errors.ErrInvalidDirective
	}
	return n, nil
}

func parseErrorAt(pos int, msg string) error {
	return errors.WrapInvalid(
		errors.ErrInvalidDirective, "DirectiveParser", "Parse",
		fmt.Sprintf("%s at position %d", msg, pos))
}

// UsesValueDirectives reports whether any directive other than path appears,
// which constrains the template to JSON-valued source topics.
func UsesValueDirectives(directives []Directive) bool {
	for _, d := range directives {
		switch d.Kind {
		case DirectiveScalar, DirectiveExpand, DirectiveValue:
			return true
		}
	}
	return false
}
