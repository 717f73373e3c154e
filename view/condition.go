package view

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/c360/topicviews/errors"
	"github.com/c360/topicviews/pkg/jsonval"
)

// CompareOp is a relational operator in a process condition
type CompareOp int

// Comparison operators. Relational forms (Gt, Lt, Ge, Le) are valid only on
// numeric operands.
const (
	OpEq CompareOp = iota
	OpNe
	OpGt
	OpLt
	OpGe
	OpLe
)

var compareOps = map[string]CompareOp{
	"=": OpEq, "eq": OpEq,
	"!=": OpNe, "ne": OpNe,
	">": OpGt, "gt": OpGt,
	"<": OpLt, "lt": OpLt,
	">=": OpGe, "ge": OpGe,
	"<=": OpLe, "le": OpLe,
}

// Relational reports whether the operator requires numeric operands
func (op CompareOp) Relational() bool {
	return op != OpEq && op != OpNe
}

// Condition is a parsed boolean condition tree
type Condition interface {
	conditionNode()
}

// CompareCondition is a pointer-operator-operand leaf
type CompareCondition struct {
	LHS jsonval.Pointer
	Op  CompareOp
	RHS CondOperand
}

// AndCondition is a conjunction; and binds tighter than or
type AndCondition struct {
	Left, Right Condition
}

// OrCondition is a disjunction
type OrCondition struct {
	Left, Right Condition
}

// NotCondition negates its inner condition
type NotCondition struct {
	Inner Condition
}

func (CompareCondition) conditionNode() {}
func (AndCondition) conditionNode()     {}
func (OrCondition) conditionNode()      {}
func (NotCondition) conditionNode()     {}

// CondOperand is the right-hand side of a comparison: a constant or another
// JSON pointer into the current value.
type CondOperand struct {
	IsPointer bool
	Pointer   jsonval.Pointer
	Literal   any
}

// ParseCondition parses a process condition string, e.g.
//
//	/Age > 40
//	/Name = "Bill" and not (/Retired eq true or /Band > 3)
func ParseCondition(input string) (Condition, error) {
	tokens, err := tokenizeCondition(input)
	if err != nil {
		return nil, err
	}
	p := &condParser{tokens: tokens, input: input}
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		return nil, condError(input, fmt.Sprintf("unexpected token %q", p.tokens[p.pos]))
	}
	return cond, nil
}

func condError(input, msg string) error {
	return errors.WrapInvalid(
		errors.ErrParsingFailed, "ConditionParser", "Parse",
		fmt.Sprintf("%s in condition %q", msg, input))
}

// tokenizeCondition splits a condition into tokens: parentheses, quoted
// strings (kept quoted for literal detection), and whitespace-separated runs.
func tokenizeCondition(input string) ([]string, error) {
	var tokens []string
	i := 0
	for i < len(input) {
		ch := input[i]
		switch {
		case unicode.IsSpace(rune(ch)):
			i++
		case ch == '(' || ch == ')':
			tokens = append(tokens, string(ch))
			i++
		case ch == '"' || ch == '\'':
			end := i + 1
			for end < len(input) && input[end] != ch {
				if input[end] == '\\' {
					end++
				}
				end++
			}
			if end >= len(input) {
				return nil, condError(input, "unterminated string literal")
			}
			tokens = append(tokens, input[i:end+1])
			i = end + 1
		default:
			end := i
			for end < len(input) {
				c := input[end]
				if unicode.IsSpace(rune(c)) || c == '(' || c == ')' {
					break
				}
				end++
			}
			tokens = append(tokens, input[i:end])
			i = end
		}
	}
	return tokens, nil
}

type condParser struct {
	tokens []string
	input  string
	pos    int
}

func (p *condParser) peek() string {
	if p.pos >= len(p.tokens) {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *condParser) next() string {
	tok := p.peek()
	p.pos++
	return tok
}

func (p *condParser) parseOr() (Condition, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		switch strings.ToLower(p.peek()) {
		case "or", "|":
			p.next()
			right, err := p.parseAnd()
			if err != nil {
				return nil, err
			}
			left = OrCondition{Left: left, Right: right}
		default:
			return left, nil
		}
	}
}

func (p *condParser) parseAnd() (Condition, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		switch strings.ToLower(p.peek()) {
		case "and", "&":
			p.next()
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = AndCondition{Left: left, Right: right}
		default:
			return left, nil
		}
	}
}

func (p *condParser) parseUnary() (Condition, error) {
	switch strings.ToLower(p.peek()) {
	case "not":
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return NotCondition{Inner: inner}, nil
	case "(":
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next() != ")" {
			return nil, condError(p.input, "missing ')'")
		}
		return inner, nil
	default:
		return p.parseComparison()
	}
}

func (p *condParser) parseComparison() (Condition, error) {
	lhsTok := p.next()
	if lhsTok == "" {
		return nil, condError(p.input, "expected a JSON pointer")
	}
	lhs, err := jsonval.ParsePointer(lhsTok)
	if err != nil {
		return nil, condError(p.input, fmt.Sprintf("bad JSON pointer %q", lhsTok))
	}

	opTok := strings.ToLower(p.next())
	op, ok := compareOps[opTok]
	if !ok {
		return nil, condError(p.input, fmt.Sprintf("unknown operator %q", opTok))
	}

	rhsTok := p.next()
	if rhsTok == "" {
		return nil, condError(p.input, "expected an operand")
	}
	operand, err := parseOperand(rhsTok)
	if err != nil {
		return nil, condError(p.input, fmt.Sprintf("bad operand %q", rhsTok))
	}

	return CompareCondition{LHS: lhs, Op: op, RHS: operand}, nil
}

// parseOperand interprets a comparison operand token: a JSON pointer, a
// quoted string, an integer, or a boolean.
func parseOperand(tok string) (CondOperand, error) {
	if strings.HasPrefix(tok, "/") {
		ptr, err := jsonval.ParsePointer(tok)
		if err != nil {
			return CondOperand{}, err
		}
		return CondOperand{IsPointer: true, Pointer: ptr}, nil
	}

	lit, err := parseLiteral(tok)
	if err != nil {
		return CondOperand{}, err
	}
	return CondOperand{Literal: lit}, nil
}

// parseLiteral interprets a literal token: quoted string, integer, or
// boolean.
func parseLiteral(tok string) (any, error) {
	if len(tok) >= 2 {
		if q := tok[0]; (q == '"' || q == '\'') && tok[len(tok)-1] == q {
			return unescape(tok[1 : len(tok)-1]), nil
		}
	}
	switch tok {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return n, nil
	}
	return nil, errors.ErrParsingFailed
}
