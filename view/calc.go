package view

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/c360/topicviews/errors"
	"github.com/c360/topicviews/pkg/jsonval"
)

// CalcKind discriminates calculation expression nodes
type CalcKind int

const (
	// CalcLiteral is an integer constant
	CalcLiteral CalcKind = iota
	// CalcPointer reads an integer field from the current value
	CalcPointer
	// CalcBinary applies an arithmetic operator to two sub-expressions
	CalcBinary
)

// Calc is a node of a parsed calculation expression. Calculations operate on
// integer fields only; standard operator precedence applies.
type Calc struct {
	Kind    CalcKind
	Literal int64
	Pointer jsonval.Pointer
	Op      byte // '+', '-', '*', '/'
	Left    *Calc
	Right   *Calc
}

// ParseCalc parses a calculation expression such as "/Salary + 1000 + /Age * 10"
func ParseCalc(input string) (*Calc, error) {
	tokens, err := tokenizeCalc(input)
	if err != nil {
		return nil, err
	}
	p := &calcParser{tokens: tokens, input: input}
	expr, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		return nil, calcError(input, fmt.Sprintf("unexpected token %q", p.tokens[p.pos]))
	}
	return expr, nil
}

func calcError(input, msg string) error {
	return errors.WrapInvalid(
		errors.ErrParsingFailed, "CalcParser", "Parse",
		fmt.Sprintf("%s in calculation %q", msg, input))
}

func tokenizeCalc(input string) ([]string, error) {
	var tokens []string
	i := 0
	for i < len(input) {
		ch := input[i]
		switch {
		case unicode.IsSpace(rune(ch)):
			i++
		case ch == '(' || ch == ')' || ch == '+' || ch == '*':
			tokens = append(tokens, string(ch))
			i++
		case ch == '-':
			// '-' glued to digits is a negative literal, otherwise subtraction
			if i+1 < len(input) && input[i+1] >= '0' && input[i+1] <= '9' &&
				(len(tokens) == 0 || isCalcOperator(tokens[len(tokens)-1]) || tokens[len(tokens)-1] == "(") {
				end := i + 1
				for end < len(input) && input[end] >= '0' && input[end] <= '9' {
					end++
				}
				tokens = append(tokens, input[i:end])
				i = end
			} else {
				tokens = append(tokens, "-")
				i++
			}
		case ch == '/':
			// '/' starting a pointer token vs the division operator
			if len(tokens) > 0 && !isCalcOperator(tokens[len(tokens)-1]) && tokens[len(tokens)-1] != "(" {
				tokens = append(tokens, "/")
				i++
				continue
			}
			end := i
			for end < len(input) {
				c := input[end]
				if unicode.IsSpace(rune(c)) || c == '(' || c == ')' ||
					c == '+' || c == '-' || c == '*' {
					break
				}
				end++
			}
			tokens = append(tokens, input[i:end])
			i = end
		case ch >= '0' && ch <= '9':
			end := i
			for end < len(input) && input[end] >= '0' && input[end] <= '9' {
				end++
			}
			tokens = append(tokens, input[i:end])
			i = end
		default:
			return nil, calcError(input, fmt.Sprintf("unexpected character %q", string(ch)))
		}
	}
	return tokens, nil
}

func isCalcOperator(tok string) bool {
	return tok == "+" || tok == "-" || tok == "*" || tok == "/"
}

type calcParser struct {
	tokens []string
	input  string
	pos    int
}

func (p *calcParser) peek() string {
	if p.pos >= len(p.tokens) {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *calcParser) next() string {
	tok := p.peek()
	p.pos++
	return tok
}

func (p *calcParser) parseSum() (*Calc, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for p.peek() == "+" || p.peek() == "-" {
		op := p.next()[0]
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = &Calc{Kind: CalcBinary, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *calcParser) parseProduct() (*Calc, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for p.peek() == "*" || p.peek() == "/" {
		op := p.next()[0]
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = &Calc{Kind: CalcBinary, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *calcParser) parseFactor() (*Calc, error) {
	tok := p.next()
	switch {
	case tok == "":
		return nil, calcError(p.input, "unexpected end of expression")

	case tok == "(":
		inner, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		if p.next() != ")" {
			return nil, calcError(p.input, "missing ')'")
		}
		return inner, nil

	case strings.HasPrefix(tok, "/") && len(tok) > 1:
		ptr, err := jsonval.ParsePointer(tok)
		if err != nil {
			return nil, calcError(p.input, fmt.Sprintf("bad JSON pointer %q", tok))
		}
		return &Calc{Kind: CalcPointer, Pointer: ptr}, nil

	default:
		n, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return nil, calcError(p.input, fmt.Sprintf("expected integer or pointer, got %q", tok))
		}
		return &Calc{Kind: CalcLiteral, Literal: n}, nil
	}
}
