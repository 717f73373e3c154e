package view

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/c360/topicviews/errors"
)

// scanner reads a view specification left to right. Clause boundaries honor
// backslash escapes, single/double quoted clauses, and angle-bracketed
// directives (whitespace inside a directive never ends a clause).
type scanner struct {
	input string
	pos   int
}

func newScanner(input string) *scanner {
	return &scanner{input: input}
}

// errorAt builds a parse error naming the offending position
func (s *scanner) errorAt(pos int, msg string) error {
	return errors.WrapInvalid(
		errors.ErrParsingFailed, "SpecParser", "Parse",
		fmt.Sprintf("%s at position %d", msg, pos))
}

func (s *scanner) skipSpace() {
	for s.pos < len(s.input) && unicode.IsSpace(rune(s.input[s.pos])) {
		s.pos++
	}
}

func (s *scanner) eof() bool {
	s.skipSpace()
	return s.pos >= len(s.input)
}

// nextWord reads a whitespace-delimited word with escapes applied. Used for
// keywords and simple values.
func (s *scanner) nextWord() (string, error) {
	s.skipSpace()
	if s.pos >= len(s.input) {
		return "", s.errorAt(s.pos, "unexpected end of specification")
	}

	var b strings.Builder
	for s.pos < len(s.input) {
		ch := s.input[s.pos]
		if ch == '\\' {
			if s.pos+1 >= len(s.input) {
				return "", s.errorAt(s.pos, "dangling escape")
			}
			b.WriteByte(s.input[s.pos+1])
			s.pos += 2
			continue
		}
		if unicode.IsSpace(rune(ch)) {
			break
		}
		b.WriteByte(ch)
		s.pos++
	}
	return b.String(), nil
}

// peekWord returns the next word without consuming it
func (s *scanner) peekWord() string {
	saved := s.pos
	word, err := s.nextWord()
	s.pos = saved
	if err != nil {
		return ""
	}
	return word
}

// nextClause reads a clause: either a quoted run (outer quotes stripped) or
// a run ending at unescaped whitespace outside any directive. Escape
// sequences are preserved in the returned text so directive parsing can
// distinguish escaped characters from structural ones.
func (s *scanner) nextClause() (string, error) {
	s.skipSpace()
	if s.pos >= len(s.input) {
		return "", s.errorAt(s.pos, "unexpected end of specification")
	}

	if q := s.input[s.pos]; q == '\'' || q == '"' {
		return s.readQuotedRaw(q)
	}

	start := s.pos
	depth := 0
	for s.pos < len(s.input) {
		ch := s.input[s.pos]
		if ch == '\\' {
			if s.pos+1 >= len(s.input) {
				return "", s.errorAt(s.pos, "dangling escape")
			}
			s.pos += 2
			continue
		}
		switch {
		case ch == '<':
			depth++
		case ch == '>' && depth > 0:
			depth--
		case depth == 0 && unicode.IsSpace(rune(ch)):
			return s.input[start:s.pos], nil
		}
		s.pos++
	}
	return s.input[start:s.pos], nil
}

// readQuotedRaw reads a quoted clause, stripping the outer quotes and
// keeping escape sequences intact.
func (s *scanner) readQuotedRaw(quote byte) (string, error) {
	open := s.pos
	s.pos++ // opening quote
	start := s.pos
	for s.pos < len(s.input) {
		ch := s.input[s.pos]
		if ch == '\\' {
			if s.pos+1 >= len(s.input) {
				return "", s.errorAt(s.pos, "dangling escape")
			}
			s.pos += 2
			continue
		}
		if ch == quote {
			raw := s.input[start:s.pos]
			s.pos++ // closing quote
			return raw, nil
		}
		s.pos++
	}
	return "", s.errorAt(open, "unterminated quoted clause")
}

// nextQuoted reads a quoted string with escapes applied. Used for patch
// documents, process conditions, separators, and string literals.
func (s *scanner) nextQuoted() (string, error) {
	s.skipSpace()
	if s.pos >= len(s.input) {
		return "", s.errorAt(s.pos, "expected quoted string")
	}
	q := s.input[s.pos]
	if q != '\'' && q != '"' {
		return "", s.errorAt(s.pos, "expected quoted string")
	}
	raw, err := s.readQuotedRaw(q)
	if err != nil {
		return "", err
	}
	return unescape(raw), nil
}

// nextBraced reads a balanced '{...}' block, returning the raw inner text.
// Quoted runs inside the block are skipped over for brace counting.
func (s *scanner) nextBraced() (string, error) {
	s.skipSpace()
	if s.pos >= len(s.input) || s.input[s.pos] != '{' {
		return "", s.errorAt(s.pos, "expected '{'")
	}
	open := s.pos
	s.pos++
	start := s.pos
	depth := 1
	for s.pos < len(s.input) {
		ch := s.input[s.pos]
		switch ch {
		case '\\':
			if s.pos+1 >= len(s.input) {
				return "", s.errorAt(s.pos, "dangling escape")
			}
			s.pos++
		case '\'', '"':
			if _, err := s.readQuotedRaw(ch); err != nil {
				return "", err
			}
			continue
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				inner := s.input[start:s.pos]
				s.pos++
				return inner, nil
			}
		}
		s.pos++
	}
	return "", s.errorAt(open, "unterminated '{' block")
}

// unescape applies backslash escapes: \x becomes the literal character x
func unescape(raw string) string {
	if !strings.Contains(raw, "\\") {
		return raw
	}
	var b strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) {
			i++
		}
		b.WriteByte(raw[i])
	}
	return b.String()
}
