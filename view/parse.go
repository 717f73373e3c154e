package view

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/c360/topicviews/errors"
	"github.com/c360/topicviews/pkg/jsonval"
	"github.com/c360/topicviews/selector"
	"github.com/c360/topicviews/topic"
)

// Parse parses a complete topic view specification:
//
//	map <selector> [from <server>] to <path-template> [<transformations>] [<options>]
//
// A parse error rejects the specification entirely; no partial view is ever
// registered.
func Parse(text string) (*Spec, error) {
	s := newScanner(text)
	spec := &Spec{Text: text}

	if err := expectKeyword(s, "map"); err != nil {
		return nil, err
	}

	selClause, err := s.nextClause()
	if err != nil {
		return nil, err
	}
	sel, err := selector.Parse(unescape(selClause))
	if err != nil {
		return nil, err
	}
	spec.Selector = sel

	if strings.EqualFold(s.peekWord(), "from") {
		if _, err := s.nextWord(); err != nil {
			return nil, err
		}
		server, err := s.nextWord()
		if err != nil {
			return nil, err
		}
		if server == "" || strings.EqualFold(server, "to") {
			return nil, s.errorAt(s.pos, "missing remote server name")
		}
		spec.RemoteServer = server
	}

	if err := expectKeyword(s, "to"); err != nil {
		return nil, err
	}

	pathClause, err := s.nextClause()
	if err != nil {
		return nil, err
	}
	spec.PathTemplate, err = ParsePathTemplate(pathClause)
	if err != nil {
		return nil, err
	}

	if err := parseTransformations(s, spec); err != nil {
		return nil, err
	}
	if err := parseOptions(s, spec); err != nil {
		return nil, err
	}

	if !s.eof() {
		word := s.peekWord()
		return nil, s.errorAt(s.pos, fmt.Sprintf("unexpected token %q", word))
	}
	return spec, nil
}

func expectKeyword(s *scanner, keyword string) error {
	pos := s.pos
	word, err := s.nextWord()
	if err != nil {
		return err
	}
	if !strings.EqualFold(word, keyword) {
		return s.errorAt(pos, fmt.Sprintf("expected %q, got %q", keyword, word))
	}
	return nil
}

// parseTransformations consumes process, patch, and insert clauses. Insert
// transformations must form a contiguous suffix of the chain.
func parseTransformations(s *scanner, spec *Spec) error {
	sawInsert := false
	for {
		pos := s.pos
		switch strings.ToLower(s.peekWord()) {
		case "process":
			if sawInsert {
				return s.errorAt(pos, "process transformation cannot follow insert")
			}
			if _, err := s.nextWord(); err != nil {
				return err
			}
			block, err := s.nextBraced()
			if err != nil {
				return err
			}
			t, err := parseProcessBlock(block)
			if err != nil {
				return err
			}
			spec.Transformations = append(spec.Transformations, t)

		case "patch":
			if sawInsert {
				return s.errorAt(pos, "patch transformation cannot follow insert")
			}
			if _, err := s.nextWord(); err != nil {
				return err
			}
			doc, err := s.nextQuoted()
			if err != nil {
				return err
			}
			t, err := parsePatch(doc)
			if err != nil {
				return err
			}
			spec.Transformations = append(spec.Transformations, t)

		case "insert":
			sawInsert = true
			if _, err := s.nextWord(); err != nil {
				return err
			}
			t, err := parseInsert(s)
			if err != nil {
				return err
			}
			spec.Transformations = append(spec.Transformations, t)

		default:
			return nil
		}
	}
}

// parseProcessBlock parses the statement inside process {...}
func parseProcessBlock(block string) (ProcessTransform, error) {
	bs := newScanner(block)
	var t ProcessTransform

	if !strings.EqualFold(bs.peekWord(), "if") {
		ops, err := parseOperations(bs)
		if err != nil {
			return t, err
		}
		if len(ops) == 0 {
			return t, bs.errorAt(0, "empty process statement")
		}
		if !bs.eof() {
			return t, bs.errorAt(bs.pos, "unexpected text after operations")
		}
		t.Ops = ops
		return t, nil
	}

	// if/elseif*/else chain
	if _, err := bs.nextWord(); err != nil {
		return t, err
	}
	branch, err := parseBranch(bs)
	if err != nil {
		return t, err
	}
	t.Branches = append(t.Branches, branch)

	for {
		switch strings.ToLower(bs.peekWord()) {
		case "elseif", "elsf":
			if _, err := bs.nextWord(); err != nil {
				return t, err
			}
			branch, err := parseBranch(bs)
			if err != nil {
				return t, err
			}
			t.Branches = append(t.Branches, branch)

		case "else":
			if _, err := bs.nextWord(); err != nil {
				return t, err
			}
			ops, err := parseOperations(bs)
			if err != nil {
				return t, err
			}
			if len(ops) == 0 {
				return t, bs.errorAt(bs.pos, "else clause has no operations")
			}
			t.Else = ops
			t.HasElse = true
			if !bs.eof() {
				return t, bs.errorAt(bs.pos, "unexpected text after else clause")
			}
			return t, nil

		default:
			if !bs.eof() {
				return t, bs.errorAt(bs.pos, fmt.Sprintf("unexpected token %q", bs.peekWord()))
			}
			return t, nil
		}
	}
}

func parseBranch(bs *scanner) (ProcessBranch, error) {
	condStr, err := bs.nextQuoted()
	if err != nil {
		return ProcessBranch{}, err
	}
	cond, err := ParseCondition(condStr)
	if err != nil {
		return ProcessBranch{}, err
	}
	ops, err := parseOperations(bs)
	if err != nil {
		return ProcessBranch{}, err
	}
	if len(ops) == 0 {
		return ProcessBranch{}, bs.errorAt(bs.pos, "condition has no operations")
	}
	return ProcessBranch{Cond: cond, Ops: ops}, nil
}

// parseOperations reads ';'-separated operations until a chain keyword
// (elseif, elsf, else) or the end of the block.
func parseOperations(bs *scanner) ([]Operation, error) {
	var ops []Operation
	for {
		if bs.eof() {
			return ops, nil
		}
		switch strings.ToLower(bs.peekWord()) {
		case "elseif", "elsf", "else":
			return ops, nil
		}

		op, err := parseOneOperation(bs)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)

		bs.skipSpace()
		if bs.pos < len(bs.input) && bs.input[bs.pos] == ';' {
			bs.pos++
			continue
		}
		// No separator: only a chain keyword or the block end may follow.
		switch strings.ToLower(bs.peekWord()) {
		case "", "elseif", "elsf", "else":
			return ops, nil
		default:
			return nil, bs.errorAt(bs.pos, "expected ';' between operations")
		}
	}
}

func parseOneOperation(bs *scanner) (Operation, error) {
	bs.skipSpace()
	start := bs.pos
	for bs.pos < len(bs.input) && unicode.IsLetter(rune(bs.input[bs.pos])) {
		bs.pos++
	}
	ident := strings.ToLower(bs.input[start:bs.pos])

	switch ident {
	case "continue":
		return Operation{Kind: OpContinue}, nil

	case "set":
		args, err := readParenArgs(bs)
		if err != nil {
			return Operation{}, err
		}
		return parseSetOperation(bs, args, start)

	case "remove":
		args, err := readParenArgs(bs)
		if err != nil {
			return Operation{}, err
		}
		ptr, err := jsonval.ParsePointer(unescape(strings.TrimSpace(args)))
		if err != nil {
			return Operation{}, bs.errorAt(start, fmt.Sprintf("bad pointer in remove: %v", err))
		}
		return Operation{Kind: OpRemove, Pointer: ptr}, nil

	default:
		return Operation{}, bs.errorAt(start, fmt.Sprintf("unknown operation %q", ident))
	}
}

func parseSetOperation(bs *scanner, args string, pos int) (Operation, error) {
	ptrText, valueText, ok := splitTopLevel(args)
	if !ok {
		return Operation{}, bs.errorAt(pos, "set takes a pointer and a value")
	}

	ptr, err := jsonval.ParsePointer(unescape(strings.TrimSpace(ptrText)))
	if err != nil {
		return Operation{}, bs.errorAt(pos, fmt.Sprintf("bad pointer in set: %v", err))
	}

	valueText = strings.TrimSpace(valueText)
	if rest, isCalc := strings.CutPrefix(valueText, "calc"); isCalc &&
		(rest == "" || rest[0] == ' ' || rest[0] == '\t' || rest[0] == '\'' || rest[0] == '"') {
		vs := newScanner(rest)
		expr, err := vs.nextQuoted()
		if err != nil {
			return Operation{}, bs.errorAt(pos, "calc requires a quoted expression")
		}
		calc, err := ParseCalc(expr)
		if err != nil {
			return Operation{}, err
		}
		return Operation{Kind: OpSetCalc, Pointer: ptr, Calc: calc}, nil
	}

	literal, err := parseLiteral(valueText)
	if err != nil {
		return Operation{}, bs.errorAt(pos, fmt.Sprintf("bad set value %q", valueText))
	}
	return Operation{Kind: OpSet, Pointer: ptr, Literal: literal}, nil
}

// readParenArgs reads a parenthesized argument run, returning the raw inner
// text with escapes preserved.
func readParenArgs(bs *scanner) (string, error) {
	bs.skipSpace()
	if bs.pos >= len(bs.input) || bs.input[bs.pos] != '(' {
		return "", bs.errorAt(bs.pos, "expected '('")
	}
	open := bs.pos
	bs.pos++
	start := bs.pos
	for bs.pos < len(bs.input) {
		ch := bs.input[bs.pos]
		switch ch {
		case '\\':
			bs.pos++
		case '\'', '"':
			if _, err := bs.readQuotedRaw(ch); err != nil {
				return "", err
			}
			continue
		case ')':
			inner := bs.input[start:bs.pos]
			bs.pos++
			return inner, nil
		}
		bs.pos++
	}
	return "", bs.errorAt(open, "unterminated '('")
}

// splitTopLevel splits text at the first unescaped, unquoted comma
func splitTopLevel(text string) (string, string, bool) {
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\\':
			i++
		case '\'', '"':
			q := text[i]
			i++
			for i < len(text) && text[i] != q {
				if text[i] == '\\' {
					i++
				}
				i++
			}
		case ',':
			return text[:i], text[i+1:], true
		}
	}
	return "", "", false
}

// parsePatch validates and parses a JSON patch document
func parsePatch(doc string) (PatchTransform, error) {
	parsed, err := jsonval.ParseString(doc)
	if err != nil {
		return PatchTransform{}, errors.WrapInvalid(
			errors.ErrParsingFailed, "SpecParser", "Parse", "patch is not valid JSON")
	}
	arr, ok := parsed.([]any)
	if !ok {
		return PatchTransform{}, errors.WrapInvalid(
			errors.ErrParsingFailed, "SpecParser", "Parse", "patch must be a JSON array")
	}

	t := PatchTransform{Ops: make([]PatchOp, 0, len(arr))}
	for i, raw := range arr {
		obj, ok := raw.(map[string]any)
		if !ok {
			return PatchTransform{}, patchError(i, "operation must be an object")
		}

		opName, _ := obj["op"].(string)
		var op PatchOp
		op.Op = opName

		pathText, ok := obj["path"].(string)
		if !ok {
			return PatchTransform{}, patchError(i, "missing path")
		}
		op.Path, err = jsonval.ParsePointer(pathText)
		if err != nil {
			return PatchTransform{}, patchError(i, "bad path pointer")
		}

		switch opName {
		case "add", "replace", "test":
			value, present := obj["value"]
			if !present {
				return PatchTransform{}, patchError(i, "missing value")
			}
			op.Value = value
			op.HasValue = true

		case "move", "copy":
			fromText, ok := obj["from"].(string)
			if !ok {
				return PatchTransform{}, patchError(i, "missing from")
			}
			op.From, err = jsonval.ParsePointer(fromText)
			if err != nil {
				return PatchTransform{}, patchError(i, "bad from pointer")
			}
			op.HasFrom = true

		case "remove":
			// path only

		default:
			return PatchTransform{}, patchError(i, fmt.Sprintf("unknown op %q", opName))
		}

		t.Ops = append(t.Ops, op)
	}
	return t, nil
}

func patchError(index int, msg string) error {
	return errors.WrapInvalid(
		errors.ErrParsingFailed, "SpecParser", "Parse",
		fmt.Sprintf("patch operation %d: %s", index, msg))
}

// parseInsert parses: <path> [key <ptr>] at <ptr> [default <literal>]
func parseInsert(s *scanner) (InsertTransform, error) {
	var t InsertTransform

	pathClause, err := s.nextClause()
	if err != nil {
		return t, err
	}
	t.PathTemplate, err = ParseInsertPath(pathClause)
	if err != nil {
		return t, err
	}

	if strings.EqualFold(s.peekWord(), "key") {
		if _, err := s.nextWord(); err != nil {
			return t, err
		}
		clause, err := s.nextClause()
		if err != nil {
			return t, err
		}
		t.FromKey, err = jsonval.ParsePointer(unescape(clause))
		if err != nil {
			return t, err
		}
		t.HasFromKey = true
	}

	if err := expectKeyword(s, "at"); err != nil {
		return t, err
	}
	clause, err := s.nextClause()
	if err != nil {
		return t, err
	}
	t.At, err = jsonval.ParsePointer(unescape(clause))
	if err != nil {
		return t, err
	}

	if strings.EqualFold(s.peekWord(), "default") {
		if _, err := s.nextWord(); err != nil {
			return t, err
		}
		s.skipSpace()
		if s.pos < len(s.input) && (s.input[s.pos] == '\'' || s.input[s.pos] == '"') {
			str, err := s.nextQuoted()
			if err != nil {
				return t, err
			}
			t.Default = str
		} else {
			word, err := s.nextWord()
			if err != nil {
				return t, err
			}
			t.Default = looseLiteral(word)
		}
		t.HasDefault = true
	}
	return t, nil
}

// looseLiteral interprets an unquoted default value: integer, boolean, or
// plain string.
func looseLiteral(word string) any {
	if n, err := strconv.ParseInt(word, 10, 64); err == nil {
		return n
	}
	switch word {
	case "true":
		return true
	case "false":
		return false
	}
	return word
}

// parseOptions consumes option clauses until the end of the specification.
// Each option may appear at most once.
func parseOptions(s *scanner, spec *Spec) error {
	seen := map[string]bool{}

	once := func(name string, pos int) error {
		if seen[name] {
			return s.errorAt(pos, fmt.Sprintf("duplicate %s option", name))
		}
		seen[name] = true
		return nil
	}

	for {
		pos := s.pos
		switch strings.ToLower(s.peekWord()) {
		case "with":
			if err := once("with properties", pos); err != nil {
				return err
			}
			if _, err := s.nextWord(); err != nil {
				return err
			}
			if err := expectKeyword(s, "properties"); err != nil {
				return err
			}
			props, err := parsePropertyList(s)
			if err != nil {
				return err
			}
			spec.Options.Properties = props

		case "as":
			if err := once("as", pos); err != nil {
				return err
			}
			if _, err := s.nextWord(); err != nil {
				return err
			}
			clause, err := s.nextClause()
			if err != nil {
				return err
			}
			directive, err := ParseValueDirective(clause)
			if err != nil {
				return err
			}
			spec.Options.Value = &directive

		case "throttle":
			if err := once("throttle", pos); err != nil {
				return err
			}
			if _, err := s.nextWord(); err != nil {
				return err
			}
			throttle, err := parseThrottle(s)
			if err != nil {
				return err
			}
			spec.Options.Throttle = throttle

		case "delay":
			if err := once("delay", pos); err != nil {
				return err
			}
			if _, err := s.nextWord(); err != nil {
				return err
			}
			if err := expectKeyword(s, "by"); err != nil {
				return err
			}
			d, err := parsePeriod(s)
			if err != nil {
				return err
			}
			spec.Options.Delay = d

		case "separator":
			if err := once("separator", pos); err != nil {
				return err
			}
			if _, err := s.nextWord(); err != nil {
				return err
			}
			sep, err := s.nextQuoted()
			if err != nil {
				return err
			}
			if err := validateSeparator(s, pos, sep); err != nil {
				return err
			}
			spec.Options.Separator = sep

		case "preserve":
			if err := once("preserve topics", pos); err != nil {
				return err
			}
			if _, err := s.nextWord(); err != nil {
				return err
			}
			if err := expectKeyword(s, "topics"); err != nil {
				return err
			}
			spec.Options.PreserveTopics = true

		case "type":
			if err := once("type", pos); err != nil {
				return err
			}
			if _, err := s.nextWord(); err != nil {
				return err
			}
			word, err := s.nextWord()
			if err != nil {
				return err
			}
			typ, ok := topic.ParseType(word)
			if !ok || typ == topic.TypeRouting {
				return s.errorAt(pos, fmt.Sprintf("unsupported target type %q", word))
			}
			spec.Options.TargetType = typ

		default:
			return nil
		}
	}
}

// parsePropertyList reads comma-separated key:value pairs. The commas may be
// tight (k:v,k:v) or spaced (k:v , k:v); a single word can carry several
// pairs.
func parsePropertyList(s *scanner) (topic.Properties, error) {
	props := make(topic.Properties)
	for {
		pos := s.pos
		word, err := s.nextWord()
		if err != nil {
			return nil, err
		}
		word = strings.TrimPrefix(word, ",")
		trailingComma := strings.HasSuffix(word, ",")
		word = strings.TrimSuffix(word, ",")
		if word == "" {
			// standalone comma between pairs
			continue
		}

		for _, pair := range strings.Split(word, ",") {
			key, value, ok := strings.Cut(pair, ":")
			if !ok || key == "" || value == "" {
				return nil, s.errorAt(pos, fmt.Sprintf("bad property mapping %q", pair))
			}
			if !topic.IsMappable(key) {
				return nil, s.errorAt(pos, fmt.Sprintf("property %q cannot be set by a topic view", key))
			}
			props[strings.ToUpper(key)] = value
		}

		if trailingComma || strings.HasPrefix(s.peekWord(), ",") {
			continue
		}
		return props, nil
	}
}

// parseThrottle reads: to N update(s) every <period>
func parseThrottle(s *scanner) (*Throttle, error) {
	pos := s.pos
	if err := expectKeyword(s, "to"); err != nil {
		return nil, err
	}
	countWord, err := s.nextWord()
	if err != nil {
		return nil, err
	}
	count, err := strconv.Atoi(countWord)
	if err != nil || count <= 0 {
		return nil, s.errorAt(pos, fmt.Sprintf("bad throttle count %q", countWord))
	}

	unit, err := s.nextWord()
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(unit, "update") && !strings.EqualFold(unit, "updates") {
		return nil, s.errorAt(pos, fmt.Sprintf("expected \"updates\", got %q", unit))
	}

	if err := expectKeyword(s, "every"); err != nil {
		return nil, err
	}
	period, err := parsePeriod(s)
	if err != nil {
		return nil, err
	}
	return &Throttle{Count: count, Period: period}, nil
}

// parsePeriod reads "[N] unit" where unit is seconds, minutes, or hours.
// "every second" is accepted as "every 1 seconds".
func parsePeriod(s *scanner) (time.Duration, error) {
	pos := s.pos
	word, err := s.nextWord()
	if err != nil {
		return 0, err
	}

	n := 1
	unitWord := word
	if parsed, convErr := strconv.Atoi(word); convErr == nil {
		if parsed <= 0 {
			return 0, s.errorAt(pos, fmt.Sprintf("period must be positive, got %d", parsed))
		}
		n = parsed
		unitWord, err = s.nextWord()
		if err != nil {
			return 0, err
		}
	}

	var unit time.Duration
	switch strings.ToLower(strings.TrimSuffix(unitWord, "s")) {
	case "second":
		unit = time.Second
	case "minute":
		unit = time.Minute
	case "hour":
		unit = time.Hour
	default:
		return 0, s.errorAt(pos, fmt.Sprintf("unknown time unit %q", unitWord))
	}
	return time.Duration(n) * unit, nil
}

// validateSeparator rejects replacements that would introduce empty path
// segments.
func validateSeparator(s *scanner, pos int, sep string) error {
	if sep == "" {
		return s.errorAt(pos, "separator replacement cannot be empty")
	}
	if strings.HasPrefix(sep, "/") || strings.HasSuffix(sep, "/") || strings.Contains(sep, "//") {
		return s.errorAt(pos, "separator replacement must not create empty path segments")
	}
	return nil
}
