package script

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ib-77/sarascript/pkg/wip"
)

// TypeMarker is the type attribute value that marks a script block as
// directive code.
const TypeMarker = "sarascript"

// Directive names.
const (
	DirectiveGet = "get"
)

const (
	openTag  = "<script"
	closeTag = "</script"
)

// ParseError reports a malformed document. Offset is a byte offset into the
// original document; Line and Col are 1-based.
type ParseError struct {
	Offset int
	Line   int
	Col    int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("script: %d:%d: %s", e.Line, e.Col, e.Msg)
}

// Parse extracts the operations of every script block in src, in document
// order. A document without script blocks yields no operations.
//
// Each block yields a RemoveMarker for its opening tag, one Fetch per get()
// call spanning exactly the call text, and a RemoveMarker for its closing
// tag. The first invalid block aborts parsing with a *ParseError.
func Parse(src []byte) ([]Operation, error) {
	p := &parser{src: src}
	if !utf8.Valid(src) {
		return nil, p.errorf(firstInvalidUTF8(src), "document is not valid UTF-8")
	}

	var ops []Operation
	pos := 0
	for {
		start := p.findTag(pos, openTag)
		if start < 0 {
			return ops, nil
		}
		block, end, err := p.block(start)
		if err != nil {
			return nil, err
		}
		ops = append(ops, block...)
		pos = end
	}
}

type parser struct {
	src []byte
}

func (p *parser) errorf(offset int, format string, args ...any) *ParseError {
	line, col := 1, 1
	for _, c := range p.src[:min(offset, len(p.src))] {
		if c == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return &ParseError{
		Offset: offset,
		Line:   line,
		Col:    col,
		Msg:    fmt.Sprintf(format, args...),
	}
}

// findTag returns the offset of the next tag named by prefix (matched
// case-insensitively and followed by a tag boundary), or -1.
func (p *parser) findTag(from int, prefix string) int {
	n := len(prefix)
	for i := from; i+n <= len(p.src); i++ {
		if p.src[i] != '<' || !bytes.EqualFold(p.src[i:i+n], []byte(prefix)) {
			continue
		}
		if i+n == len(p.src) {
			return i
		}
		switch p.src[i+n] {
		case '>', '/', ' ', '\t', '\n', '\r', '\f':
			return i
		}
	}
	return -1
}

// block parses the script block starting at start and returns its
// operations and the offset just past its closing tag.
func (p *parser) block(start int) ([]Operation, int, error) {
	openEnd, typed, err := p.openingTag(start)
	if err != nil {
		return nil, 0, err
	}
	if !typed {
		return nil, 0, p.errorf(start, "script block does not declare type=%q", TypeMarker)
	}

	closeStart := p.findTag(openEnd, closeTag)
	if closeStart < 0 {
		return nil, 0, p.errorf(start, "script block is never closed")
	}
	closeEnd := p.skipSpace(closeStart + len(closeTag))
	if closeEnd >= len(p.src) || p.src[closeEnd] != '>' {
		return nil, 0, p.errorf(closeStart, "malformed closing tag")
	}
	closeEnd++

	calls, err := p.body(openEnd, closeStart)
	if err != nil {
		return nil, 0, err
	}

	ops := make([]Operation, 0, len(calls)+2)
	ops = append(ops, Operation{Opcode: RemoveMarker, Span: wip.Range{Start: start, End: openEnd}})
	ops = append(ops, calls...)
	ops = append(ops, Operation{Opcode: RemoveMarker, Span: wip.Range{Start: closeStart, End: closeEnd}})
	return ops, closeEnd, nil
}

// openingTag scans the attributes of the tag at start. It reports the
// offset past '>' and whether type=sarascript was declared.
func (p *parser) openingTag(start int) (int, bool, error) {
	typed := false
	i := start + len(openTag)
	for {
		i = p.skipSpace(i)
		if i >= len(p.src) {
			return 0, false, p.errorf(start, "unterminated script tag")
		}
		switch p.src[i] {
		case '>':
			return i + 1, typed, nil
		case '/':
			return 0, false, p.errorf(i, "self-closing script tag")
		}

		nameStart := i
		for i < len(p.src) && !isSpace(p.src[i]) && !strings.ContainsRune("=>/", rune(p.src[i])) {
			i++
		}
		name := string(p.src[nameStart:i])
		if name == "" {
			return 0, false, p.errorf(i, "expected attribute name")
		}

		i = p.skipSpace(i)
		if i >= len(p.src) || p.src[i] != '=' {
			continue
		}
		i = p.skipSpace(i + 1)
		if i >= len(p.src) {
			return 0, false, p.errorf(start, "unterminated script tag")
		}

		var value string
		if q := p.src[i]; q == '"' || q == '\'' {
			end := bytes.IndexByte(p.src[i+1:], q)
			if end < 0 {
				return 0, false, p.errorf(i, "unterminated attribute value")
			}
			value = string(p.src[i+1 : i+1+end])
			i += end + 2
		} else {
			valueStart := i
			for i < len(p.src) && !isSpace(p.src[i]) && p.src[i] != '>' {
				i++
			}
			value = string(p.src[valueStart:i])
		}

		if strings.EqualFold(name, "type") && value == TypeMarker {
			typed = true
		}
	}
}

// body parses the directive calls in src[from:to].
func (p *parser) body(from, to int) ([]Operation, error) {
	var ops []Operation
	i := from
	for {
		for i < to && (isSpace(p.src[i]) || p.src[i] == ';') {
			i++
		}
		if i >= to {
			return ops, nil
		}
		op, end, err := p.call(i, to)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
		i = end
	}
}

// call parses `name(arg, ...)` at start.
func (p *parser) call(start, to int) (Operation, int, error) {
	i := start
	for i < to && isIdent(p.src[i], i == start) {
		i++
	}
	name := string(p.src[start:i])
	if name == "" {
		return Operation{}, 0, p.errorf(start, "expected directive, found %q", p.src[start])
	}

	i = p.skipSpaceTo(i, to)
	if i >= to || p.src[i] != '(' {
		return Operation{}, 0, p.errorf(i, "expected '(' after %s", name)
	}
	i++

	var args []Arg
	i = p.skipSpaceTo(i, to)
	if i < to && p.src[i] == ')' {
		i++
	} else {
		for {
			arg, end, err := p.arg(i, to)
			if err != nil {
				return Operation{}, 0, err
			}
			args = append(args, arg)
			i = p.skipSpaceTo(end, to)
			if i >= to {
				return Operation{}, 0, p.errorf(start, "unterminated call to %s", name)
			}
			if p.src[i] == ')' {
				i++
				break
			}
			if p.src[i] != ',' {
				return Operation{}, 0, p.errorf(i, "expected ',' or ')' in call to %s", name)
			}
			i = p.skipSpaceTo(i+1, to)
		}
	}

	op := Operation{Span: wip.Range{Start: start, End: i}, Args: args}
	switch name {
	case DirectiveGet:
		op.Opcode = Fetch
		if len(args) != 1 {
			return Operation{}, 0, p.errorf(start, "%s takes exactly one argument, got %d", name, len(args))
		}
		if args[0].Kind == Number {
			return Operation{}, 0, p.errorf(start, "%s takes a string or symbol, got %s", name, args[0].Kind)
		}
	default:
		return Operation{}, 0, p.errorf(start, "unknown directive %q", name)
	}
	return op, i, nil
}

func (p *parser) arg(start, to int) (Arg, int, error) {
	if start >= to {
		return Arg{}, 0, p.errorf(start, "expected argument")
	}
	if q := p.src[start]; q == '"' || q == '\'' {
		return p.stringLiteral(start, to)
	}

	i := start
	for i < to && !isSpace(p.src[i]) && !strings.ContainsRune(`(),;"'`, rune(p.src[i])) {
		i++
	}
	token := string(p.src[start:i])
	if token == "" {
		return Arg{}, 0, p.errorf(start, "expected argument, found %q", p.src[start])
	}
	if n, err := strconv.ParseInt(token, 10, 64); err == nil {
		return Arg{Kind: Number, Num: n}, i, nil
	}
	return Arg{Kind: Symbol, Str: token}, i, nil
}

func (p *parser) stringLiteral(start, to int) (Arg, int, error) {
	quote := p.src[start]
	var sb strings.Builder
	for i := start + 1; i < to; i++ {
		c := p.src[i]
		switch {
		case c == quote:
			return Arg{Kind: String, Str: sb.String()}, i + 1, nil
		case c == '\\':
			i++
			if i >= to {
				return Arg{}, 0, p.errorf(start, "unterminated string literal")
			}
			switch e := p.src[i]; e {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '\\', '"', '\'':
				sb.WriteByte(e)
			default:
				return Arg{}, 0, p.errorf(i-1, "unknown escape \\%c", e)
			}
		case c == '\n':
			return Arg{}, 0, p.errorf(start, "newline in string literal")
		default:
			sb.WriteByte(c)
		}
	}
	return Arg{}, 0, p.errorf(start, "unterminated string literal")
}

func (p *parser) skipSpace(i int) int {
	return p.skipSpaceTo(i, len(p.src))
}

func (p *parser) skipSpaceTo(i, to int) int {
	for i < to && isSpace(p.src[i]) {
		i++
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func isIdent(c byte, first bool) bool {
	switch {
	case c == '_', 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		return true
	case '0' <= c && c <= '9':
		return !first
	}
	return false
}

func firstInvalidUTF8(src []byte) int {
	for i := 0; i < len(src); {
		r, size := utf8.DecodeRune(src[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(src)
}
