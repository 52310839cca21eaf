package imap

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError is a syntax error in a response body. It carries the offset of
// the offending character and the full input for diagnostics. Malformed
// grammar indicates a protocol-assumption violation, so parse errors are
// permanent: callers must not retry the response.
type ParseError struct {
	Msg   string
	Pos   int
	Input string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("%s in %q at index %d", e.Msg, e.Input, e.Pos)
}

// Parse parses a full response body as a sequence of space-separated tokens.
// Empty input yields an empty sequence. Parsing is total over syntactically
// valid input and performs no semantic interpretation: NIL and numbers come
// back as atoms.
func Parse(s string) (tokens []Token, rerr error) {
	p := &parser{s: s}
	defer p.recover(&rerr)
	tokens = p.xtokens()
	if p.pos < len(p.s) {
		// A stray ")" at top level ends the token loop early.
		p.xerrorf("inconsistent nesting of lists")
	}
	return tokens, nil
}

// parser is a one-character-lookahead cursor over a response body string.
type parser struct {
	s   string
	pos int
}

func (p *parser) recover(rerr *error) {
	x := recover()
	if x == nil {
		return
	}
	if e, ok := x.(ParseError); ok {
		*rerr = e
		return
	}
	panic(x)
}

func (p *parser) xerrorf(format string, args ...any) {
	panic(ParseError{fmt.Sprintf(format, args...), p.pos, p.s})
}

// peek returns the next byte without consuming it, or 0 at end of input.
func (p *parser) peek() byte {
	if p.pos >= len(p.s) {
		return 0
	}
	return p.s[p.pos]
}

func (p *parser) xbyte() byte {
	if p.pos >= len(p.s) {
		p.xerrorf("unexpected end of input")
	}
	b := p.s[p.pos]
	p.pos++
	return b
}

func (p *parser) take(b byte) bool {
	if p.peek() == b && p.pos < len(p.s) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) xtake(b byte) {
	if !p.take(b) {
		p.xerrorf("expected %q", string(rune(b)))
	}
}

// xread consumes exactly n bytes, e.g. the contents of a literal.
func (p *parser) xread(n int) string {
	if p.pos+n > len(p.s) {
		p.xerrorf("unexpected end of literal string")
	}
	s := p.s[p.pos : p.pos+n]
	p.pos += n
	return s
}

// Atoms are runs of any characters except control characters and the
// special set. "[" is included so attribute specifiers parse as atoms first.
func isAtomChar(b byte) bool {
	return b >= ' ' && !strings.ContainsRune(`(){%*"\ ]`, rune(b))
}

// xtokens parses tokens until the end of the current nested list, or until
// the input is exhausted. The individual token parsers always consume their
// delimiting characters (quotes, braces, parentheses) entirely.
func (p *parser) xtokens() []Token {
	l := []Token{}
	for {
		switch c := p.peek(); {
		case c == '"':
			l = append(l, p.xquoted())
		case c == '{':
			l = append(l, p.xliteral())
		case c == '(':
			l = append(l, p.xlist())
		case c == '\\':
			l = append(l, p.xflag())
		case isAtomChar(c):
			l = append(l, p.xatom())
		}

		switch c := p.peek(); c {
		case ' ':
			p.pos++
		case ')', 0:
			return l
		case '(':
			// Adjacent lists without a separating space, seen in
			// BODYSTRUCTURE multipart responses.
			continue
		default:
			p.xerrorf("syntax error at %q", string(rune(c)))
		}
	}
}

// xquoted parses a quoted string. Backslash escapes a double quote and a
// backslash only; before any other character it is taken literally.
func (p *parser) xquoted() QuotedString {
	p.xtake('"')
	var sb strings.Builder
	for {
		if p.pos >= len(p.s) {
			p.xerrorf("unexpected end of quoted string")
		}
		c := p.xbyte()
		if c == '"' {
			return QuotedString(sb.String())
		}
		if c == '\\' && (p.peek() == '"' || p.peek() == '\\') {
			c = p.xbyte()
		}
		sb.WriteByte(c)
	}
}

// xliteral parses a byte-counted literal: {count}CRLF followed by exactly
// count raw bytes. The count is trusted; input shorter than the count is a
// fatal parse error.
func (p *parser) xliteral() Literal {
	p.xtake('{')
	digits := ""
	for {
		if p.pos >= len(p.s) {
			p.xerrorf("unexpected end of literal string")
		}
		c := p.xbyte()
		if c == '}' {
			break
		}
		if c < '0' || c > '9' {
			p.xerrorf("non-digit %q in length of literal string", string(rune(c)))
		}
		digits += string(rune(c))
	}
	count, err := strconv.Atoi(digits)
	if err != nil {
		p.xerrorf("non-integer token %q for length of literal string", digits)
	}
	if !p.take('\r') || !p.take('\n') {
		p.xerrorf("syntax error in literal string, missing crlf")
	}
	return Literal(p.xread(count))
}

func (p *parser) xlist() List {
	p.xtake('(')
	l := p.xtokens()
	if !p.take(')') {
		p.xerrorf("unexpected end of list")
	}
	return List(l)
}

func (p *parser) xflag() Flag {
	p.xtake('\\')
	return Flag(p.xatomRun())
}

// xatomRun reads a maximal run of atom characters, stopping before "[".
func (p *parser) xatomRun() string {
	start := p.pos
	for p.pos < len(p.s) && isAtomChar(p.s[p.pos]) && p.s[p.pos] != '[' {
		p.pos++
	}
	if p.pos == start {
		p.xerrorf("expected atom")
	}
	return p.s[start:p.pos]
}

// xatom reads an atom, or an attribute specifier when the atom is
// immediately followed by "[", e.g. BODY[HEADER.FIELDS (FROM)]<0>.
func (p *parser) xatom() Token {
	word := p.xatomRun()
	if !p.take('[') {
		return Atom(word)
	}

	spec := AttributeSpec{Primary: word}
	if p.peek() != ']' {
		spec.Section = p.xatomRun()
	}
	if p.take(' ') {
		spec.Headers = p.xlist()
	}
	if !p.take(']') {
		p.xerrorf("unexpected end of attribute specifier")
	}
	if p.peek() == '<' {
		spec.Partial = p.xatomRun()
	}
	return spec
}
