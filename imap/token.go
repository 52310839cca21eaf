package imap

import (
	"fmt"
	"strconv"
	"strings"
)

// Token is a single parsed element of an IMAP response body: Atom, Flag,
// QuotedString, Literal, List or AttributeSpec.
//
// The parser performs no semantic interpretation: an Atom "NIL" is not a null
// and an Atom "17" is not a number. That interpretation depends on context
// and is up to the caller, see AsString, NilString and Number.
type Token any

// Atom is a bare word, e.g. "UID" or "17" or "NIL".
type Atom string

// Flag is a system flag or keyword, stored without its leading backslash,
// e.g. Flag("Seen") for \Seen.
type Flag string

// QuotedString is a double-quoted string with escaping resolved.
type QuotedString string

// Literal is a byte-counted string, e.g. a message header block.
type Literal []byte

// List is a parenthesized list of tokens, possibly nested.
type List []Token

// AttributeSpec is a message attribute specifier such as BODY[],
// BODY[HEADER.FIELDS (FROM TO)] or BODY[TEXT]<0>.
type AttributeSpec struct {
	Primary string // E.g. "BODY".
	Section string // Section identifier between brackets, e.g. "HEADER.FIELDS". Empty for BODY[].
	Headers List   // Parenthesized header-name list, nil if absent.
	Partial string // Trailing range incl angle brackets, e.g. "<0>". Empty if absent.
}

func (a Atom) String() string    { return string(a) }
func (f Flag) String() string    { return `\` + string(f) }
func (l Literal) String() string { return fmt.Sprintf("{%d}\r\n%s", len(l), string(l)) }

func (q QuotedString) String() string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(string(q))
	return `"` + r + `"`
}

func (l List) String() string {
	elems := make([]string, len(l))
	for i, t := range l {
		elems[i] = TokenString(t)
	}
	return "(" + strings.Join(elems, " ") + ")"
}

func (a AttributeSpec) String() string {
	s := a.Primary + "[" + a.Section
	if a.Headers != nil {
		s += " " + a.Headers.String()
	}
	s += "]" + a.Partial
	return s
}

// TokenString serializes a token to its wire form. Parsing the result yields
// an equivalent token.
func TokenString(t Token) string {
	switch e := t.(type) {
	case Atom:
		return e.String()
	case Flag:
		return e.String()
	case QuotedString:
		return e.String()
	case Literal:
		return e.String()
	case List:
		return e.String()
	case AttributeSpec:
		return e.String()
	}
	return fmt.Sprintf("%v", t)
}

// NIL is the atom servers use for absent values.
const NIL = Atom("NIL")

// AsString interprets a token as an astring: represented either as an atom or
// as a string. The atom NIL is not special.
func AsString(t Token) (string, error) {
	switch e := t.(type) {
	case Atom:
		return string(e), nil
	case QuotedString:
		return string(e), nil
	case Literal:
		return string(e), nil
	}
	return "", fmt.Errorf("%v cannot be read as an astring", t)
}

// NilString interprets a token as an nstring: a string, or the atom NIL for
// absent. The second return value is false for NIL.
func NilString(t Token) (string, bool, error) {
	switch e := t.(type) {
	case Atom:
		if e == NIL {
			return "", false, nil
		}
	case QuotedString:
		return string(e), true, nil
	case Literal:
		return string(e), true, nil
	}
	return "", false, fmt.Errorf("%v cannot be read as an nstring", t)
}

// Number interprets a token as a non-negative 32-bit number, represented as
// an atom holding decimal digits.
func Number(t Token) (uint32, error) {
	a, ok := t.(Atom)
	if !ok {
		return 0, fmt.Errorf("%v cannot be read as a number", t)
	}
	v, err := strconv.ParseUint(string(a), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%q cannot be read as a number", string(a))
	}
	return uint32(v), nil
}
