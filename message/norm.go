package message

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"

	"github.com/pes10k/gimap/imapio"
)

// EncodingError is a charset decode failure: an unsupported charset, or byte
// sequences invalid for the declared charset. It is captured as a value on
// the normalized part, never raised past the normalizer; the text it
// accompanies has had offending bytes replaced.
type EncodingError struct {
	Charset string
	Err     error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("decoding charset %q: %v", e.Charset, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// normalized is the per-part normalization state. The charset and cte fields
// are captured at the first decode and never change afterwards: they are what
// SetText re-encodes into, even after the memoized text is invalidated.
type normalized struct {
	charset string // Charset the part was decoded from.
	cte     string // Original content-transfer-encoding.
	text    string // Memoized normalized text.
	decoded bool
	err     *EncodingError
}

// Text returns the part body as Unicode text, decoding the part's charset
// with replacement-on-error semantics. Charset resolution precedence is the
// part's declared charset, then fallbackCharset (the message-level charset),
// then us-ascii.
//
// The first call records the part's original charset and
// content-transfer-encoding and memoizes the result; repeated calls are free
// and decoding an already-Unicode payload is a no-op. Decode failures are
// returned as an EncodingError value alongside best-effort text, never
// panicked or hidden.
func (p *Part) Text(fallbackCharset string) (string, *EncodingError) {
	if p.norm == nil {
		charset := p.ContentTypeParams["charset"]
		if charset == "" {
			charset = fallbackCharset
		}
		p.norm = &normalized{charset: charset, cte: p.ContentTransferEncoding}
	}
	if p.norm.decoded {
		return p.norm.text, p.norm.err
	}

	payload, err := p.decodeTransfer()
	if err != nil {
		// Keep the raw bytes, the charset decode below still replaces
		// anything invalid.
		p.norm.err = &EncodingError{Charset: p.norm.charset, Err: err}
		payload = p.rawBody
	}

	text, encErr := decodeCharset(p.norm.charset, payload)
	if p.norm.err == nil {
		p.norm.err = encErr
	}
	p.norm.text = text
	p.norm.decoded = true
	return p.norm.text, p.norm.err
}

// decodeCharset decodes payload as charset into UTF-8. Invalid or
// unrepresentable bytes become the Unicode replacement character. An unknown
// charset decodes as us-ascii and is reported as an EncodingError.
func decodeCharset(charset string, payload []byte) (string, *EncodingError) {
	switch strings.ToLower(charset) {
	case "", "us-ascii", "ascii":
		return asciiWithReplacement(payload), nil
	case "utf-8", "utf8":
		if utf8.Valid(payload) {
			return string(payload), nil
		}
		return strings.ToValidUTF8(string(payload), string(utf8.RuneError)), nil
	}
	enc := imapio.EncodingForCharset(charset)
	if enc == nil {
		return asciiWithReplacement(payload), &EncodingError{Charset: charset, Err: fmt.Errorf("unknown charset")}
	}
	buf, err := enc.NewDecoder().Bytes(payload)
	if err != nil {
		return asciiWithReplacement(payload), &EncodingError{Charset: charset, Err: err}
	}
	return strings.ToValidUTF8(string(buf), string(utf8.RuneError)), nil
}

func asciiWithReplacement(payload []byte) string {
	var sb strings.Builder
	for _, b := range payload {
		if b < 0x80 {
			sb.WriteByte(b)
		} else {
			sb.WriteRune(utf8.RuneError)
		}
	}
	return sb.String()
}

// SetText replaces the part's text. The new text is re-encoded into the
// charset and content-transfer-encoding captured at the part's first decode,
// so the part is written back the way it arrived. The memoized normalized
// text is invalidated.
func (p *Part) SetText(text string) error {
	if p.norm == nil {
		// Capture encoding metadata first so we know what to encode into.
		p.Text("")
	}

	payload := []byte(text)
	if enc := imapio.EncodingForCharset(p.norm.charset); enc != nil {
		buf, err := encoding.ReplaceUnsupported(enc.NewEncoder()).Bytes(payload)
		if err != nil {
			return &EncodingError{Charset: p.norm.charset, Err: err}
		}
		payload = buf
	}

	raw, err := encodeTransfer(p.norm.cte, payload)
	if err != nil {
		return err
	}
	p.rawBody = raw
	p.norm.text = ""
	p.norm.decoded = false
	p.norm.err = nil
	return nil
}
