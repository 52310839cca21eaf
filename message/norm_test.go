package message

import (
	"strings"
	"testing"
)

func parsePartString(t *testing.T, raw string) *Part {
	t.Helper()
	p, err := Parse(xlog(), []byte(raw))
	tcheckf(t, err, "parsing part")
	return p
}

func TestNormalizeCharsetPrecedence(t *testing.T) {
	// Part-declared charset wins.
	p := parsePartString(t, "Content-Type: text/plain; charset=iso-8859-1\r\n\r\ncaf\xe9")
	text, encErr := p.Text("utf-8")
	if encErr != nil {
		t.Fatalf("normalizing: %v", encErr)
	}
	tcompare(t, text, "café")

	// No part charset: the message-level charset applies.
	p = parsePartString(t, "Content-Type: text/plain\r\n\r\ncaf\xe9")
	text, encErr = p.Text("iso-8859-1")
	if encErr != nil {
		t.Fatalf("normalizing: %v", encErr)
	}
	tcompare(t, text, "café")

	// Neither: ascii, with non-ascii bytes replaced.
	p = parsePartString(t, "Content-Type: text/plain\r\n\r\ncaf\xe9")
	text, encErr = p.Text("")
	if encErr != nil {
		t.Fatalf("normalizing: %v", encErr)
	}
	tcompare(t, text, "caf�")
}

func TestNormalizeIdempotent(t *testing.T) {
	p := parsePartString(t, "Content-Type: text/plain; charset=utf-8\r\n\r\nhéllo ✓")
	text, encErr := p.Text("")
	if encErr != nil {
		t.Fatalf("normalizing: %v", encErr)
	}
	tcompare(t, text, "héllo ✓")

	// The result is memoized: a second access does not decode again, even
	// if the raw bytes change underneath.
	p.rawBody = []byte("something else")
	again, _ := p.Text("")
	tcompare(t, again, text)
}

func TestNormalizeUnknownCharset(t *testing.T) {
	p := parsePartString(t, "Content-Type: text/plain; charset=x-wingdings\r\n\r\nok \xff")
	text, encErr := p.Text("")
	if encErr == nil {
		t.Fatalf("expected EncodingError for unknown charset")
	}
	tcompare(t, encErr.Charset, "x-wingdings")
	// Best-effort text accompanies the error.
	tcompare(t, text, "ok �")

	// The error is remembered along with the memoized text.
	_, encErr2 := p.Text("")
	tcompare(t, encErr2, encErr)
}

func TestNormalizeInvalidUTF8(t *testing.T) {
	p := parsePartString(t, "Content-Type: text/plain; charset=utf-8\r\n\r\nbad \xff\xfe end")
	text, _ := p.Text("")
	if !strings.Contains(text, "�") || !strings.Contains(text, "bad ") || !strings.Contains(text, " end") {
		t.Fatalf("invalid utf-8 not replaced: %q", text)
	}
}

func TestSetTextReencodes(t *testing.T) {
	p := parsePartString(t, "Content-Type: text/plain; charset=iso-8859-1\r\nContent-Transfer-Encoding: quoted-printable\r\n\r\ncaf=E9")
	text, _ := p.Text("")
	tcompare(t, text, "café")

	err := p.SetText("café nouveau")
	tcheckf(t, err, "setting text")
	// Original charset and content-transfer-encoding are reapplied.
	tcompare(t, string(p.RawBody()), "caf=E9 nouveau")

	// The memoized text was invalidated and re-decodes to the new value.
	text, encErr := p.Text("")
	if encErr != nil {
		t.Fatalf("normalizing after edit: %v", encErr)
	}
	tcompare(t, text, "café nouveau")
}

func TestSetTextBase64(t *testing.T) {
	p := parsePartString(t, "Content-Type: text/plain; charset=utf-8\r\nContent-Transfer-Encoding: base64\r\n\r\naGVsbG8=")
	text, _ := p.Text("")
	tcompare(t, text, "hello")

	err := p.SetText("goodbye")
	tcheckf(t, err, "setting text")
	tcompare(t, p.ContentTransferEncoding, "BASE64")
	buf, err := p.DecodedBody()
	tcheckf(t, err, "decoding re-encoded body")
	tcompare(t, string(buf), "goodbye")
}

func TestSetTextBeforeText(t *testing.T) {
	// SetText without a prior Text still captures the encoding metadata
	// first, so write-back uses the part's original charset.
	p := parsePartString(t, "Content-Type: text/plain; charset=iso-8859-1\r\n\r\nold")
	err := p.SetText("café")
	tcheckf(t, err, "setting text")
	tcompare(t, string(p.RawBody()), "caf\xe9")
}
