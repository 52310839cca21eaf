// Package message parses MIME email messages into an owned, immutable part
// tree, normalizes per-part text to Unicode, and renders edited trees back to
// their wire form.
package message

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/quotedprintable"
	"net/textproto"
	"strings"

	"github.com/pes10k/gimap/imapio"
	"github.com/pes10k/gimap/mlog"
)

var (
	ErrBadContentType = errors.New("bad content-type")
	ErrHeader         = errors.New("bad message header")
)

var errMissingBoundaryParam = errors.New("missing/empty boundary content-type parameter")

// Part is a whole mail message, or a part of a multipart message.
//
// The tree is parsed once from raw bytes and not reparsed. Raw header bytes
// are kept per part so rendering an unmodified part is byte-faithful.
type Part struct {
	Header                  textproto.MIMEHeader
	MediaType               string            // From Content-Type, upper case, e.g. "TEXT". Empty if absent, treat as TEXT/PLAIN.
	MediaSubType            string            // Upper case, e.g. "PLAIN".
	ContentTypeParams       map[string]string // Lower-case keys, original-case values. Holds "charset" and "boundary".
	ContentTransferEncoding string            // Upper case, e.g. "BASE64". Empty if absent.

	Parts []*Part // Subparts if this is a multipart.

	rawHeader []byte // Original header block including terminating blank line.
	rawBody   []byte // Undecoded body, with content-transfer-encoding intact.

	// Set at first normalization, see norm.go.
	norm *normalized
}

// Parse parses a full message. Errors from malformed nested parts are logged
// and the offending part is kept as an opaque leaf, so a usable tree is
// returned whenever the top-level headers parse.
func Parse(log mlog.Log, data []byte) (*Part, error) {
	p, err := parsePart(data)
	if err != nil {
		return nil, err
	}
	p.walkMultipart(log)
	return p, nil
}

func parsePart(data []byte) (*Part, error) {
	header, body, err := splitHeader(data)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(bytes.NewReader(header))
	h, err := textproto.NewReader(br).ReadMIMEHeader()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrHeader, err)
	}

	p := &Part{
		Header:    h,
		rawHeader: header,
		rawBody:   body,
	}
	ct := h.Get("Content-Type")
	if ct != "" {
		mt, params, err := mime.ParseMediaType(ct)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadContentType, err)
		}
		t, st, _ := strings.Cut(mt, "/")
		p.MediaType = strings.ToUpper(t)
		p.MediaSubType = strings.ToUpper(st)
		p.ContentTypeParams = params
	}
	p.ContentTransferEncoding = strings.ToUpper(strings.TrimSpace(h.Get("Content-Transfer-Encoding")))
	return p, nil
}

// splitHeader splits raw message bytes into the header block (including the
// blank separator line) and the body. Messages without a blank line are all
// header.
func splitHeader(data []byte) (header, body []byte, err error) {
	for _, sep := range []string{"\r\n\r\n", "\n\n"} {
		if o := bytes.Index(data, []byte(sep)); o >= 0 {
			return data[:o+len(sep)], data[o+len(sep):], nil
		}
	}
	return data, nil, nil
}

// walkMultipart splits multipart bodies into subparts, recursively. Parts
// that fail to parse are logged and left as unparsed leaves.
func (p *Part) walkMultipart(log mlog.Log) {
	if p.MediaType != "MULTIPART" {
		return
	}
	bound := p.ContentTypeParams["boundary"]
	if bound == "" {
		log.Debugx("parsing multipart", errMissingBoundaryParam)
		return
	}
	for _, raw := range splitMultipart(p.rawBody, bound) {
		sp, err := parsePart(raw)
		if err != nil {
			log.Debugx("parsing subpart, keeping as opaque part", err)
			sp = &Part{rawHeader: nil, rawBody: raw}
		}
		sp.walkMultipart(log)
		p.Parts = append(p.Parts, sp)
	}
}

// splitMultipart returns the raw bytes of each part between boundary
// delimiter lines. Preamble and epilogue are discarded, as they are not part
// content.
func splitMultipart(body []byte, boundary string) [][]byte {
	delim := []byte("--" + boundary)
	var parts [][]byte
	var cur []byte
	in := false
	for _, line := range splitLines(body) {
		trimmed := bytes.TrimRight(line, "\r\n")
		if bytes.HasPrefix(trimmed, delim) {
			rest := trimmed[len(delim):]
			closing := bytes.HasPrefix(rest, []byte("--"))
			if in {
				// Strip the crlf belonging to the boundary line.
				cur = bytes.TrimSuffix(cur, []byte("\r\n"))
				cur = bytes.TrimSuffix(cur, []byte("\n"))
				parts = append(parts, cur)
				cur = nil
			}
			if closing {
				break
			}
			in = true
			continue
		}
		if in {
			cur = append(cur, line...)
		}
	}
	return parts
}

// splitLines splits into lines, each including its line ending.
func splitLines(data []byte) [][]byte {
	var lines [][]byte
	for len(data) > 0 {
		o := bytes.IndexByte(data, '\n')
		if o < 0 {
			lines = append(lines, data)
			break
		}
		lines = append(lines, data[:o+1])
		data = data[o+1:]
	}
	return lines
}

// Walk calls fn for this part and, in document order, all parts beneath it.
func (p *Part) Walk(fn func(*Part)) {
	fn(p)
	for _, sp := range p.Parts {
		sp.Walk(fn)
	}
}

// ContentType returns the lower-case "type/subtype" for the part, with
// "text/plain" for parts without a content-type header.
func (p *Part) ContentType() string {
	if p.MediaType == "" {
		return "text/plain"
	}
	return strings.ToLower(p.MediaType + "/" + p.MediaSubType)
}

// RawBody returns the undecoded body bytes, with any content-transfer-encoding
// intact.
func (p *Part) RawBody() []byte {
	return p.rawBody
}

// DecodedBody returns the body bytes with the content-transfer-encoding
// reversed but no charset decoding, the form attachments want.
func (p *Part) DecodedBody() ([]byte, error) {
	return p.decodeTransfer()
}

// decodeTransfer reverses the content-transfer-encoding of the raw body.
// Identity encodings (7bit, 8bit, binary, empty) return the raw bytes.
func (p *Part) decodeTransfer() ([]byte, error) {
	switch p.ContentTransferEncoding {
	case "BASE64":
		buf, err := io.ReadAll(base64.NewDecoder(base64.StdEncoding, newlineSkipper(p.rawBody)))
		if err != nil {
			return nil, fmt.Errorf("decoding base64 part: %v", err)
		}
		return buf, nil
	case "QUOTED-PRINTABLE":
		buf, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(p.rawBody)))
		if err != nil {
			return nil, fmt.Errorf("decoding quoted-printable part: %v", err)
		}
		return buf, nil
	}
	return p.rawBody, nil
}

// encodeTransfer applies a content-transfer-encoding to payload, the inverse
// of decodeTransfer.
func encodeTransfer(cte string, payload []byte) ([]byte, error) {
	switch cte {
	case "BASE64":
		var b bytes.Buffer
		bw := imapio.Base64Writer(&b)
		if _, err := bw.Write(payload); err != nil {
			return nil, fmt.Errorf("encoding base64 part: %v", err)
		}
		if err := bw.Close(); err != nil {
			return nil, fmt.Errorf("encoding base64 part: %v", err)
		}
		return b.Bytes(), nil
	case "QUOTED-PRINTABLE":
		var b bytes.Buffer
		qw := quotedprintable.NewWriter(&b)
		if _, err := qw.Write(payload); err != nil {
			return nil, fmt.Errorf("encoding quoted-printable part: %v", err)
		}
		if err := qw.Close(); err != nil {
			return nil, fmt.Errorf("encoding quoted-printable part: %v", err)
		}
		return b.Bytes(), nil
	}
	return payload, nil
}

func newlineSkipper(data []byte) io.Reader {
	s := strings.NewReplacer("\r", "", "\n", "").Replace(string(data))
	return strings.NewReader(s)
}

// DispositionFilename returns the content-disposition (lower case) and
// filename for the part. The filename has RFC 2047 encoded words decoded.
func (p *Part) DispositionFilename() (disposition, filename string) {
	cd := p.Header.Get("Content-Disposition")
	if cd == "" {
		return "", p.ContentTypeParams["name"]
	}
	disp, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return "", ""
	}
	name := params["filename"]
	if name == "" {
		name = p.ContentTypeParams["name"]
	}
	if decoded, err := wordDecoder.DecodeHeader(name); err == nil {
		name = decoded
	}
	return strings.ToLower(disp), name
}
